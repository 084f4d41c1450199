package main

import (
	"context"
	"fmt"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ttab/elephant-versionlog/api"
	"github.com/ttab/elephant-versionlog/internal"
	"github.com/ttab/elephant-versionlog/postgres"
	"github.com/ttab/elephant-versionlog/tables"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func serveCommand(c *cli.Context) error {
	defs, err := tables.LoadDefinitions(c.String("tables"))
	if err != nil {
		return err //nolint:wrapcheck
	}

	e, err := setUp(c)
	if err != nil {
		return err
	}

	defer func() {
		// Don't block for close
		go e.Close()
	}()

	logger := e.Logger
	grace := internal.NewGracefulShutdown(logger, c.Duration("shutdown-grace"))

	registry, err := tables.RegisterAll(c.Context, e.Introspector, defs)
	if err != nil {
		return fmt.Errorf("register tables: %w", err)
	}

	logger.Info("registered tables",
		internal.LogKeyCount, len(registry.Names()))

	pub, err := publisher(c, logger)
	if err != nil {
		return err
	}

	store := postgres.NewPoolStore(e.Pool)

	server, err := api.NewServer(api.Options{
		Logger:            logger,
		Engine:            e.Engine,
		Store:             store,
		Tables:            registry,
		Events:            pub,
		MetricsRegisterer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}

	router := httprouter.New()

	server.RegisterRoutes(router)

	health := internal.NewHealthServer(c.String("profile-addr"),
		prometheus.DefaultGatherer)

	health.AddReadyFunction("postgres", store.Ping)

	// Stop accepting requests on SIGTERM, the health server keeps running
	// until the API server has shut down.
	serveCtx := grace.CancelOnStop(c.Context)
	healthCtx := grace.CancelOnQuit(c.Context)

	group, gCtx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		err := health.ListenAndServe(healthCtx)
		if err != nil {
			return fmt.Errorf("health server: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		defer grace.Quit()

		logger.Debug("starting API server")

		err := api.ListenAndServe(serveCtx, c.String("addr"),
			c.StringSlice("cors-host"), router)
		if err != nil {
			return fmt.Errorf("API server: %w", err)
		}

		return nil
	})

	go func() {
		// Bring the other server down if one of them fails.
		<-gCtx.Done()
		grace.Quit()
	}()

	err = group.Wait()
	if err != nil {
		return err //nolint:wrapcheck
	}

	return nil
}
