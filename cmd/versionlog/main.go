package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ttab/elephant-versionlog/events"
	"github.com/ttab/elephant-versionlog/export"
	"github.com/ttab/elephant-versionlog/internal"
	"github.com/ttab/elephant-versionlog/internal/cmd"
	"github.com/ttab/elephant-versionlog/internal/keys"
	"github.com/ttab/elephant-versionlog/postgres"
	"github.com/ttab/elephant-versionlog/tables"
	"github.com/ttab/elephant-versionlog/versioning"
	"github.com/ttab/elephantine"
	"github.com/ttab/elephantine/pg"
	"github.com/urfave/cli/v2"
)

func main() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to load env file", elephantine.LogKeyError, err)
		os.Exit(1)
	}

	recordFlags := slices.Concat(cmd.TableFlags(), cmd.BackendFlags(),
		[]cli.Flag{
			&cli.StringSliceFlag{
				Name:     "key",
				Usage:    "Identity value of the record as column=value",
				Required: true,
			},
		})

	selectorFlags := slices.Concat(recordFlags, []cli.Flag{
		&cli.Int64Flag{
			Name:  "version",
			Value: -1,
		},
		&cli.Int64Flag{
			Name:  "log-id",
			Value: -1,
		},
	})

	app := cli.App{
		Name:  "versionlog",
		Usage: "Inspect and restore the version history of table records",
		Commands: []*cli.Command{
			{
				Name:        "migrate",
				Description: "Applies tern migrations to the database",
				Action:      migrateCommand,
				Flags: append(cmd.BackendFlags(),
					&cli.StringFlag{
						Name:     "migrations",
						Usage:    "Directory with the migration files",
						Required: true,
					},
				),
			},
			{
				Name:        "archive-ddl",
				Description: "Prints the statement that creates the archive table",
				Action:      archiveDDLCommand,
				Flags: append(cmd.TableFlags(),
					cmd.BackendFlags()...),
			},
			{
				Name:        "validate",
				Description: "Checks that a table can be versioned",
				Action:      validateCommand,
				Flags: append(cmd.TableFlags(),
					cmd.BackendFlags()...),
			},
			{
				Name:        "list",
				Description: "Lists the versions of a record",
				Action:      listCommand,
				Flags:       recordFlags,
			},
			{
				Name:        "get",
				Description: "Prints the data of a version",
				Action:      getCommand,
				Flags:       selectorFlags,
			},
			{
				Name:        "history",
				Description: "Prints all versions of a record",
				Action:      historyCommand,
				Flags:       recordFlags,
			},
			{
				Name:        "diff",
				Description: "Prints the changes made by a version",
				Action:      diffCommand,
				Flags: slices.Concat(selectorFlags, []cli.Flag{
					&cli.Int64Flag{
						Name:  "from",
						Usage: "Compare with this version instead of the previous one",
						Value: -1,
					},
				}),
			},
			{
				Name:        "diff-all",
				Description: "Prints the changes made by every version of a record",
				Action:      diffAllCommand,
				Flags:       recordFlags,
			},
			{
				Name:        "restore",
				Description: "Writes a logged version back to the live table",
				Action:      restoreCommand,
				Flags: slices.Concat(selectorFlags, cmd.EventFlags(),
					[]cli.Flag{
						&cli.StringFlag{
							Name:  "actor",
							Usage: "Actor to record for the restore",
						},
					}),
			},
			{
				Name:        "export",
				Description: "Exports the history of a record to S3",
				Action:      exportCommand,
				Flags: slices.Concat(recordFlags, cmd.ExportFlags(),
					cmd.EventFlags()),
			},
			{
				Name:        "serve",
				Description: "Serves the version history API for a set of tables",
				Action:      serveCommand,
				Flags:       slices.Concat(cmd.BackendFlags(), cmd.EventFlags(), cmd.ServeFlags()),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("failed to run command",
			elephantine.LogKeyError, err)
		os.Exit(1)
	}
}

type env struct {
	Logger       *slog.Logger
	Pool         *pgxpool.Pool
	Introspector *postgres.Introspector
	Engine       *versioning.Engine
}

func (e env) Close() {
	e.Pool.Close()
}

func setUp(c *cli.Context) (env, error) {
	conf, err := cmd.BackendConfigFromContext(c)
	if err != nil {
		return env{}, fmt.Errorf("invalid backend configuration: %w", err)
	}

	logger := internal.SetUpLogger(conf.LogLevel, os.Stderr)

	pool, err := internal.ConnectPool(c.Context, conf.DB, "versionlog")
	if err != nil {
		return env{}, err //nolint:wrapcheck
	}

	engine, err := versioning.NewEngine(versioning.EngineOptions{
		Logger:            logger,
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	if err != nil {
		pool.Close()

		return env{}, fmt.Errorf("create versioning engine: %w", err)
	}

	return env{
		Logger:       logger,
		Pool:         pool,
		Introspector: postgres.NewIntrospector(pool, conf.SchemaCacheTTL),
		Engine:       engine,
	}, nil
}

func register(c *cli.Context, e env) (versioning.Config, error) {
	tc, err := cmd.TableConfigFromContext(c)
	if err != nil {
		return versioning.Config{}, fmt.Errorf("invalid table configuration: %w", err)
	}

	def := tables.Definition{
		Table:       tc.Table,
		Archive:     tc.Archive,
		Identity:    tc.Identity,
		Ignore:      tc.Ignore,
		Normalizers: tc.Normalizers,
	}

	opts, err := def.RegisterOptions()
	if err != nil {
		return versioning.Config{}, fmt.Errorf("invalid table configuration: %w", err)
	}

	cfg, err := e.Introspector.Register(c.Context, opts)
	if err != nil {
		return versioning.Config{}, fmt.Errorf("register %q: %w", tc.Table, err)
	}

	return cfg, nil
}

func recordSetUp(
	c *cli.Context,
) (env, versioning.Config, versioning.Identity, error) {
	e, err := setUp(c)
	if err != nil {
		return env{}, versioning.Config{}, nil, err
	}

	cfg, err := register(c, e)
	if err != nil {
		e.Close()

		return env{}, versioning.Config{}, nil, err
	}

	ident, err := keys.ParseIdentity(cfg, c.StringSlice("key"))
	if err != nil {
		e.Close()

		return env{}, versioning.Config{}, nil, err //nolint:wrapcheck
	}

	return e, cfg, ident, nil
}

// publisher creates an EventBridge publisher if an event bus has been
// configured.
func publisher(c *cli.Context, logger *slog.Logger) (events.Publisher, error) {
	conf := cmd.EventConfigFromContext(c)
	if conf.EventBus == "" {
		return events.Discard{}, nil
	}

	client, err := events.EventBridgeClient(c.Context)
	if err != nil {
		return nil, fmt.Errorf("create EventBridge client: %w", err)
	}

	pub, err := events.NewEventBridge(client, events.EventBridgeOptions{
		Logger:            logger,
		EventBusName:      conf.EventBus,
		Source:            conf.Source,
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	if err != nil {
		return nil, fmt.Errorf("create event publisher: %w", err)
	}

	return pub, nil
}

func publish(
	c *cli.Context, logger *slog.Logger, pub events.Publisher,
	evt events.ChangeEvent,
) {
	_, err := pub.Publish(c.Context, []events.ChangeEvent{evt})
	if err != nil {
		logger.Error("failed to publish change event",
			internal.LogKeyTable, evt.Table,
			internal.LogKeyVersion, evt.Version,
			elephantine.LogKeyError, err)
	}
}

func selector(c *cli.Context) versioning.Selector {
	return keys.Selector(c.Int64("version"), c.Int64("log-id"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)

	enc.SetIndent("", "  ")

	err := enc.Encode(v)
	if err != nil {
		return fmt.Errorf("write JSON output: %w", err)
	}

	return nil
}

func migrateCommand(c *cli.Context) error {
	e, err := setUp(c)
	if err != nil {
		return err
	}

	defer e.Close()

	version, err := internal.Migrate(c.Context, e.Logger, e.Pool,
		os.DirFS(c.String("migrations")))
	if err != nil {
		return err //nolint:wrapcheck
	}

	e.Logger.Info("database is up to date",
		internal.LogKeyVersion, version)

	return nil
}

func archiveDDLCommand(c *cli.Context) error {
	tc, err := cmd.TableConfigFromContext(c)
	if err != nil {
		return fmt.Errorf("invalid table configuration: %w", err)
	}

	e, err := setUp(c)
	if err != nil {
		return err
	}

	defer e.Close()

	live, err := e.Introspector.TableSchema(c.Context, tc.Table)
	if err != nil {
		return fmt.Errorf("read schema of %q: %w", tc.Table, err)
	}

	ddl, err := postgres.ArchiveTableDDL(live, tc.Identity, tc.Archive)
	if err != nil {
		return fmt.Errorf("generate archive table: %w", err)
	}

	_, err = fmt.Fprint(os.Stdout, ddl)
	if err != nil {
		return fmt.Errorf("write statement: %w", err)
	}

	return nil
}

func validateCommand(c *cli.Context) error {
	e, err := setUp(c)
	if err != nil {
		return err
	}

	defer e.Close()

	cfg, err := register(c, e)
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"table":    cfg.Live().Name,
		"archive":  cfg.Archive().Name,
		"identity": cfg.Identity(),
		"pointer":  cfg.HasPointer(),
	})
}

func listCommand(c *cli.Context) error {
	e, cfg, ident, err := recordSetUp(c)
	if err != nil {
		return err
	}

	defer e.Close()

	refs, err := e.Engine.ListVersions(c.Context,
		postgres.New(e.Pool), cfg, ident)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return printJSON(refs)
}

func getCommand(c *cli.Context) error {
	e, cfg, ident, err := recordSetUp(c)
	if err != nil {
		return err
	}

	defer e.Close()

	payload, err := e.Engine.GetVersion(c.Context,
		postgres.New(e.Pool), cfg, ident, selector(c))
	if err != nil {
		return err //nolint:wrapcheck
	}

	return printJSON(payload)
}

func historyCommand(c *cli.Context) error {
	e, cfg, ident, err := recordSetUp(c)
	if err != nil {
		return err
	}

	defer e.Close()

	items, err := e.Engine.GetAllVersions(c.Context,
		postgres.New(e.Pool), cfg, ident)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return printJSON(items)
}

func diffCommand(c *cli.Context) error {
	e, cfg, ident, err := recordSetUp(c)
	if err != nil {
		return err
	}

	defer e.Close()

	da := postgres.New(e.Pool)

	var cs versioning.ChangeSet

	if from := c.Int64("from"); from >= 0 {
		cs, err = e.Engine.DiffBetween(c.Context, da, cfg, ident,
			versioning.ByVersion(from), selector(c))
	} else {
		cs, err = e.Engine.DiffVersion(c.Context, da, cfg, ident,
			selector(c))
	}

	if err != nil {
		return err //nolint:wrapcheck
	}

	return printJSON(cs)
}

func diffAllCommand(c *cli.Context) error {
	e, cfg, ident, err := recordSetUp(c)
	if err != nil {
		return err
	}

	defer e.Close()

	changes, err := e.Engine.DiffAll(c.Context,
		postgres.New(e.Pool), cfg, ident)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return printJSON(changes)
}

func restoreCommand(c *cli.Context) error {
	e, cfg, ident, err := recordSetUp(c)
	if err != nil {
		return err
	}

	defer e.Close()

	pub, err := publisher(c, e.Logger)
	if err != nil {
		return err
	}

	var actor *string

	if c.IsSet("actor") {
		a := c.String("actor")
		actor = &a
	}

	var res versioning.RestoreResult

	err = pg.WithTX(c.Context, e.Pool, func(tx pgx.Tx) error {
		r, err := e.Engine.Restore(c.Context, postgres.New(tx),
			cfg, ident, selector(c), actor)
		if err != nil {
			return err //nolint:wrapcheck
		}

		res = r

		return nil
	})

	switch {
	case postgres.IsVersionCollision(err, cfg.Archive().Name):
		return errors.New(
			"the record was changed during the restore, try again")
	case err != nil:
		return fmt.Errorf("restore record: %w", err)
	}

	if len(res.NullFilled) > 0 {
		e.Logger.Warn("columns were added after the restored version",
			internal.LogKeyTable, cfg.Live().Name,
			internal.LogKeyColumn, res.NullFilled)
	}

	publish(c, e.Logger, pub, events.RestoreEvent(cfg, ident, res))

	return printJSON(res)
}

func exportCommand(c *cli.Context) error {
	e, cfg, ident, err := recordSetUp(c)
	if err != nil {
		return err
	}

	defer e.Close()

	conf := cmd.ExportConfigFromContext(c)

	pub, err := publisher(c, e.Logger)
	if err != nil {
		return err
	}

	client, err := export.S3Client(c.Context, conf.S3Options)
	if err != nil {
		return fmt.Errorf("create S3 client: %w", err)
	}

	exporter, err := export.NewExporter(export.Options{
		Logger:            e.Logger,
		Client:            client,
		Bucket:            conf.Bucket,
		Prefix:            conf.Prefix,
		Engine:            e.Engine,
		Concurrency:       conf.Concurrency,
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	if err != nil {
		return fmt.Errorf("create exporter: %w", err)
	}

	err = exporter.CheckBucket(c.Context)
	if err != nil {
		return err //nolint:wrapcheck
	}

	manifest, err := exporter.ExportHistory(c.Context,
		postgres.New(e.Pool), cfg, ident)
	if err != nil {
		return fmt.Errorf("export history: %w", err)
	}

	publish(c, e.Logger, pub, events.ExportEvent(
		exporter.ManifestKey(cfg, ident), manifest))

	return printJSON(manifest)
}
