package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ttab/elephant-versionlog/events"
	"github.com/ttab/elephant-versionlog/internal"
	"github.com/ttab/elephant-versionlog/internal/keys"
	"github.com/ttab/elephant-versionlog/tables"
	"github.com/ttab/elephant-versionlog/versioning"
	"github.com/ttab/elephantine"
)

// Store gives the server access to the versioned tables.
type Store interface {
	Reader() versioning.DataAccess
	InTransaction(
		ctx context.Context, fn func(da versioning.DataAccess) error,
	) error
	IsVersionCollision(err error, archive string) bool
}

type Options struct {
	Logger *slog.Logger
	Engine *versioning.Engine
	Store  Store
	Tables *tables.Registry
	// Events receives a notification for every restore, defaults to
	// discarding them.
	Events            events.Publisher
	MetricsRegisterer prometheus.Registerer
}

// Server exposes the version history of registered tables over HTTP. All
// endpoints except restore are read only.
type Server struct {
	logger *slog.Logger
	engine *versioning.Engine
	store  Store
	tables *tables.Registry
	events events.Publisher

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("missing versioning engine")
	}

	if opts.Store == nil {
		return nil, errors.New("missing store")
	}

	if opts.Tables == nil {
		return nil, errors.New("missing table registry")
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Events == nil {
		opts.Events = events.Discard{}
	}

	if opts.MetricsRegisterer == nil {
		opts.MetricsRegisterer = prometheus.DefaultRegisterer
	}

	s := Server{
		logger: opts.Logger,
		engine: opts.Engine,
		store:  opts.Store,
		tables: opts.Tables,
		events: opts.Events,
	}

	prom := elephantine.NewMetricsHelper(opts.MetricsRegisterer)

	prom.CounterVec(&s.requests, prometheus.CounterOpts{
		Name: "versionlog_http_requests_total",
		Help: "Number of handled API requests.",
	}, []string{"route", "status"})

	prom.HistogramVec(&s.duration, prometheus.HistogramOpts{
		Name:    "versionlog_http_request_duration_seconds",
		Help:    "Duration of API requests.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"route"})

	if err := prom.Err(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &s, nil
}

// RegisterRoutes adds the API endpoints to the router.
func (s *Server) RegisterRoutes(router *httprouter.Router) {
	s.route(router, http.MethodGet, "/tables", s.listTables)
	s.route(router, http.MethodGet, "/tables/:table/versions", s.listVersions)
	s.route(router, http.MethodGet, "/tables/:table/version", s.getVersion)
	s.route(router, http.MethodGet, "/tables/:table/history", s.history)
	s.route(router, http.MethodGet, "/tables/:table/diff", s.diff)
	s.route(router, http.MethodGet, "/tables/:table/changes", s.changes)
	s.route(router, http.MethodPost, "/tables/:table/restore", s.restore)
}

type handlerFunc func(
	w http.ResponseWriter, r *http.Request, p httprouter.Params,
) error

func (s *Server) route(
	router *httprouter.Router, method string, path string, fn handlerFunc,
) {
	router.Handle(method, path, internal.RHandleFunc(
		func(w http.ResponseWriter, r *http.Request, p httprouter.Params) error {
			start := time.Now()

			err := fn(w, r, p)

			status := http.StatusOK
			if err != nil {
				err = s.httpError(r.Context(), path, err)
				status = internal.HTTPStatus(err)
			}

			s.requests.WithLabelValues(path, strconv.Itoa(status)).Inc()
			s.duration.WithLabelValues(path).Observe(
				time.Since(start).Seconds())

			return err
		}))
}

// httpError translates engine errors to HTTP errors.
func (s *Server) httpError(
	ctx context.Context, route string, err error,
) error {
	if internal.HTTPStatus(err) != http.StatusInternalServerError {
		return err
	}

	switch versioning.GetErrorCode(err) {
	case versioning.ErrCodeNotFound:
		return internal.HTTPErrorf(http.StatusNotFound, "%v", err)
	case versioning.ErrCodeIdentity:
		return internal.HTTPErrorf(http.StatusBadRequest, "%v", err)
	case versioning.ErrCodeRestore:
		return internal.HTTPErrorf(http.StatusUnprocessableEntity, "%v", err)
	case versioning.ErrCodeSchema, versioning.NoErrCode:
	}

	s.logger.ErrorContext(ctx, "request failed",
		internal.LogKeyRoute, route,
		elephantine.LogKeyError, err)

	return internal.HTTPErrorf(http.StatusInternalServerError,
		"internal error")
}

type recordRequest struct {
	Config   versioning.Config
	Identity versioning.Identity
	Selector versioning.Selector
}

func (s *Server) parseRequest(
	r *http.Request, p httprouter.Params,
) (recordRequest, error) {
	table := p.ByName("table")

	cfg, ok := s.tables.Get(table)
	if !ok {
		return recordRequest{}, internal.HTTPErrorf(http.StatusNotFound,
			"unknown table %q", table)
	}

	query := r.URL.Query()

	ident, err := keys.ParseIdentity(cfg, query["key"])
	if err != nil {
		return recordRequest{}, internal.HTTPErrorf(http.StatusBadRequest,
			"invalid record key: %v", err)
	}

	version, err := intParam(query.Get("version"))
	if err != nil {
		return recordRequest{}, internal.HTTPErrorf(http.StatusBadRequest,
			"invalid version: %v", err)
	}

	logID, err := intParam(query.Get("log_id"))
	if err != nil {
		return recordRequest{}, internal.HTTPErrorf(http.StatusBadRequest,
			"invalid log ID: %v", err)
	}

	elephantine.SetLogMetadata(r.Context(),
		internal.LogKeyTable, table,
	)

	return recordRequest{
		Config:   cfg,
		Identity: ident,
		Selector: keys.Selector(version, logID),
	}, nil
}

func intParam(v string) (int64, error) {
	if v == "" {
		return -1, nil
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err //nolint:wrapcheck
	}

	if n < 0 {
		return 0, errors.New("must not be negative")
	}

	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		return fmt.Errorf("write response: %w", err)
	}

	return nil
}

func (s *Server) listTables(
	w http.ResponseWriter, _ *http.Request, _ httprouter.Params,
) error {
	return writeJSON(w, http.StatusOK, map[string]any{
		"tables": s.tables.Names(),
	})
}

func (s *Server) listVersions(
	w http.ResponseWriter, r *http.Request, p httprouter.Params,
) error {
	req, err := s.parseRequest(r, p)
	if err != nil {
		return err
	}

	refs, err := s.engine.ListVersions(r.Context(), s.store.Reader(),
		req.Config, req.Identity)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return writeJSON(w, http.StatusOK, map[string]any{
		"versions": refs,
	})
}

func (s *Server) getVersion(
	w http.ResponseWriter, r *http.Request, p httprouter.Params,
) error {
	req, err := s.parseRequest(r, p)
	if err != nil {
		return err
	}

	entry, err := s.engine.GetEntry(r.Context(), s.store.Reader(),
		req.Config, req.Identity, req.Selector)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return writeJSON(w, http.StatusOK, entry)
}

func (s *Server) history(
	w http.ResponseWriter, r *http.Request, p httprouter.Params,
) error {
	req, err := s.parseRequest(r, p)
	if err != nil {
		return err
	}

	items, err := s.engine.GetAllVersions(r.Context(), s.store.Reader(),
		req.Config, req.Identity)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return writeJSON(w, http.StatusOK, map[string]any{
		"versions": items,
	})
}

func (s *Server) diff(
	w http.ResponseWriter, r *http.Request, p httprouter.Params,
) error {
	req, err := s.parseRequest(r, p)
	if err != nil {
		return err
	}

	from, err := intParam(r.URL.Query().Get("from"))
	if err != nil {
		return internal.HTTPErrorf(http.StatusBadRequest,
			"invalid from version: %v", err)
	}

	var cs versioning.ChangeSet

	if from >= 0 {
		cs, err = s.engine.DiffBetween(r.Context(), s.store.Reader(),
			req.Config, req.Identity, versioning.ByVersion(from),
			req.Selector)
	} else {
		cs, err = s.engine.DiffVersion(r.Context(), s.store.Reader(),
			req.Config, req.Identity, req.Selector)
	}

	if err != nil {
		return err //nolint:wrapcheck
	}

	return writeJSON(w, http.StatusOK, cs)
}

func (s *Server) changes(
	w http.ResponseWriter, r *http.Request, p httprouter.Params,
) error {
	req, err := s.parseRequest(r, p)
	if err != nil {
		return err
	}

	changes, err := s.engine.DiffAll(r.Context(), s.store.Reader(),
		req.Config, req.Identity)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return writeJSON(w, http.StatusOK, map[string]any{
		"changes": changes,
	})
}

func (s *Server) restore(
	w http.ResponseWriter, r *http.Request, p httprouter.Params,
) error {
	ctx := r.Context()

	req, err := s.parseRequest(r, p)
	if err != nil {
		return err
	}

	var actor *string

	if a := r.URL.Query().Get("actor"); a != "" {
		actor = &a
	}

	var res versioning.RestoreResult

	err = s.store.InTransaction(ctx, func(da versioning.DataAccess) error {
		restored, err := s.engine.Restore(ctx, da, req.Config,
			req.Identity, req.Selector, actor)
		if err != nil {
			return err //nolint:wrapcheck
		}

		res = restored

		return nil
	})
	if s.store.IsVersionCollision(err, req.Config.Archive().Name) {
		return internal.HTTPErrorf(http.StatusConflict,
			"the record was changed during the restore, try again")
	} else if err != nil {
		return err //nolint:wrapcheck
	}

	_, err = s.events.Publish(ctx, []events.ChangeEvent{
		events.RestoreEvent(req.Config, req.Identity, res),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to publish restore event",
			internal.LogKeyTable, req.Config.Live().Name,
			internal.LogKeyVersion, res.Entry.Version,
			elephantine.LogKeyError, err)
	}

	return writeJSON(w, http.StatusOK, res)
}
