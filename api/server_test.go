package api_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ttab/elephant-versionlog/api"
	"github.com/ttab/elephant-versionlog/events"
	"github.com/ttab/elephant-versionlog/postgres"
	"github.com/ttab/elephant-versionlog/tables"
	"github.com/ttab/elephant-versionlog/versioning"
	"github.com/ttab/elephant-versionlog/versioning/versiontest"
	"github.com/ttab/elephantine/test"
)

type memStore struct {
	store *versiontest.MemStore
}

func (s memStore) Reader() versioning.DataAccess {
	return s.store
}

func (s memStore) InTransaction(
	_ context.Context, fn func(da versioning.DataAccess) error,
) error {
	return fn(s.store)
}

func (s memStore) IsVersionCollision(err error, _ string) bool {
	return versiontest.IsUniqueViolation(err)
}

type memRegistrar struct {
	store *versiontest.MemStore
}

func (r memRegistrar) Register(
	ctx context.Context, opts postgres.RegisterOptions,
) (versioning.Config, error) {
	return versioning.Register(ctx, versioning.RegisterRequest{
		Live: versioning.TableSchema{
			Name: opts.Live,
			Columns: []versioning.Column{
				{Name: "id", Type: versioning.TypeInteger},
				{Name: "product_id", Type: versioning.TypeText},
				{Name: "name", Type: versioning.TypeText},
				{Name: "price", Type: versioning.TypeInteger},
				{Name: "log_id", Type: versioning.TypeInteger, Nullable: true},
			},
			PrimaryKey: []string{"id"},
		},
		Archive: versioning.TableSchema{
			Name: opts.Archive,
			Columns: []versioning.Column{
				{Name: "log_id", Type: versioning.TypeInteger},
				{Name: "version", Type: versioning.TypeInteger},
				{Name: "deleted", Type: versioning.TypeBoolean},
				{Name: "updated_at", Type: versioning.TypeTimestamp},
				{Name: "data", Type: versioning.TypeJSON},
				{Name: "actor", Type: versioning.TypeText, Nullable: true},
				{Name: "product_id", Type: versioning.TypeText},
			},
			PrimaryKey: []string{"log_id"},
		},
		Identity:    opts.Identity,
		Ignore:      opts.Ignore,
		Normalizers: opts.Normalizers,
	}, r.store)
}

type eventRecorder struct {
	events []events.ChangeEvent
}

func (r *eventRecorder) Publish(
	_ context.Context, evts []events.ChangeEvent,
) (int, error) {
	r.events = append(r.events, evts...)

	return len(evts), nil
}

type apiFixture struct {
	Server *httptest.Server
	Store  *versiontest.MemStore
	Events *eventRecorder
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()

	ctx := test.Context(t)

	store := versiontest.NewMemStore()

	store.AddTable("products", "id", nil)
	store.AddUnique("products", "products_product_id_key", "product_id")
	store.AddTable("products_log", "log_id", versioning.Row{"actor": nil})
	store.AddUnique("products_log", "products_log_version_key",
		"product_id", "version")

	registry, err := tables.RegisterAll(ctx, memRegistrar{store: store},
		[]tables.Definition{
			{
				Table:    "products",
				Identity: []string{"product_id"},
			},
		})
	test.Must(t, err, "register tables")

	logger := slog.New(test.NewLogHandler(t, slog.LevelError))
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	engine, err := versioning.NewEngine(versioning.EngineOptions{
		Logger:            logger,
		MetricsRegisterer: prometheus.NewRegistry(),
		Clock: func() time.Time {
			now = now.Add(time.Second)

			return now
		},
	})
	test.Must(t, err, "create engine")

	cfg, _ := registry.Get("products")

	entry, err := engine.Insert(ctx, store, cfg, versioning.Row{
		"product_id": "p1",
		"name":       "Desk lamp",
		"price":      int64(100),
	}, ptr("alice"))
	test.Must(t, err, "insert product")

	live := store.Rows("products")[0]

	_, err = engine.Update(ctx, store, cfg, versioning.Record{
		Values: versioning.Row{
			"id":         live["id"],
			"product_id": "p1",
			"name":       "Desk lamp",
			"price":      int64(120),
			"log_id":     entry.LogID,
		},
		Changes: []versioning.Change{
			{Column: "price", Old: int64(100), New: int64(120)},
		},
	}, ptr("bob"))
	test.Must(t, err, "update product")

	recorder := eventRecorder{}

	server, err := api.NewServer(api.Options{
		Logger:            logger,
		Engine:            engine,
		Store:             memStore{store: store},
		Tables:            registry,
		Events:            &recorder,
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	test.Must(t, err, "create API server")

	router := httprouter.New()

	server.RegisterRoutes(router)

	srv := httptest.NewServer(router)

	t.Cleanup(srv.Close)

	return apiFixture{
		Server: srv,
		Store:  store,
		Events: &recorder,
	}
}

func ptr[T any](v T) *T {
	return &v
}

func (f apiFixture) call(
	t *testing.T, method string, path string, query url.Values, out any,
) int {
	t.Helper()

	u := f.Server.URL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(test.Context(t), method, u, nil)
	test.Must(t, err, "create request")

	res, err := http.DefaultClient.Do(req)
	test.Must(t, err, "perform request")

	defer res.Body.Close()

	if res.StatusCode == http.StatusOK && out != nil {
		err := json.NewDecoder(res.Body).Decode(out)
		test.Must(t, err, "decode response")
	}

	return res.StatusCode
}

func TestListTables(t *testing.T) {
	f := newAPIFixture(t)

	var out struct {
		Tables []string `json:"tables"`
	}

	status := f.call(t, http.MethodGet, "/tables", nil, &out)

	test.Equal(t, http.StatusOK, status, "list tables")

	if diff := cmp.Diff([]string{"products"}, out.Tables); diff != "" {
		t.Errorf("tables mismatch (-want +got):\n%s", diff)
	}
}

func TestReadEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	key := url.Values{"key": []string{"product_id=p1"}}

	var versions struct {
		Versions []versioning.VersionRef `json:"versions"`
	}

	status := f.call(t, http.MethodGet, "/tables/products/versions",
		key, &versions)
	test.Equal(t, http.StatusOK, status, "list versions")

	wantRefs := []versioning.VersionRef{
		{LogID: 1, Version: 0, Actor: ptr("alice")},
		{LogID: 2, Version: 1, Actor: ptr("bob")},
	}

	if diff := cmp.Diff(wantRefs, versions.Versions); diff != "" {
		t.Errorf("versions mismatch (-want +got):\n%s", diff)
	}

	var entry versioning.ArchiveEntry

	status = f.call(t, http.MethodGet, "/tables/products/version",
		url.Values{
			"key":     key["key"],
			"version": []string{"0"},
		}, &entry)
	test.Equal(t, http.StatusOK, status, "get version")
	test.Equal[any](t, float64(100), entry.Data["price"],
		"return the first price")

	var cs versioning.ChangeSet

	status = f.call(t, http.MethodGet, "/tables/products/diff",
		url.Values{
			"key":     key["key"],
			"version": []string{"1"},
		}, &cs)
	test.Equal(t, http.StatusOK, status, "diff version")

	if diff := cmp.Diff(map[string]versioning.FieldChange{
		"price": {Prev: float64(100), This: float64(120)},
	}, cs.Change); diff != "" {
		t.Errorf("change mismatch (-want +got):\n%s", diff)
	}

	var changes struct {
		Changes []versioning.ChangeSet `json:"changes"`
	}

	status = f.call(t, http.MethodGet, "/tables/products/changes",
		key, &changes)
	test.Equal(t, http.StatusOK, status, "list changes")
	test.Equal(t, 2, len(changes.Changes), "one change set per version")
}

func TestReadErrors(t *testing.T) {
	f := newAPIFixture(t)

	cases := []struct {
		Name   string
		Path   string
		Query  url.Values
		Status int
	}{
		{
			Name:   "unknown table",
			Path:   "/tables/orders/versions",
			Query:  url.Values{"key": []string{"order_id=1"}},
			Status: http.StatusNotFound,
		},
		{
			Name:   "missing key",
			Path:   "/tables/products/versions",
			Status: http.StatusBadRequest,
		},
		{
			Name: "unknown version",
			Path: "/tables/products/version",
			Query: url.Values{
				"key":     []string{"product_id=p1"},
				"version": []string{"7"},
			},
			Status: http.StatusNotFound,
		},
		{
			Name:   "no selector",
			Path:   "/tables/products/version",
			Query:  url.Values{"key": []string{"product_id=p1"}},
			Status: http.StatusBadRequest,
		},
		{
			Name: "bad version",
			Path: "/tables/products/version",
			Query: url.Values{
				"key":     []string{"product_id=p1"},
				"version": []string{"first"},
			},
			Status: http.StatusBadRequest,
		},
	}

	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			status := f.call(t, http.MethodGet, c.Path, c.Query, nil)

			test.Equal(t, c.Status, status, "respond with the expected status")
		})
	}
}

func TestRestore(t *testing.T) {
	f := newAPIFixture(t)

	var res versioning.RestoreResult

	status := f.call(t, http.MethodPost, "/tables/products/restore",
		url.Values{
			"key":     []string{"product_id=p1"},
			"version": []string{"0"},
			"actor":   []string{"carol"},
		}, &res)
	test.Equal(t, http.StatusOK, status, "restore version")
	test.Equal(t, 2, res.Entry.Version, "log the restore as a new version")
	test.Equal(t, 0, res.RestoredFrom, "report the restored version")

	live := f.Store.Rows("products")[0]

	test.Equal[any](t, int64(100), live["price"], "restore the live price")

	if len(f.Events.events) != 1 {
		t.Fatalf("expected one published event, got %d",
			len(f.Events.events))
	}

	evt := f.Events.events[0]

	test.Equal(t, events.KindRestore, evt.Kind, "publish a restore event")
	test.Equal(t, 2, evt.Version, "publish the new version")
	test.Equal(t, "carol", *evt.Actor, "publish the actor")

	status = f.call(t, http.MethodPost, "/tables/products/restore",
		url.Values{
			"key":     []string{"product_id=p2"},
			"version": []string{"0"},
		}, nil)
	test.Equal(t, http.StatusNotFound, status,
		"fail to restore an unknown record")
	test.Equal(t, 1, len(f.Events.events), "only publish successful restores")
}
