package versioning_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ttab/elephant-versionlog/versioning"
	"github.com/ttab/elephant-versionlog/versioning/versiontest"
	"github.com/ttab/elephantine/test"
)

const (
	productsTable = "products"
	productsLog   = "products_log"
)

func productsSchema() versioning.TableSchema {
	return versioning.TableSchema{
		Name: productsTable,
		Columns: []versioning.Column{
			{Name: "id", Type: versioning.TypeInteger},
			{Name: "product_id", Type: versioning.TypeText},
			{Name: "name", Type: versioning.TypeText},
			{Name: "price", Type: versioning.TypeInteger},
			{Name: "tagline", Type: versioning.TypeText, Nullable: true},
			{Name: "launched", Type: versioning.TypeTimestamp, Nullable: true},
			{Name: "log_id", Type: versioning.TypeInteger, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	}
}

func productsLogSchema() versioning.TableSchema {
	return versioning.TableSchema{
		Name: productsLog,
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
	}
}

func productsRequest() versioning.RegisterRequest {
	return versioning.RegisterRequest{
		Live:     productsSchema(),
		Archive:  productsLogSchema(),
		Identity: []string{"product_id"},
	}
}

func newProductStore() *versiontest.MemStore {
	store := versiontest.NewMemStore()

	store.AddTable(productsTable, "id", nil)
	store.AddUnique(productsTable, "products_pkey", "id")
	store.AddUnique(productsTable, "products_product_id_key", "product_id")

	store.AddTable(productsLog, "log_id", versioning.Row{
		"actor": nil,
	})
	store.AddUnique(productsLog, "products_log_pkey", "log_id")
	store.AddUnique(productsLog, "products_log_version_key",
		"product_id", "version")

	return store
}

type testClock struct {
	now time.Time
}

// Now returns the current time and advances the clock by a second.
func (c *testClock) Now() time.Time {
	t := c.now

	c.now = c.now.Add(time.Second)

	return t
}

type fixture struct {
	Engine   *versioning.Engine
	Store    *versiontest.MemStore
	Config   versioning.Config
	Clock    *testClock
	Registry *prometheus.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	ctx := test.Context(t)
	store := newProductStore()

	cfg, err := versioning.Register(ctx, productsRequest(), store)
	test.Must(t, err, "register products table")

	clock := testClock{
		now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	reg := prometheus.NewRegistry()

	engine, err := versioning.NewEngine(versioning.EngineOptions{
		Logger:            slog.New(test.NewLogHandler(t, slog.LevelError)),
		MetricsRegisterer: reg,
		Clock:             clock.Now,
	})
	test.Must(t, err, "create engine")

	return fixture{
		Engine:   engine,
		Store:    store,
		Config:   cfg,
		Clock:    &clock,
		Registry: reg,
	}
}

func product(id string) versioning.Identity {
	return versioning.Identity{"product_id": id}
}

func actor(name string) *string {
	return &name
}

// liveRow returns the live row of a product.
func (f fixture) liveRow(t *testing.T, productID string) versioning.Row {
	t.Helper()

	for _, row := range f.Store.Rows(productsTable) {
		if row["product_id"] == productID {
			return row
		}
	}

	t.Fatalf("no live row for product %q", productID)

	return nil
}

// change builds a record that changes the given columns of a live row.
func change(current versioning.Row, values versioning.Row) versioning.Record {
	rec := versioning.Record{
		Values: make(versioning.Row, len(current)),
	}

	for k, v := range current {
		rec.Values[k] = v
	}

	for k, v := range values {
		rec.Values[k] = v
		rec.Changes = append(rec.Changes, versioning.Change{
			Column: k,
			Old:    current[k],
			New:    v,
		})
	}

	return rec
}

// counterValue sums the values of a counter whose labels include the given
// label values.
func (f fixture) counterValue(
	t *testing.T, name string, labels map[string]string,
) float64 {
	t.Helper()

	families, err := f.Registry.Gather()
	test.Must(t, err, "gather metrics")

	var sum float64

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}

	metrics:
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				want, ok := labels[lp.GetName()]
				if ok && want != lp.GetValue() {
					continue metrics
				}
			}

			sum += m.GetCounter().GetValue()
		}
	}

	return sum
}
