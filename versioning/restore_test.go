package versioning_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ttab/elephant-versionlog/versioning"
	"github.com/ttab/elephantine/test"
)

// seedProduct inserts p-1 and updates its price, leaving the product at
// version 1.
func seedProduct(t *testing.T, f fixture) {
	t.Helper()

	ctx := test.Context(t)

	_, err := f.Engine.Insert(ctx, f.Store, f.Config, versioning.Row{
		"product_id": "p-1",
		"name":       "Lamp",
		"price":      int64(100),
		"launched":   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}, actor("alice"))
	test.Must(t, err, "insert product")

	_, err = f.Engine.Update(ctx, f.Store, f.Config,
		change(f.liveRow(t, "p-1"), versioning.Row{
			"price": int64(120),
		}), actor("bob"))
	test.Must(t, err, "update price")
}

// withColumn registers the products table with an additional column.
func withColumn(t *testing.T, f fixture, col versioning.Column) versioning.Config {
	t.Helper()

	req := productsRequest()
	req.Live.Columns = append(req.Live.Columns, col)

	cfg, err := versioning.Register(test.Context(t), req, f.Store)
	test.Must(t, err, "register products with %q", col.Name)

	return cfg
}

func TestRestoreExisting(t *testing.T) {
	ctx := test.Context(t)
	f := newFixture(t)

	seedProduct(t, f)

	res, err := f.Engine.Restore(ctx, f.Store, f.Config,
		product("p-1"), versioning.ByVersion(0), actor("carol"))
	test.Must(t, err, "restore first version")

	test.Equal(t, false, res.Inserted, "update the existing row")
	test.Equal(t, 2, res.Entry.Version, "log the restore as a new version")
	test.Equal(t, "carol", *res.Entry.Actor, "log the restoring actor")
	test.Equal(t, 0, len(res.NullFilled), "no columns were added")
	test.Equal(t, 0, res.RestoredFrom, "report the restored version")

	live := f.liveRow(t, "p-1")

	test.Equal[any](t, int64(100), live["price"], "restore the price")
	test.Equal[any](t, res.Entry.LogID, live["log_id"],
		"point the live row to the restore entry")

	launched, ok := live["launched"].(time.Time)
	if !ok {
		t.Fatalf("expected launched to be restored as a time.Time, got %T",
			live["launched"])
	}

	test.Equal(t, true,
		launched.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)),
		"restore the launch time")

	v0, err := f.Engine.GetVersion(ctx, f.Store, f.Config,
		product("p-1"), versioning.ByVersion(0))
	test.Must(t, err, "get first version")

	delete(v0, versioning.ColumnLogID)

	if diff := cmp.Diff(versioning.Payload(v0), res.Entry.Data); diff != "" {
		t.Errorf("restored data mismatch (-want +got):\n%s", diff)
	}

	test.Equal(t, 1.0, f.counterValue(t, "versionlog_restores_total",
		map[string]string{"status": "ok"}), "count the restore")
	test.Equal(t, 1.0, f.counterValue(t, "versionlog_snapshots_total",
		map[string]string{"kind": "restore"}), "count the restore snapshot")
}

func TestRestoreDeleted(t *testing.T) {
	ctx := test.Context(t)
	f := newFixture(t)

	seedProduct(t, f)

	live := f.liveRow(t, "p-1")

	deletion, err := f.Engine.SnapshotDeletion(ctx, f.Store, f.Config,
		versioning.Record{Values: live}, nil)
	test.Must(t, err, "snapshot deletion")

	f.Store.Drop(productsTable, versioning.Condition{
		Column: "id", Value: live["id"],
	})

	res, err := f.Engine.Restore(ctx, f.Store, f.Config,
		product("p-1"), versioning.ByVersion(1), nil)
	test.Must(t, err, "restore deleted record")

	test.Equal(t, true, res.Inserted, "re-create the live row")
	test.Equal(t, deletion.Version+1, res.Entry.Version,
		"log the restore after the deletion")
	test.Equal(t, false, res.Entry.Deleted, "restore is not a deletion")

	restored := f.liveRow(t, "p-1")

	test.Equal[any](t, live["id"], restored["id"],
		"keep the primary key of the record")
	test.Equal[any](t, int64(120), restored["price"],
		"restore the selected version")
	test.Equal[any](t, res.Entry.LogID, restored["log_id"],
		"point the re-created row to the restore entry")
}

func TestRestoreNullableAddedColumn(t *testing.T) {
	ctx := test.Context(t)
	f := newFixture(t)

	seedProduct(t, f)

	cfg := withColumn(t, f, versioning.Column{
		Name: "sku", Type: versioning.TypeText, Nullable: true,
	})

	f.liveRow(t, "p-1")["sku"] = "SKU-1"

	res, err := f.Engine.Restore(ctx, f.Store, cfg,
		product("p-1"), versioning.ByVersion(0), nil)
	test.Must(t, err, "restore version without the column")

	if diff := cmp.Diff([]string{"sku"}, res.NullFilled); diff != "" {
		t.Errorf("null filled columns mismatch (-want +got):\n%s", diff)
	}

	test.Equal[any](t, nil, f.liveRow(t, "p-1")["sku"],
		"set the added column to null")
	test.Equal[any](t, nil, res.Entry.Data["sku"],
		"log the null value")
}

func TestRestoreNonNullableAddedColumn(t *testing.T) {
	ctx := test.Context(t)
	f := newFixture(t)

	seedProduct(t, f)

	cfg := withColumn(t, f, versioning.Column{
		Name: "stock", Type: versioning.TypeInteger,
	})

	entriesBefore := len(f.Store.Rows(productsLog))

	_, err := f.Engine.Restore(ctx, f.Store, cfg,
		product("p-1"), versioning.ByVersion(0), nil)
	test.MustNot(t, err, "restore version without a required column")
	test.Equal(t, versioning.ErrCodeRestore, versioning.GetErrorCode(err),
		"get restore error: %v", err)

	test.Equal(t, entriesBefore, len(f.Store.Rows(productsLog)),
		"log nothing")
	test.Equal[any](t, int64(120), f.liveRow(t, "p-1")["price"],
		"leave the live row alone")
	test.Equal(t, 1.0, f.counterValue(t, "versionlog_restores_total",
		map[string]string{"status": "unrestorable"}),
		"count the failed restore")
}

func TestRestoreMissingVersion(t *testing.T) {
	ctx := test.Context(t)
	f := newFixture(t)

	seedProduct(t, f)

	_, err := f.Engine.Restore(ctx, f.Store, f.Config,
		product("p-1"), versioning.ByVersion(7), nil)
	test.Equal(t, versioning.ErrCodeNotFound, versioning.GetErrorCode(err),
		"restore missing version: %v", err)

	_, err = f.Engine.Restore(ctx, f.Store, f.Config,
		product("p-1"), versioning.Selector{}, nil)
	test.Equal(t, versioning.ErrCodeIdentity, versioning.GetErrorCode(err),
		"restore without selector: %v", err)

	test.Equal(t, 1.0, f.counterValue(t, "versionlog_restores_total",
		map[string]string{"status": "not_found"}),
		"count the missing version")
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)

	values, nullFilled, err := versioning.Reconcile(f.Config, versioning.Payload{
		"id":         int64(1),
		"product_id": "p-1",
		"name":       "Lamp",
		"price":      int64(100),
		"tagline":    nil,
		"launched":   "2024-01-02T03:04:05Z",
		"retired":    true,
	})
	test.Must(t, err, "reconcile payload")

	test.Equal(t, 0, len(nullFilled), "no columns were added")
	test.Equal[any](t, nil, values["tagline"], "tagline is null")

	if _, ok := values["retired"]; ok {
		t.Errorf("expected columns that no longer exist to be dropped")
	}

	if _, ok := values["log_id"]; ok {
		t.Errorf("expected the log pointer to be left out")
	}

	_, _, err = versioning.Reconcile(f.Config, versioning.Payload{
		"id":         int64(1),
		"product_id": "p-1",
		"name":       "Lamp",
		"price":      int64(100),
		"launched":   "yesterday",
	})
	test.Equal(t, versioning.ErrCodeRestore, versioning.GetErrorCode(err),
		"reject unparseable logged values: %v", err)
}
