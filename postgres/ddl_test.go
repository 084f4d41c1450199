package postgres_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ttab/elephant-versionlog/postgres"
	"github.com/ttab/elephant-versionlog/versioning"
	"github.com/ttab/elephantine/test"
)

func TestArchiveTableDDL(t *testing.T) {
	live := versioning.TableSchema{
		Name: "public.products",
		Columns: []versioning.Column{
			{Name: "id", Type: versioning.TypeInteger},
			{Name: "market", Type: versioning.TypeText},
			{Name: "sku", Type: versioning.TypeUUID},
			{Name: "name", Type: versioning.TypeText},
		},
		PrimaryKey: []string{"id"},
	}

	got, err := postgres.ArchiveTableDDL(live,
		[]string{"market", "sku"}, "public.products_log")
	test.Must(t, err, "generate archive table DDL")

	want := `CREATE TABLE IF NOT EXISTS "public"."products_log" (
  "log_id" bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
  "market" text NOT NULL,
  "sku" uuid NOT NULL,
  "version" bigint NOT NULL,
  "deleted" boolean NOT NULL DEFAULT false,
  "updated_at" timestamptz NOT NULL,
  "actor" text,
  "data" jsonb NOT NULL,
  CONSTRAINT "products_log_version_key" UNIQUE ("market", "sku", "version")
);
`

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ArchiveTableDDL() mismatch (-want +got):\n%s", diff)
	}

	_, err = postgres.ArchiveTableDDL(live, []string{"missing"}, "products_log")
	test.MustNot(t, err, "generate DDL for an unknown identity column")

	_, err = postgres.ArchiveTableDDL(live, nil, "products_log")
	test.MustNot(t, err, "generate DDL without identity columns")
}

func TestNumericIdentityDDL(t *testing.T) {
	live := versioning.TableSchema{
		Name: "batches",
		Columns: []versioning.Column{
			{Name: "batch_no", Type: versioning.TypeNumeric},
		},
	}

	got, err := postgres.ArchiveTableDDL(live,
		[]string{"batch_no"}, "batches_log")
	test.Must(t, err, "generate archive table DDL")

	if !strings.Contains(got, `"batch_no" numeric NOT NULL`) {
		t.Errorf("expected an exact numeric identity column, got:\n%s", got)
	}

	test.Equal(t, versioning.TypeNumeric, postgres.ColumnType("numeric"),
		"introspect numeric as exact")
	test.Equal(t, versioning.TypeFloat, postgres.ColumnType("double precision"),
		"introspect floating point types as floats")
}

func TestVersionConstraintName(t *testing.T) {
	test.Equal(t, "products_log_version_key",
		postgres.VersionConstraintName("products_log"),
		"use the table name")
	test.Equal(t, "products_log_version_key",
		postgres.VersionConstraintName("shop.products_log"),
		"drop the schema")
}

func TestIsVersionCollision(t *testing.T) {
	err := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "products_log_version_key",
	}

	test.Equal(t, true, postgres.IsVersionCollision(err, "products_log"),
		"match the version constraint")
	test.Equal(t, false, postgres.IsVersionCollision(err, "orders_log"),
		"ignore other archives")

	renamed := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "products_history_uniq",
		TableName:      "products_history",
	}

	test.Equal(t, true,
		postgres.IsVersionCollision(renamed, "shop.products_history"),
		"match unique violations on the archive table")
	test.Equal(t, false,
		postgres.IsVersionCollision(&pgconn.PgError{
			Code:      "23505",
			TableName: "products",
		}, "products_history"),
		"ignore unique violations on other tables")
	test.Equal(t, true, postgres.IsUniqueViolation(err),
		"detect unique violations")
	test.Equal(t, false, postgres.IsUniqueViolation(
		&pgconn.PgError{Code: "23503"}),
		"ignore other errors")
}
