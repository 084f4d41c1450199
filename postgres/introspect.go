package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ttab/elephant-versionlog/versioning"
	"github.com/viccon/sturdyc"
)

// Introspector reads table schemas and unique constraints from the
// database catalog. Results are cached, as the schema is read every time a
// table is registered.
type Introspector struct {
	db      DBTX
	schemas *sturdyc.Client[versioning.TableSchema]
	unique  *sturdyc.Client[bool]
}

func NewIntrospector(db DBTX, ttl time.Duration) *Introspector {
	return &Introspector{
		db: db,
		schemas: sturdyc.New[versioning.TableSchema](500, 1, ttl, 10,
			sturdyc.WithEvictionInterval(ttl)),
		unique: sturdyc.New[bool](2000, 1, ttl, 10,
			sturdyc.WithEvictionInterval(ttl)),
	}
}

var _ versioning.ConstraintChecker = &Introspector{}

type RegisterOptions struct {
	Live     string
	Archive  string
	Identity []string
	Ignore   []string
	// Normalizers are applied to live values before they are stored in a
	// snapshot.
	Normalizers map[string]versioning.Normalizer
}

// Register reads the schemas of the live and archive tables and validates
// them for versioning.
func (in *Introspector) Register(
	ctx context.Context, opts RegisterOptions,
) (versioning.Config, error) {
	live, err := in.TableSchema(ctx, opts.Live)
	if err != nil {
		return versioning.Config{}, err
	}

	archive, err := in.TableSchema(ctx, opts.Archive)
	if err != nil {
		return versioning.Config{}, err
	}

	return versioning.Register(ctx, versioning.RegisterRequest{
		Live:        live,
		Archive:     archive,
		Identity:    opts.Identity,
		Ignore:      opts.Ignore,
		Normalizers: opts.Normalizers,
	}, in)
}

// TableSchema returns the columns and primary key of a table.
func (in *Introspector) TableSchema(
	ctx context.Context, table string,
) (versioning.TableSchema, error) {
	return in.schemas.GetOrFetch(ctx, table, //nolint:wrapcheck
		func(ctx context.Context) (versioning.TableSchema, error) {
			return in.loadSchema(ctx, table)
		})
}

func (in *Introspector) loadSchema(
	ctx context.Context, table string,
) (versioning.TableSchema, error) {
	schemaName, tableName := splitTableName(table)

	rows, err := in.db.Query(ctx, `
SELECT column_name::text, data_type::text, is_nullable = 'YES'
FROM information_schema.columns
WHERE table_schema::text = coalesce($1::text, current_schema()::text)
      AND table_name::text = $2::text
ORDER BY ordinal_position`, schemaName, tableName)
	if err != nil {
		return versioning.TableSchema{}, fmt.Errorf(
			"read columns of %q: %w", table, err)
	}

	schema := versioning.TableSchema{
		Name: table,
	}

	var (
		name, dataType string
		nullable       bool
	)

	_, err = pgx.ForEachRow(rows, []any{&name, &dataType, &nullable},
		func() error {
			schema.Columns = append(schema.Columns, versioning.Column{
				Name:     name,
				Type:     ColumnType(dataType),
				Nullable: nullable,
			})

			return nil
		})
	if err != nil {
		return versioning.TableSchema{}, fmt.Errorf(
			"read columns of %q: %w", table, err)
	}

	if len(schema.Columns) == 0 {
		return versioning.TableSchema{}, versioning.Errorf(
			versioning.ErrCodeSchema, "table %q doesn't exist", table)
	}

	pkRows, err := in.db.Query(ctx, `
SELECT a.attname::text
FROM pg_index AS i
     INNER JOIN pg_attribute AS a
           ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
WHERE i.indrelid = to_regclass($1) AND i.indisprimary
ORDER BY array_position(i.indkey::int2[], a.attnum)`, TableIdentifier(table))
	if err != nil {
		return versioning.TableSchema{}, fmt.Errorf(
			"read primary key of %q: %w", table, err)
	}

	pk, err := pgx.CollectRows(pkRows, pgx.RowTo[string])
	if err != nil {
		return versioning.TableSchema{}, fmt.Errorf(
			"read primary key of %q: %w", table, err)
	}

	schema.PrimaryKey = pk

	return schema, nil
}

// HasUniqueConstraint implements versioning.ConstraintChecker. Partial
// unique indexes don't count as they don't cover all rows.
func (in *Introspector) HasUniqueConstraint(
	ctx context.Context, table string, columns []string,
) (bool, error) {
	want := slices.Sorted(slices.Values(columns))
	key := table + "|" + strings.Join(want, ",")

	return in.unique.GetOrFetch(ctx, key, //nolint:wrapcheck
		func(ctx context.Context) (bool, error) {
			return in.loadUnique(ctx, table, want)
		})
}

func (in *Introspector) loadUnique(
	ctx context.Context, table string, want []string,
) (bool, error) {
	rows, err := in.db.Query(ctx, `
SELECT array_agg(a.attname::text ORDER BY a.attname::text)
FROM pg_index AS i
     INNER JOIN pg_attribute AS a
           ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
WHERE i.indrelid = to_regclass($1)
      AND i.indisunique
      AND i.indpred IS NULL
GROUP BY i.indexrelid`, TableIdentifier(table))
	if err != nil {
		return false, fmt.Errorf(
			"read unique indexes of %q: %w", table, err)
	}

	indexes, err := pgx.CollectRows(rows, pgx.RowTo[[]string])
	if err != nil {
		return false, fmt.Errorf(
			"read unique indexes of %q: %w", table, err)
	}

	for _, cols := range indexes {
		if slices.Equal(cols, want) {
			return true, nil
		}
	}

	return false, nil
}

// ColumnType maps an information_schema data type to a column type.
func ColumnType(dataType string) versioning.ColumnType {
	switch dataType {
	case "smallint", "integer", "bigint":
		return versioning.TypeInteger
	case "real", "double precision":
		return versioning.TypeFloat
	case "numeric":
		return versioning.TypeNumeric
	case "boolean":
		return versioning.TypeBoolean
	case "timestamp with time zone", "timestamp without time zone":
		return versioning.TypeTimestamp
	case "date":
		return versioning.TypeDate
	case "uuid":
		return versioning.TypeUUID
	case "json", "jsonb", "ARRAY":
		return versioning.TypeJSON
	case "bytea":
		return versioning.TypeBytes
	}

	return versioning.TypeText
}

func splitTableName(table string) (*string, string) {
	schema, name, ok := strings.Cut(table, ".")
	if !ok {
		return nil, table
	}

	return &schema, name
}
