package postgres

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/ttab/elephant-versionlog/versioning"
)

// DBTX is satisfied by pgx connections, pools, and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DataAccess implements versioning.DataAccess on top of pgx. Pass a
// transaction to make the live record mutation and the archive insert
// atomic.
type DataAccess struct {
	db DBTX
}

func New(db DBTX) *DataAccess {
	return &DataAccess{db: db}
}

var _ versioning.DataAccess = &DataAccess{}

// Select implements versioning.DataAccess.
func (da *DataAccess) Select(
	ctx context.Context, q versioning.SelectQuery,
) ([]versioning.Row, error) {
	var (
		b    strings.Builder
		args []any
	)

	b.WriteString("SELECT ")
	b.WriteString(columnList(q.Columns))
	b.WriteString(" FROM ")
	b.WriteString(TableIdentifier(q.Table))

	args = writeWhere(&b, q.Where, args)

	for i, o := range q.OrderBy {
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}

		b.WriteString(columnIdentifier(o.Column))

		if o.Desc {
			b.WriteString(" DESC")
		}
	}

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	rows, err := da.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", q.Table, err)
	}

	return collectRows(rows)
}

// Insert implements versioning.DataAccess.
func (da *DataAccess) Insert(
	ctx context.Context, table string, values versioning.Row,
	returning []string,
) (versioning.Row, error) {
	var b strings.Builder

	cols := slices.Sorted(maps.Keys(values))
	args := make([]any, len(cols))

	b.WriteString("INSERT INTO ")
	b.WriteString(TableIdentifier(table))

	if len(cols) == 0 {
		b.WriteString(" DEFAULT VALUES")
	} else {
		b.WriteString(" (")
		b.WriteString(columnList(cols))
		b.WriteString(") VALUES (")

		for i, col := range cols {
			if i > 0 {
				b.WriteString(", ")
			}

			fmt.Fprintf(&b, "$%d", i+1)

			args[i] = values[col]
		}

		b.WriteString(")")
	}

	if len(returning) == 0 {
		_, err := da.db.Exec(ctx, b.String(), args...)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		return versioning.Row{}, nil
	}

	b.WriteString(" RETURNING ")
	b.WriteString(columnList(returning))

	rows, err := da.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	result, err := collectRows(rows)
	if err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("no row returned from insert into %q", table)
	}

	return result[0], nil
}

// Update implements versioning.DataAccess.
func (da *DataAccess) Update(
	ctx context.Context, table string, key []versioning.Condition,
	values versioning.Row,
) (int64, error) {
	if len(key) == 0 {
		return 0, fmt.Errorf("refusing to update %q without a key", table)
	}

	var b strings.Builder

	cols := slices.Sorted(maps.Keys(values))
	args := make([]any, 0, len(cols)+len(key))

	b.WriteString("UPDATE ")
	b.WriteString(TableIdentifier(table))
	b.WriteString(" SET ")

	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}

		args = append(args, values[col])

		fmt.Fprintf(&b, "%s = $%d", columnIdentifier(col), len(args))
	}

	args = writeWhere(&b, key, args)

	tag, err := da.db.Exec(ctx, b.String(), args...)
	if err != nil {
		return 0, err //nolint:wrapcheck
	}

	return tag.RowsAffected(), nil
}

func writeWhere(
	b *strings.Builder, conds []versioning.Condition, args []any,
) []any {
	for i, c := range conds {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}

		if c.Value == nil {
			fmt.Fprintf(b, "%s IS NULL", columnIdentifier(c.Column))

			continue
		}

		args = append(args, c.Value)

		fmt.Fprintf(b, "%s = $%d", columnIdentifier(c.Column), len(args))
	}

	return args
}

func collectRows(rows pgx.Rows) ([]versioning.Row, error) {
	defer rows.Close()

	var result []versioning.Row

	fields := rows.FieldDescriptions()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}

		row := make(versioning.Row, len(fields))

		for i, fd := range fields {
			v, err := fromPG(values[i])
			if err != nil {
				return nil, fmt.Errorf("read %q value: %w", fd.Name, err)
			}

			row[fd.Name] = v
		}

		result = append(result, row)
	}

	err := rows.Err()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return result, nil
}

// fromPG converts the values that pgx returns for types without a natural
// Go representation. Numerics are returned as their exact decimal text.
func fromPG(v any) (any, error) {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val), nil
	case pgtype.Numeric:
		if !val.Valid {
			return nil, nil
		}

		text, err := val.Value()
		if err != nil {
			return nil, fmt.Errorf("encode numeric as text: %w", err)
		}

		return text, nil
	}

	return v, nil
}

// TableIdentifier quotes a table name, a schema qualified name is quoted
// part by part.
func TableIdentifier(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func columnIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func columnList(cols []string) string {
	quoted := make([]string, len(cols))

	for i := range cols {
		quoted[i] = columnIdentifier(cols[i])
	}

	return strings.Join(quoted, ", ")
}
