// Package versiontest provides an in-memory store for testing code that
// uses the versioning engine.
package versiontest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/ttab/elephant-versionlog/versioning"
)

// MemStore is an in-memory stand-in for the database. It supports equality
// filtering and ordering as well as serial columns, column defaults and
// unique constraints. A MemStore is not safe for concurrent use.
type MemStore struct {
	tables map[string]*memTable
	// Selects is the number of Select calls made.
	Selects int
	// Inserts is the number of Insert calls made.
	Inserts int
}

type memTable struct {
	serial   string
	next     int64
	defaults versioning.Row
	unique   map[string][]string
	rows     []versioning.Row
}

// UniqueViolationError is returned when an insert violates a unique
// constraint.
type UniqueViolationError struct {
	Constraint string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("duplicate key value violates unique constraint %q",
		e.Constraint)
}

func NewMemStore() *MemStore {
	return &MemStore{
		tables: make(map[string]*memTable),
	}
}

// AddTable creates a table. The serial column, if any, is assigned
// increasing values starting at 1 when it isn't set on insert.
func (s *MemStore) AddTable(name string, serial string, defaults versioning.Row) {
	s.tables[name] = &memTable{
		serial:   serial,
		next:     1,
		defaults: defaults,
		unique:   make(map[string][]string),
	}
}

func (s *MemStore) AddUnique(table string, name string, columns ...string) {
	s.tables[table].unique[name] = columns
}

// DropUnique removes a unique constraint.
func (s *MemStore) DropUnique(table string, name string) {
	delete(s.tables[table].unique, name)
}

func (s *MemStore) Rows(table string) []versioning.Row {
	return s.tables[table].rows
}

func (s *MemStore) table(name string) (*memTable, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", name)
	}

	return t, nil
}

func (s *MemStore) HasUniqueConstraint(
	_ context.Context, table string, columns []string,
) (bool, error) {
	t, err := s.table(table)
	if err != nil {
		return false, err
	}

	want := slices.Sorted(slices.Values(columns))

	for _, cols := range t.unique {
		if slices.Equal(want, slices.Sorted(slices.Values(cols))) {
			return true, nil
		}
	}

	return false, nil
}

func (s *MemStore) Select(
	_ context.Context, q versioning.SelectQuery,
) ([]versioning.Row, error) {
	s.Selects++

	t, err := s.table(q.Table)
	if err != nil {
		return nil, err
	}

	var matches []versioning.Row

	for _, row := range t.rows {
		if matchRow(row, q.Where) {
			matches = append(matches, row)
		}
	}

	slices.SortStableFunc(matches, func(a, b versioning.Row) int {
		for _, o := range q.OrderBy {
			c := compareValues(a[o.Column], b[o.Column])
			if o.Desc {
				c = -c
			}

			if c != 0 {
				return c
			}
		}

		return 0
	})

	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}

	result := make([]versioning.Row, len(matches))

	for i, row := range matches {
		out := make(versioning.Row, len(q.Columns))

		for _, col := range q.Columns {
			out[col] = row[col]
		}

		result[i] = out
	}

	return result, nil
}

func (s *MemStore) Insert(
	_ context.Context, table string, values versioning.Row,
	returning []string,
) (versioning.Row, error) {
	s.Inserts++

	t, err := s.table(table)
	if err != nil {
		return nil, err
	}

	row := maps.Clone(t.defaults)
	if row == nil {
		row = make(versioning.Row)
	}

	maps.Copy(row, values)

	if t.serial != "" && row[t.serial] == nil {
		row[t.serial] = t.next
		t.next++
	}

	for name, cols := range t.unique {
		for _, existing := range t.rows {
			if sameValues(existing, row, cols) {
				return nil, &UniqueViolationError{Constraint: name}
			}
		}
	}

	t.rows = append(t.rows, row)

	out := make(versioning.Row, len(returning))

	for _, col := range returning {
		out[col] = row[col]
	}

	return out, nil
}

func (s *MemStore) Update(
	_ context.Context, table string, key []versioning.Condition,
	values versioning.Row,
) (int64, error) {
	t, err := s.table(table)
	if err != nil {
		return 0, err
	}

	var n int64

	for _, row := range t.rows {
		if !matchRow(row, key) {
			continue
		}

		maps.Copy(row, values)

		n++
	}

	return n, nil
}

// Drop removes the rows matching the key.
func (s *MemStore) Drop(table string, key ...versioning.Condition) {
	t := s.tables[table]

	t.rows = slices.DeleteFunc(t.rows, func(row versioning.Row) bool {
		return matchRow(row, key)
	})
}

func matchRow(row versioning.Row, conds []versioning.Condition) bool {
	for _, c := range conds {
		if compareValues(row[c.Column], c.Value) != 0 {
			return false
		}
	}

	return true
}

func sameValues(a, b versioning.Row, cols []string) bool {
	for _, col := range cols {
		if compareValues(a[col], b[col]) != 0 {
			return false
		}
	}

	return true
}

func compareValues(a, b any) int {
	a, b = normInt(a), normInt(b)

	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		if ok {
			return cmp.Compare(av, bv)
		}
	case string:
		bv, ok := b.(string)
		if ok {
			return cmp.Compare(av, bv)
		}
	case time.Time:
		bv, ok := b.(time.Time)
		if ok {
			return av.Compare(bv)
		}
	case nil:
		if b == nil {
			return 0
		}
	}

	if fmt.Sprint(a) == fmt.Sprint(b) {
		return 0
	}

	return -1
}

func normInt(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	}

	return v
}

// IsUniqueViolation checks if the error was caused by a unique constraint.
func IsUniqueViolation(err error) bool {
	var uv *UniqueViolationError

	return errors.As(err, &uv)
}

var (
	_ versioning.DataAccess        = &MemStore{}
	_ versioning.ConstraintChecker = &MemStore{}
)
