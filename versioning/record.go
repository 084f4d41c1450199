package versioning

import (
	"slices"
)

// Row maps column names to values.
type Row map[string]any

// Identity holds the values of the logical identity columns of a record.
type Identity map[string]any

// Tuple is a raw attribute value as reported by some drivers for historical
// values. Only the first element is significant. Plain []any values are
// JSON arrays and are never unwrapped.
type Tuple []any

// Change is an uncommitted change of a live record column.
type Change struct {
	Column string
	Old    any
	New    any
}

// Record is a live record as observed by the engine. Values holds the
// present state, including any pending changes, and Changes lists the
// pending changes together with their prior values.
type Record struct {
	Values  Row
	Changes []Change
}

type ReadMode int

const (
	// ReadCurrent reads the present values of a record.
	ReadCurrent ReadMode = iota
	// ReadPreChange reads the values a record had before its pending
	// changes.
	ReadPreChange
)

func (m ReadMode) String() string {
	switch m {
	case ReadCurrent:
		return "current"
	case ReadPreChange:
		return "pre-change"
	}

	return "unknown"
}

// Value reads a column value using the given mode.
func (r Record) Value(column string, mode ReadMode) any {
	idx := slices.IndexFunc(r.Changes, func(c Change) bool {
		return c.Column == column
	})

	if mode == ReadPreChange && idx != -1 {
		return unwrapTuple(r.Changes[idx].Old)
	}

	v, ok := r.Values[column]
	if !ok && idx != -1 {
		v = r.Changes[idx].New
	}

	return unwrapTuple(v)
}

func unwrapTuple(v any) any {
	t, ok := v.(Tuple)
	if !ok {
		return v
	}

	if len(t) == 0 {
		return nil
	}

	return t[0]
}

// IdentityOf reads the identity of a record using the given mode.
func IdentityOf(cfg Config, rec Record, mode ReadMode) Identity {
	ident := make(Identity, len(cfg.identity))

	for _, name := range cfg.identity {
		ident[name] = rec.Value(name, mode)
	}

	return ident
}
