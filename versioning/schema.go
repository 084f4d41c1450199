package versioning

import (
	"context"
	"fmt"
	"slices"
)

type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeInteger   ColumnType = "integer"
	TypeFloat     ColumnType = "float"
	TypeNumeric   ColumnType = "numeric"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
	TypeDate      ColumnType = "date"
	TypeUUID      ColumnType = "uuid"
	TypeJSON      ColumnType = "json"
	TypeBytes     ColumnType = "bytes"
)

// Fixed column names of an archive table. The identity columns are stored
// under the same names as on the live table.
const (
	ColumnLogID     = "log_id"
	ColumnVersion   = "version"
	ColumnDeleted   = "deleted"
	ColumnUpdatedAt = "updated_at"
	ColumnData      = "data"
	ColumnActor     = "actor"
)

var archiveColumns = []string{
	ColumnLogID, ColumnVersion, ColumnDeleted,
	ColumnUpdatedAt, ColumnData, ColumnActor,
}

type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// TableSchema is an ordered description of a store-backed table.
type TableSchema struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

func (s TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}

	return Column{}, false
}

func (s TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))

	for i := range s.Columns {
		names[i] = s.Columns[i].Name
	}

	return names
}

// ConstraintChecker answers whether a set of columns carries a uniqueness
// guarantee on a table. Column order is not significant.
type ConstraintChecker interface {
	HasUniqueConstraint(
		ctx context.Context, table string, columns []string,
	) (bool, error)
}

// Normalizer converts a live value into the canonical form that should be
// stored in a snapshot.
type Normalizer func(v any) (any, error)

type RegisterRequest struct {
	Live        TableSchema
	Archive     TableSchema
	Identity    []string
	Ignore      []string
	Normalizers map[string]Normalizer
}

// Config is the validated pairing of a live table and its archive table.
// It's produced by Register and is safe to share between goroutines.
type Config struct {
	live        TableSchema
	archive     TableSchema
	identity    []string
	ignore      map[string]bool
	normalizers map[string]Normalizer
	pointer     bool
}

func (c Config) Live() TableSchema {
	return c.live
}

func (c Config) Archive() TableSchema {
	return c.archive
}

func (c Config) Identity() []string {
	return slices.Clone(c.identity)
}

func (c Config) Ignored(column string) bool {
	return c.ignore[column]
}

// HasPointer reports whether the live table has a log_id column that
// tracks the latest archive entry of the row.
func (c Config) HasPointer() bool {
	return c.pointer
}

// Register validates that the live and archive tables can be versioned
// around the given identity columns.
func Register(
	ctx context.Context, req RegisterRequest, checker ConstraintChecker,
) (Config, error) {
	if len(req.Identity) == 0 {
		return Config{}, Errorf(ErrCodeSchema,
			"no identity columns specified for %q", req.Live.Name)
	}

	cfg := Config{
		live:        req.Live,
		archive:     req.Archive,
		identity:    slices.Clone(req.Identity),
		ignore:      make(map[string]bool),
		normalizers: make(map[string]Normalizer),
	}

	if _, ok := req.Live.Column(ColumnLogID); ok {
		cfg.pointer = true
		cfg.ignore[ColumnLogID] = true
	}

	for _, name := range req.Ignore {
		if _, ok := req.Live.Column(name); !ok {
			return Config{}, Errorf(ErrCodeSchema,
				"ignored column %q doesn't exist in %q",
				name, req.Live.Name)
		}

		cfg.ignore[name] = true
	}

	// Restore addresses live rows by the primary key values in the
	// snapshot.
	for _, name := range req.Live.PrimaryKey {
		if cfg.ignore[name] {
			return Config{}, Errorf(ErrCodeSchema,
				"primary key column %q cannot be ignored", name)
		}
	}

	for name, fn := range req.Normalizers {
		if _, ok := req.Live.Column(name); !ok {
			return Config{}, Errorf(ErrCodeSchema,
				"normalized column %q doesn't exist in %q",
				name, req.Live.Name)
		}

		cfg.normalizers[name] = fn
	}

	for _, name := range req.Identity {
		if cfg.ignore[name] {
			return Config{}, Errorf(ErrCodeSchema,
				"identity column %q cannot be ignored", name)
		}

		liveCol, ok := req.Live.Column(name)
		if !ok {
			return Config{}, Errorf(ErrCodeSchema,
				"identity column %q doesn't exist in %q",
				name, req.Live.Name)
		}

		archiveCol, ok := req.Archive.Column(name)
		if !ok {
			return Config{}, Errorf(ErrCodeSchema,
				"archive table %q needs the %q column",
				req.Archive.Name, name)
		}

		if liveCol.Type != archiveCol.Type {
			return Config{}, Errorf(ErrCodeSchema,
				"type of column %q must match in %q and %q, got %s and %s",
				name, req.Live.Name, req.Archive.Name,
				liveCol.Type, archiveCol.Type)
		}
	}

	for _, name := range archiveColumns {
		if _, ok := req.Archive.Column(name); !ok {
			return Config{}, Errorf(ErrCodeSchema,
				"archive table %q needs the %q column",
				req.Archive.Name, name)
		}
	}

	versionCol, _ := req.Archive.Column(ColumnVersion)
	if versionCol.Type != TypeInteger {
		return Config{}, Errorf(ErrCodeSchema,
			"the %q column of %q must be an integer, got %s",
			ColumnVersion, req.Archive.Name, versionCol.Type)
	}

	liveUnique := sameColumns(req.Live.PrimaryKey, req.Identity)
	if !liveUnique {
		ok, err := checker.HasUniqueConstraint(ctx,
			req.Live.Name, req.Identity)
		if err != nil {
			return Config{}, fmt.Errorf(
				"check identity constraint on %q: %w",
				req.Live.Name, err)
		}

		liveUnique = ok
	}

	if !liveUnique {
		return Config{}, Errorf(ErrCodeSchema,
			"there is no unique constraint on the identity columns of %q",
			req.Live.Name)
	}

	versionKey := append(slices.Clone(req.Identity), ColumnVersion)

	ok, err := checker.HasUniqueConstraint(ctx, req.Archive.Name, versionKey)
	if err != nil {
		return Config{}, fmt.Errorf(
			"check version constraint on %q: %w",
			req.Archive.Name, err)
	}

	if !ok {
		return Config{}, Errorf(ErrCodeSchema,
			"there is no unique constraint on the version columns of %q",
			req.Archive.Name)
	}

	return cfg, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}

	sa := slices.Clone(a)
	sb := slices.Clone(b)

	slices.Sort(sa)
	slices.Sort(sb)

	return slices.Equal(sa, sb)
}
