package versioning

import (
	"context"
	"fmt"
)

// Insert creates a live record and logs its first snapshot. The record is
// read back from the store, so store-generated values such as serial
// primary keys are included in the snapshot.
func (e *Engine) Insert(
	ctx context.Context, da DataAccess, cfg Config,
	values Row, actor *string,
) (ArchiveEntry, error) {
	return e.insert(ctx, da, cfg, values, actor, "insert")
}

// Update applies the pending changes of a record to the live table and
// logs the resulting state. Values must hold the complete record.
//
// Nothing is logged when none of the versioned columns actually changed,
// the latest entry of the record is returned instead.
func (e *Engine) Update(
	ctx context.Context, da DataAccess, cfg Config,
	rec Record, actor *string,
) (ArchiveEntry, error) {
	return e.update(ctx, da, cfg, rec, actor, "update")
}

// SnapshotDeletion logs the state of a record that is about to be deleted.
// Removing the live row is left to the caller.
func (e *Engine) SnapshotDeletion(
	ctx context.Context, da DataAccess, cfg Config,
	rec Record, actor *string,
) (ArchiveEntry, error) {
	return e.snapshot(ctx, da, cfg, rec, actor, true, ReadPreChange, "delete")
}

func (e *Engine) insert(
	ctx context.Context, da DataAccess, cfg Config,
	values Row, actor *string, kind string,
) (ArchiveEntry, error) {
	for name := range values {
		if _, ok := cfg.live.Column(name); !ok {
			return ArchiveEntry{}, Errorf(ErrCodeSchema,
				"unknown column %q in %q", name, cfg.live.Name)
		}
	}

	row, err := da.Insert(ctx, cfg.live.Name, values,
		cfg.live.ColumnNames())
	if err != nil {
		return ArchiveEntry{}, err //nolint:wrapcheck
	}

	rec := Record{Values: row}

	entry, err := e.snapshot(ctx, da, cfg, rec, actor, false, ReadCurrent, kind)
	if err != nil {
		return ArchiveEntry{}, err
	}

	err = e.setPointer(ctx, da, cfg, rec, entry.LogID)
	if err != nil {
		return ArchiveEntry{}, err
	}

	return entry, nil
}

func (e *Engine) update(
	ctx context.Context, da DataAccess, cfg Config,
	rec Record, actor *string, kind string,
) (ArchiveEntry, error) {
	set := make(Row, len(rec.Changes))

	for _, c := range rec.Changes {
		if _, ok := cfg.live.Column(c.Column); !ok {
			return ArchiveEntry{}, Errorf(ErrCodeSchema,
				"change of unknown column %q in %q",
				c.Column, cfg.live.Name)
		}

		set[c.Column] = rec.Value(c.Column, ReadCurrent)
	}

	if len(set) > 0 {
		key := rowKey(cfg, rec, ReadPreChange)

		n, err := da.Update(ctx, cfg.live.Name, key, set)
		if err != nil {
			return ArchiveEntry{}, err //nolint:wrapcheck
		}

		if n == 0 {
			return ArchiveEntry{}, Errorf(ErrCodeNotFound,
				"no live record in %q matches the record key",
				cfg.live.Name)
		}
	}

	if kind == "update" && !IsModified(cfg, rec) {
		entry, ok, err := e.latestEntry(ctx, da, cfg,
			IdentityOf(cfg, rec, ReadCurrent))
		if err != nil {
			return ArchiveEntry{}, err
		}

		if ok {
			return entry, nil
		}
	}

	entry, err := e.snapshot(ctx, da, cfg, rec, actor, false, ReadCurrent, kind)
	if err != nil {
		return ArchiveEntry{}, err
	}

	err = e.setPointer(ctx, da, cfg, rec, entry.LogID)
	if err != nil {
		return ArchiveEntry{}, err
	}

	return entry, nil
}

// IsModified reports whether any of the pending changes of a record alters
// the value of a versioned column.
func IsModified(cfg Config, rec Record) bool {
	for _, c := range rec.Changes {
		if cfg.ignore[c.Column] {
			continue
		}

		if !valuesEqual(unwrapTuple(c.Old), unwrapTuple(c.New)) {
			return true
		}
	}

	return false
}

func (e *Engine) latestEntry(
	ctx context.Context, da DataAccess, cfg Config, ident Identity,
) (ArchiveEntry, bool, error) {
	version, ok, err := latestVersion(ctx, da, cfg, ident)
	if err != nil || !ok {
		return ArchiveEntry{}, false, err
	}

	entry, err := e.GetEntry(ctx, da, cfg, ident, ByVersion(version))
	if err != nil {
		return ArchiveEntry{}, false, err
	}

	return entry, true, nil
}

// Snapshot assembles an archive entry for the record and inserts it into
// the archive table. A version collision is reported as the unmodified
// store error.
func (e *Engine) Snapshot(
	ctx context.Context, da DataAccess, cfg Config, rec Record,
	actor *string, deleted bool, mode ReadMode,
) (ArchiveEntry, error) {
	kind := "update"
	if deleted {
		kind = "delete"
	}

	return e.snapshot(ctx, da, cfg, rec, actor, deleted, mode, kind)
}

func (e *Engine) snapshot(
	ctx context.Context, da DataAccess, cfg Config, rec Record,
	actor *string, deleted bool, mode ReadMode, kind string,
) (ArchiveEntry, error) {
	entry, err := e.Assemble(ctx, da, cfg, rec, actor, deleted, mode)
	if err != nil {
		return ArchiveEntry{}, err
	}

	err = e.insertEntry(ctx, da, cfg, &entry)
	if err != nil {
		return ArchiveEntry{}, err
	}

	e.snapshots.WithLabelValues(cfg.live.Name, kind).Inc()

	return entry, nil
}

func (e *Engine) setPointer(
	ctx context.Context, da DataAccess, cfg Config,
	rec Record, logID int64,
) error {
	if !cfg.pointer {
		return nil
	}

	_, err := da.Update(ctx, cfg.live.Name,
		rowKey(cfg, rec, ReadCurrent),
		Row{ColumnLogID: logID})
	if err != nil {
		return fmt.Errorf("update log pointer of %q: %w",
			cfg.live.Name, err)
	}

	return nil
}

// rowKey identifies the live row of a record, using the primary key if the
// table has one and the identity columns otherwise.
func rowKey(cfg Config, rec Record, mode ReadMode) []Condition {
	cols := cfg.live.PrimaryKey
	if len(cols) == 0 {
		cols = cfg.identity
	}

	key := make([]Condition, len(cols))

	for i, name := range cols {
		key[i] = Condition{
			Column: name,
			Value:  rec.Value(name, mode),
		}
	}

	return key
}
