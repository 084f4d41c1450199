package versioning

import (
	"context"
	"fmt"
	"maps"

	"github.com/ttab/elephant-versionlog/internal"
)

type RestoreResult struct {
	// Inserted is true when the live record didn't exist and was
	// re-created.
	Inserted bool `json:"inserted"`
	// Entry is the new archive entry that the restore produced.
	Entry ArchiveEntry `json:"entry"`
	// RestoredFrom is the version that was restored.
	RestoredFrom int64 `json:"restored_from"`
	// NullFilled lists the columns that didn't exist when the restored
	// version was logged and were set to null.
	NullFilled []string `json:"null_filled"`
}

// Restore writes the data of a logged version back to the live table. The
// write is logged as a new version, history is never rewritten.
//
// Nothing is written if the version can't be reconciled with the current
// schema of the live table.
func (e *Engine) Restore(
	ctx context.Context, da DataAccess, cfg Config,
	ident Identity, sel Selector, actor *string,
) (RestoreResult, error) {
	res, err := e.restore(ctx, da, cfg, ident, sel, actor)

	status := "ok"

	switch {
	case IsErrorCode(err, ErrCodeNotFound):
		status = "not_found"
	case IsErrorCode(err, ErrCodeRestore):
		status = "unrestorable"
	case err != nil:
		status = "error"
	}

	e.restores.WithLabelValues(cfg.live.Name, status).Inc()

	return res, err
}

func (e *Engine) restore(
	ctx context.Context, da DataAccess, cfg Config,
	ident Identity, sel Selector, actor *string,
) (RestoreResult, error) {
	target, err := e.GetEntry(ctx, da, cfg, ident, sel)
	if err != nil {
		return RestoreResult{}, err
	}

	values, nullFilled, err := Reconcile(cfg, target.Data)
	if err != nil {
		return RestoreResult{}, err
	}

	for _, name := range nullFilled {
		e.logger.WarnContext(ctx,
			"restored version predates column, using NULL",
			internal.LogKeyTable, cfg.live.Name,
			internal.LogKeyColumn, name,
			internal.LogKeyVersion, target.Version)
	}

	restored := Record{Values: values}

	rows, err := da.Select(ctx, SelectQuery{
		Table:   cfg.live.Name,
		Columns: cfg.live.ColumnNames(),
		Where:   rowKey(cfg, restored, ReadCurrent),
		Limit:   1,
	})
	if err != nil {
		return RestoreResult{}, fmt.Errorf(
			"failed to read live record: %w", err)
	}

	if len(rows) == 0 {
		entry, err := e.insert(ctx, da, cfg, values, actor, "restore")
		if err != nil {
			return RestoreResult{}, err
		}

		return RestoreResult{
			Inserted:     true,
			Entry:        entry,
			RestoredFrom: target.Version,
			NullFilled:   nullFilled,
		}, nil
	}

	current := rows[0]
	rec := Record{
		Values: make(Row, len(current)),
	}

	maps.Copy(rec.Values, current)

	for _, col := range cfg.live.Columns {
		v, ok := values[col.Name]
		if !ok {
			continue
		}

		rec.Values[col.Name] = v
		rec.Changes = append(rec.Changes, Change{
			Column: col.Name,
			Old:    current[col.Name],
			New:    v,
		})
	}

	entry, err := e.update(ctx, da, cfg, rec, actor, "restore")
	if err != nil {
		return RestoreResult{}, err
	}

	return RestoreResult{
		Entry:        entry,
		RestoredFrom: target.Version,
		NullFilled:   nullFilled,
	}, nil
}

// Reconcile maps the data of a logged version onto the current columns of
// the live table. Columns that were added after the version was logged are
// set to null if they are nullable, and make the version unrestorable
// otherwise.
func Reconcile(cfg Config, data Payload) (Row, []string, error) {
	var nullFilled []string

	values := make(Row, len(cfg.live.Columns))

	for _, col := range cfg.live.Columns {
		if cfg.ignore[col.Name] {
			continue
		}

		raw, ok := data[col.Name]
		if !ok {
			if !col.Nullable {
				return nil, nil, Errorf(ErrCodeRestore,
					"the column %q of %q was added after the version was logged and isn't nullable, mark it as nullable to be able to restore",
					col.Name, cfg.live.Name)
			}

			values[col.Name] = nil
			nullFilled = append(nullFilled, col.Name)

			continue
		}

		v, err := ParseColumnValue(col, raw)
		if err != nil {
			return nil, nil, Errorf(ErrCodeRestore,
				"invalid logged value: %w", err)
		}

		values[col.Name] = v
	}

	return values, nullFilled, nil
}
