package versioning

import (
	"context"
	"fmt"
	"maps"
	"strconv"

	"github.com/ttab/elephant-versionlog/internal"
)

// Selector identifies an archive entry by version or log ID. If both are
// set the version is used.
type Selector struct {
	Version *int64
	LogID   *int64
}

func ByVersion(v int64) Selector {
	return Selector{Version: &v}
}

func ByLogID(id int64) Selector {
	return Selector{LogID: &id}
}

func (s Selector) String() string {
	switch {
	case s.Version != nil:
		return "version=" + strconv.FormatInt(*s.Version, 10)
	case s.LogID != nil:
		return "log_id=" + strconv.FormatInt(*s.LogID, 10)
	}

	return "none"
}

type VersionRef struct {
	LogID   int64   `json:"log_id"`
	Version int64   `json:"version"`
	Actor   *string `json:"actor"`
}

type HistoryItem struct {
	LogID   int64   `json:"log_id"`
	Version int64   `json:"version"`
	Actor   *string `json:"actor"`
	Record  Payload `json:"record"`
}

// ListVersions lists the versions of a record in ascending order.
func (e *Engine) ListVersions(
	ctx context.Context, da DataAccess, cfg Config, ident Identity,
) ([]VersionRef, error) {
	conds, err := identityConditions(cfg, ident)
	if err != nil {
		return nil, err
	}

	rows, err := da.Select(ctx, SelectQuery{
		Table:   cfg.archive.Name,
		Columns: []string{ColumnLogID, ColumnVersion, ColumnActor},
		Where:   conds,
		OrderBy: []Order{{Column: ColumnVersion}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	refs := make([]VersionRef, len(rows))

	for i, row := range rows {
		logID, err := toInt64(row[ColumnLogID])
		if err != nil {
			return nil, fmt.Errorf("read log ID: %w", err)
		}

		version, err := toInt64(row[ColumnVersion])
		if err != nil {
			return nil, fmt.Errorf(
				"read version of log entry %d: %w", logID, err)
		}

		refs[i] = VersionRef{
			LogID:   logID,
			Version: version,
			Actor:   toActor(row[ColumnActor]),
		}
	}

	return refs, nil
}

// GetVersion returns the snapshot data of a version with the log ID of the
// entry merged in under "log_id".
func (e *Engine) GetVersion(
	ctx context.Context, da DataAccess, cfg Config,
	ident Identity, sel Selector,
) (Payload, error) {
	entry, err := e.GetEntry(ctx, da, cfg, ident, sel)
	if err != nil {
		return nil, err
	}

	data := maps.Clone(entry.Data)

	data[ColumnLogID] = entry.LogID

	return data, nil
}

// GetAllVersions returns every version of a record, with data, in
// ascending order.
func (e *Engine) GetAllVersions(
	ctx context.Context, da DataAccess, cfg Config, ident Identity,
) ([]HistoryItem, error) {
	entries, err := e.entries(ctx, da, cfg, ident)
	if err != nil {
		return nil, err
	}

	items := make([]HistoryItem, len(entries))

	for i, entry := range entries {
		items[i] = HistoryItem{
			LogID:   entry.LogID,
			Version: entry.Version,
			Actor:   entry.Actor,
			Record:  entry.Data,
		}
	}

	return items, nil
}

// GetEntry returns the archive entry of a record identified by the
// selector.
func (e *Engine) GetEntry(
	ctx context.Context, da DataAccess, cfg Config,
	ident Identity, sel Selector,
) (ArchiveEntry, error) {
	conds, err := e.selectorConditions(ctx, cfg, ident, sel)
	if err != nil {
		return ArchiveEntry{}, err
	}

	rows, err := da.Select(ctx, SelectQuery{
		Table:   cfg.archive.Name,
		Columns: entryColumns(cfg),
		Where:   conds,
		Limit:   1,
	})
	if err != nil {
		return ArchiveEntry{}, fmt.Errorf(
			"failed to read log entry: %w", err)
	}

	if len(rows) == 0 {
		return ArchiveEntry{}, Errorf(ErrCodeNotFound,
			"can't find log record by %s", sel)
	}

	return entryFromRow(cfg, rows[0])
}

func (e *Engine) selectorConditions(
	ctx context.Context, cfg Config, ident Identity, sel Selector,
) ([]Condition, error) {
	if sel.Version == nil && sel.LogID == nil {
		return nil, Errorf(ErrCodeIdentity,
			"a version or log ID is needed to identify the log entry")
	}

	if sel.Version != nil && sel.LogID != nil {
		e.logger.WarnContext(ctx,
			"both version and log ID provided, only the version will be used",
			internal.LogKeyTable, cfg.live.Name,
			internal.LogKeyVersion, *sel.Version,
			internal.LogKeyLogID, *sel.LogID)
	}

	conds, err := identityConditions(cfg, ident)
	if err != nil {
		return nil, err
	}

	if sel.Version != nil {
		conds = append(conds, Condition{
			Column: ColumnVersion,
			Value:  *sel.Version,
		})
	} else {
		conds = append(conds, Condition{
			Column: ColumnLogID,
			Value:  *sel.LogID,
		})
	}

	return conds, nil
}

// History returns every archive entry of a record in ascending version
// order.
func (e *Engine) History(
	ctx context.Context, da DataAccess, cfg Config, ident Identity,
) ([]ArchiveEntry, error) {
	return e.entries(ctx, da, cfg, ident)
}

func (e *Engine) entries(
	ctx context.Context, da DataAccess, cfg Config, ident Identity,
) ([]ArchiveEntry, error) {
	conds, err := identityConditions(cfg, ident)
	if err != nil {
		return nil, err
	}

	rows, err := da.Select(ctx, SelectQuery{
		Table:   cfg.archive.Name,
		Columns: entryColumns(cfg),
		Where:   conds,
		OrderBy: []Order{{Column: ColumnVersion}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read log entries: %w", err)
	}

	entries := make([]ArchiveEntry, len(rows))

	for i := range rows {
		entry, err := entryFromRow(cfg, rows[i])
		if err != nil {
			return nil, err
		}

		entries[i] = entry
	}

	return entries, nil
}
