package versioning

import (
	"context"
	"time"
)

type FieldChange struct {
	Prev any `json:"prev"`
	This any `json:"this"`
}

// ChangeSet describes the changes between two versions of a record. The
// Prev fields are nil when there is no previous version.
type ChangeSet struct {
	PrevVersion   *int64                 `json:"prev_version"`
	Version       int64                  `json:"version"`
	PrevActor     *string                `json:"prev_actor"`
	Actor         *string                `json:"actor"`
	PrevDeleted   *bool                  `json:"prev_deleted"`
	Deleted       bool                   `json:"deleted"`
	PrevUpdatedAt *time.Time             `json:"prev_updated_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Change        map[string]FieldChange `json:"change"`
}

// Diff computes the changes between two entries. A nil prev means that
// curr is the first version, and every field in it is reported as added.
func Diff(prev *ArchiveEntry, curr ArchiveEntry) ChangeSet {
	cs := ChangeSet{
		Version:   curr.Version,
		Actor:     curr.Actor,
		Deleted:   curr.Deleted,
		UpdatedAt: curr.UpdatedAt,
	}

	if prev == nil {
		cs.Change = DiffPayloads(nil, curr.Data)

		return cs
	}

	cs.PrevVersion = &prev.Version
	cs.PrevActor = prev.Actor
	cs.PrevDeleted = &prev.Deleted
	cs.PrevUpdatedAt = &prev.UpdatedAt
	cs.Change = DiffPayloads(prev.Data, curr.Data)

	return cs
}

// DiffPayloads compares two payloads field by field. With a nil prev all
// fields of curr are reported, with prev set only fields that were added,
// removed, or changed are reported.
func DiffPayloads(prev, curr Payload) map[string]FieldChange {
	changes := make(map[string]FieldChange)

	if prev == nil {
		for k, v := range curr {
			changes[k] = FieldChange{This: v}
		}

		return changes
	}

	for k, v := range curr {
		pv, ok := prev[k]

		switch {
		case !ok:
			changes[k] = FieldChange{This: v}
		case !valuesEqual(pv, v):
			changes[k] = FieldChange{Prev: pv, This: v}
		}
	}

	for k, pv := range prev {
		_, ok := curr[k]
		if !ok {
			changes[k] = FieldChange{Prev: pv}
		}
	}

	return changes
}

// DiffVersion compares the selected version of a record with the version
// before it.
func (e *Engine) DiffVersion(
	ctx context.Context, da DataAccess, cfg Config,
	ident Identity, sel Selector,
) (ChangeSet, error) {
	target, err := e.GetEntry(ctx, da, cfg, ident, sel)
	if err != nil {
		return ChangeSet{}, err
	}

	refs, err := e.ListVersions(ctx, da, cfg, ident)
	if err != nil {
		return ChangeSet{}, err
	}

	var prevLogID *int64

	for _, ref := range refs {
		if ref.LogID >= target.LogID {
			continue
		}

		if prevLogID == nil || ref.LogID > *prevLogID {
			prevLogID = &ref.LogID
		}
	}

	var prev *ArchiveEntry

	if prevLogID != nil {
		entry, err := e.GetEntry(ctx, da, cfg, ident, ByLogID(*prevLogID))
		if err != nil {
			return ChangeSet{}, err
		}

		prev = &entry
	}

	e.diffs.WithLabelValues(cfg.live.Name).Inc()

	return Diff(prev, target), nil
}

// DiffBetween compares two arbitrary versions of a record.
func (e *Engine) DiffBetween(
	ctx context.Context, da DataAccess, cfg Config,
	ident Identity, from Selector, to Selector,
) (ChangeSet, error) {
	a, err := e.GetEntry(ctx, da, cfg, ident, from)
	if err != nil {
		return ChangeSet{}, err
	}

	b, err := e.GetEntry(ctx, da, cfg, ident, to)
	if err != nil {
		return ChangeSet{}, err
	}

	e.diffs.WithLabelValues(cfg.live.Name).Inc()

	return Diff(&a, b), nil
}

// DiffAll returns the change sets of every version of a record, the first
// version is compared against nothing.
func (e *Engine) DiffAll(
	ctx context.Context, da DataAccess, cfg Config, ident Identity,
) ([]ChangeSet, error) {
	entries, err := e.entries(ctx, da, cfg, ident)
	if err != nil {
		return nil, err
	}

	changes := make([]ChangeSet, len(entries))

	for i := range entries {
		var prev *ArchiveEntry

		if i > 0 {
			prev = &entries[i-1]
		}

		changes[i] = Diff(prev, entries[i])
	}

	e.diffs.WithLabelValues(cfg.live.Name).Add(float64(len(changes)))

	return changes, nil
}
