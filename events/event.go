package events

import (
	"time"

	"github.com/ttab/elephant-versionlog/export"
	"github.com/ttab/elephant-versionlog/versioning"
)

type Kind string

const (
	KindRestore Kind = "restore"
	KindExport  Kind = "export"
)

// ChangeEvent notifies other systems about changes made to the version
// history of a record.
type ChangeEvent struct {
	Kind      Kind                `json:"kind"`
	Table     string              `json:"table"`
	Archive   string              `json:"archive"`
	Identity  versioning.Identity `json:"identity"`
	Version   int64               `json:"version"`
	LogID     int64               `json:"log_id"`
	Actor     *string             `json:"actor,omitempty"`
	Deleted   bool                `json:"deleted"`
	Timestamp time.Time           `json:"timestamp"`
	// RestoredFrom is the version that a restore was made from.
	RestoredFrom *int64 `json:"restored_from,omitempty"`
	// NullFilled lists the columns that a restore set to null.
	NullFilled []string `json:"null_filled,omitempty"`
	// Manifest is the object key of an export manifest.
	Manifest string `json:"manifest,omitempty"`
}

// RestoreEvent describes a completed restore.
func RestoreEvent(
	cfg versioning.Config, ident versioning.Identity,
	res versioning.RestoreResult,
) ChangeEvent {
	from := res.RestoredFrom

	return ChangeEvent{
		Kind:         KindRestore,
		Table:        cfg.Live().Name,
		Archive:      cfg.Archive().Name,
		Identity:     ident,
		Version:      res.Entry.Version,
		LogID:        res.Entry.LogID,
		Actor:        res.Entry.Actor,
		Deleted:      res.Entry.Deleted,
		Timestamp:    res.Entry.UpdatedAt,
		RestoredFrom: &from,
		NullFilled:   res.NullFilled,
	}
}

// ExportEvent describes a completed history export.
func ExportEvent(manifestKey string, m export.Manifest) ChangeEvent {
	evt := ChangeEvent{
		Kind:      KindExport,
		Table:     m.Table,
		Archive:   m.Archive,
		Identity:  m.Identity,
		Timestamp: m.Exported,
		Manifest:  manifestKey,
	}

	if len(m.Versions) > 0 {
		last := m.Versions[len(m.Versions)-1]

		evt.Version = last.Version
		evt.LogID = last.LogID
		evt.Deleted = last.Deleted
	}

	return evt
}
