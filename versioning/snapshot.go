package versioning

import (
	"context"
	"fmt"
	"time"

	"github.com/ttab/elephant-versionlog/internal"
)

// ArchiveEntry is an immutable snapshot of a record at a version.
type ArchiveEntry struct {
	LogID     int64     `json:"log_id"`
	Version   int64     `json:"version"`
	Identity  Identity  `json:"identity"`
	Actor     *string   `json:"actor"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"deleted"`
	Data      Payload   `json:"data"`
}

// Assemble builds an unsaved archive entry for the record. The caller is
// responsible for inserting it in the same transaction as the live record
// mutation.
func (e *Engine) Assemble(
	ctx context.Context, da DataAccess, cfg Config, rec Record,
	actor *string, deleted bool, mode ReadMode,
) (ArchiveEntry, error) {
	version, err := NextVersion(ctx, da, cfg, rec, mode)
	if err != nil {
		return ArchiveEntry{}, err
	}

	row, err := Project(cfg, rec, mode)
	if err != nil {
		return ArchiveEntry{}, err
	}

	return ArchiveEntry{
		Version:   version,
		Identity:  IdentityOf(cfg, rec, mode),
		Actor:     actor,
		UpdatedAt: e.now(),
		Deleted:   deleted,
		Data:      Payload(row),
	}, nil
}

func (e *Engine) insertEntry(
	ctx context.Context, da DataAccess, cfg Config, entry *ArchiveEntry,
) error {
	data, err := EncodePayload(Row(entry.Data))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	// Hand back the data the way it will be read from the log.
	canonical, err := DecodePayload(data)
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	values := Row{
		ColumnVersion:   entry.Version,
		ColumnDeleted:   entry.Deleted,
		ColumnUpdatedAt: entry.UpdatedAt,
		ColumnData:      string(data),
	}

	if entry.Actor != nil {
		values[ColumnActor] = *entry.Actor
	}

	for k, v := range entry.Identity {
		values[k] = v
	}

	res, err := da.Insert(ctx, cfg.archive.Name, values,
		[]string{ColumnLogID})
	if err != nil {
		return err //nolint:wrapcheck
	}

	logID, err := toInt64(res[ColumnLogID])
	if err != nil {
		return fmt.Errorf("invalid log ID for new entry: %w", err)
	}

	entry.LogID = logID
	entry.Data = canonical

	e.logger.DebugContext(ctx, "logged record version",
		internal.LogKeyTable, cfg.live.Name,
		internal.LogKeyVersion, entry.Version,
		internal.LogKeyLogID, entry.LogID)

	return nil
}

func entryColumns(cfg Config) []string {
	return append([]string{
		ColumnLogID, ColumnVersion, ColumnDeleted,
		ColumnUpdatedAt, ColumnActor, ColumnData,
	}, cfg.identity...)
}

func entryFromRow(cfg Config, row Row) (ArchiveEntry, error) {
	var (
		entry ArchiveEntry
		err   error
	)

	entry.LogID, err = toInt64(row[ColumnLogID])
	if err != nil {
		return ArchiveEntry{}, fmt.Errorf("read log ID: %w", err)
	}

	entry.Version, err = toInt64(row[ColumnVersion])
	if err != nil {
		return ArchiveEntry{}, fmt.Errorf(
			"read version of log entry %d: %w", entry.LogID, err)
	}

	entry.Deleted, err = toBool(row[ColumnDeleted])
	if err != nil {
		return ArchiveEntry{}, fmt.Errorf(
			"read deleted flag of log entry %d: %w", entry.LogID, err)
	}

	entry.UpdatedAt, err = toTime(row[ColumnUpdatedAt])
	if err != nil {
		return ArchiveEntry{}, fmt.Errorf(
			"read timestamp of log entry %d: %w", entry.LogID, err)
	}

	entry.Actor = toActor(row[ColumnActor])

	entry.Data, err = decodeData(row[ColumnData])
	if err != nil {
		return ArchiveEntry{}, fmt.Errorf(
			"read data of log entry %d: %w", entry.LogID, err)
	}

	entry.Identity = make(Identity, len(cfg.identity))

	for _, name := range cfg.identity {
		entry.Identity[name] = row[name]
	}

	return entry, nil
}
