package versioning

import (
	"context"
	"fmt"
)

// NextVersion returns the version that the next snapshot of the record
// should get. The identity is read with the same mode as the snapshot will
// be, so that a pending change of an identity column is accounted for.
func NextVersion(
	ctx context.Context, da DataAccess, cfg Config,
	rec Record, mode ReadMode,
) (int64, error) {
	return nextVersion(ctx, da, cfg, IdentityOf(cfg, rec, mode))
}

func nextVersion(
	ctx context.Context, da DataAccess, cfg Config, ident Identity,
) (int64, error) {
	latest, ok, err := latestVersion(ctx, da, cfg, ident)
	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, nil
	}

	return latest + 1, nil
}

func latestVersion(
	ctx context.Context, da DataAccess, cfg Config, ident Identity,
) (int64, bool, error) {
	conds, err := identityConditions(cfg, ident)
	if err != nil {
		return 0, false, err
	}

	rows, err := da.Select(ctx, SelectQuery{
		Table:   cfg.archive.Name,
		Columns: []string{ColumnVersion},
		Where:   conds,
		OrderBy: []Order{{Column: ColumnVersion, Desc: true}},
		Limit:   1,
	})
	if err != nil {
		return 0, false, fmt.Errorf(
			"failed to read latest version: %w", err)
	}

	if len(rows) == 0 {
		return 0, false, nil
	}

	v, err := toInt64(rows[0][ColumnVersion])
	if err != nil {
		return 0, false, fmt.Errorf("invalid version in %q: %w",
			cfg.archive.Name, err)
	}

	return v, true, nil
}

// LatestVersion returns the current version of a record.
func (e *Engine) LatestVersion(
	ctx context.Context, da DataAccess, cfg Config, ident Identity,
) (int64, error) {
	v, ok, err := latestVersion(ctx, da, cfg, ident)
	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, Errorf(ErrCodeNotFound,
			"no versions of the record have been logged")
	}

	return v, nil
}
