package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ttab/elephant-versionlog/versioning"
	"github.com/ttab/elephantine/pg"
)

// PoolStore gives access to the tables of a database through a connection
// pool.
type PoolStore struct {
	pool *pgxpool.Pool
}

func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Reader returns data access for statements that don't need a
// transaction.
func (s *PoolStore) Reader() versioning.DataAccess {
	return New(s.pool)
}

// InTransaction runs fn in a transaction that is committed if fn succeeds.
func (s *PoolStore) InTransaction(
	ctx context.Context, fn func(da versioning.DataAccess) error,
) error {
	return pg.WithTX(ctx, s.pool, func(tx pgx.Tx) error { //nolint:wrapcheck
		return fn(New(tx))
	})
}

// IsVersionCollision implements the check for the version constraint
// created by ArchiveTableDDL.
func (s *PoolStore) IsVersionCollision(err error, archive string) bool {
	return IsVersionCollision(err, archive)
}

func (s *PoolStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx) //nolint:wrapcheck
}
