package internal

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
)

// Migrate applies the tern migrations in dbFs and returns the resulting
// schema version. Applied migrations are logged at info level.
func Migrate(
	ctx context.Context, logger *slog.Logger,
	pool *pgxpool.Pool, dbFs fs.FS,
) (int32, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection for migration: %w", err)
	}

	defer conn.Release()

	m, err := migrate.NewMigrator(ctx, conn.Conn(), "schema_version")
	if err != nil {
		return 0, fmt.Errorf("create migrator: %w", err)
	}

	err = m.LoadMigrations(dbFs)
	if err != nil {
		return 0, fmt.Errorf("load migrations: %w", err)
	}

	m.OnStart = func(sequence int32, name, direction, _ string) {
		logger.InfoContext(ctx, "applying migration",
			LogKeyVersion, sequence,
			LogKeyComponent, name,
			"direction", direction)
	}

	err = m.Migrate(ctx)
	if err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}

	version, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	return version, nil
}
