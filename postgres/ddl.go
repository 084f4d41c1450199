package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ttab/elephant-versionlog/versioning"
	"github.com/ttab/elephantine/pg"
)

// ArchiveTableDDL generates the statement that creates an archive table for
// a live table. The table is created with the unique version constraint
// that Register requires.
func ArchiveTableDDL(
	live versioning.TableSchema, identity []string, archive string,
) (string, error) {
	if len(identity) == 0 {
		return "", fmt.Errorf("no identity columns for %q", live.Name)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n",
		TableIdentifier(archive))

	fmt.Fprintf(&b,
		"  %s bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,\n",
		columnIdentifier(versioning.ColumnLogID))

	for _, name := range identity {
		col, ok := live.Column(name)
		if !ok {
			return "", fmt.Errorf("identity column %q doesn't exist in %q",
				name, live.Name)
		}

		fmt.Fprintf(&b, "  %s %s NOT NULL,\n",
			columnIdentifier(name), pgType(col.Type))
	}

	fmt.Fprintf(&b, "  %s bigint NOT NULL,\n",
		columnIdentifier(versioning.ColumnVersion))
	fmt.Fprintf(&b, "  %s boolean NOT NULL DEFAULT false,\n",
		columnIdentifier(versioning.ColumnDeleted))
	fmt.Fprintf(&b, "  %s timestamptz NOT NULL,\n",
		columnIdentifier(versioning.ColumnUpdatedAt))
	fmt.Fprintf(&b, "  %s text,\n",
		columnIdentifier(versioning.ColumnActor))
	fmt.Fprintf(&b, "  %s jsonb NOT NULL,\n",
		columnIdentifier(versioning.ColumnData))

	keyCols := append(append([]string{}, identity...),
		versioning.ColumnVersion)

	fmt.Fprintf(&b, "  CONSTRAINT %s UNIQUE (%s)\n);\n",
		columnIdentifier(VersionConstraintName(archive)),
		columnList(keyCols))

	return b.String(), nil
}

// VersionConstraintName is the name that ArchiveTableDDL gives the unique
// version constraint of an archive table.
func VersionConstraintName(archive string) string {
	_, name, ok := strings.Cut(archive, ".")
	if !ok {
		name = archive
	}

	return name + "_version_key"
}

// IsVersionCollision checks if an error was caused by a concurrent writer
// claiming the same version of a record. The caller should retry the whole
// transaction.
//
// Archive tables that weren't created by ArchiveTableDDL can name their
// version constraint differently, so any unique violation on the archive
// table counts as a collision.
func IsVersionCollision(err error, archive string) bool {
	if pg.IsConstraintError(err, VersionConstraintName(archive)) {
		return true
	}

	var pgerr *pgconn.PgError

	if !errors.As(err, &pgerr) || pgerr.Code != pgerrcode.UniqueViolation {
		return false
	}

	_, table, ok := strings.Cut(archive, ".")
	if !ok {
		table = archive
	}

	return pgerr.TableName == table
}

// IsUniqueViolation checks if an error was caused by any unique constraint.
func IsUniqueViolation(err error) bool {
	var pgerr *pgconn.PgError

	return errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UniqueViolation
}

func pgType(t versioning.ColumnType) string {
	switch t {
	case versioning.TypeInteger:
		return "bigint"
	case versioning.TypeFloat:
		return "double precision"
	case versioning.TypeNumeric:
		return "numeric"
	case versioning.TypeBoolean:
		return "boolean"
	case versioning.TypeTimestamp:
		return "timestamptz"
	case versioning.TypeDate:
		return "date"
	case versioning.TypeUUID:
		return "uuid"
	case versioning.TypeJSON:
		return "jsonb"
	case versioning.TypeBytes:
		return "bytea"
	}

	return "text"
}
