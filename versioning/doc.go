// Package versioning maintains an append-only log of every version of the
// records in a table.
//
// A live table is paired with an archive table using Register, which
// verifies that the archive table can hold snapshots keyed by the logical
// identity of the live records. The resulting Config is then passed to the
// Engine for every operation: writes to the live table are snapshotted into
// the archive table with a version number that is unique per identity, and
// logged versions can be listed, fetched, diffed, and restored.
//
// The engine never manages transactions. Version assignment and the insert
// of the archive entry must run in a transaction together with the live
// record mutation, and concurrent writers for the same identity are expected
// to be serialised by that transaction. A unique constraint on the identity
// and version columns of the archive table is the last line of defence,
// collisions are returned as the unmodified store error.
package versioning
