package localdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAndMigrate(t *testing.T) {
	db := openTest(t)
	require.NoError(t, db.Migrate())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	require.Equal(t, 1, count)

	// Re-running Migrate against an already-migrated database is a no-op.
	require.NoError(t, db.Migrate())
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	require.Equal(t, 1, count)
}

func TestUpdateIdleConns_ReadOnlyTenantsWeightedLower(t *testing.T) {
	db := openTest(t)

	db.UpdateIdleConns([]bool{false, false})
	require.Equal(t, BaseIdleConns+2*IdleConnsPerTenant, db.IdleConns())

	db.UpdateIdleConns([]bool{true, true})
	readOnlyIdle := db.IdleConns()

	db.UpdateIdleConns([]bool{false, false})
	readWriteIdle := db.IdleConns()

	require.Less(t, readOnlyIdle, readWriteIdle, "two read-only tenants must need fewer idle conns than two read-write tenants")
}

func TestUpdateIdleConns_CappedAtMaxIdleConns(t *testing.T) {
	db := openTest(t)
	readOnly := make([]bool, 50)
	db.UpdateIdleConns(readOnly)
	require.LessOrEqual(t, db.IdleConns(), MaxIdleConns)
}
