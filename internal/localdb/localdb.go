// Package localdb opens and pool-tunes the modernc.org/sqlite database that
// backs the bundled fixture/test source tenant: a WAL/busy-timeout DSN with
// a connection-pool sized by the configured tenant mix.
package localdb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hkdb/dirsync/internal/logging"
)

const (
	// MaxOpenConns: SQLite in WAL mode only supports one writer at a
	// time, so a large pool just adds lock contention.
	MaxOpenConns = 8

	// BaseIdleConns is the floor; MaxIdleConns the ceiling. Scheduler
	// rounds visit tenants one at a time, so idle connections scale
	// gently with tenant count rather than with concurrent load.
	BaseIdleConns      = 2
	MaxIdleConns       = 4
	IdleConnsPerTenant = 1
	CheckpointInterval = 5 * time.Minute

	// ReadOnlyTenantWeight is a read-only tenant's fractional share of
	// IdleConnsPerTenant relative to a read-write tenant. A read-only
	// round runs a single ReadOnlyEventsSince SELECT and never opens the
	// WriteBack transaction a read-write round commits every cycle, so it
	// needs less standing idle capacity.
	ReadOnlyTenantWeight = 0.5
)

// DB wraps a pool-tuned *sql.DB.
type DB struct {
	*sql.DB
	path      string
	idleConns int
}

// Open opens or creates a SQLite database at path with the daemon's
// standard pragmas (WAL, busy_timeout, foreign keys).
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("localdb: create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("localdb: open: %w", err)
	}
	db.SetMaxOpenConns(MaxOpenConns)
	db.SetMaxIdleConns(BaseIdleConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("localdb: ping: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("localdb: chmod: %w", err)
	}

	return &DB{DB: db, path: path}, nil
}

// UpdateIdleConns scales idle connections with the configured tenant mix,
// capped at MaxIdleConns. readOnly carries one entry per tenant; true
// weights that tenant's contribution at ReadOnlyTenantWeight instead of a
// full IdleConnsPerTenant share.
func (db *DB) UpdateIdleConns(readOnly []bool) {
	log := logging.WithComponent("localdb")

	var weight float64
	for _, ro := range readOnly {
		if ro {
			weight += ReadOnlyTenantWeight
		} else {
			weight++
		}
	}
	idle := BaseIdleConns + int(math.Ceil(weight))*IdleConnsPerTenant
	if idle < BaseIdleConns {
		idle = BaseIdleConns
	}
	if idle > MaxIdleConns {
		idle = MaxIdleConns
	}
	db.SetMaxIdleConns(idle)
	db.idleConns = idle
	log.Debug().Int("tenants", len(readOnly)).Int("idle_conns", idle).Msg("updated connection pool")
}

// IdleConns returns the idle-connection ceiling UpdateIdleConns last
// configured, or 0 if it has never been called.
func (db *DB) IdleConns() int { return db.idleConns }

// Checkpoint runs a passive WAL checkpoint so the WAL file doesn't grow
// unbounded across long-running daemon uptimes.
func (db *DB) Checkpoint() error {
	if _, err := db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return fmt.Errorf("localdb: checkpoint: %w", err)
	}
	return nil
}

// StartCheckpointRoutine runs Checkpoint on a ticker until ctx is
// cancelled. Call once at daemon startup.
func (db *DB) StartCheckpointRoutine(ctx context.Context) {
	log := logging.WithComponent("localdb")
	ticker := time.NewTicker(CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := db.Checkpoint(); err != nil {
				log.Error().Err(err).Msg("periodic WAL checkpoint failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Migrate applies every pending migration in order.
func (db *DB) Migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("localdb: create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("localdb: read migration version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := db.applyMigration(m); err != nil {
			return fmt.Errorf("localdb: apply migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (db *DB) applyMigration(m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration SQL: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
