package db

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration is one versioned schema change. Migrations are compiled in:
// the sync core runs on devices where shipping loose SQL files is not
// an option.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the full schema history, in apply order. Never edit an
// entry after it ships: the recorded checksum would no longer match.
var migrations = []Migration{
	{
		Version:     1,
		Description: "create_op_queue",
		SQL: `
		CREATE TABLE IF NOT EXISTS op_queue (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			related_entity_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			last_attempt_at INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		);`,
	},
	{
		Version:     2,
		Description: "index_op_queue_status",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_op_queue_status ON op_queue(status, created_at);`,
	},
}

// AppliedMigration records one migration that has been applied.
type AppliedMigration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// Migrator applies the embedded schema history to a database.
type Migrator struct {
	db *DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Applied returns all applied migrations in version order.
func (m *Migrator) Applied() ([]AppliedMigration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		var appliedAt int64
		if err := rows.Scan(&a.Version, &appliedAt, &a.Description, &a.Checksum); err != nil {
			return nil, err
		}
		a.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, a)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	applied, err := m.Applied()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedVersions := make(map[int]bool)
	for _, a := range applied {
		appliedVersions[a.Version] = true
	}

	for _, mig := range migrations {
		if appliedVersions[mig.Version] {
			continue
		}
		if err := m.apply(mig); err != nil {
			return fmt.Errorf("failed to apply migration V%d: %w", mig.Version, err)
		}
	}
	return nil
}

// apply runs one migration and records it, in a single transaction.
func (m *Migrator) apply(mig Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	hash := sha256.Sum256([]byte(mig.SQL))
	checksum := hex.EncodeToString(hash[:])
	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, mig.Version, time.Now().Unix(), mig.Description, checksum); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// Verify checks recorded checksums against the embedded history and
// reports the first mismatch. A mismatch means a shipped migration was
// edited after being applied.
func (m *Migrator) Verify() error {
	applied, err := m.Applied()
	if err != nil {
		return err
	}

	byVersion := make(map[int]Migration, len(migrations))
	for _, mig := range migrations {
		byVersion[mig.Version] = mig
	}

	for _, a := range applied {
		mig, ok := byVersion[a.Version]
		if !ok {
			return fmt.Errorf("database has unknown migration V%d (%s)", a.Version, a.Description)
		}
		hash := sha256.Sum256([]byte(mig.SQL))
		if hex.EncodeToString(hash[:]) != a.Checksum {
			return fmt.Errorf("checksum mismatch for migration V%d (%s)", a.Version, a.Description)
		}
	}
	return nil
}
