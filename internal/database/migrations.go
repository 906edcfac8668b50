package database

import (
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationManager applies embedded migrations in version order
type MigrationManager struct {
	db     *sql.DB
	fsys   fs.FS
	logger *zap.Logger
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sql.DB, fsys fs.FS, logger *zap.Logger) *MigrationManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MigrationManager{
		db:     db,
		fsys:   fsys,
		logger: logger,
	}
}

// InitMigrationsTable creates the migrations tracking table
func (m *MigrationManager) InitMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := m.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns the set of applied migration versions
func (m *MigrationManager) GetAppliedMigrations() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT version FROM migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	return applied, nil
}

// LoadMigrations loads migration files named like "001_locations.sql"
func (m *MigrationManager) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		var name string
		if _, err := fmt.Sscanf(entry.Name(), "%d_%s", &version, &name); err != nil {
			m.logger.Warn("skipping migration file with invalid name", zap.String("file", entry.Name()))
			continue
		}

		content, err := fs.ReadFile(m.fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(entry.Name(), ".sql"),
			SQL:     extractUp(string(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// ApplyMigration applies a single migration
func (m *MigrationManager) ApplyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(migration.SQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.Exec("INSERT INTO migrations (version, name) VALUES (?, ?)", migration.Version, migration.Name); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}

	m.logger.Debug("applied migration", zap.Int("version", migration.Version), zap.String("name", migration.Name))
	return nil
}

// RunMigrations runs all pending migrations
func (m *MigrationManager) RunMigrations() error {
	if err := m.InitMigrationsTable(); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return err
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.ApplyMigration(migration); err != nil {
			return err
		}
	}

	return nil
}

// Verify checks that every embedded migration is recorded and the tables the
// repositories read have the expected columns
func (m *MigrationManager) Verify() error {
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return err
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		return err
	}
	for _, migration := range migrations {
		if !applied[migration.Version] {
			return fmt.Errorf("migration %d not applied", migration.Version)
		}
	}

	for _, probe := range schemaProbes {
		rows, err := m.db.Query(probe)
		if err != nil {
			return fmt.Errorf("schema probe failed: %w", err)
		}
		rows.Close()
	}
	return nil
}

var schemaProbes = []string{
	`SELECT id, name, address, latitude, longitude, added_at, scheduled_date, stay_seconds,
		is_skipped, trip_id, user_id, fingerprint, source, is_synced, last_synced_at
		FROM locations LIMIT 0`,
	`SELECT id, owner_id, name, status, created_at, updated_at FROM trips LIMIT 0`,
	`SELECT trip_id, user_id, permission FROM trip_collaborators LIMIT 0`,
	`SELECT key, value, updated_at FROM app_state LIMIT 0`,
}

// extractUp returns the SQL in the "-- +migrate Up" section
func extractUp(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	upIdx := strings.Index(content, up)
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, down)
	if downIdx == -1 || downIdx < upIdx {
		return content[upIdx+len(up):]
	}
	return content[upIdx+len(up) : downIdx]
}
