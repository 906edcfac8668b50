package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jengzang/trip-planner-go/internal/database/migrations"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Config holds database configuration
type Config struct {
	Path string
}

// Open opens the local store and applies migrations. When the file cannot be
// read as a current-schema database it is deleted and recreated: the remote
// is the source of truth for authenticated users, so availability wins over
// the cached copy.
func Open(cfg Config, logger *zap.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if fileBacked(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := openAndMigrate(path, logger)
	if err == nil {
		logger.Info("database initialized", zap.String("path", path))
		return db, nil
	}
	if !fileBacked(path) {
		return nil, err
	}

	logger.Warn("local store unreadable, resetting", zap.String("path", path), zap.Error(err))
	if rmErr := removeDatabaseFiles(path); rmErr != nil {
		return nil, fmt.Errorf("failed to reset database: %w", rmErr)
	}

	db, err = openAndMigrate(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to recreate database: %w", err)
	}
	logger.Info("database recreated", zap.String("path", path))
	return db, nil
}

func openAndMigrate(path string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: every store operation is serialized and in-memory
	// databases stay on one handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := quickCheck(db); err != nil {
		db.Close()
		return nil, err
	}

	manager := NewMigrationManager(db, migrations.FS, logger)
	if err := manager.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	if err := manager.Verify(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func quickCheck(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func dsn(path string) string {
	base := path
	if !strings.HasPrefix(base, "file:") {
		base = "file:" + base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func fileBacked(path string) bool {
	return path != ":memory:" && !strings.Contains(path, "mode=memory") && !strings.HasPrefix(path, "file::memory:")
}

func removeDatabaseFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Transaction executes a function within a database transaction
func Transaction(db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
