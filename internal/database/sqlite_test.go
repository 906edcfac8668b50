package database

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store", "trip.db")

	db, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4 applied migrations, got %d", count)
	}
}

func TestOpenKeepsDataAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trip.db")

	db, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO app_state (key, value, updated_at) VALUES ('k', 'v', 1)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	db.Close()

	db, err = Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var value string
	if err := db.QueryRow(`SELECT value FROM app_state WHERE key = 'k'`).Scan(&value); err != nil {
		t.Fatalf("expected value to survive reopen: %v", err)
	}
	if value != "v" {
		t.Fatalf("expected v, got %q", value)
	}
}

func TestOpenResetsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trip.db")
	garbage := make([]byte, 8192)
	for i := range garbage {
		garbage[i] = byte(i * 7)
	}
	if err := os.WriteFile(path, garbage, 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	db, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO app_state (key, value, updated_at) VALUES ('k', 'v', 1)`); err != nil {
		t.Fatalf("expected usable store after reset: %v", err)
	}
}

func TestOpenResetsOutdatedSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trip.db")

	db, err := Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// Simulate a schema written by an incompatible build.
	if _, err := db.Exec(`DROP TABLE locations`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE locations (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	db.Close()

	db, err = Open(Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO locations (id, name, latitude, longitude, added_at, fingerprint) VALUES ('a', 'n', 0, 0, 0, 'f')`); err != nil {
		t.Fatalf("expected recreated schema: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{Path: "  "}, nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestExtractUp(t *testing.T) {
	got := extractUp("-- +migrate Up\nCREATE TABLE a(x);\n-- +migrate Down\nDROP TABLE a;")
	if got != "\nCREATE TABLE a(x);\n" {
		t.Fatalf("unexpected up section %q", got)
	}
	if extractUp("SELECT 1;") != "SELECT 1;" {
		t.Fatal("expected passthrough without markers")
	}
}
