package repository

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/jengzang/trip-planner-go/internal/database"
	"github.com/jengzang/trip-planner-go/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "trip.db")}, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testLocation(id, name string, addedAt time.Time) models.Location {
	return models.Location{
		ID:           id,
		Name:         name,
		Latitude:     37.7749,
		Longitude:    -122.4194,
		AddedAt:      addedAt,
		StayDuration: models.DefaultStayDuration,
		Fingerprint:  "fp-" + id,
		Source:       models.SourceLocal,
	}
}

func receive(t *testing.T, ch <-chan []models.Location) []models.Location {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return nil
}
