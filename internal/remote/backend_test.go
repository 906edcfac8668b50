package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jengzang/trip-planner-go/internal/models"
)

// runBackendTests exercises behaviour every Backend implementation shares.
func runBackendTests(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("visibility", func(t *testing.T) { testVisibility(t, newBackend(t)) })
	t.Run("location events", func(t *testing.T) { testLocationEvents(t, newBackend(t)) })
	t.Run("permission events", func(t *testing.T) { testPermissionEvents(t, newBackend(t)) })
	t.Run("trips", func(t *testing.T) { testTrips(t, newBackend(t)) })
}

func remoteLocation(id, owner string, tripID *string, addedAt time.Time) models.Location {
	return models.Location{
		ID:           id,
		Name:         "Place " + id,
		Latitude:     38.7223,
		Longitude:    -9.1393,
		AddedAt:      addedAt,
		StayDuration: models.DefaultStayDuration,
		TripID:       tripID,
		UserID:       owner,
		Fingerprint:  "fp-" + id,
		Source:       models.SourceLocal,
		IsSynced:     true,
	}
}

func testVisibility(t *testing.T, b Backend) {
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	trip := models.Trip{ID: "trip-1", OwnerID: "owner", Collaborators: []models.Collaborator{
		{UserID: "reader", Permission: models.PermissionRead},
	}}
	if err := b.UpsertTrip(ctx, trip); err != nil {
		t.Fatalf("upsert trip: %v", err)
	}

	if err := b.UpsertLocation(ctx, remoteLocation("own", "owner", nil, base)); err != nil {
		t.Fatalf("upsert own: %v", err)
	}
	if err := b.UpsertLocation(ctx, remoteLocation("shared", "owner", models.StringPtr("trip-1"), base.Add(time.Second))); err != nil {
		t.Fatalf("upsert shared: %v", err)
	}
	if err := b.UpsertLocation(ctx, remoteLocation("other", "stranger", nil, base)); err != nil {
		t.Fatalf("upsert other: %v", err)
	}

	owner, err := b.FetchLocations(ctx, "owner")
	if err != nil {
		t.Fatalf("fetch owner: %v", err)
	}
	if len(owner) != 2 || owner[0].ID != "own" || owner[1].ID != "shared" {
		t.Fatalf("owner sees %+v", owner)
	}
	if owner[0].Source != models.SourceRemote || owner[0].IsSynced {
		t.Fatalf("device metadata leaked into remote copy: %+v", owner[0])
	}

	reader, err := b.FetchLocations(ctx, "reader")
	if err != nil {
		t.Fatalf("fetch reader: %v", err)
	}
	if len(reader) != 1 || reader[0].ID != "shared" {
		t.Fatalf("reader sees %+v", reader)
	}

	if err := b.DeleteLocation(ctx, "shared"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := b.DeleteLocation(ctx, "shared"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	reader, _ = b.FetchLocations(ctx, "reader")
	if len(reader) != 0 {
		t.Fatalf("reader sees %+v after delete", reader)
	}
}

func testLocationEvents(t *testing.T, b Backend) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := b.SubscribeLocations(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	loc := remoteLocation("a", "u1", nil, time.Now())
	if err := b.UpsertLocation(ctx, loc); err != nil {
		t.Fatalf("insert: %v", err)
	}
	loc.Name = "Renamed"
	if err := b.UpsertLocation(ctx, loc); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := b.UpsertLocation(ctx, remoteLocation("b", "u2", nil, time.Now())); err != nil {
		t.Fatalf("foreign insert: %v", err)
	}
	if err := b.DeleteLocation(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []struct {
		typ  EventType
		name string
	}{{EventInsert, "Place a"}, {EventUpdate, "Renamed"}, {EventDelete, "Renamed"}}
	for i, w := range want {
		select {
		case evt := <-events:
			if evt.Type != w.typ || evt.Location.ID != "a" || evt.Location.Name != w.name {
				t.Fatalf("event %d = %s %s %q", i, evt.Type, evt.Location.ID, evt.Location.Name)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after cancel")
		}
	}
}

func testPermissionEvents(t *testing.T, b Backend) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := b.UpsertTrip(ctx, models.Trip{ID: "trip-1", OwnerID: "owner"}); err != nil {
		t.Fatalf("upsert trip: %v", err)
	}
	events, err := b.SubscribePermissions(ctx, "collab")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.SetCollaborator(ctx, "trip-1", "collab", models.PermissionWrite); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := b.SetCollaborator(ctx, "trip-1", "collab", models.PermissionRead); err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	if err := b.RemoveCollaborator(ctx, "trip-1", "collab"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := b.SetCollaborator(ctx, "trip-1", "owner", models.PermissionRead); err == nil {
		t.Fatal("expected error changing owner permission")
	}
	if err := b.SetCollaborator(ctx, "missing", "collab", models.PermissionRead); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("missing trip err = %v", err)
	}

	want := []*models.Permission{ptr(models.PermissionWrite), ptr(models.PermissionRead), nil}
	for i, w := range want {
		select {
		case evt := <-events:
			if evt.TripID != "trip-1" || evt.UserID != "collab" {
				t.Fatalf("event %d = %+v", i, evt)
			}
			if (w == nil) != (evt.Permission == nil) || (w != nil && *w != *evt.Permission) {
				t.Fatalf("event %d permission = %v, want %v", i, evt.Permission, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for permission event %d", i)
		}
	}

	trip, err := b.FetchTrip(ctx, "trip-1")
	if err != nil {
		t.Fatalf("fetch trip: %v", err)
	}
	if trip.RoleOf("collab") != models.RoleNone {
		t.Fatalf("collab role = %v after removal", trip.RoleOf("collab"))
	}
}

func testTrips(t *testing.T, b Backend) {
	ctx := context.Background()

	if _, err := b.FetchTrip(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("missing trip err = %v", err)
	}
	if err := b.UpsertTrip(ctx, models.Trip{ID: "t1", OwnerID: "a", Name: "One"}); err != nil {
		t.Fatalf("upsert t1: %v", err)
	}
	if err := b.UpsertTrip(ctx, models.Trip{ID: "t2", OwnerID: "b", Collaborators: []models.Collaborator{
		{UserID: "a", Permission: models.PermissionWrite},
	}}); err != nil {
		t.Fatalf("upsert t2: %v", err)
	}
	if err := b.UpsertTrip(ctx, models.Trip{ID: "t3", OwnerID: "c"}); err != nil {
		t.Fatalf("upsert t3: %v", err)
	}

	trips, err := b.FetchTrips(ctx, "a")
	if err != nil {
		t.Fatalf("fetch trips: %v", err)
	}
	if len(trips) != 2 || trips[0].ID != "t1" || trips[1].ID != "t2" {
		t.Fatalf("trips for a = %+v", trips)
	}
	if trips[1].RoleOf("a") != models.RoleWrite {
		t.Fatalf("role on t2 = %v", trips[1].RoleOf("a"))
	}

	if err := b.UpsertTrip(ctx, models.Trip{ID: "t2", OwnerID: "b"}); err != nil {
		t.Fatalf("re-upsert t2: %v", err)
	}
	trips, _ = b.FetchTrips(ctx, "a")
	if len(trips) != 1 {
		t.Fatalf("trips for a after removal = %+v", trips)
	}
	if err := b.UpsertTrip(ctx, models.Trip{ID: "x"}); err == nil {
		t.Fatal("expected error for trip without owner")
	}
}

func ptr(p models.Permission) *models.Permission { return &p }
