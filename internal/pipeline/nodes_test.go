package pipeline

import (
	"testing"
	"time"

	"github.com/jengzang/trip-planner-go/internal/auth"
	"github.com/jengzang/trip-planner-go/internal/models"
)

var utc = time.UTC

func loc(id string, added time.Time) models.Location {
	return models.Location{ID: id, Name: id, AddedAt: added, StayDuration: models.DefaultStayDuration}
}

func ids(locs []models.Location) []string {
	out := make([]string, len(locs))
	for i, l := range locs {
		out[i] = l.ID
	}
	return out
}

func equalIDs(a []models.Location, want ...string) bool {
	got := ids(a)
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestOnDateFallsBackToAddedDay(t *testing.T) {
	addedOn := time.Date(2024, 3, 15, 23, 30, 0, 0, utc)
	l := loc("a", addedOn)

	for _, tt := range []struct {
		date models.Date
		want bool
	}{
		{"2024-03-15", true},
		{"2024-03-14", false},
		{"2024-03-16", false},
	} {
		got := len(OnDate([]models.Location{l}, tt.date, utc)) == 1
		if got != tt.want {
			t.Errorf("date %s: visible = %v, want %v", tt.date, got, tt.want)
		}
	}

	// The calendar day depends on the configured zone.
	tokyo := time.FixedZone("JST", 9*3600)
	if len(OnDate([]models.Location{l}, "2024-03-16", tokyo)) != 1 {
		t.Fatal("added day should be evaluated in the pipeline's zone")
	}

	scheduled := loc("b", addedOn)
	scheduled.ScheduledDate = models.DatePtr("2024-04-01")
	if len(OnDate([]models.Location{scheduled}, "2024-03-15", utc)) != 0 {
		t.Fatal("scheduled date must override the added day")
	}
	if len(OnDate([]models.Location{scheduled}, "2024-04-01", utc)) != 1 {
		t.Fatal("scheduled record missing on its day")
	}
}

func TestScopeNoActiveTrip(t *testing.T) {
	now := time.Now()
	var locs []models.Location
	for i, id := range []string{"u1", "u2", "u3"} {
		l := loc(id, now.Add(time.Duration(i)*time.Second))
		l.UserID = "me"
		locs = append(locs, l)
	}
	for _, id := range []string{"t1", "t2"} {
		l := loc(id, now)
		l.UserID = "me"
		l.TripID = models.StringPtr("T1")
		locs = append(locs, l)
	}

	scoped := Scope(locs, nil, auth.Authenticated("me"), models.Access{})
	if len(scoped) != 3 {
		t.Fatalf("no-trip visibility = %v, want the 3 unassigned", ids(scoped))
	}

	trip := &models.Trip{ID: "T1", OwnerID: "me"}
	inTrip := Scope(locs, trip, auth.Authenticated("me"), models.Access{CanView: true, CanModify: true})
	if !equalIDs(inTrip, "t1", "t2") {
		t.Fatalf("trip scope = %v", ids(inTrip))
	}
	if got := Scope(locs, trip, auth.Authenticated("me"), models.Access{}); len(got) != 0 {
		t.Fatalf("trip without view access = %v", ids(got))
	}
}

func TestScopeAnonymousSeesAllLocalRecords(t *testing.T) {
	now := time.Now()
	a := loc("a", now)
	b := loc("b", now)
	b.TripID = models.StringPtr("stale-trip")
	other := loc("c", now)
	other.UserID = "previous-user"

	scoped := Scope([]models.Location{a, b, other}, nil, auth.Anonymous, models.Access{})
	if !equalIDs(scoped, "a", "b") {
		t.Fatalf("anonymous scope = %v, want a b", ids(scoped))
	}
}

func TestVisiblePrefersOrdering(t *testing.T) {
	day := models.Date("2024-03-15")
	base := time.Date(2024, 3, 15, 9, 0, 0, 0, utc)
	a, b, c := loc("a", base), loc("b", base.Add(time.Minute)), loc("c", base.Add(2*time.Minute))
	skipped := loc("s", base.Add(3*time.Minute))
	skipped.IsSkipped = true
	fresh := loc("new", base.Add(4*time.Minute))
	dated := []models.Location{a, b, c, skipped, fresh}

	travel := 7 * time.Minute
	dist := 1200.0
	cWithTravel := c
	cWithTravel.Name = "stale name"
	cWithTravel.TravelTimeFromPrevious = &travel
	cWithTravel.DistanceFromPrevious = &dist
	ordering := &models.RouteResult{Date: day, Waypoints: []models.Location{cWithTravel, a, b}}

	got := Visible(dated, ordering, day, nil)
	if !equalIDs(got, "c", "a", "b", "new", "s") {
		t.Fatalf("visible = %v", ids(got))
	}
	if got[0].Name != "c" {
		t.Fatalf("ordered entry should use the fresh record, got name %q", got[0].Name)
	}
	if got[0].TravelTimeFromPrevious == nil || *got[0].TravelTimeFromPrevious != travel {
		t.Fatal("travel fields not copied from the ordering")
	}
	if got[3].TravelTimeFromPrevious != nil {
		t.Fatal("unordered record must not carry travel fields")
	}

	other := Visible(dated, ordering, "2024-03-16", nil)
	if !equalIDs(other, "a", "b", "c", "s", "new") {
		t.Fatalf("ordering for another day must be ignored, got %v", ids(other))
	}
	tripOrdering := *ordering
	tripOrdering.TripID = models.StringPtr("T9")
	if got := Visible(dated, &tripOrdering, day, nil); got[0].ID != "a" {
		t.Fatalf("ordering for another trip must be ignored, got %v", ids(got))
	}
}

func TestWaypointsDropSkipped(t *testing.T) {
	now := time.Now()
	a, b := loc("a", now), loc("b", now)
	b.IsSkipped = true
	if got := Waypoints([]models.Location{a, b}); !equalIDs(got, "a") {
		t.Fatalf("waypoints = %v", ids(got))
	}
}
