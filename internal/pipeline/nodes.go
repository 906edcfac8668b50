package pipeline

import (
	"sort"
	"time"

	"github.com/jengzang/trip-planner-go/internal/auth"
	"github.com/jengzang/trip-planner-go/internal/models"
)

// Scope keeps the records that belong to the current context: the active
// trip when there is one, otherwise the actor's unassigned records. Every
// record an anonymous actor owns counts as unassigned.
func Scope(locs []models.Location, trip *models.Trip, actor auth.Actor, access models.Access) []models.Location {
	out := []models.Location{}
	switch {
	case trip != nil:
		if !access.CanView {
			return out
		}
		for _, l := range locs {
			if l.BelongsToTrip(trip.ID) {
				out = append(out, l)
			}
		}
	case actor.IsAnonymous():
		for _, l := range locs {
			if l.UserID == "" {
				out = append(out, l)
			}
		}
	default:
		for _, l := range locs {
			if l.IsUnassigned() && l.UserID == actor.UserID {
				out = append(out, l)
			}
		}
	}
	return out
}

// OnDate keeps records whose scheduled day, or the day they were added when
// unscheduled, equals date
func OnDate(locs []models.Location, date models.Date, tz *time.Location) []models.Location {
	out := []models.Location{}
	for _, l := range locs {
		if l.EffectiveDate(tz) == date {
			out = append(out, l)
		}
	}
	sortByAdded(out)
	return out
}

// Waypoints keeps the non-skipped records in insertion order
func Waypoints(dated []models.Location) []models.Location {
	out := []models.Location{}
	for _, l := range dated {
		if !l.IsSkipped {
			out = append(out, l)
		}
	}
	return out
}

// Visible orders dated records for display. A route ordering for the same
// day and trip wins: its stops come first with their travel fields, then
// active records it does not know yet, then skipped records.
func Visible(dated []models.Location, ordering *models.RouteResult, date models.Date, tripID *string) []models.Location {
	out := make([]models.Location, 0, len(dated))
	if !orderingApplies(ordering, date, tripID) {
		for _, l := range dated {
			c := l.Clone()
			c.ClearTravel()
			out = append(out, c)
		}
		return out
	}

	byID := make(map[string]models.Location, len(dated))
	for _, l := range dated {
		byID[l.ID] = l
	}
	used := make(map[string]bool, len(ordering.Waypoints))
	for _, w := range ordering.Waypoints {
		l, ok := byID[w.ID]
		if !ok || l.IsSkipped || used[w.ID] {
			continue
		}
		c := l.Clone()
		c.TravelTimeFromPrevious = nil
		c.DistanceFromPrevious = nil
		if w.TravelTimeFromPrevious != nil {
			v := *w.TravelTimeFromPrevious
			c.TravelTimeFromPrevious = &v
		}
		if w.DistanceFromPrevious != nil {
			v := *w.DistanceFromPrevious
			c.DistanceFromPrevious = &v
		}
		used[w.ID] = true
		out = append(out, c)
	}
	for _, l := range dated {
		if !used[l.ID] && !l.IsSkipped {
			c := l.Clone()
			c.ClearTravel()
			out = append(out, c)
		}
	}
	for _, l := range dated {
		if l.IsSkipped {
			c := l.Clone()
			c.ClearTravel()
			out = append(out, c)
		}
	}
	return out
}

func orderingApplies(ordering *models.RouteResult, date models.Date, tripID *string) bool {
	if ordering == nil || len(ordering.Waypoints) == 0 || ordering.Date != date {
		return false
	}
	if (ordering.TripID == nil) != (tripID == nil) {
		return false
	}
	return tripID == nil || *ordering.TripID == *tripID
}

func sortByAdded(locs []models.Location) {
	sort.SliceStable(locs, func(i, j int) bool { return locs[i].AddedAt.Before(locs[j].AddedAt) })
}

// sameWaypoints reports whether a and b would produce the same route
func sameWaypoints(a, b []models.Location) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID ||
			a[i].Latitude != b[i].Latitude ||
			a[i].Longitude != b[i].Longitude ||
			a[i].StayDuration != b[i].StayDuration {
			return false
		}
	}
	return true
}
