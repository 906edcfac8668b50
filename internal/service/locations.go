package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jengzang/trip-planner-go/internal/models"
	"go.uber.org/zap"
)

// AddLocation adds a location to the active trip, or as an unassigned
// record when no trip is active. Without a scheduled date, a location
// added while another day is selected is scheduled on that day.
func (s *TripSession) AddLocation(ctx context.Context, loc models.Location) (models.Location, error) {
	s.mu.Lock()
	trip, date := s.activeTrip, s.date
	s.mu.Unlock()

	loc.TripID = nil
	if trip != nil {
		if !s.resolver.CanModify(ctx, trip.ID) {
			return models.Location{}, s.denied("add_location", "", trip.ID)
		}
		loc.TripID = models.StringPtr(trip.ID)
	}
	if loc.ScheduledDate == nil && date != s.today() {
		loc.ScheduledDate = models.DatePtr(date)
	}
	return s.engine.AddLocation(ctx, loc)
}

// RemoveLocation deletes a location the actor may modify
func (s *TripSession) RemoveLocation(ctx context.Context, id string) error {
	loc, err := s.modifiable(ctx, id, "remove_location")
	if err != nil {
		return err
	}
	return s.engine.DeleteLocation(ctx, loc.ID)
}

// RenameLocation changes a location's name
func (s *TripSession) RenameLocation(ctx context.Context, id, name string) (models.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Location{}, fmt.Errorf("%w: missing name", models.ErrInvalidLocation)
	}
	return s.mutate(ctx, id, "rename_location", func(l *models.Location) { l.Name = name })
}

// ScheduleLocation moves a location to date, or back to its added day
// when date is nil
func (s *TripSession) ScheduleLocation(ctx context.Context, id string, date *models.Date) (models.Location, error) {
	if date != nil {
		if _, err := models.ParseDate(string(*date)); err != nil {
			return models.Location{}, fmt.Errorf("%w: %v", models.ErrInvalidDate, err)
		}
	}
	return s.mutate(ctx, id, "schedule_location", func(l *models.Location) {
		if date == nil {
			l.ScheduledDate = nil
			return
		}
		l.ScheduledDate = models.DatePtr(*date)
	})
}

// SetStayDuration changes the planned time spent at a location
func (s *TripSession) SetStayDuration(ctx context.Context, id string, d time.Duration) (models.Location, error) {
	if d < 0 {
		return models.Location{}, fmt.Errorf("%w: negative stay duration", models.ErrInvalidLocation)
	}
	return s.mutate(ctx, id, "set_stay_duration", func(l *models.Location) { l.StayDuration = d })
}

// SetSkipped excludes a location from routing, or includes it again
func (s *TripSession) SetSkipped(ctx context.Context, id string, skipped bool) (models.Location, error) {
	return s.mutate(ctx, id, "set_skipped", func(l *models.Location) { l.IsSkipped = skipped })
}

// ReorderLocations fixes the visiting order of the current waypoints. ids
// must name every waypoint exactly once. The route is recomputed in that
// order until the waypoint set changes.
func (s *TripSession) ReorderLocations(ctx context.Context, ids []string) error {
	v := s.pipeline.Current()

	if v.ActiveTrip != nil {
		if !s.resolver.CanModify(ctx, v.ActiveTrip.ID) {
			return s.denied("reorder_locations", "", v.ActiveTrip.ID)
		}
	} else {
		for _, w := range v.Waypoints {
			if !s.resolver.CanModifyLocation(ctx, w) {
				return s.denied("reorder_locations", w.ID, "")
			}
		}
	}

	if _, ok := applyOrder(v.Waypoints, ids); !ok {
		return fmt.Errorf("%w: expected %d waypoint ids, got %d", models.ErrInvalidOrder, len(v.Waypoints), len(ids))
	}

	manual := append([]string(nil), ids...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestRouteLocked(v, true, manual)
	return nil
}

func (s *TripSession) mutate(ctx context.Context, id, op string, fn func(*models.Location)) (models.Location, error) {
	loc, err := s.modifiable(ctx, id, op)
	if err != nil {
		return models.Location{}, err
	}
	fn(loc)
	return s.engine.UpdateLocation(ctx, *loc)
}

// modifiable loads a location and checks write access freshly
func (s *TripSession) modifiable(ctx context.Context, id, op string) (*models.Location, error) {
	loc, err := s.locations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, fmt.Errorf("location %s: %w", id, models.ErrNotFound)
	}
	if !s.resolver.CanModifyLocation(ctx, *loc) {
		tripID := ""
		if loc.TripID != nil {
			tripID = *loc.TripID
		}
		return nil, s.denied(op, id, tripID)
	}
	return loc, nil
}

func (s *TripSession) denied(op, locationID, tripID string) error {
	s.logger.Info("mutation denied",
		zap.String("op", op),
		zap.String("location_id", locationID),
		zap.String("trip_id", tripID),
		zap.String("user_id", s.Actor().UserID),
	)
	return models.ErrPermissionDenied
}
