package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jengzang/trip-planner-go/internal/eventbus"
	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/repository"
	"go.uber.org/zap"
)

// ListTrips returns the trips the actor can see. The remote list refreshes
// the local cache; offline, the cache answers.
func (s *TripSession) ListTrips(ctx context.Context) ([]models.Trip, error) {
	actor := s.Actor()
	if actor.IsAnonymous() {
		return []models.Trip{}, nil
	}

	trips, err := s.backend.FetchTrips(ctx, actor.UserID)
	if err == nil {
		for _, t := range trips {
			if err := s.trips.SaveTrip(ctx, t); err != nil {
				s.logger.Warn("failed to cache trip", zap.String("trip_id", t.ID), zap.Error(err))
			}
		}
		return trips, nil
	}

	s.logger.Warn("failed to fetch trips, using cache", zap.String("user_id", actor.UserID), zap.Error(err))
	cached, cerr := s.trips.ListTrips(ctx)
	if cerr != nil {
		return nil, fmt.Errorf("failed to list cached trips: %w", cerr)
	}
	out := make([]models.Trip, 0, len(cached))
	for _, t := range cached {
		if t.RoleOf(actor.UserID).CanView() {
			out = append(out, t)
		}
	}
	return out, nil
}

// CreateTrip creates a trip owned by the actor
func (s *TripSession) CreateTrip(ctx context.Context, name string) (models.Trip, error) {
	actor := s.Actor()
	if actor.IsAnonymous() {
		return models.Trip{}, models.ErrUnauthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Trip{}, errors.New("trip name is required")
	}

	now := s.now()
	trip := models.Trip{
		ID:        uuid.NewString(),
		OwnerID:   actor.UserID,
		Name:      name,
		Status:    models.TripStatusPlanning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.backend.UpsertTrip(ctx, trip); err != nil {
		return models.Trip{}, fmt.Errorf("failed to create trip: %w", err)
	}
	if err := s.trips.SaveTrip(ctx, trip); err != nil {
		s.logger.Warn("failed to cache trip", zap.String("trip_id", trip.ID), zap.Error(err))
	}
	return trip, nil
}

// ShareTrip grants userID perm on a trip the actor owns
func (s *TripSession) ShareTrip(ctx context.Context, tripID, userID string, perm models.Permission) error {
	if !perm.Valid() {
		return fmt.Errorf("unknown permission %q", perm)
	}
	trip, err := s.ownedTrip(ctx, tripID, "share")
	if err != nil {
		return err
	}
	if userID == "" || userID == trip.OwnerID {
		return fmt.Errorf("cannot share trip %s with %q", tripID, userID)
	}
	if err := s.backend.SetCollaborator(ctx, tripID, userID, perm); err != nil {
		return fmt.Errorf("failed to share trip: %w", err)
	}
	s.refreshTrip(ctx, tripID)
	return nil
}

// UnshareTrip removes userID from a trip the actor owns
func (s *TripSession) UnshareTrip(ctx context.Context, tripID, userID string) error {
	if _, err := s.ownedTrip(ctx, tripID, "unshare"); err != nil {
		return err
	}
	if err := s.backend.RemoveCollaborator(ctx, tripID, userID); err != nil {
		return fmt.Errorf("failed to unshare trip: %w", err)
	}
	s.refreshTrip(ctx, tripID)
	return nil
}

func (s *TripSession) ownedTrip(ctx context.Context, tripID, op string) (*models.Trip, error) {
	actor := s.Actor()
	if actor.IsAnonymous() {
		return nil, models.ErrUnauthenticated
	}
	trip, err := s.backend.FetchTrip(ctx, tripID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to fetch trip: %w", err)
	}
	if trip.RoleOf(actor.UserID) != models.RoleOwner {
		s.logger.Info("mutation denied", zap.String("op", op), zap.String("trip_id", tripID))
		return nil, models.ErrPermissionDenied
	}
	return trip, nil
}

// refreshTrip updates the cached copy and the active trip after a change
func (s *TripSession) refreshTrip(ctx context.Context, tripID string) {
	trip, err := s.backend.FetchTrip(ctx, tripID)
	if err != nil {
		s.logger.Warn("failed to refresh trip", zap.String("trip_id", tripID), zap.Error(err))
		return
	}
	if err := s.trips.SaveTrip(ctx, *trip); err != nil {
		s.logger.Warn("failed to cache trip", zap.String("trip_id", tripID), zap.Error(err))
	}

	s.mu.Lock()
	if s.activeTrip != nil && s.activeTrip.ID == tripID {
		t := trip.Clone()
		s.activeTrip = &t
	}
	s.mu.Unlock()
	s.bus.Publish(eventbus.TripUpdated{Trip: trip.Clone()})
}

// ActivateTrip points the session at tripID after a fresh view check
func (s *TripSession) ActivateTrip(ctx context.Context, tripID string) (models.Trip, error) {
	actor := s.Actor()
	if actor.IsAnonymous() {
		return models.Trip{}, models.ErrUnauthenticated
	}

	trip, err := s.backend.FetchTrip(ctx, tripID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Trip{}, err
		}
		return models.Trip{}, fmt.Errorf("failed to fetch trip: %w", err)
	}
	access := s.resolver.Access(ctx, tripID)
	if !access.CanView {
		s.logger.Info("mutation denied", zap.String("op", "activate_trip"), zap.String("trip_id", tripID))
		return models.Trip{}, models.ErrPermissionDenied
	}
	if err := s.trips.SaveTrip(ctx, *trip); err != nil {
		s.logger.Warn("failed to cache trip", zap.String("trip_id", tripID), zap.Error(err))
	}

	s.mu.Lock()
	active := trip.Clone()
	s.activeTrip = &active
	s.startID = ""
	s.pipeline.SetActiveTrip(&active, access)
	s.mu.Unlock()

	s.resolver.SetActiveTrip(tripID)
	s.persist(ctx, repository.KeyActiveTripID, tripID)
	s.bus.Publish(eventbus.TripActivated{Trip: trip.Clone()})
	s.logger.Info("trip activated", zap.String("trip_id", tripID), zap.Bool("can_modify", access.CanModify))
	return active.Clone(), nil
}

// DeactivateTrip clears the active trip pointer. Its locations stay in the
// store and are only hidden.
func (s *TripSession) DeactivateTrip(ctx context.Context) {
	s.mu.Lock()
	if s.activeTrip == nil {
		s.mu.Unlock()
		return
	}
	tripID := s.activeTrip.ID
	s.clearActiveLocked()
	s.mu.Unlock()

	s.resolver.SetActiveTrip("")
	s.forget(ctx, repository.KeyActiveTripID)
	s.bus.Publish(eventbus.TripDeactivated{TripID: tripID, Reason: ReasonDeactivated})
}
