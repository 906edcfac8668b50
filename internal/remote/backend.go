// Package remote is the boundary to the multi-user backend that owns
// authenticated users' locations, trips and grants.
package remote

import (
	"context"
	"errors"
	"sort"

	"github.com/jengzang/trip-planner-go/internal/models"
)

// ErrUnavailable is returned when the backend cannot be reached
var ErrUnavailable = errors.New("remote backend unavailable")

// EventType is the kind of row change carried by a LocationEvent
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// LocationEvent is one realtime change to a location row. Delete events
// carry at least the id.
type LocationEvent struct {
	Type     EventType       `json:"type"`
	Location models.Location `json:"location"`
}

// PermissionEvent reports a grant change for UserID on TripID. A nil
// Permission means the collaborator was removed.
type PermissionEvent struct {
	TripID     string             `json:"trip_id"`
	UserID     string             `json:"user_id"`
	Permission *models.Permission `json:"permission,omitempty"`
}

// Backend is everything the engine needs from the remote side. Every call
// may fail; callers treat failures as transient.
type Backend interface {
	FetchLocations(ctx context.Context, userID string) ([]models.Location, error)
	UpsertLocation(ctx context.Context, loc models.Location) error
	DeleteLocation(ctx context.Context, id string) error
	SubscribeLocations(ctx context.Context, userID string) (<-chan LocationEvent, error)

	FetchTrip(ctx context.Context, tripID string) (*models.Trip, error)
	FetchTrips(ctx context.Context, userID string) ([]models.Trip, error)
	UpsertTrip(ctx context.Context, trip models.Trip) error
	SetCollaborator(ctx context.Context, tripID, userID string, perm models.Permission) error
	RemoveCollaborator(ctx context.Context, tripID, userID string) error
	SubscribePermissions(ctx context.Context, userID string) (<-chan PermissionEvent, error)
}

// stored strips fields that only make sense on a device
func stored(loc models.Location) models.Location {
	c := loc.Clone()
	c.ClearTravel()
	c.Source = models.SourceRemote
	c.IsSynced = false
	c.LastSyncedAt = nil
	return c
}

// audience lists the users who may see loc: its owner plus everyone on its trip
func audience(loc models.Location, trip *models.Trip) []string {
	seen := map[string]bool{}
	if loc.UserID != "" {
		seen[loc.UserID] = true
	}
	if trip != nil {
		for _, uid := range tripMembers(*trip) {
			seen[uid] = true
		}
	}
	out := make([]string, 0, len(seen))
	for uid := range seen {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

func tripMembers(trip models.Trip) []string {
	out := []string{}
	if trip.OwnerID != "" {
		out = append(out, trip.OwnerID)
	}
	for _, c := range trip.Collaborators {
		out = append(out, c.UserID)
	}
	return out
}

func withCollaborator(trip models.Trip, userID string, perm *models.Permission) models.Trip {
	out := trip.Clone()
	kept := out.Collaborators[:0]
	for _, c := range out.Collaborators {
		if c.UserID != userID {
			kept = append(kept, c)
		}
	}
	if perm != nil {
		kept = append(kept, models.Collaborator{UserID: userID, Permission: *perm})
	}
	out.Collaborators = kept
	return out
}
