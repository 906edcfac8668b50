package models

import (
	"fmt"
	"time"
)

// LocationSource records where a location record originated
type LocationSource string

const (
	SourceLocal  LocationSource = "local"  // created on this device, not yet owned remotely
	SourceRemote LocationSource = "remote" // owned by an authenticated user on the backend
)

// DefaultStayDuration is applied to locations created without a stay time
const DefaultStayDuration = 30 * time.Minute

// Location represents a point of interest in a trip
type Location struct {
	ID      string `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	Address string `json:"address,omitempty" db:"address"`

	// WGS84 degrees
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`

	AddedAt       time.Time     `json:"added_at" db:"added_at"`
	ScheduledDate *Date         `json:"scheduled_date,omitempty" db:"scheduled_date"` // nil means "the day it was added"
	StayDuration  time.Duration `json:"stay_duration" db:"stay_duration"`
	IsSkipped     bool          `json:"is_skipped" db:"is_skipped"`

	// Derived by route computation, never set by callers
	TravelTimeFromPrevious *time.Duration `json:"travel_time_from_previous,omitempty" db:"-"`
	DistanceFromPrevious   *float64       `json:"distance_from_previous,omitempty" db:"-"` // meters

	TripID      *string `json:"trip_id,omitempty" db:"trip_id"`
	UserID      string  `json:"user_id,omitempty" db:"user_id"` // empty for anonymous records
	Fingerprint string  `json:"fingerprint" db:"fingerprint"`

	// Sync metadata
	Source       LocationSource `json:"source" db:"source"`
	IsSynced     bool           `json:"is_synced" db:"is_synced"`
	LastSyncedAt *time.Time     `json:"last_synced_at,omitempty" db:"last_synced_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing store state
func (l Location) Clone() Location {
	c := l
	if l.ScheduledDate != nil {
		d := *l.ScheduledDate
		c.ScheduledDate = &d
	}
	if l.TravelTimeFromPrevious != nil {
		v := *l.TravelTimeFromPrevious
		c.TravelTimeFromPrevious = &v
	}
	if l.DistanceFromPrevious != nil {
		v := *l.DistanceFromPrevious
		c.DistanceFromPrevious = &v
	}
	if l.TripID != nil {
		v := *l.TripID
		c.TripID = &v
	}
	if l.LastSyncedAt != nil {
		v := *l.LastSyncedAt
		c.LastSyncedAt = &v
	}
	return c
}

// IsUnassigned reports whether the location belongs to no trip
func (l Location) IsUnassigned() bool {
	return l.TripID == nil || *l.TripID == ""
}

// BelongsToTrip reports whether the location is assigned to tripID
func (l Location) BelongsToTrip(tripID string) bool {
	return l.TripID != nil && *l.TripID == tripID
}

// EffectiveDate returns the scheduled date, falling back to the calendar day
// of AddedAt in loc
func (l Location) EffectiveDate(loc *time.Location) Date {
	if l.ScheduledDate != nil {
		return *l.ScheduledDate
	}
	if loc == nil {
		loc = time.Local
	}
	return DateOf(l.AddedAt.In(loc))
}

// Coordinates returns the location's position
func (l Location) Coordinates() LatLng {
	return LatLng{Lat: l.Latitude, Lng: l.Longitude}
}

// ClearTravel drops route-derived fields
func (l *Location) ClearTravel() {
	l.TravelTimeFromPrevious = nil
	l.DistanceFromPrevious = nil
}

// StringPtr is a helper for optional string fields
func StringPtr(s string) *string {
	return &s
}

// Validate checks the fields the store relies on
func (l Location) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidLocation)
	}
	if l.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidLocation)
	}
	if !(l.Latitude >= -90 && l.Latitude <= 90) || !(l.Longitude >= -180 && l.Longitude <= 180) {
		return fmt.Errorf("%w: coordinates out of range (%v, %v)", ErrInvalidLocation, l.Latitude, l.Longitude)
	}
	if l.StayDuration < 0 {
		return fmt.Errorf("%w: negative stay duration", ErrInvalidLocation)
	}
	return nil
}
