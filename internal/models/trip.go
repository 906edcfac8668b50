package models

import "time"

// TripStatus is the lifecycle state of a trip
type TripStatus string

const (
	TripStatusPlanning  TripStatus = "planning"
	TripStatusActive    TripStatus = "active"
	TripStatusCompleted TripStatus = "completed"
	TripStatusArchived  TripStatus = "archived"
)

// Permission is a collaborator's grant on a trip
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// Valid reports whether p is a known permission
func (p Permission) Valid() bool {
	return p == PermissionRead || p == PermissionWrite
}

// Collaborator is a non-owner actor granted access to a trip
type Collaborator struct {
	UserID     string     `json:"user_id" db:"user_id"`
	Permission Permission `json:"permission" db:"permission"`
}

// Trip is a container for a set of locations
type Trip struct {
	ID            string         `json:"id" db:"id"`
	OwnerID       string         `json:"owner_id" db:"owner_id"`
	Name          string         `json:"name" db:"name"`
	Status        TripStatus     `json:"status" db:"status"`
	Collaborators []Collaborator `json:"collaborators"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// Role is an actor's effective relationship to a trip. Exactly one applies.
type Role int

const (
	RoleNone Role = iota
	RoleRead
	RoleWrite
	RoleOwner
)

// CanView reports whether the role may read the trip's locations
func (r Role) CanView() bool {
	return r != RoleNone
}

// CanModify reports whether the role may mutate the trip's locations
func (r Role) CanModify() bool {
	return r == RoleOwner || r == RoleWrite
}

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleWrite:
		return "write"
	case RoleRead:
		return "read"
	default:
		return "none"
	}
}

// RoleOf resolves userID's effective role. Ownership always implies write.
func (t *Trip) RoleOf(userID string) Role {
	if t == nil || userID == "" {
		return RoleNone
	}
	if t.OwnerID == userID {
		return RoleOwner
	}
	for _, c := range t.Collaborators {
		if c.UserID != userID {
			continue
		}
		switch c.Permission {
		case PermissionWrite:
			return RoleWrite
		case PermissionRead:
			return RoleRead
		}
	}
	return RoleNone
}

// Access is the gating value exposed for the active trip
type Access struct {
	CanView   bool `json:"can_view"`
	CanModify bool `json:"can_modify"`
}

// AccessFor converts a role into gating flags
func AccessFor(r Role) Access {
	return Access{CanView: r.CanView(), CanModify: r.CanModify()}
}

// Clone returns a deep copy of the trip
func (t Trip) Clone() Trip {
	c := t
	c.Collaborators = append([]Collaborator(nil), t.Collaborators...)
	return c
}
