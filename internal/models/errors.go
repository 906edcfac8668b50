package models

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrPermissionDenied is returned by mutation entry points when the actor
	// lacks write access. The mutation is a no-op.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidLocation is returned for locations missing a name or carrying
	// out-of-range coordinates.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrNoRoute is returned when the directions provider produced no usable route.
	ErrNoRoute = errors.New("no route available")

	// ErrInvalidDate is returned for calendar days not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidOrder is returned when a manual ordering is not a permutation
	// of the routable locations.
	ErrInvalidOrder = errors.New("invalid location order")

	// ErrUnauthenticated is returned by operations that need a signed-in actor.
	ErrUnauthenticated = errors.New("authentication required")
)
