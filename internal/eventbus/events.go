package eventbus

import "github.com/jengzang/trip-planner-go/internal/models"

// Kind identifies an event variant
type Kind int

const (
	KindTripActivated Kind = iota + 1
	KindTripDeactivated
	KindTripUpdated
	KindPermissionChanged
	KindLocationChanged
	KindRouteUpdated
)

func (k Kind) String() string {
	switch k {
	case KindTripActivated:
		return "trip_activated"
	case KindTripDeactivated:
		return "trip_deactivated"
	case KindTripUpdated:
		return "trip_updated"
	case KindPermissionChanged:
		return "permission_changed"
	case KindLocationChanged:
		return "location_changed"
	case KindRouteUpdated:
		return "route_updated"
	default:
		return "unknown"
	}
}

// Event is one of the concrete event types in this package
type Event interface {
	Kind() Kind
}

// TripActivated is published when the actor's active trip pointer is set
type TripActivated struct {
	Trip models.Trip
}

// TripDeactivated is published when the active trip pointer is cleared
type TripDeactivated struct {
	TripID string
	Reason string
}

// TripUpdated carries a fresh copy of a trip's metadata or collaborators
type TripUpdated struct {
	Trip models.Trip
}

// PermissionChanged reports a grant change for UserID on TripID. A nil
// Permission means the collaborator was removed.
type PermissionChanged struct {
	TripID     string
	UserID     string
	Permission *models.Permission
}

// LocationOp is the kind of change applied to a location record
type LocationOp string

const (
	LocationUpserted LocationOp = "upsert"
	LocationDeleted  LocationOp = "delete"
)

// LocationChanged is published after a remote change reached the local store
type LocationChanged struct {
	Op         LocationOp
	LocationID string
	TripID     *string
}

// RouteUpdated is published whenever the planner reaches a terminal state
type RouteUpdated struct {
	Result *models.RouteResult
	Failed bool
}

func (TripActivated) Kind() Kind     { return KindTripActivated }
func (TripDeactivated) Kind() Kind   { return KindTripDeactivated }
func (TripUpdated) Kind() Kind       { return KindTripUpdated }
func (PermissionChanged) Kind() Kind { return KindPermissionChanged }
func (LocationChanged) Kind() Kind   { return KindLocationChanged }
func (RouteUpdated) Kind() Kind      { return KindRouteUpdated }
