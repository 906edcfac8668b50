package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jengzang/trip-planner-go/internal/auth"
	"github.com/jengzang/trip-planner-go/internal/middleware"
	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/service"
	"github.com/jengzang/trip-planner-go/pkg/response"
)

// SessionHandler handles HTTP requests for the actor's session
type SessionHandler struct {
	session *service.TripSession
	tokens  *auth.Tokens
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(session *service.TripSession, tokens *auth.Tokens) *SessionHandler {
	return &SessionHandler{session: session, tokens: tokens}
}

type sessionState struct {
	UserID     string        `json:"user_id,omitempty"`
	Anonymous  bool          `json:"anonymous"`
	ActiveTrip *models.Trip  `json:"active_trip,omitempty"`
	Date       models.Date   `json:"date"`
	Flags      models.Access `json:"flags"`
}

func (h *SessionHandler) state() sessionState {
	actor := h.session.Actor()
	return sessionState{
		UserID:     actor.UserID,
		Anonymous:  actor.IsAnonymous(),
		ActiveTrip: h.session.ActiveTrip(),
		Date:       h.session.SelectedDate(),
		Flags:      h.session.Flags(),
	}
}

// GetSession handles GET /api/v1/session
func (h *SessionHandler) GetSession(c *gin.Context) {
	response.Success(c, h.state())
}

// Login handles POST /api/v1/session/login. The bearer token names the actor.
func (h *SessionHandler) Login(c *gin.Context) {
	if err := h.session.Login(c.Request.Context(), middleware.CurrentActor(c)); err != nil {
		respondError(c, "Failed to login", err)
		return
	}
	response.Success(c, h.state())
}

// Logout handles POST /api/v1/session/logout
func (h *SessionHandler) Logout(c *gin.Context) {
	h.session.Logout(c.Request.Context())
	response.Success(c, h.state())
}

type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// IssueToken handles POST /api/v1/auth/token. Only registered outside
// production.
func (h *SessionHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	token, err := h.tokens.Sign(req.UserID)
	if err != nil {
		response.InternalError(c, "Failed to sign token", err)
		return
	}
	response.Success(c, gin.H{"token": token})
}

type dateRequest struct {
	Date models.Date `json:"date" binding:"required"`
}

// SelectDate handles PUT /api/v1/session/date
func (h *SessionHandler) SelectDate(c *gin.Context) {
	var req dateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	if err := h.session.SelectDate(c.Request.Context(), req.Date); err != nil {
		respondError(c, "Failed to select date", err)
		return
	}
	response.Success(c, h.state())
}

type startRequest struct {
	Position   *models.LatLng `json:"position"`
	LocationID string         `json:"location_id"`
}

// SetStartPoint handles PUT /api/v1/session/start
func (h *SessionHandler) SetStartPoint(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	if p := req.Position; p != nil && (p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180) {
		response.BadRequest(c, "Position out of range", nil)
		return
	}
	h.session.SetStartPoint(req.Position, req.LocationID)
	response.Success(c, req)
}

type thresholdRequest struct {
	Meters float64 `json:"meters" binding:"required,gt=0"`
}

// SetThreshold handles PUT /api/v1/session/threshold
func (h *SessionHandler) SetThreshold(c *gin.Context) {
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	if err := h.session.SetProximityThreshold(req.Meters); err != nil {
		response.BadRequest(c, "Invalid threshold", err)
		return
	}
	response.Success(c, req)
}

// RetrySync handles POST /api/v1/sync/retry
func (h *SessionHandler) RetrySync(c *gin.Context) {
	n, err := h.session.RetrySync(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to sync", err)
		return
	}
	response.Success(c, gin.H{"synced": n})
}

// GetRoute handles GET /api/v1/route
func (h *SessionHandler) GetRoute(c *gin.Context) {
	state, result := h.session.Route()
	response.Success(c, gin.H{
		"state":  state.String(),
		"result": result,
	})
}
