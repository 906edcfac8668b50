package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/service"
	"github.com/jengzang/trip-planner-go/pkg/response"
)

// TripHandler handles HTTP requests for trips
type TripHandler struct {
	session *service.TripSession
}

// NewTripHandler creates a new trip handler
func NewTripHandler(session *service.TripSession) *TripHandler {
	return &TripHandler{session: session}
}

// GetTrips handles GET /api/v1/trips
func (h *TripHandler) GetTrips(c *gin.Context) {
	trips, err := h.session.ListTrips(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to get trips", err)
		return
	}
	response.Success(c, gin.H{
		"data":  trips,
		"total": len(trips),
	})
}

type createTripRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateTrip handles POST /api/v1/trips
func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req createTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	trip, err := h.session.CreateTrip(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, "Failed to create trip", err)
		return
	}
	response.Created(c, trip)
}

// ActivateTrip handles POST /api/v1/trips/:id/activate
func (h *TripHandler) ActivateTrip(c *gin.Context) {
	trip, err := h.session.ActivateTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to activate trip", err)
		return
	}
	response.Success(c, trip)
}

// DeactivateTrip handles DELETE /api/v1/trips/active
func (h *TripHandler) DeactivateTrip(c *gin.Context) {
	h.session.DeactivateTrip(c.Request.Context())
	response.Success(c, nil)
}

type collaboratorRequest struct {
	Permission models.Permission `json:"permission" binding:"required,oneof=read write"`
}

// ShareTrip handles PUT /api/v1/trips/:id/collaborators/:userId
func (h *TripHandler) ShareTrip(c *gin.Context) {
	var req collaboratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	if err := h.session.ShareTrip(c.Request.Context(), c.Param("id"), c.Param("userId"), req.Permission); err != nil {
		respondError(c, "Failed to share trip", err)
		return
	}
	response.Success(c, nil)
}

// UnshareTrip handles DELETE /api/v1/trips/:id/collaborators/:userId
func (h *TripHandler) UnshareTrip(c *gin.Context) {
	if err := h.session.UnshareTrip(c.Request.Context(), c.Param("id"), c.Param("userId")); err != nil {
		respondError(c, "Failed to unshare trip", err)
		return
	}
	response.Success(c, nil)
}
