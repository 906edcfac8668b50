package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/service"
	"github.com/jengzang/trip-planner-go/pkg/response"
)

// LocationHandler handles HTTP requests for locations
type LocationHandler struct {
	session *service.TripSession
}

// NewLocationHandler creates a new location handler
func NewLocationHandler(session *service.TripSession) *LocationHandler {
	return &LocationHandler{session: session}
}

// GetLocations handles GET /api/v1/locations
func (h *LocationHandler) GetLocations(c *gin.Context) {
	view := h.session.View()
	response.Success(c, gin.H{
		"date":      view.Date,
		"access":    view.Access,
		"locations": view.Visible,
		"total":     len(view.Visible),
	})
}

type createLocationRequest struct {
	Name          string       `json:"name" binding:"required"`
	Address       string       `json:"address"`
	Latitude      *float64     `json:"latitude" binding:"required"`
	Longitude     *float64     `json:"longitude" binding:"required"`
	ScheduledDate *models.Date `json:"scheduled_date"`
	StayMinutes   *int         `json:"stay_minutes" binding:"omitempty,gte=0"`
}

// CreateLocation handles POST /api/v1/locations
func (h *LocationHandler) CreateLocation(c *gin.Context) {
	var req createLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	loc := models.Location{
		Name:          req.Name,
		Address:       req.Address,
		Latitude:      *req.Latitude,
		Longitude:     *req.Longitude,
		ScheduledDate: req.ScheduledDate,
	}
	if req.StayMinutes != nil {
		loc.StayDuration = time.Duration(*req.StayMinutes) * time.Minute
	}

	created, err := h.session.AddLocation(c.Request.Context(), loc)
	if err != nil {
		respondError(c, "Failed to add location", err)
		return
	}
	response.Created(c, created)
}

type updateLocationRequest struct {
	Name          *string      `json:"name"`
	ScheduledDate *models.Date `json:"scheduled_date"`
	Unschedule    bool         `json:"unschedule"`
	StayMinutes   *int         `json:"stay_minutes" binding:"omitempty,gte=0"`
	Skipped       *bool        `json:"skipped"`
}

// UpdateLocation handles PATCH /api/v1/locations/:id
func (h *LocationHandler) UpdateLocation(c *gin.Context) {
	var req updateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	var (
		updated models.Location
		err     error
		applied bool
	)
	if req.Name != nil {
		applied = true
		if updated, err = h.session.RenameLocation(ctx, id, *req.Name); err != nil {
			respondError(c, "Failed to rename location", err)
			return
		}
	}
	if req.ScheduledDate != nil || req.Unschedule {
		applied = true
		date := req.ScheduledDate
		if req.Unschedule {
			date = nil
		}
		if updated, err = h.session.ScheduleLocation(ctx, id, date); err != nil {
			respondError(c, "Failed to schedule location", err)
			return
		}
	}
	if req.StayMinutes != nil {
		applied = true
		if updated, err = h.session.SetStayDuration(ctx, id, time.Duration(*req.StayMinutes)*time.Minute); err != nil {
			respondError(c, "Failed to set stay duration", err)
			return
		}
	}
	if req.Skipped != nil {
		applied = true
		if updated, err = h.session.SetSkipped(ctx, id, *req.Skipped); err != nil {
			respondError(c, "Failed to update location", err)
			return
		}
	}

	if !applied {
		response.BadRequest(c, "Nothing to update", nil)
		return
	}
	response.Success(c, updated)
}

// DeleteLocation handles DELETE /api/v1/locations/:id
func (h *LocationHandler) DeleteLocation(c *gin.Context) {
	if err := h.session.RemoveLocation(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "Failed to remove location", err)
		return
	}
	response.Success(c, nil)
}

type reorderRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// ReorderLocations handles PUT /api/v1/locations/order
func (h *LocationHandler) ReorderLocations(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	if err := h.session.ReorderLocations(c.Request.Context(), req.IDs); err != nil {
		respondError(c, "Failed to reorder locations", err)
		return
	}
	response.Success(c, req)
}
