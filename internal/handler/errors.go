package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/pkg/response"
)

// respondError maps service errors onto HTTP status codes
func respondError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, models.ErrPermissionDenied):
		response.Forbidden(c, "Permission denied")
	case errors.Is(err, models.ErrNotFound):
		response.NotFound(c, message+": not found")
	case errors.Is(err, models.ErrUnauthenticated):
		response.Unauthorized(c, "Login required")
	case errors.Is(err, models.ErrInvalidLocation),
		errors.Is(err, models.ErrInvalidDate),
		errors.Is(err, models.ErrInvalidOrder):
		response.BadRequest(c, message, err)
	default:
		response.Error(c, http.StatusInternalServerError, message, err)
	}
}
