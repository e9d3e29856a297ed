package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/replenishment/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	errInternalServer        = "Internal server error"
	errReplenishmentNotFound = "Replenishment not found"
	errPayloadNotFound       = "Stored order for this replenishment is missing"
	errSchedulingFailed      = "Could not schedule the replenishment, try again"
)

// writeError maps usecase errors onto status codes. Anything unrecognized is logged and
// hidden behind a 500.
func writeError(ctx *gin.Context, logger *slog.Logger, op string, err error) {
	var transition *domain.TransitionError
	switch {
	case errors.Is(err, domain.ErrReplenishmentNotFound), errors.Is(err, domain.ErrCustomerNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errReplenishmentNotFound})
	case errors.Is(err, domain.ErrPayloadNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errPayloadNotFound})
	case errors.As(err, &transition):
		ctx.JSON(http.StatusConflict, gin.H{"error": transition.Error()})
	case errors.Is(err, domain.ErrStartingRequired), errors.Is(err, domain.ErrStartingNotAllowed):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidCadence),
		errors.Is(err, domain.ErrInvalidSchedule),
		errors.Is(err, domain.ErrInvalidOrder):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrScheduling):
		logger.ErrorContext(ctx.Request.Context(), op, "error", err)
		ctx.JSON(http.StatusBadGateway, gin.H{"error": errSchedulingFailed})
	default:
		logger.ErrorContext(ctx.Request.Context(), op, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}
