package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/velotrace/velotrace/internal/engine"
)

type observationRequest struct {
	StationID      string    `json:"station_id" validate:"required"`
	ObservedAt     time.Time `json:"observed_at" validate:"required"`
	BikesAvailable *int      `json:"bikes_available" validate:"required,gte=0"`
	DocksAvailable *int      `json:"docks_available" validate:"required,gte=0"`
}

// handleV1IngestObservation accepts a single observation
// POST /api/v1/observations
func (s *Server) handleV1IngestObservation(c *gin.Context) {
	var req observationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	status, err := s.eng.Ingest(ctx, engine.Observation{
		StationID:      req.StationID,
		ObservedAt:     req.ObservedAt,
		BikesAvailable: *req.BikesAvailable,
		DocksAvailable: *req.DocksAvailable,
	})
	switch {
	case errors.Is(err, engine.ErrUnknownStation):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, engine.ErrInvalidObservation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	code := http.StatusCreated
	if status == engine.StatusDuplicate {
		code = http.StatusOK
	}
	c.JSON(code, gin.H{
		"data": gin.H{
			"station_id":  req.StationID,
			"observed_at": req.ObservedAt.UTC().Format(time.RFC3339),
			"status":      status,
		},
	})
}
