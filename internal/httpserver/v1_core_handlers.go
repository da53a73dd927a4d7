package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/velotrace/velotrace/internal/engine"
)

// handleV1ListStations returns the whole registry
// GET /api/v1/stations
func (s *Server) handleV1ListStations(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	stations, err := s.eng.Stations(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stations,
		"meta": gin.H{
			"count": len(stations),
		},
	})
}

// handleV1GetStation returns one registry entry
// GET /api/v1/stations/:id
func (s *Server) handleV1GetStation(c *gin.Context) {
	stationID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	station, err := s.eng.Station(ctx, stationID)
	if errors.Is(err, engine.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": station})
}

type stationRequest struct {
	StationID string  `json:"station_id" validate:"required"`
	Name      string  `json:"name" validate:"required"`
	Capacity  int     `json:"capacity" validate:"required,gt=0"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
}

// handleV1UpsertStation registers a station or refreshes its identity fields
// POST /api/v1/stations
func (s *Server) handleV1UpsertStation(c *gin.Context) {
	var req stationRequest
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

	err := s.eng.UpsertStation(ctx, engine.Station{
		ID:       req.StationID,
		Name:     req.Name,
		Capacity: req.Capacity,
		Lat:      req.Lat,
		Lon:      req.Lon,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	station, err := s.eng.Station(ctx, req.StationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": station})
}

// handleV1StationSnapshots returns a station's stored history
// GET /api/v1/stations/:id/snapshots?start=&end=&limit=
func (s *Server) handleV1StationSnapshots(c *gin.Context) {
	stationID := c.Param("id")

	var start, end time.Time
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start timestamp"})
			return
		}
		start = t.UTC()
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end timestamp"})
			return
		}
		end = t.UTC()
	}

	limit := s.cfg.HistoryLimit
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	snapshots, err := s.eng.History(ctx, stationID, start, end, limit)
	switch {
	case errors.Is(err, engine.ErrInvalidRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, engine.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": snapshots,
		"meta": gin.H{
			"station_id": stationID,
			"count":      len(snapshots),
		},
	})
}

// handleV1StationCorrections returns a station's capacity audit trail
// GET /api/v1/stations/:id/corrections
func (s *Server) handleV1StationCorrections(c *gin.Context) {
	stationID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	corrections, err := s.eng.Corrections(ctx, stationID)
	if errors.Is(err, engine.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": corrections,
		"meta": gin.H{
			"station_id": stationID,
			"count":      len(corrections),
		},
	})
}

type capacityRequest struct {
	Capacity int `json:"capacity" validate:"required,gt=0"`
}

// handleV1CorrectCapacity applies an operator capacity change
// POST /api/v1/stations/:id/capacity
func (s *Server) handleV1CorrectCapacity(c *gin.Context) {
	stationID := c.Param("id")

	var req capacityRequest
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

	correction, err := s.eng.CorrectCapacity(ctx, stationID, req.Capacity)
	if errors.Is(err, engine.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if correction.ID == "" {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "unchanged"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": correction})
}

// handleV1RebuildFlows recomputes a station's flow edges from history
// POST /api/v1/stations/:id/rebuild
func (s *Server) handleV1RebuildFlows(c *gin.Context) {
	stationID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	edges, err := s.eng.RebuildFlows(ctx, stationID)
	if errors.Is(err, engine.ErrUnknownStation) {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"station_id": stationID,
			"edges":      edges,
		},
	})
}
