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

// handleV1QueryFlows aggregates flow edges into fixed-width buckets
// GET /api/v1/flows?station=&start=&end=&bucket=
func (s *Server) handleV1QueryFlows(c *gin.Context) {
	scope := c.Query("station")
	if scope == "" {
		scope = engine.ScopeAll
	}

	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start timestamp"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end timestamp"})
		return
	}

	bucket := time.Hour
	if v := c.Query("bucket"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket duration"})
			return
		}
		bucket = d
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	buckets, err := s.eng.Query(ctx, scope, start.UTC(), end.UTC(), bucket)
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
		"data": buckets,
		"meta": gin.H{
			"scope":  scope,
			"bucket": bucket.String(),
			"count":  len(buckets),
		},
	})
}

// handleV1Rankings lists the busiest stations over a window
// GET /api/v1/rankings?start=&end=&limit=
func (s *Server) handleV1Rankings(c *gin.Context) {
	end := time.Now().UTC()
	start := end.Add(-s.cfg.RankingWindow)

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

	limit := s.cfg.RankingLimit
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

	rankings, err := s.eng.TopStations(ctx, start, end, limit)
	switch {
	case errors.Is(err, engine.ErrInvalidRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": rankings,
		"meta": gin.H{
			"start": start.Format(time.RFC3339),
			"end":   end.Format(time.RFC3339),
			"count": len(rankings),
		},
	})
}
