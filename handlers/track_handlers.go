// api/handlers/track_handlers.go
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"pulsetrack/api/models"
	"pulsetrack/api/presence"
	"pulsetrack/api/store"
)

type AnalyticsHandlers struct {
	Store  *store.AnalyticsStore
	Engine *presence.Engine
}

func NewAnalyticsHandlers(s *store.AnalyticsStore, engine *presence.Engine) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		Store:  s,
		Engine: engine,
	}
}

// TrackEvents ingests a tracker batch: persist to ClickHouse, then feed
// the presence engine. Malformed events are dropped with a warning rather
// than failing the batch.
func (h *AnalyticsHandlers) TrackEvents(c *gin.Context) {
	var incoming []models.Event
	if err := c.ShouldBindJSON(&incoming); err != nil {
		log.Warn().Err(err).Msg("Error binding incoming tracker events")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if len(incoming) == 0 {
		c.Status(http.StatusOK)
		return
	}

	accepted := make([]models.Event, 0, len(incoming))
	for _, event := range incoming {
		if err := event.Validate(); err != nil {
			log.Warn().Err(err).Str("type", event.Type).Msg("Dropping malformed tracker event")
			continue
		}
		event.EventID = uuid.New().String()
		event.IPAddress = c.ClientIP()
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}
		if event.SessionID == "" {
			event.SessionID = event.VisitorID
		}
		accepted = append(accepted, event)
	}

	if len(accepted) == 0 {
		c.JSON(http.StatusOK, gin.H{"accepted": 0})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.Store.InsertEvents(ctx, accepted); err != nil {
		log.Error().Err(err).Msg("Error inserting tracker events into ClickHouse")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record events"})
		return
	}

	for _, event := range accepted {
		h.Engine.HandleTrackerEvent(c.Request.Context(), event)
	}

	c.JSON(http.StatusOK, gin.H{"accepted": len(accepted)})
}

func (h *AnalyticsHandlers) GetEventCountsOverTime(c *gin.Context) {
	websiteName := c.Query("website")
	if websiteName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "website query parameter is required"})
		return
	}
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}

	start, end, ok := parseTimeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Store.GetEventCountsOverTime(ctx, websiteName, interval, start, end, c.Query("eventType"))
	if err != nil {
		log.Error().Err(err).Msg("Error getting event counts over time")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *AnalyticsHandlers) GetUniqueVisitorsOverTime(c *gin.Context) {
	websiteName := c.Query("website")
	if websiteName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "website query parameter is required"})
		return
	}
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}

	start, end, ok := parseTimeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Store.GetUniqueVisitorsOverTime(ctx, websiteName, interval, start, end)
	if err != nil {
		log.Error().Err(err).Msg("Error getting unique visitors over time")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique visitor statistics"})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *AnalyticsHandlers) GetTopPagePaths(c *gin.Context) {
	websiteName := c.Query("website")
	if websiteName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "website query parameter is required"})
		return
	}

	start, end, ok := parseTimeRange(c)
	if !ok {
		return
	}

	var limit uint64 = 10
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil || parsed == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Store.GetTopPagePaths(ctx, websiteName, start, end, limit)
	if err != nil {
		log.Error().Err(err).Msg("Error getting top page paths")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top page paths"})
		return
	}

	c.JSON(http.StatusOK, results)
}

// parseTimeRange reads optional RFC3339 start/end query params, defaulting
// to the last 7 days. On a parse error it writes the 400 itself.
func parseTimeRange(c *gin.Context) (time.Time, time.Time, bool) {
	start := time.Now().UTC().Add(-7 * 24 * time.Hour)
	end := time.Now().UTC()

	if startParam := c.Query("start"); startParam != "" {
		parsed, err := time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
		start = parsed
	}
	if endParam := c.Query("end"); endParam != "" {
		parsed, err := time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
		end = parsed
	}
	return start, end, true
}
