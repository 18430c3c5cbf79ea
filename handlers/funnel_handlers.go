// api/handlers/funnel_handlers.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"pulsetrack/api/funnel"
	"pulsetrack/api/models"
	"pulsetrack/api/store"
)

// Computing a funnel over a large event window is a batch job; bound it.
const funnelStatsTimeout = 30 * time.Second

type FunnelHandlers struct {
	Funnels   *store.FunnelStore
	Analytics *store.AnalyticsStore
}

func NewFunnelHandlers(funnels *store.FunnelStore, analytics *store.AnalyticsStore) *FunnelHandlers {
	return &FunnelHandlers{
		Funnels:   funnels,
		Analytics: analytics,
	}
}

type createFunnelRequest struct {
	Name        string              `json:"name" binding:"required"`
	WebsiteName string              `json:"websiteName" binding:"required"`
	Steps       []models.FunnelStep `json:"steps" binding:"required"`
}

func (h *FunnelHandlers) CreateFunnel(c *gin.Context) {
	var req createFunnelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	created, err := h.Funnels.CreateFunnel(c.Request.Context(), userID, req.Name, req.WebsiteName, req.Steps)
	if err != nil {
		if errors.Is(err, models.ErrStepCount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("Failed to create funnel")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create funnel"})
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (h *FunnelHandlers) ListFunnels(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	funnels, err := h.Funnels.ListFunnels(c.Request.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list funnels")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list funnels"})
		return
	}
	if funnels == nil {
		funnels = []models.Funnel{}
	}

	c.JSON(http.StatusOK, funnels)
}

func (h *FunnelHandlers) GetFunnel(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	funnelID, ok := funnelIDParam(c)
	if !ok {
		return
	}

	found, err := h.Funnels.GetFunnel(c.Request.Context(), funnelID, userID)
	if err != nil {
		if errors.Is(err, store.ErrFunnelNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Funnel not found"})
			return
		}
		log.Error().Err(err).Msg("Failed to get funnel")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get funnel"})
		return
	}

	c.JSON(http.StatusOK, found)
}

func (h *FunnelHandlers) DeleteFunnel(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	funnelID, ok := funnelIDParam(c)
	if !ok {
		return
	}

	if err := h.Funnels.DeleteFunnel(c.Request.Context(), funnelID, userID); err != nil {
		if errors.Is(err, store.ErrFunnelNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Funnel not found"})
			return
		}
		log.Error().Err(err).Msg("Failed to delete funnel")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete funnel"})
		return
	}

	c.Status(http.StatusNoContent)
}

// GetFunnelStats resolves a stored definition plus the requested event
// window, then hands both to the calculator. An empty window produces
// zeroed stats, not an error.
func (h *FunnelHandlers) GetFunnelStats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	funnelID, ok := funnelIDParam(c)
	if !ok {
		return
	}

	start, end, ok := parseTimeRange(c)
	if !ok {
		return
	}

	found, err := h.Funnels.GetFunnel(c.Request.Context(), funnelID, userID)
	if err != nil {
		if errors.Is(err, store.ErrFunnelNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Funnel not found"})
			return
		}
		log.Error().Err(err).Msg("Failed to get funnel for stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get funnel"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), funnelStatsTimeout)
	defer cancel()

	events, err := h.Analytics.GetEventWindow(ctx, found.WebsiteName, start, end)
	if err != nil {
		log.Error().Err(err).Int("funnel_id", funnelID).Msg("Failed to fetch event window")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch events"})
		return
	}

	stats, err := funnel.Calculate(ctx, found.Steps, events)
	if err != nil {
		log.Error().Err(err).Int("funnel_id", funnelID).Msg("Funnel computation aborted")
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Funnel computation timed out"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// currentUserID requires a dashboard identity; API-key requests carry no
// user and cannot own funnels.
func currentUserID(c *gin.Context) (int, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "A user session is required"})
		return 0, false
	}
	id, ok := v.(int)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "A user session is required"})
		return 0, false
	}
	return id, true
}

func funnelIDParam(c *gin.Context) (int, bool) {
	funnelID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid funnel id"})
		return 0, false
	}
	return funnelID, true
}
