package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/repository"
)

// EventHandler exposes read-only access to sync events so operators can
// inspect partial and error outcomes and rogue listings awaiting a match
type EventHandler struct {
	events *repository.EventRepository
}

// NewEventHandler creates a new event handler
func NewEventHandler(events *repository.EventRepository) *EventHandler {
	return &EventHandler{events: events}
}

// List returns events filtered by status, platform and run
func (h *EventHandler) List(c *gin.Context) {
	opts := repository.EventListOptions{
		Status:       models.EventStatus(c.Query("status")),
		PlatformName: models.PlatformTag(c.Query("platform")),
	}

	if runID := c.Query("runId"); runID != "" {
		id, err := uuid.Parse(runID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		opts.SyncRunID = id
	}

	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		opts.Limit = l
	}
	if opts.Limit == 0 {
		opts.Limit = 50
	}
	if o, err := strconv.Atoi(c.Query("offset")); err == nil && o >= 0 {
		opts.Offset = o
	}

	events, total, err := h.events.List(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   events,
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// Get returns a single event
func (h *EventHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	event, err := h.events.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": event})
}
