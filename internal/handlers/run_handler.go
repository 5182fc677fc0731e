package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oakvale/gearsync/internal/repository"
)

// RunHandler exposes read-only access to sync run history
type RunHandler struct {
	runs   *repository.RunRepository
	events *repository.EventRepository
}

// NewRunHandler creates a new run handler
func NewRunHandler(runs *repository.RunRepository, events *repository.EventRepository) *RunHandler {
	return &RunHandler{runs: runs, events: events}
}

// List returns sync runs with pagination, newest first
func (h *RunHandler) List(c *gin.Context) {
	limit := 50
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = l
	}
	offset := 0
	if o, err := strconv.Atoi(c.Query("offset")); err == nil && o >= 0 {
		offset = o
	}

	runs, total, err := h.runs.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   runs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get returns a single run with its event outcome counts
func (h *RunHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := h.runs.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	counts, err := h.events.CountByStatusForRun(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":        run,
		"eventCounts": counts,
	})
}
