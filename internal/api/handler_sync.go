package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"slot-sync-backend/internal/store"
	"slot-sync-backend/internal/syncer"
	"slot-sync-backend/internal/window"
)

// maxSyncDays bounds manually requested windows.
const maxSyncDays = 366

type syncRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// PostSync handles POST /api/sync. With no body it syncs the default window.
func (h *Handler) PostSync(c *gin.Context) {
	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	w := h.sync.DefaultWindow()
	if req.Start != "" || req.End != "" {
		var err error
		if w, err = window.Parse(req.Start, req.End, h.loc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if w.Days() > maxSyncDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window is longer than a year"})
			return
		}
	}

	id, err := h.sync.Start(h.ctx, w, syncer.TriggerManual)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": id, "window": w.String()})
}

// ListSyncRuns handles GET /api/sync/runs.
func (h *Handler) ListSyncRuns(c *gin.Context) {
	limit, err := intParam(c, "limit", 20)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runs, err := h.store.ListSyncRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve sync runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetSyncRun handles GET /api/sync/runs/:id.
func (h *Handler) GetSyncRun(c *gin.Context) {
	run, err := h.store.GetSyncRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve sync run"})
		return
	}
	c.JSON(http.StatusOK, run)
}
