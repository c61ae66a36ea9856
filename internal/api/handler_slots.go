package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"slot-sync-backend/internal/store"
)

func (h *Handler) slotQuery(c *gin.Context) (store.SlotQuery, bool) {
	from, to, err := dateRange(c, h.loc)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return store.SlotQuery{}, false
	}
	category, err := categoryParam(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return store.SlotQuery{}, false
	}
	return store.SlotQuery{
		From:     asDate(from),
		To:       asDate(to),
		Category: category,
		Scope:    c.Query("resource"),
		Group:    c.Query("group"),
	}, true
}

// GetResourceSlots handles GET /api/slots/resources.
func (h *Handler) GetResourceSlots(c *gin.Context) {
	q, ok := h.slotQuery(c)
	if !ok {
		return
	}
	rows, err := h.store.ListResourceSlots(c.Request.Context(), q)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve slot counts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": rows})
}

// GetGroupSlots handles GET /api/slots/groups.
func (h *Handler) GetGroupSlots(c *gin.Context) {
	q, ok := h.slotQuery(c)
	if !ok {
		return
	}
	rows, err := h.store.ListGroupSlots(c.Request.Context(), q)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve slot counts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": rows})
}

// GetAppointments handles GET /api/appointments. The to date is inclusive.
func (h *Handler) GetAppointments(c *gin.Context) {
	from, to, err := dateRange(c, h.loc)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	category, err := categoryParam(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := intParam(c, "limit", store.MaxAppointmentPage)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !to.IsZero() {
		to = to.AddDate(0, 0, 1)
	}

	rows, err := h.store.ListAppointments(c.Request.Context(), store.AppointmentQuery{
		From:            from,
		To:              to,
		ResourceID:      c.Query("resource"),
		Category:        category,
		IncludeCanceled: c.Query("include_canceled") == "true",
		Limit:           limit,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve appointments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointments": rows})
}
