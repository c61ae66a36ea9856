package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"slot-sync-backend/internal/classify"
	"slot-sync-backend/internal/model"
)

// GroupResponse summarizes one group and category over the requested dates.
type GroupResponse struct {
	GroupKey       string            `json:"groupKey"`
	Category       classify.Category `json:"category"`
	Resources      int               `json:"resources"`
	Days           int               `json:"days"`
	TotalSlots     int               `json:"totalSlots"`
	BookedSlots    int               `json:"bookedSlots"`
	AvailableSlots int               `json:"availableSlots"`
}

// GetGroups handles the GET /api/groups request.
func GetGroups(db *gorm.DB, loc *time.Location) gin.HandlerFunc {
	return func(c *gin.Context) {
		from, to, err := dateRange(c, loc)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tx := db.WithContext(c.Request.Context()).
			Model(&model.GroupSlotCount{}).
			Select("group_key, category, MAX(resource_count) AS resources, COUNT(*) AS days, " +
				"SUM(total_slots) AS total_slots, SUM(booked_slots) AS booked_slots, SUM(available_slots) AS available_slots")
		if !from.IsZero() {
			tx = tx.Where("date >= ?", asDate(from))
		}
		if !to.IsZero() {
			tx = tx.Where("date <= ?", asDate(to))
		}

		groups := []GroupResponse{}
		if err := tx.Group("group_key, category").Order("group_key, category").Scan(&groups).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve groups"})
			return
		}
		c.JSON(http.StatusOK, groups)
	}
}
