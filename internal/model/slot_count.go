package model

import (
	"time"

	"slot-sync-backend/internal/classify"
)

// ResourceSlotCount is the reconciled availability of one resource on one
// date for one category. (Date, ResourceID, Category) is the upsert key.
type ResourceSlotCount struct {
	Date           time.Time         `gorm:"primaryKey;type:date" json:"date"`
	ResourceID     string            `gorm:"primaryKey;size:64" json:"resourceId"`
	Category       classify.Category `gorm:"primaryKey;size:32" json:"category"`
	ResourceLabel  string            `gorm:"size:256" json:"resourceLabel"`
	GroupKey       string            `gorm:"index;size:256" json:"groupKey"`
	TotalSlots     int               `gorm:"not null;check:total_slots >= 0" json:"totalSlots"`
	BookedSlots    int               `gorm:"not null;check:booked_slots >= 0" json:"bookedSlots"`
	AvailableSlots int               `gorm:"not null;check:available_slots >= 0" json:"availableSlots"`
	SyncedAt       time.Time         `gorm:"not null" json:"syncedAt"`
}

// GroupSlotCount is the same figure summed over every resource of a group.
// (Date, GroupKey, Category) is the upsert key.
type GroupSlotCount struct {
	Date           time.Time         `gorm:"primaryKey;type:date" json:"date"`
	GroupKey       string            `gorm:"primaryKey;size:256" json:"groupKey"`
	Category       classify.Category `gorm:"primaryKey;size:32" json:"category"`
	ResourceCount  int               `gorm:"not null" json:"resourceCount"`
	TotalSlots     int               `gorm:"not null;check:total_slots >= 0" json:"totalSlots"`
	BookedSlots    int               `gorm:"not null;check:booked_slots >= 0" json:"bookedSlots"`
	AvailableSlots int               `gorm:"not null;check:available_slots >= 0" json:"availableSlots"`
	SyncedAt       time.Time         `gorm:"not null" json:"syncedAt"`
}

func (ResourceSlotCount) TableName() string { return "slot_counts_by_resource" }

func (GroupSlotCount) TableName() string { return "slot_counts_by_group" }
