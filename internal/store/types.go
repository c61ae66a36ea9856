package store

import (
	"time"

	"gorm.io/gorm"

	"slot-sync-backend/internal/classify"
)

// MaxAppointmentPage caps ListAppointments.
const MaxAppointmentPage = 1000

// UpsertResult reports how a batched upsert went. Failed holds the keys of
// rows that could not be written even individually.
type UpsertResult struct {
	Written int
	Failed  []string
}

// SlotQuery filters slot count listings. Zero fields match everything.
type SlotQuery struct {
	From     time.Time
	To       time.Time
	Category classify.Category
	Scope    string
	Group    string
}

func (q SlotQuery) apply(tx *gorm.DB) *gorm.DB {
	if !q.From.IsZero() {
		tx = tx.Where("date >= ?", q.From)
	}
	if !q.To.IsZero() {
		tx = tx.Where("date <= ?", q.To)
	}
	if q.Category != "" {
		tx = tx.Where("category = ?", q.Category)
	}
	return tx
}

// AppointmentQuery filters appointment listings. To is exclusive.
type AppointmentQuery struct {
	From            time.Time
	To              time.Time
	ResourceID      string
	Category        classify.Category
	IncludeCanceled bool
	Limit           int
}
