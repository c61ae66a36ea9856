package model

import (
	"time"

	"slot-sync-backend/internal/classify"
)

// AppointmentStatus is the booking state reported by the vendor.
type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusCanceled    AppointmentStatus = "canceled"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

// Appointment is one vendor booking. ExternalID is the upsert key; a later
// sync overwrites every other column.
type Appointment struct {
	ExternalID        string            `gorm:"primaryKey;size:64" json:"externalId"`
	ResourceID        string            `gorm:"index;size:64" json:"resourceId"`
	ResourceLabel     string            `gorm:"size:256" json:"resourceLabel"`
	GroupKey          string            `gorm:"index;size:256" json:"groupKey"`
	TypeID            string            `gorm:"index;size:64;not null" json:"typeId"`
	TypeLabel         string            `gorm:"size:256" json:"typeLabel"`
	Category          classify.Category `gorm:"index;size:32;not null" json:"category"`
	CategoryDefaulted bool              `gorm:"not null;default:false" json:"categoryDefaulted"`
	StartTime         time.Time         `gorm:"index;not null" json:"startTime"`
	EndTime           time.Time         `gorm:"not null" json:"endTime"`
	Status            AppointmentStatus `gorm:"size:16;not null" json:"status"`
	SyncedAt          time.Time         `gorm:"not null" json:"syncedAt"`
}

// Booked reports whether the appointment occupies a slot.
func (a Appointment) Booked() bool {
	return a.Status != StatusCanceled
}
