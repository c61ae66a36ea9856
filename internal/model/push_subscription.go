package model

import "time"

// PushSubscription holds a browser push subscription that receives sync
// alerts.
type PushSubscription struct {
	Endpoint      string    `gorm:"primaryKey"`
	P256DH        string    `gorm:"column:p256dh;not null"`
	Auth          string    `gorm:"not null"`
	NotifyPartial bool      `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}
