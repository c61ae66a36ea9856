package model

import (
	"time"

	"slot-sync-backend/internal/apperr"
)

// RunState is the lifecycle of a sync run:
// Pending -> Running -> {Success | PartialFailure | Failure}.
type RunState string

const (
	RunPending        RunState = "pending"
	RunRunning        RunState = "running"
	RunSuccess        RunState = "success"
	RunPartialFailure RunState = "partial_failure"
	RunFailure        RunState = "failure"
)

// Terminal reports whether the run has finished.
func (s RunState) Terminal() bool {
	return s == RunSuccess || s == RunPartialFailure || s == RunFailure
}

// SyncRun is the persisted summary of one sync pass.
type SyncRun struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	State        RunState       `gorm:"index;size:16;not null" json:"state"`
	Trigger      string         `gorm:"size:16" json:"trigger"`
	WindowStart  time.Time      `gorm:"type:date" json:"windowStart"`
	WindowEnd    time.Time      `gorm:"type:date" json:"windowEnd"`
	StartedAt    time.Time      `gorm:"index;not null" json:"startedAt"`
	FinishedAt   *time.Time     `json:"finishedAt,omitempty"`
	Synced       int            `gorm:"not null" json:"synced"`
	Skipped      int            `gorm:"not null" json:"skipped"`
	Failed       int            `gorm:"not null" json:"failed"`
	Unclassified int            `gorm:"not null" json:"unclassified"`
	Error        string         `gorm:"size:1024" json:"error,omitempty"`
	Sample       []apperr.Event `gorm:"serializer:json" json:"sample,omitempty"`
}
