package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DispatchRunStatus enumerates lifecycle states of a dispatch run
type DispatchRunStatus string

const (
	DispatchRunStatusScheduled DispatchRunStatus = "scheduled"
	DispatchRunStatusRunning   DispatchRunStatus = "running"
	DispatchRunStatusCompleted DispatchRunStatus = "completed"
	DispatchRunStatusCancelled DispatchRunStatus = "cancelled"
	DispatchRunStatusFailed    DispatchRunStatus = "failed"
)

// Terminal reports whether no further transitions are possible
func (s DispatchRunStatus) Terminal() bool {
	return s == DispatchRunStatusCompleted || s == DispatchRunStatusCancelled || s == DispatchRunStatusFailed
}

// DispatchRun is the audit row for one bulk send.
// RecipientIDs is the snapshot taken when the run was created, in send order.
// Table: dispatch_runs
type DispatchRun struct {
	ID           uint              `gorm:"primaryKey" json:"-"`
	UUID         uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:uk_dispatch_runs_uuid" json:"uuid"`
	AccountID    string            `gorm:"size:64;not null;index:idx_dispatch_runs_account_id" json:"account_id"`
	RecipientIDs pq.StringArray    `gorm:"type:text[];not null" json:"recipient_ids"`
	Template     string            `gorm:"type:text;not null" json:"template"`
	Personalize  bool              `gorm:"not null;default:false" json:"personalize"`
	DelayMs      int64             `gorm:"not null" json:"delay_ms"`
	Status       DispatchRunStatus `gorm:"size:16;not null;index:idx_dispatch_runs_status" json:"status"`
	ScheduleAt   *time.Time        `gorm:"index:idx_dispatch_runs_schedule_at" json:"schedule_at,omitempty"`
	RetryOf      *uuid.UUID        `gorm:"type:uuid" json:"retry_of,omitempty"`
	SentCount    int               `gorm:"not null;default:0" json:"sent_count"`
	FailedCount  int               `gorm:"not null;default:0" json:"failed_count"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (DispatchRun) TableName() string { return "dispatch_runs" }

// Delay returns the configured inter-send delay
func (r DispatchRun) Delay() time.Duration {
	return time.Duration(r.DelayMs) * time.Millisecond
}

// DispatchRunFilter provides filter fields for repository queries
type DispatchRunFilter struct {
	ID             *uint
	UUID           *uuid.UUID
	AccountID      *string
	Status         *DispatchRunStatus
	ScheduleBefore *time.Time
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
}
