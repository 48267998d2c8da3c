package models

import (
	"time"

	"github.com/google/uuid"
)

// DispatchOutcome is the per-recipient result of a send attempt
type DispatchOutcome string

const (
	DispatchOutcomeSuccess DispatchOutcome = "success"
	DispatchOutcomeFailure DispatchOutcome = "failure"
)

// DispatchResult records the single attempt made for one recipient in one run
// Table: dispatch_results
type DispatchResult struct {
	ID          uint            `gorm:"primaryKey" json:"-"`
	RunUUID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_dispatch_results_run_recipient,priority:1" json:"run_uuid"`
	RecipientID string          `gorm:"size:64;not null;uniqueIndex:uk_dispatch_results_run_recipient,priority:2" json:"recipient_id"`
	Outcome     DispatchOutcome `gorm:"size:16;not null;index:idx_dispatch_results_outcome" json:"outcome"`
	ErrorDetail string          `gorm:"type:text" json:"error_detail,omitempty"`
	Text        string          `gorm:"type:text" json:"text"`
	AttemptedAt time.Time       `gorm:"not null" json:"attempted_at"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

func (DispatchResult) TableName() string { return "dispatch_results" }

// DispatchResultFilter provides filter fields for repository queries
type DispatchResultFilter struct {
	ID          *uint
	RunUUID     *uuid.UUID
	RecipientID *string
	Outcome     *DispatchOutcome
}
