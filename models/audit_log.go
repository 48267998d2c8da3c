package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog records an operator action on an account's audience or runs
type AuditLog struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	OperatorID   *string         `gorm:"size:64;index:idx_audit_operator_id" json:"operator_id,omitempty"`
	AccountID    string          `gorm:"size:64;not null;index:idx_audit_account_id" json:"account_id"`
	Action       string          `gorm:"size:64;not null;index:idx_audit_action" json:"action"`
	RunUUID      *uuid.UUID      `gorm:"type:uuid;index:idx_audit_run_uuid" json:"run_uuid,omitempty"`
	Description  *string         `gorm:"type:text" json:"description,omitempty"`
	IPAddress    *string         `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent    *string         `gorm:"type:text" json:"user_agent,omitempty"`
	RequestID    *string         `gorm:"size:255;index:idx_audit_request_id" json:"request_id,omitempty"`
	Metadata     json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	Success      *bool           `gorm:"default:true;index:idx_audit_success" json:"success"`
	ErrorMessage *string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time       `gorm:"default:CURRENT_TIMESTAMP;index:idx_audit_created_at" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}

// Audit action constants
const (
	AuditActionAudienceAdded        = "audience_added"
	AuditActionAudienceRemoved      = "audience_removed"
	AuditActionAudienceEnriched     = "audience_enriched"
	AuditActionAcquisitionStarted   = "acquisition_started"
	AuditActionAcquisitionCancelled = "acquisition_cancelled"
	AuditActionDispatchCreated      = "dispatch_created"
	AuditActionDispatchCancelled    = "dispatch_cancelled"
	AuditActionDispatchRetried      = "dispatch_retried"
	AuditActionTemplateUpdated      = "template_updated"
)

// AuditLogFilter represents filter criteria for audit log queries
type AuditLogFilter struct {
	ID            *uint
	OperatorID    *string
	AccountID     *string
	Action        *string
	RunUUID       *uuid.UUID
	Success       *bool
	RequestID     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (a *AuditLog) IsFailed() bool {
	return a.Success != nil && !*a.Success
}
