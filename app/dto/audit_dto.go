package dto

import "encoding/json"

// ListAuditRequest pages through an account's audit trail, newest first
type ListAuditRequest struct {
	Page     int `json:"page" validate:"min=1"`
	PageSize int `json:"page_size" validate:"min=1,max=100"`
}

// AuditLogDTO is one operator action as returned to operators
type AuditLogDTO struct {
	Action       string          `json:"action"`
	OperatorID   *string         `json:"operator_id,omitempty"`
	RunID        *string         `json:"run_id,omitempty"`
	Description  *string         `json:"description,omitempty"`
	Success      bool            `json:"success"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	RequestID    *string         `json:"request_id,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    string          `json:"created_at"`
}

type ListAuditResponse struct {
	Message    string        `json:"message"`
	Items      []AuditLogDTO `json:"items"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalItems int64         `json:"total_items"`
	HasNext    bool          `json:"has_next"`
}
