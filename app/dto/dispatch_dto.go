package dto

import "time"

// StartDispatchRequest creates a bulk send over a fixed recipient list.
// Runs with ScheduleAt in the future are launched by the scheduler.
type StartDispatchRequest struct {
	RecipientIDs []string   `json:"recipient_ids" validate:"required,min=1,max=5000,dive,required,max=64"`
	Template     string     `json:"template" validate:"required,max=2000"`
	Personalize  bool       `json:"personalize"`
	DelayMs      *int64     `json:"delay_ms,omitempty" validate:"omitempty,gte=0"`
	ScheduleAt   *time.Time `json:"schedule_at,omitempty"`
}

type UpdateTemplateRequest struct {
	Template string `json:"template" validate:"required,max=2000"`
}

// RetryDispatchRequest starts a new run over the failed recipients of a finished run
type RetryDispatchRequest struct {
	Template *string `json:"template,omitempty" validate:"omitempty,max=2000"`
	DelayMs  *int64  `json:"delay_ms,omitempty" validate:"omitempty,gte=0"`
}

type DispatchResultDTO struct {
	RecipientID string `json:"recipient_id"`
	Outcome     string `json:"outcome"`
	ErrorDetail string `json:"error_detail,omitempty"`
	Text        string `json:"text"`
	AttemptedAt string `json:"attempted_at"`
}

type ConversationSyncDTO struct {
	Synced   int               `json:"synced"`
	Skipped  int               `json:"skipped"`
	Failures map[string]string `json:"failures,omitempty"`
}

// DispatchStatusResponse is the state of a dispatch run.
// Live is true while the run executes in this process.
type DispatchStatusResponse struct {
	RunID        string               `json:"run_id"`
	AccountID    string               `json:"account_id"`
	Status       string               `json:"status"`
	Live         bool                 `json:"live"`
	Total        int                  `json:"total"`
	Sent         int                  `json:"sent"`
	Failed       int                  `json:"failed"`
	NotAttempted int                  `json:"not_attempted"`
	Template     string               `json:"template"`
	Personalize  bool                 `json:"personalize"`
	DelayMs      int64                `json:"delay_ms"`
	ScheduleAt   *string              `json:"schedule_at,omitempty"`
	RetryOf      *string              `json:"retry_of,omitempty"`
	StartedAt    *string              `json:"started_at,omitempty"`
	FinishedAt   *string              `json:"finished_at,omitempty"`
	Results      []DispatchResultDTO  `json:"results,omitempty"`
	Sync         *ConversationSyncDTO `json:"conversation_sync,omitempty"`
}
