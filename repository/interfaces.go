// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/amirphl/creator-console/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// AudienceRecordRepository defines operations for persisted audience records
type AudienceRecordRepository interface {
	Repository[models.AudienceRecord, models.AudienceRecordFilter]
	ByAccount(ctx context.Context, accountID string) ([]*models.AudienceRecord, error)
	// InsertNew inserts records whose (account_id, external_id) is not stored yet and returns how many were inserted
	InsertNew(ctx context.Context, records []*models.AudienceRecord) (int64, error)
	DeleteByExternalIDs(ctx context.Context, accountID string, externalIDs []string) (int64, error)
	UpdateAttributes(ctx context.Context, accountID, externalID string, attributes map[string]string) error
}

// ConversationRepository defines operations for conversations.
// The inbox owns reads; this service only writes its bookkeeping rows.
type ConversationRepository interface {
	// Upsert inserts c or refreshes the automation and last-message columns of the existing row
	Upsert(ctx context.Context, c *models.Conversation) error
}

// DispatchRunRepository defines operations for dispatch runs
type DispatchRunRepository interface {
	Repository[models.DispatchRun, models.DispatchRunFilter]
	ByUUID(ctx context.Context, id uuid.UUID) (*models.DispatchRun, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.DispatchRun, error)
	// MarkRunning moves a scheduled run to running and reports whether this caller won the transition
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	Finish(ctx context.Context, id uuid.UUID, status models.DispatchRunStatus, sent, failed int, finishedAt time.Time) error
	UpdateTemplate(ctx context.Context, id uuid.UUID, template string) error
	// ResetRunning returns runs left running by a dead process to failed
	ResetRunning(ctx context.Context, finishedAt time.Time) (int64, error)
}

// DispatchResultRepository defines operations for per-recipient dispatch results
type DispatchResultRepository interface {
	Repository[models.DispatchResult, models.DispatchResultFilter]
	ByRun(ctx context.Context, runID uuid.UUID) ([]*models.DispatchResult, error)
	FailedRecipientIDs(ctx context.Context, runID uuid.UUID) ([]string, error)
}

// AuditLogRepository defines operations for the operator audit trail
type AuditLogRepository interface {
	Repository[models.AuditLog, models.AuditLogFilter]
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*models.AuditLog, error)
}

// Transactor runs fn inside one database transaction; repositories called
// with the context handed to fn join it
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}
