package businessflow

import (
	"context"
	"log"

	"github.com/amirphl/creator-console/app/dto"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/repository"
)

// AuditFlow exposes the operator audit trail of an account
type AuditFlow interface {
	ListAudit(ctx context.Context, accountID string, req *dto.ListAuditRequest, metadata *ClientMetadata) (*dto.ListAuditResponse, error)
}

type AuditFlowImpl struct {
	auditRepo repository.AuditLogRepository
	logger    *log.Logger
}

func NewAuditFlow(auditRepo repository.AuditLogRepository, logger *log.Logger) AuditFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &AuditFlowImpl{auditRepo: auditRepo, logger: logger}
}

// ListAudit returns one page of the account's audit trail, newest first
func (f *AuditFlowImpl) ListAudit(ctx context.Context, accountID string, req *dto.ListAuditRequest, metadata *ClientMetadata) (*dto.ListAuditResponse, error) {
	if err := checkAccount(accountID, metadata); err != nil {
		return nil, NewBusinessError("LIST_AUDIT_FAILED", "Failed to list audit trail", err)
	}

	page, pageSize := 1, 20
	if req != nil {
		if req.Page > 0 {
			page = req.Page
		}
		if req.PageSize > 0 {
			pageSize = req.PageSize
		}
	}

	total, err := f.auditRepo.Count(ctx, models.AuditLogFilter{AccountID: &accountID})
	if err != nil {
		return nil, NewBusinessError("LIST_AUDIT_FAILED", "Failed to count audit entries", err)
	}
	logs, err := f.auditRepo.ListByAccount(ctx, accountID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("LIST_AUDIT_FAILED", "Failed to list audit trail", err)
	}

	items := make([]dto.AuditLogDTO, 0, len(logs))
	for _, l := range logs {
		items = append(items, ToAuditLogDTO(l))
	}
	return &dto.ListAuditResponse{
		Message:    "Audit trail retrieved successfully",
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		HasNext:    int64(page*pageSize) < total,
	}, nil
}

// ToAuditLogDTO converts an audit entry for API responses
func ToAuditLogDTO(l *models.AuditLog) dto.AuditLogDTO {
	out := dto.AuditLogDTO{
		Action:       l.Action,
		OperatorID:   l.OperatorID,
		Description:  l.Description,
		Success:      l.Success == nil || *l.Success,
		ErrorMessage: l.ErrorMessage,
		RequestID:    l.RequestID,
		Metadata:     l.Metadata,
		CreatedAt:    formatTime(l.CreatedAt),
	}
	if l.RunUUID != nil {
		id := l.RunUUID.String()
		out.RunID = &id
	}
	return out
}
