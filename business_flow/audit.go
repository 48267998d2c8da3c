package businessflow

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/repository"
	"github.com/amirphl/creator-console/utils"
)

// auditTrail writes operator actions to the audit log. A failed write is
// logged and never fails the action itself.
type auditTrail struct {
	repo   repository.AuditLogRepository
	logger *log.Logger
}

func (a auditTrail) record(ctx context.Context, accountID, action string, runID *uuid.UUID, description string, details map[string]any, opErr error, metadata *ClientMetadata) {
	if a.repo == nil {
		return
	}

	audit := &models.AuditLog{
		AccountID:   accountID,
		Action:      action,
		RunUUID:     runID,
		Description: &description,
		Success:     utils.ToPtr(opErr == nil),
	}
	if opErr != nil {
		audit.ErrorMessage = utils.ToPtr(opErr.Error())
	}
	if metadata != nil {
		if metadata.OperatorID != "" {
			audit.OperatorID = utils.ToPtr(metadata.OperatorID)
		}
		audit.IPAddress = utils.ToPtr(metadata.IPAddress)
		audit.UserAgent = utils.ToPtr(metadata.UserAgent)
		if metadata.RequestID != "" {
			audit.RequestID = utils.ToPtr(metadata.RequestID)
		}
	}
	if audit.RequestID == nil {
		if requestID, ok := ctx.Value(utils.RequestIDKey).(string); ok && requestID != "" {
			audit.RequestID = &requestID
		}
	}
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			audit.Metadata = raw
		}
	}

	if err := a.repo.Save(context.WithoutCancel(ctx), audit); err != nil {
		a.logger.Printf("audit: %s on account %s not recorded: %v", action, accountID, err)
	}
}
