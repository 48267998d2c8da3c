// Package businessflow contains the business logic for the application.
package businessflow

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amirphl/creator-console/app/dispatch"
	"github.com/amirphl/creator-console/app/dto"
	"github.com/amirphl/creator-console/app/services"
	"github.com/amirphl/creator-console/models"
)

const RequestIDKey = "X-Request-ID"

// ClientMetadata holds the caller information every flow receives.
// A nil *ClientMetadata stands for an internal caller such as the scheduler.
type ClientMetadata struct {
	IPAddress  string   `json:"ip_address"`
	UserAgent  string   `json:"user_agent"`
	RequestID  string   `json:"request_id,omitempty"`
	OperatorID string   `json:"operator_id,omitempty"`
	Accounts   []string `json:"accounts,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// SetOperator records the authenticated operator and the accounts they may act on
func (cm *ClientMetadata) SetOperator(operatorID string, accounts []string) {
	cm.OperatorID = operatorID
	cm.Accounts = append([]string(nil), accounts...)
}

// CanAccess reports whether the caller may act on accountID
func (cm *ClientMetadata) CanAccess(accountID string) bool {
	if cm == nil {
		return true
	}
	return slices.Contains(cm.Accounts, services.AllAccounts) || slices.Contains(cm.Accounts, accountID)
}

func checkAccount(accountID string, metadata *ClientMetadata) error {
	if strings.TrimSpace(accountID) == "" {
		return ErrAccountRequired
	}
	if !metadata.CanAccess(accountID) {
		return ErrAccountAccessDenied
	}
	return nil
}

func parseRunID(id string) (uuid.UUID, error) {
	runID, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return uuid.Nil, ErrInvalidRunID
	}
	return runID, nil
}

// ToAudienceRecordDTO converts an audience record for API responses
func ToAudienceRecordDTO(rec models.AudienceRecord) dto.AudienceRecordDTO {
	out := dto.AudienceRecordDTO{
		ID:          rec.ExternalID,
		DisplayName: rec.DisplayName,
		Handle:      rec.Handle,
		AvatarRef:   rec.AvatarRef,
		Source:      string(rec.Source),
		Attributes:  rec.Attributes,
	}
	if !rec.CreatedAt.IsZero() {
		out.CreatedAt = formatTime(rec.CreatedAt)
	}
	return out
}

// ToDispatchResultDTO converts one dispatch result for API responses
func ToDispatchResultDTO(res dispatch.Result) dto.DispatchResultDTO {
	return dto.DispatchResultDTO{
		RecipientID: res.RecipientID,
		Outcome:     string(res.Outcome),
		ErrorDetail: res.ErrorDetail,
		Text:        res.Text,
		AttemptedAt: formatTime(res.AttemptedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
