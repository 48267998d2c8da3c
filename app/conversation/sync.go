// Package conversation keeps one conversation per successfully messaged
// recipient after a dispatch run.
package conversation

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/creator-console/app/dispatch"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/utils"
)

// Fields are written on every upsert. Identity fields are only used when
// the conversation does not exist yet.
type Fields struct {
	DisplayName   string
	Handle        string
	AvatarRef     *string
	Preview       string
	LastMessageAt time.Time
}

// Upserter creates or refreshes the conversation keyed by (accountID, recipientID)
type Upserter interface {
	UpsertConversation(ctx context.Context, accountID, recipientID string, f Fields) error
}

// Failure is a bookkeeping error for one recipient; it never changes the dispatch outcome
type Failure struct {
	RecipientID string `json:"recipient_id"`
	Error       string `json:"error"`
}

type Report struct {
	Synced   int       `json:"synced"`
	Skipped  int       `json:"skipped"`
	Failures []Failure `json:"failures,omitempty"`
}

type Syncer struct {
	upserter      Upserter
	previewLength int
	logger        *log.Logger
}

func NewSyncer(upserter Upserter, previewLength int, logger *log.Logger) *Syncer {
	if previewLength <= 0 {
		previewLength = utils.DefaultPreviewLength
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Syncer{upserter: upserter, previewLength: previewLength, logger: logger}
}

// Sync upserts a conversation for each successful result. Recipients are
// looked up in the job snapshot for their identity fields.
func (s *Syncer) Sync(ctx context.Context, accountID string, recipients []models.AudienceRecord, results []dispatch.Result) Report {
	byID := make(map[string]models.AudienceRecord, len(recipients))
	for _, r := range recipients {
		byID[r.ExternalID] = r
	}

	var report Report
	for _, res := range results {
		if !res.Succeeded() {
			report.Skipped++
			continue
		}
		rec := byID[res.RecipientID]
		f := Fields{
			DisplayName:   rec.DisplayName,
			Handle:        rec.Handle,
			AvatarRef:     rec.AvatarRef,
			Preview:       utils.Truncate(res.Text, s.previewLength),
			LastMessageAt: res.AttemptedAt,
		}
		if f.LastMessageAt.IsZero() {
			f.LastMessageAt = utils.UTCNow()
		}
		if err := s.upserter.UpsertConversation(ctx, accountID, res.RecipientID, f); err != nil {
			s.logger.Printf("conversation: upsert failed account=%s recipient=%s: %v", accountID, res.RecipientID, err)
			report.Failures = append(report.Failures, Failure{RecipientID: res.RecipientID, Error: err.Error()})
			continue
		}
		report.Synced++
	}
	return report
}
