// Package adapters bridges the persistence layer to the pipeline ports of the
// acquisition, dispatch and conversation packages
package adapters

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/amirphl/creator-console/app/audience"
	"github.com/amirphl/creator-console/app/conversation"
	"github.com/amirphl/creator-console/app/dispatch"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/repository"
	"github.com/amirphl/creator-console/utils"
)

// ConversationUpserter adapts ConversationRepository to conversation.Upserter
type ConversationUpserter struct {
	repo repository.ConversationRepository
}

func NewConversationUpserter(repo repository.ConversationRepository) *ConversationUpserter {
	return &ConversationUpserter{repo: repo}
}

func (a *ConversationUpserter) UpsertConversation(ctx context.Context, accountID, recipientID string, f conversation.Fields) error {
	at := f.LastMessageAt
	return a.repo.Upsert(ctx, &models.Conversation{
		AccountID:          accountID,
		RecipientID:        recipientID,
		DisplayName:        f.DisplayName,
		Handle:             f.Handle,
		AvatarRef:          f.AvatarRef,
		AIEnabled:          true,
		Unread:             true,
		LastMessageAt:      &at,
		LastMessagePreview: f.Preview,
	})
}

// PersistingSink merges acquisition pages into the in-memory store and
// writes the whole page to the database
type PersistingSink struct {
	Store  *audience.Store
	Repo   repository.AudienceRecordRepository
	Source models.AudienceSource
}

func (s PersistingSink) MergePage(ctx context.Context, records []models.AudienceRecord) (int, error) {
	if s.Source != "" {
		for i := range records {
			if records[i].Source == "" {
				records[i].Source = s.Source
			}
		}
	}
	added := s.Store.Merge(records)
	if err := PersistRecords(ctx, s.Repo, s.Store, records); err != nil {
		return len(added), fmt.Errorf("persist audience page: %w", err)
	}
	return len(added), nil
}

// PersistRecords writes the stored version of every record id in records.
// Rows already in the database are skipped by InsertNew, so a record whose
// earlier write failed is written by the next merge that carries it.
func PersistRecords(ctx context.Context, repo repository.AudienceRecordRepository, store *audience.Store, records []models.AudienceRecord) error {
	if repo == nil || len(records) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(records))
	rows := make([]*models.AudienceRecord, 0, len(records))
	for _, r := range records {
		if _, dup := seen[r.ExternalID]; dup {
			continue
		}
		seen[r.ExternalID] = struct{}{}
		if rec, ok := store.ByID(r.ExternalID); ok {
			rows = append(rows, &rec)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	_, err := repo.InsertNew(ctx, rows)
	return err
}

// DispatchResultRecorder writes each dispatch result as soon as it is known
type DispatchResultRecorder struct {
	repo  repository.DispatchResultRepository
	runID uuid.UUID
}

func NewDispatchResultRecorder(repo repository.DispatchResultRepository, runID uuid.UUID) *DispatchResultRecorder {
	return &DispatchResultRecorder{repo: repo, runID: runID}
}

func (r *DispatchResultRecorder) Record(ctx context.Context, res dispatch.Result) error {
	attemptedAt := res.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = utils.UTCNow()
	}
	return r.repo.Save(ctx, &models.DispatchResult{
		RunUUID:     r.runID,
		RecipientID: res.RecipientID,
		Outcome:     res.Outcome,
		ErrorDetail: res.ErrorDetail,
		Text:        res.Text,
		AttemptedAt: attemptedAt,
	})
}

// ResultFromModel converts a persisted result back to the dispatch form
func ResultFromModel(m *models.DispatchResult) dispatch.Result {
	return dispatch.Result{
		RecipientID: m.RecipientID,
		Outcome:     m.Outcome,
		ErrorDetail: m.ErrorDetail,
		Text:        m.Text,
		AttemptedAt: m.AttemptedAt,
	}
}
