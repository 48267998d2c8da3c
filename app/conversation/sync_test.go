package conversation

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/creator-console/app/dispatch"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/utils"
)

func success(id, text string) dispatch.Result {
	return dispatch.Result{RecipientID: id, Outcome: models.DispatchOutcomeSuccess, Text: text, AttemptedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func failure(id string) dispatch.Result {
	return dispatch.Result{RecipientID: id, Outcome: models.DispatchOutcomeFailure, ErrorDetail: "blocked"}
}

func recipients() []models.AudienceRecord {
	return []models.AudienceRecord{
		{ExternalID: "u1", DisplayName: "Ann", Handle: "@ann"},
		{ExternalID: "u2", DisplayName: "Ben", Handle: "@ben"},
		{ExternalID: "u3", DisplayName: "Cid", Handle: "@cid"},
	}
}

func quietSyncer(u Upserter, previewLength int) *Syncer {
	return NewSyncer(u, previewLength, log.New(io.Discard, "", 0))
}

func TestSyncOnlySuccesses(t *testing.T) {
	store := NewMemoryUpserter()
	report := quietSyncer(store, 0).Sync(context.Background(), "acct", recipients(), []dispatch.Result{
		success("u1", "hi Ann"),
		failure("u2"),
		success("u3", "hi Cid"),
	})

	assert.Equal(t, 2, report.Synced)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, report.Failures)

	rows := store.List("acct")
	require.Len(t, rows, 2)
	assert.Equal(t, "u1", rows[0].RecipientID)
	assert.Equal(t, "Ann", rows[0].DisplayName)
	assert.True(t, rows[0].AIEnabled)
	assert.True(t, rows[0].Unread)
	assert.Equal(t, "hi Ann", rows[0].LastMessagePreview)
}

func TestSyncIsIdempotent(t *testing.T) {
	store := NewMemoryUpserter()
	s := quietSyncer(store, 0)
	results := []dispatch.Result{success("u1", "hi"), success("u2", "hi")}

	s.Sync(context.Background(), "acct", recipients(), results)
	s.Sync(context.Background(), "acct", recipients(), results)

	assert.Len(t, store.List("acct"), 2)
}

func TestSyncUpdatesExistingWithoutTouchingIdentity(t *testing.T) {
	store := NewMemoryUpserter()
	store.Put(models.Conversation{
		AccountID:   "acct",
		RecipientID: "u1",
		DisplayName: "Ann from last campaign",
		Handle:      "@ann_old",
	})

	quietSyncer(store, 0).Sync(context.Background(), "acct", recipients(), []dispatch.Result{success("u1", "new text")})

	rows := store.List("acct")
	require.Len(t, rows, 1)
	assert.Equal(t, "Ann from last campaign", rows[0].DisplayName)
	assert.Equal(t, "@ann_old", rows[0].Handle)
	assert.True(t, rows[0].AIEnabled)
	assert.True(t, rows[0].Unread)
	assert.Equal(t, "new text", rows[0].LastMessagePreview)
	require.NotNil(t, rows[0].LastMessageAt)
}

func TestSyncTruncatesPreview(t *testing.T) {
	store := NewMemoryUpserter()
	quietSyncer(store, 5).Sync(context.Background(), "acct", recipients(), []dispatch.Result{success("u1", strings.Repeat("x", 20))})
	assert.Equal(t, "xxxxx", store.List("acct")[0].LastMessagePreview)
}

type flakyUpserter struct {
	*MemoryUpserter
	failFor string
}

func (f flakyUpserter) UpsertConversation(ctx context.Context, accountID, recipientID string, fields Fields) error {
	if recipientID == f.failFor {
		return errors.New("deadlock detected")
	}
	return f.MemoryUpserter.UpsertConversation(ctx, accountID, recipientID, fields)
}

func TestSyncReportsFailuresPerRecipient(t *testing.T) {
	mem := NewMemoryUpserter()
	results := []dispatch.Result{success("u1", "a"), success("u2", "b"), success("u3", "c")}

	report := quietSyncer(flakyUpserter{MemoryUpserter: mem, failFor: "u2"}, 0).
		Sync(context.Background(), "acct", recipients(), results)

	assert.Equal(t, 2, report.Synced)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, Failure{RecipientID: "u2", Error: "deadlock detected"}, report.Failures[0])
	assert.Len(t, mem.List("acct"), 2)

	// results are not altered by bookkeeping failures
	assert.Equal(t, models.DispatchOutcomeSuccess, results[1].Outcome)
}

func TestSyncStampsMissingAttemptTime(t *testing.T) {
	store := NewMemoryUpserter()
	before := utils.UTCNow()
	quietSyncer(store, 0).Sync(context.Background(), "acct", nil, []dispatch.Result{
		{RecipientID: "u9", Outcome: models.DispatchOutcomeSuccess, Text: "hi"},
	})
	rows := store.List("acct")
	require.Len(t, rows, 1)
	assert.False(t, rows[0].LastMessageAt.Before(before))
}
