package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/creator-console/app/audience"
	"github.com/amirphl/creator-console/app/conversation"
	"github.com/amirphl/creator-console/app/dispatch"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/repository"
)

// stubAudienceRepo keeps the first row written per id, like ON CONFLICT DO NOTHING
type stubAudienceRepo struct {
	repository.AudienceRecordRepository
	inserted []*models.AudienceRecord
	err      error
}

func (r *stubAudienceRepo) InsertNew(_ context.Context, records []*models.AudienceRecord) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	for _, rec := range records {
		if r.find(rec.ExternalID) != nil {
			continue
		}
		c := *rec
		r.inserted = append(r.inserted, &c)
		n++
	}
	return n, nil
}

func (r *stubAudienceRepo) find(id string) *models.AudienceRecord {
	for _, rec := range r.inserted {
		if rec.ExternalID == id {
			return rec
		}
	}
	return nil
}

type stubConversationRepo struct {
	repository.ConversationRepository
	saved []*models.Conversation
}

func (r *stubConversationRepo) Upsert(_ context.Context, c *models.Conversation) error {
	r.saved = append(r.saved, c)
	return nil
}

type stubResultRepo struct {
	repository.DispatchResultRepository
	saved []*models.DispatchResult
}

func (r *stubResultRepo) Save(_ context.Context, res *models.DispatchResult) error {
	r.saved = append(r.saved, res)
	return nil
}

func TestPersistingSinkWritesStoredVersions(t *testing.T) {
	store := audience.NewStore("acct")
	store.Add(models.AudienceRecord{AccountID: "acct", ExternalID: "a", DisplayName: "from inbox", Source: models.AudienceSourceConversation})
	repo := &stubAudienceRepo{}
	sink := PersistingSink{Store: store, Repo: repo, Source: models.AudienceSourceFollower}

	added, err := sink.MergePage(context.Background(), []models.AudienceRecord{
		{AccountID: "acct", ExternalID: "a", DisplayName: "from followers"},
		{AccountID: "acct", ExternalID: "b"},
		{AccountID: "acct", ExternalID: "b"},
		{AccountID: "acct", ExternalID: "c", Source: models.AudienceSourceDiscovered},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 3, store.Len())

	require.Len(t, repo.inserted, 3)
	assert.Equal(t, "from inbox", repo.find("a").DisplayName)
	assert.Equal(t, models.AudienceSourceConversation, repo.find("a").Source)
	assert.Equal(t, models.AudienceSourceFollower, repo.find("b").Source)
	assert.Equal(t, models.AudienceSourceDiscovered, repo.find("c").Source)

	a, ok := store.ByID("a")
	require.True(t, ok)
	assert.Equal(t, models.AudienceSourceConversation, a.Source)
}

func TestPersistingSinkReportsRepositoryFailure(t *testing.T) {
	store := audience.NewStore("acct")
	sink := PersistingSink{Store: store, Repo: &stubAudienceRepo{err: errors.New("disk full")}}

	added, err := sink.MergePage(context.Background(), []models.AudienceRecord{{AccountID: "acct", ExternalID: "a"}})
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, added)
}

func TestPersistingSinkRewritesPageAfterFailedWrite(t *testing.T) {
	store := audience.NewStore("acct")
	repo := &stubAudienceRepo{err: errors.New("db down")}
	sink := PersistingSink{Store: store, Repo: repo, Source: models.AudienceSourceFollower}
	page := []models.AudienceRecord{
		{AccountID: "acct", ExternalID: "a"},
		{AccountID: "acct", ExternalID: "b"},
	}

	added, err := sink.MergePage(context.Background(), page)
	require.Error(t, err)
	assert.Equal(t, 2, added)
	assert.Empty(t, repo.inserted)

	// the database is back; the records are already in memory but still get written
	repo.err = nil
	added, err = sink.MergePage(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, store.Len())
	require.Len(t, repo.inserted, 2)
	assert.Equal(t, models.AudienceSourceFollower, repo.find("a").Source)
}

func TestPersistingSinkWithoutRepository(t *testing.T) {
	sink := PersistingSink{Store: audience.NewStore("acct")}
	added, err := sink.MergePage(context.Background(), []models.AudienceRecord{{AccountID: "acct", ExternalID: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
}

func TestConversationUpserterMarksConversationForAutomation(t *testing.T) {
	repo := &stubConversationRepo{}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	err := NewConversationUpserter(repo).UpsertConversation(context.Background(), "acct", "r1", conversation.Fields{
		DisplayName:   "Ray",
		Handle:        "ray",
		Preview:       "hello",
		LastMessageAt: at,
	})
	require.NoError(t, err)
	require.Len(t, repo.saved, 1)

	c := repo.saved[0]
	assert.Equal(t, "acct", c.AccountID)
	assert.Equal(t, "r1", c.RecipientID)
	assert.True(t, c.AIEnabled)
	assert.True(t, c.Unread)
	assert.Equal(t, "hello", c.LastMessagePreview)
	require.NotNil(t, c.LastMessageAt)
	assert.True(t, at.Equal(*c.LastMessageAt))
}

func TestDispatchResultRecorderRoundTrip(t *testing.T) {
	repo := &stubResultRepo{}
	runID := uuid.New()
	rec := NewDispatchResultRecorder(repo, runID)

	res := dispatch.Result{
		RecipientID: "r1",
		Outcome:     models.DispatchOutcomeFailure,
		ErrorDetail: "blocked",
		Text:        "hi",
	}
	require.NoError(t, rec.Record(context.Background(), res))
	require.Len(t, repo.saved, 1)

	saved := repo.saved[0]
	assert.Equal(t, runID, saved.RunUUID)
	assert.False(t, saved.AttemptedAt.IsZero())

	back := ResultFromModel(saved)
	assert.Equal(t, "r1", back.RecipientID)
	assert.Equal(t, "blocked", back.ErrorDetail)
	assert.False(t, back.Succeeded())
}
