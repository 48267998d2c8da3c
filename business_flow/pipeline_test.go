package businessflow

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/creator-console/app/dto"
	"github.com/amirphl/creator-console/app/services"
	"github.com/amirphl/creator-console/models"
)

// Five followers served two at a time (pages of 2, 2, 1), then one message to each
func TestAcquireThenDispatchToWholeAudience(t *testing.T) {
	graph := services.NewMockGraph(5, 2)
	env := newTestEnv(t, graph)
	ctx := context.Background()
	md := operator("acct")

	started, err := env.acquisition.StartAcquisition(ctx, "acct", &dto.StartAcquisitionRequest{}, md)
	require.NoError(t, err)
	env.waitAcquisition(t, started.RunID)

	acq, err := env.acquisition.AcquisitionStatus(ctx, started.RunID, md)
	require.NoError(t, err)
	assert.Equal(t, "completed", acq.State)
	assert.Equal(t, "done", acq.Phase)
	assert.Equal(t, 3, acq.ChunkIndex)
	assert.Equal(t, 5, acq.FetchedCount)
	assert.Equal(t, 5, acq.Added)
	assert.Equal(t, 5, acq.DisplayCount)
	assert.Equal(t, 5, env.audienceRepo.count())

	total, err := env.totals.Get(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	list, err := env.audience.ListAudience(ctx, "acct", &dto.ListAudienceRequest{Source: "follower"}, md)
	require.NoError(t, err)
	require.Len(t, list.Items, 5)
	assert.Equal(t, "Follower 1", list.Items[0].DisplayName)

	run, err := env.dispatch.StartDispatch(ctx, "acct", &dto.StartDispatchRequest{
		RecipientIDs: followerIDs("acct", 5),
		Template:     "Hi {name}!",
		Personalize:  true,
	}, md)
	require.NoError(t, err)
	env.waitDispatch(t, run.RunID)

	status, err := env.dispatch.DispatchStatus(ctx, run.RunID, md)
	require.NoError(t, err)
	assert.False(t, status.Live)
	assert.Equal(t, string(models.DispatchRunStatusCompleted), status.Status)
	assert.Equal(t, 5, status.Total)
	assert.Equal(t, 5, status.Sent)
	assert.Equal(t, 0, status.Failed)
	assert.Equal(t, 0, status.NotAttempted)
	require.NotNil(t, status.Sync)
	assert.Equal(t, 5, status.Sync.Synced)

	sent := graph.Sent()
	require.Len(t, sent, 5)
	for i, m := range sent {
		assert.Equal(t, followerIDs("acct", 5)[i], m.RecipientID)
	}
	assert.Equal(t, "Hi Follower 1!", sent[0].Text)
	assert.Equal(t, "Hi Follower 5!", sent[4].Text)

	convs := env.upserter.List("acct")
	require.Len(t, convs, 5)
	for _, c := range convs {
		assert.True(t, c.AIEnabled)
		assert.True(t, c.Unread)
		assert.NotNil(t, c.LastMessageAt)
	}

	results, err := env.resultRepo.ByRun(ctx, uuid.MustParse(status.RunID))
	require.NoError(t, err)
	assert.Len(t, results, 5)

	// a second acquisition finds nothing new and keeps the audience as is
	again, err := env.acquisition.StartAcquisition(ctx, "acct", &dto.StartAcquisitionRequest{Goal: new(int)}, md)
	require.NoError(t, err)
	env.waitAcquisition(t, again.RunID)

	acq, err = env.acquisition.AcquisitionStatus(ctx, again.RunID, md)
	require.NoError(t, err)
	assert.Equal(t, 5, acq.FetchedCount)
	assert.Equal(t, 0, acq.Added)
	assert.Equal(t, 5, env.audienceRepo.count())
}

// Same audience, but the third follower refuses messages
func TestAcquireThenDispatchWithOneRejectedRecipient(t *testing.T) {
	ids := followerIDs("acct", 5)
	graph := &flakyGraph{
		MockGraph: services.NewMockGraph(5, 2),
		reject:    map[string]error{ids[2]: errors.New("recipient does not accept messages")},
	}
	env := newTestEnv(t, graph)
	ctx := context.Background()
	md := operator("acct")

	started, err := env.acquisition.StartAcquisition(ctx, "acct", &dto.StartAcquisitionRequest{}, md)
	require.NoError(t, err)
	env.waitAcquisition(t, started.RunID)

	acq, err := env.acquisition.AcquisitionStatus(ctx, started.RunID, md)
	require.NoError(t, err)
	assert.Equal(t, 3, acq.ChunkIndex)
	assert.Equal(t, 5, acq.Added)

	run, err := env.dispatch.StartDispatch(ctx, "acct", &dto.StartDispatchRequest{
		RecipientIDs: ids,
		Template:     "Hi {name}!",
		Personalize:  true,
	}, md)
	require.NoError(t, err)
	env.waitDispatch(t, run.RunID)

	status, err := env.dispatch.DispatchStatus(ctx, run.RunID, md)
	require.NoError(t, err)
	assert.Equal(t, string(models.DispatchRunStatusCompleted), status.Status)
	assert.Equal(t, 5, status.Total)
	assert.Equal(t, 4, status.Sent)
	assert.Equal(t, 1, status.Failed)
	assert.Equal(t, 0, status.NotAttempted)
	require.NotNil(t, status.Sync)
	assert.Equal(t, 4, status.Sync.Synced)

	results, err := env.resultRepo.ByRun(ctx, uuid.MustParse(status.RunID))
	require.NoError(t, err)
	require.Len(t, results, 5)
	failed, err := env.resultRepo.FailedRecipientIDs(ctx, uuid.MustParse(status.RunID))
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2]}, failed)

	assert.Len(t, graph.Sent(), 4)
	convs := env.upserter.List("acct")
	require.Len(t, convs, 4)
	for _, c := range convs {
		assert.NotEqual(t, ids[2], c.RecipientID)
	}
}
