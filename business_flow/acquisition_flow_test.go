package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/creator-console/app/dto"
	"github.com/amirphl/creator-console/app/scheduler"
	"github.com/amirphl/creator-console/app/services"
	"github.com/amirphl/creator-console/utils"
)

func TestStartAcquisitionGoal(t *testing.T) {
	tests := []struct {
		name        string
		lastTotal   int
		goal        *int
		wantGoal    int
		wantFetched int
		wantChunks  int
	}{
		{name: "defaults to last known total", lastTotal: 2, wantGoal: 2, wantFetched: 2, wantChunks: 1},
		{name: "explicit goal", goal: utils.ToPtr(3), wantGoal: 3, wantFetched: 4, wantChunks: 2},
		{name: "zero goal is uncapped", lastTotal: 2, goal: utils.ToPtr(0), wantGoal: 0, wantFetched: 5, wantChunks: 3},
		{name: "unknown total is uncapped", wantGoal: 0, wantFetched: 5, wantChunks: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, services.NewMockGraph(5, 2))
			ctx := context.Background()
			require.NoError(t, env.totals.Set(ctx, "acct", tt.lastTotal))

			started, err := env.acquisition.StartAcquisition(ctx, "acct", &dto.StartAcquisitionRequest{Goal: tt.goal}, nil)
			require.NoError(t, err)
			env.waitAcquisition(t, started.RunID)

			st, err := env.acquisition.AcquisitionStatus(ctx, started.RunID, nil)
			require.NoError(t, err)
			assert.Equal(t, "completed", st.State)
			assert.Equal(t, tt.wantGoal, st.Goal)
			assert.Equal(t, tt.wantFetched, st.FetchedCount)
			assert.Equal(t, tt.wantChunks, st.ChunkIndex)
			assert.Nil(t, st.ETASeconds)
		})
	}
}

func TestStartAcquisitionOnePerAccount(t *testing.T) {
	env := newTestEnv(t, services.NewMockGraph(5, 2))
	ctx := context.Background()

	release, err := env.locks.Acquire(ctx, scheduler.AcquisitionKey("acct"))
	require.NoError(t, err)

	_, err = env.acquisition.StartAcquisition(ctx, "acct", &dto.StartAcquisitionRequest{}, nil)
	assert.True(t, IsAcquisitionInProgress(err))

	var be *BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "ACQUISITION_IN_PROGRESS", be.Code)

	// other accounts are not affected
	other, err := env.acquisition.StartAcquisition(ctx, "other", &dto.StartAcquisitionRequest{}, nil)
	require.NoError(t, err)
	env.waitAcquisition(t, other.RunID)

	release()
	again, err := env.acquisition.StartAcquisition(ctx, "acct", &dto.StartAcquisitionRequest{}, nil)
	require.NoError(t, err)
	env.waitAcquisition(t, again.RunID)

	// the lock is given back once the run ends
	release, err = env.locks.Acquire(ctx, scheduler.AcquisitionKey("acct"))
	require.NoError(t, err)
	release()
}

func TestCancelAcquisition(t *testing.T) {
	env := newTestEnv(t, services.NewMockGraph(10, 2), withChunkDelay(time.Hour))
	ctx := context.Background()
	md := operator("acct")

	started, err := env.acquisition.StartAcquisition(ctx, "acct", &dto.StartAcquisitionRequest{}, md)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := env.acquisition.AcquisitionStatus(ctx, started.RunID, md)
		return err == nil && st.ChunkIndex == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err = env.acquisition.CancelAcquisition(ctx, started.RunID, md)
	require.NoError(t, err)
	env.waitAcquisition(t, started.RunID)

	st, err := env.acquisition.AcquisitionStatus(ctx, started.RunID, md)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", st.State)
	assert.Equal(t, 2, st.FetchedCount)
	assert.Equal(t, 2, env.audienceRepo.count())

	_, err = env.acquisition.CancelAcquisition(ctx, started.RunID, md)
	assert.True(t, IsRunNotActive(err))
}

func TestAcquisitionLookupErrors(t *testing.T) {
	env := newTestEnv(t, services.NewMockGraph(1, 1))
	ctx := context.Background()

	started, err := env.acquisition.StartAcquisition(ctx, "acct", &dto.StartAcquisitionRequest{}, operator("acct"))
	require.NoError(t, err)
	env.waitAcquisition(t, started.RunID)

	tests := []struct {
		name  string
		runID string
		md    *ClientMetadata
		check func(error) bool
	}{
		{name: "malformed id", runID: "nope", md: operator("acct"), check: IsInvalidRunID},
		{name: "unknown id", runID: uuid.NewString(), md: operator("acct"), check: IsRunNotFound},
		{name: "foreign account", runID: started.RunID, md: operator("other"), check: IsAccountAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.acquisition.AcquisitionStatus(ctx, tt.runID, tt.md)
			assert.True(t, tt.check(err), "unexpected error %v", err)
			_, err = env.acquisition.CancelAcquisition(ctx, tt.runID, tt.md)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}

	_, err = env.acquisition.StartAcquisition(ctx, "acct", &dto.StartAcquisitionRequest{}, operator("other"))
	assert.True(t, IsAccountAccessDenied(err))
	_, err = env.acquisition.StartAcquisition(ctx, " ", &dto.StartAcquisitionRequest{}, nil)
	assert.True(t, IsAccountRequired(err))
}

func TestAcquisitionUsesWildcardAccess(t *testing.T) {
	env := newTestEnv(t, services.NewMockGraph(1, 1))
	started, err := env.acquisition.StartAcquisition(context.Background(), "any", &dto.StartAcquisitionRequest{}, operator(services.AllAccounts))
	require.NoError(t, err)
	env.waitAcquisition(t, started.RunID)
}
