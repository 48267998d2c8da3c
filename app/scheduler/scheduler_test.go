package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRunRepo struct {
	repository.DispatchRunRepository

	mu    sync.Mutex
	due   []*models.DispatchRun
	err   error
	calls int
}

func (f *fakeRunRepo) ListDue(_ context.Context, _ time.Time, limit int) ([]*models.DispatchRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := f.due
	if len(out) > limit {
		out = out[:limit]
	}
	f.due = nil
	return out, nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	launched []uuid.UUID
	errFor   map[uuid.UUID]error
}

func (f *fakeLauncher) LaunchScheduled(_ context.Context, run *models.DispatchRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor[run.UUID]; err != nil {
		return err
	}
	f.launched = append(f.launched, run.UUID)
	return nil
}

func TestDispatchSchedulerRunOnce(t *testing.T) {
	ok1, busy, ok2 := uuid.New(), uuid.New(), uuid.New()
	repo := &fakeRunRepo{due: []*models.DispatchRun{
		{UUID: ok1, AccountID: "a"},
		{UUID: busy, AccountID: "b"},
		{UUID: ok2, AccountID: "c"},
	}}
	launcher := &fakeLauncher{errFor: map[uuid.UUID]error{busy: ErrLockBusy}}
	var logs bytes.Buffer

	s := NewDispatchScheduler(repo, launcher, log.New(&logs, "", 0), time.Hour, 5)
	s.runOnce(context.Background())

	assert.Equal(t, []uuid.UUID{ok1, ok2}, launcher.launched)
	assert.Contains(t, logs.String(), "busy, deferring dispatch run "+busy.String())
}

func TestDispatchSchedulerRespectsBatchSize(t *testing.T) {
	repo := &fakeRunRepo{}
	for i := 0; i < 4; i++ {
		repo.due = append(repo.due, &models.DispatchRun{UUID: uuid.New()})
	}
	launcher := &fakeLauncher{}

	NewDispatchScheduler(repo, launcher, log.New(&bytes.Buffer{}, "", 0), time.Hour, 2).runOnce(context.Background())
	assert.Len(t, launcher.launched, 2)
}

func TestDispatchSchedulerListError(t *testing.T) {
	repo := &fakeRunRepo{err: errors.New("db down")}
	var logs bytes.Buffer

	NewDispatchScheduler(repo, &fakeLauncher{}, log.New(&logs, "", 0), time.Hour, 2).runOnce(context.Background())
	assert.Contains(t, logs.String(), "list due dispatch runs failed: db down")
}

func TestDispatchSchedulerStartStop(t *testing.T) {
	repo := &fakeRunRepo{due: []*models.DispatchRun{{UUID: uuid.New()}}}
	launcher := &fakeLauncher{}

	stop := NewDispatchScheduler(repo, launcher, log.New(&bytes.Buffer{}, "", 0), 10*time.Millisecond, 1).Start(context.Background())
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.calls >= 2
	}, time.Second, 5*time.Millisecond)
	stop()

	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	assert.Len(t, launcher.launched, 1)
}

func TestLocalRunLock(t *testing.T) {
	lock := NewLocalRunLock()
	ctx := context.Background()

	release, err := lock.Acquire(ctx, AcquisitionKey("acct"))
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, AcquisitionKey("acct"))
	assert.ErrorIs(t, err, ErrLockBusy)

	// different kinds on the same account do not collide
	releaseDispatch, err := lock.Acquire(ctx, DispatchKey("acct"))
	require.NoError(t, err)
	releaseDispatch()

	release()
	release()

	release, err = lock.Acquire(ctx, AcquisitionKey("acct"))
	require.NoError(t, err)
	release()
}

func runKeepAlive(interval time.Duration, refresh func() (bool, error)) (stop chan struct{}, done chan struct{}) {
	stop = make(chan struct{})
	done = make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(stop, interval, refresh)
	}()
	return stop, done
}

func TestKeepAliveRefreshesUntilStopped(t *testing.T) {
	var calls atomic.Int32
	stop, done := runKeepAlive(time.Millisecond, func() (bool, error) {
		calls.Add(1)
		return true, nil
	})

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive did not stop")
	}
}

func TestKeepAliveRetriesErrorsAndStopsWhenLockIsLost(t *testing.T) {
	answers := []struct {
		held bool
		err  error
	}{
		{err: errors.New("connection reset")},
		{held: true},
		{held: false},
	}
	var calls atomic.Int32
	stop, done := runKeepAlive(time.Millisecond, func() (bool, error) {
		a := answers[calls.Add(1)-1]
		return a.held, a.err
	})
	defer close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive kept refreshing a lost lock")
	}
	assert.Equal(t, int32(3), calls.Load())
}

// TEST_REDIS_ADDR points the lock tests at a real redis; they are skipped without one
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("skipping: TEST_REDIS_ADDR is not set")
	}
	rc := redis.NewClient(&redis.Options{Addr: addr})
	if err := rc.Ping(context.Background()).Err(); err != nil {
		_ = rc.Close()
		t.Skipf("skipping: redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestRedisRunLockOutlivesItsTTL(t *testing.T) {
	rc := testRedis(t)
	ctx := context.Background()
	prefix := "test:lock:" + uuid.NewString() + ":"
	lock := NewRedisRunLock(rc, prefix, 150*time.Millisecond)

	release, err := lock.Acquire(ctx, DispatchKey("acct"))
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)
	_, err = lock.Acquire(ctx, DispatchKey("acct"))
	assert.ErrorIs(t, err, ErrLockBusy)

	release()
	release()
	exists, err := rc.Exists(ctx, prefix+DispatchKey("acct")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)

	again, err := lock.Acquire(ctx, DispatchKey("acct"))
	require.NoError(t, err)
	again()
}
