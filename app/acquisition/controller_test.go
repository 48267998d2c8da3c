package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/amirphl/creator-console/app/audience"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedResponse struct {
	page *Page
	err  error
}

// scriptedLister answers by cursor; each cursor may have several answers consumed in order
type scriptedLister struct {
	mu        sync.Mutex
	responses map[string][]scriptedResponse
	calls     []string
	block     bool
}

func (l *scriptedLister) ListAudiencePage(ctx context.Context, cursor string, _ int) (*Page, error) {
	l.mu.Lock()
	l.calls = append(l.calls, cursor)
	if l.block {
		l.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	queue := l.responses[cursor]
	if len(queue) == 0 {
		l.mu.Unlock()
		return nil, fmt.Errorf("unexpected cursor %q", cursor)
	}
	resp := queue[0]
	if len(queue) > 1 {
		l.responses[cursor] = queue[1:]
	}
	l.mu.Unlock()
	return resp.page, resp.err
}

func (l *scriptedLister) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func records(ids ...string) []models.AudienceRecord {
	out := make([]models.AudienceRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.AudienceRecord{ExternalID: id, DisplayName: "user " + id})
	}
	return out
}

func page(next string, ids ...string) scriptedResponse {
	return scriptedResponse{page: &Page{Records: records(ids...), NextCursor: next}}
}

func testConfig() Config {
	return Config{
		PageBudget:        10,
		ChunkDelay:        time.Millisecond,
		TurboChunkDelay:   0,
		RateLimitCooldown: 5 * time.Millisecond,
		CallTimeout:       time.Second,
	}
}

func newTestController(l Lister, store *audience.Store, cfg Config) *Controller {
	sink := StoreSink{Store: store, Source: models.AudienceSourceFollower}
	return NewController(l, sink, cfg, log.New(io.Discard, "", 0))
}

type progressLog struct {
	mu     sync.Mutex
	events []Progress
}

func (p *progressLog) add(ev Progress) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *progressLog) phases() []Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Phase, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Phase)
	}
	return out
}

func TestAcquisitionThreePages(t *testing.T) {
	lister := &scriptedLister{responses: map[string][]scriptedResponse{
		"":   {page("c1", "a", "b")},
		"c1": {page("c2", "c", "d")},
		"c2": {page("", "e")},
	}}
	store := audience.NewStore("acct")
	var events progressLog

	run := newTestController(lister, store, testConfig()).Start(context.Background(), Options{}, events.add)
	final, err := run.Wait()

	require.NoError(t, err)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, PhaseDone, final.Phase)
	assert.Equal(t, 5, final.FetchedCount)
	assert.Equal(t, 5, final.Added)
	assert.Equal(t, 3, final.ChunkIndex)
	assert.Equal(t, 5, store.Len())
	assert.Equal(t, []string{"", "c1", "c2"}, lister.Calls())

	assert.Equal(t, []Phase{
		PhaseConnecting,
		PhaseFetching, PhaseSaving,
		PhaseFetching, PhaseSaving,
		PhaseFetching, PhaseSaving,
		PhaseDone,
	}, events.phases())

	rec, ok := store.ByID("a")
	require.True(t, ok)
	assert.Equal(t, models.AudienceSourceFollower, rec.Source)
}

func TestAcquisitionCountsDistinctIDs(t *testing.T) {
	lister := &scriptedLister{responses: map[string][]scriptedResponse{
		"":   {page("c1", "a", "b", "a")},
		"c1": {page("", "b", "c")},
	}}
	store := audience.NewStore("acct")
	store.Add(models.AudienceRecord{ExternalID: "c", DisplayName: "from inbox", Source: models.AudienceSourceConversation})

	final, err := newTestController(lister, store, testConfig()).Start(context.Background(), Options{}, nil).Wait()

	require.NoError(t, err)
	assert.Equal(t, 3, final.FetchedCount)
	assert.Equal(t, 2, final.Added)
	assert.Equal(t, 3, store.Len())

	c, _ := store.ByID("c")
	assert.Equal(t, "from inbox", c.DisplayName)
}

func TestAcquisitionRateLimitRetriesSameCursor(t *testing.T) {
	lister := &scriptedLister{responses: map[string][]scriptedResponse{
		"": {page("c1", "a", "b")},
		"c1": {
			{page: &Page{RateLimited: true}},
			{page: &Page{Records: records("c"), RateLimited: true}},
			page("", "c", "d"),
		},
	}}
	store := audience.NewStore("acct")
	var events progressLog

	final, err := newTestController(lister, store, testConfig()).Start(context.Background(), Options{}, events.add).Wait()

	require.NoError(t, err)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, []string{"", "c1", "c1", "c1"}, lister.Calls())
	assert.Equal(t, 2, final.ChunkIndex)
	assert.Equal(t, 2, final.RateLimitHits)
	assert.Equal(t, 4, final.FetchedCount)
	assert.Equal(t, 4, store.Len())
	assert.Contains(t, events.phases(), PhasePaused)
}

func TestAcquisitionThrottledPageCoolsDown(t *testing.T) {
	lister := &scriptedLister{responses: map[string][]scriptedResponse{
		"":   {{page: &Page{Records: records("a", "b"), NextCursor: "c1", Throttled: true}}},
		"c1": {page("", "c")},
	}}
	store := audience.NewStore("acct")
	cfg := testConfig()
	cfg.ChunkDelay = 0
	cfg.RateLimitCooldown = 50 * time.Millisecond
	var events progressLog

	began := time.Now()
	final, err := newTestController(lister, store, cfg).Start(context.Background(), Options{}, events.add).Wait()

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(began), cfg.RateLimitCooldown)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, []string{"", "c1"}, lister.Calls())
	assert.Equal(t, 2, final.ChunkIndex)
	assert.Equal(t, 1, final.RateLimitHits)
	assert.Equal(t, 3, final.FetchedCount)
	assert.Equal(t, 3, store.Len())
	assert.Equal(t, []Phase{
		PhaseConnecting,
		PhaseFetching, PhaseSaving, PhasePaused,
		PhaseFetching, PhaseSaving,
		PhaseDone,
	}, events.phases())
}

func TestAcquisitionTransportErrorIsFatal(t *testing.T) {
	boom := errors.New("connection reset")
	lister := &scriptedLister{responses: map[string][]scriptedResponse{
		"":   {page("c1", "a", "b")},
		"c1": {{err: boom}},
	}}
	store := audience.NewStore("acct")

	final, err := newTestController(lister, store, testConfig()).Start(context.Background(), Options{}, nil).Wait()

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "c1", fatal.Cursor)
	assert.Equal(t, 1, fatal.ChunkIndex)

	assert.Equal(t, StateFailed, final.State)
	assert.Equal(t, 2, store.Len())
}

func TestAcquisitionNilPageIsFatal(t *testing.T) {
	lister := &scriptedLister{responses: map[string][]scriptedResponse{"": {{}}}}
	_, err := newTestController(lister, audience.NewStore("acct"), testConfig()).Start(context.Background(), Options{}, nil).Wait()
	assert.ErrorIs(t, err, ErrEmptyPage)
}

func TestAcquisitionCallTimeoutIsFatal(t *testing.T) {
	lister := &scriptedLister{block: true}
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Millisecond

	final, err := newTestController(lister, audience.NewStore("acct"), cfg).Start(context.Background(), Options{}, nil).Wait()

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateFailed, final.State)
}

func TestAcquisitionStopsAtExplicitGoal(t *testing.T) {
	lister := &scriptedLister{responses: map[string][]scriptedResponse{
		"":   {page("c1", "a", "b")},
		"c1": {page("c2", "c", "d")},
		"c2": {page("", "e")},
	}}

	final, err := newTestController(lister, audience.NewStore("acct"), testConfig()).
		Start(context.Background(), Options{Goal: 3}, nil).Wait()

	require.NoError(t, err)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, 4, final.FetchedCount)
	assert.Equal(t, 2, final.ChunkIndex)
	assert.Equal(t, []string{"", "c1"}, lister.Calls())
}

func TestAcquisitionDefaultsGoalToKnownTotal(t *testing.T) {
	total := 9
	lister := &scriptedLister{responses: map[string][]scriptedResponse{
		"":   {{page: &Page{Records: records("a", "b"), NextCursor: "c1", TotalKnown: &total}}},
		"c1": {page("c2", "c")},
	}}

	final, err := newTestController(lister, audience.NewStore("acct"), testConfig()).
		Start(context.Background(), Options{KnownTotal: 3}, nil).Wait()

	require.NoError(t, err)
	assert.Equal(t, 3, final.Goal)
	assert.Equal(t, 3, final.FetchedCount)
	assert.Equal(t, 9, final.DisplayCount)
}

func TestAcquisitionNegativeGoalIsUncapped(t *testing.T) {
	lister := &scriptedLister{responses: map[string][]scriptedResponse{
		"":   {page("c1", "a", "b")},
		"c1": {page("", "c")},
	}}

	final, err := newTestController(lister, audience.NewStore("acct"), testConfig()).
		Start(context.Background(), Options{Goal: -1, KnownTotal: 1}, nil).Wait()

	require.NoError(t, err)
	assert.Equal(t, 0, final.Goal)
	assert.Equal(t, 3, final.FetchedCount)
	assert.Equal(t, []string{"", "c1"}, lister.Calls())
}

func TestAcquisitionCancelDuringPacing(t *testing.T) {
	lister := &scriptedLister{responses: map[string][]scriptedResponse{
		"":   {page("c1", "a")},
		"c1": {page("", "b")},
	}}
	cfg := testConfig()
	cfg.ChunkDelay = time.Hour

	store := audience.NewStore("acct")
	saved := make(chan struct{})
	var once sync.Once
	run := newTestController(lister, store, cfg).Start(context.Background(), Options{}, func(p Progress) {
		if p.Phase == PhaseSaving {
			once.Do(func() { close(saved) })
		}
	})

	<-saved
	run.Cancel()
	run.Cancel()

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	final, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, final.State)
	assert.True(t, run.Cancelled())
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, []string{""}, lister.Calls())
}

func TestAcquisitionParentContextCancelled(t *testing.T) {
	lister := &scriptedLister{block: true}
	ctx, cancel := context.WithCancel(context.Background())
	run := newTestController(lister, audience.NewStore("acct"), testConfig()).Start(ctx, Options{}, nil)

	require.Eventually(t, func() bool { return len(lister.Calls()) == 1 }, time.Second, time.Millisecond)
	cancel()

	final, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, final.State)
}

type failingSink struct{ err error }

func (s failingSink) MergePage(context.Context, []models.AudienceRecord) (int, error) {
	return 0, s.err
}

func TestAcquisitionSinkErrorIsFatal(t *testing.T) {
	diskFull := errors.New("disk full")
	lister := &scriptedLister{responses: map[string][]scriptedResponse{"": {page("c1", "a")}}}

	ctrl := NewController(lister, failingSink{err: diskFull}, testConfig(), log.New(io.Discard, "", 0))
	_, err := ctrl.Start(context.Background(), Options{}, nil).Wait()

	assert.ErrorIs(t, err, diskFull)
}

func TestProgressRateAndETA(t *testing.T) {
	p := Progress{FetchedCount: 50, Goal: 150, Elapsed: 10 * time.Second}
	assert.InDelta(t, 5.0, p.Rate(), 0.0001)

	eta, ok := p.ETA()
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, eta)

	_, ok = Progress{FetchedCount: 10}.ETA()
	assert.False(t, ok)

	eta, ok = Progress{FetchedCount: 200, Goal: 150, Elapsed: time.Second}.ETA()
	assert.True(t, ok)
	assert.Zero(t, eta)
}

func TestNewControllerDefaults(t *testing.T) {
	c := NewController(&scriptedLister{}, failingSink{}, Config{}, nil)
	assert.Equal(t, utils.DefaultPageBudget, c.cfg.PageBudget)
	assert.Equal(t, utils.DefaultUpstreamCallTimeout, c.cfg.CallTimeout)
	assert.NotNil(t, c.logger)
}
