package acquisition

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/utils"
)

// ErrEmptyPage is returned when the lister answers without error and without a page
var ErrEmptyPage = errors.New("upstream returned no page")

// Controller drives the page loop for one account
type Controller struct {
	lister Lister
	sink   Sink
	cfg    Config
	logger *log.Logger
}

func NewController(lister Lister, sink Sink, cfg Config, logger *log.Logger) *Controller {
	if cfg.PageBudget <= 0 {
		cfg.PageBudget = utils.DefaultPageBudget
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = utils.DefaultUpstreamCallTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{lister: lister, sink: sink, cfg: cfg, logger: logger}
}

// Start launches a run in its own goroutine and returns its handle.
// onProgress may be nil.
func (c *Controller) Start(ctx context.Context, opts Options, onProgress ProgressFunc) *Run {
	run := newRun()
	go func() {
		err := c.execute(ctx, run, opts, onProgress)
		run.finish(err)
	}()
	return run
}

// execute runs the page loop until the upstream is exhausted, the goal is
// reached, the run is cancelled or a fatal error occurs.
func (c *Controller) execute(ctx context.Context, run *Run, opts Options, onProgress ProgressFunc) error {
	sess := newSession(opts, time.Now())

	snapshot := func(state State, err error) Progress {
		return Progress{
			Phase:         sess.Phase,
			State:         state,
			FetchedCount:  sess.FetchedCount,
			Added:         sess.Added,
			DisplayCount:  sess.DisplayCount(),
			ChunkIndex:    sess.ChunkIndex,
			Goal:          sess.Goal,
			RateLimitHits: sess.RateLimitHits,
			Elapsed:       time.Since(sess.StartedAt),
			Err:           err,
		}
	}
	emit := func(phase Phase, state State, err error) {
		sess.Phase = phase
		p := snapshot(state, err)
		run.record(p)
		if onProgress != nil {
			onProgress(p)
		}
	}

	emit(PhaseConnecting, StateRunning, nil)

	delay := c.cfg.ChunkDelay
	if opts.Turbo {
		delay = c.cfg.TurboChunkDelay
	}

	for {
		if run.Cancelled() || ctx.Err() != nil {
			c.logger.Printf("acquisition: cancelled at chunk %d with %d fetched", sess.ChunkIndex, sess.FetchedCount)
			emit(PhaseDone, StateCancelled, nil)
			return nil
		}

		emit(PhaseFetching, StateRunning, nil)
		page, err := c.fetch(ctx, sess.Cursor)
		if err != nil {
			if ctx.Err() != nil {
				emit(PhaseDone, StateCancelled, nil)
				return nil
			}
			fatal := &FatalError{Cursor: sess.Cursor, ChunkIndex: sess.ChunkIndex, Err: err}
			c.logger.Printf("acquisition: %v", fatal)
			emit(PhaseDone, StateFailed, fatal)
			return fatal
		}

		emit(PhaseSaving, StateRunning, nil)
		if err := c.save(ctx, sess, page.Records); err != nil {
			fatal := &FatalError{Cursor: sess.Cursor, ChunkIndex: sess.ChunkIndex, Err: err}
			c.logger.Printf("acquisition: %v", fatal)
			emit(PhaseDone, StateFailed, fatal)
			return fatal
		}
		if page.TotalKnown != nil && *page.TotalKnown > 0 {
			sess.KnownTotal = *page.TotalKnown
		}

		if page.RateLimited {
			// the cursor is not consumed; the same page is requested again after the cooldown
			sess.RateLimitHits++
			c.logger.Printf("acquisition: rate limited at chunk %d, cooling down for %s", sess.ChunkIndex, c.cfg.RateLimitCooldown)
			emit(PhasePaused, StateRunning, nil)
			utils.SleepContext(c.cfg.RateLimitCooldown, run.stop, ctx.Done())
			continue
		}

		sess.ChunkIndex++
		sess.Cursor = page.NextCursor

		if sess.Cursor == "" {
			c.logger.Printf("acquisition: upstream exhausted after %d chunks, %d fetched", sess.ChunkIndex, sess.FetchedCount)
			emit(PhaseDone, StateCompleted, nil)
			return nil
		}
		if sess.goalReached() {
			c.logger.Printf("acquisition: goal %d reached after %d chunks", sess.Goal, sess.ChunkIndex)
			emit(PhaseDone, StateCompleted, nil)
			return nil
		}

		pause := delay
		if page.Throttled {
			// the page was cut short by the rate limit; the cursor moves on but the next chunk waits out the cooldown
			sess.RateLimitHits++
			c.logger.Printf("acquisition: throttled during chunk %d, cooling down for %s", sess.ChunkIndex, c.cfg.RateLimitCooldown)
			emit(PhasePaused, StateRunning, nil)
			pause = c.cfg.RateLimitCooldown
		} else {
			// pollers see the finished chunk while the run waits
			run.record(snapshot(StateRunning, nil))
		}
		utils.SleepContext(pause, run.stop, ctx.Done())
	}
}

func (c *Controller) fetch(ctx context.Context, cursor string) (*Page, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	page, err := c.lister.ListAudiencePage(callCtx, cursor, c.cfg.PageBudget)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, ErrEmptyPage
	}
	return page, nil
}

func (c *Controller) save(ctx context.Context, sess *Session, records []models.AudienceRecord) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ExternalID)
	}
	sess.observe(ids)

	// a fetched page is stored even when the run is being shut down
	added, err := c.sink.MergePage(context.WithoutCancel(ctx), records)
	sess.Added += added
	return err
}
