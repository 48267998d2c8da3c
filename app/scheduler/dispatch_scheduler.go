// Package scheduler launches scheduled dispatch runs and guards per-account run exclusivity.
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/repository"
	"github.com/amirphl/creator-console/utils"
)

// DueRunLauncher starts a scheduled run whose time has come
type DueRunLauncher interface {
	LaunchScheduled(ctx context.Context, run *models.DispatchRun) error
}

// DispatchScheduler periodically checks for scheduled dispatch runs that are due and launches them
type DispatchScheduler struct {
	runs      repository.DispatchRunRepository
	launcher  DueRunLauncher
	logger    *log.Logger
	interval  time.Duration
	batchSize int
}

func NewDispatchScheduler(
	runs repository.DispatchRunRepository,
	launcher DueRunLauncher,
	logger *log.Logger,
	interval time.Duration,
	batchSize int,
) *DispatchScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DispatchScheduler{
		runs:      runs,
		launcher:  launcher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start launches the scheduler loop in a background goroutine and returns a stop function.
// The stop function waits for the loop to exit.
func (s *DispatchScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (s *DispatchScheduler) runOnce(ctx context.Context) {
	due, err := s.runs.ListDue(ctx, utils.UTCNow(), s.batchSize)
	if err != nil {
		s.logger.Printf("scheduler: list due dispatch runs failed: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}
	s.logger.Printf("scheduler: %d dispatch runs due", len(due))

	for _, run := range due {
		if ctx.Err() != nil {
			return
		}
		err := s.launcher.LaunchScheduled(ctx, run)
		switch {
		case err == nil:
			s.logger.Printf("scheduler: launched dispatch run %s for account %s", run.UUID, run.AccountID)
		case errors.Is(err, ErrLockBusy):
			// the account is busy; the run stays scheduled for the next tick
			s.logger.Printf("scheduler: account %s busy, deferring dispatch run %s", run.AccountID, run.UUID)
		default:
			s.logger.Printf("scheduler: launch dispatch run %s failed: %v", run.UUID, err)
		}
	}
}
