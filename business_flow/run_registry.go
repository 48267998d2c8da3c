package businessflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amirphl/creator-console/app/acquisition"
	"github.com/amirphl/creator-console/app/conversation"
	"github.com/amirphl/creator-console/app/dispatch"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/utils"
)

// acquisitionHandle tracks one acquisition started by this process
type acquisitionHandle struct {
	id        uuid.UUID
	accountID string
	startedAt time.Time
	run       *acquisition.Run
	settled   chan struct{}

	mu         sync.Mutex
	finishedAt time.Time
}

func (h *acquisitionHandle) finished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.finishedAt.IsZero()
}

// dispatchHandle tracks one dispatch executing, or recently executed, in this process
type dispatchHandle struct {
	id        uuid.UUID
	accountID string
	exec      *dispatch.Execution
	settled   chan struct{}

	mu         sync.Mutex
	status     models.DispatchRunStatus
	report     *conversation.Report
	finishedAt time.Time
}

func (h *dispatchHandle) state() (models.DispatchRunStatus, *conversation.Report, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.report, !h.finishedAt.IsZero()
}

// RunRegistry indexes the runs of this process by id.
// Finished runs are dropped once they are older than the retention.
type RunRegistry struct {
	retention time.Duration
	wg        sync.WaitGroup

	mu           sync.Mutex
	acquisitions map[uuid.UUID]*acquisitionHandle
	dispatches   map[uuid.UUID]*dispatchHandle
}

func NewRunRegistry(retention time.Duration) *RunRegistry {
	if retention <= 0 {
		retention = utils.RunRetention
	}
	return &RunRegistry{
		retention:    retention,
		acquisitions: make(map[uuid.UUID]*acquisitionHandle),
		dispatches:   make(map[uuid.UUID]*dispatchHandle),
	}
}

func (r *RunRegistry) putAcquisition(h *acquisitionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(utils.UTCNow())
	r.acquisitions[h.id] = h
	r.wg.Add(1)
}

func (r *RunRegistry) acquisition(id uuid.UUID) (*acquisitionHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.acquisitions[id]
	return h, ok
}

func (r *RunRegistry) settleAcquisition(h *acquisitionHandle) {
	h.mu.Lock()
	h.finishedAt = utils.UTCNow()
	h.mu.Unlock()
	close(h.settled)
	r.wg.Done()
}

func (r *RunRegistry) putDispatch(h *dispatchHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(utils.UTCNow())
	r.dispatches[h.id] = h
	r.wg.Add(1)
}

func (r *RunRegistry) dispatch(id uuid.UUID) (*dispatchHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.dispatches[id]
	return h, ok
}

func (r *RunRegistry) settleDispatch(h *dispatchHandle, status models.DispatchRunStatus, report *conversation.Report) {
	h.mu.Lock()
	h.status = status
	h.report = report
	h.finishedAt = utils.UTCNow()
	h.mu.Unlock()
	close(h.settled)
	r.wg.Done()
}

// ActiveCount returns the number of runs still executing
func (r *RunRegistry) ActiveCount() (acquisitions, dispatches int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.acquisitions {
		if !h.finished() {
			acquisitions++
		}
	}
	for _, h := range r.dispatches {
		if _, _, done := h.state(); !done {
			dispatches++
		}
	}
	return acquisitions, dispatches
}

// Wait blocks until every run put into the registry has settled, including
// its bookkeeping, or until ctx is done
func (r *RunRegistry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prune drops finished runs older than the retention
func (r *RunRegistry) Prune(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(now)
}

func (r *RunRegistry) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.retention)
	for id, h := range r.acquisitions {
		h.mu.Lock()
		expired := !h.finishedAt.IsZero() && h.finishedAt.Before(cutoff)
		h.mu.Unlock()
		if expired {
			delete(r.acquisitions, id)
		}
	}
	for id, h := range r.dispatches {
		h.mu.Lock()
		expired := !h.finishedAt.IsZero() && h.finishedAt.Before(cutoff)
		h.mu.Unlock()
		if expired {
			delete(r.dispatches, id)
		}
	}
}
