package acquisition

import (
	"sync"
	"sync/atomic"
)

// Run is the handle of an acquisition started with Controller.Start
type Run struct {
	cancelled atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once
	finished  chan struct{}

	mu     sync.RWMutex
	latest Progress
	err    error
}

func newRun() *Run {
	return &Run{
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
		latest:   Progress{Phase: PhaseIdle, State: StateRunning},
	}
}

// Cancel asks the run to stop before its next iteration.
// A pacing sleep in progress ends early; a request in flight completes.
func (r *Run) Cancel() {
	r.cancelled.Store(true)
	r.stopOnce.Do(func() { close(r.stop) })
}

// Cancelled reports whether Cancel was called
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

// Done is closed once the run has ended
func (r *Run) Done() <-chan struct{} {
	return r.finished
}

// Wait blocks until the run ends and returns its final progress and fatal error
func (r *Run) Wait() (Progress, error) {
	<-r.finished
	return r.Progress(), r.Err()
}

// Progress returns the most recent progress event
func (r *Run) Progress() Progress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Err returns the fatal error of a failed run
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

func (r *Run) record(p Progress) {
	r.mu.Lock()
	r.latest = p
	r.mu.Unlock()
}

func (r *Run) finish(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	close(r.finished)
}
