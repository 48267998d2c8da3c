// Package acquisition pulls an account's audience from a cursor-paginated,
// rate-limited upstream listing into the local store, one page at a time.
package acquisition

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/creator-console/models"
)

// Phase is the step a run is currently in
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseFetching   Phase = "fetching"
	PhaseSaving     Phase = "saving"
	PhasePaused     Phase = "paused"
	PhaseDone       Phase = "done"
)

// State is the outcome of a run. It stays StateRunning until the run ends.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Page is one upstream listing response.
// An empty NextCursor means there are no more pages. RateLimited means nothing
// was consumed and the same cursor must be asked again; Throttled means the
// page is usable but the upstream started refusing partway through it.
type Page struct {
	Records     []models.AudienceRecord
	NextCursor  string
	RateLimited bool
	Throttled   bool
	TotalKnown  *int
}

// Lister fetches one page of the audience starting at cursor ("" for the first page)
type Lister interface {
	ListAudiencePage(ctx context.Context, cursor string, pageBudget int) (*Page, error)
}

// Sink receives the records of every page and reports how many were new
type Sink interface {
	MergePage(ctx context.Context, records []models.AudienceRecord) (int, error)
}

// Config holds pacing and budget settings shared by all runs
type Config struct {
	PageBudget        int
	ChunkDelay        time.Duration
	TurboChunkDelay   time.Duration
	RateLimitCooldown time.Duration
	CallTimeout       time.Duration
}

// Options are the per-run inputs
type Options struct {
	// Goal is an explicit cap on fetched records. Zero falls back to KnownTotal;
	// a negative goal disables the cap.
	Goal int
	// KnownTotal is the account's last persisted follower total, zero if unknown
	KnownTotal int
	Turbo      bool
}

// Progress is emitted after every phase transition
type Progress struct {
	Phase         Phase         `json:"phase"`
	State         State         `json:"state"`
	FetchedCount  int           `json:"fetched_count"`
	Added         int           `json:"added"`
	DisplayCount  int           `json:"display_count"`
	ChunkIndex    int           `json:"chunk_index"`
	Goal          int           `json:"goal"`
	RateLimitHits int           `json:"rate_limit_hits"`
	Elapsed       time.Duration `json:"elapsed"`
	Err           error         `json:"-"`
}

// Rate returns fetched records per second
func (p Progress) Rate() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.FetchedCount) / p.Elapsed.Seconds()
}

// ETA estimates the time left to reach the goal. ok is false when no estimate exists.
func (p Progress) ETA() (eta time.Duration, ok bool) {
	rate := p.Rate()
	if p.Goal <= 0 || rate <= 0 {
		return 0, false
	}
	remaining := p.Goal - p.FetchedCount
	if remaining <= 0 {
		return 0, true
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second)), true
}

// ProgressFunc receives progress events; it runs on the controller goroutine
type ProgressFunc func(Progress)

// FatalError ends a run. Records merged before it are kept.
type FatalError struct {
	Cursor     string
	ChunkIndex int
	Err        error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("acquisition failed at chunk %d: %v", e.ChunkIndex, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
