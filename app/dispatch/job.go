package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amirphl/creator-console/app/audience"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/utils"
)

// ReasonEmptyMessage is recorded when a rendered message is blank
const ReasonEmptyMessage = "empty message"

var ErrNoRecipients = errors.New("dispatch job has no recipients")

// Result is the outcome of the single attempt made for one recipient
type Result struct {
	RecipientID string                 `json:"recipient_id"`
	Outcome     models.DispatchOutcome `json:"outcome"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
	Text        string                 `json:"text"`
	AttemptedAt time.Time              `json:"attempted_at"`
}

func (r Result) Succeeded() bool {
	return r.Outcome == models.DispatchOutcomeSuccess
}

// Counts summarises the results of a job so far
type Counts struct {
	Total        int `json:"total"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	NotAttempted int `json:"not_attempted"`
}

type JobOptions struct {
	ID           string
	AccountID    string
	Recipients   []models.AudienceRecord
	Template     string
	Personalize  bool
	FallbackName string
	Delay        time.Duration
}

// Job is one bulk send. Its recipient list is fixed at creation.
type Job struct {
	ID          string
	AccountID   string
	Personalize bool
	Fallback    string
	Delay       time.Duration

	recipients []models.AudienceRecord
	template   *Template

	cancelled atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once

	mu      sync.RWMutex
	results []Result
}

// NewJob snapshots the recipients, dropping repeated ids after the first
func NewJob(opts JobOptions) (*Job, error) {
	recipients := audience.Dedupe(opts.Recipients)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	fallback := opts.FallbackName
	if fallback == "" {
		fallback = utils.DefaultFallbackName
	}
	return &Job{
		ID:          opts.ID,
		AccountID:   opts.AccountID,
		Personalize: opts.Personalize,
		Fallback:    fallback,
		Delay:       opts.Delay,
		recipients:  recipients,
		template:    NewTemplate(opts.Template),
		stop:        make(chan struct{}),
		results:     make([]Result, 0, len(recipients)),
	}, nil
}

// Recipients returns a copy of the snapshot in send order
func (j *Job) Recipients() []models.AudienceRecord {
	out := make([]models.AudienceRecord, 0, len(j.recipients))
	for _, r := range j.recipients {
		out = append(out, r.Clone())
	}
	return out
}

func (j *Job) Total() int {
	return len(j.recipients)
}

// SetTemplate replaces the template for recipients not yet rendered
func (j *Job) SetTemplate(text string) {
	j.template.Set(text)
}

func (j *Job) Template() string {
	return j.template.Get()
}

// Cancel stops the job before its next recipient
func (j *Job) Cancel() {
	j.cancelled.Store(true)
	j.stopOnce.Do(func() { close(j.stop) })
}

func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}

// Results returns a copy of the results recorded so far
func (j *Job) Results() []Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]Result(nil), j.results...)
}

func (j *Job) Counts() Counts {
	j.mu.RLock()
	defer j.mu.RUnlock()
	c := Counts{Total: len(j.recipients)}
	for _, r := range j.results {
		if r.Succeeded() {
			c.Sent++
		} else {
			c.Failed++
		}
	}
	c.NotAttempted = c.Total - len(j.results)
	return c
}

func (j *Job) record(r Result) Counts {
	j.mu.Lock()
	j.results = append(j.results, r)
	j.mu.Unlock()
	return j.Counts()
}
