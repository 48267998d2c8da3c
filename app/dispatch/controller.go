package dispatch

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/utils"
)

// Sender delivers one message to one recipient
type Sender interface {
	SendMessage(ctx context.Context, recipientID, text string) error
}

// Progress is emitted after every recipient
type Progress struct {
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
	Total  int    `json:"total"`
	Last   Result `json:"last"`
}

type ProgressFunc func(Progress)

// Summary is the final accounting of a job
type Summary struct {
	JobID        string        `json:"job_id"`
	Total        int           `json:"total"`
	Sent         int           `json:"sent"`
	Failed       int           `json:"failed"`
	NotAttempted int           `json:"not_attempted"`
	Cancelled    bool          `json:"cancelled"`
	Results      []Result      `json:"results"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Execution is the handle of a started job
type Execution struct {
	Job *Job

	finished chan struct{}
	summary  Summary
}

func (e *Execution) Done() <-chan struct{} {
	return e.finished
}

// Wait blocks until the job ends
func (e *Execution) Wait() Summary {
	<-e.finished
	return e.summary
}

type Controller struct {
	sender      Sender
	callTimeout time.Duration
	logger      *log.Logger
}

func NewController(sender Sender, callTimeout time.Duration, logger *log.Logger) *Controller {
	if callTimeout <= 0 {
		callTimeout = utils.DefaultUpstreamCallTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{sender: sender, callTimeout: callTimeout, logger: logger}
}

// Start runs job in its own goroutine. onProgress may be nil.
func (c *Controller) Start(ctx context.Context, job *Job, onProgress ProgressFunc) *Execution {
	exec := &Execution{Job: job, finished: make(chan struct{})}
	go func() {
		exec.summary = c.Run(ctx, job, onProgress)
		close(exec.finished)
	}()
	return exec
}

// Run sends to every recipient in order and returns when the job ends.
// Cancellation of job or ctx is observed between recipients only.
func (c *Controller) Run(ctx context.Context, job *Job, onProgress ProgressFunc) Summary {
	started := time.Now()
	recipients := job.recipients
	c.logger.Printf("dispatch: job %s started for %d recipients", job.ID, len(recipients))

	for i, rec := range recipients {
		if job.Cancelled() || ctx.Err() != nil {
			break
		}

		res := c.attempt(ctx, job, rec)
		counts := job.record(res)
		if !res.Succeeded() {
			c.logger.Printf("dispatch: job %s recipient %s failed: %s", job.ID, rec.ExternalID, res.ErrorDetail)
		}
		if onProgress != nil {
			onProgress(Progress{Sent: counts.Sent, Failed: counts.Failed, Total: counts.Total, Last: res})
		}

		if i < len(recipients)-1 && !job.Cancelled() {
			utils.SleepContext(job.Delay, job.stop, ctx.Done())
		}
	}

	counts := job.Counts()
	s := Summary{
		JobID:        job.ID,
		Total:        counts.Total,
		Sent:         counts.Sent,
		Failed:       counts.Failed,
		NotAttempted: counts.NotAttempted,
		Cancelled:    counts.NotAttempted > 0,
		Results:      job.Results(),
		Elapsed:      time.Since(started),
	}
	c.logger.Printf("dispatch: job %s finished sent=%d failed=%d not_attempted=%d", job.ID, s.Sent, s.Failed, s.NotAttempted)
	return s
}

func (c *Controller) attempt(ctx context.Context, job *Job, rec models.AudienceRecord) Result {
	text := Render(job.Template(), rec, job.Personalize, job.Fallback)
	res := Result{RecipientID: rec.ExternalID, Text: text}

	if strings.TrimSpace(text) == "" {
		res.Outcome = models.DispatchOutcomeFailure
		res.ErrorDetail = ReasonEmptyMessage
		res.AttemptedAt = utils.UTCNow()
		return res
	}

	// a send already started is allowed to finish under its own timeout
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
	defer cancel()

	err := c.sender.SendMessage(callCtx, rec.ExternalID, text)
	res.AttemptedAt = utils.UTCNow()
	if err != nil {
		res.Outcome = models.DispatchOutcomeFailure
		res.ErrorDetail = err.Error()
		return res
	}
	res.Outcome = models.DispatchOutcomeSuccess
	return res
}
