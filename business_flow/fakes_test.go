package businessflow

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amirphl/creator-console/app/conversation"
	"github.com/amirphl/creator-console/app/services"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/repository"
)

type fakeAudienceRepo struct {
	repository.AudienceRecordRepository

	mu   sync.Mutex
	rows []*models.AudienceRecord
	err  error
}

func (r *fakeAudienceRepo) ByAccount(_ context.Context, accountID string) ([]*models.AudienceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []*models.AudienceRecord
	for _, row := range r.rows {
		if row.AccountID == accountID {
			c := row.Clone()
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *fakeAudienceRepo) InsertNew(_ context.Context, records []*models.AudienceRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	for _, rec := range records {
		if r.findLocked(rec.AccountID, rec.ExternalID) != nil {
			continue
		}
		c := rec.Clone()
		r.rows = append(r.rows, &c)
		n++
	}
	return n, nil
}

func (r *fakeAudienceRepo) DeleteByExternalIDs(_ context.Context, accountID string, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	var n int64
	for _, row := range r.rows {
		if row.AccountID == accountID && slices.Contains(ids, row.ExternalID) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	r.rows = kept
	return n, nil
}

func (r *fakeAudienceRepo) UpdateAttributes(_ context.Context, accountID, externalID string, attrs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row := r.findLocked(accountID, externalID); row != nil {
		row.Attributes = attrs
	}
	return nil
}

func (r *fakeAudienceRepo) find(accountID, externalID string) *models.AudienceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(accountID, externalID)
}

func (r *fakeAudienceRepo) findLocked(accountID, externalID string) *models.AudienceRecord {
	for _, row := range r.rows {
		if row.AccountID == accountID && row.ExternalID == externalID {
			return row
		}
	}
	return nil
}

func (r *fakeAudienceRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type fakeRunRepo struct {
	repository.DispatchRunRepository

	mu      sync.Mutex
	runs    map[uuid.UUID]*models.DispatchRun
	markErr error
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: make(map[uuid.UUID]*models.DispatchRun)}
}

func (r *fakeRunRepo) Save(_ context.Context, run *models.DispatchRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *run
	r.runs[run.UUID] = &c
	return nil
}

func (r *fakeRunRepo) ByUUID(_ context.Context, id uuid.UUID) (*models.DispatchRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, nil
	}
	c := *run
	return &c, nil
}

func (r *fakeRunRepo) MarkRunning(_ context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return false, r.markErr
	}
	run, ok := r.runs[id]
	if !ok || run.Status != models.DispatchRunStatusScheduled {
		return false, nil
	}
	run.Status = models.DispatchRunStatusRunning
	run.StartedAt = &startedAt
	return true, nil
}

func (r *fakeRunRepo) Finish(ctx context.Context, id uuid.UUID, status models.DispatchRunStatus, sent, failed int, finishedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		run.Status = status
		run.SentCount = sent
		run.FailedCount = failed
		run.FinishedAt = &finishedAt
	}
	return nil
}

func (r *fakeRunRepo) UpdateTemplate(_ context.Context, id uuid.UUID, template string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		run.Template = template
	}
	return nil
}

func (r *fakeRunRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*models.DispatchRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DispatchRun
	for _, run := range r.runs {
		if run.Status != models.DispatchRunStatusScheduled {
			continue
		}
		if run.ScheduleAt != nil && run.ScheduleAt.After(now) {
			continue
		}
		c := *run
		out = append(out, &c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// reschedule moves the schedule time of a stored run
func (r *fakeRunRepo) reschedule(id uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		run.ScheduleAt = &at
	}
}

func (r *fakeRunRepo) failMarkRunning(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markErr = err
}

func (r *fakeRunRepo) snapshot() map[uuid.UUID]models.DispatchRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]models.DispatchRun, len(r.runs))
	for id, run := range r.runs {
		out[id] = *run
	}
	return out
}

func (r *fakeRunRepo) restore(snap map[uuid.UUID]models.DispatchRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = make(map[uuid.UUID]*models.DispatchRun, len(snap))
	for id, run := range snap {
		c := run
		r.runs[id] = &c
	}
}

func (r *fakeRunRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

type fakeResultRepo struct {
	repository.DispatchResultRepository

	mu   sync.Mutex
	rows []*models.DispatchResult
}

func (r *fakeResultRepo) Save(ctx context.Context, res *models.DispatchResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *res
	r.rows = append(r.rows, &c)
	return nil
}

func (r *fakeResultRepo) ByRun(_ context.Context, runID uuid.UUID) ([]*models.DispatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DispatchResult
	for _, row := range r.rows {
		if row.RunUUID == runID {
			c := *row
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *fakeResultRepo) FailedRecipientIDs(_ context.Context, runID uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, row := range r.rows {
		if row.RunUUID == runID && row.Outcome == models.DispatchOutcomeFailure {
			out = append(out, row.RecipientID)
		}
	}
	return out, nil
}

// fakeTx undoes run writes made inside a failed transaction
type fakeTx struct {
	runs *fakeRunRepo
}

func (tx fakeTx) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	snap := tx.runs.snapshot()
	if err := fn(ctx); err != nil {
		tx.runs.restore(snap)
		return err
	}
	return nil
}

type fakeAuditRepo struct {
	repository.AuditLogRepository

	mu   sync.Mutex
	logs []*models.AuditLog
}

func (r *fakeAuditRepo) Save(_ context.Context, l *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *l
	r.logs = append(r.logs, &c)
	return nil
}

func (r *fakeAuditRepo) ListByAccount(_ context.Context, accountID string, limit, offset int) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].AccountID == accountID {
			c := *r.logs[i]
			out = append(out, &c)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeAuditRepo) Count(_ context.Context, filter models.AuditLogFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, l := range r.logs {
		if filter.AccountID == nil || l.AccountID == *filter.AccountID {
			n++
		}
	}
	return n, nil
}

func (r *fakeAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l.Action)
	}
	return out
}

func (r *fakeAuditRepo) last() *models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.logs) == 0 {
		return nil
	}
	return r.logs[len(r.logs)-1]
}

// flakyGraph rejects sends to the listed recipients
type flakyGraph struct {
	*services.MockGraph
	reject map[string]error
}

func (g *flakyGraph) ForAccount(accountID string) services.AccountGraph {
	return &flakyAccountGraph{AccountGraph: g.MockGraph.ForAccount(accountID), reject: g.reject}
}

type flakyAccountGraph struct {
	services.AccountGraph
	reject map[string]error
}

func (g *flakyAccountGraph) SendMessage(ctx context.Context, recipientID, text string) error {
	if err := g.reject[recipientID]; err != nil {
		return err
	}
	return g.AccountGraph.SendMessage(ctx, recipientID, text)
}

// gatedGraph announces every send on entered and blocks it until gate is closed
type gatedGraph struct {
	*services.MockGraph
	entered chan string
	gate    chan struct{}
}

func newGatedGraph(m *services.MockGraph) *gatedGraph {
	return &gatedGraph{MockGraph: m, entered: make(chan string, 64), gate: make(chan struct{})}
}

func (g *gatedGraph) ForAccount(accountID string) services.AccountGraph {
	return &gatedAccountGraph{AccountGraph: g.MockGraph.ForAccount(accountID), g: g}
}

type gatedAccountGraph struct {
	services.AccountGraph
	g *gatedGraph
}

func (a *gatedAccountGraph) SendMessage(ctx context.Context, recipientID, text string) error {
	a.g.entered <- recipientID
	<-a.g.gate
	return a.AccountGraph.SendMessage(ctx, recipientID, text)
}

// ctxUpserter refuses writes on a cancelled context the way a database driver does
type ctxUpserter struct {
	*conversation.MemoryUpserter
}

func (u ctxUpserter) UpsertConversation(ctx context.Context, accountID, recipientID string, f conversation.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return u.MemoryUpserter.UpsertConversation(ctx, accountID, recipientID, f)
}
