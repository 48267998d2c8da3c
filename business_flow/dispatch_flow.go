package businessflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/amirphl/creator-console/app/adapters"
	"github.com/amirphl/creator-console/app/audience"
	"github.com/amirphl/creator-console/app/conversation"
	"github.com/amirphl/creator-console/app/dispatch"
	"github.com/amirphl/creator-console/app/dto"
	"github.com/amirphl/creator-console/app/metrics"
	"github.com/amirphl/creator-console/app/scheduler"
	"github.com/amirphl/creator-console/app/services"
	"github.com/amirphl/creator-console/config"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/repository"
	"github.com/amirphl/creator-console/utils"
)

// DispatchFlow creates, launches and manages bulk sends
type DispatchFlow interface {
	StartDispatch(ctx context.Context, accountID string, req *dto.StartDispatchRequest, metadata *ClientMetadata) (*dto.DispatchStatusResponse, error)
	DispatchStatus(ctx context.Context, runID string, metadata *ClientMetadata) (*dto.DispatchStatusResponse, error)
	CancelDispatch(ctx context.Context, runID string, metadata *ClientMetadata) (*dto.DispatchStatusResponse, error)
	UpdateTemplate(ctx context.Context, runID string, req *dto.UpdateTemplateRequest, metadata *ClientMetadata) (*dto.DispatchStatusResponse, error)
	RetryFailed(ctx context.Context, runID string, req *dto.RetryDispatchRequest, metadata *ClientMetadata) (*dto.DispatchStatusResponse, error)
	ExportDispatch(ctx context.Context, runID string, metadata *ClientMetadata) (filename string, data []byte, err error)

	// LaunchScheduled starts a scheduled run whose time has come
	LaunchScheduled(ctx context.Context, run *models.DispatchRun) error
}

type DispatchFlowImpl struct {
	baseCtx context.Context

	stores     *AudienceStores
	tx         repository.Transactor
	runRepo    repository.DispatchRunRepository
	resultRepo repository.DispatchResultRepository
	syncer     *conversation.Syncer
	graph      services.GraphProvider
	locks      scheduler.RunLock
	runs       *RunRegistry
	exporter   services.ExportService
	audit      auditTrail
	cfg        config.DispatchConfig
	logger     *log.Logger
}

func NewDispatchFlow(
	baseCtx context.Context,
	stores *AudienceStores,
	tx repository.Transactor,
	runRepo repository.DispatchRunRepository,
	resultRepo repository.DispatchResultRepository,
	auditRepo repository.AuditLogRepository,
	upserter conversation.Upserter,
	graph services.GraphProvider,
	locks scheduler.RunLock,
	runs *RunRegistry,
	exporter services.ExportService,
	cfg config.DispatchConfig,
	logger *log.Logger,
) *DispatchFlowImpl {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = utils.DefaultDispatchDelay
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = utils.MinDispatchDelay
	}
	if cfg.FallbackName == "" {
		cfg.FallbackName = utils.DefaultFallbackName
	}
	return &DispatchFlowImpl{
		baseCtx:    baseCtx,
		stores:     stores,
		tx:         tx,
		runRepo:    runRepo,
		resultRepo: resultRepo,
		syncer:     conversation.NewSyncer(upserter, cfg.PreviewLength, logger),
		graph:      graph,
		locks:      locks,
		runs:       runs,
		exporter:   exporter,
		audit:      auditTrail{repo: auditRepo, logger: logger},
		cfg:        cfg,
		logger:     logger,
	}
}

// StartDispatch snapshots the requested recipients from the audience and
// persists a run. Runs scheduled in the future are left to the scheduler.
func (f *DispatchFlowImpl) StartDispatch(ctx context.Context, accountID string, req *dto.StartDispatchRequest, metadata *ClientMetadata) (*dto.DispatchStatusResponse, error) {
	if err := checkAccount(accountID, metadata); err != nil {
		return nil, NewBusinessError("START_DISPATCH_FAILED", "Failed to start dispatch", err)
	}

	delay, err := f.resolveDelay(req.DelayMs, f.cfg.DefaultDelay)
	if err != nil {
		return nil, NewBusinessErrorf("DELAY_TOO_SHORT", "Delay must be at least %s", err, f.cfg.MinDelay)
	}

	store, err := f.stores.Get(ctx, accountID)
	if err != nil {
		return nil, NewBusinessError("START_DISPATCH_FAILED", "Failed to start dispatch", err)
	}
	recipients := store.Snapshot(req.RecipientIDs)
	if len(recipients) == 0 {
		return nil, NewBusinessError("NO_KNOWN_RECIPIENTS", "None of the recipients are in the audience", ErrNoKnownRecipients)
	}

	var scheduleAt *time.Time
	if req.ScheduleAt != nil && !utils.IsDue(req.ScheduleAt) {
		scheduleAt = utils.TimeToUTCPtr(req.ScheduleAt)
	}

	run, err := f.createRun(ctx, accountID, recipients, req.Template, req.Personalize, delay, scheduleAt, nil)
	if err != nil {
		f.audit.record(ctx, accountID, models.AuditActionDispatchCreated, nil, "Dispatch not created",
			map[string]any{"recipients": len(recipients)}, err, metadata)
		return nil, err
	}
	f.audit.record(ctx, accountID, models.AuditActionDispatchCreated, &run.UUID, "Dispatch created",
		map[string]any{"recipients": len(recipients), "scheduled": scheduleAt != nil}, nil, metadata)
	return f.statusOf(ctx, run.UUID)
}

// RetryFailed starts a new run over the recipients that failed in a finished run
func (f *DispatchFlowImpl) RetryFailed(ctx context.Context, runID string, req *dto.RetryDispatchRequest, metadata *ClientMetadata) (*dto.DispatchStatusResponse, error) {
	prev, err := f.loadRun(ctx, runID, metadata)
	if err != nil {
		return nil, NewBusinessError("RETRY_DISPATCH_FAILED", "Failed to retry dispatch", err)
	}
	if !prev.Status.Terminal() {
		return nil, NewBusinessError("RUN_NOT_FINISHED", "Only finished runs can be retried", ErrRunNotFinished)
	}

	failedIDs, err := f.resultRepo.FailedRecipientIDs(ctx, prev.UUID)
	if err != nil {
		return nil, NewBusinessError("RETRY_DISPATCH_FAILED", "Failed to load failed recipients", err)
	}
	if len(failedIDs) == 0 {
		return nil, NewBusinessError("NO_FAILED_RECIPIENTS", "Run has no failed recipients", ErrNoFailedRecipients)
	}

	template := prev.Template
	var delayMs *int64
	if req != nil {
		if req.Template != nil {
			template = *req.Template
		}
		delayMs = req.DelayMs
	}
	delay, err := f.resolveDelay(delayMs, prev.Delay())
	if err != nil {
		return nil, NewBusinessErrorf("DELAY_TOO_SHORT", "Delay must be at least %s", err, f.cfg.MinDelay)
	}

	store, err := f.stores.Get(ctx, prev.AccountID)
	if err != nil {
		return nil, NewBusinessError("RETRY_DISPATCH_FAILED", "Failed to retry dispatch", err)
	}

	retryOf := prev.UUID
	run, err := f.createRun(ctx, prev.AccountID, recipientsFor(store, failedIDs), template, prev.Personalize, delay, nil, &retryOf)
	if err != nil {
		return nil, err
	}
	f.audit.record(ctx, prev.AccountID, models.AuditActionDispatchRetried, &run.UUID, "Failed recipients retried",
		map[string]any{"retry_of": retryOf.String(), "recipients": len(failedIDs)}, nil, metadata)
	return f.statusOf(ctx, run.UUID)
}

// LaunchScheduled implements scheduler.DueRunLauncher. A busy account is
// reported as scheduler.ErrLockBusy so the run stays scheduled.
func (f *DispatchFlowImpl) LaunchScheduled(ctx context.Context, run *models.DispatchRun) error {
	release, err := f.locks.Acquire(ctx, scheduler.DispatchKey(run.AccountID))
	if err != nil {
		return err
	}

	store, err := f.stores.Get(ctx, run.AccountID)
	if err != nil {
		release()
		return err
	}

	started, err := f.runRepo.MarkRunning(ctx, run.UUID, utils.UTCNow())
	if err != nil {
		release()
		return err
	}
	if !started {
		release()
		return ErrRunNotActive
	}
	return f.launch(run, recipientsFor(store, run.RecipientIDs), release)
}

// DispatchStatus reports a live run from memory and any other run from the database
func (f *DispatchFlowImpl) DispatchStatus(ctx context.Context, runID string, metadata *ClientMetadata) (*dto.DispatchStatusResponse, error) {
	run, err := f.loadRun(ctx, runID, metadata)
	if err != nil {
		return nil, NewBusinessError("DISPATCH_STATUS_FAILED", "Failed to get dispatch status", err)
	}
	return f.statusOf(ctx, run.UUID)
}

// CancelDispatch stops a running job before its next recipient, or cancels a
// run that is still waiting for its schedule
func (f *DispatchFlowImpl) CancelDispatch(ctx context.Context, runID string, metadata *ClientMetadata) (*dto.DispatchStatusResponse, error) {
	run, err := f.loadRun(ctx, runID, metadata)
	if err != nil {
		return nil, NewBusinessError("CANCEL_DISPATCH_FAILED", "Failed to cancel dispatch", err)
	}

	if h, ok := f.runs.dispatch(run.UUID); ok {
		if _, _, done := h.state(); !done {
			h.exec.Job.Cancel()
			f.logger.Printf("dispatch: run %s cancel requested", run.UUID)
			f.audit.record(ctx, run.AccountID, models.AuditActionDispatchCancelled, &run.UUID, "Dispatch cancel requested", nil, nil, metadata)
			return f.statusOf(ctx, run.UUID)
		}
	}

	if run.Status != models.DispatchRunStatusScheduled {
		return nil, NewBusinessError("RUN_NOT_ACTIVE", "Dispatch run is not active", ErrRunNotActive)
	}
	if err := f.runRepo.Finish(ctx, run.UUID, models.DispatchRunStatusCancelled, 0, 0, utils.UTCNow()); err != nil {
		return nil, NewBusinessError("CANCEL_DISPATCH_FAILED", "Failed to cancel dispatch", err)
	}
	f.audit.record(ctx, run.AccountID, models.AuditActionDispatchCancelled, &run.UUID, "Scheduled dispatch cancelled", nil, nil, metadata)
	return f.statusOf(ctx, run.UUID)
}

// UpdateTemplate replaces the template of a run. A live job applies it to
// recipients not yet rendered.
func (f *DispatchFlowImpl) UpdateTemplate(ctx context.Context, runID string, req *dto.UpdateTemplateRequest, metadata *ClientMetadata) (*dto.DispatchStatusResponse, error) {
	run, err := f.loadRun(ctx, runID, metadata)
	if err != nil {
		return nil, NewBusinessError("UPDATE_TEMPLATE_FAILED", "Failed to update template", err)
	}

	live := false
	if h, ok := f.runs.dispatch(run.UUID); ok {
		if _, _, done := h.state(); !done {
			h.exec.Job.SetTemplate(req.Template)
			live = true
		}
	}
	if !live && run.Status != models.DispatchRunStatusScheduled {
		return nil, NewBusinessError("RUN_NOT_ACTIVE", "Dispatch run is not active", ErrRunNotActive)
	}

	if err := f.runRepo.UpdateTemplate(ctx, run.UUID, req.Template); err != nil {
		return nil, NewBusinessError("UPDATE_TEMPLATE_FAILED", "Failed to update template", err)
	}
	f.audit.record(ctx, run.AccountID, models.AuditActionTemplateUpdated, &run.UUID, "Dispatch template updated",
		map[string]any{"live": live}, nil, metadata)
	return f.statusOf(ctx, run.UUID)
}

// ExportDispatch renders the summary and per-recipient results of a run as a workbook
func (f *DispatchFlowImpl) ExportDispatch(ctx context.Context, runID string, metadata *ClientMetadata) (string, []byte, error) {
	run, err := f.loadRun(ctx, runID, metadata)
	if err != nil {
		return "", nil, NewBusinessError("EXPORT_DISPATCH_FAILED", "Failed to export dispatch", err)
	}

	rows, err := f.resultRepo.ByRun(ctx, run.UUID)
	if err != nil {
		return "", nil, NewBusinessError("EXPORT_DISPATCH_FAILED", "Failed to load dispatch results", err)
	}
	results := make([]models.DispatchResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, *r)
	}

	name, data, err := f.exporter.ExportDispatchRun(run, results)
	if err != nil {
		return "", nil, NewBusinessError("EXPORT_DISPATCH_FAILED", "Failed to export dispatch", err)
	}
	return name, data, nil
}

func (f *DispatchFlowImpl) resolveDelay(delayMs *int64, fallback time.Duration) (time.Duration, error) {
	delay := fallback
	if delayMs != nil {
		delay = time.Duration(*delayMs) * time.Millisecond
	}
	if delay < f.cfg.MinDelay {
		return 0, ErrDelayTooShort
	}
	return delay, nil
}

// createRun persists a run over recipients and launches it unless it is
// scheduled for later. An immediate run takes the account lock before anything
// is written, so a busy account leaves no trace, and is written already running
// so the scheduler never picks it up.
func (f *DispatchFlowImpl) createRun(
	ctx context.Context,
	accountID string,
	recipients []models.AudienceRecord,
	template string,
	personalize bool,
	delay time.Duration,
	scheduleAt *time.Time,
	retryOf *uuid.UUID,
) (*models.DispatchRun, error) {
	ids := make([]string, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.ExternalID)
	}
	run := &models.DispatchRun{
		UUID:         uuid.New(),
		AccountID:    accountID,
		RecipientIDs: pq.StringArray(ids),
		Template:     template,
		Personalize:  personalize,
		DelayMs:      delay.Milliseconds(),
		Status:       models.DispatchRunStatusScheduled,
		ScheduleAt:   scheduleAt,
		RetryOf:      retryOf,
	}

	if scheduleAt != nil {
		if err := f.runRepo.Save(ctx, run); err != nil {
			return nil, NewBusinessError("START_DISPATCH_FAILED", "Failed to save dispatch run", err)
		}
		f.logger.Printf("dispatch: run %s scheduled at %s for %d recipients", run.UUID, scheduleAt.Format(time.RFC3339), len(ids))
		return run, nil
	}

	release, err := f.locks.Acquire(ctx, scheduler.DispatchKey(accountID))
	if err != nil {
		if errors.Is(err, scheduler.ErrLockBusy) {
			return nil, NewBusinessError("DISPATCH_IN_PROGRESS", "A dispatch is already running for this account", ErrDispatchInProgress)
		}
		return nil, NewBusinessError("START_DISPATCH_FAILED", "Failed to lock account", err)
	}

	startedAt := utils.UTCNow()
	err = f.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := f.runRepo.Save(txCtx, run); err != nil {
			return err
		}
		started, err := f.runRepo.MarkRunning(txCtx, run.UUID, startedAt)
		if err != nil {
			return err
		}
		if !started {
			return ErrRunNotActive
		}
		return nil
	})
	if err != nil {
		release()
		return nil, NewBusinessError("START_DISPATCH_FAILED", "Failed to save dispatch run", err)
	}
	run.Status = models.DispatchRunStatusRunning
	run.StartedAt = &startedAt

	if err := f.launch(run, recipients, release); err != nil {
		return nil, NewBusinessError("START_DISPATCH_FAILED", "Failed to launch dispatch", err)
	}
	return run, nil
}

// launch executes a running run in the background while holding the account
// lock; release is called once the run and its bookkeeping are done
func (f *DispatchFlowImpl) launch(run *models.DispatchRun, recipients []models.AudienceRecord, release func()) error {
	job, err := dispatch.NewJob(dispatch.JobOptions{
		ID:           run.UUID.String(),
		AccountID:    run.AccountID,
		Recipients:   recipients,
		Template:     run.Template,
		Personalize:  run.Personalize,
		FallbackName: f.cfg.FallbackName,
		Delay:        run.Delay(),
	})
	if err != nil {
		f.finish(run.UUID, models.DispatchRunStatusFailed, 0, 0)
		release()
		return err
	}

	// bookkeeping outlives a shutdown of the sends
	bookCtx := context.WithoutCancel(f.baseCtx)
	recorder := adapters.NewDispatchResultRecorder(f.resultRepo, run.UUID)
	onProgress := func(p dispatch.Progress) {
		metrics.ObserveDispatchAttempt(string(p.Last.Outcome))
		if err := recorder.Record(bookCtx, p.Last); err != nil {
			f.logger.Printf("dispatch: run %s recording result of %s failed: %v", run.UUID, p.Last.RecipientID, err)
		}
	}

	controller := dispatch.NewController(f.graph.ForAccount(run.AccountID), f.cfg.CallTimeout, f.logger)
	h := &dispatchHandle{
		id:        run.UUID,
		accountID: run.AccountID,
		status:    models.DispatchRunStatusRunning,
		settled:   make(chan struct{}),
	}

	metrics.RunStarted(metrics.KindDispatch)
	h.exec = controller.Start(f.baseCtx, job, onProgress)
	f.runs.putDispatch(h)

	go func() {
		summary := h.exec.Wait()
		status := models.DispatchRunStatusCompleted
		if summary.Cancelled {
			status = models.DispatchRunStatusCancelled
		}
		f.finish(run.UUID, status, summary.Sent, summary.Failed)

		report := f.syncer.Sync(bookCtx, run.AccountID, job.Recipients(), summary.Results)
		metrics.ObserveSyncFailures(len(report.Failures))

		release()
		metrics.RunFinished(metrics.KindDispatch, string(status))
		f.runs.settleDispatch(h, status, &report)
	}()
	return nil
}

func (f *DispatchFlowImpl) finish(id uuid.UUID, status models.DispatchRunStatus, sent, failed int) {
	if err := f.runRepo.Finish(context.WithoutCancel(f.baseCtx), id, status, sent, failed, utils.UTCNow()); err != nil {
		f.logger.Printf("dispatch: finishing run %s failed: %v", id, err)
	}
}

func (f *DispatchFlowImpl) loadRun(ctx context.Context, runID string, metadata *ClientMetadata) (*models.DispatchRun, error) {
	id, err := parseRunID(runID)
	if err != nil {
		return nil, err
	}
	run, err := f.runRepo.ByUUID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load dispatch run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	if !metadata.CanAccess(run.AccountID) {
		return nil, ErrAccountAccessDenied
	}
	return run, nil
}

// statusOf prefers the live job over the persisted row for counters and results
func (f *DispatchFlowImpl) statusOf(ctx context.Context, id uuid.UUID) (*dto.DispatchStatusResponse, error) {
	run, err := f.runRepo.ByUUID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("DISPATCH_STATUS_FAILED", "Failed to load dispatch run", err)
	}
	if run == nil {
		return nil, NewBusinessError("RUN_NOT_FOUND", "Dispatch run not found", ErrRunNotFound)
	}

	out := &dto.DispatchStatusResponse{
		RunID:        run.UUID.String(),
		AccountID:    run.AccountID,
		Status:       string(run.Status),
		Total:        len(run.RecipientIDs),
		Sent:         run.SentCount,
		Failed:       run.FailedCount,
		NotAttempted: len(run.RecipientIDs) - run.SentCount - run.FailedCount,
		Template:     run.Template,
		Personalize:  run.Personalize,
		DelayMs:      run.DelayMs,
		ScheduleAt:   formatTimePtr(run.ScheduleAt),
		StartedAt:    formatTimePtr(run.StartedAt),
		FinishedAt:   formatTimePtr(run.FinishedAt),
	}
	if run.RetryOf != nil {
		retryOf := run.RetryOf.String()
		out.RetryOf = &retryOf
	}

	if h, ok := f.runs.dispatch(run.UUID); ok {
		status, report, done := h.state()
		out.Live = !done
		if !done {
			out.Status = string(status)
		}
		counts := h.exec.Job.Counts()
		out.Total, out.Sent, out.Failed, out.NotAttempted = counts.Total, counts.Sent, counts.Failed, counts.NotAttempted
		out.Template = h.exec.Job.Template()
		for _, r := range h.exec.Job.Results() {
			out.Results = append(out.Results, ToDispatchResultDTO(r))
		}
		if report != nil {
			out.Sync = toSyncDTO(*report)
		}
		return out, nil
	}

	if run.Status == models.DispatchRunStatusScheduled {
		return out, nil
	}
	rows, err := f.resultRepo.ByRun(ctx, run.UUID)
	if err != nil {
		return nil, NewBusinessError("DISPATCH_STATUS_FAILED", "Failed to load dispatch results", err)
	}
	sent, failed := 0, 0
	for _, r := range rows {
		res := adapters.ResultFromModel(r)
		if res.Succeeded() {
			sent++
		} else {
			failed++
		}
		out.Results = append(out.Results, ToDispatchResultDTO(res))
	}
	if len(rows) > 0 {
		out.Sent, out.Failed = sent, failed
		out.NotAttempted = out.Total - sent - failed
	}
	return out, nil
}

// recipientsFor keeps the order of ids. Ids no longer in the store are still
// sent to, with no display name.
func recipientsFor(store *audience.Store, ids []string) []models.AudienceRecord {
	known := store.Snapshot(ids)
	byID := make(map[string]models.AudienceRecord, len(known))
	for _, r := range known {
		byID[r.ExternalID] = r
	}
	out := make([]models.AudienceRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
			continue
		}
		out = append(out, models.AudienceRecord{AccountID: store.AccountID(), ExternalID: id})
	}
	return out
}

func toSyncDTO(r conversation.Report) *dto.ConversationSyncDTO {
	out := &dto.ConversationSyncDTO{Synced: r.Synced, Skipped: r.Skipped}
	if len(r.Failures) > 0 {
		out.Failures = make(map[string]string, len(r.Failures))
		for _, fl := range r.Failures {
			out.Failures[fl.RecipientID] = fl.Error
		}
	}
	return out
}
