package businessflow

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/amirphl/creator-console/app/acquisition"
	"github.com/amirphl/creator-console/app/adapters"
	"github.com/amirphl/creator-console/app/cache"
	"github.com/amirphl/creator-console/app/dto"
	"github.com/amirphl/creator-console/app/metrics"
	"github.com/amirphl/creator-console/app/scheduler"
	"github.com/amirphl/creator-console/app/services"
	"github.com/amirphl/creator-console/config"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/repository"
	"github.com/amirphl/creator-console/utils"
)

// AcquisitionFlow starts, observes and cancels audience acquisitions
type AcquisitionFlow interface {
	StartAcquisition(ctx context.Context, accountID string, req *dto.StartAcquisitionRequest, metadata *ClientMetadata) (*dto.AcquisitionStatusResponse, error)
	AcquisitionStatus(ctx context.Context, runID string, metadata *ClientMetadata) (*dto.AcquisitionStatusResponse, error)
	CancelAcquisition(ctx context.Context, runID string, metadata *ClientMetadata) (*dto.AcquisitionStatusResponse, error)
}

type AcquisitionFlowImpl struct {
	// runs outlive the request that started them
	baseCtx context.Context

	stores       *AudienceStores
	audienceRepo repository.AudienceRecordRepository
	graph        services.GraphProvider
	locks        scheduler.RunLock
	totals       cache.AccountTotals
	runs         *RunRegistry
	cfg          acquisition.Config
	audit        auditTrail
	logger       *log.Logger
}

func NewAcquisitionFlow(
	baseCtx context.Context,
	stores *AudienceStores,
	audienceRepo repository.AudienceRecordRepository,
	auditRepo repository.AuditLogRepository,
	graph services.GraphProvider,
	locks scheduler.RunLock,
	totals cache.AccountTotals,
	runs *RunRegistry,
	cfg config.AcquisitionConfig,
	logger *log.Logger,
) AcquisitionFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &AcquisitionFlowImpl{
		baseCtx:      baseCtx,
		stores:       stores,
		audienceRepo: audienceRepo,
		graph:        graph,
		locks:        locks,
		totals:       totals,
		runs:         runs,
		cfg: acquisition.Config{
			PageBudget:        cfg.PageBudget,
			ChunkDelay:        cfg.ChunkDelay,
			TurboChunkDelay:   cfg.TurboChunkDelay,
			RateLimitCooldown: cfg.RateLimitCooldown,
			CallTimeout:       cfg.CallTimeout,
		},
		audit:  auditTrail{repo: auditRepo, logger: logger},
		logger: logger,
	}
}

// StartAcquisition launches a paged pull of the account's followers.
// Only one acquisition may run per account.
func (f *AcquisitionFlowImpl) StartAcquisition(ctx context.Context, accountID string, req *dto.StartAcquisitionRequest, metadata *ClientMetadata) (*dto.AcquisitionStatusResponse, error) {
	if err := checkAccount(accountID, metadata); err != nil {
		return nil, NewBusinessError("START_ACQUISITION_FAILED", "Failed to start acquisition", err)
	}

	release, err := f.locks.Acquire(ctx, scheduler.AcquisitionKey(accountID))
	if err != nil {
		if errors.Is(err, scheduler.ErrLockBusy) {
			return nil, NewBusinessError("ACQUISITION_IN_PROGRESS", "An acquisition is already running for this account", ErrAcquisitionInProgress)
		}
		return nil, NewBusinessError("START_ACQUISITION_FAILED", "Failed to lock account", err)
	}

	store, err := f.stores.Get(ctx, accountID)
	if err != nil {
		release()
		return nil, NewBusinessError("START_ACQUISITION_FAILED", "Failed to start acquisition", err)
	}

	lastTotal, err := f.totals.Get(ctx, accountID)
	if err != nil {
		f.logger.Printf("acquisition: reading last total of %s failed: %v", accountID, err)
		lastTotal = 0
	}

	opts := acquisition.Options{
		KnownTotal: max(lastTotal, store.Len()),
		Turbo:      req != nil && req.Turbo,
	}
	if req != nil && req.Goal != nil {
		opts.Goal = *req.Goal
		if opts.Goal == 0 {
			opts.Goal = -1
		}
	}

	sink := adapters.PersistingSink{Store: store, Repo: f.audienceRepo, Source: models.AudienceSourceFollower}
	controller := acquisition.NewController(f.graph.ForAccount(accountID), sink, f.cfg, f.logger)

	h := &acquisitionHandle{
		id:        uuid.New(),
		accountID: accountID,
		startedAt: utils.UTCNow(),
		settled:   make(chan struct{}),
	}

	metrics.RunStarted(metrics.KindAcquisition)
	h.run = controller.Start(f.baseCtx, opts, observeAcquisition())
	f.runs.putAcquisition(h)
	f.logger.Printf("acquisition: run %s started for account %s (known total %d)", h.id, accountID, opts.KnownTotal)
	f.audit.record(ctx, accountID, models.AuditActionAcquisitionStarted, &h.id, "Acquisition started",
		map[string]any{"goal": opts.Goal, "known_total": opts.KnownTotal, "turbo": opts.Turbo}, nil, metadata)

	go func() {
		final, _ := h.run.Wait()
		if err := f.totals.Set(context.WithoutCancel(f.baseCtx), accountID, final.DisplayCount); err != nil {
			f.logger.Printf("acquisition: storing total of %s failed: %v", accountID, err)
		}
		release()
		metrics.RunFinished(metrics.KindAcquisition, string(final.State))
		f.runs.settleAcquisition(h)
	}()

	return toAcquisitionStatus(h), nil
}

// AcquisitionStatus returns the latest progress of a run started by this process
func (f *AcquisitionFlowImpl) AcquisitionStatus(ctx context.Context, runID string, metadata *ClientMetadata) (*dto.AcquisitionStatusResponse, error) {
	h, err := f.lookup(runID, metadata)
	if err != nil {
		return nil, NewBusinessError("ACQUISITION_STATUS_FAILED", "Failed to get acquisition status", err)
	}
	return toAcquisitionStatus(h), nil
}

// CancelAcquisition stops a run before its next iteration. Records already merged are kept.
func (f *AcquisitionFlowImpl) CancelAcquisition(ctx context.Context, runID string, metadata *ClientMetadata) (*dto.AcquisitionStatusResponse, error) {
	h, err := f.lookup(runID, metadata)
	if err != nil {
		return nil, NewBusinessError("CANCEL_ACQUISITION_FAILED", "Failed to cancel acquisition", err)
	}

	select {
	case <-h.run.Done():
		return nil, NewBusinessError("RUN_NOT_ACTIVE", "Acquisition has already finished", ErrRunNotActive)
	default:
	}

	h.run.Cancel()
	f.logger.Printf("acquisition: run %s cancel requested", h.id)
	f.audit.record(ctx, h.accountID, models.AuditActionAcquisitionCancelled, &h.id, "Acquisition cancel requested", nil, nil, metadata)
	return toAcquisitionStatus(h), nil
}

func (f *AcquisitionFlowImpl) lookup(runID string, metadata *ClientMetadata) (*acquisitionHandle, error) {
	id, err := parseRunID(runID)
	if err != nil {
		return nil, err
	}
	h, ok := f.runs.acquisition(id)
	if !ok {
		return nil, ErrRunNotFound
	}
	if !metadata.CanAccess(h.accountID) {
		return nil, ErrAccountAccessDenied
	}
	return h, nil
}

// observeAcquisition feeds progress events into the pipeline metrics.
// Events arrive on the controller goroutine only.
func observeAcquisition() acquisition.ProgressFunc {
	lastChunk, lastAdded := 0, 0
	return func(p acquisition.Progress) {
		if p.Phase == acquisition.PhasePaused {
			metrics.ObserveRateLimit()
		}
		if p.ChunkIndex > lastChunk {
			metrics.ObserveChunk(p.Added - lastAdded)
			lastChunk, lastAdded = p.ChunkIndex, p.Added
		}
	}
}

func toAcquisitionStatus(h *acquisitionHandle) *dto.AcquisitionStatusResponse {
	p := h.run.Progress()
	out := &dto.AcquisitionStatusResponse{
		RunID:         h.id.String(),
		AccountID:     h.accountID,
		Phase:         string(p.Phase),
		State:         string(p.State),
		FetchedCount:  p.FetchedCount,
		Added:         p.Added,
		DisplayCount:  p.DisplayCount,
		ChunkIndex:    p.ChunkIndex,
		Goal:          p.Goal,
		RateLimitHits: p.RateLimitHits,
		ElapsedMs:     p.Elapsed.Milliseconds(),
		RatePerSecond: p.Rate(),
		StartedAt:     formatTime(h.startedAt),
	}
	if eta, ok := p.ETA(); ok && p.State == acquisition.StateRunning {
		secs := eta.Seconds()
		out.ETASeconds = &secs
	}
	if p.Err != nil {
		out.Error = p.Err.Error()
	}
	return out
}
