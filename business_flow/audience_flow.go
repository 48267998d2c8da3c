package businessflow

import (
	"context"
	"errors"
	"log"

	"github.com/amirphl/creator-console/app/adapters"
	"github.com/amirphl/creator-console/app/dto"
	"github.com/amirphl/creator-console/app/scheduler"
	"github.com/amirphl/creator-console/app/services"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/repository"
)

// AudienceFlow handles the operator's view of an account's audience
type AudienceFlow interface {
	LoadAudience(ctx context.Context, accountID string, metadata *ClientMetadata) (*dto.LoadAudienceResponse, error)
	ListAudience(ctx context.Context, accountID string, req *dto.ListAudienceRequest, metadata *ClientMetadata) (*dto.ListAudienceResponse, error)
	AddAudience(ctx context.Context, accountID string, req *dto.AddAudienceRequest, metadata *ClientMetadata) (*dto.AddAudienceResponse, error)
	RemoveAudience(ctx context.Context, accountID string, req *dto.RemoveAudienceRequest, metadata *ClientMetadata) (*dto.RemoveAudienceResponse, error)
	EnrichAudience(ctx context.Context, accountID, recordID string, req *dto.EnrichAudienceRequest, metadata *ClientMetadata) (*dto.EnrichAudienceResponse, error)
	ExportAudience(ctx context.Context, accountID string, metadata *ClientMetadata) (filename string, data []byte, err error)
}

type AudienceFlowImpl struct {
	stores       *AudienceStores
	audienceRepo repository.AudienceRecordRepository
	locks        scheduler.RunLock
	exporter     services.ExportService
	audit        auditTrail
	logger       *log.Logger
}

func NewAudienceFlow(
	stores *AudienceStores,
	audienceRepo repository.AudienceRecordRepository,
	auditRepo repository.AuditLogRepository,
	locks scheduler.RunLock,
	exporter services.ExportService,
	logger *log.Logger,
) AudienceFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &AudienceFlowImpl{
		stores:       stores,
		audienceRepo: audienceRepo,
		locks:        locks,
		exporter:     exporter,
		audit:        auditTrail{repo: auditRepo, logger: logger},
		logger:       logger,
	}
}

// LoadAudience merges the persisted audience of the account into memory
func (f *AudienceFlowImpl) LoadAudience(ctx context.Context, accountID string, metadata *ClientMetadata) (*dto.LoadAudienceResponse, error) {
	if err := checkAccount(accountID, metadata); err != nil {
		return nil, NewBusinessError("LOAD_AUDIENCE_FAILED", "Failed to load audience", err)
	}

	store, persisted, added, err := f.stores.Reload(ctx, accountID)
	if err != nil {
		return nil, NewBusinessError("LOAD_AUDIENCE_FAILED", "Failed to load audience", err)
	}

	return &dto.LoadAudienceResponse{
		Message:   "Audience loaded successfully",
		Persisted: persisted,
		Added:     added,
		Total:     store.Len(),
	}, nil
}

// ListAudience returns the audience in insertion order, optionally narrowed to one source
func (f *AudienceFlowImpl) ListAudience(ctx context.Context, accountID string, req *dto.ListAudienceRequest, metadata *ClientMetadata) (*dto.ListAudienceResponse, error) {
	if err := checkAccount(accountID, metadata); err != nil {
		return nil, NewBusinessError("LIST_AUDIENCE_FAILED", "Failed to list audience", err)
	}

	store, err := f.stores.Get(ctx, accountID)
	if err != nil {
		return nil, NewBusinessError("LIST_AUDIENCE_FAILED", "Failed to list audience", err)
	}

	var records []models.AudienceRecord
	if req != nil && req.Source != "" {
		records = store.BySource(models.AudienceSource(req.Source))
	} else {
		records = store.All()
	}

	items := make([]dto.AudienceRecordDTO, 0, len(records))
	for _, r := range records {
		items = append(items, ToAudienceRecordDTO(r))
	}

	return &dto.ListAudienceResponse{
		Message: "Audience retrieved successfully",
		Items:   items,
		Total:   store.Len(),
	}, nil
}

// AddAudience merges operator supplied records (quick add or a whole discovery
// result). Records whose id is already known are left untouched.
func (f *AudienceFlowImpl) AddAudience(ctx context.Context, accountID string, req *dto.AddAudienceRequest, metadata *ClientMetadata) (*dto.AddAudienceResponse, error) {
	if err := checkAccount(accountID, metadata); err != nil {
		return nil, NewBusinessError("ADD_AUDIENCE_FAILED", "Failed to add audience", err)
	}

	store, err := f.stores.Get(ctx, accountID)
	if err != nil {
		return nil, NewBusinessError("ADD_AUDIENCE_FAILED", "Failed to add audience", err)
	}

	source := models.AudienceSource(req.Source)
	incoming := make([]models.AudienceRecord, 0, len(req.Records))
	for _, in := range req.Records {
		incoming = append(incoming, models.AudienceRecord{
			AccountID:   accountID,
			ExternalID:  in.ID,
			DisplayName: in.DisplayName,
			Handle:      in.Handle,
			AvatarRef:   in.AvatarRef,
			Source:      source,
		})
	}

	added := store.Merge(incoming)
	if err := adapters.PersistRecords(ctx, f.audienceRepo, store, incoming); err != nil {
		return nil, NewBusinessError("ADD_AUDIENCE_FAILED", "Failed to persist audience", err)
	}
	f.audit.record(ctx, accountID, models.AuditActionAudienceAdded, nil, "Audience records added",
		map[string]any{"source": req.Source, "added": len(added), "skipped": len(incoming) - len(added)}, nil, metadata)

	return &dto.AddAudienceResponse{
		Message: "Audience updated successfully",
		Added:   len(added),
		Skipped: len(incoming) - len(added),
		Total:   store.Len(),
	}, nil
}

// RemoveAudience deletes records from memory and the database.
// It is refused while an acquisition holds the account.
func (f *AudienceFlowImpl) RemoveAudience(ctx context.Context, accountID string, req *dto.RemoveAudienceRequest, metadata *ClientMetadata) (*dto.RemoveAudienceResponse, error) {
	if err := checkAccount(accountID, metadata); err != nil {
		return nil, NewBusinessError("REMOVE_AUDIENCE_FAILED", "Failed to remove audience", err)
	}

	release, err := f.locks.Acquire(ctx, scheduler.AcquisitionKey(accountID))
	if err != nil {
		if errors.Is(err, scheduler.ErrLockBusy) {
			f.audit.record(ctx, accountID, models.AuditActionAudienceRemoved, nil, "Audience removal refused during acquisition",
				map[string]any{"ids": len(req.IDs)}, ErrAcquisitionInProgress, metadata)
			return nil, NewBusinessError("ACQUISITION_IN_PROGRESS", "Audience cannot be changed while an acquisition is running", ErrAcquisitionInProgress)
		}
		return nil, NewBusinessError("REMOVE_AUDIENCE_FAILED", "Failed to lock account", err)
	}
	defer release()

	store, err := f.stores.Get(ctx, accountID)
	if err != nil {
		return nil, NewBusinessError("REMOVE_AUDIENCE_FAILED", "Failed to remove audience", err)
	}

	removed := store.Remove(req.IDs...)
	if f.audienceRepo != nil {
		if _, err := f.audienceRepo.DeleteByExternalIDs(ctx, accountID, req.IDs); err != nil {
			return nil, NewBusinessError("REMOVE_AUDIENCE_FAILED", "Failed to delete persisted audience", err)
		}
	}
	f.audit.record(ctx, accountID, models.AuditActionAudienceRemoved, nil, "Audience records removed",
		map[string]any{"requested": len(req.IDs), "removed": removed}, nil, metadata)

	return &dto.RemoveAudienceResponse{
		Message: "Audience updated successfully",
		Removed: removed,
		Total:   store.Len(),
	}, nil
}

// EnrichAudience sets one attribute on a known record
func (f *AudienceFlowImpl) EnrichAudience(ctx context.Context, accountID, recordID string, req *dto.EnrichAudienceRequest, metadata *ClientMetadata) (*dto.EnrichAudienceResponse, error) {
	if err := checkAccount(accountID, metadata); err != nil {
		return nil, NewBusinessError("ENRICH_AUDIENCE_FAILED", "Failed to enrich audience record", err)
	}

	store, err := f.stores.Get(ctx, accountID)
	if err != nil {
		return nil, NewBusinessError("ENRICH_AUDIENCE_FAILED", "Failed to enrich audience record", err)
	}

	if !store.Enrich(recordID, req.Key, req.Value) {
		return nil, NewBusinessError("RECORD_NOT_FOUND", "Audience record not found", ErrRecordNotFound)
	}
	rec, _ := store.ByID(recordID)

	if f.audienceRepo != nil {
		if err := f.audienceRepo.UpdateAttributes(ctx, accountID, recordID, rec.Attributes); err != nil {
			return nil, NewBusinessError("ENRICH_AUDIENCE_FAILED", "Failed to persist attributes", err)
		}
	}
	f.audit.record(ctx, accountID, models.AuditActionAudienceEnriched, nil, "Audience record enriched",
		map[string]any{"record_id": recordID, "key": req.Key}, nil, metadata)

	return &dto.EnrichAudienceResponse{
		Message: "Audience record updated successfully",
		Record:  ToAudienceRecordDTO(rec),
	}, nil
}

// ExportAudience renders the whole audience as a workbook
func (f *AudienceFlowImpl) ExportAudience(ctx context.Context, accountID string, metadata *ClientMetadata) (string, []byte, error) {
	if err := checkAccount(accountID, metadata); err != nil {
		return "", nil, NewBusinessError("EXPORT_AUDIENCE_FAILED", "Failed to export audience", err)
	}

	store, err := f.stores.Get(ctx, accountID)
	if err != nil {
		return "", nil, NewBusinessError("EXPORT_AUDIENCE_FAILED", "Failed to export audience", err)
	}

	name, data, err := f.exporter.ExportAudience(accountID, store.All())
	if err != nil {
		return "", nil, NewBusinessError("EXPORT_AUDIENCE_FAILED", "Failed to export audience", err)
	}
	return name, data, nil
}
