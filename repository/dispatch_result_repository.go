package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amirphl/creator-console/models"
)

// DispatchResultRepositoryImpl implements DispatchResultRepository
type DispatchResultRepositoryImpl struct {
	*BaseRepository[models.DispatchResult, models.DispatchResultFilter]
}

func NewDispatchResultRepository(db *gorm.DB) DispatchResultRepository {
	return &DispatchResultRepositoryImpl{BaseRepository: NewBaseRepository[models.DispatchResult, models.DispatchResultFilter](db)}
}

func (r *DispatchResultRepositoryImpl) ByRun(ctx context.Context, runID uuid.UUID) ([]*models.DispatchResult, error) {
	return r.ByFilter(ctx, models.DispatchResultFilter{RunUUID: &runID}, "id ASC", 0, 0)
}

func (r *DispatchResultRepositoryImpl) FailedRecipientIDs(ctx context.Context, runID uuid.UUID) ([]string, error) {
	db := r.getDB(ctx)
	var ids []string
	err := db.Model(&models.DispatchResult{}).
		Where("run_uuid = ? AND outcome = ?", runID, models.DispatchOutcomeFailure).
		Order("id ASC").
		Pluck("recipient_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list failed recipients: %w", err)
	}
	return ids, nil
}

func (r *DispatchResultRepositoryImpl) applyFilter(db *gorm.DB, f models.DispatchResultFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.RunUUID != nil {
		db = db.Where("run_uuid = ?", *f.RunUUID)
	}
	if f.RecipientID != nil {
		db = db.Where("recipient_id = ?", *f.RecipientID)
	}
	if f.Outcome != nil {
		db = db.Where("outcome = ?", *f.Outcome)
	}
	return db
}

func (r *DispatchResultRepositoryImpl) ByFilter(ctx context.Context, filter models.DispatchResultFilter, orderBy string, limit, offset int) ([]*models.DispatchResult, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.DispatchResult{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.DispatchResult
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DispatchResultRepositoryImpl) Count(ctx context.Context, filter models.DispatchResultFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.DispatchResult{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *DispatchResultRepositoryImpl) Exists(ctx context.Context, filter models.DispatchResultFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
