package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amirphl/creator-console/models"
)

// DispatchRunRepositoryImpl implements DispatchRunRepository
type DispatchRunRepositoryImpl struct {
	*BaseRepository[models.DispatchRun, models.DispatchRunFilter]
}

func NewDispatchRunRepository(db *gorm.DB) DispatchRunRepository {
	return &DispatchRunRepositoryImpl{BaseRepository: NewBaseRepository[models.DispatchRun, models.DispatchRunFilter](db)}
}

func (r *DispatchRunRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.DispatchRun, error) {
	db := r.getDB(ctx)
	var row models.DispatchRun
	if err := db.Where("uuid = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListDue returns scheduled runs whose schedule time has passed, oldest first
func (r *DispatchRunRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.DispatchRun, error) {
	status := models.DispatchRunStatusScheduled
	return r.ByFilter(ctx, models.DispatchRunFilter{Status: &status, ScheduleBefore: &now}, "schedule_at ASC, id ASC", limit, 0)
}

func (r *DispatchRunRepositoryImpl) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.DispatchRun{}).
		Where("uuid = ? AND status = ?", id, models.DispatchRunStatusScheduled).
		Updates(map[string]any{
			"status":     models.DispatchRunStatusRunning,
			"started_at": startedAt,
			"updated_at": startedAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark dispatch run running: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *DispatchRunRepositoryImpl) Finish(ctx context.Context, id uuid.UUID, status models.DispatchRunStatus, sent, failed int, finishedAt time.Time) error {
	db := r.getDB(ctx)
	err := db.Model(&models.DispatchRun{}).
		Where("uuid = ?", id).
		Updates(map[string]any{
			"status":       status,
			"sent_count":   sent,
			"failed_count": failed,
			"finished_at":  finishedAt,
			"updated_at":   finishedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to finish dispatch run: %w", err)
	}
	return nil
}

func (r *DispatchRunRepositoryImpl) UpdateTemplate(ctx context.Context, id uuid.UUID, template string) error {
	db := r.getDB(ctx)
	err := db.Model(&models.DispatchRun{}).
		Where("uuid = ?", id).
		Updates(map[string]any{"template": template, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("failed to update dispatch template: %w", err)
	}
	return nil
}

func (r *DispatchRunRepositoryImpl) ResetRunning(ctx context.Context, finishedAt time.Time) (int64, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.DispatchRun{}).
		Where("status = ?", models.DispatchRunStatusRunning).
		Updates(map[string]any{
			"status":      models.DispatchRunStatusFailed,
			"finished_at": finishedAt,
			"updated_at":  finishedAt,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset running dispatch runs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *DispatchRunRepositoryImpl) applyFilter(db *gorm.DB, f models.DispatchRunFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.AccountID != nil {
		db = db.Where("account_id = ?", *f.AccountID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.ScheduleBefore != nil {
		db = db.Where("(schedule_at IS NULL OR schedule_at <= ?)", *f.ScheduleBefore)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *DispatchRunRepositoryImpl) ByFilter(ctx context.Context, filter models.DispatchRunFilter, orderBy string, limit, offset int) ([]*models.DispatchRun, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.DispatchRun{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.DispatchRun
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DispatchRunRepositoryImpl) Count(ctx context.Context, filter models.DispatchRunFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.DispatchRun{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *DispatchRunRepositoryImpl) Exists(ctx context.Context, filter models.DispatchRunFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
