package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/utils"
)

// AudienceRecordRepositoryImpl implements AudienceRecordRepository
type AudienceRecordRepositoryImpl struct {
	*BaseRepository[models.AudienceRecord, models.AudienceRecordFilter]
}

func NewAudienceRecordRepository(db *gorm.DB) AudienceRecordRepository {
	return &AudienceRecordRepositoryImpl{BaseRepository: NewBaseRepository[models.AudienceRecord, models.AudienceRecordFilter](db)}
}

func (r *AudienceRecordRepositoryImpl) ByAccount(ctx context.Context, accountID string) ([]*models.AudienceRecord, error) {
	return r.ByFilter(ctx, models.AudienceRecordFilter{AccountID: &accountID}, "id ASC", 0, 0)
}

func (r *AudienceRecordRepositoryImpl) InsertNew(ctx context.Context, records []*models.AudienceRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	db := r.getDB(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "external_id"}},
		DoNothing: true,
	}).CreateInBatches(records, 100)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to insert audience records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *AudienceRecordRepositoryImpl) DeleteByExternalIDs(ctx context.Context, accountID string, externalIDs []string) (int64, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	db := r.getDB(ctx)
	res := db.Where("account_id = ? AND external_id IN ?", accountID, externalIDs).Delete(&models.AudienceRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete audience records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *AudienceRecordRepositoryImpl) UpdateAttributes(ctx context.Context, accountID, externalID string, attributes map[string]string) error {
	db := r.getDB(ctx)
	row := models.AudienceRecord{Attributes: attributes, UpdatedAt: utils.UTCNow()}
	res := db.Model(&models.AudienceRecord{}).
		Where("account_id = ? AND external_id = ?", accountID, externalID).
		Select("attributes", "updated_at").
		Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("failed to update audience attributes: %w", res.Error)
	}
	return nil
}

func (r *AudienceRecordRepositoryImpl) applyFilter(db *gorm.DB, f models.AudienceRecordFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.AccountID != nil {
		db = db.Where("account_id = ?", *f.AccountID)
	}
	if len(f.ExternalIDs) > 0 {
		db = db.Where("external_id IN ?", f.ExternalIDs)
	}
	if f.Source != nil {
		db = db.Where("source = ?", *f.Source)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *AudienceRecordRepositoryImpl) ByFilter(ctx context.Context, filter models.AudienceRecordFilter, orderBy string, limit, offset int) ([]*models.AudienceRecord, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.AudienceRecord{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.AudienceRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AudienceRecordRepositoryImpl) Count(ctx context.Context, filter models.AudienceRecordFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.AudienceRecord{}), filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *AudienceRecordRepositoryImpl) Exists(ctx context.Context, filter models.AudienceRecordFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
