package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/amirphl/creator-console/models"
)

// ConversationRepositoryImpl implements ConversationRepository
type ConversationRepositoryImpl struct {
	*BaseRepository[models.Conversation, struct{}]
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &ConversationRepositoryImpl{BaseRepository: NewBaseRepository[models.Conversation, struct{}](db)}
}

// Upsert keys on (account_id, recipient_id). Identity columns of an existing
// row are left as they are.
func (r *ConversationRepositoryImpl) Upsert(ctx context.Context, c *models.Conversation) error {
	db := r.getDB(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "recipient_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"ai_enabled",
			"unread",
			"last_message_at",
			"last_message_preview",
			"updated_at",
		}),
	}).Create(c).Error
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}
