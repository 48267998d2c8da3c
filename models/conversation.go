package models

import "time"

// Conversation is the local bookkeeping row for a direct-message thread.
// There is at most one row per (account_id, recipient_id).
// Table: conversations
type Conversation struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	AccountID          string     `gorm:"size:64;not null;uniqueIndex:uk_conversations_account_recipient,priority:1" json:"account_id"`
	RecipientID        string     `gorm:"size:64;not null;uniqueIndex:uk_conversations_account_recipient,priority:2" json:"recipient_id"`
	DisplayName        string     `gorm:"size:255" json:"display_name"`
	Handle             string     `gorm:"size:255" json:"handle"`
	AvatarRef          *string    `gorm:"type:text" json:"avatar_ref,omitempty"`
	AIEnabled          bool       `gorm:"not null;default:false" json:"ai_enabled"`
	Unread             bool       `gorm:"not null;default:false" json:"unread"`
	LastMessageAt      *time.Time `gorm:"index:idx_conversations_last_message_at" json:"last_message_at,omitempty"`
	LastMessagePreview string     `gorm:"type:text" json:"last_message_preview"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }
