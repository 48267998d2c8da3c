package models

import "time"

// AudienceSource describes where an audience record was first observed
type AudienceSource string

const (
	AudienceSourceConversation AudienceSource = "conversation"
	AudienceSourceEngaged      AudienceSource = "engaged"
	AudienceSourceFollower     AudienceSource = "follower"
	AudienceSourceFetched      AudienceSource = "fetched"
	AudienceSourceDiscovered   AudienceSource = "discovered"
)

// Valid reports whether s is one of the known sources
func (s AudienceSource) Valid() bool {
	switch s {
	case AudienceSourceConversation, AudienceSourceEngaged, AudienceSourceFollower,
		AudienceSourceFetched, AudienceSourceDiscovered:
		return true
	}
	return false
}

// AudienceRecord is one identity in an account's audience.
// ExternalID is the upstream identity and is unique per account; the first
// observation of an ExternalID is the one that is kept.
// Table: audience_records
// Indices: (account_id, external_id) unique, source
type AudienceRecord struct {
	ID          uint              `gorm:"primaryKey" json:"-"`
	AccountID   string            `gorm:"size:64;not null;uniqueIndex:uk_audience_records_account_external,priority:1" json:"account_id"`
	ExternalID  string            `gorm:"size:64;not null;uniqueIndex:uk_audience_records_account_external,priority:2" json:"id"`
	DisplayName string            `gorm:"size:255" json:"display_name"`
	Handle      string            `gorm:"size:255" json:"handle"`
	AvatarRef   *string           `gorm:"type:text" json:"avatar_ref,omitempty"`
	Source      AudienceSource    `gorm:"size:32;not null;index:idx_audience_records_source" json:"source"`
	Attributes  map[string]string `gorm:"type:jsonb;serializer:json" json:"attributes,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (AudienceRecord) TableName() string { return "audience_records" }

// Clone returns a copy that shares no mutable state with r
func (r AudienceRecord) Clone() AudienceRecord {
	out := r
	if r.AvatarRef != nil {
		v := *r.AvatarRef
		out.AvatarRef = &v
	}
	if r.Attributes != nil {
		out.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// AudienceRecordFilter provides filter fields for repository queries
type AudienceRecordFilter struct {
	ID            *uint
	AccountID     *string
	ExternalIDs   []string
	Source        *AudienceSource
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
