// Package models contains the gorm entities persisted by the console
package models

// All lists every persisted entity, in migration order
func All() []any {
	return []any{
		&AudienceRecord{},
		&Conversation{},
		&DispatchRun{},
		&DispatchResult{},
		&AuditLog{},
	}
}
