package conversation

import (
	"context"
	"sync"

	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/utils"
)

type key struct {
	account   string
	recipient string
}

// MemoryUpserter keeps conversations in memory. It backs the mock upstream
// mode and tests.
type MemoryUpserter struct {
	mu    sync.Mutex
	rows  map[key]*models.Conversation
	order []key
}

func NewMemoryUpserter() *MemoryUpserter {
	return &MemoryUpserter{rows: make(map[key]*models.Conversation)}
}

func (m *MemoryUpserter) UpsertConversation(_ context.Context, accountID, recipientID string, f Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{account: accountID, recipient: recipientID}
	at := f.LastMessageAt
	row, ok := m.rows[k]
	if !ok {
		row = &models.Conversation{
			ID:          uint(len(m.order) + 1),
			AccountID:   accountID,
			RecipientID: recipientID,
			DisplayName: f.DisplayName,
			Handle:      f.Handle,
			AvatarRef:   f.AvatarRef,
			CreatedAt:   utils.UTCNow(),
		}
		m.rows[k] = row
		m.order = append(m.order, k)
	}
	row.AIEnabled = true
	row.Unread = true
	row.LastMessageAt = &at
	row.LastMessagePreview = f.Preview
	row.UpdatedAt = utils.UTCNow()
	return nil
}

// Put stores c as is, replacing any row with the same key
func (m *MemoryUpserter) Put(c models.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{account: c.AccountID, recipient: c.RecipientID}
	if _, ok := m.rows[k]; !ok {
		m.order = append(m.order, k)
	}
	m.rows[k] = &c
}

// List returns copies of the conversations of accountID in creation order
func (m *MemoryUpserter) List(accountID string) []models.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Conversation
	for _, k := range m.order {
		if k.account == accountID {
			out = append(out, *m.rows[k])
		}
	}
	return out
}
