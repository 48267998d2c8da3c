package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/amirphl/creator-console/app/acquisition"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/utils"
)

// SentMessage is a message accepted by the mock graph
type SentMessage struct {
	AccountID   string
	RecipientID string
	Text        string
}

// MockGraph is an in-process stand-in for the graph API, used when GRAPH_MOCK is set.
// Every account has AudienceSize synthetic followers served PageSize at a time.
type MockGraph struct {
	AudienceSize int
	PageSize     int

	mu   sync.Mutex
	sent []SentMessage
}

func NewMockGraph(audienceSize, pageSize int) *MockGraph {
	if pageSize <= 0 {
		pageSize = utils.DefaultGraphPageSize
	}
	return &MockGraph{AudienceSize: audienceSize, PageSize: pageSize}
}

func (m *MockGraph) ForAccount(accountID string) AccountGraph {
	return &mockAccountGraph{graph: m, accountID: accountID}
}

// Sent returns a copy of every message accepted so far
func (m *MockGraph) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

type mockAccountGraph struct {
	graph     *MockGraph
	accountID string
}

func (g *mockAccountGraph) ListAudiencePage(ctx context.Context, cursor string, pageBudget int) (*acquisition.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("mock graph: invalid cursor %q", cursor)
		}
		offset = n
	}
	if pageBudget <= 0 {
		pageBudget = 1
	}

	end := min(offset+pageBudget*g.graph.PageSize, g.graph.AudienceSize)
	page := &acquisition.Page{TotalKnown: utils.ToPtr(g.graph.AudienceSize)}
	for i := offset; i < end; i++ {
		id := fmt.Sprintf("%s-%06d", g.accountID, i)
		page.Records = append(page.Records, models.AudienceRecord{
			AccountID:   g.accountID,
			ExternalID:  id,
			DisplayName: fmt.Sprintf("Follower %d", i+1),
			Handle:      fmt.Sprintf("follower_%d", i+1),
			Source:      models.AudienceSourceFollower,
		})
	}
	if end < g.graph.AudienceSize {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (g *mockAccountGraph) SendMessage(ctx context.Context, recipientID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.graph.mu.Lock()
	defer g.graph.mu.Unlock()
	g.graph.sent = append(g.graph.sent, SentMessage{AccountID: g.accountID, RecipientID: recipientID, Text: text})
	return nil
}
