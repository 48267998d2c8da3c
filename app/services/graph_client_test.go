package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/creator-console/config"
	"github.com/amirphl/creator-console/models"
)

type followersStub struct {
	mu       sync.Mutex
	pages    map[string]string // after cursor -> JSON body
	statuses map[string]int
	calls    []string
}

func (s *followersStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	after := r.URL.Query().Get("after")
	s.calls = append(s.calls, after)
	if status, ok := s.statuses[after]; ok {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"Application request limit reached","type":"OAuthException","code":4}}`))
		return
	}
	body, ok := s.pages[after]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func newTestGraph(t *testing.T, h http.Handler, pageSize int) AccountGraph {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client := NewGraphClient(config.GraphConfig{
		BaseURL:     srv.URL + "/",
		AccessToken: "test-token",
		Timeout:     5 * time.Second,
		PageSize:    pageSize,
	})
	return client.ForAccount("acct-1")
}

func TestListAudiencePageWalksSubPages(t *testing.T) {
	stub := &followersStub{pages: map[string]string{
		"":   `{"data":[{"id":"1","name":"Ana","username":"ana","profile_picture_url":"https://cdn/1.jpg"},{"id":"2","name":"Bo"}],"paging":{"cursors":{"after":"c1"},"next":"https://next"},"summary":{"total_count":5}}`,
		"c1": `{"data":[{"id":"3"},{"id":"4"}],"paging":{"cursors":{"after":"c2"},"next":"https://next"}}`,
		"c2": `{"data":[{"id":"5"}],"paging":{"cursors":{"after":"c3"}}}`,
	}}
	graph := newTestGraph(t, stub, 2)

	page, err := graph.ListAudiencePage(context.Background(), "", 2)
	require.NoError(t, err)
	assert.False(t, page.RateLimited)
	assert.Equal(t, "c2", page.NextCursor)
	require.Len(t, page.Records, 4)
	require.NotNil(t, page.TotalKnown)
	assert.Equal(t, 5, *page.TotalKnown)

	first := page.Records[0]
	assert.Equal(t, "1", first.ExternalID)
	assert.Equal(t, "acct-1", first.AccountID)
	assert.Equal(t, "Ana", first.DisplayName)
	assert.Equal(t, "ana", first.Handle)
	assert.Equal(t, models.AudienceSourceFollower, first.Source)
	require.NotNil(t, first.AvatarRef)
	assert.Equal(t, "https://cdn/1.jpg", *first.AvatarRef)
	assert.Nil(t, page.Records[1].AvatarRef)

	page, err = graph.ListAudiencePage(context.Background(), "c2", 2)
	require.NoError(t, err)
	assert.Empty(t, page.NextCursor, "a response without paging.next ends the listing")
	assert.Len(t, page.Records, 1)
	assert.Equal(t, []string{"", "c1", "c2"}, stub.calls)
}

func TestListAudiencePageRateLimit(t *testing.T) {
	tests := []struct {
		name            string
		statuses        map[string]int
		wantRateLimited bool
		wantThrottled   bool
		wantCursor      string
		wantRecords     int
	}{
		{
			name:            "first sub-page throttled",
			statuses:        map[string]int{"": http.StatusTooManyRequests},
			wantRateLimited: true,
			wantCursor:      "",
			wantRecords:     0,
		},
		{
			name:            "throttled by error code",
			statuses:        map[string]int{"": http.StatusBadRequest},
			wantRateLimited: true,
			wantCursor:      "",
			wantRecords:     0,
		},
		{
			name:            "later sub-page throttled keeps gathered records",
			statuses:        map[string]int{"c1": http.StatusTooManyRequests},
			wantRateLimited: false,
			wantThrottled:   true,
			wantCursor:      "c1",
			wantRecords:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &followersStub{
				pages: map[string]string{
					"":   `{"data":[{"id":"1"},{"id":"2"}],"paging":{"cursors":{"after":"c1"},"next":"https://next"}}`,
					"c1": `{"data":[{"id":"3"}],"paging":{"cursors":{"after":"c2"}}}`,
				},
				statuses: tt.statuses,
			}
			graph := newTestGraph(t, stub, 2)

			page, err := graph.ListAudiencePage(context.Background(), "", 3)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRateLimited, page.RateLimited)
			assert.Equal(t, tt.wantThrottled, page.Throttled)
			assert.Equal(t, tt.wantCursor, page.NextCursor)
			assert.Len(t, page.Records, tt.wantRecords)
		})
	}
}

func TestListAudiencePageUpstreamError(t *testing.T) {
	graph := newTestGraph(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}), 10)

	page, err := graph.ListAudiencePage(context.Background(), "", 1)
	require.Error(t, err)
	assert.Nil(t, page)

	var gerr *GraphError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, http.StatusInternalServerError, gerr.StatusCode)
	assert.Equal(t, "boom", gerr.Message)
	assert.False(t, errors.Is(err, ErrGraphRateLimited))
}

func TestSendMessage(t *testing.T) {
	var got struct {
		Recipient struct {
			ID string `json:"id"`
		} `json:"recipient"`
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	var authHeader, path string
	graph := newTestGraph(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"recipient_id":"42","message_id":"m-1"}`))
	}), 10)

	require.NoError(t, graph.SendMessage(context.Background(), "42", "hi Ana"))
	assert.Equal(t, "Bearer test-token", authHeader)
	assert.Equal(t, "/acct-1/messages", path)
	assert.Equal(t, "42", got.Recipient.ID)
	assert.Equal(t, "hi Ana", got.Message.Text)
}

func TestSendMessageFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantContain string
		rateLimited bool
	}{
		{
			name:        "upstream rejects recipient",
			status:      http.StatusBadRequest,
			body:        `{"error":{"message":"User is unavailable","code":551}}`,
			wantContain: "User is unavailable",
		},
		{
			name:        "throttled",
			status:      http.StatusBadRequest,
			body:        `{"error":{"message":"Calls exceeded","code":613}}`,
			wantContain: "Calls exceeded",
			rateLimited: true,
		},
		{
			name:        "missing message id",
			status:      http.StatusOK,
			body:        `{"recipient_id":"42"}`,
			wantContain: "empty message_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph := newTestGraph(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}), 10)

			err := graph.SendMessage(context.Background(), "42", "hello")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantContain)
			assert.Equal(t, tt.rateLimited, errors.Is(err, ErrGraphRateLimited))
		})
	}
}

func TestMockGraph(t *testing.T) {
	mock := NewMockGraph(5, 2)
	graph := mock.ForAccount("acct")

	var ids []string
	cursor := ""
	for {
		page, err := graph.ListAudiencePage(context.Background(), cursor, 1)
		require.NoError(t, err)
		require.NotNil(t, page.TotalKnown)
		assert.Equal(t, 5, *page.TotalKnown)
		for _, r := range page.Records {
			ids = append(ids, r.ExternalID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []string{"acct-000000", "acct-000001", "acct-000002", "acct-000003", "acct-000004"}, ids)

	_, err := graph.ListAudiencePage(context.Background(), "nope", 1)
	assert.Error(t, err)

	require.NoError(t, graph.SendMessage(context.Background(), "acct-000001", "hi"))
	assert.Equal(t, []SentMessage{{AccountID: "acct", RecipientID: "acct-000001", Text: "hi"}}, mock.Sent())
}
