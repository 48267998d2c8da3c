package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/amirphl/creator-console/app/acquisition"
	"github.com/amirphl/creator-console/config"
	"github.com/amirphl/creator-console/models"
	"github.com/amirphl/creator-console/utils"
)

// ErrGraphRateLimited is returned by upstream calls refused because of throttling
var ErrGraphRateLimited = errors.New("graph api rate limited")

// Graph API error codes that mean "slow down"
var graphRateLimitCodes = map[int]struct{}{
	4:   {}, // application request limit
	17:  {}, // user request limit
	32:  {}, // page request limit
	613: {}, // calls within one hour exceeded
}

// AccountGraph is the upstream surface of one connected account
type AccountGraph interface {
	ListAudiencePage(ctx context.Context, cursor string, pageBudget int) (*acquisition.Page, error)
	SendMessage(ctx context.Context, recipientID, text string) error
}

// GraphProvider hands out the upstream surface for an account
type GraphProvider interface {
	ForAccount(accountID string) AccountGraph
}

// GraphError is the error envelope returned by the graph API
type GraphError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph api error: status %d, code %d: %s", e.StatusCode, e.Code, e.Message)
}

// RateLimited reports whether the upstream refused the call because of throttling
func (e *GraphError) RateLimited() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	_, ok := graphRateLimitCodes[e.Code]
	return ok
}

func (e *GraphError) Is(target error) bool {
	return target == ErrGraphRateLimited && e.RateLimited()
}

type graphUser struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	PictureURL string `json:"profile_picture_url"`
}

type followersResponse struct {
	Data   []graphUser `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
	Summary *struct {
		TotalCount int `json:"total_count"`
	} `json:"summary"`
}

// GraphClient talks to the upstream social graph API over HTTP
type GraphClient struct {
	cfg    config.GraphConfig
	client *http.Client
}

func NewGraphClient(cfg config.GraphConfig) *GraphClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = utils.DefaultUpstreamCallTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = utils.DefaultGraphPageSize
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &GraphClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *GraphClient) ForAccount(accountID string) AccountGraph {
	return &accountGraph{client: c, accountID: accountID}
}

type accountGraph struct {
	client    *GraphClient
	accountID string
}

// ListAudiencePage pulls up to pageBudget follower sub-pages starting at cursor.
// A rate limit on the first sub-page is reported through Page.RateLimited with the
// cursor untouched; a rate limit on a later sub-page ends the chunk early with what
// was already gathered and marks it Throttled.
func (g *accountGraph) ListAudiencePage(ctx context.Context, cursor string, pageBudget int) (*acquisition.Page, error) {
	if pageBudget <= 0 {
		pageBudget = 1
	}
	page := &acquisition.Page{NextCursor: cursor}
	for i := 0; i < pageBudget; i++ {
		resp, err := g.fetchFollowers(ctx, page.NextCursor)
		if errors.Is(err, ErrGraphRateLimited) {
			page.RateLimited = i == 0
			page.Throttled = i > 0
			return page, nil
		}
		if err != nil {
			return nil, err
		}

		for _, u := range resp.Data {
			page.Records = append(page.Records, u.toRecord(g.accountID))
		}
		if resp.Summary != nil && resp.Summary.TotalCount > 0 {
			page.TotalKnown = utils.ToPtr(resp.Summary.TotalCount)
		}
		if resp.Paging.Next == "" || resp.Paging.Cursors.After == "" {
			page.NextCursor = ""
			break
		}
		page.NextCursor = resp.Paging.Cursors.After
	}
	return page, nil
}

func (g *accountGraph) fetchFollowers(ctx context.Context, cursor string) (*followersResponse, error) {
	u, err := url.Parse(g.client.cfg.BaseURL + "/" + url.PathEscape(g.accountID) + "/followers")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("fields", "id,name,username,profile_picture_url")
	q.Set("limit", strconv.Itoa(g.client.cfg.PageSize))
	q.Set("summary", "total_count")
	if cursor != "" {
		q.Set("after", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	var out followersResponse
	if err := g.client.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage delivers one direct message to recipientID
func (g *accountGraph) SendMessage(ctx context.Context, recipientID, text string) error {
	payload := map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := g.client.cfg.BaseURL + "/" + url.PathEscape(g.accountID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	var out struct {
		RecipientID string `json:"recipient_id"`
		MessageID   string `json:"message_id"`
	}
	if err := g.client.do(req, &out); err != nil {
		return err
	}
	if out.MessageID == "" {
		return fmt.Errorf("graph api send: empty message_id for recipient %s", recipientID)
	}
	return nil
}

// do sends req with the access token and decodes a 2xx body into out
func (c *GraphClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeGraphError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("graph api decode: %w", err)
	}
	return nil
}

func decodeGraphError(resp *http.Response) error {
	bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	gerr := &GraphError{StatusCode: resp.StatusCode}
	if readErr != nil {
		gerr.Message = fmt.Sprintf("unable to read response body: %v", readErr)
		return gerr
	}
	var envelope struct {
		Error *GraphError `json:"error"`
	}
	if err := json.Unmarshal(bodyBytes, &envelope); err == nil && envelope.Error != nil {
		envelope.Error.StatusCode = resp.StatusCode
		return envelope.Error
	}
	gerr.Message = strings.TrimSpace(string(bodyBytes))
	return gerr
}

func (u graphUser) toRecord(accountID string) models.AudienceRecord {
	rec := models.AudienceRecord{
		AccountID:   accountID,
		ExternalID:  u.ID,
		DisplayName: u.Name,
		Handle:      u.Username,
		Source:      models.AudienceSourceFollower,
	}
	if u.PictureURL != "" {
		rec.AvatarRef = utils.ToPtr(u.PictureURL)
	}
	return rec
}

// Ensure the graph client satisfies the pipeline ports
var _ GraphProvider = (*GraphClient)(nil)
