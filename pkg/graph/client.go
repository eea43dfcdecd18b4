// Package graph is a client for the Meta Graph messaging API used by
// Instagram business accounts.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	messagingdomain "dmsync-backend/internal/messaging/domain"
	apperrors "dmsync-backend/pkg/errors"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	conversationFields = "id,updated_time"
	messageFields      = "id,from,to,message,attachments,created_time"
	participantFields  = "name,username,profile_pic"
	// maxMessagePages bounds how far back one conversation detail reaches.
	maxMessagePages = 20
	maxBodyBytes    = 8 << 20
)

var _ messagingdomain.Provider = (*Client)(nil)

type Client struct {
	baseURL    string
	platform   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client that paces requests at ratePerSecond. A
// non-positive rate disables pacing.
func NewClient(baseURL, platform string, ratePerSecond float64) *Client {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		if int(ratePerSecond) > burst {
			burst = int(ratePerSecond)
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		platform:   platform,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// WithHTTPClient replaces the base transport client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

func (c *Client) ListConversations(ctx context.Context, token, accountID, cursor string) (*messagingdomain.ConversationPage, error) {
	query := url.Values{}
	query.Set("platform", c.platform)
	query.Set("fields", conversationFields)
	if cursor != "" {
		query.Set("after", cursor)
	}

	var resp listResponse[conversationNode]
	if err := c.get(ctx, token, "/"+url.PathEscape(accountID)+"/conversations", query, &resp); err != nil {
		return nil, err
	}

	page := &messagingdomain.ConversationPage{
		Conversations: make([]messagingdomain.ConversationSummary, 0, len(resp.Data)),
		NextCursor:    resp.Paging.nextCursor(),
	}
	for _, node := range resp.Data {
		page.Conversations = append(page.Conversations, messagingdomain.ConversationSummary{
			ID:          node.ID,
			UpdatedTime: node.UpdatedTime.Time,
		})
	}
	return page, nil
}

func (c *Client) GetConversation(ctx context.Context, token, conversationID string) (*messagingdomain.ConversationDetail, error) {
	query := url.Values{}
	query.Set("fields", "participants,messages{"+messageFields+"}")

	var resp conversationResponse
	if err := c.get(ctx, token, "/"+url.PathEscape(conversationID), query, &resp); err != nil {
		return nil, err
	}

	detail := &messagingdomain.ConversationDetail{ID: resp.ID}
	if detail.ID == "" {
		detail.ID = conversationID
	}
	for _, p := range resp.Participants.Data {
		detail.Participants = append(detail.Participants, p.toDomain())
	}

	messages, err := decodeMessages(resp.Messages.Data)
	if err != nil {
		return nil, err
	}
	detail.Messages = messages

	// Older messages live on further pages of the messages edge
	cursor := resp.Messages.Paging.nextCursor()
	for page := 1; cursor != "" && page < maxMessagePages; page++ {
		pageQuery := url.Values{}
		pageQuery.Set("fields", messageFields)
		pageQuery.Set("after", cursor)

		var next listResponse[json.RawMessage]
		if err := c.get(ctx, token, "/"+url.PathEscape(conversationID)+"/messages", pageQuery, &next); err != nil {
			return nil, err
		}
		more, err := decodeMessages(next.Data)
		if err != nil {
			return nil, err
		}
		detail.Messages = append(detail.Messages, more...)
		cursor = next.Paging.nextCursor()
	}
	return detail, nil
}

func (c *Client) FindConversationWithParticipant(ctx context.Context, token, accountID, participantID string) (string, error) {
	query := url.Values{}
	query.Set("platform", c.platform)
	query.Set("user_id", participantID)
	query.Set("fields", "id")

	var resp listResponse[conversationNode]
	if err := c.get(ctx, token, "/"+url.PathEscape(accountID)+"/conversations", query, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", nil
	}
	return resp.Data[0].ID, nil
}

func (c *Client) GetParticipant(ctx context.Context, token, participantID string) (*messagingdomain.ParticipantProfile, error) {
	query := url.Values{}
	query.Set("fields", participantFields)

	var profile messagingdomain.ParticipantProfile
	if err := c.get(ctx, token, "/"+url.PathEscape(participantID), query, &profile); err != nil {
		return nil, err
	}
	if profile.ID == "" {
		profile.ID = participantID
	}
	return &profile, nil
}

func (c *Client) get(ctx context.Context, token, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.transportError(ctx, err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "build graph request", err)
	}

	// Bearer transport on top of the shared base client
	baseCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	client := oauth2.NewClient(baseCtx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))

	resp, err := client.Do(req)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.transportError(ctx, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return classifyError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.Wrap(apperrors.CodeMalformed, "decode graph response", err)
	}
	return nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperrors.ErrUpstreamTimeout(err)
		}
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.ErrUpstreamTimeout(err)
	}
	return apperrors.Wrap(apperrors.CodeUpstream, "graph request failed", err)
}

// classifyError maps a Graph error response onto the application error codes.
func classifyError(status int, body []byte) error {
	var envelope errorEnvelope
	_ = json.Unmarshal(body, &envelope)
	ge := envelope.Error

	msg := ge.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	msg = fmt.Sprintf("graph api: %s (status %d, code %d)", msg, status, ge.Code)

	switch {
	case status == http.StatusTooManyRequests || isThrottleCode(ge.Code):
		return apperrors.RateLimited(msg)
	case status == http.StatusUnauthorized || ge.Code == 190:
		return apperrors.Unauthorized(msg)
	case status == http.StatusNotFound || (ge.Code == 100 && ge.Subcode == 33):
		return apperrors.NotFound(msg)
	case ge.Code == 3 || ge.Code == 10 || ge.Code == 200:
		return apperrors.New(apperrors.CodeUnsupported, msg)
	default:
		return apperrors.New(apperrors.CodeUpstream, msg)
	}
}

func isThrottleCode(code int) bool {
	switch code {
	case 4, 17, 32, 613:
		return true
	}
	return false
}
