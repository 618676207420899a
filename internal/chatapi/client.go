// Package chatapi is the typed REST client for the marketplace chat API.
// Each operation is a single request/response authenticated by the bearer
// token held in the injected session context. Failures surface as *Error
// with an HTTP-status-derived kind; a 401 additionally clears the session.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/crewlink-app/crewlink/internal/models"
	"github.com/crewlink-app/crewlink/internal/session"
)

// DefaultPageSize is the message-history page size when the caller does
// not specify one.
const DefaultPageSize = 50

// Client issues chat API calls against a single base URL.
type Client struct {
	baseURL string
	httpc   *http.Client
	session *session.Context
}

// Opts holds parameters for creating a Client.
type Opts struct {
	BaseURL string           // e.g. "http://localhost:8080"
	Session *session.Context // token source; required
	HTTP    *http.Client     // defaults to http.DefaultClient
}

// New creates a chat API client.
func New(opts Opts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("chatapi: base URL is required")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("chatapi: session is required")
	}
	httpc := opts.HTTP
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpc:   httpc,
		session: opts.Session,
	}, nil
}

// Me fetches the authenticated caller's own profile.
func (c *Client) Me(ctx context.Context) (models.Profile, error) {
	var profile models.Profile
	if err := c.do(ctx, "fetch profile", http.MethodGet, "/chat/me", nil, nil, &profile); err != nil {
		return models.Profile{}, err
	}
	return profile, nil
}

// ListConversations fetches all conversation summaries for the caller.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, "list conversations", http.MethodGet, "/chat/conversations", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// CreateConversation creates a conversation with counterpartyID, or
// returns the existing one if the pair already has a conversation.
func (c *Client) CreateConversation(ctx context.Context, counterpartyID int) (models.Conversation, error) {
	req := map[string]int{"counterparty_id": counterpartyID}
	var resp struct {
		Conversation models.Conversation `json:"conversation"`
	}
	if err := c.do(ctx, "create conversation", http.MethodPost, "/chat/conversations", nil, req, &resp); err != nil {
		return models.Conversation{}, err
	}
	return resp.Conversation, nil
}

// ListMessages fetches a page of history for a conversation. When beforeID
// is set the page ends just before that message (exclusive); otherwise the
// most recent messages are returned. Messages come back ascending by
// created_at.
func (c *Client) ListMessages(ctx context.Context, conversationID, beforeID string, limit int) (models.MessagePage, error) {
	if conversationID == "" {
		return models.MessagePage{}, fmt.Errorf("chatapi: conversation id is required")
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if beforeID != "" {
		query.Set("before_id", beforeID)
	}
	var page models.MessagePage
	path := "/chat/conversations/" + conversationID + "/messages"
	if err := c.do(ctx, "list messages", http.MethodGet, path, query, nil, &page); err != nil {
		return models.MessagePage{}, err
	}
	return page, nil
}

// SendMessage posts a new message and returns the server's copy, which is
// authoritative for the sender's own view.
func (c *Client) SendMessage(ctx context.Context, conversationID, body string) (models.Message, error) {
	if conversationID == "" {
		return models.Message{}, fmt.Errorf("chatapi: conversation id is required")
	}
	req := map[string]string{"body": body, "content_type": models.ContentTypeText}
	var resp struct {
		Message models.Message `json:"message"`
	}
	path := "/chat/conversations/" + conversationID + "/messages"
	if err := c.do(ctx, "send message", http.MethodPost, path, nil, req, &resp); err != nil {
		return models.Message{}, err
	}
	return resp.Message, nil
}

// MarkRead acknowledges messages up to and including messageID, or the
// whole conversation when messageID is empty.
func (c *Client) MarkRead(ctx context.Context, conversationID, messageID string) (models.ReadReceipt, error) {
	if conversationID == "" {
		return models.ReadReceipt{}, fmt.Errorf("chatapi: conversation id is required")
	}
	req := map[string]any{}
	if messageID != "" {
		req["message_id"] = messageID
	}
	var receipt models.ReadReceipt
	path := "/chat/conversations/" + conversationID + "/read"
	if err := c.do(ctx, "mark read", http.MethodPost, path, nil, req, &receipt); err != nil {
		return models.ReadReceipt{}, err
	}
	return receipt, nil
}

// do issues one authenticated request and decodes the response into out.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("chatapi: %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("chatapi: %s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.errorFromResponse(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindServer, Status: resp.StatusCode, Op: op, Message: "malformed response body"}
	}
	return nil
}

// errorFromResponse maps an HTTP failure to a typed Error. A 401 clears
// the session so subscribers can redirect to re-authentication.
func (c *Client) errorFromResponse(op string, resp *http.Response) error {
	var detail struct {
		Detail string `json:"detail"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(data, &detail)

	kind := KindServer
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = KindUnauthorized
		c.session.Clear()
	case resp.StatusCode == http.StatusNotFound:
		kind = KindNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		kind = KindValidation
		if op == "create conversation" {
			kind = KindInvalidCounterparty
		}
	}
	return &Error{Kind: kind, Status: resp.StatusCode, Op: op, Message: detail.Detail}
}
