package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"pawlink/pkg/models"
)

// Credentials carries everything a frontend needs to call the messaging
// service: the frontend API key plus the identity headers with the
// backend-issued signature.
type Credentials struct {
	APIKey    string
	UserID    string
	Role      models.Role
	Signature string
}

// Client is the REST collaborator client: session probe, conversation
// list, history fetch, mark-read and the global unread count.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
}

// NewClient builds a client for the service at baseURL. A nil httpClient
// falls back to http.DefaultClient.
func NewClient(baseURL string, creds Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, creds: creds, http: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.creds.APIKey)
	req.Header.Set("X-User-ID", c.creds.UserID)
	req.Header.Set("X-User-Role", string(c.creds.Role))
	req.Header.Set("X-User-Signature", c.creds.Signature)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrFetchFailed, method, path, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthenticated
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: %s %s: status %d", ErrFetchFailed, method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: %s %s: %v", ErrFetchFailed, method, path, err)
		}
	}
	return nil
}

// Session probes the current identity. ErrUnauthenticated means the
// caller must be redirected to authentication.
func (c *Client) Session(ctx context.Context) (models.Identity, error) {
	var id models.Identity
	if err := c.do(ctx, http.MethodGet, "/v1/session", nil, &id); err != nil {
		return models.Identity{}, err
	}
	return id, nil
}

// Conversations returns the caller's conversation summaries, unread
// counts included.
func (c *Client) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var out struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// History returns the conversation with the counterpart, oldest first.
// An empty conversation yields an empty slice.
func (c *Client) History(ctx context.Context, counterpartID string) ([]models.Message, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/conversations/"+counterpartID+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// MarkRead flips every unread message addressed to the caller in the
// conversation. Idempotent.
func (c *Client) MarkRead(ctx context.Context, counterpartID string) error {
	return c.do(ctx, http.MethodPut, "/v1/conversations/"+counterpartID+"/read", nil, nil)
}

// UnreadTotal returns the caller's total unread count across all
// conversations.
func (c *Client) UnreadTotal(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/unread", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}
