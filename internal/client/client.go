// Package client is the HTTP boundary to the appeals server. The sync
// core only needs three calls: send a message, fetch an appeal page, and
// bulk mark-read. Errors carry a class so callers can distinguish
// network-unreachable from server rejection, though the outbox treats
// all of them as retryable.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/citydesk/appealsync/internal/model"
	"go.uber.org/zap"
)

// TokenSource supplies bearer tokens. AccessToken may return an empty
// token before authentication completes; RefreshToken returning an empty
// token signals refresh failure, which higher-level session logic turns
// into a logout.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
}

// MessageAck is the server confirmation for a sent message.
type MessageAck struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReadAck is the server confirmation for a bulk mark-read.
type ReadAck struct {
	MessageIDs []int64   `json:"messageIds"`
	ReadAt     time.Time `json:"readAt"`
}

// AppealPage is one fetched appeal with its current message page.
type AppealPage struct {
	Appeal   model.Appeal    `json:"appeal"`
	Messages []model.Message `json:"messages"`
}

// Client talks JSON over HTTP to the appeals server.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

// New creates a client for the given server base URL.
func New(baseURL string, tokens TokenSource, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		logger:  logger,
	}
}

// AddAppealMessage sends one message and returns the server-assigned id
// and timestamp.
func (c *Client) AddAppealMessage(ctx context.Context, appealID int64, p model.SendPayload) (MessageAck, error) {
	var ack MessageAck
	path := fmt.Sprintf("/appeals/%d/messages", appealID)
	err := c.do(ctx, http.MethodPost, path, p, &ack)
	return ack, err
}

// FetchAppeal retrieves an appeal summary with its latest message page.
func (c *Client) FetchAppeal(ctx context.Context, appealID int64) (AppealPage, error) {
	var page AppealPage
	path := fmt.Sprintf("/appeals/%d", appealID)
	err := c.do(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

// MarkMessagesReadBulk acknowledges a batch of message ids as read.
func (c *Client) MarkMessagesReadBulk(ctx context.Context, appealID int64, messageIDs []int64) (ReadAck, error) {
	var ack ReadAck
	path := fmt.Sprintf("/appeals/%d/messages/read", appealID)
	body := struct {
		MessageIDs []int64 `json:"messageIds"`
	}{MessageIDs: messageIDs}
	err := c.do(ctx, http.MethodPost, path, body, &ack)
	return ack, err
}

// FetchPresence polls presence info for a set of users.
func (c *Client) FetchPresence(ctx context.Context, userIDs []int64) ([]model.PresenceInfo, error) {
	var infos []model.PresenceInfo
	body := struct {
		UserIDs []int64 `json:"userIds"`
	}{UserIDs: userIDs}
	err := c.do(ctx, http.MethodPost, "/presence/query", body, &infos)
	return infos, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("access token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Class: Unreachable, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		class := ClientError
		if resp.StatusCode >= 500 {
			class = ServerError
		}
		return &APIError{Class: class, Status: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
