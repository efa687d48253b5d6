package livewatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"livewatch-client/internal/auth"
	"livewatch-client/internal/protocol"
)

const (
	// DefaultPageSize is the history page size requested when the caller
	// does not specify one
	DefaultPageSize = 30

	defaultTimeout = 10 * time.Second

	// unloadTimeout caps the best-effort leave issued on shutdown; delivery
	// past this window is not worth blocking teardown for
	unloadTimeout = 3 * time.Second
)

// Client wraps the live-watch REST bootstrap endpoints: room resolution,
// join/leave bookkeeping, and message history.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenSource
	logger  *slog.Logger
}

func NewClient(baseURL string, tokens auth.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		tokens:  tokens,
		logger:  logger,
	}
}

// RoomByContent resolves or creates the room for a content ID and joins it
func (c *Client) RoomByContent(ctx context.Context, contentID int64) (*protocol.RoomJoinResponse, error) {
	var out protocol.RoomJoinResponse
	path := fmt.Sprintf("/api/livewatch/rooms/content/%d", contentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// JoinRoom joins an explicit room
func (c *Client) JoinRoom(ctx context.Context, roomID int64) (*protocol.RoomJoinResponse, error) {
	var out protocol.RoomJoinResponse
	path := fmt.Sprintf("/api/livewatch/rooms/%d/join", roomID)
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LeaveRoom records the departure server-side
func (c *Client) LeaveRoom(ctx context.Context, roomID int64) error {
	path := fmt.Sprintf("/api/livewatch/rooms/%d/leave", roomID)
	return c.do(ctx, http.MethodPost, path, struct{}{}, nil)
}

// Messages fetches one history page, newest-first. A nil cursor requests the
// most recent page.
func (c *Client) Messages(ctx context.Context, roomID int64, cursor *string, size int) (*protocol.MessagePage, error) {
	if size <= 0 {
		size = DefaultPageSize
	}

	q := url.Values{}
	q.Set("size", strconv.Itoa(size))
	if cursor != nil {
		q.Set("cursor", *cursor)
	}

	var out protocol.MessagePage
	path := fmt.Sprintf("/api/livewatch/rooms/%d/messages?%s", roomID, q.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LeaveOnUnload issues the leave notification for a shutting-down client.
// Fire-and-forget: it returns immediately, runs on a background context with
// a hard timeout, and only logs failures. Delivery is not guaranteed.
func (c *Client) LeaveOnUnload(roomID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
		defer cancel()

		path := fmt.Sprintf("/api/livewatch/rooms/%d/leave", roomID)
		if err := c.do(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
			c.logger.Warn("unload leave not delivered", "roomID", roomID, "error", err)
			return
		}
		c.logger.Debug("unload leave delivered", "roomID", roomID)
	}()
}

// DevToken requests a token from the dev server's minting endpoint. The only
// unauthenticated call the client makes; real deployments use the platform's
// auth service instead.
func (c *Client) DevToken(ctx context.Context, userID int64, userName string) (string, error) {
	payload, err := json.Marshal(map[string]any{"userId": userID, "userName": userName})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/token", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	return out.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("request credential: %w", err)
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var p protocol.ErrorPayload
		if err := json.NewDecoder(resp.Body).Decode(&p); err == nil && p.Message != "" {
			return fmt.Errorf("%s", p.Message)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
