// Package client is a small HTTP and WebSocket client for the Atlas API,
// used by the device agent CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssd-technologies/atlas/internal/storage"
)

const (
	apiPrefix   = "/api/v1"
	refreshPath = "/auth/refresh-token"
)

// APIError is a non-success envelope returned by the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("atlas: %d %s", e.Status, e.Message)
}

// Client talks to one Atlas server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	refreshToken string
	onRenew      func(access string)
}

// New creates a client for baseURL. token may be empty for public calls.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// WithRefresh lets the client renew an expired access token with
// refreshToken and retry the call once. onRenew, if set, receives every new
// access token so it can be persisted.
func (c *Client) WithRefresh(refreshToken string, onRenew func(access string)) *Client {
	c.refreshToken = refreshToken
	c.onRenew = onRenew
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	err := c.send(ctx, method, path, payload, out)
	if !c.canRenew(err) || path == refreshPath {
		return err
	}
	if _, rerr := c.Refresh(ctx); rerr != nil {
		return err
	}
	return c.send(ctx, method, path, payload, out)
}

func (c *Client) canRenew(err error) bool {
	return c.refreshToken != "" && IsStatus(err, http.StatusUnauthorized)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response (status %d): %w", method, path, resp.StatusCode, err)
	}
	if !env.Success || resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

// Refresh exchanges the refresh token for a new access token and adopts it.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	if c.refreshToken == "" {
		return "", errors.New("atlas: no refresh token")
	}
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	payload, err := json.Marshal(map[string]string{"refreshToken": c.refreshToken})
	if err != nil {
		return "", err
	}
	if err := c.send(ctx, http.MethodPost, refreshPath, payload, &out); err != nil {
		return "", err
	}
	c.token = out.AccessToken
	if c.onRenew != nil {
		c.onRenew(out.AccessToken)
	}
	return out.AccessToken, nil
}

// Registration is the result of registering a device.
type Registration struct {
	storage.Agent
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Register enrolls a device and adopts the returned token pair.
func (c *Client) Register(ctx context.Context, deviceID, wallet string) (*Registration, error) {
	var reg Registration
	err := c.do(ctx, http.MethodPost, "/agents/register", map[string]string{
		"deviceId":      deviceID,
		"walletAddress": wallet,
	}, &reg)
	if err != nil {
		return nil, err
	}
	c.token = reg.Token
	c.refreshToken = reg.RefreshToken
	return &reg, nil
}

// Tasks lists the caller's tasks, optionally filtered by status.
func (c *Client) Tasks(ctx context.Context, status storage.TaskStatus) ([]storage.Task, error) {
	path := "/tasks?limit=100"
	if status != "" {
		path += "&status=" + url.QueryEscape(string(status))
	}
	var list []storage.Task
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Start moves a pending task to in_progress.
func (c *Client) Start(ctx context.Context, id string) (*storage.Task, error) {
	return c.taskAction(ctx, id, "start")
}

// Complete marks a task completed.
func (c *Client) Complete(ctx context.Context, id string) (*storage.Task, error) {
	return c.taskAction(ctx, id, "complete")
}

func (c *Client) taskAction(ctx context.Context, id, action string) (*storage.Task, error) {
	var t storage.Task
	if err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/"+action, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Event is a server push. Replies to client messages carry Type instead of
// Event.
type Event struct {
	Type      string          `json:"type,omitempty"`
	Event     string          `json:"event,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// addressedTo reports whether the event concerns wallet. Events without an
// agentWallet in their data are delivered to everyone.
func (e Event) addressedTo(wallet string) bool {
	var target struct {
		AgentWallet string `json:"agentWallet"`
	}
	if err := json.Unmarshal(e.Data, &target); err != nil || target.AgentWallet == "" {
		return true
	}
	return target.AgentWallet == wallet
}

func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.baseURL + apiPrefix + "/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"token": {c.token}}.Encode()
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := c.wsURL()
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &APIError{Status: resp.StatusCode, Message: "websocket authentication failed"}
		}
		return nil, fmt.Errorf("dial %s: %w", c.baseURL, err)
	}
	return conn, nil
}

// Watch subscribes to the event stream and calls fn for every event
// addressed to wallet until ctx is cancelled or the connection drops. A ping
// is sent every pingEvery.
func (c *Client) Watch(ctx context.Context, wallet string, pingEvery time.Duration, fn func(Event)) error {
	conn, err := c.dial(ctx)
	if c.canRenew(err) {
		if _, rerr := c.Refresh(ctx); rerr == nil {
			conn, err = c.dial(ctx)
		}
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	readErr := make(chan error, 1)
	go func() {
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				readErr <- err
				return
			}
			if ev.Event != "" && ev.addressedTo(wallet) {
				fn(ev)
			}
		}
	}()

	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return nil
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		case <-ticker.C:
			if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
				return err
			}
		}
	}
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
