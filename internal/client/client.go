// Package client is a typed Go client for the FAMLocator HTTP API. It carries
// the session token between calls and reproduces the browser's sync loop:
// member polling and live chat feeds.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"famlocator.app/internal/stream"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("famlocator: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("famlocator: %s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// IsCode reports whether err is an APIError with the given machine code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Location is a reported position.
type Location struct {
	Name      string    `json:"name"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// Member is a directory entry. Location is nil when the member hides it.
type Member struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	Avatar            string    `json:"avatar"`
	Location          *Location `json:"location,omitempty"`
	IsOnline          bool      `json:"isOnline"`
	IsSharingLocation bool      `json:"isSharingLocation"`
	IsChatEnabled     bool      `json:"isChatEnabled"`
	IsAdmin           bool      `json:"isAdmin"`
	Status            string    `json:"status"`
}

type Chat struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MemberIDs []string  `json:"memberIds"`
	IsGroup   bool      `json:"isGroup"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is the result of a successful login.
type Session struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
	UserID     string    `json:"userId"`
	IsAdmin    bool      `json:"isAdmin"`
	FirstLogin bool      `json:"firstLogin"`
}

type Registration struct {
	UserID string `json:"userId"`
	Resent bool   `json:"resent"`
}

type Verification struct {
	UserID    string `json:"userId"`
	Activated bool   `json:"activated"`
}

type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Code      string          `json:"code"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

// Client talks to one API base URL. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

// WithHTTPClient replaces the default client (30s timeout). Live feeds need
// a client without an overall timeout; FollowChat strips it per request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken starts the client with an existing session token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// call performs one JSON request and decodes the envelope's data into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp, out)
}

func decodeEnvelope(resp *http.Response, out any) error {
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message, RequestID: env.RequestID}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func (c *Client) Register(ctx context.Context, email, password, name, phone string) (*Registration, error) {
	var out Registration
	err := c.call(ctx, http.MethodPost, "/v1/auth/register", map[string]string{
		"email": email, "password": password, "name": name, "phone": phone,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Verify(ctx context.Context, token string) (*Verification, error) {
	var out Verification
	if err := c.call(ctx, http.MethodPost, "/v1/auth/verify", map[string]string{"token": token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login signs in and keeps the session token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var out Session
	err := c.call(ctx, http.MethodPost, "/v1/auth/login", map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// SetupAdmin stores the administrator account. It needs a first-login session.
func (c *Client) SetupAdmin(ctx context.Context, name, email, password string) error {
	return c.call(ctx, http.MethodPost, "/v1/auth/setup", map[string]string{
		"name": name, "email": email, "password": password,
	}, nil)
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.call(ctx, http.MethodPost, "/v1/auth/logout", nil, nil)
	c.SetToken("")
	return err
}

func (c *Client) Authorize(ctx context.Context, userID string) error {
	return c.call(ctx, http.MethodPost, "/v1/admin/users/"+userID+"/authorize", nil, nil)
}

func (c *Client) Members(ctx context.Context) ([]Member, error) {
	var out []Member
	if err := c.call(ctx, http.MethodGet, "/v1/members", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateLocation(ctx context.Context, lat, lng float64, name string) (*Member, error) {
	var out Member
	err := c.call(ctx, http.MethodPut, "/v1/members/me/location", map[string]any{"lat": lat, "lng": lng, "name": name}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Chats(ctx context.Context) ([]Chat, error) {
	var out []Chat
	if err := c.call(ctx, http.MethodGet, "/v1/chats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenChat returns the private chat with memberID, creating it on first use.
func (c *Client) OpenChat(ctx context.Context, memberID string) (*Chat, error) {
	var out Chat
	if err := c.call(ctx, http.MethodPost, "/v1/chats", map[string]string{"memberId": memberID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Messages(ctx context.Context, chatID string) ([]*stream.Message, error) {
	var out []*stream.Message
	if err := c.call(ctx, http.MethodGet, "/v1/chats/"+chatID+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts text to a chat. A blank text is ignored by the server and
// yields (nil, nil).
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (*stream.Message, error) {
	var out *stream.Message
	if err := c.call(ctx, http.MethodPost, "/v1/chats/"+chatID+"/messages", map[string]string{"text": text}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
