// Package collab provides a client for the CodeCollab relay: the REST API and
// a room session that keeps a local buffer in step with its peers.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

const (
	DefaultAPIBase = "http://localhost:5000"
	DefaultWSBase  = "ws://localhost:5000/ws"
)

// APIBase returns COLLAB_API_BASE or the local default.
func APIBase() string {
	if v := os.Getenv("COLLAB_API_BASE"); v != "" {
		return v
	}
	return DefaultAPIBase
}

// WSBase returns COLLAB_WS_BASE or the local default.
func WSBase() string {
	if v := os.Getenv("COLLAB_WS_BASE"); v != "" {
		return v
	}
	return DefaultWSBase
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("codecollab error %d: %s", e.Status, e.Message)
}

// Client is a CodeCollab API client.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client. An empty baseURL uses APIBase().
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = APIBase()
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request and decodes a JSON answer into out.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health. A degraded server answers 503 and is reported as an error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterRequest is the request body for registration.
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password,omitempty"`
}

// RegisterResponse is the response from registration.
type RegisterResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id"`
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, email, name, password string) (*RegisterResponse, error) {
	var resp RegisterResponse
	req := RegisterRequest{Email: email, Name: name, Password: password}
	if err := c.doRequest(ctx, http.MethodPost, "/api/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoginResponse carries the session token.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        string `json:"user"`
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	req := map[string]string{"email": email}
	if password != "" {
		req["password"] = password
	}
	if err := c.doRequest(ctx, http.MethodPost, "/api/login", req, &resp); err != nil {
		return nil, err
	}
	c.Token = resp.AccessToken
	return &resp, nil
}

// Room represents room metadata.
type Room struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	EditCount  int64  `json:"edit_count"`
	Online     int    `json:"online"`
	LastActive string `json:"last_active"`
}

// RoomsResponse is the response from listing rooms.
type RoomsResponse struct {
	Rooms []Room `json:"rooms"`
	Total int    `json:"total"`
}

// ListRooms lists rooms by recent activity. Requires a token.
func (c *Client) ListRooms(ctx context.Context, limit, offset int) (*RoomsResponse, error) {
	path := fmt.Sprintf("/api/rooms/list?limit=%d&offset=%d", limit, offset)
	var resp RoomsResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Snapshot is the last buffer broadcast in a room.
type Snapshot struct {
	Content   string `json:"delta"`
	Timestamp int64  `json:"ts"`
	User      string `json:"user"`
}

// RoomDetail is a room with its live state.
type RoomDetail struct {
	Room     Room      `json:"room"`
	Online   []string  `json:"online"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// GetRoom fetches one room. Requires a token.
func (c *Client) GetRoom(ctx context.Context, name string) (*RoomDetail, error) {
	var resp RoomDetail
	if err := c.doRequest(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(name), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UserProfile represents a public profile.
type UserProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	JoinedAt string `json:"joined_at"`
}

// GetUser gets a user's profile.
func (c *Client) GetUser(ctx context.Context, id string) (*UserProfile, error) {
	var resp UserProfile
	if err := c.doRequest(ctx, http.MethodGet, "/api/users/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats holds platform totals.
type Stats struct {
	TotalUsers        int64  `json:"total_users"`
	TotalRooms        int64  `json:"total_rooms"`
	TotalEdits        int64  `json:"total_edits"`
	LastActivity      string `json:"last_activity"`
	LiveRooms         int    `json:"live_rooms"`
	ActiveConnections int    `json:"active_connections"`
}

// Stats fetches platform statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var resp Stats
	if err := c.doRequest(ctx, http.MethodGet, "/api/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
