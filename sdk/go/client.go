// Package callboardsdk is a typed client for the Callboard HTTP API.
package callboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Callboard HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Person represents a directory entry.
type Person struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Discipline  string `json:"discipline,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// RegisterResult is the registration outcome.
type RegisterResult struct {
	Person  Person `json:"person"`
	Created bool   `json:"created"`
}

// Call represents a help request.
type Call struct {
	ID          int64   `json:"id"`
	Kind        string  `json:"kind"`
	RequesterID int64   `json:"requester_id"`
	ResponderID *int64  `json:"responder_id,omitempty"`
	Discipline  string  `json:"discipline,omitempty"`
	Open        bool    `json:"open"`
	CreatedAt   string  `json:"created_at"`
	ResolvedAt  *string `json:"resolved_at,omitempty"`
}

// Status is a person's live view.
type Status struct {
	PersonID           int64  `json:"person_id"`
	Role               string `json:"role"`
	OpenExpertCalls    int    `json:"open_expert_calls"`
	OpenHeadJudgeCalls int    `json:"open_head_judge_calls"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Register registers a person.
func (c *Client) Register(ctx context.Context, id int64, displayName, role, discipline string) (RegisterResult, error) {
	body := map[string]any{
		"id":           id,
		"display_name": displayName,
		"role":         role,
		"discipline":   discipline,
	}
	var resp RegisterResult
	err := c.do(ctx, http.MethodPost, "v0/people", body, &resp)
	return resp, err
}

// GetPerson fetches one directory entry.
func (c *Client) GetPerson(ctx context.Context, id int64) (Person, error) {
	var resp Person
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/people/%d", id), nil, &resp)
	return resp, err
}

// CreateCall raises a call for a judge.
func (c *Client) CreateCall(ctx context.Context, requesterID int64, kind, discipline string) (Call, error) {
	body := map[string]any{
		"requester_id": requesterID,
		"kind":         kind,
		"discipline":   discipline,
	}
	var resp Call
	err := c.do(ctx, http.MethodPost, "v0/calls", body, &resp)
	return resp, err
}

// Respond claims an open call. A lost race surfaces as an APIError with
// status 409.
func (c *Client) Respond(ctx context.Context, callID, responderID int64, kind string) (Call, error) {
	body := map[string]any{
		"responder_id": responderID,
		"kind":         kind,
	}
	var resp Call
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/calls/%d/respond", callID), body, &resp)
	return resp, err
}

// CancelOpenCalls withdraws the requester's unanswered calls and returns
// how many were removed. Kind may be empty to withdraw every kind.
func (c *Client) CancelOpenCalls(ctx context.Context, requesterID int64, kind string) (int, error) {
	endpoint := fmt.Sprintf("v0/calls/open?requester_id=%d", requesterID)
	if kind != "" {
		endpoint += "&kind=" + kind
	}
	var resp struct {
		Cancelled int `json:"cancelled"`
	}
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp.Cancelled, err
}

// ListCalls lists calls, optionally only the open ones.
func (c *Client) ListCalls(ctx context.Context, kind string, openOnly bool) ([]Call, error) {
	endpoint := "v0/calls?limit=100"
	if kind != "" {
		endpoint += "&kind=" + kind
	}
	if openOnly {
		endpoint += "&open=true"
	}
	var resp []Call
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Status returns a person's live view.
func (c *Client) Status(ctx context.Context, personID int64) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/people/%d/status", personID), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
