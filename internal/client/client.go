// Package client talks to a running aigpt server so that the CLI does not
// open the database while the server owns it.
package client

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
	"time"

	"github.com/syui/aigpt/internal/engine"
	"github.com/syui/aigpt/internal/errs"
	"github.com/syui/aigpt/internal/fortune"
	"github.com/syui/aigpt/internal/relationship"
	"github.com/syui/aigpt/internal/scheduler"
	"github.com/syui/aigpt/internal/store"
	"github.com/syui/aigpt/internal/transmission"
)

const (
	healthTimeout = 2 * time.Second
	// Ticks may wait on message generation for several users.
	requestTimeout = 5 * time.Minute
)

// Client talks to the aigpt server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for the server at serverURL.
func New(serverURL string) *Client {
	return &Client{
		http:      &http.Client{Timeout: requestTimeout},
		serverURL: serverURL,
	}
}

// URL returns the server base URL.
func (c *Client) URL() string { return c.serverURL }

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/api/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// do sends in as the JSON body (when non-nil) and decodes the response into
// out (when non-nil). Error responses are turned back into classified errors.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return decodeError(method, path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(method, path string, code int, data []byte) error {
	op := method + " " + path
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return fmt.Errorf("%s: status %d: %s", op, code, bytes.TrimSpace(data))
	}
	kind := errs.ParseKind(body.Kind)
	if kind == errs.Other && code == http.StatusBadRequest {
		kind = errs.InvalidInput
	}
	return errs.E(kind, op, errors.New(body.Error))
}

// Status fetches the companion status, with one relationship when userID is
// not empty.
func (c *Client) Status(ctx context.Context, userID string) (engine.Status, error) {
	path := "/api/status"
	if userID != "" {
		path += "?user_id=" + url.QueryEscape(userID)
	}
	var st engine.Status
	err := c.do(ctx, http.MethodGet, path, nil, &st)
	return st, err
}

// FortuneResponse is the body of GET /api/fortune.
type FortuneResponse struct {
	Fortune         fortune.Fortune `json:"fortune"`
	Mood            fortune.Mood    `json:"mood"`
	MoodDescription string          `json:"mood_description"`
}

// Fortune fetches today's fortune.
func (c *Client) Fortune(ctx context.Context) (FortuneResponse, error) {
	var out FortuneResponse
	err := c.do(ctx, http.MethodGet, "/api/fortune", nil, &out)
	return out, err
}

// Relationships lists all relationships with stats.
func (c *Client) Relationships(ctx context.Context) ([]relationship.Relationship, relationship.Stats, error) {
	var out struct {
		Relationships []relationship.Relationship `json:"relationships"`
		Stats         relationship.Stats          `json:"stats"`
	}
	err := c.do(ctx, http.MethodGet, "/api/relationships", nil, &out)
	return out.Relationships, out.Stats, err
}

// Relationship fetches one relationship.
func (c *Client) Relationship(ctx context.Context, userID string) (relationship.Relationship, error) {
	var r relationship.Relationship
	err := c.do(ctx, http.MethodGet, "/api/relationships/"+url.PathEscape(userID), nil, &r)
	return r, err
}

// Memories fetches the newest remembered conversation turns with userID.
func (c *Client) Memories(ctx context.Context, userID string, limit int) ([]store.Memory, error) {
	var out struct {
		Memories []store.Memory `json:"memories"`
	}
	err := c.do(ctx, http.MethodGet,
		"/api/relationships/"+url.PathEscape(userID)+"/memories?limit="+strconv.Itoa(limit), nil, &out)
	return out.Memories, err
}

// SetTransmission enables or disables transmissions for userID.
func (c *Client) SetTransmission(ctx context.Context, userID string, enabled bool) (relationship.Relationship, error) {
	var r relationship.Relationship
	err := c.do(ctx, http.MethodPost, "/api/relationships/"+url.PathEscape(userID)+"/transmission",
		map[string]bool{"enabled": enabled}, &r)
	return r, err
}

// Interact records one interaction.
func (c *Client) Interact(ctx context.Context, userID string, sentiment float64) (relationship.IngestResult, error) {
	var res relationship.IngestResult
	err := c.do(ctx, http.MethodPost, "/api/interactions",
		map[string]any{"user_id": userID, "sentiment": sentiment}, &res)
	return res, err
}

// Chat sends a chat message.
func (c *Client) Chat(ctx context.Context, userID, message string) (engine.ChatResult, error) {
	var res engine.ChatResult
	err := c.do(ctx, http.MethodPost, "/api/chat",
		map[string]string{"user_id": userID, "message": message}, &res)
	return res, err
}

// Tick runs one scheduler tick on the server, or every check when all is set.
func (c *Client) Tick(ctx context.Context, all bool) (engine.TickReport, error) {
	path := "/api/tick"
	if all {
		path += "?all=true"
	}
	var rep engine.TickReport
	err := c.do(ctx, http.MethodPost, path, nil, &rep)
	return rep, err
}

// Transmissions fetches the newest transmissions with stats.
func (c *Client) Transmissions(ctx context.Context, limit int) ([]transmission.Log, transmission.Stats, error) {
	var out struct {
		Transmissions []transmission.Log `json:"transmissions"`
		Stats         transmission.Stats `json:"stats"`
	}
	err := c.do(ctx, http.MethodGet, "/api/transmissions?limit="+strconv.Itoa(limit), nil, &out)
	return out.Transmissions, out.Stats, err
}

// Scheduler fetches the task table with stats.
func (c *Client) Scheduler(ctx context.Context) ([]scheduler.Task, scheduler.Stats, error) {
	var out struct {
		Tasks []scheduler.Task `json:"tasks"`
		Stats scheduler.Stats  `json:"stats"`
	}
	err := c.do(ctx, http.MethodGet, "/api/scheduler", nil, &out)
	return out.Tasks, out.Stats, err
}

// History fetches the newest task executions.
func (c *Client) History(ctx context.Context, limit int) ([]scheduler.Execution, error) {
	var out struct {
		History []scheduler.Execution `json:"history"`
	}
	err := c.do(ctx, http.MethodGet, "/api/scheduler/history?limit="+strconv.Itoa(limit), nil, &out)
	return out.History, err
}

// CreateTask adds a task on the server.
func (c *Client) CreateTask(ctx context.Context, opts scheduler.CreateOptions) (scheduler.Task, error) {
	in := map[string]any{
		"kind":           opts.Kind,
		"name":           opts.Name,
		"user_id":        opts.UserID,
		"interval_hours": opts.Interval.Hours(),
		"max_runs":       opts.MaxRuns,
	}
	if !opts.At.IsZero() {
		in["at"] = opts.At
	}
	var t scheduler.Task
	err := c.do(ctx, http.MethodPost, "/api/scheduler/tasks", in, &t)
	return t, err
}

// SetTaskEnabled enables or disables a task.
func (c *Client) SetTaskEnabled(ctx context.Context, id string, enabled bool) (scheduler.Task, error) {
	action := "disable"
	if enabled {
		action = "enable"
	}
	var t scheduler.Task
	err := c.do(ctx, http.MethodPost, "/api/scheduler/tasks/"+url.PathEscape(id)+"/"+action, nil, &t)
	return t, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/scheduler/tasks/"+url.PathEscape(id), nil, nil)
}
