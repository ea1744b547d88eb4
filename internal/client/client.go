package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/project"
	"github.com/kazz187/worktrack/internal/realtime"
	"github.com/kazz187/worktrack/internal/realtime/tasksource"
	"github.com/kazz187/worktrack/internal/task"
	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
)

// Client talks to the worktrack HTTP API on behalf of one user.
type Client struct {
	baseURL string
	apiKey  string
	userID  string
	http    *http.Client
}

var _ tasksource.Backend = (*Client)(nil)

// NewClient creates a client. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL, apiKey, userID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		userID:  userID,
		http:    httpClient,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dst any) error {
	u := c.baseURL + "/api" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set(user.HeaderUserID, c.userID)

	resp, err := c.http.Do(req)
	if err != nil {
		return cerr.Transient(fmt.Sprintf("GET %s failed", path), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cerr.Transient(fmt.Sprintf("GET %s failed", path), err)
	}
	if resp.StatusCode >= 400 {
		return cerr.DecodeHTTPError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return cerr.NewError(cerr.Internal, "malformed response", fmt.Errorf("failed to decode %s: %w", path, err))
	}
	return nil
}

// ListTasks returns the tasks visible to the user, closed ones included.
func (c *Client) ListTasks(ctx context.Context) ([]*task.Task, error) {
	var tasks []*task.Task
	if err := c.get(ctx, "/tasks", url.Values{"include_closed": {"true"}}, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// List implements realtime.Source for the tasks table.
func (c *Client) List(ctx context.Context, table string, f realtime.Filter) ([]change.Fields, error) {
	if table != change.TableTasks {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("unknown table %s", table), nil)
	}
	var rows []change.Fields
	if err := c.get(ctx, "/tasks", url.Values{"include_closed": {"true"}}, &rows); err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, r := range rows {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Client) Users(ctx context.Context, ids []string) (map[string]any, error) {
	var byID map[string]change.Fields
	if err := c.get(ctx, "/users", url.Values{"ids": {strings.Join(ids, ",")}}, &byID); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(byID))
	for id, u := range byID {
		out[id] = u
	}
	return out, nil
}

func (c *Client) Projects(ctx context.Context, ids []string) (map[string]any, error) {
	out := make(map[string]any, len(ids))
	for _, id := range ids {
		var p change.Fields
		err := c.get(ctx, "/projects/"+url.PathEscape(id), nil, &p)
		if cerr.IsNotFound(err) || cerr.IsAuthorization(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]*project.Project, error) {
	var projects []*project.Project
	if err := c.get(ctx, "/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// Dashboard runs a named aggregation and returns its raw JSON.
func (c *Client) Dashboard(ctx context.Context, name string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/dashboard/"+url.PathEscape(name), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
