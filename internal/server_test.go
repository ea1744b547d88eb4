package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	attachmentrepo "github.com/kazz187/worktrack/internal/attachment/repositoryimpl"
	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/changefeed"
	"github.com/kazz187/worktrack/internal/client"
	commentrepo "github.com/kazz187/worktrack/internal/comment/repositoryimpl"
	"github.com/kazz187/worktrack/internal/config"
	"github.com/kazz187/worktrack/internal/dashboard"
	"github.com/kazz187/worktrack/internal/eventbus"
	"github.com/kazz187/worktrack/internal/notification"
	"github.com/kazz187/worktrack/internal/project"
	projectrepo "github.com/kazz187/worktrack/internal/project/repositoryimpl"
	pushsubrepo "github.com/kazz187/worktrack/internal/pushsubscription/repositoryimpl"
	"github.com/kazz187/worktrack/internal/realtime"
	"github.com/kazz187/worktrack/internal/realtime/tasksource"
	"github.com/kazz187/worktrack/internal/task"
	taskrepo "github.com/kazz187/worktrack/internal/task/repositoryimpl"
	tasklogrepo "github.com/kazz187/worktrack/internal/tasklog/repositoryimpl"
	"github.com/kazz187/worktrack/internal/user"
	userrepo "github.com/kazz187/worktrack/internal/user/repositoryimpl"
	"github.com/kazz187/worktrack/pkg/storage"
)

const testAPIKey = "secret"

func newTestServer(t *testing.T) (*httptest.Server, *eventbus.Bus) {
	t.Helper()
	ctx := context.Background()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	users := userrepo.NewYAMLRepository(s)
	roles := userrepo.NewYAMLRoleRepository(s)
	require.NoError(t, roles.Seed(ctx, user.DefaultRoles))
	for _, u := range []*user.User{
		{ID: "admin", Email: "admin@example.com", RoleID: user.RoleIDAdmin, IsActive: true},
		{ID: "u1", Email: "u1@example.com", RoleID: user.RoleIDUser, IsActive: true},
	} {
		require.NoError(t, users.Create(ctx, u))
	}

	bus := eventbus.New()
	resolver := user.NewResolver(users, roles)
	projects := projectrepo.NewYAMLRepository(s, bus)
	tasks := taskrepo.NewYAMLRepository(s, bus)
	pushSubs := pushsubrepo.NewYAMLRepository(s)
	env := &config.Env{BaseEnv: config.BaseEnv{APIKey: testAPIKey}}
	dispatcher := notification.NewDispatcher(notification.NewSender(config.VAPIDEnvFromEnv(env), nil), pushSubs)

	projectSvc := project.NewService(projects, tasks, resolver, time.Now)
	taskSvc := task.NewService(task.ServiceParams{
		Repo:        tasks,
		Progress:    tasklogrepo.NewYAMLRepository(s, bus),
		Comments:    commentrepo.NewYAMLRepository(s, bus),
		Attachments: attachmentrepo.NewYAMLRepository(s, bus),
		Users:       users,
		Actors:      resolver,
		Projects:    projectSvc,
	})
	srv := NewServer(
		env,
		project.NewServer(projectSvc),
		task.NewServer(taskSvc),
		user.NewServer(users, resolver),
		dashboard.NewServer(dashboard.NewAggregator(tasks, projects, resolver, time.Now)),
		notification.NewServer(config.VAPIDEnvFromEnv(env), pushSubs, dispatcher),
		changefeed.NewServer(bus, resolver),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, bus
}

func do(t *testing.T, ts *httptest.Server, method, path, userID string, body any) (int, map[string]any) {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	} else {
		r = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testAPIKey)
	if userID != "" {
		req.Header.Set(user.HeaderUserID, userID)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err == nil {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func TestServer_Authentication(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"health needs no key", "/health", nil, http.StatusOK},
		{"missing key", "/api/projects", nil, http.StatusUnauthorized},
		{"wrong key", "/api/projects", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"bearer key", "/api/me/capabilities", map[string]string{"Authorization": "Bearer " + testAPIKey, user.HeaderUserID: "u1"}, http.StatusOK},
		{"key without user", "/api/projects", map[string]string{"X-API-Key": testAPIKey}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+tt.path, nil)
			require.NoError(t, err)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			resp, err := ts.Client().Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestServer_Routes(t *testing.T) {
	ts, _ := newTestServer(t)

	status, body := do(t, ts, http.MethodPost, "/api/projects", "admin", map[string]string{"name": "Alpha"})
	require.Equal(t, http.StatusCreated, status, body)
	projectID, _ := body["id"].(string)
	require.NotEmpty(t, projectID)

	status, body = do(t, ts, http.MethodPost, "/api/tasks", "admin", map[string]any{
		"project_id":   projectID,
		"title":        "Write docs",
		"assignee_ids": []string{"u1"},
	})
	require.Equal(t, http.StatusCreated, status, body)

	status, body = do(t, ts, http.MethodGet, "/api/dashboard/task_status_counts", "u1", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["total"])

	status, body = do(t, ts, http.MethodGet, "/api/nothing-here", "admin", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])

	status, body = do(t, ts, http.MethodPost, "/api/projects", "u1", map[string]string{"name": "Beta"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "permission_denied", body["code"])
}

func TestServer_Feed(t *testing.T) {
	ts, bus := newTestServer(t)

	header := http.Header{}
	header.Set("X-API-Key", testAPIKey)
	header.Set(user.HeaderUserID, "u1")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/feed/tasks"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, 1, bus.Len())

	// one task for someone else, then one for u1; only the second is visible
	status, _ := do(t, ts, http.MethodPost, "/api/tasks", "admin", map[string]any{"title": "hidden", "assignee_ids": []string{"admin"}})
	require.Equal(t, http.StatusCreated, status)
	status, _ = do(t, ts, http.MethodPost, "/api/tasks", "admin", map[string]any{"title": "visible", "assignee_ids": []string{"u1"}})
	require.Equal(t, http.StatusCreated, status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev change.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, change.Insert, ev.Kind)
	assert.Equal(t, change.TableTasks, ev.Table)
	assert.Equal(t, "visible", ev.New.String("title"))

	// errors before the upgrade are plain JSON responses
	header.Set(user.HeaderUserID, "u1")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/feed/projects", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_RemoteViewDropsUnassignedTask(t *testing.T) {
	ts, _ := newTestServer(t)
	ctx := context.Background()

	status, body := do(t, ts, http.MethodPost, "/api/tasks", "admin", map[string]any{"title": "T", "assignee_ids": []string{"u1"}})
	require.Equal(t, http.StatusCreated, status, body)
	created, _ := body["task"].(map[string]any)
	taskID, _ := created["id"].(string)
	require.NotEmpty(t, taskID)

	f, err := realtime.ParseFilter("status=eq.ToDo")
	require.NoError(t, err)
	c := client.NewClient(ts.URL, testAPIKey, "u1", ts.Client())
	view, err := tasksource.Open(ctx, c, changefeed.NewRemoteFeed(ts.URL, testAPIKey, "u1"), f, nil)
	require.NoError(t, err)
	defer view.Close()
	require.Len(t, view.Snapshot(), 1)

	status, body = do(t, ts, http.MethodPut, "/api/tasks/"+taskID+"/assignees", "admin", map[string]any{"user_ids": []string{"admin"}})
	require.Equal(t, http.StatusOK, status, body)
	require.Eventually(t, func() bool {
		return len(view.Snapshot()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	status, body = do(t, ts, http.MethodPatch, "/api/tasks/"+taskID, "admin", map[string]any{"title": "renamed"})
	require.Equal(t, http.StatusOK, status, body)

	rows, err := c.List(ctx, change.TableTasks, f)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, view.Snapshot())
	require.NoError(t, view.Err())
}
