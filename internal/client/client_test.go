package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/realtime"
	"github.com/kazz187/worktrack/pkg/cerr"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "u1", r.Header.Get("X-User-ID"))
		assert.Equal(t, "true", r.URL.Query().Get("include_closed"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "t1", "status": "Done", "assignee_ids": []string{"u1"}, "project_id": "p1"},
			{"id": "t2", "status": "ToDo", "assignee_ids": []string{"u1"}},
		})
	})
	mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1,u2", r.URL.Query().Get("ids"))
		_ = json.NewEncoder(w).Encode(map[string]any{"u1": map[string]any{"id": "u1", "email": "u1@example.com"}})
	})
	mux.HandleFunc("/api/projects/p1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "p1", "name": "Launch"})
	})
	mux.HandleFunc("/api/projects/hidden", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"permission_denied","message":"no"}`))
	})
	mux.HandleFunc("/api/dashboard/task_status_counts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid_argument","message":"bad","details":[{"rule":"x.y","message":"broken"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	c := NewClient(newTestServer(t).URL+"/", "key", "u1", nil)

	t.Run("list applies the filter", func(t *testing.T) {
		rows, err := c.List(ctx, change.TableTasks, realtime.Filter{realtime.Eq("status", "Done")})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "t1", rows[0].String("id"))
	})

	t.Run("list rejects other tables", func(t *testing.T) {
		_, err := c.List(ctx, change.TableProjects, nil)
		assert.True(t, cerr.IsNotFound(err))
	})

	t.Run("users", func(t *testing.T) {
		users, err := c.Users(ctx, []string{"u1", "u2"})
		require.NoError(t, err)
		assert.Len(t, users, 1)
		assert.Contains(t, users, "u1")
	})

	t.Run("projects skip hidden and missing", func(t *testing.T) {
		projects, err := c.Projects(ctx, []string{"p1", "hidden", "missing"})
		require.NoError(t, err)
		require.Len(t, projects, 1)
		assert.Equal(t, "Launch", projects["p1"].(change.Fields).String("name"))
	})

	t.Run("api errors keep their code and details", func(t *testing.T) {
		_, err := c.Dashboard(ctx, "task_status_counts")
		require.Error(t, err)
		assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
		var ce *cerr.Error
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, []cerr.Violation{{Rule: "x.y", Message: "broken"}}, ce.Violations())
	})

	t.Run("network failure is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		_, err := NewClient(srv.URL, "key", "u1", nil).ListTasks(ctx)
		assert.True(t, cerr.IsTransient(err))
	})
}
