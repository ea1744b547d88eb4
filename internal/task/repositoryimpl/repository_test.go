package repositoryimpl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/task"
	"github.com/kazz187/worktrack/pkg/cerr"
	"github.com/kazz187/worktrack/pkg/storage"
)

type recorder struct {
	mu     sync.Mutex
	events []change.Event
}

func (r *recorder) Publish(ev change.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []change.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]change.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type factory func(t *testing.T, pub change.Publisher) task.Repository

func yamlFactory(t *testing.T, pub change.Publisher) task.Repository {
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewYAMLRepository(s, pub)
}

func sqliteFactory(t *testing.T, pub change.Publisher) task.Repository {
	repo, err := OpenSQLite(filepath.Join(t.TempDir(), "tasks.db"), pub)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

var factories = map[string]factory{
	"yaml":   yamlFactory,
	"sqlite": sqliteFactory,
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTask(id, projectID string, offset time.Duration, assignees ...string) *task.Task {
	due := base.Add(72 * time.Hour)
	return &task.Task{
		ID:           id,
		ProjectID:    projectID,
		Title:        "task " + id,
		Status:       task.StatusToDo,
		Priority:     task.PriorityHigh,
		DueDate:      &due,
		ReviewStatus: task.ReviewNone,
		AssigneeIDs:  assignees,
		CreatedBy:    "admin",
		CreatedAt:    base.Add(offset),
		UpdatedAt:    base.Add(offset),
	}
}

func TestRepository_CRUD(t *testing.T) {
	for name, newRepo := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := &recorder{}
			repo := newRepo(t, rec)

			require.NoError(t, repo.Create(ctx, newTask("t1", "p1", 0, "u1", "u2")))
			require.NoError(t, repo.Create(ctx, newTask("t2", "p1", time.Minute)))
			require.NoError(t, repo.Create(ctx, newTask("t3", "", 2*time.Minute, "u2")))
			assert.True(t, cerr.IsCode(repo.Create(ctx, newTask("t1", "p1", 0)), cerr.AlreadyExists))

			got, err := repo.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, []string{"u1", "u2"}, got.AssigneeIDs)
			assert.Equal(t, task.PriorityHigh, got.Priority)
			require.NotNil(t, got.DueDate)
			assert.True(t, got.DueDate.Equal(base.Add(72*time.Hour)))

			_, err = repo.Get(ctx, "missing")
			assert.True(t, cerr.IsNotFound(err))

			list, err := repo.List(ctx, task.Filter{ProjectID: "p1"})
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "t2", list[0].ID, "newest first")

			list, err = repo.List(ctx, task.Filter{AssigneeID: "u2"})
			require.NoError(t, err)
			assert.Len(t, list, 2)

			assert.Equal(t, []change.Kind{change.Insert, change.Insert, change.Insert}, rec.kinds())
		})
	}
}

func TestRepository_Mutate(t *testing.T) {
	for name, newRepo := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := &recorder{}
			repo := newRepo(t, rec)
			require.NoError(t, repo.Create(ctx, newTask("t1", "p1", 0, "u1")))
			rec.reset()

			updated, err := repo.Mutate(ctx, "t1", func(tk *task.Task) error {
				tk.Status = task.StatusDone
				tk.AssigneeIDs = []string{"u3"}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, task.StatusDone, updated.Status)

			got, err := repo.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, []string{"u3"}, got.AssigneeIDs)

			require.Len(t, rec.events, 1)
			ev := rec.events[0]
			assert.Equal(t, change.Update, ev.Kind)
			assert.Equal(t, "ToDo", ev.Old.String("status"))
			assert.Equal(t, "Done", ev.New.String("status"))
			assert.Equal(t, []string{"u3"}, ev.New.Strings("assignee_ids"))

			errBoom := errors.New("boom")
			_, err = repo.Mutate(ctx, "t1", func(tk *task.Task) error {
				tk.Title = "changed"
				return errBoom
			})
			assert.ErrorIs(t, err, errBoom)

			same, err := repo.Mutate(ctx, "t1", func(tk *task.Task) error {
				tk.Title = "ignored"
				return task.ErrNoChange
			})
			require.NoError(t, err)
			assert.Equal(t, "task t1", same.Title)

			got, err = repo.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, "task t1", got.Title)
			assert.Len(t, rec.events, 1)

			_, err = repo.Mutate(ctx, "missing", func(*task.Task) error { return nil })
			assert.True(t, cerr.IsNotFound(err))
		})
	}
}

func TestRepository_ProjectCascade(t *testing.T) {
	for name, newRepo := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := &recorder{}
			repo := newRepo(t, rec)
			require.NoError(t, repo.Create(ctx, newTask("t1", "p1", 0)))
			require.NoError(t, repo.Create(ctx, newTask("t2", "p1", time.Minute)))
			require.NoError(t, repo.Create(ctx, newTask("t3", "p2", 2*time.Minute)))
			_, err := repo.Mutate(ctx, "t2", func(tk *task.Task) error {
				closed := base
				tk.ClosedAt = &closed
				tk.ClosedReason = task.ClosedManual
				return nil
			})
			require.NoError(t, err)
			rec.reset()

			at := base.Add(time.Hour)
			closed, err := repo.CloseProjectTasks(ctx, "p1", at)
			require.NoError(t, err)
			require.Len(t, closed, 1)
			assert.Equal(t, "t1", closed[0].ID)

			t1, err := repo.Get(ctx, "t1")
			require.NoError(t, err)
			require.NotNil(t, t1.ClosedAt)
			assert.Equal(t, task.ClosedProjectClosed, t1.ClosedReason)

			t3, err := repo.Get(ctx, "t3")
			require.NoError(t, err)
			assert.Nil(t, t3.ClosedAt)

			reopened, err := repo.ReopenProjectTasks(ctx, "p1", at.Add(time.Hour))
			require.NoError(t, err)
			require.Len(t, reopened, 1)

			t1, err = repo.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Nil(t, t1.ClosedAt)
			assert.Empty(t, t1.ClosedReason)

			t2, err := repo.Get(ctx, "t2")
			require.NoError(t, err)
			assert.NotNil(t, t2.ClosedAt, "manual closure survives project reopen")
			assert.Equal(t, task.ClosedManual, t2.ClosedReason)

			assert.Equal(t, []change.Kind{change.Update, change.Update}, rec.kinds())
		})
	}
}

func TestSQLiteRepository_CascadeIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	repo := sqliteFactory(t, rec).(*SQLiteRepository)
	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, repo.Create(ctx, newTask(id, "p1", time.Duration(i)*time.Minute)))
	}
	rec.reset()

	_, err := repo.DB().Exec(`CREATE TRIGGER fail_t3 BEFORE UPDATE ON tasks WHEN NEW.id = 't3'
		BEGIN SELECT RAISE(ABORT, 'boom'); END`)
	require.NoError(t, err)

	_, err = repo.CloseProjectTasks(ctx, "p1", base.Add(time.Hour))
	require.Error(t, err)

	list, err := repo.List(ctx, task.Filter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Len(t, list, 3, "no task may be closed after a failed cascade")
	assert.Empty(t, rec.kinds())
}

// failingStorage rejects any write that closes the task stored at failOn.
type failingStorage struct {
	storage.Storage
	failOn string
}

func (s *failingStorage) Write(ctx context.Context, path string, data []byte) error {
	if strings.HasSuffix(path, s.failOn) && strings.Contains(string(data), "closed_reason") {
		return errors.New("disk full")
	}
	return s.Storage.Write(ctx, path, data)
}

func TestYAMLRepository_CascadeRestoresOnFailure(t *testing.T) {
	ctx := context.Background()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	rec := &recorder{}
	repo := NewYAMLRepository(&failingStorage{Storage: local, failOn: "t3.yaml"}, rec)
	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, repo.Create(ctx, newTask(id, "p1", time.Duration(i)*time.Minute)))
	}
	rec.reset()

	_, err = repo.CloseProjectTasks(ctx, "p1", base.Add(time.Hour))
	require.Error(t, err)

	list, err := repo.List(ctx, task.Filter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Len(t, list, 3, "already written rows must be restored")
	assert.Empty(t, rec.kinds())
}

// unreadableStorage fails reads of the task stored at failOn while armed.
type unreadableStorage struct {
	storage.Storage
	failOn string
	armed  bool
}

func (s *unreadableStorage) Read(ctx context.Context, path string) ([]byte, error) {
	if s.armed && strings.HasSuffix(path, s.failOn) {
		return nil, errors.New("i/o timeout")
	}
	return s.Storage.Read(ctx, path)
}

func TestYAMLRepository_CascadeFailsOnUnreadableTask(t *testing.T) {
	ctx := context.Background()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	rec := &recorder{}
	s := &unreadableStorage{Storage: local, failOn: "t2.yaml"}
	repo := NewYAMLRepository(s, rec)
	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, repo.Create(ctx, newTask(id, "p1", time.Duration(i)*time.Minute)))
	}
	rec.reset()

	s.armed = true
	closed, err := repo.CloseProjectTasks(ctx, "p1", base.Add(time.Hour))
	require.Error(t, err)
	assert.Nil(t, closed)
	s.armed = false

	list, err := repo.List(ctx, task.Filter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Len(t, list, 3, "no task may be closed when one cannot be read")
	assert.Empty(t, rec.kinds())
}

// A task deleted between listing and reading is not part of the batch.
func TestYAMLRepository_CascadeSkipsVanishedTask(t *testing.T) {
	ctx := context.Background()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := NewYAMLRepository(&vanishingStorage{Storage: local, gone: "t2.yaml"}, &recorder{})
	for i, id := range []string{"t1", "t2"} {
		require.NoError(t, repo.Create(ctx, newTask(id, "p1", time.Duration(i)*time.Minute)))
	}

	closed, err := repo.CloseProjectTasks(ctx, "p1", base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "t1", closed[0].ID)
}

type vanishingStorage struct {
	storage.Storage
	gone string
}

func (s *vanishingStorage) Read(ctx context.Context, path string) ([]byte, error) {
	if strings.HasSuffix(path, s.gone) {
		return nil, fmt.Errorf("%s: %w", path, storage.ErrNotFound)
	}
	return s.Storage.Read(ctx, path)
}
