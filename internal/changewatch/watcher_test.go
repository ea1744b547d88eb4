package changewatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/task"
	taskimpl "github.com/kazz187/worktrack/internal/task/repositoryimpl"
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

func (r *recorder) all() []change.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]change.Event(nil), r.events...)
}

func (r *recorder) len() int {
	return len(r.all())
}

func newTask(id, title string) *task.Task {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return &task.Task{
		ID:           id,
		Title:        title,
		Status:       task.StatusToDo,
		Priority:     task.PriorityMedium,
		ReviewStatus: task.ReviewNone,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

type fixture struct {
	ctx   context.Context
	root  string
	s     *storage.LocalStorage
	rec   *recorder
	w     *Watcher
	tasks task.Repository
}

func start(t *testing.T, seed ...*task.Task) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	root := t.TempDir()
	s, err := storage.NewLocalStorage(root)
	require.NoError(t, err)

	seeded := taskimpl.NewYAMLRepository(s, change.Discard)
	for _, tk := range seed {
		require.NoError(t, seeded.Create(ctx, tk))
	}

	rec := &recorder{}
	w := New(s, rec, TaskSource(), ProjectSource())
	w.SetDebounce(10 * time.Millisecond)
	require.NoError(t, w.Prime(ctx))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	// let the watches register
	time.Sleep(50 * time.Millisecond)

	return &fixture{ctx: ctx, root: root, s: s, rec: rec, w: w, tasks: taskimpl.NewYAMLRepository(s, w)}
}

func (f *fixture) writeExternal(t *testing.T, tk *task.Task) {
	t.Helper()
	data, err := yaml.Marshal(tk)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "tasks", tk.ID+".yaml"), data, 0o644))
}

func TestWatcher_OwnWritesAreNotEchoed(t *testing.T) {
	f := start(t)

	require.NoError(t, f.tasks.Create(f.ctx, newTask("t1", "first")))
	_, err := f.tasks.Mutate(f.ctx, "t1", func(tk *task.Task) error {
		tk.Title = "renamed"
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, f.rec.len())
	assert.Never(t, func() bool { return f.rec.len() > 2 }, 300*time.Millisecond, 20*time.Millisecond)
}

func TestWatcher_ExternalEdits(t *testing.T) {
	f := start(t, newTask("t1", "seeded"))

	// a primed row edited by hand
	edited := newTask("t1", "edited by hand")
	f.writeExternal(t, edited)
	require.Eventually(t, func() bool { return f.rec.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := f.rec.all()[0]
	assert.Equal(t, change.Update, ev.Kind)
	assert.Equal(t, "t1", ev.EntityID)
	assert.Equal(t, change.TableTasks, ev.Table)
	assert.Equal(t, "edited by hand", ev.New.String("title"))
	assert.Equal(t, "seeded", ev.Old.String("title"))

	// a new file
	f.writeExternal(t, newTask("t2", "dropped in"))
	require.Eventually(t, func() bool { return f.rec.len() == 2 }, 2*time.Second, 10*time.Millisecond)
	ev = f.rec.all()[1]
	assert.Equal(t, change.Insert, ev.Kind)
	assert.Equal(t, "t2", ev.EntityID)
	assert.Nil(t, ev.Old)

	// rewriting identical content is not a change
	f.writeExternal(t, newTask("t2", "dropped in"))
	assert.Never(t, func() bool { return f.rec.len() > 2 }, 200*time.Millisecond, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(f.root, "tasks", "t2.yaml")))
	require.Eventually(t, func() bool { return f.rec.len() == 3 }, 2*time.Second, 10*time.Millisecond)
	ev = f.rec.all()[2]
	assert.Equal(t, change.Delete, ev.Kind)
	assert.Equal(t, "t2", ev.EntityID)
	assert.Equal(t, "dropped in", ev.Old.String("title"))
	assert.Nil(t, ev.New)
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	f := start(t)

	require.NoError(t, os.WriteFile(filepath.Join(f.root, "tasks", "notes.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "tasks", "broken.yaml"), []byte("title: [unterminated"), 0o644))
	assert.Never(t, func() bool { return f.rec.len() > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestSameFields(t *testing.T) {
	tests := []struct {
		name string
		a, b change.Fields
		want bool
	}{
		{"equal", change.Fields{"title": "x"}, change.Fields{"title": "x"}, true},
		{"different value", change.Fields{"title": "x"}, change.Fields{"title": "y"}, false},
		{"null and empty list", change.Fields{"assignee_ids": nil}, change.Fields{"assignee_ids": []any{}}, true},
		{"missing and null", change.Fields{"due_date": nil}, change.Fields{}, true},
		{"missing and value", change.Fields{}, change.Fields{"due_date": "2026-05-01T00:00:00Z"}, false},
		{"lists differ", change.Fields{"assignee_ids": []any{"u1"}}, change.Fields{"assignee_ids": []any{"u2"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sameFields(tt.a, tt.b))
		})
	}
}
