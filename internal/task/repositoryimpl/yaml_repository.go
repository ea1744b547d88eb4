package repositoryimpl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/task"
	"github.com/kazz187/worktrack/pkg/cerr"
	"github.com/kazz187/worktrack/pkg/storage"
)

const tasksPrefix = "tasks"

// YAMLRepository keeps one YAML file per task. A single mutex serializes
// writers so that read-modify-write and event publication are atomic with
// respect to this process.
type YAMLRepository struct {
	mu        sync.Mutex
	storage   storage.Storage
	publisher change.Publisher
}

func NewYAMLRepository(s storage.Storage, publisher change.Publisher) *YAMLRepository {
	return &YAMLRepository{storage: s, publisher: publisher}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", tasksPrefix, id)
}

// Decode parses a stored task file.
func Decode(data []byte) (*task.Task, error) {
	var t task.Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if t.ReviewStatus == "" {
		t.ReviewStatus = task.ReviewNone
	}
	return &t, nil
}

func (r *YAMLRepository) Create(ctx context.Context, t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.storage.Exists(ctx, path(t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "task already exists", nil)
	}
	if err := r.write(ctx, t); err != nil {
		return err
	}
	r.publish(change.Insert, t, nil)
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("task", err)
	}
	t, err := Decode(data)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", err)
	}
	return t, nil
}

func (r *YAMLRepository) List(ctx context.Context, f task.Filter) ([]*task.Task, error) {
	all, err := r.all(ctx, false)
	if err != nil {
		return nil, err
	}
	var out []*task.Task
	for _, t := range all {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// all loads every task. Unreadable files are skipped unless strict is set,
// in which case only files deleted since the listing are skipped.
func (r *YAMLRepository) all(ctx context.Context, strict bool) ([]*task.Task, error) {
	paths, err := r.storage.List(ctx, tasksPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("tasks", err)
	}
	tasks := make([]*task.Task, 0, len(paths))
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			if strict && !errors.Is(err, storage.ErrNotFound) {
				return nil, cerr.WrapStorageReadError("tasks", err)
			}
			slog.WarnContext(ctx, "skipping unreadable task file", "path", p, "error", err)
			continue
		}
		t, err := Decode(data)
		if err != nil {
			if strict {
				return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("%s: %w", p, err))
			}
			slog.WarnContext(ctx, "skipping unreadable task file", "path", p, "error", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (r *YAMLRepository) Mutate(ctx context.Context, id string, fn task.MutateFunc) (*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, task.ErrNoChange) {
			return cur, nil
		}
		return nil, err
	}
	if err := r.write(ctx, next); err != nil {
		return nil, err
	}
	r.publish(change.Update, next, cur)
	return next, nil
}

func (r *YAMLRepository) CloseProjectTasks(ctx context.Context, projectID string, at time.Time) ([]*task.Task, error) {
	return r.cascade(ctx, projectID, func(t *task.Task) bool { return task.CloseByProject(t, at) })
}

func (r *YAMLRepository) ReopenProjectTasks(ctx context.Context, projectID string, at time.Time) ([]*task.Task, error) {
	return r.cascade(ctx, projectID, func(t *task.Task) bool { return task.ReopenByProject(t, at) })
}

// cascade writes every changed task of the project. Any task file that
// cannot be read fails the batch before anything is written. When a write
// fails the rows already written are restored from their snapshots, so a
// failed batch leaves no task changed. Events are published only for a
// complete batch.
func (r *YAMLRepository) cascade(ctx context.Context, projectID string, apply func(t *task.Task) bool) ([]*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.all(ctx, true)
	if err != nil {
		return nil, err
	}
	type pair struct{ old, new *task.Task }
	var batch []pair
	for _, t := range all {
		if t.ProjectID != projectID {
			continue
		}
		next := t.Clone()
		if apply(next) {
			batch = append(batch, pair{old: t, new: next})
		}
	}

	for i, p := range batch {
		if err := r.write(ctx, p.new); err != nil {
			for _, done := range batch[:i] {
				if rerr := r.write(context.WithoutCancel(ctx), done.old); rerr != nil {
					slog.ErrorContext(ctx, "failed to restore task after cascade failure", "task_id", done.old.ID, "error", rerr)
					err = errors.Join(err, rerr)
				}
			}
			return nil, err
		}
	}

	out := make([]*task.Task, 0, len(batch))
	for _, p := range batch {
		r.publish(change.Update, p.new, p.old)
		out = append(out, p.new)
	}
	return out, nil
}

func (r *YAMLRepository) write(ctx context.Context, t *task.Task) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	if err := r.storage.Write(ctx, path(t.ID), data); err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	return nil
}

func (r *YAMLRepository) publish(kind change.Kind, newRow, oldRow *task.Task) {
	ev, err := taskEvent(kind, newRow, oldRow)
	if err != nil {
		slog.Error("failed to build task change event", "error", err)
		return
	}
	r.publisher.Publish(ev)
}

func taskEvent(kind change.Kind, newRow, oldRow *task.Task) (change.Event, error) {
	var n, o any
	id := ""
	at := time.Now()
	if newRow != nil {
		n, id, at = newRow, newRow.ID, newRow.UpdatedAt
	}
	if oldRow != nil {
		o = oldRow
		if id == "" {
			id = oldRow.ID
		}
	}
	return change.NewEvent(change.TableTasks, id, kind, n, o, at)
}

func sortNewestFirst(tasks []*task.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID > tasks[j].ID
	})
}
