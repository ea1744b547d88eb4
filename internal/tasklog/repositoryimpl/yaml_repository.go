package repositoryimpl

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/tasklog"
	"github.com/kazz187/worktrack/pkg/cerr"
	"github.com/kazz187/worktrack/pkg/storage"
)

const progressPrefix = "task_progress"

// YAMLRepository stores one directory per task so listing a task's history
// does not scan every entry.
type YAMLRepository struct {
	storage   storage.Storage
	publisher change.Publisher
}

func NewYAMLRepository(s storage.Storage, publisher change.Publisher) *YAMLRepository {
	return &YAMLRepository{storage: s, publisher: publisher}
}

func path(taskID, id string) string {
	return fmt.Sprintf("%s/%s/%s.yaml", progressPrefix, taskID, id)
}

func (r *YAMLRepository) Append(ctx context.Context, e *tasklog.ProgressEntry) error {
	exists, err := r.storage.Exists(ctx, path(e.TaskID, e.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("progress entry", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "progress entry already exists", nil)
	}
	data, err := yaml.Marshal(e)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal progress entry: %w", err))
	}
	if err := r.storage.Write(ctx, path(e.TaskID, e.ID), data); err != nil {
		return cerr.WrapStorageWriteError("progress entry", err)
	}
	ev, err := change.NewEvent(change.TableProgress, e.ID, change.Insert, e, nil, e.CreatedAt)
	if err == nil {
		r.publisher.Publish(ev)
	}
	return nil
}

// List relies on ulid ids sorting in creation order.
func (r *YAMLRepository) List(ctx context.Context, taskID string) ([]*tasklog.ProgressEntry, error) {
	paths, err := r.storage.List(ctx, fmt.Sprintf("%s/%s", progressPrefix, taskID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("progress entries", err)
	}
	entries := make([]*tasklog.ProgressEntry, 0, len(paths))
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var e tasklog.ProgressEntry
		if err := yaml.Unmarshal(data, &e); err != nil {
			continue
		}
		entries = append(entries, &e)
	}
	return entries, nil
}
