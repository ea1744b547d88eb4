package repositoryimpl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/comment"
	"github.com/kazz187/worktrack/pkg/cerr"
	"github.com/kazz187/worktrack/pkg/storage"
)

const commentsPrefix = "comments"

type YAMLRepository struct {
	mu        sync.Mutex
	storage   storage.Storage
	publisher change.Publisher
}

func NewYAMLRepository(s storage.Storage, publisher change.Publisher) *YAMLRepository {
	return &YAMLRepository{storage: s, publisher: publisher}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", commentsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, c *comment.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.storage.Exists(ctx, path(c.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("comment", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "comment already exists", nil)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal comment: %w", err))
	}
	if err := r.storage.Write(ctx, path(c.ID), data); err != nil {
		return cerr.WrapStorageWriteError("comment", err)
	}
	r.publish(c.ID, change.Insert, c, nil, c.CreatedAt)
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*comment.Comment, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("comment", err)
	}
	var c comment.Comment
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal comment: %w", err))
	}
	return &c, nil
}

func (r *YAMLRepository) ListByTask(ctx context.Context, taskID string) ([]*comment.Comment, error) {
	paths, err := r.storage.List(ctx, commentsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("comments", err)
	}
	var out []*comment.Comment
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var c comment.Comment
		if err := yaml.Unmarshal(data, &c); err != nil {
			continue
		}
		if c.TaskID == taskID {
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("comment", err)
	}
	r.publish(id, change.Delete, nil, old, time.Now())
	return nil
}

func (r *YAMLRepository) publish(id string, kind change.Kind, newRow, oldRow *comment.Comment, at time.Time) {
	var n, o any
	if newRow != nil {
		n = newRow
	}
	if oldRow != nil {
		o = oldRow
	}
	ev, err := change.NewEvent(change.TableComments, id, kind, n, o, at)
	if err != nil {
		return
	}
	r.publisher.Publish(ev)
}
