package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/worktrack/internal/attachment"
	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/pkg/cerr"
	"github.com/kazz187/worktrack/pkg/storage"
)

const attachmentsPrefix = "attachments"

type YAMLRepository struct {
	storage   storage.Storage
	publisher change.Publisher
}

func NewYAMLRepository(s storage.Storage, publisher change.Publisher) *YAMLRepository {
	return &YAMLRepository{storage: s, publisher: publisher}
}

func path(taskID, id string) string {
	return fmt.Sprintf("%s/%s/%s.yaml", attachmentsPrefix, taskID, id)
}

func (r *YAMLRepository) Create(ctx context.Context, a *attachment.Attachment) error {
	exists, err := r.storage.Exists(ctx, path(a.TaskID, a.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("attachment", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "attachment already exists", nil)
	}
	data, err := yaml.Marshal(a)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal attachment: %w", err))
	}
	if err := r.storage.Write(ctx, path(a.TaskID, a.ID), data); err != nil {
		return cerr.WrapStorageWriteError("attachment", err)
	}
	if ev, err := change.NewEvent(change.TableAttachments, a.ID, change.Insert, a, nil, a.CreatedAt); err == nil {
		r.publisher.Publish(ev)
	}
	return nil
}

func (r *YAMLRepository) ListByTask(ctx context.Context, taskID string) ([]*attachment.Attachment, error) {
	paths, err := r.storage.List(ctx, fmt.Sprintf("%s/%s", attachmentsPrefix, taskID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("attachments", err)
	}
	out := make([]*attachment.Attachment, 0, len(paths))
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var a attachment.Attachment
		if err := yaml.Unmarshal(data, &a); err != nil {
			continue
		}
		out = append(out, &a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
