package attachment

import "context"

type Repository interface {
	Create(ctx context.Context, a *Attachment) error
	ListByTask(ctx context.Context, taskID string) ([]*Attachment, error)
}
