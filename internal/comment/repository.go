package comment

import "context"

type Repository interface {
	Create(ctx context.Context, c *Comment) error
	Get(ctx context.Context, id string) (*Comment, error)
	// ListByTask returns the task's comments and notes oldest first.
	ListByTask(ctx context.Context, taskID string) ([]*Comment, error)
	Delete(ctx context.Context, id string) error
}
