package tasklog

import "context"

// Repository has no update or delete: the progress log is never edited.
type Repository interface {
	Append(ctx context.Context, e *ProgressEntry) error
	// List returns the entries of taskID oldest first.
	List(ctx context.Context, taskID string) ([]*ProgressEntry, error)
}
