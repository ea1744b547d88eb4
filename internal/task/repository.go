package task

import (
	"context"
	"errors"
	"time"
)

// ErrNoChange may be returned by a MutateFunc to commit nothing. Mutate then
// returns the stored task and a nil error.
var ErrNoChange = errors.New("no change")

// Filter narrows List. Zero fields match everything.
type Filter struct {
	ProjectID     string
	Status        Status
	AssigneeID    string
	IncludeClosed bool
}

func (f Filter) Match(t *Task) bool {
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.AssigneeID != "" && !t.IsAssignee(f.AssigneeID) {
		return false
	}
	if !f.IncludeClosed && t.IsClosed() {
		return false
	}
	return true
}

// MutateFunc edits a copy of the stored task. Returning an error aborts the
// write and is returned unchanged by Mutate.
type MutateFunc func(t *Task) error

// Repository stores tasks and publishes a change event for every committed
// row while it still holds its write lock, so events leave in commit order.
type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// List returns matching tasks newest first.
	List(ctx context.Context, f Filter) ([]*Task, error)
	// Mutate loads the task, applies fn and writes the result as one atomic
	// step with respect to other writers of the same store.
	Mutate(ctx context.Context, id string, fn MutateFunc) (*Task, error)
	// CloseProjectTasks closes every open task of projectID with
	// ClosedProjectClosed. Either every task is closed or none is.
	CloseProjectTasks(ctx context.Context, projectID string, at time.Time) ([]*Task, error)
	// ReopenProjectTasks clears closure on the tasks of projectID closed by
	// the project. Manually closed tasks are left alone. All or nothing.
	ReopenProjectTasks(ctx context.Context, projectID string, at time.Time) ([]*Task, error)
}
