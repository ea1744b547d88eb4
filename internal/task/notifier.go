package task

import (
	"context"
	"log/slog"
)

// Notifier delivers advisory notifications after a transition has been
// committed. Its errors never undo the transition.
type Notifier interface {
	Assigned(ctx context.Context, t *Task, actorID string, addedIDs []string) error
	ReviewRequested(ctx context.Context, t *Task, actorID string) error
	Reviewed(ctx context.Context, t *Task, actorID string) error
}

type NopNotifier struct{}

func (NopNotifier) Assigned(context.Context, *Task, string, []string) error { return nil }
func (NopNotifier) ReviewRequested(context.Context, *Task, string) error    { return nil }
func (NopNotifier) Reviewed(context.Context, *Task, string) error           { return nil }

// Result is the outcome of a mutation with advisory side effects. Warnings
// hold side-effect failures; the mutation itself succeeded.
type Result struct {
	Task     *Task
	Warnings []error
}

func (r *Result) warn(ctx context.Context, msg string, err error) {
	if err == nil {
		return
	}
	slog.WarnContext(ctx, msg, "task_id", r.Task.ID, "error", err)
	r.Warnings = append(r.Warnings, err)
}
