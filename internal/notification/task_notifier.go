package notification

import (
	"context"
	"fmt"
	"slices"

	"github.com/kazz187/worktrack/internal/permission"
	"github.com/kazz187/worktrack/internal/task"
	"github.com/kazz187/worktrack/internal/user"
)

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// HolderLister finds the users whose role grants a capability.
type HolderLister interface {
	HoldersOf(ctx context.Context, capability permission.Capability) ([]*user.User, error)
}

// TaskNotifier turns task transitions into push notifications. The actor
// who caused a transition is never notified about it.
type TaskNotifier struct {
	notifier Notifier
	holders  HolderLister
}

var _ task.Notifier = (*TaskNotifier)(nil)

func NewTaskNotifier(notifier Notifier, holders HolderLister) *TaskNotifier {
	return &TaskNotifier{notifier: notifier, holders: holders}
}

func (n *TaskNotifier) Assigned(ctx context.Context, t *task.Task, actorID string, addedIDs []string) error {
	return n.send(ctx, Notification{
		Kind:    KindTaskAssigned,
		TaskID:  t.ID,
		Title:   "Task assigned",
		Body:    t.Title,
		UserIDs: addedIDs,
	}, actorID)
}

func (n *TaskNotifier) ReviewRequested(ctx context.Context, t *task.Task, actorID string) error {
	reviewers, err := n.holders.HoldersOf(ctx, permission.ReviewTasks)
	if err != nil {
		return fmt.Errorf("failed to list reviewers: %w", err)
	}
	ids := make([]string, 0, len(reviewers))
	for _, u := range reviewers {
		ids = append(ids, u.ID)
	}
	return n.send(ctx, Notification{
		Kind:    KindReviewRequested,
		TaskID:  t.ID,
		Title:   "Review requested",
		Body:    t.Title,
		UserIDs: ids,
	}, actorID)
}

func (n *TaskNotifier) Reviewed(ctx context.Context, t *task.Task, actorID string) error {
	if t.ReviewRequestedBy == "" {
		return nil
	}
	return n.send(ctx, Notification{
		Kind:    KindTaskReviewed,
		TaskID:  t.ID,
		Title:   fmt.Sprintf("Review: %s", t.ReviewStatus),
		Body:    t.Title,
		UserIDs: []string{t.ReviewRequestedBy},
	}, actorID)
}

func (n *TaskNotifier) send(ctx context.Context, msg Notification, actorID string) error {
	msg.UserIDs = slices.DeleteFunc(slices.Clone(msg.UserIDs), func(id string) bool { return id == actorID })
	if len(msg.UserIDs) == 0 {
		return nil
	}
	return n.notifier.Notify(ctx, msg)
}
