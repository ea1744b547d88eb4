package task

import (
	"fmt"
	"time"

	"github.com/kazz187/worktrack/internal/permission"
	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
)

// errClosed is returned for any mutation of a closed task.
func errClosed(t *Task) error {
	return cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task %s is closed", t.ID), nil).
		AddDetailMessageWithCode("closed tasks accept no further changes", "task.closed")
}

func ensureOpen(t *Task) error {
	if t.IsClosed() {
		return errClosed(t)
	}
	return nil
}

// ensureWorker passes for the task's current assignees and for super admins.
// The check always reads the assignee set of the row being mutated.
func ensureWorker(actor *user.Actor, t *Task) error {
	if actor.IsSuperAdmin() || t.IsAssignee(actor.ID()) {
		return nil
	}
	return cerr.NewError(cerr.PermissionDenied, fmt.Sprintf("user %s is not assigned to task %s", actor.ID(), t.ID), nil)
}

// ensureAssignee passes only for the task's current assignees.
func ensureAssignee(actor *user.Actor, t *Task) error {
	if t.IsAssignee(actor.ID()) {
		return nil
	}
	return cerr.NewError(cerr.PermissionDenied, fmt.Sprintf("user %s is not assigned to task %s", actor.ID(), t.ID), nil)
}

// canWork gates comments, notes and files: a worker on an open task holding
// the given capability.
func canWork(actor *user.Actor, capability permission.Capability, t *Task) error {
	if err := permission.Require(actor.Caps, capability); err != nil {
		return err
	}
	if err := ensureOpen(t); err != nil {
		return err
	}
	return ensureWorker(actor, t)
}

// applyStatus is the status transition. Any status may follow any other;
// the gates are ownership and closure.
func applyStatus(actor *user.Actor, t *Task, status Status, at time.Time) error {
	if err := ensureOpen(t); err != nil {
		return err
	}
	if err := ensureWorker(actor, t); err != nil {
		return err
	}
	if !status.Valid() {
		return cerr.Validation(fmt.Sprintf("invalid status %q", status)).
			AddDetailMessageWithCode("status must be one of ToDo, InProgress, Blocked, Done", "status.in")
	}
	t.Status = status
	t.UpdatedAt = at
	return nil
}

func applyClose(t *Task, at time.Time) error {
	if err := ensureOpen(t); err != nil {
		return err
	}
	closedAt := at
	t.ClosedAt = &closedAt
	t.ClosedReason = ClosedManual
	t.UpdatedAt = at
	return nil
}

// CloseByProject marks t closed by its project. Already closed tasks are left
// untouched and reported as unchanged.
func CloseByProject(t *Task, at time.Time) bool {
	if t.IsClosed() {
		return false
	}
	closedAt := at
	t.ClosedAt = &closedAt
	t.ClosedReason = ClosedProjectClosed
	t.UpdatedAt = at
	return true
}

// ReopenByProject reverses CloseByProject. Manual closures stay closed.
func ReopenByProject(t *Task, at time.Time) bool {
	if !t.IsClosed() || t.ClosedReason != ClosedProjectClosed {
		return false
	}
	t.ClosedAt = nil
	t.ClosedReason = ""
	t.UpdatedAt = at
	return true
}
