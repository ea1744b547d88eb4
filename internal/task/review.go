package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
)

type reviewAction string

const (
	actionRequestReview  reviewAction = "request_review"
	actionApprove        reviewAction = "approve"
	actionRequestChanges reviewAction = "request_changes"
)

// reviewTransition returns the state reached from from by action, or false
// when the edge does not exist. UnderReview has no incoming edge.
func reviewTransition(from ReviewStatus, action reviewAction) (ReviewStatus, bool) {
	switch action {
	case actionRequestReview:
		switch from {
		case ReviewNone, ReviewChangesRequested:
			return ReviewPending, true
		}
	case actionApprove:
		if from == ReviewPending {
			return ReviewApproved, true
		}
	case actionRequestChanges:
		if from == ReviewPending {
			return ReviewChangesRequested, true
		}
	}
	return from, false
}

func errTransition(t *Task, action reviewAction) error {
	return cerr.NewError(cerr.FailedPrecondition,
		fmt.Sprintf("cannot %s task %s in review status %s", strings.ReplaceAll(string(action), "_", " "), t.ID, t.ReviewStatus), nil).
		AddDetailMessageWithCode(fmt.Sprintf("review status %s does not allow %s", t.ReviewStatus, action), "review_status.transition")
}

func applyRequestReview(actor *user.Actor, t *Task, at time.Time) error {
	if err := ensureOpen(t); err != nil {
		return err
	}
	if err := ensureAssignee(actor, t); err != nil {
		return err
	}
	next, ok := reviewTransition(t.ReviewStatus, actionRequestReview)
	if !ok {
		return errTransition(t, actionRequestReview)
	}
	t.ReviewStatus = next
	t.ReviewRequestedBy = actor.ID()
	t.UpdatedAt = at
	return nil
}

func applyApprove(actor *user.Actor, t *Task, comments string, at time.Time) error {
	if err := ensureOpen(t); err != nil {
		return err
	}
	next, ok := reviewTransition(t.ReviewStatus, actionApprove)
	if !ok {
		return errTransition(t, actionApprove)
	}
	setReviewed(t, next, actor.ID(), strings.TrimSpace(comments), at)
	return nil
}

func applyRequestChanges(actor *user.Actor, t *Task, comments string, at time.Time) error {
	if err := ensureOpen(t); err != nil {
		return err
	}
	comments = strings.TrimSpace(comments)
	if comments == "" {
		return cerr.Validation("comments are required when requesting changes").
			AddDetailMessageWithCode("comments must not be blank", "comments.required")
	}
	next, ok := reviewTransition(t.ReviewStatus, actionRequestChanges)
	if !ok {
		return errTransition(t, actionRequestChanges)
	}
	setReviewed(t, next, actor.ID(), comments, at)
	return nil
}

func setReviewed(t *Task, status ReviewStatus, reviewerID, comments string, at time.Time) {
	reviewedAt := at
	t.ReviewStatus = status
	t.ReviewedBy = reviewerID
	t.ReviewedAt = &reviewedAt
	t.ReviewComments = comments
	t.UpdatedAt = at
}

// applyResetReview returns t to None from any review state.
func applyResetReview(t *Task, at time.Time) error {
	if err := ensureOpen(t); err != nil {
		return err
	}
	t.ReviewStatus = ReviewNone
	t.ReviewRequestedBy = ""
	t.ReviewedBy = ""
	t.ReviewedAt = nil
	t.ReviewComments = ""
	t.UpdatedAt = at
	return nil
}
