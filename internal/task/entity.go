package task

import (
	"slices"
	"time"
)

type Status string

const (
	StatusToDo       Status = "ToDo"
	StatusInProgress Status = "InProgress"
	StatusBlocked    Status = "Blocked"
	StatusDone       Status = "Done"
)

func (s Status) Valid() bool {
	switch s {
	case StatusToDo, StatusInProgress, StatusBlocked, StatusDone:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type ReviewStatus string

const (
	ReviewNone             ReviewStatus = "None"
	ReviewPending          ReviewStatus = "PendingReview"
	ReviewUnderReview      ReviewStatus = "UnderReview"
	ReviewApproved         ReviewStatus = "ReviewedApproved"
	ReviewChangesRequested ReviewStatus = "ChangesRequested"
)

func (r ReviewStatus) Valid() bool {
	switch r {
	case ReviewNone, ReviewPending, ReviewUnderReview, ReviewApproved, ReviewChangesRequested:
		return true
	}
	return false
}

type ClosedReason string

const (
	ClosedManual        ClosedReason = "manual"
	ClosedProjectClosed ClosedReason = "project_closed"
)

type Task struct {
	ID          string     `yaml:"id" json:"id"`
	ProjectID   string     `yaml:"project_id,omitempty" json:"project_id"`
	Title       string     `yaml:"title" json:"title"`
	Description string     `yaml:"description" json:"description"`
	Status      Status     `yaml:"status" json:"status"`
	Priority    Priority   `yaml:"priority" json:"priority"`
	DueDate     *time.Time `yaml:"due_date,omitempty" json:"due_date"`

	ReviewStatus      ReviewStatus `yaml:"review_status" json:"review_status"`
	ReviewRequestedBy string       `yaml:"review_requested_by,omitempty" json:"review_requested_by"`
	ReviewedBy        string       `yaml:"reviewed_by,omitempty" json:"reviewed_by"`
	ReviewedAt        *time.Time   `yaml:"reviewed_at,omitempty" json:"reviewed_at"`
	ReviewComments    string       `yaml:"review_comments,omitempty" json:"review_comments"`

	ClosedAt     *time.Time   `yaml:"closed_at,omitempty" json:"closed_at"`
	ClosedReason ClosedReason `yaml:"closed_reason,omitempty" json:"closed_reason"`

	AssigneeIDs []string  `yaml:"assignee_ids" json:"assignee_ids"`
	CreatedBy   string    `yaml:"created_by" json:"created_by"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at"`
}

func (t *Task) IsClosed() bool {
	return t.ClosedAt != nil
}

func (t *Task) IsAssignee(userID string) bool {
	return slices.Contains(t.AssigneeIDs, userID)
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	c.AssigneeIDs = slices.Clone(t.AssigneeIDs)
	c.DueDate = cloneTime(t.DueDate)
	c.ReviewedAt = cloneTime(t.ReviewedAt)
	c.ClosedAt = cloneTime(t.ClosedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
