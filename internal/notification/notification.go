package notification

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindTaskAssigned    Kind = "task_assigned"
	KindReviewRequested Kind = "review_requested"
	KindTaskReviewed    Kind = "task_reviewed"
	KindTest            Kind = "test"
)

type Notification struct {
	Kind    Kind
	TaskID  string
	Title   string
	Body    string
	UserIDs []string
}

// Payload is the JSON document delivered to the browser.
type Payload struct {
	Kind  Kind   `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

var ErrNotConfigured = errors.New("VAPID keys not configured")

type Failure struct {
	UserID   string
	Endpoint string
	Err      error
}

// DeliveryError lists the recipients a notification did not reach. It is
// advisory: callers report it and carry on.
type DeliveryError struct {
	Kind     Kind
	Failures []Failure
}

func (e *DeliveryError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Endpoint == "" {
			parts = append(parts, fmt.Sprintf("%s: %s", f.UserID, f.Err))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s): %s", f.UserID, f.Endpoint, f.Err))
	}
	return fmt.Sprintf("failed to deliver %s notification: %s", e.Kind, strings.Join(parts, "; "))
}

func (e *DeliveryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
