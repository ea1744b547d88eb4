package comment

import (
	"strings"
	"time"

	"github.com/kazz187/worktrack/pkg/cerr"
)

// Kind separates discussion comments from working notes. Both follow the
// same access rules.
type Kind string

const (
	KindComment Kind = "comment"
	KindNote    Kind = "note"
)

type Comment struct {
	ID        string    `yaml:"id" json:"id"`
	TaskID    string    `yaml:"task_id" json:"task_id"`
	AuthorID  string    `yaml:"author_id" json:"author_id"`
	Kind      Kind      `yaml:"kind" json:"kind"`
	Body      string    `yaml:"body" json:"body"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

const maxBodyLength = 10000

// ValidateBody rejects blank and oversized bodies.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return cerr.Validation("body must not be blank").AddDetailMessageWithCode("body is required", "body.required")
	}
	if len(body) > maxBodyLength {
		return cerr.Validation("body is too long").AddDetailMessageWithCode("body must be at most 10000 bytes", "body.max_len")
	}
	return nil
}
