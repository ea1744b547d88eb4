package tasklog

import "time"

// ProgressEntry records one status transition. Entries are append-only.
type ProgressEntry struct {
	ID        string    `yaml:"id" json:"id"`
	TaskID    string    `yaml:"task_id" json:"task_id"`
	ActorID   string    `yaml:"actor_id" json:"actor_id"`
	Status    string    `yaml:"status" json:"status"`
	Note      string    `yaml:"note,omitempty" json:"note,omitempty"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}
