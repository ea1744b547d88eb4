package project

import "time"

type Status string

const (
	StatusActive    Status = "Active"
	StatusClosed    Status = "Closed"
	StatusCompleted Status = "Completed"
	StatusArchived  Status = "Archived"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

type Project struct {
	ID          string    `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description"`
	Status      Status    `yaml:"status" json:"status"`
	CreatedBy   string    `yaml:"created_by" json:"created_by"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at"`
}
