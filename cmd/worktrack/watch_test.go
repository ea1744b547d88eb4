package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/project"
	"github.com/kazz187/worktrack/internal/realtime"
	"github.com/kazz187/worktrack/internal/realtime/tasksource"
	"github.com/kazz187/worktrack/internal/user"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"remote project", change.Fields{"id": "p1", "name": "Alpha"}, "Alpha"},
		{"remote user without name", change.Fields{"id": "u1", "email": "u1@example.com"}, "u1@example.com"},
		{"local user", &user.User{ID: "u1", FullName: "Ann"}, "Ann"},
		{"local project", &project.Project{ID: "p1", Name: "Beta"}, "Beta"},
		{"unknown shape", 42, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, displayName(tt.in))
		})
	}
}

func TestPrintTasks(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	printTasks(&buf, []realtime.Item{
		{
			ID:     "t1",
			Fields: change.Fields{"status": "InProgress", "priority": "High", "title": "Ship it", "review_status": "PendingReview"},
			Relations: map[string]any{
				tasksource.RelationProject:   change.Fields{"name": "Alpha"},
				tasksource.RelationAssignees: []any{change.Fields{"full_name": "Ann"}, change.Fields{"email": "bo@example.com"}},
			},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "1 task(s)")
	assert.Contains(t, out, "InProgress")
	assert.Contains(t, out, "Ship it")
	assert.Contains(t, out, "[Alpha]")
	assert.Contains(t, out, "@Ann,bo@example.com")
	assert.Contains(t, out, "(PendingReview)")
}
