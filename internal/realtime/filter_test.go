package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/pkg/cerr"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in   string
		want Filter
	}{
		{in: "", want: nil},
		{in: "status=eq.Done", want: Filter{Eq("status", "Done")}},
		{in: "status=eq.Done,project_id=eq.p1", want: Filter{Eq("status", "Done"), Eq("project_id", "p1")}},
		{in: "status=in.(ToDo,InProgress),closed_at=is.null", want: Filter{In("status", "ToDo", "InProgress"), IsNull("closed_at")}},
		{in: "assignee_ids=cs.{u1,u2}", want: Filter{Contains("assignee_ids", "u1", "u2")}},
		{in: "priority=neq.Low", want: Filter{Neq("priority", "Low")}},
		{in: `title=eq."a,b",status=eq.Done`, want: Filter{Eq("title", "a,b"), Eq("status", "Done")}},
		{in: `title=neq."fix (\"x\")"`, want: Filter{Neq("title", `fix ("x")`)}},
		{in: `title=in.("a,b",c)`, want: Filter{In("title", "a,b", "c")}},
		{in: `tags=cs.{"x}",y}`, want: Filter{Contains("tags", "x}", "y")}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFilter(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := ParseFilter(got.String())
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestParseFilter_Errors(t *testing.T) {
	for _, in := range []string{
		"status",
		"status=Done",
		"status=like.Do%",
		"status=in.ToDo",
		"status=in.(ToDo",
		"closed_at=is.maybe",
		"assignee_ids=cs.(u1)",
		"title=eq.a(b",
		`title=eq."open`,
		`title=in.("a",b"`,
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseFilter(in)
			require.Error(t, err)
			assert.True(t, cerr.IsValidation(err))
		})
	}
}

func TestCondition_StringQuotesSpecialValues(t *testing.T) {
	tests := []struct {
		c    Condition
		want string
	}{
		{c: Eq("title", "plain"), want: "title=eq.plain"},
		{c: Eq("title", "a,b"), want: `title=eq."a,b"`},
		{c: Eq("title", " padded"), want: `title=eq." padded"`},
		{c: In("title", "x", "(y)"), want: `title=in.(x,"(y)")`},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.String())
			got, err := ParseFilter(tt.c.String())
			require.NoError(t, err)
			assert.Equal(t, Filter{tt.c}, got)
		})
	}
}

func TestFilter_Match(t *testing.T) {
	row := change.Fields{
		"status":       "Done",
		"priority":     "High",
		"closed_at":    nil,
		"due_date":     "",
		"assignee_ids": []any{"u1", "u2"},
		"count":        float64(3),
		"active":       true,
	}
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "empty", filter: nil, want: true},
		{name: "eq", filter: Filter{Eq("status", "Done")}, want: true},
		{name: "eq miss", filter: Filter{Eq("status", "ToDo")}, want: false},
		{name: "eq number", filter: Filter{Eq("count", "3")}, want: true},
		{name: "eq missing field", filter: Filter{Eq("project_id", "")}, want: false},
		{name: "neq", filter: Filter{Neq("priority", "Low")}, want: true},
		{name: "neq missing field", filter: Filter{Neq("project_id", "p1")}, want: true},
		{name: "in", filter: Filter{In("status", "ToDo", "Done")}, want: true},
		{name: "in miss", filter: Filter{In("status", "ToDo")}, want: false},
		{name: "is null", filter: Filter{IsNull("closed_at")}, want: true},
		{name: "is null empty string", filter: Filter{IsNull("due_date")}, want: true},
		{name: "is null missing", filter: Filter{IsNull("project_id")}, want: true},
		{name: "is null set", filter: Filter{IsNull("status")}, want: false},
		{name: "is true", filter: Filter{{Field: "active", Op: OpIs, Values: []string{"true"}}}, want: true},
		{name: "contains", filter: Filter{Contains("assignee_ids", "u2")}, want: true},
		{name: "contains all", filter: Filter{Contains("assignee_ids", "u1", "u3")}, want: false},
		{name: "conjunction", filter: Filter{Eq("status", "Done"), Eq("priority", "Low")}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(row))
		})
	}
}

func TestFilter_MatchEvent(t *testing.T) {
	f := Filter{Eq("status", "Done")}
	tests := []struct {
		name string
		ev   change.Event
		want bool
	}{
		{name: "new matches", ev: change.Event{Kind: change.Update, New: change.Fields{"status": "Done"}, Old: change.Fields{"status": "ToDo"}}, want: true},
		{name: "old matches", ev: change.Event{Kind: change.Update, New: change.Fields{"status": "ToDo"}, Old: change.Fields{"status": "Done"}}, want: true},
		{name: "neither", ev: change.Event{Kind: change.Update, New: change.Fields{"status": "ToDo"}, Old: change.Fields{"status": "Blocked"}}, want: false},
		{name: "insert miss", ev: change.Event{Kind: change.Insert, New: change.Fields{"status": "ToDo"}}, want: false},
		{name: "delete always", ev: change.Event{Kind: change.Delete, Old: change.Fields{"status": "ToDo"}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.MatchEvent(tt.ev))
		})
	}
}
