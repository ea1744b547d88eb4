// Package tasksource wires the task table into realtime views, hydrating
// the assignee and project relations.
package tasksource

import (
	"context"
	"fmt"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/project"
	"github.com/kazz187/worktrack/internal/realtime"
	"github.com/kazz187/worktrack/internal/task"
	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
)

const (
	RelationAssignees = "assignees"
	RelationProject   = "project"
)

// Backend serves the initial fetch and the relation lookups of a task view.
type Backend interface {
	realtime.Source
	Users(ctx context.Context, ids []string) (map[string]any, error)
	Projects(ctx context.Context, ids []string) (map[string]any, error)
}

func Relations(b Backend) []realtime.Relation {
	return []realtime.Relation{
		{Name: RelationAssignees, ForeignKey: "assignee_ids", Many: true, Fetch: b.Users},
		{Name: RelationProject, ForeignKey: "project_id", Fetch: b.Projects},
	}
}

// Open starts a live view of the tasks matching f.
func Open(ctx context.Context, b Backend, feed realtime.Feed, f realtime.Filter, onChange func([]realtime.Item)) (*realtime.View, error) {
	return realtime.Open(ctx, realtime.Config{
		Table:     change.TableTasks,
		Filter:    f,
		Source:    b,
		Feed:      feed,
		Relations: Relations(b),
		OnChange:  onChange,
	})
}

// Local reads straight from the repositories of this process.
type Local struct {
	tasks    task.Repository
	users    user.Repository
	projects project.Repository
}

var _ Backend = (*Local)(nil)

func NewLocal(tasks task.Repository, users user.Repository, projects project.Repository) *Local {
	return &Local{tasks: tasks, users: users, projects: projects}
}

func (l *Local) List(ctx context.Context, table string, f realtime.Filter) ([]change.Fields, error) {
	if table != change.TableTasks {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("unknown table %s", table), nil)
	}
	tasks, err := l.tasks.List(ctx, task.Filter{IncludeClosed: true})
	if err != nil {
		return nil, err
	}
	var rows []change.Fields
	for _, t := range tasks {
		fields, err := change.FieldsOf(t)
		if err != nil {
			return nil, err
		}
		if f.Match(fields) {
			rows = append(rows, fields)
		}
	}
	return rows, nil
}

func (l *Local) Users(ctx context.Context, ids []string) (map[string]any, error) {
	byID, err := l.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(byID))
	for id, u := range byID {
		fields, err := change.FieldsOf(u)
		if err != nil {
			return nil, err
		}
		out[id] = fields
	}
	return out, nil
}

func (l *Local) Projects(ctx context.Context, ids []string) (map[string]any, error) {
	out := make(map[string]any, len(ids))
	for _, id := range ids {
		p, err := l.projects.Get(ctx, id)
		if cerr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		fields, err := change.FieldsOf(p)
		if err != nil {
			return nil, err
		}
		out[id] = fields
	}
	return out, nil
}
