// Package dashboard runs named, read-only aggregations over tasks and
// projects and returns them as JSON.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/kazz187/worktrack/internal/permission"
	"github.com/kazz187/worktrack/internal/project"
	"github.com/kazz187/worktrack/internal/task"
	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
)

const (
	TaskStatusCounts    = "task_status_counts"
	ReviewStatusCounts  = "review_status_counts"
	ProjectStatusCounts = "project_status_counts"
	MyOpenTasks         = "my_open_tasks"
)

type aggregation func(ctx context.Context, a *user.Actor) (any, error)

type Aggregator struct {
	tasks        task.Repository
	projects     project.Repository
	actors       user.ActorResolver
	now          func() time.Time
	aggregations map[string]aggregation
}

func NewAggregator(tasks task.Repository, projects project.Repository, actors user.ActorResolver, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	a := &Aggregator{tasks: tasks, projects: projects, actors: actors, now: now}
	a.aggregations = map[string]aggregation{
		TaskStatusCounts:    a.taskStatusCounts,
		ReviewStatusCounts:  a.reviewStatusCounts,
		ProjectStatusCounts: a.projectStatusCounts,
		MyOpenTasks:         a.myOpenTasks,
	}
	return a
}

// Names lists the available aggregations.
func (a *Aggregator) Names() []string {
	names := make([]string, 0, len(a.aggregations))
	for n := range a.aggregations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (a *Aggregator) Run(ctx context.Context, actorID, name string) (json.RawMessage, error) {
	actor, err := a.actors.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := permission.Require(actor.Caps, permission.ViewDashboard); err != nil {
		return nil, err
	}
	fn, ok := a.aggregations[name]
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("unknown aggregation %s", name), nil)
	}
	v, err := fn(ctx, actor)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal %s: %w", name, err))
	}
	return data, nil
}

// visibleTasks returns every task for holders of ViewAllProjects and the
// actor's assigned tasks otherwise.
func (a *Aggregator) visibleTasks(ctx context.Context, actor *user.Actor, includeClosed bool) ([]*task.Task, error) {
	f := task.Filter{IncludeClosed: includeClosed}
	if !actor.Caps.Has(permission.ViewAllProjects) {
		f.AssigneeID = actor.ID()
	}
	return a.tasks.List(ctx, f)
}

type StatusCounts struct {
	Total  int            `json:"total"`
	Closed int            `json:"closed"`
	By     map[string]int `json:"by_status"`
}

func (a *Aggregator) taskStatusCounts(ctx context.Context, actor *user.Actor) (any, error) {
	tasks, err := a.visibleTasks(ctx, actor, true)
	if err != nil {
		return nil, err
	}
	out := StatusCounts{By: map[string]int{}}
	for _, s := range []task.Status{task.StatusToDo, task.StatusInProgress, task.StatusBlocked, task.StatusDone} {
		out.By[string(s)] = 0
	}
	for _, t := range tasks {
		out.Total++
		if t.IsClosed() {
			out.Closed++
			continue
		}
		out.By[string(t.Status)]++
	}
	return out, nil
}

func (a *Aggregator) reviewStatusCounts(ctx context.Context, actor *user.Actor) (any, error) {
	tasks, err := a.visibleTasks(ctx, actor, false)
	if err != nil {
		return nil, err
	}
	out := StatusCounts{By: map[string]int{}}
	for _, s := range []task.ReviewStatus{task.ReviewNone, task.ReviewPending, task.ReviewUnderReview, task.ReviewApproved, task.ReviewChangesRequested} {
		out.By[string(s)] = 0
	}
	for _, t := range tasks {
		out.Total++
		out.By[string(t.ReviewStatus)]++
	}
	return out, nil
}

func (a *Aggregator) projectStatusCounts(ctx context.Context, actor *user.Actor) (any, error) {
	projects, _, err := a.projects.List(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	var visible map[string]bool
	if !actor.Caps.Has(permission.ViewAllProjects) {
		tasks, err := a.visibleTasks(ctx, actor, true)
		if err != nil {
			return nil, err
		}
		visible = map[string]bool{}
		for _, t := range tasks {
			visible[t.ProjectID] = true
		}
	}
	out := StatusCounts{By: map[string]int{}}
	for _, s := range []project.Status{project.StatusActive, project.StatusClosed, project.StatusCompleted, project.StatusArchived} {
		out.By[string(s)] = 0
	}
	for _, p := range projects {
		if visible != nil && !visible[p.ID] {
			continue
		}
		out.Total++
		out.By[string(p.Status)]++
		if p.Status == project.StatusClosed {
			out.Closed++
		}
	}
	return out, nil
}

type OpenTask struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id"`
	Title     string        `json:"title"`
	Status    task.Status   `json:"status"`
	Priority  task.Priority `json:"priority"`
	DueDate   *time.Time    `json:"due_date"`
	Overdue   bool          `json:"overdue"`
}

var priorityRank = map[task.Priority]int{
	task.PriorityUrgent: 0,
	task.PriorityHigh:   1,
	task.PriorityMedium: 2,
	task.PriorityLow:    3,
}

// myOpenTasks lists the actor's unfinished tasks, most urgent first, then
// by due date with undated tasks last.
func (a *Aggregator) myOpenTasks(ctx context.Context, actor *user.Actor) (any, error) {
	tasks, err := a.tasks.List(ctx, task.Filter{AssigneeID: actor.ID()})
	if err != nil {
		return nil, err
	}
	now := a.now()
	out := make([]OpenTask, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == task.StatusDone {
			continue
		}
		out = append(out, OpenTask{
			ID:        t.ID,
			ProjectID: t.ProjectID,
			Title:     t.Title,
			Status:    t.Status,
			Priority:  t.Priority,
			DueDate:   t.DueDate,
			Overdue:   t.DueDate != nil && t.DueDate.Before(now),
		})
	}
	slices.SortStableFunc(out, func(x, y OpenTask) int {
		if d := priorityRank[x.Priority] - priorityRank[y.Priority]; d != 0 {
			return d
		}
		switch {
		case x.DueDate == nil && y.DueDate == nil:
			return 0
		case x.DueDate == nil:
			return 1
		case y.DueDate == nil:
			return -1
		}
		return x.DueDate.Compare(*y.DueDate)
	})
	return out, nil
}
