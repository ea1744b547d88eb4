package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/worktrack/internal/permission"
	"github.com/kazz187/worktrack/internal/task"
	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
)

type Service struct {
	// mu serializes status changes so a project row and its task cascade
	// are never interleaved with another status change.
	mu     sync.Mutex
	repo   Repository
	tasks  task.Repository
	actors user.ActorResolver
	now    func() time.Time
}

func NewService(repo Repository, tasks task.Repository, actors user.ActorResolver, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, tasks: tasks, actors: actors, now: now}
}

type CreateInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Service) Create(ctx context.Context, actorID string, in CreateInput) (*Project, error) {
	a, err := s.actors.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := permission.Require(a.Caps, permission.CreateProjects); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, cerr.Validation("invalid project").AddDetailMessageWithCode("name is required", "name.required")
	}
	now := s.now()
	p := &Project{
		ID:          ulid.Make().String(),
		Name:        name,
		Description: in.Description,
		Status:      StatusActive,
		CreatedBy:   a.ID(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, actorID, id string) (*Project, error) {
	a, err := s.actors.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Caps.Has(permission.ViewAllProjects) {
		return p, nil
	}
	visible, err := s.assignedProjects(ctx, a.ID())
	if err != nil {
		return nil, err
	}
	if !visible[p.ID] {
		return nil, cerr.Denied(fmt.Sprintf("project %s is not visible to %s", p.ID, a.ID()))
	}
	return p, nil
}

// List returns every project to holders of ViewAllProjects, and otherwise
// only the projects in which the actor has assigned tasks.
func (s *Service) List(ctx context.Context, actorID string) ([]*Project, error) {
	a, err := s.actors.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	projects, _, err := s.repo.List(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	if a.Caps.Has(permission.ViewAllProjects) {
		return projects, nil
	}
	visible, err := s.assignedProjects(ctx, a.ID())
	if err != nil {
		return nil, err
	}
	out := make([]*Project, 0, len(projects))
	for _, p := range projects {
		if visible[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) assignedProjects(ctx context.Context, userID string) (map[string]bool, error) {
	tasks, err := s.tasks.List(ctx, task.Filter{AssigneeID: userID, IncludeClosed: true})
	if err != nil {
		return nil, err
	}
	ids := map[string]bool{}
	for _, t := range tasks {
		if t.ProjectID != "" {
			ids[t.ProjectID] = true
		}
	}
	return ids, nil
}

// SetStatus moves a project to status. Entering Closed closes every open task
// of the project; entering Active reopens the tasks the project closed. If
// the task batch fails the project row is put back.
func (s *Service) SetStatus(ctx context.Context, id, actorID string, status Status) (*Project, error) {
	a, err := s.actors.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := permission.Require(a.Caps, permission.ManageProjects); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, cerr.Validation("invalid project status").
			AddDetailMessageWithCode("status must be one of Active, Closed, Completed, Archived", "status.in")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status == status {
		return cur, nil
	}
	now := s.now()
	next := *cur
	next.Status = status
	next.UpdatedAt = now
	if err := s.repo.Update(ctx, &next); err != nil {
		return nil, err
	}

	var cascadeErr error
	switch {
	case status == StatusClosed:
		var closed []*task.Task
		closed, cascadeErr = s.tasks.CloseProjectTasks(ctx, id, now)
		if cascadeErr == nil {
			slog.InfoContext(ctx, "closed project tasks", "project_id", id, "count", len(closed))
		}
	case status == StatusActive:
		var reopened []*task.Task
		reopened, cascadeErr = s.tasks.ReopenProjectTasks(ctx, id, now)
		if cascadeErr == nil {
			slog.InfoContext(ctx, "reopened project tasks", "project_id", id, "count", len(reopened))
		}
	}
	if cascadeErr != nil {
		if rerr := s.repo.Update(context.WithoutCancel(ctx), cur); rerr != nil {
			slog.ErrorContext(ctx, "failed to revert project status", "project_id", id, "error", rerr)
			cascadeErr = errors.Join(cascadeErr, rerr)
		}
		return nil, cascadeErr
	}
	return &next, nil
}

// EnsureAcceptsTasks reports whether tasks may be created in the project.
func (s *Service) EnsureAcceptsTasks(ctx context.Context, id string) error {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != StatusActive {
		return cerr.Precondition(fmt.Sprintf("project %s is %s", p.Name, p.Status))
	}
	return nil
}
