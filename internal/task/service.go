package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/worktrack/internal/attachment"
	"github.com/kazz187/worktrack/internal/comment"
	"github.com/kazz187/worktrack/internal/permission"
	"github.com/kazz187/worktrack/internal/tasklog"
	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
)

// ProjectChecker reports whether new tasks may be added to a project.
type ProjectChecker interface {
	EnsureAcceptsTasks(ctx context.Context, projectID string) error
}

type Service struct {
	repo        Repository
	progress    tasklog.Repository
	comments    comment.Repository
	attachments attachment.Repository
	users       user.Repository
	actors      user.ActorResolver
	projects    ProjectChecker
	notifier    Notifier
	now         func() time.Time
}

type ServiceParams struct {
	Repo        Repository
	Progress    tasklog.Repository
	Comments    comment.Repository
	Attachments attachment.Repository
	Users       user.Repository
	Actors      user.ActorResolver
	Projects    ProjectChecker
	Notifier    Notifier
	Now         func() time.Time
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		repo:        p.Repo,
		progress:    p.Progress,
		comments:    p.Comments,
		attachments: p.Attachments,
		users:       p.Users,
		actors:      p.Actors,
		projects:    p.Projects,
		notifier:    p.Notifier,
		now:         p.Now,
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// actor resolves actorID and checks capability before anything is loaded.
func (s *Service) actor(ctx context.Context, actorID string, capability permission.Capability) (*user.Actor, error) {
	a, err := s.actors.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if capability != "" {
		if err := permission.Require(a.Caps, capability); err != nil {
			return nil, err
		}
	}
	return a, nil
}

type CreateInput struct {
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	AssigneeIDs []string   `json:"assignee_ids"`
}

func (in CreateInput) validate() error {
	e := cerr.Validation("invalid task")
	if strings.TrimSpace(in.Title) == "" {
		e.AddDetailMessageWithCode("title is required", "title.required")
	}
	if in.Priority != "" && !in.Priority.Valid() {
		e.AddDetailMessageWithCode("priority must be one of Low, Medium, High, Urgent", "priority.in")
	}
	if len(e.Details) > 0 {
		return e
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actorID string, in CreateInput) (*Result, error) {
	a, err := s.actor(ctx, actorID, permission.CreateTasks)
	if err != nil {
		return nil, err
	}
	if len(in.AssigneeIDs) > 0 {
		if err := permission.Require(a.Caps, permission.AssignTasks); err != nil {
			return nil, err
		}
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	assignees, err := normalizeAssignees(in.AssigneeIDs)
	if err != nil {
		return nil, err
	}
	if err := verifyAssignees(ctx, s.users, assignees); err != nil {
		return nil, err
	}
	if in.ProjectID != "" {
		if err := s.projects.EnsureAcceptsTasks(ctx, in.ProjectID); err != nil {
			return nil, err
		}
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	now := s.now()
	t := &Task{
		ID:           ulid.Make().String(),
		ProjectID:    in.ProjectID,
		Title:        strings.TrimSpace(in.Title),
		Description:  in.Description,
		Status:       StatusToDo,
		Priority:     priority,
		DueDate:      cloneTime(in.DueDate),
		ReviewStatus: ReviewNone,
		AssigneeIDs:  assignees,
		CreatedBy:    a.ID(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	res := &Result{Task: t}
	if len(assignees) > 0 {
		res.warn(ctx, "failed to notify assignees", s.notifier.Assigned(ctx, t, a.ID(), assignees))
	}
	return res, nil
}

// Get returns the task if the actor may see it. Actors without
// ViewAllProjects only see tasks assigned to them.
func (s *Service) Get(ctx context.Context, actorID, taskID string) (*Task, error) {
	a, err := s.actor(ctx, actorID, "")
	if err != nil {
		return nil, err
	}
	t, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !a.Caps.Has(permission.ViewAllProjects) && !t.IsAssignee(a.ID()) {
		return nil, cerr.Denied(fmt.Sprintf("task %s is not visible to %s", t.ID, a.ID()))
	}
	return t, nil
}

// List returns tasks visible to the actor. Actors without ViewAllProjects
// only see tasks assigned to them.
func (s *Service) List(ctx context.Context, actorID string, f Filter) ([]*Task, error) {
	a, err := s.actor(ctx, actorID, "")
	if err != nil {
		return nil, err
	}
	if !a.Caps.Has(permission.ViewAllProjects) {
		f.AssigneeID = a.ID()
	}
	return s.repo.List(ctx, f)
}

// UpdateInput carries the editable fields. Priority and due date are fixed
// at creation and have no place here.
type UpdateInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (s *Service) Update(ctx context.Context, taskID, actorID string, in UpdateInput) (*Task, error) {
	if _, err := s.actor(ctx, actorID, permission.EditTasks); err != nil {
		return nil, err
	}
	return s.repo.Mutate(ctx, taskID, func(t *Task) error {
		if err := ensureOpen(t); err != nil {
			return err
		}
		if in.Title != nil {
			title := strings.TrimSpace(*in.Title)
			if title == "" {
				return cerr.Validation("title must not be blank").AddDetailMessageWithCode("title is required", "title.required")
			}
			t.Title = title
		}
		if in.Description != nil {
			t.Description = *in.Description
		}
		t.UpdatedAt = s.now()
		return nil
	})
}

// SetStatus moves the task to status and appends a progress entry. The
// entry is appended before the task is written, so a failed append leaves
// the status unchanged.
func (s *Service) SetStatus(ctx context.Context, taskID, actorID string, status Status, note string) (*Task, error) {
	a, err := s.actor(ctx, actorID, permission.UpdateTaskStatus)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return s.repo.Mutate(ctx, taskID, func(t *Task) error {
		if err := applyStatus(a, t, status, now); err != nil {
			return err
		}
		entry := &tasklog.ProgressEntry{
			ID:        ulid.Make().String(),
			TaskID:    t.ID,
			ActorID:   a.ID(),
			Status:    string(status),
			Note:      strings.TrimSpace(note),
			CreatedAt: now,
		}
		if err := s.progress.Append(ctx, entry); err != nil {
			slog.ErrorContext(ctx, "failed to record progress entry", "task_id", t.ID, "status", status, "error", err)
			return cerr.NewError(cerr.Internal, "the progress entry could not be recorded", err)
		}
		return nil
	})
}

// Close closes the task manually. Only a project reopen can undo a closure,
// and only one made by the project.
func (s *Service) Close(ctx context.Context, taskID, actorID string) (*Task, error) {
	if _, err := s.actor(ctx, actorID, permission.EditTasks); err != nil {
		return nil, err
	}
	now := s.now()
	return s.repo.Mutate(ctx, taskID, func(t *Task) error {
		return applyClose(t, now)
	})
}

// Assign replaces the assignee set wholesale.
func (s *Service) Assign(ctx context.Context, taskID, actorID string, userIDs []string) (*Result, error) {
	a, err := s.actor(ctx, actorID, permission.AssignTasks)
	if err != nil {
		return nil, err
	}
	ids, err := normalizeAssignees(userIDs)
	if err != nil {
		return nil, err
	}
	var prev []string
	t, err := s.repo.Mutate(ctx, taskID, func(t *Task) error {
		if err := ensureOpen(t); err != nil {
			return err
		}
		if err := verifyAssignees(ctx, s.users, ids); err != nil {
			return err
		}
		prev = t.AssigneeIDs
		t.AssigneeIDs = ids
		t.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	res := &Result{Task: t}
	if newIDs := added(prev, ids); len(newIDs) > 0 {
		res.warn(ctx, "failed to notify assignees", s.notifier.Assigned(ctx, t, a.ID(), newIDs))
	}
	return res, nil
}

func (s *Service) RequestReview(ctx context.Context, taskID, actorID string) (*Result, error) {
	a, err := s.actor(ctx, actorID, permission.RequestReview)
	if err != nil {
		return nil, err
	}
	t, err := s.repo.Mutate(ctx, taskID, func(t *Task) error {
		return applyRequestReview(a, t, s.now())
	})
	if err != nil {
		return nil, err
	}
	res := &Result{Task: t}
	res.warn(ctx, "failed to notify reviewers", s.notifier.ReviewRequested(ctx, t, a.ID()))
	return res, nil
}

func (s *Service) ApproveTask(ctx context.Context, taskID, actorID, comments string) (*Result, error) {
	a, err := s.actor(ctx, actorID, permission.ReviewTasks)
	if err != nil {
		return nil, err
	}
	t, err := s.repo.Mutate(ctx, taskID, func(t *Task) error {
		return applyApprove(a, t, comments, s.now())
	})
	if err != nil {
		return nil, err
	}
	res := &Result{Task: t}
	res.warn(ctx, "failed to notify review requester", s.notifier.Reviewed(ctx, t, a.ID()))
	return res, nil
}

func (s *Service) RequestChanges(ctx context.Context, taskID, actorID, comments string) (*Result, error) {
	a, err := s.actor(ctx, actorID, permission.ReviewTasks)
	if err != nil {
		return nil, err
	}
	t, err := s.repo.Mutate(ctx, taskID, func(t *Task) error {
		return applyRequestChanges(a, t, comments, s.now())
	})
	if err != nil {
		return nil, err
	}
	res := &Result{Task: t}
	res.warn(ctx, "failed to notify review requester", s.notifier.Reviewed(ctx, t, a.ID()))
	return res, nil
}

// ResetReviewStatus is the administrative reset to None.
func (s *Service) ResetReviewStatus(ctx context.Context, taskID, actorID string) (*Task, error) {
	if _, err := s.actor(ctx, actorID, permission.EditTasks); err != nil {
		return nil, err
	}
	return s.repo.Mutate(ctx, taskID, func(t *Task) error {
		return applyResetReview(t, s.now())
	})
}

func (s *Service) AddComment(ctx context.Context, taskID, actorID, body string) (*comment.Comment, error) {
	return s.addComment(ctx, taskID, actorID, comment.KindComment, body)
}

func (s *Service) AddNote(ctx context.Context, taskID, actorID, body string) (*comment.Comment, error) {
	return s.addComment(ctx, taskID, actorID, comment.KindNote, body)
}

// addComment writes the comment while holding the task row so a concurrent
// close or reassignment cannot slip between the check and the write.
func (s *Service) addComment(ctx context.Context, taskID, actorID string, kind comment.Kind, body string) (*comment.Comment, error) {
	a, err := s.actor(ctx, actorID, permission.AddComments)
	if err != nil {
		return nil, err
	}
	var c *comment.Comment
	_, err = s.repo.Mutate(ctx, taskID, func(t *Task) error {
		if err := canWork(a, permission.AddComments, t); err != nil {
			return err
		}
		if err := comment.ValidateBody(body); err != nil {
			return err
		}
		c = &comment.Comment{
			ID:        ulid.Make().String(),
			TaskID:    t.ID,
			AuthorID:  a.ID(),
			Kind:      kind,
			Body:      body,
			CreatedAt: s.now(),
		}
		if err := s.comments.Create(ctx, c); err != nil {
			return err
		}
		return ErrNoChange
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) DeleteComment(ctx context.Context, commentID, actorID string) error {
	if _, err := s.actor(ctx, actorID, permission.DeleteComments); err != nil {
		return err
	}
	c, err := s.comments.Get(ctx, commentID)
	if err != nil {
		return err
	}
	_, err = s.repo.Mutate(ctx, c.TaskID, func(t *Task) error {
		if err := ensureOpen(t); err != nil {
			return err
		}
		if err := s.comments.Delete(ctx, c.ID); err != nil {
			return err
		}
		return ErrNoChange
	})
	return err
}

func (s *Service) AttachFile(ctx context.Context, taskID, actorID string, meta attachment.Metadata) (*attachment.Attachment, error) {
	a, err := s.actor(ctx, actorID, permission.UploadFiles)
	if err != nil {
		return nil, err
	}
	var att *attachment.Attachment
	_, err = s.repo.Mutate(ctx, taskID, func(t *Task) error {
		if err := canWork(a, permission.UploadFiles, t); err != nil {
			return err
		}
		if err := meta.Validate(); err != nil {
			return err
		}
		att = &attachment.Attachment{
			ID:         ulid.Make().String(),
			TaskID:     t.ID,
			UploaderID: a.ID(),
			FileName:   meta.FileName,
			FilePath:   meta.FilePath,
			FileSize:   meta.FileSize,
			MimeType:   meta.MimeType,
			CreatedAt:  s.now(),
		}
		if err := s.attachments.Create(ctx, att); err != nil {
			return err
		}
		return ErrNoChange
	})
	if err != nil {
		return nil, err
	}
	return att, nil
}

func (s *Service) ListProgress(ctx context.Context, actorID, taskID string) ([]*tasklog.ProgressEntry, error) {
	if _, err := s.Get(ctx, actorID, taskID); err != nil {
		return nil, err
	}
	return s.progress.List(ctx, taskID)
}

func (s *Service) ListComments(ctx context.Context, actorID, taskID string) ([]*comment.Comment, error) {
	if _, err := s.Get(ctx, actorID, taskID); err != nil {
		return nil, err
	}
	return s.comments.ListByTask(ctx, taskID)
}

func (s *Service) ListAttachments(ctx context.Context, actorID, taskID string) ([]*attachment.Attachment, error) {
	if _, err := s.Get(ctx, actorID, taskID); err != nil {
		return nil, err
	}
	return s.attachments.ListByTask(ctx, taskID)
}
