package task

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/worktrack/internal/attachment"
	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
)

type Server struct {
	svc *Service
}

func NewServer(svc *Service) *Server {
	return &Server{svc: svc}
}

func (s *Server) Routes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.ListTasks)
		r.Post("/", s.CreateTask)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetTask)
			r.Patch("/", s.UpdateTask)
			r.Post("/status", s.SetStatus)
			r.Post("/close", s.CloseTask)
			r.Put("/assignees", s.Assign)
			r.Post("/review/request", s.RequestReview)
			r.Post("/review/approve", s.ApproveTask)
			r.Post("/review/request-changes", s.RequestChanges)
			r.Post("/review/reset", s.ResetReviewStatus)
			r.Get("/comments", s.ListComments)
			r.Post("/comments", s.AddComment)
			r.Post("/notes", s.AddNote)
			r.Get("/attachments", s.ListAttachments)
			r.Post("/attachments", s.AttachFile)
			r.Get("/progress", s.ListProgress)
		})
	})
	r.Delete("/comments/{id}", s.DeleteComment)
}

// resultResponse is the body of mutations with advisory side effects.
type resultResponse struct {
	Task     *Task    `json:"task"`
	Warnings []string `json:"warnings,omitempty"`
}

func toResponse(res *Result) resultResponse {
	out := resultResponse{Task: res.Task}
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, w.Error())
	}
	return out
}

func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	f := Filter{
		ProjectID:  q.Get("project_id"),
		Status:     Status(q.Get("status")),
		AssigneeID: q.Get("assignee_id"),
	}
	if v := q.Get("include_closed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			cerr.SetJSONError(ctx, cerr.Validation("include_closed must be a boolean"))
			return
		}
		f.IncludeClosed = b
	}
	tasks, err := s.svc.List(ctx, user.UserIDFromContext(ctx), f)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if tasks == nil {
		tasks = []*Task{}
	}
	cerr.SetJSONResponse(ctx, tasks)
}

func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in CreateInput
	if err := cerr.BindJSON(r, &in); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	res, err := s.svc.Create(ctx, user.UserIDFromContext(ctx), in)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, toResponse(res))
}

func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.svc.Get(ctx, user.UserIDFromContext(ctx), chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in UpdateInput
	if err := cerr.BindJSON(r, &in); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.svc.Update(ctx, chi.URLParam(r, "id"), user.UserIDFromContext(ctx), in)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

type setStatusRequest struct {
	Status Status `json:"status"`
	Note   string `json:"note"`
}

func (s *Server) SetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setStatusRequest
	if err := cerr.BindJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.svc.SetStatus(ctx, chi.URLParam(r, "id"), user.UserIDFromContext(ctx), req.Status, req.Note)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) CloseTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.svc.Close(ctx, chi.URLParam(r, "id"), user.UserIDFromContext(ctx))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

type assignRequest struct {
	UserIDs []string `json:"user_ids"`
}

func (s *Server) Assign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req assignRequest
	if err := cerr.BindJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	res, err := s.svc.Assign(ctx, chi.URLParam(r, "id"), user.UserIDFromContext(ctx), req.UserIDs)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, toResponse(res))
}

type reviewRequest struct {
	Comments string `json:"comments"`
}

func (s *Server) RequestReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := s.svc.RequestReview(ctx, chi.URLParam(r, "id"), user.UserIDFromContext(ctx))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, toResponse(res))
}

func (s *Server) ApproveTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req reviewRequest
	if err := cerr.BindJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	res, err := s.svc.ApproveTask(ctx, chi.URLParam(r, "id"), user.UserIDFromContext(ctx), req.Comments)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, toResponse(res))
}

func (s *Server) RequestChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req reviewRequest
	if err := cerr.BindJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	res, err := s.svc.RequestChanges(ctx, chi.URLParam(r, "id"), user.UserIDFromContext(ctx), req.Comments)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, toResponse(res))
}

func (s *Server) ResetReviewStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.svc.ResetReviewStatus(ctx, chi.URLParam(r, "id"), user.UserIDFromContext(ctx))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

type commentRequest struct {
	Body string `json:"body"`
}

func (s *Server) AddComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req commentRequest
	if err := cerr.BindJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	c, err := s.svc.AddComment(ctx, chi.URLParam(r, "id"), user.UserIDFromContext(ctx), req.Body)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, c)
}

func (s *Server) AddNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req commentRequest
	if err := cerr.BindJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	c, err := s.svc.AddNote(ctx, chi.URLParam(r, "id"), user.UserIDFromContext(ctx), req.Body)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, c)
}

func (s *Server) ListComments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	comments, err := s.svc.ListComments(ctx, user.UserIDFromContext(ctx), chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, comments)
}

func (s *Server) DeleteComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.svc.DeleteComment(ctx, chi.URLParam(r, "id"), user.UserIDFromContext(ctx)); err != nil {
		cerr.SetJSONError(ctx, err)
	}
}

func (s *Server) AttachFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var meta attachment.Metadata
	if err := cerr.BindJSON(r, &meta); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	a, err := s.svc.AttachFile(ctx, chi.URLParam(r, "id"), user.UserIDFromContext(ctx), meta)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, a)
}

func (s *Server) ListAttachments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := s.svc.ListAttachments(ctx, user.UserIDFromContext(ctx), chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, list)
}

func (s *Server) ListProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := s.svc.ListProgress(ctx, user.UserIDFromContext(ctx), chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, entries)
}
