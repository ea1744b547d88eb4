package user

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/worktrack/internal/permission"
	"github.com/kazz187/worktrack/pkg/cerr"
)

type Server struct {
	repo     Repository
	resolver *Resolver
}

func NewServer(repo Repository, resolver *Resolver) *Server {
	return &Server{repo: repo, resolver: resolver}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/users", s.ListUsers)
	r.Get("/users/{id}", s.GetUser)
	r.Get("/me/capabilities", s.MyCapabilities)
}

type capabilitiesResponse struct {
	UserID       string                  `json:"user_id"`
	Role         permission.Role         `json:"role"`
	Capabilities []permission.Capability `json:"capabilities"`
}

func (s *Server) MyCapabilities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := s.resolver.Resolve(ctx, UserIDFromContext(ctx))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, capabilitiesResponse{
		UserID:       actor.ID(),
		Role:         actor.Role.Name,
		Capabilities: actor.Caps.List(),
	})
}

func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := s.resolver.Resolve(ctx, UserIDFromContext(ctx)); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	u, err := s.repo.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, u)
}

// ListUsers returns the users named by ?ids=a,b. Without ids it lists every
// user, which requires ViewAllUsers.
func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, err := s.resolver.Resolve(ctx, UserIDFromContext(ctx))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if raw := r.URL.Query().Get("ids"); raw != "" {
		byID, err := s.repo.ListByIDs(ctx, strings.Split(raw, ","))
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		cerr.SetJSONResponse(ctx, byID)
		return
	}
	if err := permission.Require(actor.Caps, permission.ViewAllUsers); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	users, err := s.repo.List(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, users)
}
