package dashboard

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
)

type Server struct {
	agg *Aggregator
}

func NewServer(agg *Aggregator) *Server {
	return &Server{agg: agg}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/dashboard", s.ListAggregations)
	r.Get("/dashboard/{name}", s.RunAggregation)
}

func (s *Server) ListAggregations(w http.ResponseWriter, r *http.Request) {
	cerr.SetJSONResponse(r.Context(), map[string][]string{"aggregations": s.agg.Names()})
}

func (s *Server) RunAggregation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, err := s.agg.Run(ctx, user.UserIDFromContext(ctx), chi.URLParam(r, "name"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, data)
}
