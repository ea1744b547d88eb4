package internal

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kazz187/worktrack/internal/changefeed"
	"github.com/kazz187/worktrack/internal/config"
	"github.com/kazz187/worktrack/internal/dashboard"
	"github.com/kazz187/worktrack/internal/notification"
	"github.com/kazz187/worktrack/internal/project"
	"github.com/kazz187/worktrack/internal/task"
	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
	"github.com/kazz187/worktrack/pkg/clog"
)

type Server struct {
	server             *http.Server
	env                *config.Env
	projectServer      *project.Server
	taskServer         *task.Server
	userServer         *user.Server
	dashboardServer    *dashboard.Server
	notificationServer *notification.Server
	feedServer         *changefeed.Server
}

func NewServer(
	env *config.Env,
	projectServer *project.Server,
	taskServer *task.Server,
	userServer *user.Server,
	dashboardServer *dashboard.Server,
	notificationServer *notification.Server,
	feedServer *changefeed.Server,
) *Server {
	return &Server{
		env:                env,
		projectServer:      projectServer,
		taskServer:         taskServer,
		userServer:         userServer,
		dashboardServer:    dashboardServer,
		notificationServer: notificationServer,
		feedServer:         feedServer,
	}
}

// Handler builds the full HTTP handler tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			user.Middleware,
		)
		// The feed upgrades to a websocket and writes its own errors.
		r.Group(s.feedServer.Routes)
		r.Group(func(r chi.Router) {
			r.Use(cerr.NewConvertErrorChiMiddleware())
			s.projectServer.Routes(r)
			s.taskServer.Routes(r)
			s.userServer.Routes(r)
			s.dashboardServer.Routes(r)
			s.notificationServer.Routes(r)
			r.NotFound(func(w http.ResponseWriter, r *http.Request) {
				cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
			})
		})
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)
	mux.Handle(grpchealth.NewHandler(grpchealth.NewStaticChecker()))

	return h2c.NewHandler(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.apiKeyMiddleware(mux)), &http2.Server{})
}

// ListenAndServe starts the HTTP server. The provided context is used as the
// base context for all incoming requests via http.Server.BaseContext, so
// cancelling it also ends open feed connections.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip API key check for health endpoints.
		if r.URL.Path == "/health" || r.URL.Path == "/grpc.health.v1.Health/Check" {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.env.APIKey)) != 1 {
			cerr.WriteHTTPError(r.Context(), w, cerr.NewError(cerr.Unauthenticated, "invalid api key", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}
