package notification

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/worktrack/internal/config"
	"github.com/kazz187/worktrack/internal/pushsubscription"
	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
)

type Server struct {
	vapidEnv   *config.VAPIDEnv
	repo       pushsubscription.Repository
	dispatcher *Dispatcher
}

func NewServer(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository, dispatcher *Dispatcher) *Server {
	return &Server{
		vapidEnv:   vapidEnv,
		repo:       repo,
		dispatcher: dispatcher,
	}
}

func (s *Server) Routes(r chi.Router) {
	r.Route("/push", func(r chi.Router) {
		r.Get("/vapid-public-key", s.GetVapidPublicKey)
		r.Post("/subscriptions", s.RegisterPushSubscription)
		r.Delete("/subscriptions", s.UnregisterPushSubscription)
		r.Post("/test", s.SendTestNotification)
	})
}

func (s *Server) GetVapidPublicKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.vapidEnv.Configured() {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "VAPID keys not configured", nil)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"public_key": s.vapidEnv.VAPIDPublicKey})
}

type registerRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
}

func (s *Server) RegisterPushSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := user.UserIDFromContext(ctx)
	if userID == "" {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "user id is required", nil)
		return
	}
	var req registerRequest
	if err := cerr.BindJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	verr := cerr.Validation("invalid push subscription")
	if req.Endpoint == "" {
		verr.AddDetailMessageWithCode("endpoint is required", "endpoint.required")
	}
	if req.P256dhKey == "" {
		verr.AddDetailMessageWithCode("p256dh_key is required", "p256dh_key.required")
	}
	if req.AuthKey == "" {
		verr.AddDetailMessageWithCode("auth_key is required", "auth_key.required")
	}
	if len(verr.Details) > 0 {
		cerr.SetJSONError(ctx, verr)
		return
	}

	sub := &pushsubscription.Subscription{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Endpoint:  req.Endpoint,
		P256dhKey: req.P256dhKey,
		AuthKey:   req.AuthKey,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Save(ctx, sub); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, sub)
}

type unregisterRequest struct {
	Endpoint string `json:"endpoint"`
}

func (s *Server) UnregisterPushSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req unregisterRequest
	if err := cerr.BindJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.Endpoint == "" {
		cerr.SetJSONError(ctx, cerr.Validation("endpoint is required"))
		return
	}
	if err := s.repo.DeleteByEndpoint(ctx, req.Endpoint); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
}

// SendTestNotification pushes a test message to the caller's own devices.
func (s *Server) SendTestNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := user.UserIDFromContext(ctx)
	if userID == "" {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "user id is required", nil)
		return
	}
	err := s.dispatcher.Notify(ctx, Notification{
		Kind:    KindTest,
		Title:   "worktrack test",
		Body:    "Push notifications are working!",
		UserIDs: []string{userID},
	})
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.Unavailable, "push delivery failed", err)
		return
	}
}
