package notification

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/worktrack/internal/config"
	"github.com/kazz187/worktrack/internal/permission"
	"github.com/kazz187/worktrack/internal/pushsubscription"
	"github.com/kazz187/worktrack/internal/pushsubscription/repositoryimpl"
	"github.com/kazz187/worktrack/internal/task"
	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
	"github.com/kazz187/worktrack/pkg/storage"
)

func browserKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()), base64.RawURLEncoding.EncodeToString(secret)
}

func vapid(t *testing.T) *config.VAPIDEnv {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return &config.VAPIDEnv{VAPIDPublicKey: pub, VAPIDPrivateKey: priv, VAPIDContact: "mailto:ops@example.com"}
}

func newRepo(t *testing.T) pushsubscription.Repository {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return repositoryimpl.NewYAMLRepository(s)
}

func TestDispatcher_Notify(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	hits := map[string]int{}
	push := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusGone)
		default:
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer push.Close()

	repo := newRepo(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, sub := range []struct{ id, userID, path string }{
		{id: "s1", userID: "u1", path: "/ok"},
		{id: "s2", userID: "u2", path: "/gone"},
	} {
		p256dh, auth := browserKeys(t)
		require.NoError(t, repo.Save(ctx, &pushsubscription.Subscription{
			ID: sub.id, UserID: sub.userID, Endpoint: push.URL + sub.path, P256dhKey: p256dh, AuthKey: auth, CreatedAt: now,
		}))
	}

	d := NewDispatcher(NewSender(vapid(t), push.Client()), repo)

	t.Run("delivered", func(t *testing.T) {
		err := d.Notify(ctx, Notification{Kind: KindTaskAssigned, TaskID: "t1", Title: "x", UserIDs: []string{"u1", "u1", "nobody"}})
		require.NoError(t, err)
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1, hits["/ok"])
	})

	t.Run("expired subscription is removed", func(t *testing.T) {
		err := d.Notify(ctx, Notification{Kind: KindTaskAssigned, TaskID: "t1", Title: "x", UserIDs: []string{"u2"}})
		var derr *DeliveryError
		require.ErrorAs(t, err, &derr)
		require.Len(t, derr.Failures, 1)
		assert.Equal(t, "u2", derr.Failures[0].UserID)
		assert.ErrorIs(t, err, ErrSubscriptionGone)

		_, err = repo.Get(ctx, "s2")
		assert.True(t, cerr.IsNotFound(err))
	})
}

func TestDispatcher_NotConfigured(t *testing.T) {
	d := NewDispatcher(NewSender(&config.VAPIDEnv{}, nil), newRepo(t))

	err := d.Notify(context.Background(), Notification{Kind: KindReviewRequested, UserIDs: []string{"u1"}})
	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.ErrorIs(t, err, ErrNotConfigured)

	assert.NoError(t, d.Notify(context.Background(), Notification{Kind: KindReviewRequested}))
}

type recorder struct {
	sent []Notification
	err  error
}

func (r *recorder) Notify(_ context.Context, n Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

type holders []*user.User

func (h holders) HoldersOf(_ context.Context, c permission.Capability) ([]*user.User, error) {
	if c != permission.ReviewTasks {
		return nil, errors.New("unexpected capability")
	}
	return h, nil
}

func TestTaskNotifier(t *testing.T) {
	ctx := context.Background()
	tk := &task.Task{ID: "t1", Title: "ship it", ReviewStatus: task.ReviewApproved, ReviewRequestedBy: "u1"}
	reviewers := holders{{ID: "admin"}, {ID: "super"}}

	tests := []struct {
		name  string
		call  func(n *TaskNotifier) error
		kind  Kind
		users []string
	}{
		{
			name:  "assigned skips the actor",
			call:  func(n *TaskNotifier) error { return n.Assigned(ctx, tk, "admin", []string{"u1", "admin"}) },
			kind:  KindTaskAssigned,
			users: []string{"u1"},
		},
		{
			name:  "review requested goes to reviewers",
			call:  func(n *TaskNotifier) error { return n.ReviewRequested(ctx, tk, "u1") },
			kind:  KindReviewRequested,
			users: []string{"admin", "super"},
		},
		{
			name:  "reviewed goes to the requester",
			call:  func(n *TaskNotifier) error { return n.Reviewed(ctx, tk, "admin") },
			kind:  KindTaskReviewed,
			users: []string{"u1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			require.NoError(t, tt.call(NewTaskNotifier(rec, reviewers)))
			require.Len(t, rec.sent, 1)
			assert.Equal(t, tt.kind, rec.sent[0].Kind)
			assert.Equal(t, tt.users, rec.sent[0].UserIDs)
			assert.Equal(t, "t1", rec.sent[0].TaskID)
		})
	}

	t.Run("nobody left to notify", func(t *testing.T) {
		rec := &recorder{}
		require.NoError(t, NewTaskNotifier(rec, reviewers).Assigned(ctx, tk, "u1", []string{"u1"}))
		assert.Empty(t, rec.sent)
	})

	t.Run("delivery error is returned", func(t *testing.T) {
		rec := &recorder{err: &DeliveryError{Kind: KindTaskReviewed, Failures: []Failure{{UserID: "u1", Err: ErrNotConfigured}}}}
		err := NewTaskNotifier(rec, reviewers).Reviewed(ctx, tk, "admin")
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}
