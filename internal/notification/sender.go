package notification

import (
	"context"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/kazz187/worktrack/internal/config"
	"github.com/kazz187/worktrack/internal/pushsubscription"
)

// ErrSubscriptionGone is returned when the push service reports the
// endpoint as expired.
var ErrSubscriptionGone = fmt.Errorf("push subscription expired")

type Sender struct {
	vapidEnv *config.VAPIDEnv
	client   webpush.HTTPClient
}

func NewSender(vapidEnv *config.VAPIDEnv, client webpush.HTTPClient) *Sender {
	if client == nil {
		client = http.DefaultClient
	}
	return &Sender{vapidEnv: vapidEnv, client: client}
}

func (s *Sender) Configured() bool {
	return s.vapidEnv.Configured()
}

func (s *Sender) Send(ctx context.Context, sub *pushsubscription.Subscription, data []byte) error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, wpSub, &webpush.Options{
		HTTPClient:      s.client,
		VAPIDPublicKey:  s.vapidEnv.VAPIDPublicKey,
		VAPIDPrivateKey: s.vapidEnv.VAPIDPrivateKey,
		Subscriber:      s.vapidEnv.VAPIDContact,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return ErrSubscriptionGone
	case resp.StatusCode >= 400:
		return fmt.Errorf("push service responded %d", resp.StatusCode)
	}
	return nil
}
