package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kazz187/worktrack/internal/pushsubscription"
)

type Dispatcher struct {
	sender *Sender
	subs   pushsubscription.Repository
}

func NewDispatcher(sender *Sender, subs pushsubscription.Repository) *Dispatcher {
	return &Dispatcher{sender: sender, subs: subs}
}

// Notify pushes n to every subscription of its recipients. Users without a
// subscription are skipped silently. Expired subscriptions are removed.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	derr := &DeliveryError{Kind: n.Kind}
	if !d.sender.Configured() {
		for _, id := range n.UserIDs {
			derr.Failures = append(derr.Failures, Failure{UserID: id, Err: ErrNotConfigured})
		}
		if len(derr.Failures) == 0 {
			return nil
		}
		return derr
	}

	payload := Payload{Kind: n.Kind, Title: n.Title, Body: n.Body, Tag: n.TaskID}
	if n.TaskID != "" {
		payload.URL = fmt.Sprintf("/tasks/%s", n.TaskID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	seen := map[string]bool{}
	for _, userID := range n.UserIDs {
		if seen[userID] {
			continue
		}
		seen[userID] = true

		subs, err := d.subs.ListByUser(ctx, userID)
		if err != nil {
			derr.Failures = append(derr.Failures, Failure{UserID: userID, Err: err})
			continue
		}
		for _, sub := range subs {
			err := d.sender.Send(ctx, sub, data)
			if err == nil {
				continue
			}
			if errors.Is(err, ErrSubscriptionGone) {
				slog.InfoContext(ctx, "push subscription expired, removing", "endpoint", sub.Endpoint)
				if delErr := d.subs.Delete(ctx, sub.ID); delErr != nil {
					slog.ErrorContext(ctx, "failed to delete expired push subscription", "id", sub.ID, "error", delErr)
				}
			}
			derr.Failures = append(derr.Failures, Failure{UserID: userID, Endpoint: sub.Endpoint, Err: err})
		}
	}
	if len(derr.Failures) > 0 {
		return derr
	}
	return nil
}
