package task

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
)

// normalizeAssignees trims and de-duplicates ids, keeping first-seen order.
func normalizeAssignees(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, cerr.Validation("assignee id must not be blank").
				AddDetailMessageWithCode("assignee ids must not be blank", "assignee_ids.items.required")
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// verifyAssignees checks that every id names an active user.
func verifyAssignees(ctx context.Context, users user.Repository, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := users.ListByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		u, ok := found[id]
		if !ok {
			return cerr.NewError(cerr.NotFound, fmt.Sprintf("user %s not found", id), nil)
		}
		if !u.IsActive {
			return cerr.Validation(fmt.Sprintf("user %s is inactive", id)).
				AddDetailMessageWithCode(fmt.Sprintf("user %s cannot be assigned", id), "assignee_ids.active")
		}
	}
	return nil
}

// added returns the ids in next that are not in prev.
func added(prev, next []string) []string {
	var out []string
	for _, id := range next {
		if !slices.Contains(prev, id) {
			out = append(out, id)
		}
	}
	return out
}
