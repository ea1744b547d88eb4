package user

import (
	"context"
	"fmt"

	"github.com/kazz187/worktrack/internal/permission"
	"github.com/kazz187/worktrack/pkg/cerr"
)

// Resolver turns a user id into an Actor. Every mutating operation resolves
// the actor afresh so role changes take effect immediately.
type Resolver struct {
	users Repository
	roles RoleRepository
}

func NewResolver(users Repository, roles RoleRepository) *Resolver {
	return &Resolver{users: users, roles: roles}
}

func (r *Resolver) Resolve(ctx context.Context, userID string) (*Actor, error) {
	if userID == "" {
		return nil, cerr.NewError(cerr.Unauthenticated, "user id is required", nil)
	}
	u, err := r.users.Get(ctx, userID)
	if err != nil {
		if cerr.IsNotFound(err) {
			return nil, cerr.NewError(cerr.PermissionDenied, fmt.Sprintf("unknown user %s", userID), err)
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, cerr.NewError(cerr.PermissionDenied, fmt.Sprintf("user %s is inactive", userID), nil)
	}
	role, err := r.roles.Get(ctx, u.RoleID)
	if err != nil {
		if cerr.IsNotFound(err) {
			// an unknown role grants nothing
			return &Actor{User: u, Role: &Role{ID: u.RoleID}, Caps: permission.CapabilitiesFor("")}, nil
		}
		return nil, err
	}
	return &Actor{User: u, Role: role, Caps: permission.CapabilitiesFor(role.Name)}, nil
}

// HoldersOf returns the active users whose role grants capability.
func (r *Resolver) HoldersOf(ctx context.Context, capability permission.Capability) ([]*User, error) {
	roles, err := r.roles.List(ctx)
	if err != nil {
		return nil, err
	}
	granted := map[string]bool{}
	for _, role := range roles {
		if permission.CapabilitiesFor(role.Name).Has(capability) {
			granted[role.ID] = true
		}
	}
	users, err := r.users.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*User
	for _, u := range users {
		if u.IsActive && granted[u.RoleID] {
			out = append(out, u)
		}
	}
	return out, nil
}
