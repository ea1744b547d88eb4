package repositoryimpl

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
	"github.com/kazz187/worktrack/pkg/storage"
)

const (
	usersPrefix = "users"
	rolesPrefix = "roles"
)

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func userPath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", usersPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, u *user.User) error {
	exists, err := r.storage.Exists(ctx, userPath(u.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("user", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "user already exists", nil)
	}
	all, err := r.List(ctx)
	if err != nil {
		return err
	}
	for _, other := range all {
		if strings.EqualFold(other.Email, u.Email) {
			return cerr.NewError(cerr.AlreadyExists, fmt.Sprintf("email %s is already registered", u.Email), nil)
		}
	}
	return r.write(ctx, u)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*user.User, error) {
	data, err := r.storage.Read(ctx, userPath(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("user", err)
	}
	var u user.User
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal user: %w", err))
	}
	return &u, nil
}

func (r *YAMLRepository) ListByIDs(ctx context.Context, ids []string) (map[string]*user.User, error) {
	out := make(map[string]*user.User, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		u, err := r.Get(ctx, id)
		if err != nil {
			if cerr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out[id] = u
	}
	return out, nil
}

func (r *YAMLRepository) List(ctx context.Context) ([]*user.User, error) {
	paths, err := r.storage.List(ctx, usersPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("users", err)
	}
	users := make([]*user.User, 0, len(paths))
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var u user.User
		if err := yaml.Unmarshal(data, &u); err != nil {
			continue
		}
		users = append(users, &u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (r *YAMLRepository) Update(ctx context.Context, u *user.User) error {
	exists, err := r.storage.Exists(ctx, userPath(u.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("user", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "user not found", nil)
	}
	return r.write(ctx, u)
}

func (r *YAMLRepository) write(ctx context.Context, u *user.User) error {
	data, err := yaml.Marshal(u)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal user: %w", err))
	}
	if err := r.storage.Write(ctx, userPath(u.ID), data); err != nil {
		return cerr.WrapStorageWriteError("user", err)
	}
	return nil
}

// YAMLRoleRepository stores the fixed role rows.
type YAMLRoleRepository struct {
	storage storage.Storage
}

func NewYAMLRoleRepository(s storage.Storage) *YAMLRoleRepository {
	return &YAMLRoleRepository{storage: s}
}

func rolePath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", rolesPrefix, id)
}

func (r *YAMLRoleRepository) Get(ctx context.Context, id string) (*user.Role, error) {
	data, err := r.storage.Read(ctx, rolePath(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("role", err)
	}
	var role user.Role
	if err := yaml.Unmarshal(data, &role); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal role: %w", err))
	}
	return &role, nil
}

func (r *YAMLRoleRepository) List(ctx context.Context) ([]*user.Role, error) {
	paths, err := r.storage.List(ctx, rolesPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("roles", err)
	}
	roles := make([]*user.Role, 0, len(paths))
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var role user.Role
		if err := yaml.Unmarshal(data, &role); err != nil {
			continue
		}
		roles = append(roles, &role)
	}
	return roles, nil
}

func (r *YAMLRoleRepository) Seed(ctx context.Context, roles []*user.Role) error {
	for _, role := range roles {
		exists, err := r.storage.Exists(ctx, rolePath(role.ID))
		if err != nil {
			return cerr.WrapStorageWriteError("role", err)
		}
		if exists {
			continue
		}
		data, err := yaml.Marshal(role)
		if err != nil {
			return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal role: %w", err))
		}
		if err := r.storage.Write(ctx, rolePath(role.ID), data); err != nil {
			return cerr.WrapStorageWriteError("role", err)
		}
	}
	return nil
}
