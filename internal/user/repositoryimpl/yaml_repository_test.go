package repositoryimpl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/worktrack/internal/permission"
	"github.com/kazz187/worktrack/internal/user"
	"github.com/kazz187/worktrack/pkg/cerr"
	"github.com/kazz187/worktrack/pkg/storage"
)

func newStorage(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestYAMLRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewYAMLRepository(newStorage(t))

	u := &user.User{ID: "u1", Email: "a@example.com", FullName: "A", RoleID: user.RoleIDUser, IsActive: true, CreatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, u))

	err := repo.Create(ctx, &user.User{ID: "u2", Email: "A@example.com"})
	assert.True(t, cerr.IsCode(err, cerr.AlreadyExists))

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "A", got.FullName)

	byID, err := repo.ListByIDs(ctx, []string{"u1", "missing", "u1"})
	require.NoError(t, err)
	assert.Len(t, byID, 1)

	got.IsActive = false
	require.NoError(t, repo.Update(ctx, got))
	got, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	assert.True(t, cerr.IsNotFound(repo.Update(ctx, &user.User{ID: "nope"})))
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)
	users := NewYAMLRepository(s)
	roles := NewYAMLRoleRepository(s)
	require.NoError(t, roles.Seed(ctx, user.DefaultRoles))
	// seeding twice keeps existing rows
	require.NoError(t, roles.Seed(ctx, user.DefaultRoles))

	require.NoError(t, users.Create(ctx, &user.User{ID: "admin", Email: "admin@example.com", RoleID: user.RoleIDAdmin, IsActive: true}))
	require.NoError(t, users.Create(ctx, &user.User{ID: "gone", Email: "gone@example.com", RoleID: user.RoleIDAdmin}))
	require.NoError(t, users.Create(ctx, &user.User{ID: "odd", Email: "odd@example.com", RoleID: "role_custom", IsActive: true}))

	resolver := user.NewResolver(users, roles)

	actor, err := resolver.Resolve(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, permission.RoleAdmin, actor.Role.Name)
	assert.True(t, actor.Caps.Has(permission.ReviewTasks))
	assert.False(t, actor.IsSuperAdmin())

	_, err = resolver.Resolve(ctx, "gone")
	assert.True(t, cerr.IsAuthorization(err))

	_, err = resolver.Resolve(ctx, "missing")
	assert.True(t, cerr.IsAuthorization(err))

	_, err = resolver.Resolve(ctx, "")
	assert.True(t, cerr.IsCode(err, cerr.Unauthenticated))

	actor, err = resolver.Resolve(ctx, "odd")
	require.NoError(t, err)
	assert.Empty(t, actor.Caps.List())

	reviewers, err := resolver.HoldersOf(ctx, permission.ReviewTasks)
	require.NoError(t, err)
	require.Len(t, reviewers, 1)
	assert.Equal(t, "admin", reviewers[0].ID)
}
