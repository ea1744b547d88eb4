package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/worktrack/internal/config"
	"github.com/kazz187/worktrack/internal/user"
	userrepo "github.com/kazz187/worktrack/internal/user/repositoryimpl"
	"github.com/kazz187/worktrack/pkg/storage"
)

var roleIDs = map[string]string{
	"super-admin": user.RoleIDSuperAdmin,
	"admin":       user.RoleIDAdmin,
	"user":        user.RoleIDUser,
}

func openUserStore(ctx context.Context) (storage.Storage, error) {
	env, err := config.LoadStorageEnv()
	if err != nil {
		return nil, err
	}
	s, _, err := env.OpenStorage(ctx)
	if err != nil {
		return nil, err
	}
	if err := userrepo.NewYAMLRoleRepository(s).Seed(ctx, user.DefaultRoles); err != nil {
		return nil, fmt.Errorf("failed to seed roles: %w", err)
	}
	return s, nil
}

func runUserAdd(ctx context.Context, email, name, role string, active bool) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	s, err := openUserStore(ctx)
	if err != nil {
		return err
	}
	u := &user.User{
		ID:        ulid.Make().String(),
		Email:     email,
		FullName:  name,
		RoleID:    roleIDs[role],
		IsActive:  active,
		CreatedAt: time.Now(),
	}
	if err := userrepo.NewYAMLRepository(s).Create(ctx, u); err != nil {
		return err
	}
	fmt.Println(u.ID)
	return nil
}

func runUserList(ctx context.Context) error {
	s, err := openUserStore(ctx)
	if err != nil {
		return err
	}
	users, err := userrepo.NewYAMLRepository(s).List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE\tACTIVE")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", u.ID, u.Email, u.FullName, u.RoleID, u.IsActive)
	}
	return w.Flush()
}
