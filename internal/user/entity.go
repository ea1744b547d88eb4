package user

import (
	"time"

	"github.com/kazz187/worktrack/internal/permission"
)

// Role rows are fixed and seeded at startup.
type Role struct {
	ID   string          `yaml:"id" json:"id"`
	Name permission.Role `yaml:"name" json:"name"`
}

const (
	RoleIDSuperAdmin = "role_super_admin"
	RoleIDAdmin      = "role_admin"
	RoleIDUser       = "role_user"
)

// DefaultRoles are the rows every installation has.
var DefaultRoles = []*Role{
	{ID: RoleIDSuperAdmin, Name: permission.RoleSuperAdmin},
	{ID: RoleIDAdmin, Name: permission.RoleAdmin},
	{ID: RoleIDUser, Name: permission.RoleUser},
}

type User struct {
	ID        string    `yaml:"id" json:"id"`
	Email     string    `yaml:"email" json:"email"`
	FullName  string    `yaml:"full_name" json:"full_name"`
	RoleID    string    `yaml:"role_id" json:"role_id"`
	IsActive  bool      `yaml:"is_active" json:"is_active"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// Actor is a resolved caller: the user, its role and the role's capabilities.
type Actor struct {
	User *User
	Role *Role
	Caps permission.Capabilities
}

func (a *Actor) ID() string {
	return a.User.ID
}

func (a *Actor) IsSuperAdmin() bool {
	return a.Role != nil && a.Role.Name == permission.RoleSuperAdmin
}
