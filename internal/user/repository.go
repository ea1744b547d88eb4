package user

import "context"

type Repository interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	// ListByIDs returns the users that exist among ids, keyed by id.
	ListByIDs(ctx context.Context, ids []string) (map[string]*User, error)
	List(ctx context.Context) ([]*User, error)
	Update(ctx context.Context, u *User) error
}

type RoleRepository interface {
	Get(ctx context.Context, id string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	// Seed writes the given roles if they are missing. Existing rows are
	// never changed.
	Seed(ctx context.Context, roles []*Role) error
}

// ActorResolver is what services need from Resolver.
type ActorResolver interface {
	Resolve(ctx context.Context, userID string) (*Actor, error)
}
