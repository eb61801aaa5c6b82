package users

import "context"

// Repo defines persistence operations for users. Create and Update report
// ErrUsernameTaken or ErrEmailTaken on unique violations.
type Repo interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id int64) (User, error)
	FindByProvider(ctx context.Context, provider, providerID string) (User, error)
	List(ctx context.Context, limit, offset int) ([]User, error)
	Update(ctx context.Context, user User) error
	Delete(ctx context.Context, id int64) error
}
