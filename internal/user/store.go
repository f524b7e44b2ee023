package user

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
	ErrUnavailable    = errors.New("user store unavailable")
)

// Store is the credential store boundary. It persists user records and role
// assignments; policy lives with the callers.
type Store interface {
	Create(ctx context.Context, email, passwordHash string, roles []Role) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) error
	UpdateRoles(ctx context.Context, id uuid.UUID, roles []Role) error
	SetLastLogin(ctx context.Context, id uuid.UUID) error
}
