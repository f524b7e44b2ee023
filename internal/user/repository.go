package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/credo-auth/credo/internal/database"
)

// Repository is the Postgres-backed credential store.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user. Email uniqueness is enforced by the store.
func (r *Repository) Create(ctx context.Context, email, passwordHash string, roles []Role) (*User, error) {
	dbUser := &database.User{
		Email:        email,
		PasswordHash: passwordHash,
		Roles:        rolesToStrings(roles),
	}

	_, err := r.db.NewInsert().
		Model(dbUser).
		Returning("*").
		Exec(ctx)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return nil, ErrDuplicateEmail
		}
		return nil, wrapStoreErr("create user", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByEmail retrieves a user by normalized email
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("email = ?", email).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapStoreErr("get user by email", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByID retrieves a user by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapStoreErr("get user by id", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// UpdatePasswordHash replaces a user's password hash
func (r *Repository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return wrapStoreErr("update password", err)
	}

	return checkAffected(result)
}

// SetEmailVerified flips the email_verified flag
func (r *Repository) SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("email_verified = ?", verified).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return wrapStoreErr("set email verified", err)
	}

	return checkAffected(result)
}

// UpdateRoles replaces a user's role set
func (r *Repository) UpdateRoles(ctx context.Context, id uuid.UUID, roles []Role) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("roles = ?", pgdialect.Array(rolesToStrings(roles))).
		Set("updated_at = NOW()").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return wrapStoreErr("update roles", err)
	}

	return checkAffected(result)
}

// SetLastLogin stamps the last successful login time
func (r *Repository) SetLastLogin(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("last_login_at = NOW()").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return wrapStoreErr("set last login", err)
	}

	return checkAffected(result)
}

func checkAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return wrapStoreErr("check rows affected", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func wrapStoreErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
}

func rolesToStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func stringsToRoles(roles []string) []Role {
	out := make([]Role, len(roles))
	for i, r := range roles {
		out[i] = Role(r)
	}
	return out
}

// mapDBUserToModel converts database model to domain model
func mapDBUserToModel(dbu *database.User) *User {
	return &User{
		ID:            dbu.ID,
		Email:         dbu.Email,
		PasswordHash:  dbu.PasswordHash,
		Roles:         stringsToRoles(dbu.Roles),
		EmailVerified: dbu.EmailVerified,
		LastLoginAt:   dbu.LastLoginAt,
		CreatedAt:     dbu.CreatedAt,
		UpdatedAt:     dbu.UpdatedAt,
	}
}
