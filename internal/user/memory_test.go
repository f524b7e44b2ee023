package user

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEnforcesEmailUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.Create(ctx, "alice@example.com", "digest-a", []Role{RoleUser})
	require.NoError(t, err)
	assert.False(t, first.EmailVerified)
	assert.Equal(t, []Role{RoleUser}, first.Roles)

	_, err = store.Create(ctx, "alice@example.com", "digest-b", []Role{RoleUser})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestGetUnknownUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetByEmail(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatesRequireExistingUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	missing := uuid.New()

	assert.ErrorIs(t, store.UpdatePasswordHash(ctx, missing, "digest"), ErrNotFound)
	assert.ErrorIs(t, store.SetEmailVerified(ctx, missing, true), ErrNotFound)
	assert.ErrorIs(t, store.UpdateRoles(ctx, missing, []Role{RoleAdmin}), ErrNotFound)
	assert.ErrorIs(t, store.SetLastLogin(ctx, missing), ErrNotFound)
}

func TestReturnedUsersAreSnapshots(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	created, err := store.Create(ctx, "bob@example.com", "digest", []Role{RoleUser})
	require.NoError(t, err)

	// Mutating a returned copy must not leak into the store.
	created.Roles[0] = RoleAdmin
	created.PasswordHash = "tampered"

	reloaded, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleUser}, reloaded.Roles)
	assert.Equal(t, "digest", reloaded.PasswordHash)
}

func TestUpdateRolesAndVerifiedFlag(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	created, err := store.Create(ctx, "carol@example.com", "digest", []Role{RoleUser})
	require.NoError(t, err)

	require.NoError(t, store.UpdateRoles(ctx, created.ID, []Role{RoleUser, RoleAdmin}))
	require.NoError(t, store.SetEmailVerified(ctx, created.ID, true))

	reloaded, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.HasRole(RoleAdmin))
	assert.True(t, reloaded.EmailVerified)
	assert.True(t, reloaded.UpdatedAt.After(created.UpdatedAt) || reloaded.UpdatedAt.Equal(created.UpdatedAt))
}
