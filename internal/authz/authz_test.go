package authz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credo-auth/credo/internal/user"
)

func seedUser(t *testing.T, store *user.MemoryStore, email string, roles []user.Role) *user.User {
	t.Helper()
	u, err := store.Create(context.Background(), email, "digest", roles)
	require.NoError(t, err)
	return u
}

func TestAuthorize(t *testing.T) {
	a := NewAuthorizer(DefaultPolicy())

	regular := &user.User{Roles: []user.Role{user.RoleUser}}
	admin := &user.User{Roles: []user.Role{user.RoleUser, user.RoleAdmin}}
	verified := &user.User{Roles: []user.Role{user.RoleUser}, EmailVerified: true}

	tests := []struct {
		name   string
		u      *user.User
		action Action
		want   bool
	}{
		{"user cannot manage users", regular, ActionManageUsers, false},
		{"admin can manage users", admin, ActionManageUsers, true},
		{"user can update profile", regular, ActionUpdateProfile, true},
		{"unverified user cannot create api tokens", regular, ActionCreateAPIToken, false},
		{"verified user can create api tokens", verified, ActionCreateAPIToken, true},
		{"unknown action denied", admin, Action("launch_rockets"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Authorize(tt.u, tt.action))
		})
	}
}

func TestAuthorizeSeesRoleChangesImmediately(t *testing.T) {
	ctx := context.Background()
	store := user.NewMemoryStore()
	a := NewAuthorizer(DefaultPolicy())
	m := NewManager(store, a)

	admin := seedUser(t, store, "admin@example.com", []user.Role{user.RoleAdmin})
	target := seedUser(t, store, "bob@example.com", []user.Role{user.RoleUser})

	assert.False(t, a.Authorize(target, ActionManageUsers))

	require.NoError(t, m.GrantRole(ctx, admin, target.ID, user.RoleAdmin))

	reloaded, err := store.GetByID(ctx, target.ID)
	require.NoError(t, err)
	assert.True(t, a.Authorize(reloaded, ActionManageUsers))
}

func TestGrantRoleRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	store := user.NewMemoryStore()
	m := NewManager(store, NewAuthorizer(DefaultPolicy()))

	actor := seedUser(t, store, "alice@example.com", []user.Role{user.RoleUser})
	other := seedUser(t, store, "bob@example.com", []user.Role{user.RoleUser})

	assert.ErrorIs(t, m.GrantRole(ctx, actor, other.ID, user.RoleAdmin), ErrForbidden)

	// Self-elevation is forbidden the same way.
	assert.ErrorIs(t, m.GrantRole(ctx, actor, actor.ID, user.RoleAdmin), ErrForbidden)
}

func TestGrantRoleRejectsUnknownRole(t *testing.T) {
	ctx := context.Background()
	store := user.NewMemoryStore()
	m := NewManager(store, NewAuthorizer(DefaultPolicy()))

	admin := seedUser(t, store, "admin@example.com", []user.Role{user.RoleAdmin})

	assert.ErrorIs(t, m.GrantRole(ctx, admin, uuid.New(), user.Role("superuser")), ErrUnknownRole)
}

func TestRevokeRoleKeepsAtLeastOneRole(t *testing.T) {
	ctx := context.Background()
	store := user.NewMemoryStore()
	m := NewManager(store, NewAuthorizer(DefaultPolicy()))

	admin := seedUser(t, store, "admin@example.com", []user.Role{user.RoleAdmin})

	// Revoking the admin's only role falls back to the default role.
	require.NoError(t, m.RevokeRole(ctx, admin, admin.ID, user.RoleAdmin))

	reloaded, err := store.GetByID(ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, []user.Role{user.RoleUser}, reloaded.Roles)
}

func TestRevokeRoleIdempotentWhenRoleAbsent(t *testing.T) {
	ctx := context.Background()
	store := user.NewMemoryStore()
	m := NewManager(store, NewAuthorizer(DefaultPolicy()))

	admin := seedUser(t, store, "admin@example.com", []user.Role{user.RoleAdmin})
	target := seedUser(t, store, "bob@example.com", []user.Role{user.RoleUser})

	require.NoError(t, m.RevokeRole(ctx, admin, target.ID, user.RoleAdmin))

	reloaded, err := store.GetByID(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, []user.Role{user.RoleUser}, reloaded.Roles)
}
