package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/credo-auth/credo/internal/user"
)

// Manager performs administrative role mutation. Every mutation is gated
// on the acting user already holding admin; a non-admin cannot elevate
// anyone, including themselves.
type Manager struct {
	users user.Store
	authz *Authorizer
}

func NewManager(users user.Store, authorizer *Authorizer) *Manager {
	return &Manager{users: users, authz: authorizer}
}

// GrantRole adds role to the target user's role set.
func (m *Manager) GrantRole(ctx context.Context, actor *user.User, targetID uuid.UUID, role user.Role) error {
	if !user.ValidRole(role) {
		return ErrUnknownRole
	}
	if !m.authz.Authorize(actor, ActionManageUsers) {
		return ErrForbidden
	}

	target, err := m.users.GetByID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("failed to load target user: %w", err)
	}

	if target.HasRole(role) {
		return nil
	}

	roles := append(append([]user.Role(nil), target.Roles...), role)
	if err := m.users.UpdateRoles(ctx, targetID, roles); err != nil {
		return fmt.Errorf("failed to update roles: %w", err)
	}

	return nil
}

// RevokeRole removes role from the target user's role set. A user is never
// left role-less: stripping the last role resets the set to {user}.
func (m *Manager) RevokeRole(ctx context.Context, actor *user.User, targetID uuid.UUID, role user.Role) error {
	if !user.ValidRole(role) {
		return ErrUnknownRole
	}
	if !m.authz.Authorize(actor, ActionManageUsers) {
		return ErrForbidden
	}

	target, err := m.users.GetByID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("failed to load target user: %w", err)
	}

	if !target.HasRole(role) {
		return nil
	}

	roles := make([]user.Role, 0, len(target.Roles))
	for _, r := range target.Roles {
		if r != role {
			roles = append(roles, r)
		}
	}
	if len(roles) == 0 {
		roles = []user.Role{user.RoleUser}
	}

	if err := m.users.UpdateRoles(ctx, targetID, roles); err != nil {
		return fmt.Errorf("failed to update roles: %w", err)
	}

	return nil
}
