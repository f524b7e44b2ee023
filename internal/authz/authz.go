package authz

import (
	"errors"

	"github.com/credo-auth/credo/internal/user"
)

var (
	ErrForbidden   = errors.New("forbidden")
	ErrUnknownRole = errors.New("unknown role")
)

// Action names something a caller may or may not be allowed to do.
type Action string

const (
	ActionManageUsers   Action = "manage_users"
	ActionViewAuditLog  Action = "view_audit_log"
	ActionUpdateProfile Action = "update_profile"
	// ActionCreateAPIToken additionally requires a verified email address.
	ActionCreateAPIToken Action = "create_api_token"
)

// rule is one row of the policy table.
type rule struct {
	roles           []user.Role
	requireVerified bool
}

// Policy maps actions to the roles allowed to perform them. It is static
// configuration passed in at construction; there is no ambient state.
type Policy map[Action]rule

// DefaultPolicy returns the built-in action table.
func DefaultPolicy() Policy {
	return Policy{
		ActionManageUsers:    {roles: []user.Role{user.RoleAdmin}},
		ActionViewAuditLog:   {roles: []user.Role{user.RoleAdmin}},
		ActionUpdateProfile:  {roles: []user.Role{user.RoleUser, user.RoleAdmin}},
		ActionCreateAPIToken: {roles: []user.Role{user.RoleUser, user.RoleAdmin}, requireVerified: true},
	}
}

// Authorizer answers authorize(user, action) questions. Pure lookup over
// the policy table and the user's current role set, re-evaluated per call
// so role changes take effect immediately.
type Authorizer struct {
	policy Policy
}

func NewAuthorizer(policy Policy) *Authorizer {
	return &Authorizer{policy: policy}
}

// Authorize reports whether u may perform action. Unknown actions are
// denied.
func (a *Authorizer) Authorize(u *user.User, action Action) bool {
	r, ok := a.policy[action]
	if !ok {
		return false
	}
	if r.requireVerified && !u.EmailVerified {
		return false
	}
	for _, role := range r.roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}
