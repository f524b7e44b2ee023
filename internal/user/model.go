package user

import (
	"time"

	"github.com/google/uuid"
)

// Role is an enumerated role tag. The set is closed; anything else is
// rejected at the authorization boundary.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ValidRole reports whether r belongs to the closed role set.
func ValidRole(r Role) bool {
	return r == RoleUser || r == RoleAdmin
}

type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"` // Never expose password hash in JSON
	Roles         []Role     `json:"roles"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasRole reports whether the user holds the given role.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
