package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the users table row.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID            uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Email         string     `bun:"email,notnull,unique"`
	PasswordHash  string     `bun:"password_hash,notnull"`
	Roles         []string   `bun:"roles,array,notnull"`
	EmailVerified bool       `bun:"email_verified,notnull,default:false"`
	LastLoginAt   *time.Time `bun:"last_login_at"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// Token is the tokens table row. Only a hash of the secret is stored;
// the plaintext leaves the process exactly once, in the email link.
type Token struct {
	bun.BaseModel `bun:"table:tokens,alias:t"`

	ID         uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	UserID     uuid.UUID `bun:"user_id,type:uuid,notnull"`
	Purpose    string    `bun:"purpose,notnull"`
	SecretHash string    `bun:"secret_hash,notnull,unique"`
	IssuedAt   time.Time `bun:"issued_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt  time.Time `bun:"expires_at,notnull"`
	Consumed   bool      `bun:"consumed,notnull,default:false"`
}

// AuditEvent is the audit_events table row.
type AuditEvent struct {
	bun.BaseModel `bun:"table:audit_events,alias:ae"`

	ID        int64      `bun:"id,pk,autoincrement"`
	UserID    *uuid.UUID `bun:"user_id,type:uuid"`
	EventType string     `bun:"event_type,notnull"`
	Message   string     `bun:"message"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
