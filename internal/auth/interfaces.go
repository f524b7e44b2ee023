package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EmailService is the notification sink. Failures are reported back but
// never block a workflow's success.
type EmailService interface {
	SendVerificationEmail(ctx context.Context, toEmail, token string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, token string) error
}

// SessionRepository stores login capabilities. Revoke is idempotent:
// revoking an unknown or already-revoked session is a no-op success.
type SessionRepository interface {
	StoreSession(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	GetSession(ctx context.Context, token string) (*Session, error)
	RevokeSession(ctx context.Context, token string) error
	RevokeAllUserSessions(ctx context.Context, userID uuid.UUID) error
}

// CapabilityIssuer signs and verifies access tokens.
// The production implementation is PasetoService (PASETO v4.local).
type CapabilityIssuer interface {
	CreateToken(userID uuid.UUID, email string, duration time.Duration) (string, error)
	VerifyToken(tokenStr string) (*TokenClaims, error)
}
