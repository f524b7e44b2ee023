package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("token not found")
	ErrExpired     = errors.New("token has expired")
	ErrConsumed    = errors.New("token already consumed")
	ErrUnavailable = errors.New("token store unavailable")
)

// Purpose scopes a token to one sensitive action. A reset token can never
// be replayed as a verification token or vice versa.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

// Token is a single-use, time-bounded grant. SecretHash is all the store
// ever sees; the plaintext secret is returned to the caller exactly once,
// at issue time.
type Token struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Purpose    Purpose
	SecretHash string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Consumed   bool
}

// HashSecret returns the hex-encoded SHA-256 of a plaintext secret.
// Tokens are looked up by this hash so a store compromise leaks nothing
// usable.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
