package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// AuthTokens is the capability pair returned on login: a short-lived signed
// access token plus an opaque session token the server can revoke.
type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	SessionToken string `json:"session_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Session is a server-side login capability record.
type Session struct {
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired reports whether the session is past its expiry.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// hashToken returns the hex-encoded SHA-256 of an opaque token. Session
// tokens are stored and looked up only by this hash.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
