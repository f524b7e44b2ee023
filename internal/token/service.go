package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const secretLen = 32 // 256 bits of entropy

// Service issues, validates, and consumes single-use purpose-scoped tokens.
// A token moves issued -> consumed or issued -> expired; both states are
// terminal.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Issue creates a token for (userID, purpose) and returns the plaintext
// secret. Any prior unconsumed tokens of the same purpose for the same user
// are invalidated first, so only the newest link in a user's inbox works.
func (s *Service) Issue(ctx context.Context, userID uuid.UUID, purpose Purpose, ttl time.Duration) (string, error) {
	secret, err := generateSecret()
	if err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}

	if err := s.store.InvalidateAllForPurpose(ctx, userID, purpose); err != nil {
		return "", fmt.Errorf("failed to invalidate prior tokens: %w", err)
	}

	now := time.Now()
	t := &Token{
		ID:         uuid.New(),
		UserID:     userID,
		Purpose:    purpose,
		SecretHash: HashSecret(secret),
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}

	if err := s.store.Create(ctx, t); err != nil {
		return "", fmt.Errorf("failed to persist token: %w", err)
	}

	return secret, nil
}

// Validate checks a secret against the store and returns the owning user ID.
// It does not consume; consumption is a separate explicit step so callers
// can validate, act, then consume. Expiry is checked before the consumed
// flag, so an expired token always reports expired.
func (s *Service) Validate(ctx context.Context, secret string, purpose Purpose) (uuid.UUID, error) {
	t, err := s.store.FindBySecretHash(ctx, HashSecret(secret), purpose)
	if err != nil {
		return uuid.Nil, err
	}

	if time.Now().After(t.ExpiresAt) {
		return uuid.Nil, ErrExpired
	}
	if t.Consumed {
		return uuid.Nil, ErrConsumed
	}

	return t.UserID, nil
}

// Consume marks the token used. The first caller wins; concurrent racers
// get ErrConsumed. The store performs this as one conditional update.
func (s *Service) Consume(ctx context.Context, secret string, purpose Purpose) error {
	return s.store.ConsumeBySecretHash(ctx, HashSecret(secret), purpose)
}

// SweepExpired physically purges tokens past their expiry. Correctness
// never depends on this running; Validate excludes expired rows anyway.
// Safe to run concurrently with all other operations.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, time.Now())
}

func generateSecret() (string, error) {
	b := make([]byte, secretLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
