package token

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory token store with the same conditional-consume
// semantics as the Postgres repository. The mutex makes the check-and-set
// atomic, so the consume race behaves identically under test.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]*Token // keyed by purpose + secret hash
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]*Token)}
}

func key(secretHash string, purpose Purpose) string {
	return string(purpose) + ":" + secretHash
}

func (s *MemoryStore) Create(ctx context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *t
	s.tokens[key(t.SecretHash, t.Purpose)] = &c
	return nil
}

func (s *MemoryStore) FindBySecretHash(ctx context.Context, secretHash string, purpose Purpose) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[key(secretHash, purpose)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *MemoryStore) ConsumeBySecretHash(ctx context.Context, secretHash string, purpose Purpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[key(secretHash, purpose)]
	if !ok {
		return ErrNotFound
	}
	if t.Consumed {
		return ErrConsumed
	}
	t.Consumed = true
	return nil
}

func (s *MemoryStore) InvalidateAllForPurpose(ctx context.Context, userID uuid.UUID, purpose Purpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if t.UserID == userID && t.Purpose == purpose && !t.Consumed {
			t.Consumed = true
		}
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for k, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, k)
			deleted++
		}
	}
	return deleted, nil
}
