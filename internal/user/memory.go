package user

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory credential store. It backs tests and mirrors
// the Postgres repository's contract, including email uniqueness.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*User
	byEmail map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[uuid.UUID]*User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Create(ctx context.Context, email, passwordHash string, roles []Role) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return nil, ErrDuplicateEmail
	}

	now := time.Now()
	u := &User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Roles:        append([]Role(nil), roles...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.byID[u.ID] = u
	s.byEmail[email] = u.ID
	return copyUser(u), nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(s.byID[id]), nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return s.update(id, func(u *User) {
		u.PasswordHash = passwordHash
	})
}

func (s *MemoryStore) SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	return s.update(id, func(u *User) {
		u.EmailVerified = verified
	})
}

func (s *MemoryStore) UpdateRoles(ctx context.Context, id uuid.UUID, roles []Role) error {
	return s.update(id, func(u *User) {
		u.Roles = append([]Role(nil), roles...)
	})
}

func (s *MemoryStore) SetLastLogin(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return s.update(id, func(u *User) {
		u.LastLoginAt = &now
	})
}

func (s *MemoryStore) update(id uuid.UUID, apply func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	apply(u)
	u.UpdatedAt = time.Now()
	return nil
}

func copyUser(u *User) *User {
	c := *u
	c.Roles = append([]Role(nil), u.Roles...)
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}
