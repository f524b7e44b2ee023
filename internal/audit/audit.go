package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/credo-auth/credo/internal/logging"
)

// Event types recorded by the auth workflows.
const (
	EventRegistered    = "registered"
	EventLoggedIn      = "logged_in"
	EventEmailVerified = "email_verified"
	EventPasswordReset = "password_reset"
	EventRoleGranted   = "role_granted"
	EventRoleRevoked   = "role_revoked"
)

type Event struct {
	ID        int64
	UserID    *uuid.UUID
	EventType string
	Message   string
	CreatedAt time.Time
}

// Store persists audit events.
type Store interface {
	Insert(ctx context.Context, event *Event) error
}

// Recorder writes audit events best-effort: a failed insert is logged and
// never fails the workflow that produced it.
type Recorder struct {
	store  Store
	logger *logging.Logger
}

func NewRecorder(store Store, logger *logging.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record appends an audit event for the given user.
func (r *Recorder) Record(ctx context.Context, userID uuid.UUID, eventType, message string) {
	id := userID
	event := &Event{
		UserID:    &id,
		EventType: eventType,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := r.store.Insert(ctx, event); err != nil {
		r.logger.Warn("failed to record audit event",
			"event_type", eventType, "user_id", userID, "error", err)
	}
}

// MemoryStore keeps audit events in memory for tests.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = int64(len(s.events) + 1)
	s.events = append(s.events, *event)
	return nil
}

// Events returns a snapshot of recorded events.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
