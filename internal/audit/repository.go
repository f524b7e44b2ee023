package audit

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/credo-auth/credo/internal/database"
)

// Repository is the Postgres-backed audit store.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, event *Event) error {
	dbEvent := &database.AuditEvent{
		UserID:    event.UserID,
		EventType: event.EventType,
		Message:   event.Message,
		CreatedAt: event.CreatedAt,
	}

	if _, err := r.db.NewInsert().Model(dbEvent).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	event.ID = dbEvent.ID
	return nil
}
