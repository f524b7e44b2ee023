package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/credo-auth/credo/internal/database"
)

// Repository is the Postgres-backed token store.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, t *Token) error {
	dbToken := &database.Token{
		ID:         t.ID,
		UserID:     t.UserID,
		Purpose:    string(t.Purpose),
		SecretHash: t.SecretHash,
		IssuedAt:   t.IssuedAt,
		ExpiresAt:  t.ExpiresAt,
		Consumed:   t.Consumed,
	}

	if _, err := r.db.NewInsert().Model(dbToken).Exec(ctx); err != nil {
		return wrapStoreErr("create token", err)
	}

	return nil
}

func (r *Repository) FindBySecretHash(ctx context.Context, secretHash string, purpose Purpose) (*Token, error) {
	dbToken := new(database.Token)
	err := r.db.NewSelect().
		Model(dbToken).
		Where("secret_hash = ?", secretHash).
		Where("purpose = ?", string(purpose)).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapStoreErr("find token", err)
	}

	return mapDBTokenToModel(dbToken), nil
}

// ConsumeBySecretHash flips the consumed flag with a single conditional
// update. The affected-row count decides the winner under concurrency;
// there is no read-then-write window.
func (r *Repository) ConsumeBySecretHash(ctx context.Context, secretHash string, purpose Purpose) error {
	result, err := r.db.NewUpdate().
		Model((*database.Token)(nil)).
		Set("consumed = ?", true).
		Where("secret_hash = ?", secretHash).
		Where("purpose = ?", string(purpose)).
		Where("consumed = ?", false).
		Exec(ctx)

	if err != nil {
		return wrapStoreErr("consume token", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return wrapStoreErr("check rows affected", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// Nothing flipped: either the token never existed or a racer got
	// there first. Distinguish for the caller.
	exists, err := r.db.NewSelect().
		Model((*database.Token)(nil)).
		Where("secret_hash = ?", secretHash).
		Where("purpose = ?", string(purpose)).
		Exists(ctx)
	if err != nil {
		return wrapStoreErr("check token existence", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConsumed
}

func (r *Repository) InvalidateAllForPurpose(ctx context.Context, userID uuid.UUID, purpose Purpose) error {
	_, err := r.db.NewUpdate().
		Model((*database.Token)(nil)).
		Set("consumed = ?", true).
		Where("user_id = ?", userID).
		Where("purpose = ?", string(purpose)).
		Where("consumed = ?", false).
		Exec(ctx)

	if err != nil {
		return wrapStoreErr("invalidate tokens", err)
	}

	return nil
}

func (r *Repository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*database.Token)(nil)).
		Where("expires_at < ?", before).
		Exec(ctx)

	if err != nil {
		return 0, wrapStoreErr("delete expired tokens", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, wrapStoreErr("check rows affected", err)
	}

	return rowsAffected, nil
}

func wrapStoreErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
}

func mapDBTokenToModel(dbt *database.Token) *Token {
	return &Token{
		ID:         dbt.ID,
		UserID:     dbt.UserID,
		Purpose:    Purpose(dbt.Purpose),
		SecretHash: dbt.SecretHash,
		IssuedAt:   dbt.IssuedAt,
		ExpiresAt:  dbt.ExpiresAt,
		Consumed:   dbt.Consumed,
	}
}
