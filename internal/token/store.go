package token

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists single-use tokens.
//
// ConsumeBySecretHash is the one operation with a concurrency contract: it
// must flip the consumed flag with a single atomic conditional update so
// that exactly one of any number of concurrent callers wins.
type Store interface {
	Create(ctx context.Context, t *Token) error
	FindBySecretHash(ctx context.Context, secretHash string, purpose Purpose) (*Token, error)
	ConsumeBySecretHash(ctx context.Context, secretHash string, purpose Purpose) error
	InvalidateAllForPurpose(ctx context.Context, userID uuid.UUID, purpose Purpose) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
