package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisSessionRepository stores login capabilities in Redis. Keys expire
// with the session, so stale sessions clean themselves up.
type RedisSessionRepository struct {
	client *redis.Client
}

func NewRedisSessionRepository(client *redis.Client) *RedisSessionRepository {
	return &RedisSessionRepository{client: client}
}

func sessionKey(tokenHash string) string {
	return fmt.Sprintf("session:%s", tokenHash)
}

func userSessionsKey(userID uuid.UUID) string {
	return fmt.Sprintf("user_sessions:%s", userID.String())
}

// StoreSession stores a session token hash with TTL and indexes it under
// the owning user so all of a user's sessions can be revoked at once.
func (r *RedisSessionRepository) StoreSession(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	tokenHash := hashToken(token)
	key := sessionKey(tokenHash)
	userKey := userSessionsKey(userID)

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session expiration time is in the past")
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":    userID.String(),
		"expires_at": expiresAt.Unix(),
		"created_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, key, ttl)
	pipe.SAdd(ctx, userKey, tokenHash)
	pipe.Expire(ctx, userKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session: %v: %w", err, ErrSessionsUnavailable)
	}

	return nil
}

// GetSession retrieves a session by its token.
func (r *RedisSessionRepository) GetSession(ctx context.Context, token string) (*Session, error) {
	tokenHash := hashToken(token)

	data, err := r.client.HGetAll(ctx, sessionKey(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %v: %w", err, ErrSessionsUnavailable)
	}
	if len(data) == 0 {
		return nil, ErrSessionNotFound
	}

	userID, err := uuid.Parse(data["user_id"])
	if err != nil {
		return nil, ErrSessionNotFound
	}

	var expiresAtUnix int64
	fmt.Sscanf(data["expires_at"], "%d", &expiresAtUnix)
	expiresAt := time.Unix(expiresAtUnix, 0)

	if time.Now().After(expiresAt) {
		return nil, ErrSessionExpired
	}

	var createdAtUnix int64
	fmt.Sscanf(data["created_at"], "%d", &createdAtUnix)

	return &Session{
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Unix(createdAtUnix, 0),
	}, nil
}

// RevokeSession deletes a session. Deleting a session that does not exist
// succeeds; logout is idempotent.
func (r *RedisSessionRepository) RevokeSession(ctx context.Context, token string) error {
	tokenHash := hashToken(token)

	pipe := r.client.Pipeline()
	pipe.Del(ctx, sessionKey(tokenHash))
	// The user index entry is left to expire with its TTL when the
	// owning user is unknown here.
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to revoke session: %v: %w", err, ErrSessionsUnavailable)
	}

	return nil
}

// RevokeAllUserSessions deletes every live session belonging to a user.
func (r *RedisSessionRepository) RevokeAllUserSessions(ctx context.Context, userID uuid.UUID) error {
	userKey := userSessionsKey(userID)

	tokenHashes, err := r.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get user sessions: %v: %w", err, ErrSessionsUnavailable)
	}
	if len(tokenHashes) == 0 {
		return nil
	}

	keys := make([]string, 0, len(tokenHashes)+1)
	for _, h := range tokenHashes {
		keys = append(keys, sessionKey(h))
	}
	keys = append(keys, userKey)

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to revoke user sessions: %v: %w", err, ErrSessionsUnavailable)
	}

	return nil
}
