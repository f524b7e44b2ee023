package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Fixed window per IP and purpose.
	ipWindow      = 15 * time.Minute
	ipMaxRequests = 10

	// Minimum gap between outbound emails to the same address.
	emailCooldown = 60 * time.Second
)

// Limiter is a Redis-backed fixed-window rate limiter for abuse-prone
// endpoints: per-IP request counting and per-email send cooldowns.
type Limiter struct {
	client *redis.Client
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

func ipKey(ip, purpose string) string {
	return fmt.Sprintf("ratelimit:ip:%s:%s", purpose, ip)
}

func emailKey(email string) string {
	return fmt.Sprintf("ratelimit:email:%s", email)
}

// CheckIPRateLimit reports whether the IP has exhausted its window for the
// given purpose.
func (l *Limiter) CheckIPRateLimit(ctx context.Context, ip, purpose string) (bool, error) {
	count, err := l.client.Get(ctx, ipKey(ip, purpose)).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check ip rate limit: %w", err)
	}

	return count >= ipMaxRequests, nil
}

// RecordIPRequest counts a request against the IP's window. The window TTL
// starts on the first request and is not extended by later ones.
func (l *Limiter) RecordIPRequest(ctx context.Context, ip, purpose string) error {
	key := ipKey(ip, purpose)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("record ip request: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, ipWindow).Err(); err != nil {
			return fmt.Errorf("set ip window expiry: %w", err)
		}
	}

	return nil
}

// CheckEmailCooldown reports whether an email was sent to the address too
// recently.
func (l *Limiter) CheckEmailCooldown(ctx context.Context, email string) (bool, error) {
	exists, err := l.client.Exists(ctx, emailKey(email)).Result()
	if err != nil {
		return false, fmt.Errorf("check email cooldown: %w", err)
	}

	return exists > 0, nil
}

// SetEmailCooldown starts the cooldown for the address.
func (l *Limiter) SetEmailCooldown(ctx context.Context, email string) error {
	if err := l.client.Set(ctx, emailKey(email), 1, emailCooldown).Err(); err != nil {
		return fmt.Errorf("set email cooldown: %w", err)
	}

	return nil
}
