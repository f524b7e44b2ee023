package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewService(NewMemoryStore())
}

func TestIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	userID := uuid.New()

	secret, err := svc.Issue(ctx, userID, PurposePasswordReset, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, secret)

	gotID, err := svc.Validate(ctx, secret, PurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, userID, gotID)

	// Validate does not consume; a second validate still succeeds.
	gotID, err = svc.Validate(ctx, secret, PurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, userID, gotID)
}

func TestValidateUnknownSecret(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Validate(ctx, "no-such-secret", PurposePasswordReset)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateWrongPurpose(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	secret, err := svc.Issue(ctx, uuid.New(), PurposeEmailVerification, time.Hour)
	require.NoError(t, err)

	// A verification secret must not work as a reset secret.
	_, err = svc.Validate(ctx, secret, PurposePasswordReset)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIssueInvalidatesPriorTokens(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	userID := uuid.New()

	first, err := svc.Issue(ctx, userID, PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	second, err := svc.Issue(ctx, userID, PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	// The older token is dead even though it has not expired.
	_, err = svc.Validate(ctx, first, PurposePasswordReset)
	assert.ErrorIs(t, err, ErrConsumed)

	_, err = svc.Validate(ctx, second, PurposePasswordReset)
	assert.NoError(t, err)
}

func TestIssueDifferentPurposeLeavesTokensAlone(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	userID := uuid.New()

	verification, err := svc.Issue(ctx, userID, PurposeEmailVerification, time.Hour)
	require.NoError(t, err)

	_, err = svc.Issue(ctx, userID, PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	_, err = svc.Validate(ctx, verification, PurposeEmailVerification)
	assert.NoError(t, err)
}

func TestValidateExpired(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	secret, err := svc.Issue(ctx, uuid.New(), PurposeEmailVerification, -time.Minute)
	require.NoError(t, err)

	_, err = svc.Validate(ctx, secret, PurposeEmailVerification)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestValidateExpiredTrumpsConsumed(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	secret, err := svc.Issue(ctx, uuid.New(), PurposeEmailVerification, -time.Minute)
	require.NoError(t, err)
	require.NoError(t, svc.Consume(ctx, secret, PurposeEmailVerification))

	// Expired wins regardless of consumed state.
	_, err = svc.Validate(ctx, secret, PurposeEmailVerification)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	secret, err := svc.Issue(ctx, uuid.New(), PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	require.NoError(t, svc.Consume(ctx, secret, PurposePasswordReset))
	assert.ErrorIs(t, svc.Consume(ctx, secret, PurposePasswordReset), ErrConsumed)

	_, err = svc.Validate(ctx, secret, PurposePasswordReset)
	assert.ErrorIs(t, err, ErrConsumed)
}

func TestConsumeUnknownSecret(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	assert.ErrorIs(t, svc.Consume(ctx, "no-such-secret", PurposePasswordReset), ErrNotFound)
}

func TestConcurrentConsumeExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	secret, err := svc.Issue(ctx, uuid.New(), PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	const racers = 50
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Consume(ctx, secret, PurposePasswordReset)
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		default:
			assert.ErrorIs(t, err, ErrConsumed)
			losses++
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, losses)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store)
	userID := uuid.New()

	expired, err := svc.Issue(ctx, userID, PurposeEmailVerification, -time.Minute)
	require.NoError(t, err)
	live, err := svc.Issue(ctx, userID, PurposePasswordReset, time.Hour)
	require.NoError(t, err)

	deleted, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = svc.Validate(ctx, expired, PurposeEmailVerification)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Validate(ctx, live, PurposePasswordReset)
	assert.NoError(t, err)
}
