package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credo-auth/credo/internal/audit"
	"github.com/credo-auth/credo/internal/logging"
	"github.com/credo-auth/credo/internal/password"
	"github.com/credo-auth/credo/internal/token"
	"github.com/credo-auth/credo/internal/user"
)

type sentMail struct {
	to     string
	secret string
}

// fakeEmailService records outbound mail. Sends happen on a background
// goroutine, so access is guarded and tests wait with Eventually.
type fakeEmailService struct {
	mu            sync.Mutex
	verifications []sentMail
	resets        []sentMail
}

func (f *fakeEmailService) SendVerificationEmail(ctx context.Context, toEmail, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifications = append(f.verifications, sentMail{to: toEmail, secret: secret})
	return nil
}

func (f *fakeEmailService) SendPasswordResetEmail(ctx context.Context, toEmail, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, sentMail{to: toEmail, secret: secret})
	return nil
}

func (f *fakeEmailService) verificationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.verifications)
}

func (f *fakeEmailService) lastVerification() (sentMail, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.verifications) == 0 {
		return sentMail{}, false
	}
	return f.verifications[len(f.verifications)-1], true
}

func (f *fakeEmailService) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resets)
}

func (f *fakeEmailService) lastReset() (sentMail, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.resets) == 0 {
		return sentMail{}, false
	}
	return f.resets[len(f.resets)-1], true
}

// fakeSessionRepository mirrors the Redis repository's contract in memory.
type fakeSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newFakeSessionRepository() *fakeSessionRepository {
	return &fakeSessionRepository{sessions: make(map[string]*Session)}
}

func (f *fakeSessionRepository) StoreSession(ctx context.Context, userID uuid.UUID, tok string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tok] = &Session{
		UserID:    userID,
		TokenHash: hashToken(tok),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return nil
}

func (f *fakeSessionRepository) GetSession(ctx context.Context, tok string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[tok]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.IsExpired() {
		return nil, ErrSessionExpired
	}
	c := *s
	return &c, nil
}

func (f *fakeSessionRepository) RevokeSession(ctx context.Context, tok string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tok)
	return nil
}

func (f *fakeSessionRepository) RevokeAllUserSessions(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for tok, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, tok)
		}
	}
	return nil
}

func (f *fakeSessionRepository) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

type testHarness struct {
	service  *Service
	users    *user.MemoryStore
	sessions *fakeSessionRepository
	emails   *fakeEmailService
	auditLog *audit.MemoryStore
}

func newTestHarness(t *testing.T, mutate func(*ServiceConfig)) *testHarness {
	t.Helper()

	cfg := ServiceConfig{
		AccessTokenDuration:  15 * time.Minute,
		SessionDuration:      time.Hour,
		VerificationTokenTTL: 24 * time.Hour,
		ResetTokenTTL:        time.Hour,
		EmailSendTimeout:     time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	users := user.NewMemoryStore()
	sessions := newFakeSessionRepository()
	emails := &fakeEmailService{}
	auditLog := audit.NewMemoryStore()
	logger := logging.NewLogger(true)

	issuer, err := NewPasetoService([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	// Minimal work factor; these tests exercise flows, not hash strength.
	hasher := password.NewHasher(password.Params{Time: 1, Memory: 8 * 1024, Threads: 1})

	svc, err := NewService(
		users,
		token.NewService(token.NewMemoryStore()),
		sessions,
		hasher,
		issuer,
		emails,
		audit.NewRecorder(auditLog, logger),
		logger,
		cfg,
	)
	require.NoError(t, err)

	return &testHarness{
		service:  svc,
		users:    users,
		sessions: sessions,
		emails:   emails,
		auditLog: auditLog,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, msg)
}

func TestRegisterAndVerifyEmailFlow(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	u, err := h.service.Register(ctx, "Alice@Example.COM", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, []user.Role{user.RoleUser}, u.Roles)
	assert.False(t, u.EmailVerified)

	waitFor(t, func() bool { return h.emails.verificationCount() == 1 }, "verification email never sent")
	mail, ok := h.emails.lastVerification()
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", mail.to)

	// Unverified users can still log in.
	tokens, err := h.service.Login(ctx, "alice@example.com", "correct horse battery")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.SessionToken)
	assert.Equal(t, "Bearer", tokens.TokenType)

	require.NoError(t, h.service.VerifyEmail(ctx, mail.secret))

	verified, err := h.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, verified.EmailVerified)

	// Verification links are single-use.
	err = h.service.VerifyEmail(ctx, mail.secret)
	assert.ErrorIs(t, err, token.ErrConsumed)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	_, err := h.service.Register(ctx, "bob@example.com", "password123")
	require.NoError(t, err)

	_, err = h.service.Register(ctx, "bob@example.com", "otherpassword")
	assert.ErrorIs(t, err, user.ErrDuplicateEmail)
}

func TestRegisterValidation(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	_, err := h.service.Register(ctx, "", "password123")
	assert.ErrorIs(t, err, ErrEmailRequired)

	_, err = h.service.Register(ctx, "not-an-email", "password123")
	assert.ErrorIs(t, err, ErrInvalidEmailFormat)

	_, err = h.service.Register(ctx, "carol@example.com", "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = h.service.Register(ctx, "carol@example.com", "short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestLoginRejectsUniformly(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	_, err := h.service.Register(ctx, "dave@example.com", "password123")
	require.NoError(t, err)

	// Wrong password and unknown email produce the same error.
	_, err = h.service.Login(ctx, "dave@example.com", "wrongpassword")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.service.Login(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.service.Login(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginStampsLastLogin(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	u, err := h.service.Register(ctx, "erin@example.com", "password123")
	require.NoError(t, err)
	require.Nil(t, u.LastLoginAt)

	_, err = h.service.Login(ctx, "erin@example.com", "password123")
	require.NoError(t, err)

	stamped, err := h.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.NotNil(t, stamped.LastLoginAt)
}

func TestLogoutIsIdempotent(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	_, err := h.service.Register(ctx, "frank@example.com", "password123")
	require.NoError(t, err)
	tokens, err := h.service.Login(ctx, "frank@example.com", "password123")
	require.NoError(t, err)

	require.NoError(t, h.service.Logout(ctx, tokens.SessionToken))
	require.NoError(t, h.service.Logout(ctx, tokens.SessionToken))
	require.NoError(t, h.service.Logout(ctx, "never-issued"))
	require.NoError(t, h.service.Logout(ctx, ""))
}

func TestRefreshRotatesSession(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	_, err := h.service.Register(ctx, "grace@example.com", "password123")
	require.NoError(t, err)
	first, err := h.service.Login(ctx, "grace@example.com", "password123")
	require.NoError(t, err)

	second, err := h.service.Refresh(ctx, first.SessionToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionToken, second.SessionToken)

	// The old session token is revoked by the rotation.
	_, err = h.service.Refresh(ctx, first.SessionToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = h.service.Refresh(ctx, second.SessionToken)
	require.NoError(t, err)
}

func TestPasswordResetFlow(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	u, err := h.service.Register(ctx, "heidi@example.com", "oldpassword")
	require.NoError(t, err)

	// Two live sessions that the reset must kill.
	_, err = h.service.Login(ctx, "heidi@example.com", "oldpassword")
	require.NoError(t, err)
	_, err = h.service.Login(ctx, "heidi@example.com", "oldpassword")
	require.NoError(t, err)
	require.Equal(t, 2, h.sessions.count())

	require.NoError(t, h.service.RequestPasswordReset(ctx, "heidi@example.com"))
	waitFor(t, func() bool { return h.emails.resetCount() == 1 }, "reset email never sent")
	mail, ok := h.emails.lastReset()
	require.True(t, ok)

	require.NoError(t, h.service.ResetPassword(ctx, mail.secret, "newpassword"))

	// All prior capabilities are revoked.
	assert.Equal(t, 0, h.sessions.count())

	_, err = h.service.Login(ctx, "heidi@example.com", "oldpassword")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.service.Login(ctx, "heidi@example.com", "newpassword")
	require.NoError(t, err)

	// The reset token is spent.
	err = h.service.ResetPassword(ctx, mail.secret, "anotherpassword")
	assert.ErrorIs(t, err, token.ErrConsumed)

	_, err = h.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	// Unknown emails report success and send nothing.
	require.NoError(t, h.service.RequestPasswordReset(ctx, "ghost@example.com"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, h.emails.resetCount())
}

func TestResetPasswordValidatesNewPassword(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	_, err := h.service.Register(ctx, "ivan@example.com", "password123")
	require.NoError(t, err)
	require.NoError(t, h.service.RequestPasswordReset(ctx, "ivan@example.com"))
	waitFor(t, func() bool { return h.emails.resetCount() == 1 }, "reset email never sent")
	mail, _ := h.emails.lastReset()

	// A rejected password does not spend the token.
	err = h.service.ResetPassword(ctx, mail.secret, "short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	require.NoError(t, h.service.ResetPassword(ctx, mail.secret, "longenoughnow"))
}

func TestVerifyEmailExpiredToken(t *testing.T) {
	h := newTestHarness(t, func(cfg *ServiceConfig) {
		cfg.VerificationTokenTTL = -time.Minute
	})
	ctx := context.Background()

	_, err := h.service.Register(ctx, "judy@example.com", "password123")
	require.NoError(t, err)
	waitFor(t, func() bool { return h.emails.verificationCount() == 1 }, "verification email never sent")
	mail, _ := h.emails.lastVerification()

	err = h.service.VerifyEmail(ctx, mail.secret)
	assert.ErrorIs(t, err, token.ErrExpired)
}

func TestResendVerificationRotatesToken(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	_, err := h.service.Register(ctx, "kate@example.com", "password123")
	require.NoError(t, err)
	waitFor(t, func() bool { return h.emails.verificationCount() == 1 }, "verification email never sent")
	first, _ := h.emails.lastVerification()

	require.NoError(t, h.service.ResendVerificationEmail(ctx, "kate@example.com"))
	waitFor(t, func() bool { return h.emails.verificationCount() == 2 }, "resent email never sent")
	second, _ := h.emails.lastVerification()
	require.NotEqual(t, first.secret, second.secret)

	// Only the newest link works.
	err = h.service.VerifyEmail(ctx, first.secret)
	assert.ErrorIs(t, err, token.ErrConsumed)
	require.NoError(t, h.service.VerifyEmail(ctx, second.secret))

	// Verified accounts are silently skipped on further resends.
	require.NoError(t, h.service.ResendVerificationEmail(ctx, "kate@example.com"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, h.emails.verificationCount())
}

func TestVerifyEmailUnknownToken(t *testing.T) {
	h := newTestHarness(t, nil)

	err := h.service.VerifyEmail(context.Background(), "no-such-secret")
	assert.ErrorIs(t, err, token.ErrNotFound)
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	u, err := h.service.Register(ctx, "leo@example.com", "password123")
	require.NoError(t, err)
	_, err = h.service.Login(ctx, "leo@example.com", "password123")
	require.NoError(t, err)

	events := h.auditLog.Events()
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventRegistered, events[0].EventType)
	assert.Equal(t, audit.EventLoggedIn, events[1].EventType)
	require.NotNil(t, events[0].UserID)
	assert.Equal(t, u.ID, *events[0].UserID)
}
