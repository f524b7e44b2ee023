package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/credo-auth/credo/internal/audit"
	"github.com/credo-auth/credo/internal/logging"
	"github.com/credo-auth/credo/internal/password"
	"github.com/credo-auth/credo/internal/token"
	"github.com/credo-auth/credo/internal/user"
)

// ServiceConfig is the orchestrator's policy knobs.
type ServiceConfig struct {
	AccessTokenDuration  time.Duration
	SessionDuration      time.Duration
	VerificationTokenTTL time.Duration
	ResetTokenTTL        time.Duration
	EmailSendTimeout     time.Duration
}

// Service composes the credential store, hasher, token service, session
// store, and notification sink into the auth workflows. It is the only
// component with multi-step logic.
type Service struct {
	users    user.Store
	tokens   *token.Service
	sessions SessionRepository
	hasher   *password.Hasher
	issuer   CapabilityIssuer
	email    EmailService
	audit    *audit.Recorder
	logger   *logging.Logger
	cfg      ServiceConfig

	// dummyDigest is verified against when login hits an unknown email,
	// so the unknown-email and wrong-password paths cost the same.
	dummyDigest string
}

func NewService(
	users user.Store,
	tokens *token.Service,
	sessions SessionRepository,
	hasher *password.Hasher,
	issuer CapabilityIssuer,
	emailService EmailService,
	auditor *audit.Recorder,
	logger *logging.Logger,
	cfg ServiceConfig,
) (*Service, error) {
	dummyDigest, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy digest: %w", err)
	}

	return &Service{
		users:       users,
		tokens:      tokens,
		sessions:    sessions,
		hasher:      hasher,
		issuer:      issuer,
		email:       emailService,
		audit:       auditor,
		logger:      logger,
		cfg:         cfg,
		dummyDigest: dummyDigest,
	}, nil
}

// Register creates an unverified user account with the default role and
// dispatches a verification email. The email send is fire-and-forget: the
// user record and token persist even if it fails, and the user can request
// a resend.
func (s *Service) Register(ctx context.Context, email, plaintext string) (*user.User, error) {
	email, err := validateEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(plaintext); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	newUser, err := s.users.Create(ctx, email, passwordHash, []user.Role{user.RoleUser})
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, user.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	secret, err := s.tokens.Issue(ctx, newUser.ID, token.PurposeEmailVerification, s.cfg.VerificationTokenTTL)
	if err != nil {
		// The account exists and a resend is always possible, so the
		// registration itself still succeeds.
		s.logger.Warn("failed to issue verification token", "user_id", newUser.ID, "error", err)
	} else {
		s.dispatchEmail(email, "verification email", func(ctx context.Context) error {
			return s.email.SendVerificationEmail(ctx, email, secret)
		})
	}

	s.audit.Record(ctx, newUser.ID, audit.EventRegistered, "account created")

	return newUser, nil
}

// Login verifies credentials and issues a capability pair. Unknown email
// and wrong password are deliberately indistinguishable. Login does not
// require a verified email; verified-only actions are gated by the access
// policy instead.
func (s *Service) Login(ctx context.Context, email, plaintext string) (*AuthTokens, error) {
	if email == "" || plaintext == "" {
		return nil, ErrInvalidCredentials
	}

	existing, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// Burn the same hashing work as the found path.
			_, _ = s.hasher.Verify(plaintext, s.dummyDigest)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	ok, err := s.hasher.Verify(plaintext, existing.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	tokens, err := s.issueCapability(ctx, existing.ID, existing.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue capability: %w", err)
	}

	if err := s.users.SetLastLogin(ctx, existing.ID); err != nil {
		s.logger.Warn("failed to stamp last login", "user_id", existing.ID, "error", err)
	}
	s.audit.Record(ctx, existing.ID, audit.EventLoggedIn, "login succeeded")

	return tokens, nil
}

// Logout revokes a login capability. Revoking an unknown or already-revoked
// capability is a no-op success.
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return nil
	}
	return s.sessions.RevokeSession(ctx, sessionToken)
}

// Refresh rotates a capability pair: the presented session token is revoked
// and a fresh pair is issued, so a leaked session token is single-use.
func (s *Service) Refresh(ctx context.Context, sessionToken string) (*AuthTokens, error) {
	session, err := s.sessions.GetSession(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	if session.IsExpired() {
		return nil, ErrSessionExpired
	}

	if err := s.sessions.RevokeSession(ctx, sessionToken); err != nil {
		return nil, fmt.Errorf("failed to revoke old session: %w", err)
	}

	existing, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return s.issueCapability(ctx, existing.ID, existing.Email)
}

// VerifyEmail validates and consumes an email verification token, then
// marks the owning account verified. Token service errors surface
// unchanged, so a reused or expired link reports exactly why it failed.
func (s *Service) VerifyEmail(ctx context.Context, secret string) error {
	userID, err := s.tokens.Validate(ctx, secret, token.PurposeEmailVerification)
	if err != nil {
		return err
	}

	if err := s.tokens.Consume(ctx, secret, token.PurposeEmailVerification); err != nil {
		return err
	}

	if err := s.users.SetEmailVerified(ctx, userID, true); err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}

	s.audit.Record(ctx, userID, audit.EventEmailVerified, "email verified")

	return nil
}

// RequestPasswordReset issues and mails a reset token when the email is
// registered. It always reports success so callers cannot probe which
// emails exist.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	existing, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			s.logger.Warn("failed to get user for password reset", "error", err)
		}
		return nil
	}

	secret, err := s.tokens.Issue(ctx, existing.ID, token.PurposePasswordReset, s.cfg.ResetTokenTTL)
	if err != nil {
		s.logger.Warn("failed to issue password reset token", "user_id", existing.ID, "error", err)
		return nil
	}

	s.dispatchEmail(existing.Email, "password reset email", func(ctx context.Context) error {
		return s.email.SendPasswordResetEmail(ctx, existing.Email, secret)
	})

	return nil
}

// ResetPassword validates a reset token, commits the new password, then
// consumes the token. The ordering matters: a crash between the commit and
// the consume leaves the token reusable rather than the password
// unresettable. All of the user's login capabilities are revoked so every
// existing session must re-authenticate.
func (s *Service) ResetPassword(ctx context.Context, secret, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	userID, err := s.tokens.Validate(ctx, secret, token.PurposePasswordReset)
	if err != nil {
		return err
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.UpdatePasswordHash(ctx, userID, passwordHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if err := s.tokens.Consume(ctx, secret, token.PurposePasswordReset); err != nil {
		// A concurrent reset with the same token got here first.
		return err
	}

	if err := s.sessions.RevokeAllUserSessions(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke sessions after password reset", "user_id", userID, "error", err)
	}

	s.audit.Record(ctx, userID, audit.EventPasswordReset, "password reset")

	return nil
}

// ResendVerificationEmail rotates the verification token and mails it
// again. Always reports success; already-verified and unknown accounts are
// silently skipped.
func (s *Service) ResendVerificationEmail(ctx context.Context, email string) error {
	existing, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			s.logger.Warn("failed to get user for resend verification", "error", err)
		}
		return nil
	}

	if existing.EmailVerified {
		return nil
	}

	secret, err := s.tokens.Issue(ctx, existing.ID, token.PurposeEmailVerification, s.cfg.VerificationTokenTTL)
	if err != nil {
		s.logger.Warn("failed to reissue verification token", "user_id", existing.ID, "error", err)
		return nil
	}

	s.dispatchEmail(existing.Email, "verification email", func(ctx context.Context) error {
		return s.email.SendVerificationEmail(ctx, existing.Email, secret)
	})

	return nil
}

// issueCapability creates an access token and a revocable session token.
func (s *Service) issueCapability(ctx context.Context, userID uuid.UUID, email string) (*AuthTokens, error) {
	accessToken, err := s.issuer.CreateToken(userID, email, s.cfg.AccessTokenDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	sessionToken, err := generateRandomToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	expiresAt := time.Now().Add(s.cfg.SessionDuration)
	if err := s.sessions.StoreSession(ctx, userID, sessionToken, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	return &AuthTokens{
		AccessToken:  accessToken,
		SessionToken: sessionToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenDuration.Seconds()),
	}, nil
}

// dispatchEmail sends in the background with its own bounded deadline so a
// slow sink can neither stall nor fail the request that triggered it.
func (s *Service) dispatchEmail(email, what string, send func(ctx context.Context) error) {
	timeout := s.cfg.EmailSendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := send(ctx); err != nil {
			s.logger.Warn("failed to send "+what, "email", email, "error", err)
		}
	}()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	if len(email) > 254 {
		return "", ErrInvalidEmailFormat
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", ErrInvalidEmailFormat
	}
	return email, nil
}

func validatePassword(plaintext string) error {
	if plaintext == "" {
		return ErrPasswordRequired
	}
	if len(plaintext) < 8 {
		return ErrPasswordTooShort
	}
	return nil
}

// generateRandomToken creates a cryptographically secure random token
func generateRandomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
