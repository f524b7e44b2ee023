package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/credo-auth/credo/internal/audit"
	"github.com/credo-auth/credo/internal/authz"
	"github.com/credo-auth/credo/internal/httputil"
	"github.com/credo-auth/credo/internal/logging"
	"github.com/credo-auth/credo/internal/ratelimit"
	"github.com/credo-auth/credo/internal/token"
	"github.com/credo-auth/credo/internal/user"
)

// Handler contains HTTP handlers for authentication endpoints
type Handler struct {
	service         *Service
	roles           *authz.Manager
	users           user.Store
	auditor         *audit.Recorder
	rateLimiter     *ratelimit.Limiter
	logger          *logging.Logger
	isProduction    bool
	accessDuration  time.Duration
	sessionDuration time.Duration
}

func NewHandler(
	service *Service,
	roles *authz.Manager,
	users user.Store,
	auditor *audit.Recorder,
	rateLimiter *ratelimit.Limiter,
	logger *logging.Logger,
	isProduction bool,
	accessDuration, sessionDuration time.Duration,
) *Handler {
	return &Handler{
		service:         service,
		roles:           roles,
		users:           users,
		auditor:         auditor,
		rateLimiter:     rateLimiter,
		logger:          logger,
		isProduction:    isProduction,
		accessDuration:  accessDuration,
		sessionDuration: sessionDuration,
	}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionRequest carries an opaque session token
type SessionRequest struct {
	SessionToken string `json:"session_token"`
}

// UserResponse represents a user in API responses
type UserResponse struct {
	ID            uuid.UUID   `json:"id"`
	Email         string      `json:"email"`
	Roles         []user.Role `json:"roles"`
	EmailVerified bool        `json:"email_verified"`
}

// RegisterResponse represents the registration response
type RegisterResponse struct {
	User    UserResponse `json:"user"`
	Message string       `json:"message"`
}

// ForgotPasswordRequest represents the password reset request
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest represents the password reset confirmation
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ResendVerificationRequest represents the resend verification email request
type ResendVerificationRequest struct {
	Email string `json:"email"`
}

// RoleRequest names a role to grant or revoke
type RoleRequest struct {
	Role string `json:"role"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.limitByIP(w, r, "register") {
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid registration request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	newUser, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrDuplicateEmail):
			logger.Warn("registration failed: email already exists")
			respondError(w, "email already exists", httputil.CodeEmailTaken, http.StatusConflict)
		case errors.Is(err, ErrEmailRequired):
			respondError(w, err.Error(), httputil.CodeEmailRequired, http.StatusBadRequest)
		case errors.Is(err, ErrInvalidEmailFormat):
			respondError(w, err.Error(), httputil.CodeInvalidEmailFormat, http.StatusBadRequest)
		case errors.Is(err, ErrPasswordRequired):
			respondError(w, err.Error(), httputil.CodePasswordRequired, http.StatusBadRequest)
		case errors.Is(err, ErrPasswordTooShort):
			respondError(w, err.Error(), httputil.CodePasswordTooShort, http.StatusBadRequest)
		case errors.Is(err, user.ErrUnavailable):
			logger.Error("registration failed: store unavailable", "error", err.Error())
			respondError(w, "service temporarily unavailable", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
		default:
			logger.Error("registration failed: internal error", "error", err.Error())
			respondError(w, "failed to register user", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("user registered successfully", "user_id", newUser.ID)

	respondJSON(w, RegisterResponse{
		User:    mapUserResponse(newUser),
		Message: "Registration successful. Please check your email to verify your account.",
	}, http.StatusCreated)
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.limitByIP(w, r, "login") {
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	tokens, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			logger.Warn("login failed: invalid credentials")
			respondError(w, "invalid email or password", httputil.CodeInvalidCredentials, http.StatusUnauthorized)
			return
		}
		if errors.Is(err, user.ErrUnavailable) || errors.Is(err, ErrSessionsUnavailable) {
			logger.Error("login failed: store unavailable", "error", err.Error())
			respondError(w, "service temporarily unavailable", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
			return
		}
		logger.Error("login failed: internal error", "error", err.Error())
		respondError(w, "failed to login", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user logged in successfully")

	if ShouldUseCookies(r) {
		SetAuthCookies(w, tokens.AccessToken, tokens.SessionToken, h.isProduction, h.accessDuration, h.sessionDuration)
		respondJSON(w, map[string]string{"message": "logged in successfully"}, http.StatusOK)
	} else {
		respondJSON(w, tokens, http.StatusOK)
	}
}

// Refresh rotates the capability pair using the session token
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	sessionToken := h.sessionTokenFromRequest(r)
	if sessionToken == "" {
		logger.Warn("session token missing from both body and cookie")
		respondError(w, "session token required", httputil.CodeSessionTokenRequired, http.StatusBadRequest)
		return
	}

	tokens, err := h.service.Refresh(r.Context(), sessionToken)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired) {
			logger.Warn("refresh failed: invalid or expired session", "error", err.Error())
			respondError(w, "invalid or expired session", httputil.CodeInvalidSession, http.StatusUnauthorized)
			return
		}
		if errors.Is(err, ErrSessionsUnavailable) || errors.Is(err, user.ErrUnavailable) {
			logger.Error("refresh failed: store unavailable", "error", err.Error())
			respondError(w, "service temporarily unavailable", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
			return
		}
		logger.Error("refresh failed: internal error", "error", err.Error())
		respondError(w, "failed to refresh token", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("capability refreshed successfully")

	if ShouldUseCookies(r) {
		SetAuthCookies(w, tokens.AccessToken, tokens.SessionToken, h.isProduction, h.accessDuration, h.sessionDuration)
		respondJSON(w, map[string]string{"message": "token refreshed successfully"}, http.StatusOK)
	} else {
		respondJSON(w, tokens, http.StatusOK)
	}
}

// Logout revokes the session and clears cookies. Always succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	sessionToken := h.sessionTokenFromRequest(r)
	if err := h.service.Logout(r.Context(), sessionToken); err != nil {
		// Logout is best-effort; the cookies are cleared regardless.
		logger.Warn("failed to revoke session", "error", err)
	}

	ClearAuthCookies(w)

	logger.Info("user logged out")
	respondJSON(w, map[string]string{"message": "logged out"}, http.StatusOK)
}

// VerifyEmail handles email verification via the emailed token
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	secret := r.URL.Query().Get("token")
	if secret == "" {
		logger.Warn("email verification failed: token missing")
		respondError(w, "verification token required", httputil.CodeTokenRequired, http.StatusBadRequest)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), secret); err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			logger.Warn("email verification failed: token expired")
			respondError(w, "Verification link has expired. Please request a new one.", httputil.CodeTokenExpired, http.StatusBadRequest)
		case errors.Is(err, token.ErrConsumed):
			logger.Warn("email verification failed: token already used")
			respondError(w, "This verification link has already been used.", httputil.CodeTokenConsumed, http.StatusBadRequest)
		case errors.Is(err, token.ErrNotFound):
			logger.Warn("email verification failed: token not found")
			respondError(w, "Invalid verification token.", httputil.CodeTokenNotFound, http.StatusBadRequest)
		case errors.Is(err, token.ErrUnavailable), errors.Is(err, user.ErrUnavailable):
			logger.Error("email verification failed: store unavailable", "error", err.Error())
			respondError(w, "service temporarily unavailable", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
		default:
			logger.Error("email verification failed: internal error", "error", err.Error())
			respondError(w, "failed to verify email", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("email verified successfully")

	respondJSON(w, map[string]string{
		"message": "Email verified successfully. You can now login.",
	}, http.StatusOK)
}

// ForgotPassword handles password reset requests. The response is the same
// whether or not the email is registered.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid forgot password request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if h.limitByIP(w, r, "forgot-password") {
		return
	}
	if h.cooldownByEmail(w, r, req.Email) {
		return
	}

	// Always succeeds toward the caller.
	_ = h.service.RequestPasswordReset(r.Context(), req.Email)

	respondJSON(w, map[string]string{
		"message": "If an account exists with that email, a password reset link has been sent.",
	}, http.StatusOK)
}

// ResetPassword handles password reset with a valid token
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid reset password request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, token.ErrNotFound):
			logger.Warn("password reset failed: token not found")
			respondError(w, "invalid reset token", httputil.CodeTokenNotFound, http.StatusBadRequest)
		case errors.Is(err, token.ErrExpired):
			logger.Warn("password reset failed: token expired")
			respondError(w, "reset token has expired", httputil.CodeTokenExpired, http.StatusBadRequest)
		case errors.Is(err, token.ErrConsumed):
			logger.Warn("password reset failed: token already used")
			respondError(w, "reset token has already been used", httputil.CodeTokenConsumed, http.StatusBadRequest)
		case errors.Is(err, ErrPasswordRequired):
			respondError(w, err.Error(), httputil.CodePasswordRequired, http.StatusBadRequest)
		case errors.Is(err, ErrPasswordTooShort):
			respondError(w, err.Error(), httputil.CodePasswordTooShort, http.StatusBadRequest)
		case errors.Is(err, token.ErrUnavailable), errors.Is(err, user.ErrUnavailable):
			logger.Error("password reset failed: store unavailable", "error", err.Error())
			respondError(w, "service temporarily unavailable", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
		default:
			logger.Error("password reset failed: internal error", "error", err.Error())
			respondError(w, "failed to reset password", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("password reset successfully")

	respondJSON(w, map[string]string{
		"message": "Password reset successfully. You can now login with your new password.",
	}, http.StatusOK)
}

// ResendVerificationEmail handles resending the verification email. The
// response is uniform regardless of account state.
func (h *Handler) ResendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResendVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid resend verification request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if h.limitByIP(w, r, "resend-verification") {
		return
	}
	if h.cooldownByEmail(w, r, req.Email) {
		return
	}

	_ = h.service.ResendVerificationEmail(r.Context(), req.Email)

	respondJSON(w, map[string]string{
		"message": "If your email is registered and not verified, a new verification link has been sent.",
	}, http.StatusOK)
}

// GrantRole grants a role to the target user. Requires admin.
func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, h.roles.GrantRole, audit.EventRoleGranted, "role granted")
}

// RevokeRole revokes a role from the target user. Requires admin.
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	h.mutateRole(w, r, h.roles.RevokeRole, audit.EventRoleRevoked, "role revoked")
}

func (h *Handler) mutateRole(w http.ResponseWriter, r *http.Request, mutate func(ctx context.Context, actor *user.User, targetID uuid.UUID, role user.Role) error, event, message string) {
	logger := logging.GetLoggerFromContext(r.Context())

	actorID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		respondError(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return
	}

	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, "invalid user ID", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	var req RoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	actor, err := h.users.GetByID(r.Context(), actorID)
	if err != nil {
		respondError(w, "invalid token", httputil.CodeInvalidToken, http.StatusUnauthorized)
		return
	}

	if err := mutate(r.Context(), actor, targetID, user.Role(req.Role)); err != nil {
		switch {
		case errors.Is(err, authz.ErrForbidden):
			logger.Warn("role mutation forbidden", "actor_id", actorID, "target_id", targetID)
			respondError(w, "admin privileges required", httputil.CodeForbidden, http.StatusForbidden)
		case errors.Is(err, authz.ErrUnknownRole):
			respondError(w, "unknown role", httputil.CodeUnknownRole, http.StatusBadRequest)
		case errors.Is(err, user.ErrNotFound):
			respondError(w, "user not found", httputil.CodeInvalidRequestBody, http.StatusNotFound)
		case errors.Is(err, user.ErrUnavailable):
			respondError(w, "service temporarily unavailable", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
		default:
			logger.Error("role mutation failed", "error", err.Error())
			respondError(w, "failed to update roles", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	h.auditor.Record(r.Context(), targetID, event, message+" by "+actorID.String())
	logger.Info(message, "actor_id", actorID, "target_id", targetID, "role", req.Role)

	respondJSON(w, map[string]string{"message": message}, http.StatusOK)
}

// limitByIP enforces the per-IP fixed window for a purpose. Returns true
// when the request was rejected.
func (h *Handler) limitByIP(w http.ResponseWriter, r *http.Request, purpose string) bool {
	logger := logging.GetLoggerFromContext(r.Context())
	ip := getClientIP(r)

	exceeded, err := h.rateLimiter.CheckIPRateLimit(r.Context(), ip, purpose)
	if err != nil {
		// Never block legitimate traffic on limiter trouble.
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip, "purpose", purpose)
		respondError(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return true
	}

	if err := h.rateLimiter.RecordIPRequest(r.Context(), ip, purpose); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}
	return false
}

// cooldownByEmail enforces the per-email send cooldown. Returns true when
// the request was rejected.
func (h *Handler) cooldownByEmail(w http.ResponseWriter, r *http.Request, email string) bool {
	logger := logging.GetLoggerFromContext(r.Context())

	onCooldown, err := h.rateLimiter.CheckEmailCooldown(r.Context(), email)
	if err != nil {
		logger.Error("failed to check email cooldown", "error", err.Error())
	} else if onCooldown {
		logger.Warn("email on cooldown", "email", email)
		respondError(w, "please wait before requesting another email", httputil.CodeCooldownActive, http.StatusTooManyRequests)
		return true
	}

	if err := h.rateLimiter.SetEmailCooldown(r.Context(), email); err != nil {
		logger.Error("failed to set email cooldown", "error", err.Error())
	}
	return false
}

// sessionTokenFromRequest reads the session token from the JSON body with
// a cookie fallback.
func (h *Handler) sessionTokenFromRequest(r *http.Request) string {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		if t := strings.TrimSpace(req.SessionToken); t != "" {
			return t
		}
	}
	if cookieToken, err := GetSessionTokenFromCookie(r); err == nil {
		return strings.TrimSpace(cookieToken)
	}
	return ""
}

func mapUserResponse(u *user.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		Roles:         u.Roles,
		EmailVerified: u.EmailVerified,
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data any, statusCode int) {
	httputil.RespondJSON(w, data, statusCode)
}

// respondError sends an error response with a machine-readable code
func respondError(w http.ResponseWriter, message string, code string, statusCode int) {
	httputil.RespondErrorWithCode(w, message, code, statusCode)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return strings.TrimSpace(xri)
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
