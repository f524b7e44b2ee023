package httputil

// Machine-readable error codes returned alongside human-readable messages.
// Clients should branch on these, never on message text.
const (
	CodeInvalidRequestBody = "invalid_request_body"
	CodeInternalError      = "internal_error"
	CodeStoreUnavailable   = "store_unavailable"
	CodeTooManyRequests    = "too_many_requests"
	CodeCooldownActive     = "cooldown_active"

	CodeEmailRequired      = "email_required"
	CodePasswordRequired   = "password_required"
	CodePasswordTooShort   = "password_too_short"
	CodeInvalidEmailFormat = "invalid_email_format"
	CodeEmailTaken         = "email_taken"

	CodeInvalidCredentials = "invalid_credentials"
	CodeForbidden          = "forbidden"

	CodeTokenRequired = "token_required"
	CodeTokenNotFound = "token_not_found"
	CodeTokenExpired  = "token_expired"
	CodeTokenConsumed = "token_consumed"

	CodeMissingAuth          = "missing_auth"
	CodeInvalidAuthHeader    = "invalid_auth_header"
	CodeInvalidToken         = "invalid_token"
	CodeInvalidTokenUserID   = "invalid_token_user_id"
	CodeSessionTokenRequired = "session_token_required"
	CodeInvalidSession       = "invalid_session"

	CodeUnknownRole = "unknown_role"
)
