package auth

import (
	"net/http"
	"time"
)

const (
	accessTokenCookie  = "access_token"
	sessionTokenCookie = "session_token"
)

// ShouldUseCookies reports whether the client is a browser that should get
// cookie-based auth instead of tokens in the response body.
func ShouldUseCookies(r *http.Request) bool {
	// Browsers send an Origin header on cross-origin fetches; API clients
	// generally do not.
	return r.Header.Get("Origin") != ""
}

// SetAuthCookies attaches the capability pair as HttpOnly cookies.
func SetAuthCookies(w http.ResponseWriter, accessToken, sessionToken string, isProduction bool, accessDuration, sessionDuration time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(accessDuration.Seconds()),
		HttpOnly: true,
		Secure:   isProduction,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     sessionTokenCookie,
		Value:    sessionToken,
		Path:     "/auth",
		MaxAge:   int(sessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   isProduction,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearAuthCookies expires both auth cookies.
func ClearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     sessionTokenCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// GetAccessTokenFromCookie reads the access token cookie.
func GetAccessTokenFromCookie(r *http.Request) (string, error) {
	c, err := r.Cookie(accessTokenCookie)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// GetSessionTokenFromCookie reads the session token cookie.
func GetSessionTokenFromCookie(r *http.Request) (string, error) {
	c, err := r.Cookie(sessionTokenCookie)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}
