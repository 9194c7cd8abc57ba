package auth

import (
	"net/http"
	"time"
)

// Cookie names
const (
	SessionCookieName = "session_token"
	RefreshCookieName = "refresh_token"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain   string // Empty string = current host only
	Secure   bool   // HTTPS only
	SameSite string // "strict", "lax", or "none"
}

// SetSessionCookies stores the access token for browser navigation (read by
// the role gate) and the refresh token scoped to the refresh endpoint.
func SetSessionCookies(w http.ResponseWriter, accessToken, refreshToken string, accessTTL, refreshTTL time.Duration, config CookieConfig) {
	setCookie(w, SessionCookieName, accessToken, "/", accessTTL, config)
	setCookie(w, RefreshCookieName, refreshToken, "/auth", refreshTTL, config)
}

// ClearSessionCookies expires both session cookies
func ClearSessionCookies(w http.ResponseWriter, config CookieConfig) {
	setCookie(w, SessionCookieName, "", "/", -1, config)
	setCookie(w, RefreshCookieName, "", "/auth", -1, config)
}

func setCookie(w http.ResponseWriter, name, value, path string, ttl time.Duration, config CookieConfig) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   config.Domain,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	}

	if ttl < 0 {
		cookie.MaxAge = -1
	} else {
		cookie.MaxAge = int(ttl / time.Second)
		cookie.Expires = time.Now().Add(ttl)
	}

	http.SetCookie(w, cookie)
}

// GetRefreshTokenCookie retrieves the refresh token from cookies
func GetRefreshTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// parseSameSite converts string to http.SameSite constant
func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
