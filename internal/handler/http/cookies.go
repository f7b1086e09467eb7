package http

import (
	"net/http"
	"time"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
)

// CookieConfig controls the attributes of the auth cookies.
type CookieConfig struct {
	// Secure marks cookies Secure and SameSite=None, for cross-site frontends
	// served over TLS. Otherwise SameSite=Lax.
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (c CookieConfig) cookie(name, value string, ttl time.Duration) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if c.Secure {
		ck.SameSite = http.SameSiteNoneMode
	}
	if ttl > 0 {
		ck.MaxAge = int(ttl.Seconds())
		ck.Expires = time.Now().Add(ttl)
	} else {
		ck.MaxAge = -1
	}
	return ck
}

func (c CookieConfig) setTokens(w http.ResponseWriter, access, refresh string) {
	http.SetCookie(w, c.cookie(accessCookie, access, c.AccessTTL))
	http.SetCookie(w, c.cookie(refreshCookie, refresh, c.RefreshTTL))
}

func (c CookieConfig) setAccess(w http.ResponseWriter, access string) {
	http.SetCookie(w, c.cookie(accessCookie, access, c.AccessTTL))
}

func (c CookieConfig) clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(accessCookie, "", 0))
	http.SetCookie(w, c.cookie(refreshCookie, "", 0))
}

// refreshTokenFrom prefers the body value and falls back to the cookie.
func refreshTokenFrom(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	if c, err := r.Cookie(refreshCookie); err == nil {
		return c.Value
	}
	return ""
}
