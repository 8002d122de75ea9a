package session

import (
	"net/http"
	"strings"
	"time"
)

// CookieName is the session credential cookie.
const CookieName = "session"

// Cookies writes and reads credential cookies with shared attributes.
type Cookies struct {
	Secure bool
}

// Set writes an HttpOnly, SameSite=Strict cookie living for maxAge.
func (c Cookies) Set(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		Expires:  time.Now().Add(maxAge),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Clear expires the cookie named name.
func (c Cookies) Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Read returns the value of cookie name. When net/http cannot parse the
// header the raw Cookie header lines are scanned instead.
func Read(r *http.Request, name string) (string, bool) {
	if cookie, err := r.Cookie(name); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	for _, line := range r.Header.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || strings.TrimSpace(key) != name {
				continue
			}
			value = strings.Trim(strings.TrimSpace(value), `"`)
			if value != "" {
				return value, true
			}
		}
	}
	return "", false
}
