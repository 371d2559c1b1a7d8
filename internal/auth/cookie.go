package auth

import (
	"net/http"
	"strings"
	"time"
)

// CookieName is the name of the session cookie.
const CookieName = "token"

// CookieIssuer writes and clears the session cookie. Production mode marks
// the cookie Secure and allows cross-site delivery; otherwise it is Lax.
type CookieIssuer struct {
	Production bool
}

func (c CookieIssuer) base() *http.Cookie {
	ck := &http.Cookie{
		Name:     CookieName,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if c.Production {
		ck.Secure = true
		ck.SameSite = http.SameSiteNoneMode
	}
	return ck
}

// Set delivers token to the client with an expiry matching the token's.
func (c CookieIssuer) Set(w http.ResponseWriter, token string, expiresAt time.Time) {
	ck := c.base()
	ck.Value = token
	ck.Expires = expiresAt.UTC()
	ck.MaxAge = int(time.Until(expiresAt).Seconds())
	http.SetCookie(w, ck)
}

// Clear revokes the session cookie by sending an already-expired value with
// the same attributes.
func (c CookieIssuer) Clear(w http.ResponseWriter) {
	ck := c.base()
	ck.Value = ""
	ck.Expires = time.Unix(0, 0)
	ck.MaxAge = -1
	http.SetCookie(w, ck)
}

// TokenFromRequest returns the session token from the cookie, falling back
// to an "Authorization: Bearer" header. It returns "" when neither is present.
func TokenFromRequest(r *http.Request) string {
	if ck, err := r.Cookie(CookieName); err == nil && ck.Value != "" {
		return ck.Value
	}

	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
