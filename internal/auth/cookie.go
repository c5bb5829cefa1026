package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "gridgate.sid"

// CookieCodec signs and verifies the session cookie.
type CookieCodec struct {
	name   string
	ttl    time.Duration
	secure bool
	sc     *securecookie.SecureCookie
}

// NewCookieCodec creates a codec. An empty hashKey generates a random key,
// so cookies do not survive a restart.
func NewCookieCodec(hashKey []byte, ttl time.Duration, secure bool) (*CookieCodec, error) {
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(64)
		if hashKey == nil {
			return nil, errors.New("generate cookie signing key")
		}
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	sc := securecookie.New(hashKey, nil)
	sc.MaxAge(int(ttl.Seconds()))

	return &CookieCodec{
		name:   SessionCookieName,
		ttl:    ttl,
		secure: secure,
		sc:     sc,
	}, nil
}

// Name returns the cookie name.
func (c *CookieCodec) Name() string {
	return c.name
}

// TTL returns the rolling lifetime applied to issued cookies.
func (c *CookieCodec) TTL() time.Duration {
	return c.ttl
}

// Issue returns a signed cookie carrying token.
func (c *CookieCodec) Issue(token string) (*http.Cookie, error) {
	encoded, err := c.sc.Encode(c.name, token)
	if err != nil {
		return nil, fmt.Errorf("encode session cookie: %w", err)
	}
	return &http.Cookie{
		Name:     c.name,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		Expires:  time.Now().Add(c.ttl),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Read returns the verified token from the request, or false when the cookie
// is absent, tampered with, or too old.
func (c *CookieCodec) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	var token string
	if err := c.sc.Decode(c.name, cookie.Value, &token); err != nil {
		return "", false
	}
	return token, token != ""
}

// Expire returns a cookie that removes the session cookie from the browser.
func (c *CookieCodec) Expire() *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
