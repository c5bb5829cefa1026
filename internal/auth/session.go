package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultSessionTTL is the rolling session lifetime
	DefaultSessionTTL = 24 * time.Hour

	// TokenLength is the length of generated session tokens in bytes
	TokenLength = 32

	// DefaultRedirect is where a login lands when no target is pending
	DefaultRedirect = "/app/"
)

// GenerateSessionToken generates a cryptographically secure random session token.
// Returns: token (hex string), token hash (SHA256 hex), error
func GenerateSessionToken() (string, string, error) {
	tokenBytes := make([]byte, TokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", "", fmt.Errorf("generate random token: %w", err)
	}

	token := hex.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken hashes a session token for storage/lookup
func HashSessionToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// CalculateExpiry returns the rolling expiry for a session touched at the given time.
func CalculateExpiry(touchedAt time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return touchedAt.Add(ttl)
}

// SafeRedirect returns target when it is a same-origin relative path,
// and DefaultRedirect otherwise.
func SafeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") {
		return DefaultRedirect
	}
	// Protocol-relative and backslash forms are resolved cross-origin by browsers.
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return DefaultRedirect
	}
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return DefaultRedirect
	}
	return target
}

// ClientIP returns the request's remote address without the port.
// From a trusted proxy this is the forwarded client address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
