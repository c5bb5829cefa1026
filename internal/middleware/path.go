package middleware

import (
	"net/http"
	"path"
	"strings"
)

// RequireCanonicalPath rejects request paths that a downstream server could
// resolve differently from the access rules: dot segments, empty segments,
// backslashes and encoded separators. Admitted paths reach the role router
// and the upstream as the same string.
func RequireCanonicalPath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !CanonicalPath(r.URL.Path, r.URL.RawPath) {
			writeError(w, http.StatusBadRequest, "invalid path")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CanonicalPath reports whether p (with its escaped form raw, if any) is
// already in cleaned form. A single trailing slash is allowed.
func CanonicalPath(p, raw string) bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if strings.ContainsRune(p, '\\') {
		return false
	}
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "%2f") || strings.Contains(lower, "%5c") {
		return false
	}
	cleaned := path.Clean(p)
	return p == cleaned || p == cleaned+"/"
}
