package auth

import "errors"

var (
	// ErrAuthenticationFailed is the single failure returned for any bad login:
	// unknown email, missing or wrong password, or a disabled account.
	ErrAuthenticationFailed = errors.New("invalid email or password")

	// ErrForbidden is returned when an authenticated identity is denied by an access rule.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated is returned when a protected route is reached without an identity.
	ErrUnauthenticated = errors.New("authentication required")
)
