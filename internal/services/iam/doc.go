// Package iam provides identity services for the gateway.
//
// It owns the browser session lifecycle and the pluggable credential
// strategies:
//
//   - SessionAuthenticator: loads, persists, rotates and destroys cookie sessions
//   - CredentialVerifier: strategy interface (LocalVerifier, OIDCVerifier)
//   - UserService: local identity management used by the admin API and CLI
//
// Request Flow:
//
//	Request → Load (cookie → session) → Resolve (session → Identity)
//	       ↓
//	   AuthorizationGate → RoleRouter → Forwarder
//
// The identity is re-read from the user store on every request, so role,
// tenant and disabled changes apply without logging out.
package iam
