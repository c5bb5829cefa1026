package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User represents a human principal.
// Local users carry a bcrypt PasswordHash; federated users carry the upstream Subject.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string     `bun:"id,pk,type:varchar(36)"`
	Email        string     `bun:"email,notnull,unique"`
	Name         string     `bun:"name"`
	PasswordHash *string    `bun:"password_hash"`
	Tenant       *string    `bun:"tenant"`
	Role         string     `bun:"role,notnull,default:''"`
	Provider     string     `bun:"provider,notnull,default:'local'"`
	Subject      *string    `bun:"subject,unique"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	LastLoginAt  *time.Time `bun:"last_login_at"`
	DisabledAt   *time.Time `bun:"disabled_at"`
}

// Disabled reports whether the user may no longer sign in.
func (u *User) Disabled() bool {
	return u != nil && u.DisabledAt != nil
}

// TenantName returns the tenant or "" when the user is not tenant scoped.
func (u *User) TenantName() string {
	if u == nil || u.Tenant == nil {
		return ""
	}
	return *u.Tenant
}

// Session is the server-side record behind a browser cookie.
// The cookie carries a random token; only its SHA256 hash is stored.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:sess"`

	ID         string    `bun:"id,pk,type:varchar(36)" json:"id"`
	TokenHash  string    `bun:"token_hash,notnull,unique" json:"token_hash"`
	UserID     *string   `bun:"user_id,type:varchar(36)" json:"user_id,omitempty"`
	RedirectTo string    `bun:"redirect_to,notnull,default:''" json:"redirect_to,omitempty"`
	FlashError string    `bun:"flash_error,notnull,default:''" json:"flash_error,omitempty"`
	FlashEmail string    `bun:"flash_email,notnull,default:''" json:"flash_email,omitempty"`
	UserAgent  *string   `bun:"user_agent" json:"user_agent,omitempty"`
	IPAddress  *string   `bun:"ip_address" json:"ip_address,omitempty"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	LastUsedAt time.Time `bun:"last_used_at,notnull,default:current_timestamp" json:"last_used_at"`
	ExpiresAt  time.Time `bun:"expires_at,notnull" json:"expires_at"`
}

// Authenticated reports whether an identity is attached.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != nil && *s.UserID != ""
}

// Expired reports whether the session is past its expiry at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
