package iam

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/db/bunx"
	"github.com/terraconstructs/gridgate/internal/db/models"
	"github.com/terraconstructs/gridgate/internal/repository"
)

// Session is the request-scoped handle on a session record.
// A fresh anonymous session lives only in memory until it is first saved.
type Session struct {
	*models.Session

	token     string
	persisted bool
	dirty     bool
}

// Persisted reports whether the session exists in the store.
func (s *Session) Persisted() bool { return s.persisted }

// Dirty reports whether the session changed since it was loaded or saved.
func (s *Session) Dirty() bool { return s.dirty }

// SetRedirect records where to send the user after login.
func (s *Session) SetRedirect(target string) {
	s.RedirectTo = target
	s.dirty = true
}

// TakeRedirect returns and clears the pending redirect.
func (s *Session) TakeRedirect() string {
	target := s.RedirectTo
	if target != "" {
		s.RedirectTo = ""
		s.dirty = true
	}
	return target
}

// SetFlash stores a one-shot login error and the email to echo back.
func (s *Session) SetFlash(message, email string) {
	s.FlashError = message
	s.FlashEmail = email
	s.dirty = true
}

// TakeFlash returns and clears the login flash.
func (s *Session) TakeFlash() (message, email string) {
	message, email = s.FlashError, s.FlashEmail
	if message != "" || email != "" {
		s.FlashError, s.FlashEmail = "", ""
		s.dirty = true
	}
	return message, email
}

// SessionAuthenticator binds identities to cookie sessions.
//
// It is stateless apart from the verifier registry and is safe for concurrent use.
type SessionAuthenticator struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	cookies  *auth.CookieCodec
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.RWMutex
	verifiers map[string]CredentialVerifier
}

// NewSessionAuthenticator creates a new session authenticator.
func NewSessionAuthenticator(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	cookies *auth.CookieCodec,
	logger *zap.Logger,
) *SessionAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionAuthenticator{
		users:     users,
		sessions:  sessions,
		cookies:   cookies,
		logger:    logger,
		now:       time.Now,
		verifiers: make(map[string]CredentialVerifier),
	}
}

// RegisterVerifier installs a credential strategy under name.
func (a *SessionAuthenticator) RegisterVerifier(name string, v CredentialVerifier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verifiers[name] = v
}

// Verify runs the named strategy.
func (a *SessionAuthenticator) Verify(ctx context.Context, strategy string, creds Credentials) (*auth.Identity, error) {
	a.mu.RLock()
	v, ok := a.verifiers[strategy]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("credential strategy %q not registered", strategy)
	}
	return v.Verify(ctx, creds)
}

// Load returns the session named by the request cookie. A missing, forged,
// unknown or expired cookie yields a new anonymous session; expired records
// are deleted.
func (a *SessionAuthenticator) Load(ctx context.Context, r *http.Request) (*Session, error) {
	token, ok := a.cookies.Read(r)
	if !ok {
		return a.newAnonymous()
	}

	record, err := a.sessions.GetByTokenHash(ctx, auth.HashSessionToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return a.newAnonymous()
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	if record.Expired(a.now()) {
		if err := a.sessions.Delete(ctx, record.ID); err != nil {
			a.logger.Warn("failed to delete expired session", zap.String("session_id", record.ID), zap.Error(err))
		}
		return a.newAnonymous()
	}

	return &Session{Session: record, token: token, persisted: true}, nil
}

func (a *SessionAuthenticator) newAnonymous() (*Session, error) {
	token, hash, err := auth.GenerateSessionToken()
	if err != nil {
		return nil, err
	}
	now := a.now()
	return &Session{
		Session: &models.Session{
			ID:         bunx.NewUUIDv7(),
			TokenHash:  hash,
			CreatedAt:  now,
			LastUsedAt: now,
			ExpiresAt:  auth.CalculateExpiry(now, a.cookies.TTL()),
		},
		token: token,
	}, nil
}

// Save persists the session, pushes its expiry forward and re-issues the cookie.
// It must run before the response is written.
func (a *SessionAuthenticator) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	now := a.now()
	s.LastUsedAt = now
	s.ExpiresAt = auth.CalculateExpiry(now, a.cookies.TTL())

	if err := a.sessions.Save(ctx, s.Session); err != nil {
		return err
	}
	s.persisted = true
	s.dirty = false

	cookie, err := a.cookies.Issue(s.token)
	if err != nil {
		return err
	}
	http.SetCookie(w, cookie)
	return nil
}

// Attach binds identity to the session. The session gets a new ID and token
// so a pre-login cookie cannot be reused. Flash state is cleared; a pending
// redirect survives unless the caller already took it.
func (a *SessionAuthenticator) Attach(ctx context.Context, w http.ResponseWriter, r *http.Request, s *Session, identity *auth.Identity) error {
	if identity == nil || identity.ID == "" {
		return fmt.Errorf("attach session: empty identity")
	}

	if s.persisted {
		if err := a.sessions.Delete(ctx, s.ID); err != nil {
			return fmt.Errorf("rotate session: %w", err)
		}
	}

	token, hash, err := auth.GenerateSessionToken()
	if err != nil {
		return err
	}

	userID := identity.ID
	s.ID = bunx.NewUUIDv7()
	s.TokenHash = hash
	s.token = token
	s.persisted = false
	s.UserID = &userID
	s.FlashError, s.FlashEmail = "", ""
	s.CreatedAt = a.now()
	if ua := r.UserAgent(); ua != "" {
		s.UserAgent = &ua
	}
	if ip := auth.ClientIP(r); ip != "" {
		s.IPAddress = &ip
	}

	if err := a.Save(ctx, w, s); err != nil {
		return fmt.Errorf("attach session: %w", err)
	}
	return nil
}

// Resolve returns the identity attached to the session, re-read from the
// user store. Deleted or disabled users detach from the session and resolve
// to nil; the caller should Save the now dirty session.
func (a *SessionAuthenticator) Resolve(ctx context.Context, s *Session) (*auth.Identity, error) {
	if !s.Authenticated() {
		return nil, nil
	}

	user, err := a.users.GetByID(ctx, *s.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			a.detach(s)
			return nil, nil
		}
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if user.Disabled() {
		a.detach(s)
		return nil, nil
	}

	return auth.IdentityFromUser(user), nil
}

func (a *SessionAuthenticator) detach(s *Session) {
	a.logger.Info("detaching session from unavailable user", zap.String("session_id", s.ID))
	s.UserID = nil
	s.dirty = true
}

// Destroy deletes the session and expires the cookie. Destroying an
// already destroyed or never persisted session succeeds.
func (a *SessionAuthenticator) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if s != nil && s.persisted {
		if err := a.sessions.Delete(ctx, s.ID); err != nil {
			return fmt.Errorf("destroy session: %w", err)
		}
		s.persisted = false
		s.UserID = nil
	}
	http.SetCookie(w, a.cookies.Expire())
	return nil
}

// PurgeExpired removes expired sessions from the store.
func (a *SessionAuthenticator) PurgeExpired(ctx context.Context) (int64, error) {
	return a.sessions.DeleteExpired(ctx)
}

type sessionContextKey struct{}

// WithSession stores the request session on the context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the session loaded for this request.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	return s, ok && s != nil
}
