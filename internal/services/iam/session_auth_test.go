package iam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/db/models"
)

type fixture struct {
	users    *mockUserRepository
	sessions *mockSessionRepository
	authn    *SessionAuthenticator
}

func newFixture(t *testing.T, users ...*models.User) *fixture {
	t.Helper()
	codec, err := auth.NewCookieCodec(nil, time.Hour, false)
	require.NoError(t, err)

	f := &fixture{
		users:    newMockUserRepository(users...),
		sessions: newMockSessionRepository(),
	}
	f.authn = NewSessionAuthenticator(f.users, f.sessions, codec, nil)
	f.authn.RegisterVerifier(StrategyLocal, NewLocalVerifier(f.users, nil))
	return f
}

// requestWithCookies replays the cookies set on rec.
func requestWithCookies(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/app/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestLoad_NoCookieIsAnonymousAndUnsaved(t *testing.T) {
	f := newFixture(t)

	s, err := f.authn.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	assert.False(t, s.Authenticated())
	assert.False(t, s.Persisted())
	assert.False(t, s.Dirty())
	assert.Zero(t, f.sessions.count())
}

func TestLoad_ForgedCookieIsAnonymous(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "forged"})

	s, err := f.authn.Load(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, s.Persisted())
}

func TestSaveAndReload_KeepsRedirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.authn.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	s.SetRedirect("/app/dashboard")
	assert.True(t, s.Dirty())

	rec := httptest.NewRecorder()
	require.NoError(t, f.authn.Save(ctx, rec, s))
	assert.True(t, s.Persisted())
	assert.False(t, s.Dirty())

	reloaded, err := f.authn.Load(ctx, requestWithCookies(rec))
	require.NoError(t, err)
	assert.Equal(t, s.ID, reloaded.ID)
	assert.Equal(t, "/app/dashboard", reloaded.TakeRedirect())
	assert.Empty(t, reloaded.TakeRedirect())
}

func TestAttach_RotatesAndResolves(t *testing.T) {
	f := newFixture(t, localUser(t, "u1", "alice@example.com", "correct horse"))
	ctx := context.Background()

	anon, err := f.authn.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	anon.SetFlash("invalid email or password", "alice@example.com")
	preLogin := httptest.NewRecorder()
	require.NoError(t, f.authn.Save(ctx, preLogin, anon))
	oldID := anon.ID

	identity, err := f.authn.Verify(ctx, StrategyLocal, Credentials{Email: "alice@example.com", Password: "correct horse"})
	require.NoError(t, err)

	req := requestWithCookies(preLogin)
	req.Header.Set("User-Agent", "test-agent")
	rec := httptest.NewRecorder()
	require.NoError(t, f.authn.Attach(ctx, rec, req, anon, identity))

	assert.NotEqual(t, oldID, anon.ID)
	assert.True(t, anon.Authenticated())
	msg, email := anon.TakeFlash()
	assert.Empty(t, msg)
	assert.Empty(t, email)
	require.NotNil(t, anon.UserAgent)
	assert.Equal(t, "test-agent", *anon.UserAgent)

	// The pre-login cookie no longer names a session.
	stale, err := f.authn.Load(ctx, requestWithCookies(preLogin))
	require.NoError(t, err)
	assert.False(t, stale.Persisted())
	assert.Equal(t, 1, f.sessions.count())

	current, err := f.authn.Load(ctx, requestWithCookies(rec))
	require.NoError(t, err)
	resolved, err := f.authn.Resolve(ctx, current)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "u1", resolved.ID)
	assert.Equal(t, "acme", resolved.Tenant)
}

func TestAttach_RejectsEmptyIdentity(t *testing.T) {
	f := newFixture(t)
	s, err := f.authn.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	err = f.authn.Attach(context.Background(), httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), s, nil)
	assert.Error(t, err)
}

func TestResolve_DisabledUserDetaches(t *testing.T) {
	user := localUser(t, "u1", "alice@example.com", "correct horse")
	f := newFixture(t, user)
	ctx := context.Background()

	s, err := f.authn.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/auth/local", nil)
	require.NoError(t, f.authn.Attach(ctx, httptest.NewRecorder(), req, s, auth.IdentityFromUser(user)))

	now := time.Now()
	user.DisabledAt = &now
	require.NoError(t, f.users.Update(ctx, user))

	identity, err := f.authn.Resolve(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, identity)
	assert.False(t, s.Authenticated())
	assert.True(t, s.Dirty())
}

func TestResolve_DeletedUserDetaches(t *testing.T) {
	user := localUser(t, "u1", "alice@example.com", "correct horse")
	f := newFixture(t, user)
	ctx := context.Background()

	s, err := f.authn.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, f.authn.Attach(ctx, httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), s, auth.IdentityFromUser(user)))
	require.NoError(t, f.users.Delete(ctx, "u1"))

	identity, err := f.authn.Resolve(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestLoad_ExpiredSessionIsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.authn.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	require.NoError(t, f.authn.Save(ctx, rec, s))

	f.authn.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	reloaded, err := f.authn.Load(ctx, requestWithCookies(rec))
	require.NoError(t, err)
	assert.False(t, reloaded.Persisted())
	assert.Zero(t, f.sessions.count())
}

func TestDestroy_Idempotent(t *testing.T) {
	user := localUser(t, "u1", "alice@example.com", "correct horse")
	f := newFixture(t, user)
	ctx := context.Background()

	s, err := f.authn.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, f.authn.Attach(ctx, httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), s, auth.IdentityFromUser(user)))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		require.NoError(t, f.authn.Destroy(ctx, rec, s))
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, -1, cookies[0].MaxAge)
	}
	assert.Zero(t, f.sessions.count())
	assert.False(t, s.Authenticated())

	require.NoError(t, f.authn.Destroy(ctx, httptest.NewRecorder(), nil))
}

func TestVerify_UnknownStrategy(t *testing.T) {
	f := newFixture(t)
	_, err := f.authn.Verify(context.Background(), "kerberos", Credentials{})
	assert.ErrorContains(t, err, "not registered")
}

func TestPurgeExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sessions.Save(ctx, &models.Session{ID: "old", TokenHash: "a", ExpiresAt: time.Now().Add(-time.Minute)}))
	require.NoError(t, f.sessions.Save(ctx, &models.Session{ID: "new", TokenHash: "b", ExpiresAt: time.Now().Add(time.Hour)}))

	n, err := f.authn.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, f.sessions.count())
}
