package auth

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// loginThrottleSize bounds the number of keys tracked at once.
const loginThrottleSize = 10000

type failureWindow struct {
	count   int
	resetAt time.Time
}

// LoginThrottle counts failed logins per key in a fixed window.
// Once the limit is reached further attempts are refused until the window ends.
type LoginThrottle struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	failures *expirable.LRU[string, *failureWindow]
	now      func() time.Time
}

// NewLoginThrottle creates a throttle. A limit of zero disables throttling.
func NewLoginThrottle(limit int, window time.Duration) *LoginThrottle {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &LoginThrottle{
		limit:    limit,
		window:   window,
		failures: expirable.NewLRU[string, *failureWindow](loginThrottleSize, nil, window),
		now:      time.Now,
	}
}

// Allow reports whether another attempt may be verified. Every key must be
// under the limit.
func (t *LoginThrottle) Allow(keys ...string) bool {
	if t == nil || t.limit <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, key := range keys {
		w, ok := t.failures.Get(key)
		if ok && !now.After(w.resetAt) && w.count >= t.limit {
			return false
		}
	}
	return true
}

// Fail records a failed attempt against each key.
func (t *LoginThrottle) Fail(keys ...string) {
	if t == nil || t.limit <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, key := range keys {
		w, ok := t.failures.Get(key)
		if !ok || now.After(w.resetAt) {
			t.failures.Add(key, &failureWindow{count: 1, resetAt: now.Add(t.window)})
			continue
		}
		w.count++
	}
}

// Reset forgets failures for each key after a successful login.
func (t *LoginThrottle) Reset(keys ...string) {
	if t == nil || t.limit <= 0 {
		return
	}
	for _, key := range keys {
		t.failures.Remove(key)
	}
}

// ThrottleKeys returns the counters a login attempt is charged to: the
// client address and the submitted email.
func ThrottleKeys(clientIP, email string) []string {
	return []string{"ip:" + clientIP, "email:" + email}
}
