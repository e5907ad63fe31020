// Package session tracks whether an unlocked vault may still serve data.
//
// A Session starts Locked. Unlock moves it to Unlocked; it reads as Locked
// again after Lock/Logout or once the time since the last recorded activity
// exceeds the timeout. Expiry is evaluated lazily on every query, so there
// is no background goroutine to manage.
package session

import (
	"errors"
	"sync"
	"time"
)

// DefaultTimeout is the inactivity window used when none is configured.
const DefaultTimeout = 5 * time.Minute

// ErrLocked is returned by Guard when the session is locked or has expired.
var ErrLocked = errors.New("session is locked")

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is an explicit lock state owned by the caller. It is safe for
// concurrent use.
type Session struct {
	mu           sync.RWMutex
	now          func() time.Time
	timeout      time.Duration
	locked       bool
	lastActivity time.Time
	onLock       func()
}

// New returns a locked session. A timeout of zero or less disables
// inactivity expiry; only Lock and Logout will lock the session then.
func New(timeout time.Duration, opts ...Option) *Session {
	s := &Session{
		now:     time.Now,
		timeout: timeout,
		locked:  true,
	}
	for _, o := range opts {
		o(s)
	}
	s.lastActivity = s.now()
	return s
}

// OnLock registers fn to run whenever the session transitions to Locked,
// either explicitly or when expiry is first observed. fn runs without the
// session mutex held and may call back into the session.
func (s *Session) OnLock(fn func()) {
	s.mu.Lock()
	s.onLock = fn
	s.mu.Unlock()
}

// Unlock moves the session to Unlocked and starts a new activity window.
func (s *Session) Unlock() {
	s.mu.Lock()
	s.locked = false
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// UpdateActivity refreshes the activity window. It has no effect on a
// locked or already expired session.
func (s *Session) UpdateActivity() {
	if s.IsLocked() {
		return
	}
	s.mu.Lock()
	if !s.locked {
		s.lastActivity = s.now()
	}
	s.mu.Unlock()
}

func (s *Session) expiredLocked(now time.Time) bool {
	return s.timeout > 0 && now.Sub(s.lastActivity) > s.timeout
}

// IsLocked reports whether the session is locked, either explicitly or
// because the inactivity timeout has elapsed.
func (s *Session) IsLocked() bool {
	s.mu.RLock()
	locked := s.locked
	expired := !locked && s.expiredLocked(s.now())
	s.mu.RUnlock()

	if locked {
		return true
	}
	if !expired {
		return false
	}

	s.mu.Lock()
	if s.locked {
		s.mu.Unlock()
		return true
	}
	if !s.expiredLocked(s.now()) {
		s.mu.Unlock()
		return false
	}
	s.locked = true
	cb := s.onLock
	s.mu.Unlock()

	if cb != nil {
		cb()
	}
	return true
}

// Lock locks the session regardless of the timeout.
func (s *Session) Lock() {
	s.mu.Lock()
	s.locked = true
	cb := s.onLock
	s.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Logout locks the session and forgets its activity history.
func (s *Session) Logout() {
	s.mu.Lock()
	s.lastActivity = time.Time{}
	s.mu.Unlock()
	s.Lock()
}

// IdleTime returns the time elapsed since the last recorded activity.
func (s *Session) IdleTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastActivity.IsZero() {
		return 0
	}
	return s.now().Sub(s.lastActivity)
}

// Timeout returns the inactivity window.
func (s *Session) Timeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeout
}

// SetTimeout changes the inactivity window and restarts it.
func (s *Session) SetTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
	s.UpdateActivity()
}

// Guard runs fn if the session is unlocked, refreshing activity first.
// It returns ErrLocked without calling fn otherwise.
func (s *Session) Guard(fn func() error) error {
	if s.IsLocked() {
		return ErrLocked
	}
	s.UpdateActivity()
	return fn()
}
