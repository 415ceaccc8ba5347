// Package ratelimit admits or rejects requests per user with two independent
// gates: a minimum spacing between admitted requests and a cap on admitted
// requests inside a trailing window.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/deque"

	"relaybot/internal/domain"
)

const (
	DefaultMinInterval   = 3 * time.Second
	DefaultWindow        = time.Minute
	DefaultMaxPerWindow  = 10
	DefaultSweepInterval = 5 * time.Minute
)

var (
	ErrTooFrequent    = errors.New("ratelimit: too frequent")
	ErrWindowExceeded = errors.New("ratelimit: window exceeded")
)

// LimitError is returned by Check on rejection. Kind is ErrTooFrequent or
// ErrWindowExceeded; RetryAfter is how long until the gate that rejected the
// request would pass again.
type LimitError struct {
	Kind       error
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Kind, e.RetryAfter)
}

func (e *LimitError) Unwrap() error {
	return e.Kind
}

// Config holds the limiter thresholds. Zero Window, MaxPerWindow and
// SweepInterval take the package defaults; a zero MinInterval disables the
// spacing gate.
type Config struct {
	MinInterval   time.Duration
	Window        time.Duration
	MaxPerWindow  int
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxPerWindow <= 0 {
		c.MaxPerWindow = DefaultMaxPerWindow
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// userState is the RateState of one user. admitted holds the instants of
// admitted requests in chronological order, so expiry is a front trim.
type userState struct {
	mu            sync.Mutex
	admitted      deque.Deque[time.Time]
	lastRequestAt time.Time
	seen          bool
	// evicted is set under mu when the state is dropped from the map; holders
	// of a stale pointer must look the user up again.
	evicted bool
}

// Limiter tracks RateState per user. One mutex per user guards the
// check-then-mutate step; the map lock is held only for lookup and sweeping.
type Limiter struct {
	cfg Config

	mu        sync.Mutex
	users     map[domain.UserID]*userState
	lastSweep time.Time
}

// New returns a Limiter. Use DefaultConfig for the stock thresholds.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:   cfg.withDefaults(),
		users: make(map[domain.UserID]*userState),
	}
}

// DefaultConfig returns 3s spacing and 10 requests per 60s.
func DefaultConfig() Config {
	return Config{
		MinInterval:   DefaultMinInterval,
		Window:        DefaultWindow,
		MaxPerWindow:  DefaultMaxPerWindow,
		SweepInterval: DefaultSweepInterval,
	}
}

// Check admits the request (nil) or rejects it with a *LimitError. A rejected
// request leaves the user's state as it was. A request exactly MinInterval
// after the previous admitted one is admitted.
func (l *Limiter) Check(user domain.UserID, now time.Time) error {
	l.maybeSweep(now)
	for {
		st := l.stateFor(user)
		st.mu.Lock()
		if st.evicted {
			st.mu.Unlock()
			continue
		}
		err := l.checkLocked(st, now)
		st.mu.Unlock()
		return err
	}
}

func (l *Limiter) checkLocked(st *userState, now time.Time) error {
	if st.seen {
		if elapsed := now.Sub(st.lastRequestAt); elapsed < l.cfg.MinInterval {
			return &LimitError{Kind: ErrTooFrequent, RetryAfter: l.cfg.MinInterval - elapsed}
		}
	}

	l.purgeLocked(st, now)
	if st.admitted.Len() >= l.cfg.MaxPerWindow {
		// The oldest entry still counts at exactly Window old, so the gate
		// opens strictly after that instant.
		wait := st.admitted.Front().Add(l.cfg.Window).Sub(now)
		if wait <= 0 {
			wait = time.Nanosecond
		}
		return &LimitError{Kind: ErrWindowExceeded, RetryAfter: wait}
	}

	st.admitted.PushBack(now)
	st.lastRequestAt = now
	st.seen = true
	return nil
}

// purgeLocked drops admitted instants older than the window. Purging only
// removes entries that could never count again, so it does not change the
// outcome of any later check.
func (l *Limiter) purgeLocked(st *userState, now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	for st.admitted.Len() > 0 && st.admitted.Front().Before(cutoff) {
		st.admitted.PopFront()
	}
}

// Sweep removes users whose window is empty and whose spacing gate has
// expired at now. It returns the number of users removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

func (l *Limiter) maybeSweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastSweep.IsZero() {
		l.lastSweep = now
		return
	}
	if now.Sub(l.lastSweep) < l.cfg.SweepInterval {
		return
	}
	l.sweepLocked(now)
}

func (l *Limiter) sweepLocked(now time.Time) int {
	removed := 0
	for user, st := range l.users {
		st.mu.Lock()
		l.purgeLocked(st, now)
		idle := st.admitted.Len() == 0 && (!st.seen || now.Sub(st.lastRequestAt) >= l.cfg.MinInterval)
		if idle {
			st.evicted = true
			delete(l.users, user)
			removed++
		}
		st.mu.Unlock()
	}
	l.lastSweep = now
	return removed
}

func (l *Limiter) stateFor(user domain.UserID) *userState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.users[user]
	if !ok {
		st = &userState{}
		l.users[user] = st
	}
	return st
}

// Stats is a point-in-time summary of the limiter.
type Stats struct {
	ActiveUsers  int
	MaxPerWindow int
	Window       time.Duration
	MinInterval  time.Duration
	LastSweep    time.Time
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		ActiveUsers:  len(l.users),
		MaxPerWindow: l.cfg.MaxPerWindow,
		Window:       l.cfg.Window,
		MinInterval:  l.cfg.MinInterval,
		LastSweep:    l.lastSweep,
	}
}
