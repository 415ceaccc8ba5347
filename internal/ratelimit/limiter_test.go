package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(seconds float64) time.Time {
	return t0.Add(time.Duration(seconds * float64(time.Second)))
}

type snapshot struct {
	admitted []time.Time
	last     time.Time
	seen     bool
}

func stateOf(t *testing.T, l *Limiter, user domain.UserID) snapshot {
	t.Helper()
	l.mu.Lock()
	st, ok := l.users[user]
	l.mu.Unlock()
	if !ok {
		return snapshot{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := snapshot{last: st.lastRequestAt, seen: st.seen}
	for i := 0; i < st.admitted.Len(); i++ {
		out.admitted = append(out.admitted, st.admitted.At(i))
	}
	return out
}

func expectLimit(t *testing.T, err error, kind error) *LimitError {
	t.Helper()
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	require.ErrorIs(t, err, kind)
	return limitErr
}

func TestNew_AppliesDefaults(t *testing.T) {
	l := New(Config{})
	cfg := l.cfg
	require.Equal(t, time.Duration(0), cfg.MinInterval)
	require.Equal(t, DefaultWindow, cfg.Window)
	require.Equal(t, DefaultMaxPerWindow, cfg.MaxPerWindow)
	require.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
}

func TestCheck_FirstRequestAlwaysAdmitted(t *testing.T) {
	l := New(DefaultConfig())
	require.NoError(t, l.Check("alice", t0))
}

func TestCheck_TooFrequent(t *testing.T) {
	l := New(DefaultConfig())
	require.NoError(t, l.Check("alice", at(0)))

	err := l.Check("alice", at(1))
	limitErr := expectLimit(t, err, ErrTooFrequent)
	require.Equal(t, 2*time.Second, limitErr.RetryAfter)
}

func TestCheck_BoundaryIsInclusive(t *testing.T) {
	l := New(DefaultConfig())
	require.NoError(t, l.Check("alice", at(0)))
	require.NoError(t, l.Check("alice", at(3)), "exactly RATE_LIMIT_SECONDS later is admitted")
}

func TestCheck_SpacingProperty(t *testing.T) {
	l := New(DefaultConfig())
	require.NoError(t, l.Check("alice", at(10)))
	for _, dt := range []float64{0, 0.001, 1, 2.5, 2.999} {
		expectLimit(t, l.Check("alice", at(10+dt)), ErrTooFrequent)
	}
}

func TestCheck_UsersAreIndependent(t *testing.T) {
	l := New(DefaultConfig())
	require.NoError(t, l.Check("alice", at(0)))
	require.NoError(t, l.Check("bob", at(0.5)))
	expectLimit(t, l.Check("alice", at(1)), ErrTooFrequent)
}

func TestCheck_WindowExceeded(t *testing.T) {
	l := New(Config{MinInterval: 3 * time.Second, Window: time.Minute, MaxPerWindow: 10})

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Check("alice", at(float64(i*3))), "request %d", i)
	}

	err := l.Check("alice", at(30))
	limitErr := expectLimit(t, err, ErrWindowExceeded)
	require.Equal(t, 30*time.Second, limitErr.RetryAfter)
}

func TestCheck_WindowSlides(t *testing.T) {
	l := New(Config{MinInterval: time.Second, Window: time.Minute, MaxPerWindow: 3})

	require.NoError(t, l.Check("alice", at(0)))
	require.NoError(t, l.Check("alice", at(10)))
	require.NoError(t, l.Check("alice", at(20)))
	expectLimit(t, l.Check("alice", at(59)), ErrWindowExceeded)

	// The entry at t=0 is exactly one window old at t=60 and still counts.
	expectLimit(t, l.Check("alice", at(60)), ErrWindowExceeded)

	require.NoError(t, l.Check("alice", at(60.5)))
	s := stateOf(t, l, "alice")
	require.Equal(t, []time.Time{at(10), at(20), at(60.5)}, s.admitted)
}

func TestCheck_RejectionDoesNotMutateState(t *testing.T) {
	l := New(Config{MinInterval: 3 * time.Second, Window: time.Minute, MaxPerWindow: 2})
	require.NoError(t, l.Check("alice", at(0)))
	require.NoError(t, l.Check("alice", at(5)))

	before := stateOf(t, l, "alice")

	expectLimit(t, l.Check("alice", at(6)), ErrTooFrequent)
	afterOne := stateOf(t, l, "alice")
	require.Equal(t, before, afterOne)

	expectLimit(t, l.Check("alice", at(6.5)), ErrTooFrequent)
	require.Equal(t, afterOne, stateOf(t, l, "alice"))

	expectLimit(t, l.Check("alice", at(10)), ErrWindowExceeded)
	afterWindowReject := stateOf(t, l, "alice")
	require.Equal(t, before, afterWindowReject)

	expectLimit(t, l.Check("alice", at(10)), ErrWindowExceeded)
	require.Equal(t, afterWindowReject, stateOf(t, l, "alice"))
}

func TestCheck_RejectedAttemptDoesNotCountTowardSpacing(t *testing.T) {
	l := New(DefaultConfig())
	require.NoError(t, l.Check("alice", at(0)))
	expectLimit(t, l.Check("alice", at(2)), ErrTooFrequent)
	require.NoError(t, l.Check("alice", at(3)), "spacing is measured from the last admitted request")
}

func TestCheck_ClockGoingBackwardsIsRejected(t *testing.T) {
	l := New(DefaultConfig())
	require.NoError(t, l.Check("alice", at(10)))
	expectLimit(t, l.Check("alice", at(5)), ErrTooFrequent)
}

func TestCheck_ZeroMinIntervalDisablesSpacing(t *testing.T) {
	l := New(Config{MinInterval: 0, MaxPerWindow: 2})
	require.NoError(t, l.Check("alice", at(0)))
	require.NoError(t, l.Check("alice", at(0)))
	expectLimit(t, l.Check("alice", at(0)), ErrWindowExceeded)
}

func TestCheck_ConcurrentSameUserAdmitsExactlyCap(t *testing.T) {
	l := New(Config{MinInterval: 0, Window: time.Minute, MaxPerWindow: 10})

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("alice", t0) == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(10), admitted.Load())
}

func TestCheck_ConcurrentSpacingAdmitsOne(t *testing.T) {
	l := New(DefaultConfig())

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("alice", t0) == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), admitted.Load())
}

func TestCheck_WindowBoundaryHasPositiveRetryAfter(t *testing.T) {
	l := New(Config{MinInterval: time.Second, Window: time.Minute, MaxPerWindow: 2})
	require.NoError(t, l.Check("alice", at(0)))
	require.NoError(t, l.Check("alice", at(1)))

	// at(0) is exactly Window old and still counts.
	limitErr := expectLimit(t, l.Check("alice", at(60)), ErrWindowExceeded)
	require.Positive(t, limitErr.RetryAfter)
	require.Equal(t, time.Nanosecond, limitErr.RetryAfter)

	require.NoError(t, l.Check("alice", at(60).Add(time.Nanosecond)))
}

func TestSweep_RemovesIdleUsers(t *testing.T) {
	l := New(DefaultConfig())
	require.NoError(t, l.Check("alice", at(0)))
	require.NoError(t, l.Check("bob", at(50)))

	removed := l.Sweep(at(61))
	require.Equal(t, 1, removed)
	require.Equal(t, 1, l.Stats().ActiveUsers)

	expectLimit(t, l.Check("bob", at(51)), ErrTooFrequent)
	require.NoError(t, l.Check("alice", at(61)))
}

func TestCheck_TriggersPeriodicSweep(t *testing.T) {
	l := New(Config{MinInterval: time.Second, Window: time.Minute, MaxPerWindow: 5, SweepInterval: 5 * time.Minute})
	require.NoError(t, l.Check("alice", at(0)))
	require.NoError(t, l.Check("bob", at(1)))
	require.Equal(t, 2, l.Stats().ActiveUsers)

	require.NoError(t, l.Check("carol", at(301)))
	require.Equal(t, 1, l.Stats().ActiveUsers, "idle users are swept once the sweep interval elapses")
}

func TestCheck_AfterEvictionUsesFreshState(t *testing.T) {
	l := New(DefaultConfig())
	require.NoError(t, l.Check("alice", at(0)))

	l.mu.Lock()
	stale := l.users["alice"]
	l.mu.Unlock()

	require.Equal(t, 1, l.Sweep(at(61)))
	require.True(t, stale.evicted)

	require.NoError(t, l.Check("alice", at(61)))
	require.Equal(t, []time.Time{at(61)}, stateOf(t, l, "alice").admitted)
}

func TestStats(t *testing.T) {
	l := New(DefaultConfig())
	require.NoError(t, l.Check("alice", at(0)))
	s := l.Stats()
	require.Equal(t, 1, s.ActiveUsers)
	require.Equal(t, DefaultMaxPerWindow, s.MaxPerWindow)
	require.Equal(t, DefaultWindow, s.Window)
	require.Equal(t, DefaultMinInterval, s.MinInterval)
}

func TestLimitError_Message(t *testing.T) {
	err := &LimitError{Kind: ErrTooFrequent, RetryAfter: 2 * time.Second}
	require.Equal(t, "ratelimit: too frequent (retry after 2s)", err.Error())
}
