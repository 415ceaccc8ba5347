package repository

import (
	"sync"

	"github.com/gammazero/deque"

	"relaybot/internal/domain"
)

// DefaultMaxTurns is the default per-user history capacity.
const DefaultMaxTurns = 10

// history is the ConversationHistory of one user, oldest turn at the front.
type history struct {
	mu    sync.Mutex
	turns deque.Deque[domain.Turn]
	// cleared is set under mu when the history is removed from the store, so
	// a writer holding a stale pointer retries against the live entry.
	cleared bool
}

// HistoryStore keeps a bounded FIFO of turns per user in memory. Each user's
// history has its own mutex; the map lock is only held for lookup, creation
// and removal.
type HistoryStore struct {
	maxTurns int

	mu    sync.Mutex
	users map[domain.UserID]*history
}

// NewHistoryStore returns a store that keeps at most maxTurns turns per user.
// A non-positive maxTurns selects DefaultMaxTurns.
func NewHistoryStore(maxTurns int) *HistoryStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &HistoryStore{
		maxTurns: maxTurns,
		users:    make(map[domain.UserID]*history),
	}
}

// Append adds turns to the user's history in order, evicting the oldest turns
// once the capacity is exceeded. All given turns land in one critical
// section, so readers never observe half of an exchange.
func (s *HistoryStore) Append(user domain.UserID, turns ...domain.Turn) {
	if len(turns) == 0 {
		return
	}
	for {
		h := s.historyFor(user)
		h.mu.Lock()
		if h.cleared {
			h.mu.Unlock()
			continue
		}
		for _, t := range turns {
			h.turns.PushBack(t)
		}
		for h.turns.Len() > s.maxTurns {
			h.turns.PopFront()
		}
		h.mu.Unlock()
		return
	}
}

// Window returns a copy of the user's history, oldest first. Unknown users
// get an empty, non-nil slice.
func (s *HistoryStore) Window(user domain.UserID) []domain.Turn {
	s.mu.Lock()
	h, ok := s.users[user]
	s.mu.Unlock()
	if !ok {
		return []domain.Turn{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cleared {
		return []domain.Turn{}
	}
	out := make([]domain.Turn, h.turns.Len())
	for i := range out {
		out[i] = h.turns.At(i)
	}
	return out
}

// Clear removes the user's history. Clearing an unknown or empty history is a
// no-op.
func (s *HistoryStore) Clear(user domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.users[user]
	if !ok {
		return
	}
	h.mu.Lock()
	h.cleared = true
	h.mu.Unlock()
	delete(s.users, user)
}

func (s *HistoryStore) historyFor(user domain.UserID) *history {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.users[user]
	if !ok {
		h = &history{}
		s.users[user] = h
	}
	return h
}

// HistoryStats summarizes store occupancy.
type HistoryStats struct {
	Users    int
	Turns    int
	MaxTurns int
}

func (s *HistoryStore) Stats() HistoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := HistoryStats{Users: len(s.users), MaxTurns: s.maxTurns}
	for _, h := range s.users {
		h.mu.Lock()
		stats.Turns += h.turns.Len()
		h.mu.Unlock()
	}
	return stats
}
