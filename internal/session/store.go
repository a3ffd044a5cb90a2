package session

import (
	"errors"
	"sync"
	"time"

	"github.com/capitalize-ai/gemini-relay/pkg/metrics"
)

// ErrStoreFull is returned when the store is at capacity and every held
// conversation is in use.
var ErrStoreFull = errors.New("session store is full")

// Removal reasons reported to metrics.
const (
	ReasonReset   = "reset"
	ReasonExpired = "expired"
	ReasonEvicted = "evicted"
)

// Store maps tokens to conversations for the lifetime of the process.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	maxSessions   int
	now           Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for new conversations.
func WithClock(now Clock) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithMaxSessions caps the number of held conversations. Zero means no cap.
func WithMaxSessions(n int) Option {
	return func(s *Store) {
		s.maxSessions = n
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[string]*Conversation),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the conversation for token, creating an empty one if
// none exists. The returned conversation is pinned and will not be reaped
// until Release is called for it.
func (s *Store) GetOrCreate(token string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conversations[token]; ok {
		c.pins++
		return c, nil
	}

	if s.maxSessions > 0 && len(s.conversations) >= s.maxSessions {
		if !s.evictOldestLocked() {
			return nil, ErrStoreFull
		}
	}

	c := newConversation(token, s.now)
	c.pins = 1
	s.conversations[token] = c
	metrics.SetSessionsActive(len(s.conversations))
	return c, nil
}

// Release unpins a conversation obtained from GetOrCreate.
func (s *Store) Release(c *Conversation) {
	if c == nil {
		return
	}
	s.mu.Lock()
	if c.pins > 0 {
		c.pins--
	}
	s.mu.Unlock()
}

// Remove deletes the conversation for token. Removing an absent token is a
// no-op. It reports whether a conversation was removed.
func (s *Store) Remove(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[token]
	if !ok {
		return false
	}
	c.detach()
	delete(s.conversations, token)
	metrics.RecordSessionsRemoved(ReasonReset, 1)
	metrics.SetSessionsActive(len(s.conversations))
	return true
}

// ReapExpired removes every unpinned conversation last updated before
// now-idleTimeout and returns how many were removed.
func (s *Store) ReapExpired(idleTimeout time.Duration, now time.Time) int {
	cutoff := now.Add(-idleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, c := range s.conversations {
		if c.pins > 0 {
			continue
		}
		if c.detachIfIdle(cutoff) {
			delete(s.conversations, token)
			removed++
		}
	}

	metrics.RecordSessionsRemoved(ReasonExpired, removed)
	metrics.SetSessionsActive(len(s.conversations))
	return removed
}

// Len returns the number of held conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func (s *Store) evictOldestLocked() bool {
	var (
		oldestToken string
		oldest      *Conversation
		oldestAt    time.Time
	)
	for token, c := range s.conversations {
		if c.pins > 0 {
			continue
		}
		at := c.LastUpdated()
		if oldest == nil || at.Before(oldestAt) {
			oldestToken, oldest, oldestAt = token, c, at
		}
	}
	if oldest == nil {
		return false
	}

	oldest.detach()
	delete(s.conversations, oldestToken)
	metrics.RecordSessionsRemoved(ReasonEvicted, 1)
	return true
}
