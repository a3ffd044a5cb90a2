// Package session holds per-token conversation state: bounded histories, the
// in-memory store that owns them, and the reaper that expires idle ones.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/capitalize-ai/gemini-relay/internal/model"
)

var (
	// ErrDetached is returned when writing to a conversation that has been
	// removed from the store by a reset or a reap.
	ErrDetached = errors.New("conversation detached from store")

	// ErrUnpairedTurn is returned when a turn is not a user message followed
	// by a model message.
	ErrUnpairedTurn = errors.New("turn must be a user message followed by a model message")
)

// Clock returns the current time.
type Clock func() time.Time

// Conversation is the bounded message history of one token.
// history always holds complete (user, model) pairs.
type Conversation struct {
	token string
	now   Clock

	mu          sync.Mutex
	history     []model.Message
	lastUpdated time.Time
	detached    bool

	// pins is guarded by the owning Store's mutex.
	pins int
}

func newConversation(token string, now Clock) *Conversation {
	return &Conversation{
		token:       token,
		now:         now,
		lastUpdated: now(),
	}
}

// Token returns the key the conversation is stored under.
func (c *Conversation) Token() string {
	return c.token
}

// AppendTurn appends one (user, model) pair and refreshes lastUpdated.
func (c *Conversation) AppendTurn(user, reply model.Message) error {
	if user.Role != model.RoleUser || reply.Role != model.RoleModel {
		return ErrUnpairedTurn
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.detached {
		return ErrDetached
	}
	c.history = append(c.history, user, reply)
	c.lastUpdated = c.now()
	return nil
}

// Prune drops whole pairs from the front until len(history) <= maxHistory.
// An odd maxHistory is rounded down so a pair is never split. It returns the
// number of pairs removed.
func (c *Conversation) Prune(maxHistory int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneLocked(maxHistory)
}

// Commit appends a turn and prunes in one critical section.
func (c *Conversation) Commit(user, reply model.Message, maxHistory int) (int, error) {
	if user.Role != model.RoleUser || reply.Role != model.RoleModel {
		return 0, ErrUnpairedTurn
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.detached {
		return 0, ErrDetached
	}
	c.history = append(c.history, user, reply)
	c.lastUpdated = c.now()
	return c.pruneLocked(maxHistory), nil
}

func (c *Conversation) pruneLocked(maxHistory int) int {
	limit := maxHistory
	if limit < 0 {
		limit = 0
	}
	limit -= limit % 2

	excess := len(c.history) - limit
	if excess <= 0 {
		return 0
	}
	if limit == 0 {
		c.history = nil
		return excess / 2
	}

	kept := make([]model.Message, limit)
	copy(kept, c.history[excess:])
	c.history = kept
	return excess / 2
}

// Snapshot returns a copy of the history at call time.
func (c *Conversation) Snapshot() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.history) == 0 {
		return nil
	}
	out := make([]model.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Len returns the number of stored messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// LastUpdated returns the time of the last append, or creation.
func (c *Conversation) LastUpdated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdated
}

// Detached reports whether the conversation has left the store.
func (c *Conversation) Detached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

func (c *Conversation) detach() {
	c.mu.Lock()
	c.detached = true
	c.mu.Unlock()
}

// detachIfIdle detaches the conversation when it was last updated before cutoff.
func (c *Conversation) detachIfIdle(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastUpdated.Before(cutoff) {
		return false
	}
	c.detached = true
	return true
}
