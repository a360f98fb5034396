package session

import (
	"sync"
	"time"
)

// Conversation is the append-only turn log for one session. It is
// owned by the Manager; the agent loop mutates it exclusively through
// Append. Turns are never edited or removed for the lifetime of the
// session.
type Conversation struct {
	sessionKey string
	createdAt  time.Time

	mu     sync.RWMutex
	turns  []Turn
	mirror func(Turn) error
}

// SessionKey returns the external identifier of this conversation.
func (c *Conversation) SessionKey() string {
	return c.sessionKey
}

// CreatedAt returns when the conversation was first referenced.
func (c *Conversation) CreatedAt() time.Time {
	return c.createdAt
}

// Append validates the turn and adds it to the log. When the manager
// mirrors conversations to disk the turn is also written to the
// session's JSONL file before Append returns.
func (c *Conversation) Append(turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	if err := turn.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror(turn); err != nil {
			return err
		}
	}
	c.turns = append(c.turns, turn)
	return nil
}

// Snapshot returns a read-only copy of the turn log, in append order.
// This is the view handed verbatim to the model client.
func (c *Conversation) Snapshot() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}
