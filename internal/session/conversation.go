package session

import (
	"sync"

	"toolchat/internal/message"
)

// Conversation is the ordered turn history sent to the transport. Mutations
// are serialized because order is part of the conversation.
type Conversation struct {
	mu    sync.RWMutex
	turns []message.Turn
}

func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds turns at the end, in the order given.
func (c *Conversation) Append(turns ...message.Turn) {
	c.mu.Lock()
	c.turns = append(c.turns, turns...)
	c.mu.Unlock()
}

// All returns a copy of the history in append order.
func (c *Conversation) All() []message.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]message.Turn(nil), c.turns...)
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

func (c *Conversation) Clear() {
	c.mu.Lock()
	c.turns = nil
	c.mu.Unlock()
}

// Replace discards the current history and installs turns in their place.
func (c *Conversation) Replace(turns []message.Turn) {
	c.mu.Lock()
	c.turns = append([]message.Turn(nil), turns...)
	c.mu.Unlock()
}
