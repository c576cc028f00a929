// Package session stores per-conversation context: bounded message history
// and the slot-filling state the intent classifier consults. Contexts are
// keyed by tenant and user so conversations never cross tenant boundaries.
package session

import (
	"context"
	"time"
)

// Message is a single turn in a conversation.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Context is the conversation state consulted by the pipeline.
type Context struct {
	TenantID string    `json:"tenant_id"`
	UserID   string    `json:"user_id"`
	History  []Message `json:"history"`

	// AwaitingSlotFill marks that the previous turn asked the user for a
	// specific value; PendingSlot names it. While set, the next message is
	// treated wholesale as that slot's value.
	AwaitingSlotFill bool   `json:"awaiting_slot_fill"`
	PendingSlot      string `json:"pending_slot,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// MaxHistory bounds how many turns a context retains.
const MaxHistory = 20

// Store persists conversation contexts with a TTL.
type Store interface {
	// Load returns the context for tenant+user, or a fresh empty context
	// when none exists.
	Load(ctx context.Context, tenantID, userID string) (*Context, error)

	// Save persists the context and refreshes its TTL.
	Save(ctx context.Context, c *Context) error

	// Clear removes the context.
	Clear(ctx context.Context, tenantID, userID string) error
}

// AppendMessage adds a turn to the context history, trimming to MaxHistory.
func (c *Context) AppendMessage(role, content string) {
	c.History = append(c.History, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if len(c.History) > MaxHistory {
		c.History = c.History[len(c.History)-MaxHistory:]
	}
	c.UpdatedAt = time.Now()
}

// SetPendingSlot marks the conversation as awaiting a value for slot.
func (c *Context) SetPendingSlot(slot string) {
	c.AwaitingSlotFill = true
	c.PendingSlot = slot
	c.UpdatedAt = time.Now()
}

// ClearPendingSlot resets the slot-filling state.
func (c *Context) ClearPendingSlot() {
	c.AwaitingSlotFill = false
	c.PendingSlot = ""
	c.UpdatedAt = time.Now()
}
