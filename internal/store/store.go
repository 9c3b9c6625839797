// ABOUTME: Store interface and data types for zapdesk-gateway persistence
// ABOUTME: Defines Conversation, Message, BotInteraction and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConversationClosed is returned when closing an already-closed conversation
var ErrConversationClosed = errors.New("conversation already closed")

// Conversation status constants for the conversation state machine
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusClosed  = "closed"
)

// Sender constants for message authorship
const (
	SenderCustomer = "customer"
	SenderAgent    = "agent"
	SenderBot      = "bot"
	SenderSystem   = "system"
)

// Conversation represents one customer thread.
// At most one conversation per customer number may be open
// (status pending or active) at a time.
type Conversation struct {
	ID              string    `json:"id"`
	CustomerNumber  string    `json:"customer_number"`
	DisplayName     string    `json:"display_name"`
	Status          string    `json:"status"`
	AssignedAgentID string    `json:"assigned_agent_id,omitempty"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// Open reports whether the conversation is still accepting messages.
func (c *Conversation) Open() bool {
	return c.Status == StatusPending || c.Status == StatusActive
}

// Message represents a single message within a conversation. Messages are
// append-only; they are never mutated or deleted.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Content        string `json:"content"`
	// ResponderTier records which responder produced a bot message
	// ("llm", "secondary-llm", "nlu", "fallback"); empty for other senders.
	ResponderTier string    `json:"responder_tier,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// BotInteraction is the analytics record written once per automated turn.
// Independent of Message rows; never updated.
type BotInteraction struct {
	ID               string    `json:"id"`
	CustomerPhone    string    `json:"customer_phone"`
	UserMessage      string    `json:"user_message"`
	BotResponse      string    `json:"bot_response"`
	Tier             string    `json:"tier"`
	Escalated        bool      `json:"escalated"`
	EscalationReason string    `json:"escalation_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Analytics summarizes bot interaction history for the admin surface.
type Analytics struct {
	TotalInteractions int            `json:"total_interactions"`
	Escalated         int            `json:"escalated"`
	ByTier            map[string]int `json:"by_tier"`
	EscalationReasons map[string]int `json:"escalation_reasons"`
	Last24Hours       int            `json:"last_24_hours"`
}

// Store defines the interface for conversation ledger persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// GetOpenConversation returns the conversation for the customer with
	// status pending or active, or ErrNotFound if none exists.
	GetOpenConversation(ctx context.Context, customerNumber string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)

	// MarkConversationActive transitions a pending conversation to active.
	// Idempotent for already-active conversations; ErrConversationClosed
	// if the conversation is closed.
	MarkConversationActive(ctx context.Context, id string) error

	// AssignConversation records the agent and activates the conversation.
	// Assigning an already-assigned conversation is a no-op unless reassign
	// is set (admin-equivalent actors only).
	AssignConversation(ctx context.Context, id, agentID string, reassign bool) error

	// CloseConversation transitions to closed. Returns ErrConversationClosed
	// if already closed; closing never silently succeeds twice.
	CloseConversation(ctx context.Context, id string) error

	// CountOpenAssigned returns the number of open conversations assigned
	// to the given agent. Used for least-busy assignment.
	CountOpenAssigned(ctx context.Context, agentID string) (int, error)

	// Messages (append-only)
	SaveMessage(ctx context.Context, msg *Message) error
	GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Bot interactions (analytics, also feed the outbound rate gate)
	SaveInteraction(ctx context.Context, in *BotInteraction) error
	CountInteractionsSince(ctx context.Context, customerPhone string, since time.Time) (int, error)
	GetAnalytics(ctx context.Context) (*Analytics, error)

	// Close releases any resources held by the store
	Close() error
}
