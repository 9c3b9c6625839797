// ABOUTME: In-memory fan-out hub pushing conversation events to connected agent sessions
// ABOUTME: Best-effort delivery: slow sessions drop events, dead sessions are removed

package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types pushed to agent dashboards.
const (
	EventCustomerMessage    = "customer_message"
	EventBotResponse        = "bot_response"
	EventAgentMessage       = "agent_message"
	EventNewEscalation      = "new_escalation"
	EventConversationClosed = "conversation_closed"
	EventConversationStatus = "conversation_status"
)

// sessionBufferSize is the channel buffer for each agent session.
const sessionBufferSize = 64

// Event is a single realtime notification. Fields not relevant to the event
// type are omitted from the wire encoding.
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CustomerNumber string    `json:"customer_number,omitempty"`
	DisplayName    string    `json:"display_name,omitempty"`
	Content        string    `json:"content,omitempty"`
	Sender         string    `json:"sender,omitempty"`
	Tier           string    `json:"tier,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
	Status         string    `json:"status,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Hub provides in-memory pub/sub from the engine to connected agent sessions.
// An agent may hold several sessions (multiple dashboard tabs); every session
// receives every event.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]chan *Event // agentID -> sessionID -> ch
	logger   *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]map[string]chan *Event),
		logger:   logger.With("component", "notifier"),
	}
}

// Register adds a session for the given agent. Returns the event channel and
// a session ID for later unregistration. The session is automatically removed
// when ctx is cancelled.
func (h *Hub) Register(ctx context.Context, agentID string) (<-chan *Event, string) {
	sessionID := uuid.New().String()
	ch := make(chan *Event, sessionBufferSize)

	h.mu.Lock()
	if _, ok := h.sessions[agentID]; !ok {
		h.sessions[agentID] = make(map[string]chan *Event)
	}
	h.sessions[agentID][sessionID] = ch
	h.mu.Unlock()

	h.logger.Debug("agent session registered",
		"agent_id", agentID,
		"session_id", sessionID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		h.Unregister(agentID, sessionID)
	}()

	return ch, sessionID
}

// Unregister removes a session and closes its channel.
func (h *Hub) Unregister(agentID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.sessions[agentID]
	if !ok {
		return
	}

	ch, exists := sessions[sessionID]
	if !exists {
		return
	}

	delete(sessions, sessionID)
	close(ch)

	if len(sessions) == 0 {
		delete(h.sessions, agentID)
	}

	h.logger.Debug("agent session removed",
		"agent_id", agentID,
		"session_id", sessionID)
}

// Broadcast sends an event to every connected session. Non-blocking: the
// event is dropped for sessions whose channels are full.
func (h *Hub) Broadcast(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Sends stay under the read lock: Unregister and Close take the write
	// lock to close channels, so a channel can never be closed mid-send.
	// The sends are non-blocking, so the lock is held only briefly.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sessions := range h.sessions {
		for _, ch := range sessions {
			select {
			case ch <- event:
				// Sent
			default:
				h.logger.Debug("dropped event for slow session", "type", event.Type)
			}
		}
	}
}

// ConnectedAgents returns the distinct IDs of agents with at least one live
// session. Used for least-busy assignment of escalated conversations.
func (h *Hub) ConnectedAgents() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	agents := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		agents = append(agents, id)
	}
	return agents
}

// Close shuts down the hub and closes all session channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for agentID, sessions := range h.sessions {
		for sessionID, ch := range sessions {
			close(ch)
			delete(sessions, sessionID)
		}
		delete(h.sessions, agentID)
	}

	h.logger.Debug("notifier hub closed")
}
