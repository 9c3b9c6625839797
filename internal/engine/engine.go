// ABOUTME: Core routing engine: decides per inbound message between bot response and escalation
// ABOUTME: Serializes per customer, persists the ledger, gates outbound sends, and notifies agents

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapdesk/zapdesk-gateway/internal/contextstore"
	"github.com/zapdesk/zapdesk-gateway/internal/escalation"
	"github.com/zapdesk/zapdesk-gateway/internal/notifier"
	"github.com/zapdesk/zapdesk-gateway/internal/provider"
	"github.com/zapdesk/zapdesk-gateway/internal/responder"
	"github.com/zapdesk/zapdesk-gateway/internal/store"
)

// Outcomes of handling one inbound message.
const (
	OutcomeResponded = "responded"
	OutcomeEscalated = "escalated"
	OutcomeIgnored   = "ignored"
	OutcomeDropped   = "dropped"
)

// sendTimeout bounds the provider call for each delayed outbound send.
const sendTimeout = 15 * time.Second

// Result describes what the engine did with one inbound message.
type Result struct {
	Outcome        string
	Reason         string
	ConversationID string
	ReplyText      string
	Tier           string
}

// responderChain is the slice of responder.Chain the engine needs.
type responderChain interface {
	Respond(ctx context.Context, req responder.Request) *responder.Reply
}

// outboundGate is the slice of gate.Gate the engine needs.
type outboundGate interface {
	Check(ctx context.Context, customerKey string) (string, error)
	Delay() time.Duration
}

// agentHub is the slice of notifier.Hub the engine needs.
type agentHub interface {
	Broadcast(event *notifier.Event)
	ConnectedAgents() []string
}

// Engine routes inbound customer messages: bot tiers answer routine traffic,
// escalation hands the conversation to a human agent.
type Engine struct {
	store    store.Store
	contexts *contextstore.Store
	policy   *escalation.Policy
	chain    responderChain
	gate     outboundGate
	hub      agentHub
	sender   provider.Sender
	allowed  []string
	logger   *slog.Logger

	sendWG sync.WaitGroup
	// sleep waits for the human-like delay; injected for tests. Returns
	// false when ctx was cancelled before the delay elapsed.
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates the routing engine. Pass nil logger for default.
func New(
	st store.Store,
	contexts *contextstore.Store,
	policy *escalation.Policy,
	chain responderChain,
	g outboundGate,
	hub agentHub,
	sender provider.Sender,
	allowedNumbers []string,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		contexts: contexts,
		policy:   policy,
		chain:    chain,
		gate:     g,
		hub:      hub,
		sender:   sender,
		allowed:  allowedNumbers,
		logger:   logger.With("component", "engine"),
		sleep:    sleepCtx,
	}
}

// HandleInbound processes one normalized inbound customer message. Messages
// for the same customer are handled strictly one at a time.
func (e *Engine) HandleInbound(ctx context.Context, ev *provider.InboundEvent) (*Result, error) {
	if !provider.Allowed(e.allowed, ev.CustomerKey) {
		e.logger.Warn("dropping message from unauthorized number", "customer", ev.CustomerKey)
		return &Result{Outcome: OutcomeDropped, Reason: "unauthorized_number"}, nil
	}

	unlock := e.contexts.LockKey(ev.CustomerKey)
	defer unlock()

	convCtx := e.contexts.Get(ev.CustomerKey)

	if escalate, reason := e.policy.ShouldEscalate(ev.Text, convCtx); escalate {
		return e.escalateLocked(ctx, ev, reason)
	}

	reply := e.chain.Respond(ctx, responder.Request{
		Message:     ev.Text,
		DisplayName: ev.DisplayName,
		Context:     convCtx,
	})
	if reply == nil {
		// Every tier declined and no permanent fallback is configured.
		return e.escalateLocked(ctx, ev, escalation.ReasonAllBotsFailed)
	}

	return e.respondLocked(ctx, ev, convCtx, reply)
}

// respondLocked finishes the bot-response path. Caller holds the customer lock.
func (e *Engine) respondLocked(ctx context.Context, ev *provider.InboundEvent, convCtx *contextstore.Context, reply *responder.Reply) (*Result, error) {
	// Blocked sends leave the bot turn budget untouched: only delivered
	// replies count against rate limits and max turns.
	blockReason, err := e.gate.Check(ctx, ev.CustomerKey)
	if err != nil {
		return nil, fmt.Errorf("checking outbound gate: %w", err)
	}
	if blockReason != "" {
		e.logger.Info("bot reply suppressed by gate",
			"customer", ev.CustomerKey, "reason", blockReason)
		if conv, err := e.store.GetOpenConversation(ctx, ev.CustomerKey); err == nil {
			e.appendMessage(ctx, conv.ID, store.SenderCustomer, ev.Text, "")
			e.broadcastMessage(notifier.EventCustomerMessage, conv, ev.Text, "")
		}
		return &Result{Outcome: OutcomeIgnored, Reason: blockReason}, nil
	}

	count := convCtx.BotResponseCount + 1
	stage := escalation.DetectStage(ev.Text, convCtx.Stage)
	e.contexts.Update(ev.CustomerKey, contextstore.Update{
		Stage:            &stage,
		BotResponseCount: &count,
		LastUserMessage:  &ev.Text,
		LastBotResponse:  &reply.Text,
	})

	conv, err := e.openConversation(ctx, ev, store.StatusPending)
	if err != nil {
		return nil, err
	}

	e.appendMessage(ctx, conv.ID, store.SenderCustomer, ev.Text, "")
	e.appendMessage(ctx, conv.ID, store.SenderBot, reply.Text, reply.Tier)

	if err := e.store.SaveInteraction(ctx, &store.BotInteraction{
		ID:            uuid.New().String(),
		CustomerPhone: ev.CustomerKey,
		UserMessage:   ev.Text,
		BotResponse:   reply.Text,
		Tier:          reply.Tier,
	}); err != nil {
		e.logger.Error("saving bot interaction", "error", err)
	}

	e.broadcastMessage(notifier.EventCustomerMessage, conv, ev.Text, "")
	e.broadcastMessage(notifier.EventBotResponse, conv, reply.Text, reply.Tier)

	if e.deliversReply(ev) {
		e.sendDelayed(ev.CustomerKey, reply.Text)
	}

	e.logger.Info("bot responded",
		"customer", ev.CustomerKey,
		"tier", reply.Tier,
		"turn", count)

	return &Result{
		Outcome:        OutcomeResponded,
		ConversationID: conv.ID,
		ReplyText:      reply.Text,
		Tier:           reply.Tier,
	}, nil
}

// escalateLocked hands the conversation to a human agent. Caller holds the
// customer lock.
func (e *Engine) escalateLocked(ctx context.Context, ev *provider.InboundEvent, reason string) (*Result, error) {
	escalated := true
	e.contexts.Update(ev.CustomerKey, contextstore.Update{
		EscalationRequested: &escalated,
		EscalationReason:    &reason,
		LastUserMessage:     &ev.Text,
	})

	conv, err := e.openConversation(ctx, ev, store.StatusActive)
	if err != nil {
		return nil, err
	}
	if conv.Status == store.StatusPending {
		if err := e.store.MarkConversationActive(ctx, conv.ID); err != nil {
			e.logger.Error("activating conversation", "conversation_id", conv.ID, "error", err)
		} else {
			conv.Status = store.StatusActive
		}
	}

	if conv.AssignedAgentID == "" {
		if agentID := e.leastBusyAgent(ctx); agentID != "" {
			if err := e.store.AssignConversation(ctx, conv.ID, agentID, false); err != nil {
				e.logger.Error("assigning conversation", "conversation_id", conv.ID, "error", err)
			} else {
				conv.AssignedAgentID = agentID
			}
		}
	}

	notice := escalation.Notice(reason, ev.DisplayName)

	e.appendMessage(ctx, conv.ID, store.SenderCustomer, ev.Text, "")
	e.appendMessage(ctx, conv.ID, store.SenderBot, notice, "")

	if err := e.store.SaveInteraction(ctx, &store.BotInteraction{
		ID:               uuid.New().String(),
		CustomerPhone:    ev.CustomerKey,
		UserMessage:      ev.Text,
		BotResponse:      notice,
		Tier:             "escalation",
		Escalated:        true,
		EscalationReason: reason,
	}); err != nil {
		e.logger.Error("saving bot interaction", "error", err)
	}

	e.hub.Broadcast(&notifier.Event{
		Type:           notifier.EventNewEscalation,
		ConversationID: conv.ID,
		CustomerNumber: conv.CustomerNumber,
		DisplayName:    ev.DisplayName,
		Content:        ev.Text,
		Reason:         reason,
		AgentID:        conv.AssignedAgentID,
		Status:         conv.Status,
	})

	if e.deliversReply(ev) {
		e.sendDelayed(ev.CustomerKey, notice)
	}

	e.logger.Info("conversation escalated",
		"customer", ev.CustomerKey,
		"conversation_id", conv.ID,
		"reason", reason,
		"agent_id", conv.AssignedAgentID)

	return &Result{
		Outcome:        OutcomeEscalated,
		Reason:         reason,
		ConversationID: conv.ID,
		ReplyText:      notice,
	}, nil
}

// AgentReply records and delivers a human agent's reply. Agent sends bypass
// the gate and the human-like delay.
func (e *Engine) AgentReply(ctx context.Context, conversationID, agentID, text string) (*store.Message, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Open() {
		return nil, store.ErrConversationClosed
	}

	if conv.Status == store.StatusPending {
		if err := e.store.MarkConversationActive(ctx, conv.ID); err != nil {
			return nil, err
		}
	}
	if conv.AssignedAgentID == "" {
		if err := e.store.AssignConversation(ctx, conv.ID, agentID, false); err != nil {
			e.logger.Error("assigning conversation on reply", "error", err)
		}
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         store.SenderAgent,
		Content:        text,
	}
	if err := e.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("saving agent message: %w", err)
	}

	e.hub.Broadcast(&notifier.Event{
		Type:           notifier.EventAgentMessage,
		ConversationID: conv.ID,
		CustomerNumber: conv.CustomerNumber,
		Content:        text,
		Sender:         store.SenderAgent,
		AgentID:        agentID,
	})

	if err := e.sender.SendText(ctx, conv.CustomerNumber, text); err != nil {
		return nil, fmt.Errorf("delivering agent reply: %w", err)
	}

	return msg, nil
}

// CloseConversation closes a conversation, thanks the customer, and resets
// the routing context so the next message starts fresh with the bot.
func (e *Engine) CloseConversation(ctx context.Context, conversationID, closedBy string) error {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	if err := e.store.CloseConversation(ctx, conversationID); err != nil {
		return err
	}

	e.contexts.Clear(conv.CustomerNumber)

	closing := fmt.Sprintf("Obrigado pelo contato, %s! Sua conversa foi finalizada. Se precisar de mais alguma coisa, estaremos aqui!", conv.DisplayName)
	e.appendMessage(ctx, conv.ID, store.SenderSystem, closing, "")

	e.hub.Broadcast(&notifier.Event{
		Type:           notifier.EventConversationClosed,
		ConversationID: conv.ID,
		CustomerNumber: conv.CustomerNumber,
		DisplayName:    conv.DisplayName,
		AgentID:        closedBy,
		Status:         store.StatusClosed,
	})

	if err := e.sender.SendText(ctx, conv.CustomerNumber, closing); err != nil {
		e.logger.Error("sending closing message", "conversation_id", conv.ID, "error", err)
	}

	e.logger.Info("conversation closed", "conversation_id", conv.ID, "closed_by", closedBy)
	return nil
}

// AssignConversation assigns (or with reassign, transfers) a conversation and
// notifies connected agents.
func (e *Engine) AssignConversation(ctx context.Context, conversationID, agentID string, reassign bool) error {
	if err := e.store.AssignConversation(ctx, conversationID, agentID, reassign); err != nil {
		return err
	}

	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	e.hub.Broadcast(&notifier.Event{
		Type:           notifier.EventConversationStatus,
		ConversationID: conv.ID,
		CustomerNumber: conv.CustomerNumber,
		AgentID:        conv.AssignedAgentID,
		Status:         conv.Status,
	})
	return nil
}

// Shutdown waits for pending delayed sends to finish, up to ctx's deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.sendWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliversReply reports whether the gateway itself delivers the reply for
// this event's source. n8n workflows receive the reply text in the webhook
// response and deliver it themselves, so sending here would double-message
// the customer.
func (e *Engine) deliversReply(ev *provider.InboundEvent) bool {
	return ev.Provider != provider.ProviderN8N
}

// openConversation returns the customer's open conversation, creating one
// with the given status if none exists.
func (e *Engine) openConversation(ctx context.Context, ev *provider.InboundEvent, status string) (*store.Conversation, error) {
	conv, err := e.store.GetOpenConversation(ctx, ev.CustomerKey)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	conv = &store.Conversation{
		ID:             uuid.New().String(),
		CustomerNumber: ev.CustomerKey,
		DisplayName:    ev.DisplayName,
		Status:         status,
		CreatedBy:      ev.Provider,
	}
	if err := e.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	e.logger.Info("conversation created",
		"conversation_id", conv.ID,
		"customer", ev.CustomerKey,
		"status", status)
	return conv, nil
}

// leastBusyAgent picks the connected agent with the fewest open assigned
// conversations. Returns "" when no agent is connected.
func (e *Engine) leastBusyAgent(ctx context.Context) string {
	agents := e.hub.ConnectedAgents()
	if len(agents) == 0 {
		return ""
	}

	best := ""
	bestCount := -1
	for _, id := range agents {
		count, err := e.store.CountOpenAssigned(ctx, id)
		if err != nil {
			e.logger.Error("counting assigned conversations", "agent_id", id, "error", err)
			continue
		}
		if bestCount == -1 || count < bestCount {
			best, bestCount = id, count
		}
	}
	return best
}

func (e *Engine) appendMessage(ctx context.Context, conversationID, sender, content, tier string) {
	err := e.store.SaveMessage(ctx, &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		ResponderTier:  tier,
	})
	if err != nil {
		e.logger.Error("saving message", "conversation_id", conversationID, "error", err)
	}
}

func (e *Engine) broadcastMessage(eventType string, conv *store.Conversation, content, tier string) {
	e.hub.Broadcast(&notifier.Event{
		Type:           eventType,
		ConversationID: conv.ID,
		CustomerNumber: conv.CustomerNumber,
		DisplayName:    conv.DisplayName,
		Content:        content,
		Tier:           tier,
	})
}

// sendDelayed dispatches one outbound message after the human-like delay.
// Exactly one send is attempted per call; failures are logged, not retried.
func (e *Engine) sendDelayed(customerKey, text string) {
	delay := e.gate.Delay()
	e.sendWG.Add(1)
	go func() {
		defer e.sendWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), delay+sendTimeout)
		defer cancel()

		if !e.sleep(ctx, delay) {
			return
		}
		if err := e.sender.SendText(ctx, customerKey, text); err != nil {
			e.logger.Error("delayed send failed", "customer", customerKey, "error", err)
		}
	}()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
