// ABOUTME: Responder chain: ordered, timeout-bound response tiers with a permanent fallback
// ABOUTME: Tier failures are never surfaced; the chain falls through until something answers

package responder

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/zapdesk/zapdesk-gateway/internal/contextstore"
)

// minReplyLength rejects degenerate replies (a bare "ok." from an LLM is
// treated the same as no answer).
const minReplyLength = 10

// handoffPhrases mark replies where a tier tries to hand the customer off on
// its own. Such replies are discarded so escalation only ever happens through
// the escalation policy.
var handoffPhrases = []string{
	"transferir",
	"encaminhar para atendente",
	"encaminhar_para_humano",
	"não posso ajudar",
	"transfer to an agent",
	"falar com atendente",
}

// Request carries one inbound message through the chain.
type Request struct {
	Message     string
	DisplayName string
	Context     *contextstore.Context
}

// Reply is a produced bot response and the tier that produced it.
// A nil *Reply with a nil error means the tier has no answer.
type Reply struct {
	Text string
	Tier string
}

// Responder is one tier in the chain.
type Responder interface {
	// Name identifies the tier in ledger records and analytics.
	Name() string

	// TryRespond returns a reply, or (nil, nil) when the tier has no
	// answer. Errors are treated identically to no answer by the chain.
	TryRespond(ctx context.Context, req Request) (*Reply, error)
}

// tierEntry pairs a responder with its call timeout.
type tierEntry struct {
	responder Responder
	timeout   time.Duration
}

// Chain calls responders in priority order and returns the first acceptable
// reply. Every call is bounded by the tier's timeout so a hung responder can
// never stall message handling.
type Chain struct {
	tiers  []tierEntry
	logger *slog.Logger
}

// NewChain creates an empty chain. Pass nil logger for the default.
func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		logger: logger.With("component", "responder"),
	}
}

// Add appends a tier with the given timeout. A timeout of 0 means the tier
// runs without a deadline (only sensible for pure in-process tiers).
func (c *Chain) Add(r Responder, timeout time.Duration) *Chain {
	c.tiers = append(c.tiers, tierEntry{responder: r, timeout: timeout})
	return c
}

// Respond walks the chain and returns the first acceptable reply. Returns nil
// only if every tier, including any fallback, declines — which cannot happen
// when the chain is terminated by the permanent Fallback tier.
func (c *Chain) Respond(ctx context.Context, req Request) *Reply {
	for _, tier := range c.tiers {
		reply := c.tryTier(ctx, tier, req)
		if reply != nil {
			return reply
		}
	}
	return nil
}

func (c *Chain) tryTier(ctx context.Context, tier tierEntry, req Request) *Reply {
	tierCtx := ctx
	if tier.timeout > 0 {
		var cancel context.CancelFunc
		tierCtx, cancel = context.WithTimeout(ctx, tier.timeout)
		defer cancel()
	}

	reply, err := tier.responder.TryRespond(tierCtx, req)
	if err != nil {
		// Timeouts, transport errors, and malformed replies all fall
		// through to the next tier; the customer never sees them.
		c.logger.Debug("tier failed, falling through",
			"tier", tier.responder.Name(),
			"error", err)
		return nil
	}
	if reply == nil || strings.TrimSpace(reply.Text) == "" {
		return nil
	}

	if ContainsHandoffPhrase(reply.Text) {
		c.logger.Debug("tier reply implied handoff, discarding",
			"tier", tier.responder.Name())
		return nil
	}

	return reply
}

// ContainsHandoffPhrase reports whether text contains a phrase implying the
// responder is trying to hand off to a human on its own.
func ContainsHandoffPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range handoffPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
