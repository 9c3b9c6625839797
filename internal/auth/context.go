// ABOUTME: Authentication context for tracking agent identity through request handlers
// ABOUTME: Provides WithAgent/AgentFromContext for propagating the agent ID via context

package auth

import (
	"context"
)

// agentKey is the key type for storing the agent ID in context.Context.
type agentKey struct{}

// WithAgent returns a new context with the authenticated agent ID attached.
func WithAgent(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentKey{}, agentID)
}

// AgentFromContext retrieves the agent ID from the context, returning "" if
// not present.
func AgentFromContext(ctx context.Context) string {
	id, _ := ctx.Value(agentKey{}).(string)
	return id
}
