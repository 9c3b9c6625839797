// Package gateway orchestrates the zapdesk-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the zapdesk-gateway
// server. It owns and manages all major components: the HTTP server, the
// conversation store, the routing engine, the bot context store, and the
// agent notification hub.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config     *config.Config
//	    store      store.Store
//	    contexts   *contextstore.Store
//	    hub        *notifier.Hub
//	    engine     *engine.Engine
//	    verifier   *auth.JWTVerifier
//	    httpServer *http.Server
//	    sweeper    *cron.Cron
//	    logger     *slog.Logger
//	}
//
// # HTTP Surface
//
// Provider webhooks (unauthenticated except n8n's shared secret):
//
//   - POST /webhook/twilio - Twilio WhatsApp form payloads
//   - POST /webhook/evolution - Evolution API JSON events
//   - POST /webhook/waha - WAHA JSON events
//   - POST /webhook/n8n - n8n workflow calls (reply echoed in the response)
//
// Agent API (bearer token required):
//
//   - GET /api/conversations - List recent conversations
//   - GET /api/conversations/{id}/messages - Conversation transcript
//   - POST /api/conversations/{id}/reply - Send an agent reply
//   - POST /api/conversations/{id}/close - Close with the farewell message
//   - POST /api/conversations/{id}/assign - Assign or reassign an agent
//   - GET /api/analytics - Bot interaction summary
//   - POST /api/contexts/{key}/clear - Reset a customer's bot context
//   - POST /api/contexts/sweep - Evict expired bot contexts
//
// Realtime and health:
//
//   - GET /ws?token=... - Agent WebSocket event stream
//   - GET /health - Liveness check
//   - GET /ready - Readiness (at least one agent connected)
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx)
//
// Run blocks until the context is cancelled, then drains pending delayed
// sends, stops the context sweeper, and closes the store.
//
// # Key Files
//
//   - gateway.go: Gateway struct, wiring, Run/Shutdown
//   - http.go: Webhook and agent API handlers
package gateway
