// ABOUTME: WebSocket endpoint streaming hub events to agent dashboards
// ABOUTME: Authenticates via token query parameter, push-only from the server side

package notifier

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// writeTimeout bounds each event write so one stuck session cannot pin the
// pump goroutine.
const writeTimeout = 10 * time.Second

// tokenVerifier is the slice of auth.TokenVerifier the handler needs.
type tokenVerifier interface {
	Verify(tokenString string) (agentID string, err error)
}

// Handler returns the HTTP handler for the agent realtime channel. Agents
// connect with ?token=<jwt>; connections presenting a bad token are closed
// with status 1008 (policy violation) after the handshake.
func Handler(hub *Hub, verifier tokenVerifier, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent-ws")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept failed", "error", err)
			return
		}

		agentID, err := verifier.Verify(r.URL.Query().Get("token"))
		if err != nil {
			logger.Warn("rejecting websocket with bad token", "error", err)
			conn.Close(websocket.StatusPolicyViolation, "invalid token")
			return
		}

		logger.Info("agent connected", "agent_id", agentID)

		// The channel is push-only: CloseRead discards client frames and
		// cancels the context when the peer goes away.
		ctx := conn.CloseRead(r.Context())

		events, sessionID := hub.Register(ctx, agentID)
		defer hub.Unregister(agentID, sessionID)

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				logger.Info("agent disconnected", "agent_id", agentID)
				return
			case event, ok := <-events:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "shutting down")
					return
				}
				writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := wsjson.Write(writeCtx, conn, event)
				cancel()
				if err != nil {
					logger.Debug("write to agent session failed",
						"agent_id", agentID, "error", err)
					conn.Close(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	})
}
