// ABOUTME: HTTP handlers for provider webhooks and the agent REST API
// ABOUTME: Webhooks normalize payloads and hand them to the routing engine

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/zapdesk/zapdesk-gateway/internal/auth"
	"github.com/zapdesk/zapdesk-gateway/internal/provider"
	"github.com/zapdesk/zapdesk-gateway/internal/store"
)

// maxWebhookBody caps inbound webhook payloads.
const maxWebhookBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// dispatch routes a normalized inbound event through the engine and writes
// the webhook acknowledgment. A nil event is a valid payload with nothing to
// route (own echoes, status events, empty messages).
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request, ev *provider.InboundEvent, parseErr error) {
	if parseErr != nil {
		g.logger.Warn("rejecting malformed webhook payload", "error", parseErr)
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if ev == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	res, err := g.engine.HandleInbound(r.Context(), ev)
	if err != nil {
		g.logger.Error("handling inbound message",
			"provider", ev.Provider, "customer", ev.CustomerKey, "error", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": res.Outcome,
		"reason": res.Reason,
	})
}

func (g *Gateway) handleTwilioWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form")
		return
	}
	ev, err := provider.ParseTwilio(r.PostForm)
	g.dispatch(w, r, ev, err)
}

func (g *Gateway) handleEvolutionWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}
	ev, err := provider.ParseEvolution(body)
	g.dispatch(w, r, ev, err)
}

func (g *Gateway) handleWAHAWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}
	ev, err := provider.ParseWAHA(body)
	g.dispatch(w, r, ev, err)
}

func (g *Gateway) handleN8NWebhook(w http.ResponseWriter, r *http.Request) {
	if !g.n8nAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}

	ev, err := provider.ParseN8N(body)
	if err != nil || ev == nil {
		g.dispatch(w, r, ev, err)
		return
	}

	res, err := g.engine.HandleInbound(r.Context(), ev)
	if err != nil {
		g.logger.Error("handling n8n message", "customer", ev.CustomerKey, "error", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	// n8n workflows deliver the reply themselves, so it is echoed back.
	writeJSON(w, http.StatusOK, map[string]string{
		"status": res.Outcome,
		"reason": res.Reason,
		"reply":  res.ReplyText,
	})
}

// n8nAuthorized checks the shared webhook secret. An empty configured secret
// disables the check.
func (g *Gateway) n8nAuthorized(r *http.Request) bool {
	secret := g.config.Providers.N8N.WebhookSecret
	if secret == "" {
		return true
	}

	key := r.Header.Get("X-N8N-Api-Key")
	if key == "" {
		key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return key == secret
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	convs, err := g.store.ListConversations(r.Context(), limit)
	if err != nil {
		g.logger.Error("listing conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "listing conversations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := g.store.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "loading conversation")
		return
	}

	msgs, err := g.store.GetConversationMessages(r.Context(), id, 200)
	if err != nil {
		g.logger.Error("listing messages", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "listing messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type replyRequest struct {
	Text string `json:"text"`
}

func (g *Gateway) handleAgentReply(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agentID := auth.AgentFromContext(r.Context())

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	msg, err := g.engine.AgentReply(r.Context(), id, agentID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, store.ErrConversationClosed):
			writeError(w, http.StatusConflict, "conversation is closed")
		default:
			g.logger.Error("agent reply", "conversation_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "sending reply")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": msg})
}

func (g *Gateway) handleCloseConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agentID := auth.AgentFromContext(r.Context())

	err := g.engine.CloseConversation(r.Context(), id, agentID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, store.ErrConversationClosed):
			writeError(w, http.StatusConflict, "conversation already closed")
		default:
			g.logger.Error("closing conversation", "conversation_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "closing conversation")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"detail": "conversation closed"})
}

type assignRequest struct {
	AgentID  string `json:"agent_id"`
	Reassign bool   `json:"reassign"`
}

func (g *Gateway) handleAssignConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = auth.AgentFromContext(r.Context())
	}

	err := g.engine.AssignConversation(r.Context(), id, agentID, req.Reassign)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, store.ErrConversationClosed):
			writeError(w, http.StatusConflict, "conversation is closed")
		default:
			g.logger.Error("assigning conversation", "conversation_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "assigning conversation")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"detail": "conversation assigned", "agent_id": agentID})
}

// handleClearContext force-resets a customer's bot context so their next
// message starts a fresh automated session.
func (g *Gateway) handleClearContext(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	g.contexts.Clear(key)
	g.logger.Info("context cleared by agent",
		"customer", key, "agent_id", auth.AgentFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]string{"detail": "context cleared"})
}

func (g *Gateway) handleSweepContexts(w http.ResponseWriter, r *http.Request) {
	removed := g.contexts.SweepExpired()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (g *Gateway) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := g.store.GetAnalytics(r.Context())
	if err != nil {
		g.logger.Error("loading analytics", "error", err)
		writeError(w, http.StatusInternalServerError, "loading analytics")
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}
