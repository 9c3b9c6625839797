// ABOUTME: HTTP surface tests for the gateway: webhooks, agent API, and health
// ABOUTME: Runs against a real engine with the rule-based fallback tier only

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdesk/zapdesk-gateway/internal/config"
	"github.com/zapdesk/zapdesk-gateway/internal/store"
)

func newTestGateway(t *testing.T, mutate func(*config.Config)) *Gateway {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Auth.JWTSecret = "gateway-test-secret"
	cfg.Bot.MaxTurns = config.DefaultMaxTurns
	cfg.Bot.ContextTTL = config.DefaultContextTTL
	cfg.Bot.SweepInterval = config.DefaultSweepInterval
	cfg.Gate.MaxPerDay = 100
	cfg.Gate.MaxPerWindow = 100
	if mutate != nil {
		mutate(cfg)
	}

	g, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = g.Shutdown(ctx)
	})
	return g
}

func evolutionBody(number, text string) string {
	return `{
		"event": "messages.upsert",
		"data": {
			"pushName": "Maria",
			"key": {"remoteJid": "` + number + `@s.whatsapp.net", "fromMe": false},
			"message": {"conversation": "` + text + `"}
		}
	}`
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && strings.Contains(rec.Header().Get("Content-Type"), "json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestEvolutionWebhook_RespondsToGreeting(t *testing.T) {
	g := newTestGateway(t, nil)
	mux := g.routes()

	rec, body := doJSON(t, mux, http.MethodPost, "/webhook/evolution",
		evolutionBody("5511999990000", "Olá"), nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "responded", body["status"])

	conv, err := g.store.GetOpenConversation(context.Background(), "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, conv.Status)
}

func TestEvolutionWebhook_StatusEventsIgnored(t *testing.T) {
	g := newTestGateway(t, nil)

	rec, body := doJSON(t, g.routes(), http.MethodPost, "/webhook/evolution",
		`{"event": "connection.update"}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", body["status"])
}

func TestEvolutionWebhook_MalformedPayload(t *testing.T) {
	g := newTestGateway(t, nil)

	rec, _ := doJSON(t, g.routes(), http.MethodPost, "/webhook/evolution", `{broken`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTwilioWebhook_EscalationRequest(t *testing.T) {
	g := newTestGateway(t, nil)

	form := "From=whatsapp%3A%2B5511999990000&Body=quero+falar+com+atendente&ProfileName=Maria"
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	g.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "escalated", body["status"])
	assert.Equal(t, "user_requested", body["reason"])
}

func TestN8NWebhook_SecretEnforced(t *testing.T) {
	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Providers.N8N.WebhookSecret = "n8n-secret"
	})
	mux := g.routes()
	payload := `{"from": "5511966660000", "message": "bom dia", "profile_name": "Carlos"}`

	rec, _ := doJSON(t, mux, http.MethodPost, "/webhook/n8n", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := doJSON(t, mux, http.MethodPost, "/webhook/n8n", payload,
		map[string]string{"X-N8N-Api-Key": "n8n-secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "responded", body["status"])
	assert.NotEmpty(t, body["reply"], "n8n gets the reply text to deliver itself")
}

func TestAPIRequiresBearerToken(t *testing.T) {
	g := newTestGateway(t, nil)

	rec, _ := doJSON(t, g.routes(), http.MethodGet, "/api/conversations", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAgentAPIFlow(t *testing.T) {
	g := newTestGateway(t, nil)
	mux := g.routes()

	token, err := g.verifier.Generate("agent-1", time.Hour)
	require.NoError(t, err)
	authed := map[string]string{"Authorization": "Bearer " + token}

	// A customer escalates.
	rec, body := doJSON(t, mux, http.MethodPost, "/webhook/evolution",
		evolutionBody("5511999990000", "atendente"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "escalated", body["status"])

	// The agent lists conversations.
	rec, body = doJSON(t, mux, http.MethodGet, "/api/conversations", "", authed)
	require.Equal(t, http.StatusOK, rec.Code)
	convs := body["conversations"].([]any)
	require.Len(t, convs, 1)
	convID := convs[0].(map[string]any)["id"].(string)

	// Replies land in the ledger and go straight out.
	rec, _ = doJSON(t, mux, http.MethodPost, "/api/conversations/"+convID+"/reply",
		`{"text": "Olá! Em que posso ajudar?"}`, authed)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = doJSON(t, mux, http.MethodGet, "/api/conversations/"+convID+"/messages", "", authed)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := body["messages"].([]any)
	require.GreaterOrEqual(t, len(msgs), 3, "customer message, escalation notice, agent reply")
	last := msgs[len(msgs)-1].(map[string]any)
	assert.Equal(t, store.SenderAgent, last["sender"])

	// Closing twice is a conflict.
	rec, _ = doJSON(t, mux, http.MethodPost, "/api/conversations/"+convID+"/close", "", authed)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, mux, http.MethodPost, "/api/conversations/"+convID+"/close", "", authed)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Replying to a closed conversation is rejected.
	rec, _ = doJSON(t, mux, http.MethodPost, "/api/conversations/"+convID+"/reply",
		`{"text": "tarde demais"}`, authed)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAnalyticsEndpoint(t *testing.T) {
	g := newTestGateway(t, nil)
	mux := g.routes()

	rec, _ := doJSON(t, mux, http.MethodPost, "/webhook/evolution",
		evolutionBody("5511999990000", "Olá"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	token, err := g.verifier.Generate("agent-1", time.Hour)
	require.NoError(t, err)

	rec, body := doJSON(t, mux, http.MethodGet, "/api/analytics", "",
		map[string]string{"Authorization": "Bearer " + token})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total_interactions"])
}

func TestContextAdminEndpoints(t *testing.T) {
	g := newTestGateway(t, nil)
	mux := g.routes()

	rec, _ := doJSON(t, mux, http.MethodPost, "/webhook/evolution",
		evolutionBody("5511999990000", "Olá"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, g.contexts.Len())

	token, err := g.verifier.Generate("agent-1", time.Hour)
	require.NoError(t, err)
	authed := map[string]string{"Authorization": "Bearer " + token}

	rec, _ = doJSON(t, mux, http.MethodPost, "/api/contexts/5511999990000/clear", "", authed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, g.contexts.Len())

	rec, body := doJSON(t, mux, http.MethodPost, "/api/contexts/sweep", "", authed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["removed"])
}

func TestHealthEndpoints(t *testing.T) {
	g := newTestGateway(t, nil)
	mux := g.routes()

	rec, _ := doJSON(t, mux, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Not ready until an agent connects.
	rec, _ = doJSON(t, mux, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	agentCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.hub.Register(agentCtx, "agent-1")

	rec, _ = doJSON(t, g.routes(), http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
