// ABOUTME: Outbound message senders for the Evolution API and WAHA
// ABOUTME: All senders implement the Sender interface consumed by the engine

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zapdesk/zapdesk-gateway/internal/config"
)

// Sender delivers a text message to a customer number.
type Sender interface {
	Name() string
	SendText(ctx context.Context, toNumber, text string) error
}

// senderTimeout bounds each outbound API call.
const senderTimeout = 10 * time.Second

// EvolutionSender sends messages through the Evolution API.
type EvolutionSender struct {
	apiURL   string
	apiKey   string
	instance string
	client   *http.Client
}

// NewEvolutionSender creates a sender for the configured Evolution instance.
func NewEvolutionSender(cfg config.EvolutionConfig) *EvolutionSender {
	return &EvolutionSender{
		apiURL:   strings.TrimRight(cfg.APIURL, "/"),
		apiKey:   cfg.APIKey,
		instance: cfg.Instance,
		client:   &http.Client{Timeout: senderTimeout},
	}
}

// Name implements Sender.
func (s *EvolutionSender) Name() string { return ProviderEvolution }

// SendText implements Sender.
func (s *EvolutionSender) SendText(ctx context.Context, toNumber, text string) error {
	payload := map[string]any{
		"number": stripNumber(toNumber),
		"text":   text,
		"delay":  0,
	}
	url := fmt.Sprintf("%s/message/sendText/%s", s.apiURL, s.instance)

	return postJSON(ctx, s.client, url, payload, map[string]string{"apikey": s.apiKey})
}

// WAHASender sends messages through a WAHA instance.
type WAHASender struct {
	apiURL  string
	apiKey  string
	session string
	client  *http.Client
}

// NewWAHASender creates a sender for the configured WAHA session.
func NewWAHASender(cfg config.WAHAConfig) *WAHASender {
	session := cfg.Session
	if session == "" {
		session = "default"
	}
	return &WAHASender{
		apiURL:  strings.TrimRight(cfg.APIURL, "/"),
		apiKey:  cfg.APIKey,
		session: session,
		client:  &http.Client{Timeout: senderTimeout},
	}
}

// Name implements Sender.
func (s *WAHASender) Name() string { return ProviderWAHA }

// SendText implements Sender.
func (s *WAHASender) SendText(ctx context.Context, toNumber, text string) error {
	chatID := stripNumber(toNumber)
	if !strings.HasSuffix(chatID, "@c.us") {
		chatID += "@c.us"
	}
	payload := map[string]any{
		"session": s.session,
		"chatId":  chatID,
		"text":    text,
	}

	headers := map[string]string{}
	if s.apiKey != "" {
		headers["X-Api-Key"] = s.apiKey
	}
	return postJSON(ctx, s.client, s.apiURL+"/api/sendText", payload, headers)
}

// LogSender is used when no outbound provider is configured: messages are
// logged and dropped. Keeps the engine wiring uniform in development.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender that only logs.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With("component", "log-sender")}
}

// Name implements Sender.
func (s *LogSender) Name() string { return "log" }

// SendText implements Sender.
func (s *LogSender) SendText(_ context.Context, toNumber, text string) error {
	s.logger.Info("outbound message (no provider configured)",
		"to", toNumber, "text", text)
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	return nil
}
