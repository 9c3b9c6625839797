// ABOUTME: NLU responder tier calling a Rasa-style REST webhook
// ABOUTME: Posts {sender, message} and takes the first returned utterance

package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// TierNLU is the tier name recorded for NLU responses.
const TierNLU = "nlu"

// NLU is a responder tier backed by a Rasa-compatible REST webhook.
type NLU struct {
	url    string
	client *http.Client
}

// NewNLU creates an NLU tier pointed at a Rasa-style webhook URL
// (e.g. http://localhost:5005/webhooks/rest/webhook).
func NewNLU(url string) *NLU {
	return &NLU{
		url:    url,
		client: &http.Client{},
	}
}

// Name implements Responder.
func (n *NLU) Name() string { return TierNLU }

type nluRequest struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

type nluResponse struct {
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
}

// TryRespond implements Responder.
func (n *NLU) TryRespond(ctx context.Context, req Request) (*Reply, error) {
	sender := "user"
	if req.Context != nil {
		sender = req.Context.CustomerKey
	}

	body, err := json.Marshal(nluRequest{Sender: sender, Message: req.Message})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling nlu webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nlu webhook returned status %d", resp.StatusCode)
	}

	var replies []nluResponse
	if err := json.NewDecoder(resp.Body).Decode(&replies); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(replies) == 0 {
		return nil, nil
	}

	text := strings.TrimSpace(replies[0].Text)
	if text == "" {
		return nil, nil
	}

	return &Reply{Text: text, Tier: TierNLU}, nil
}
