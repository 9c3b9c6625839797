// ABOUTME: Inbound webhook normalization for the supported messaging providers
// ABOUTME: Each parser maps a provider payload onto the common InboundEvent shape

package provider

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Provider names recorded on normalized events.
const (
	ProviderTwilio    = "twilio"
	ProviderEvolution = "evolution"
	ProviderWAHA      = "waha"
	ProviderN8N       = "n8n"
)

// InboundEvent is a provider-independent inbound customer message. Parsers
// return (nil, nil) for payloads that are valid but carry nothing to route:
// non-message events, own outbound echoes, and messages without text.
type InboundEvent struct {
	CustomerKey string
	Text        string
	DisplayName string
	Provider    string
}

// Allowed reports whether the customer key passes the allow-list. An empty
// list accepts everyone.
func Allowed(allowedNumbers []string, customerKey string) bool {
	if len(allowedNumbers) == 0 {
		return true
	}
	for _, n := range allowedNumbers {
		if strings.TrimSpace(n) == customerKey {
			return true
		}
	}
	return false
}

// FallbackDisplayName builds a display name from the last digits of the
// customer key when the provider supplied none.
func FallbackDisplayName(customerKey string) string {
	digits := customerKey
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	if digits == "" {
		return "Cliente"
	}
	return "Cliente " + digits
}

// normalizeDisplayName replaces absent or placeholder profile names with the
// number-derived fallback.
func normalizeDisplayName(name, customerKey string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "null", "cliente":
		return FallbackDisplayName(customerKey)
	}
	return strings.TrimSpace(name)
}

// stripNumber removes provider prefixes and whitespace from a phone number.
func stripNumber(raw string) string {
	n := strings.TrimSpace(raw)
	n = strings.TrimPrefix(n, "whatsapp:")
	n = strings.TrimPrefix(n, "+")
	return n
}

// ParseTwilio normalizes a Twilio WhatsApp webhook form post.
func ParseTwilio(form url.Values) (*InboundEvent, error) {
	from := stripNumber(form.Get("From"))
	if from == "" {
		return nil, fmt.Errorf("twilio payload missing From")
	}

	body := strings.TrimSpace(form.Get("Body"))
	if body == "" {
		return nil, nil
	}

	return &InboundEvent{
		CustomerKey: from,
		Text:        body,
		DisplayName: normalizeDisplayName(form.Get("ProfileName"), from),
		Provider:    ProviderTwilio,
	}, nil
}

type evolutionPayload struct {
	Event string `json:"event"`
	Data  struct {
		PushName string `json:"pushName"`
		Key      struct {
			RemoteJid string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
		} `json:"key"`
		Message struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
		} `json:"message"`
	} `json:"data"`
}

// ParseEvolution normalizes an Evolution API webhook. Only messages.upsert
// events from the remote side are routed; connection and QR-code updates are
// acknowledged and dropped.
func ParseEvolution(body []byte) (*InboundEvent, error) {
	var p evolutionPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decoding evolution payload: %w", err)
	}

	if p.Event != "messages.upsert" {
		return nil, nil
	}
	if p.Data.Key.FromMe {
		return nil, nil
	}

	number := strings.TrimSuffix(p.Data.Key.RemoteJid, "@s.whatsapp.net")
	if number == "" {
		return nil, fmt.Errorf("evolution payload missing remoteJid")
	}

	text := p.Data.Message.Conversation
	if text == "" {
		text = p.Data.Message.ExtendedTextMessage.Text
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	return &InboundEvent{
		CustomerKey: number,
		Text:        strings.TrimSpace(text),
		DisplayName: normalizeDisplayName(p.Data.PushName, number),
		Provider:    ProviderEvolution,
	}, nil
}

type wahaPayload struct {
	Event   string `json:"event"`
	Payload struct {
		From   string `json:"from"`
		Body   string `json:"body"`
		FromMe bool   `json:"fromMe"`
		Data   struct {
			NotifyName string `json:"notifyName"`
		} `json:"_data"`
	} `json:"payload"`
}

// ParseWAHA normalizes a WAHA webhook. Only message events from the remote
// side are routed.
func ParseWAHA(body []byte) (*InboundEvent, error) {
	var p wahaPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decoding waha payload: %w", err)
	}

	if p.Event != "message" {
		return nil, nil
	}
	if p.Payload.FromMe {
		return nil, nil
	}

	number := strings.TrimSuffix(p.Payload.From, "@c.us")
	if number == "" {
		return nil, fmt.Errorf("waha payload missing from")
	}

	if strings.TrimSpace(p.Payload.Body) == "" {
		return nil, nil
	}

	return &InboundEvent{
		CustomerKey: number,
		Text:        strings.TrimSpace(p.Payload.Body),
		DisplayName: normalizeDisplayName(p.Payload.Data.NotifyName, number),
		Provider:    ProviderWAHA,
	}, nil
}

type n8nPayload struct {
	From        string `json:"from"`
	Message     string `json:"message"`
	ProfileName string `json:"profile_name"`
	WorkflowID  string `json:"workflow_id"`
}

// ParseN8N normalizes an n8n workflow webhook post.
func ParseN8N(body []byte) (*InboundEvent, error) {
	var p n8nPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decoding n8n payload: %w", err)
	}

	from := stripNumber(p.From)
	if from == "" {
		return nil, fmt.Errorf("n8n payload missing from")
	}
	if strings.TrimSpace(p.Message) == "" {
		return nil, nil
	}

	return &InboundEvent{
		CustomerKey: from,
		Text:        strings.TrimSpace(p.Message),
		DisplayName: normalizeDisplayName(p.ProfileName, from),
		Provider:    ProviderN8N,
	}, nil
}
