// ABOUTME: LLM responder tier backed by any OpenAI-compatible chat completion API
// ABOUTME: Used for both the primary hosted model and a secondary local model (e.g. Ollama)

package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/zapdesk/zapdesk-gateway/internal/contextstore"
)

// Tier names for the two LLM positions in the chain.
const (
	TierLLM          = "llm"
	TierSecondaryLLM = "secondary-llm"
)

const systemPromptFormat = `You are a helpful customer service assistant for a Brazilian company.

Customer name: %s
Conversation stage: %s
Previous bot responses: %d

Instructions:
- Respond in Portuguese (Brazilian)
- Be friendly, helpful, and professional
- Keep responses concise (under 150 words)
- Handle common business questions: hours, contact info, pricing, services
- Use appropriate emojis sparingly`

// chatCompleter is the slice of the OpenAI client the tier needs.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLM is a responder tier that calls an OpenAI-compatible chat API.
type LLM struct {
	client chatCompleter
	model  string
	tier   string
}

// NewLLM creates an LLM tier. baseURL overrides the API endpoint; point it at
// a local Ollama instance (OpenAI-compatible mode) for the secondary tier.
func NewLLM(tier, apiKey, baseURL, model string) *LLM {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &LLM{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		tier:   tier,
	}
}

// Name implements Responder.
func (l *LLM) Name() string { return l.tier }

// TryRespond implements Responder. Transport errors and degenerate replies
// are reported as errors/no-answer and absorbed by the chain.
func (l *LLM) TryRespond(ctx context.Context, req Request) (*Reply, error) {
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: buildSystemPrompt(req),
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: buildUserPrompt(req),
		},
	}

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     l.model,
		Messages:  messages,
		MaxTokens: 200,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if len(text) < minReplyLength {
		return nil, nil
	}

	return &Reply{Text: text, Tier: l.tier}, nil
}

func buildSystemPrompt(req Request) string {
	name := req.DisplayName
	if name == "" {
		name = "Cliente"
	}
	stage := contextstore.StageGreeting
	count := 0
	if req.Context != nil {
		stage = req.Context.Stage
		count = req.Context.BotResponseCount
	}
	return fmt.Sprintf(systemPromptFormat, name, stage, count)
}

func buildUserPrompt(req Request) string {
	if req.Context == nil || req.Context.BotResponseCount == 0 {
		return req.Message
	}
	return fmt.Sprintf("Recent context: customer said %q and we responded %q\n\nCurrent customer message: %s",
		req.Context.LastUserMessage, req.Context.LastBotResponse, req.Message)
}
