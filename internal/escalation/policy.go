// ABOUTME: Rule-based escalation policy deciding when a human agent must take over
// ABOUTME: Pure priority-ordered decision over (message text, conversation context)

package escalation

import (
	"fmt"
	"strings"
	"time"

	"github.com/zapdesk/zapdesk-gateway/internal/contextstore"
)

// Escalation reasons, in decision priority order. Exactly one reason is ever
// returned for a message; reasons are never combined.
const (
	ReasonUserRequested        = "user_requested"
	ReasonMaxBotResponses      = "max_bot_responses"
	ReasonComplexIntent        = "complex_intent"
	ReasonUserFrustration      = "user_frustration"
	ReasonPreviousEscalation   = "previous_escalation"
	ReasonOutsideBusinessHours = "outside_business_hours"
	ReasonAllBotsFailed        = "all_bots_failed"
)

// escalationKeywords are phrases that indicate the user wants human help.
var escalationKeywords = []string{
	"falar com atendente", "atendente", "operador", "humano", "pessoa",
	"talk to agent", "agent", "human", "operator", "representative",
	"urgente", "urgent", "problema grave", "serious problem",
	"reclamação", "complaint", "insatisfeito", "dissatisfied",
}

// complexIntents are topics that should always reach a human.
var complexIntents = []string{
	"refund", "reembolso", "cancelamento", "cancel", "estorno",
	"problema técnico", "technical issue", "bug", "falha",
	"conta bloqueada", "account blocked", "login problem",
	"cobrança incorreta", "billing issue", "pagamento",
}

// frustrationWords signal the conversation is going badly.
var frustrationWords = []string{
	"não entendi", "não funciona", "frustrado", "irritado",
	"confused", "frustrated", "não resolve", "não ajuda",
}

// Policy decides whether a message escalates to a human agent.
// ShouldEscalate is side-effect-free: persisting the decision into the
// context store is the caller's responsibility.
type Policy struct {
	// MaxBotTurns is the bot-response count at which escalation triggers.
	MaxBotTurns int

	// BusinessHoursStart/End bound the business-hours rule; both nil
	// disables it (24/7 operation). Hours are evaluated in Location.
	BusinessHoursStart *int
	BusinessHoursEnd   *int
	Location           *time.Location

	// Now is the clock; nil means time.Now. Injected for deterministic tests.
	Now func() time.Time
}

// ShouldEscalate evaluates the escalation rules in fixed priority order and
// returns the first matching reason. First match wins; a message matching
// both an explicit request and a frustration keyword is always user_requested.
func (p *Policy) ShouldEscalate(message string, ctx *contextstore.Context) (bool, string) {
	lower := strings.ToLower(message)

	if containsAny(lower, escalationKeywords) {
		return true, ReasonUserRequested
	}

	if ctx.BotResponseCount >= p.maxTurns() {
		return true, ReasonMaxBotResponses
	}

	if containsAny(lower, complexIntents) {
		return true, ReasonComplexIntent
	}

	if containsAny(lower, frustrationWords) {
		return true, ReasonUserFrustration
	}

	if ctx.EscalationRequested {
		return true, ReasonPreviousEscalation
	}

	if p.outsideBusinessHours() && containsAny(lower, complexIntents) {
		return true, ReasonOutsideBusinessHours
	}

	return false, ""
}

func (p *Policy) maxTurns() int {
	if p.MaxBotTurns <= 0 {
		return 4
	}
	return p.MaxBotTurns
}

func (p *Policy) outsideBusinessHours() bool {
	if p.BusinessHoursStart == nil || p.BusinessHoursEnd == nil {
		return false
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}

	hour := now().In(loc).Hour()
	return hour < *p.BusinessHoursStart || hour >= *p.BusinessHoursEnd
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DetectStage classifies the message into a conversation stage, keeping the
// current stage when nothing matches.
func DetectStage(message string, current string) string {
	lower := strings.ToLower(message)

	switch {
	case containsAny(lower, []string{"oi", "ola", "olá", "hello", "hi"}):
		return contextstore.StageGreeting
	case containsAny(lower, []string{"preco", "preço", "valor", "quanto custa"}):
		return contextstore.StagePricingInquiry
	case containsAny(lower, []string{"problema", "erro", "bug"}):
		return contextstore.StageSupportRequest
	case containsAny(lower, []string{"horario", "horário", "funcionamento"}):
		return contextstore.StageInfoRequest
	case containsAny(lower, []string{"obrigado", "obrigada", "valeu", "thanks"}):
		return contextstore.StageClosing
	case current != "":
		return current
	default:
		return contextstore.StageGeneral
	}
}

// Notice returns the customer-facing escalation message for a reason,
// personalized with the customer's display name.
func Notice(reason, displayName string) string {
	notices := map[string]string{
		ReasonUserRequested:        "Perfeito, %s! Vou conectar você com um de nossos atendentes. Um momento, por favor.",
		ReasonMaxBotResponses:      "Para melhor atendê-lo, %s, vou conectar você com um atendente especializado.",
		ReasonComplexIntent:        "Entendo que sua solicitação é importante, %s. Vou conectar você com um especialista que pode ajudá-lo melhor.",
		ReasonUserFrustration:      "Peço desculpas pela confusão, %s. Vou transferir você para um atendente humano agora.",
		ReasonPreviousEscalation:   "Como solicitado, %s, vou conectar você com um atendente.",
		ReasonOutsideBusinessHours: "Como estamos fora do horário comercial, %s, vou conectar você com nosso atendente de plantão.",
		ReasonAllBotsFailed:        "Para garantir o melhor atendimento, %s, vou conectar você com nossa equipe.",
	}

	format, ok := notices[reason]
	if !ok {
		format = "Vou conectar você com um atendente, %s."
	}
	return fmt.Sprintf(format, displayName)
}
