// ABOUTME: Permanent rule-based fallback tier: pure, deterministic, no external I/O
// ABOUTME: Keyword-matched canned responses with a rotating default keyed by turn count

package responder

import (
	"context"
	"fmt"
	"strings"
)

// TierFallback is the tier name recorded for fallback responses.
const TierFallback = "fallback"

const businessHoursInfo = `📅 Nossos horários de atendimento:

🕘 Segunda a Sexta: 8h às 18h
🕘 Sábado: 8h às 12h
❌ Domingo: Fechado

Fora desses horários, deixe sua mensagem que retornaremos assim que possível!`

const contactInfo = `📞 Nossos contatos:

📱 WhatsApp: Este número que você está usando
☎️ Telefone: (11) 1234-5678
📧 Email: contato@empresa.com

Estou aqui para ajudar no que precisar!`

const pricingInfo = "Para informações detalhadas sobre preços, posso conectá-lo com um consultor. Digite 'atendente' se desejar!"

const servicesInfo = "Temos vários serviços disponíveis! Para informações específicas, posso conectá-lo com nossa equipe. Digite 'atendente'!"

// faqResponses maps keywords to canned answers.
var faqResponses = []struct {
	keyword  string
	response string
}{
	{"horario", businessHoursInfo},
	{"horário", businessHoursInfo},
	{"funcionamento", businessHoursInfo},
	{"contato", contactInfo},
	{"telefone", contactInfo},
	{"email", contactInfo},
	{"endereco", contactInfo},
	{"endereço", contactInfo},
	{"preco", pricingInfo},
	{"preço", pricingInfo},
	{"valor", pricingInfo},
	{"servico", servicesInfo},
	{"serviço", servicesInfo},
	{"produto", servicesInfo},
}

var greetingWords = []string{"oi", "ola", "olá", "hello", "hi", "bom dia", "boa tarde", "boa noite"}
var thanksWords = []string{"obrigado", "obrigada", "valeu", "thanks"}
var problemWords = []string{"problema", "erro", "nao funciona", "não funciona", "bug", "defeito"}
var complaintWords = []string{"reclamacao", "reclamação", "insatisfeito", "ruim", "pessimo", "péssimo"}

// defaultResponses rotate by bot-response count so repeated unresolved turns
// see varied phrasing.
var defaultResponses = []string{
	"Recebi sua mensagem, %s! Para ajudá-lo melhor, posso conectá-lo com um atendente. Digite 'atendente' ou me diga como posso ajudar com:\n\n🕒 Horários\n💰 Preços\n📞 Contato",
	"Obrigado pela mensagem, %s! Posso ajudar com informações básicas ou conectá-lo com um especialista. Digite 'atendente' para falar com nossa equipe!",
	"Entendi, %s! Para melhor atendê-lo, posso conectar você com um atendente humano. Digite 'atendente' ou me diga sobre o que gostaria de saber!",
}

// Fallback is the permanent terminal tier. It is pure and deterministic, has
// no external dependencies, and always produces a response.
type Fallback struct{}

// NewFallback creates the permanent fallback tier.
func NewFallback() *Fallback {
	return &Fallback{}
}

// Name implements Responder.
func (f *Fallback) Name() string { return TierFallback }

// TryRespond implements Responder. Unlike the other tiers it never declines.
func (f *Fallback) TryRespond(_ context.Context, req Request) (*Reply, error) {
	return &Reply{Text: f.respond(req), Tier: TierFallback}, nil
}

func (f *Fallback) respond(req Request) string {
	lower := strings.ToLower(strings.TrimSpace(req.Message))
	name := req.DisplayName
	if name == "" {
		name = "Cliente"
	}

	if containsAnyWord(lower, greetingWords) {
		return f.greeting(name, req)
	}

	if containsAnyWord(lower, thanksWords) {
		return fmt.Sprintf("😊 Por nada, %s! Fico feliz em ajudar! Se precisar de mais alguma coisa, estarei aqui!", name)
	}

	for _, faq := range faqResponses {
		if strings.Contains(lower, faq.keyword) {
			return faq.response
		}
	}

	if containsAnyWord(lower, problemWords) {
		return fmt.Sprintf("🔧 Entendo que você está com um problema, %s. Para resolver isso da melhor forma, vou conectar você com nosso suporte técnico. Digite 'atendente' para continuar.", name)
	}

	if containsAnyWord(lower, complaintWords) {
		return fmt.Sprintf("😔 Lamento que tenha tido uma experiência negativa, %s. Sua opinião é muito importante. Vou conectar você com um supervisor. Digite 'atendente'.", name)
	}

	index := 0
	if req.Context != nil {
		index = req.Context.BotResponseCount % len(defaultResponses)
	}
	return fmt.Sprintf(defaultResponses[index], name)
}

func (f *Fallback) greeting(name string, req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Olá %s! 👋 ", name)

	if req.Context != nil && req.Context.BotResponseCount > 0 {
		b.WriteString("Que bom ter você de volta! ")
	} else {
		b.WriteString("Bem-vindo! ")
	}

	b.WriteString(`Como posso ajudá-lo hoje?

🕒 Horários de atendimento
💰 Preços e serviços
📞 Informações de contato
❓ Dúvidas gerais

Ou digite 'atendente' para conversar com nossa equipe!`)
	return b.String()
}

func containsAnyWord(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
