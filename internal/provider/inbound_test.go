// ABOUTME: Tests for inbound webhook normalization
// ABOUTME: Uses payload shapes captured from the real provider APIs

package provider

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTwilio(t *testing.T) {
	form := url.Values{}
	form.Set("From", "whatsapp:+5511999990000")
	form.Set("Body", "Olá, preciso de ajuda")
	form.Set("ProfileName", "Maria")

	ev, err := ParseTwilio(form)

	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "5511999990000", ev.CustomerKey)
	assert.Equal(t, "Olá, preciso de ajuda", ev.Text)
	assert.Equal(t, "Maria", ev.DisplayName)
	assert.Equal(t, ProviderTwilio, ev.Provider)
}

func TestParseTwilio_MissingFromIsError(t *testing.T) {
	form := url.Values{}
	form.Set("Body", "oi")

	_, err := ParseTwilio(form)
	assert.Error(t, err)
}

func TestParseTwilio_EmptyBodyIsDropped(t *testing.T) {
	form := url.Values{}
	form.Set("From", "whatsapp:+5511999990000")

	ev, err := ParseTwilio(form)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestParseTwilio_PlaceholderProfileNameFallsBack(t *testing.T) {
	for _, name := range []string{"", "None", "null", "Cliente"} {
		form := url.Values{}
		form.Set("From", "whatsapp:+5511999990000")
		form.Set("Body", "oi")
		form.Set("ProfileName", name)

		ev, err := ParseTwilio(form)
		require.NoError(t, err)
		assert.Equal(t, "Cliente 0000", ev.DisplayName, "profile name %q", name)
	}
}

func TestParseEvolution(t *testing.T) {
	body := []byte(`{
		"event": "messages.upsert",
		"data": {
			"pushName": "João",
			"key": {"remoteJid": "5511988880000@s.whatsapp.net", "fromMe": false},
			"message": {"conversation": "quero falar com atendente"}
		}
	}`)

	ev, err := ParseEvolution(body)

	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "5511988880000", ev.CustomerKey)
	assert.Equal(t, "quero falar com atendente", ev.Text)
	assert.Equal(t, "João", ev.DisplayName)
	assert.Equal(t, ProviderEvolution, ev.Provider)
}

func TestParseEvolution_ExtendedTextMessage(t *testing.T) {
	body := []byte(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5511988880000@s.whatsapp.net"},
			"message": {"extendedTextMessage": {"text": "mensagem com link"}}
		}
	}`)

	ev, err := ParseEvolution(body)

	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "mensagem com link", ev.Text)
}

func TestParseEvolution_OwnMessagesDropped(t *testing.T) {
	body := []byte(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5511988880000@s.whatsapp.net", "fromMe": true},
			"message": {"conversation": "resposta do bot ecoada"}
		}
	}`)

	ev, err := ParseEvolution(body)

	require.NoError(t, err)
	assert.Nil(t, ev, "own outbound echoes must not loop back into routing")
}

func TestParseEvolution_NonMessageEventsDropped(t *testing.T) {
	for _, event := range []string{"connection.update", "qrcode.updated"} {
		ev, err := ParseEvolution([]byte(`{"event": "` + event + `"}`))
		require.NoError(t, err)
		assert.Nil(t, ev, "event %q", event)
	}
}

func TestParseEvolution_InvalidJSON(t *testing.T) {
	_, err := ParseEvolution([]byte(`{not json`))
	assert.Error(t, err)
}

func TestParseWAHA(t *testing.T) {
	body := []byte(`{
		"event": "message",
		"payload": {
			"from": "5511977770000@c.us",
			"body": "qual o preço?",
			"fromMe": false,
			"_data": {"notifyName": "Ana"}
		}
	}`)

	ev, err := ParseWAHA(body)

	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "5511977770000", ev.CustomerKey)
	assert.Equal(t, "qual o preço?", ev.Text)
	assert.Equal(t, "Ana", ev.DisplayName)
	assert.Equal(t, ProviderWAHA, ev.Provider)
}

func TestParseWAHA_OwnMessagesDropped(t *testing.T) {
	body := []byte(`{
		"event": "message",
		"payload": {"from": "5511977770000@c.us", "body": "echo", "fromMe": true}
	}`)

	ev, err := ParseWAHA(body)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestParseN8N(t *testing.T) {
	body := []byte(`{
		"from": "whatsapp:5511966660000",
		"message": "bom dia",
		"profile_name": "Carlos",
		"workflow_id": "wf-123"
	}`)

	ev, err := ParseN8N(body)

	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "5511966660000", ev.CustomerKey)
	assert.Equal(t, "bom dia", ev.Text)
	assert.Equal(t, "Carlos", ev.DisplayName)
	assert.Equal(t, ProviderN8N, ev.Provider)
}

func TestParseN8N_PlaceholderNameFallsBack(t *testing.T) {
	body := []byte(`{"from": "5511966660000", "message": "oi", "profile_name": "none"}`)

	ev, err := ParseN8N(body)

	require.NoError(t, err)
	assert.Equal(t, "Cliente 0000", ev.DisplayName)
}

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed(nil, "5511999990000"), "empty list accepts everyone")
	assert.True(t, Allowed([]string{"5511999990000", "5511988880000"}, "5511988880000"))
	assert.True(t, Allowed([]string{" 5511999990000 "}, "5511999990000"), "entries are trimmed")
	assert.False(t, Allowed([]string{"5511999990000"}, "5511911111111"))
}

func TestFallbackDisplayName(t *testing.T) {
	assert.Equal(t, "Cliente 0000", FallbackDisplayName("5511999990000"))
	assert.Equal(t, "Cliente 123", FallbackDisplayName("123"))
	assert.Equal(t, "Cliente", FallbackDisplayName(""))
}
