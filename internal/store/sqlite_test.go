// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers conversation state machine guards, messages, and interaction counting

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newConversation(customer string) *Conversation {
	return &Conversation{
		ID:             uuid.New().String(),
		CustomerNumber: customer,
		DisplayName:    "Maria",
		Status:         StatusPending,
		CreatedBy:      "system",
		CreatedAt:      time.Now(),
	}
}

func TestCreateAndGetConversation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	conv := newConversation("5511999990000")
	require.NoError(t, s.CreateConversation(ctx, conv))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.CustomerNumber, got.CustomerNumber)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "Maria", got.DisplayName)
	assert.Empty(t, got.AssignedAgentID)
}

func TestGetConversation_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetConversation(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOpenConversation_CoversPendingAndActive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	conv := newConversation("5511988880000")
	require.NoError(t, s.CreateConversation(ctx, conv))

	got, err := s.GetOpenConversation(ctx, "5511988880000")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	// Still found after activation
	require.NoError(t, s.MarkConversationActive(ctx, conv.ID))
	got, err = s.GetOpenConversation(ctx, "5511988880000")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	// Not found once closed
	require.NoError(t, s.CloseConversation(ctx, conv.ID))
	_, err = s.GetOpenConversation(ctx, "5511988880000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseConversation_DoubleCloseRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	conv := newConversation("5511977770000")
	require.NoError(t, s.CreateConversation(ctx, conv))

	require.NoError(t, s.CloseConversation(ctx, conv.ID))

	err := s.CloseConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrConversationClosed)
}

func TestCloseConversation_MissingIsNotFound(t *testing.T) {
	s := createTestStore(t)

	err := s.CloseConversation(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignConversation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	conv := newConversation("5511966660000")
	require.NoError(t, s.CreateConversation(ctx, conv))

	require.NoError(t, s.AssignConversation(ctx, conv.ID, "agent-1", false))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.AssignedAgentID)
	assert.Equal(t, StatusActive, got.Status, "assignment activates a pending conversation")

	// Assigning again without reassign is a no-op
	require.NoError(t, s.AssignConversation(ctx, conv.ID, "agent-2", false))
	got, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.AssignedAgentID)

	// Explicit reassignment replaces the agent
	require.NoError(t, s.AssignConversation(ctx, conv.ID, "agent-2", true))
	got, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent-2", got.AssignedAgentID)
}

func TestAssignConversation_ClosedRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	conv := newConversation("5511955550000")
	require.NoError(t, s.CreateConversation(ctx, conv))
	require.NoError(t, s.CloseConversation(ctx, conv.ID))

	err := s.AssignConversation(ctx, conv.ID, "agent-1", false)
	assert.ErrorIs(t, err, ErrConversationClosed)
}

func TestCountOpenAssigned(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, customer := range []string{"111", "222", "333"} {
		conv := newConversation(customer)
		require.NoError(t, s.CreateConversation(ctx, conv))
		require.NoError(t, s.AssignConversation(ctx, conv.ID, "agent-1", false))
		if i == 2 {
			require.NoError(t, s.CloseConversation(ctx, conv.ID))
		}
	}

	count, err := s.CountOpenAssigned(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "closed conversations don't count")
}

func TestMessages_AppendAndOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	conv := newConversation("5511944440000")
	require.NoError(t, s.CreateConversation(ctx, conv))

	base := time.Now()
	for i, m := range []struct {
		sender, content, tier string
	}{
		{SenderCustomer, "Olá", ""},
		{SenderBot, "Olá Maria!", "fallback"},
		{SenderAgent, "Posso ajudar?", ""},
	} {
		require.NoError(t, s.SaveMessage(ctx, &Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			Sender:         m.sender,
			Content:        m.content,
			ResponderTier:  m.tier,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := s.GetConversationMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Olá", msgs[0].Content)
	assert.Equal(t, "fallback", msgs[1].ResponderTier)
	assert.Equal(t, SenderAgent, msgs[2].Sender)
}

func TestCountInteractionsSince(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.SaveInteraction(ctx, &BotInteraction{
			ID:            uuid.New().String(),
			CustomerPhone: "5511933330000",
			UserMessage:   "oi",
			BotResponse:   "olá",
			Tier:          "fallback",
			CreatedAt:     now.Add(-time.Duration(i) * 30 * time.Minute),
		}))
	}
	// Another customer's interactions don't count
	require.NoError(t, s.SaveInteraction(ctx, &BotInteraction{
		ID:            uuid.New().String(),
		CustomerPhone: "other",
		UserMessage:   "oi",
		CreatedAt:     now,
	}))

	count, err := s.CountInteractionsSince(ctx, "5511933330000", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = s.CountInteractionsSince(ctx, "5511933330000", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestGetAnalytics(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Now()

	interactions := []*BotInteraction{
		{Tier: "llm"},
		{Tier: "fallback"},
		{Tier: "fallback"},
		{Escalated: true, EscalationReason: "user_requested"},
		{Escalated: true, EscalationReason: "max_bot_responses"},
	}
	for _, in := range interactions {
		in.ID = uuid.New().String()
		in.CustomerPhone = "5511922220000"
		in.UserMessage = "msg"
		in.CreatedAt = now
		require.NoError(t, s.SaveInteraction(ctx, in))
	}

	a, err := s.GetAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, a.TotalInteractions)
	assert.Equal(t, 2, a.Escalated)
	assert.Equal(t, 2, a.ByTier["fallback"])
	assert.Equal(t, 1, a.ByTier["llm"])
	assert.Equal(t, 1, a.EscalationReasons["user_requested"])
	assert.Equal(t, 5, a.Last24Hours)
}
