// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/interaction persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT PRIMARY KEY,
			customer_number   TEXT NOT NULL,
			display_name      TEXT,
			status            TEXT NOT NULL DEFAULT 'pending',
			assigned_agent_id TEXT,
			created_by        TEXT NOT NULL,
			created_at        TEXT NOT NULL,

			CHECK (status IN ('pending', 'active', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_customer
			ON conversations(customer_number, status);

		CREATE INDEX IF NOT EXISTS idx_conversations_agent
			ON conversations(assigned_agent_id, status);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender          TEXT NOT NULL,
			content         TEXT NOT NULL,
			responder_tier  TEXT,
			created_at      TEXT NOT NULL,

			CHECK (sender IN ('customer', 'agent', 'bot', 'system')),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS bot_interactions (
			id                TEXT PRIMARY KEY,
			customer_phone    TEXT NOT NULL,
			user_message      TEXT NOT NULL,
			bot_response      TEXT,
			tier              TEXT,
			escalated         INTEGER NOT NULL DEFAULT 0,
			escalation_reason TEXT,
			created_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_interactions_phone_time
			ON bot_interactions(customer_phone, created_at);

		CREATE INDEX IF NOT EXISTS idx_interactions_time
			ON bot_interactions(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateConversation inserts a new conversation row.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO conversations (id, customer_number, display_name, status, assigned_agent_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.CustomerNumber,
		conv.DisplayName,
		conv.Status,
		conv.AssignedAgentID,
		conv.CreatedBy,
		conv.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "customer", conv.CustomerNumber, "status", conv.Status)
	return nil
}

const conversationColumns = `id, customer_number, COALESCE(display_name, ''), status, COALESCE(assigned_agent_id, ''), created_by, created_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var conv Conversation
	var createdAtStr string

	err := row.Scan(
		&conv.ID,
		&conv.CustomerNumber,
		&conv.DisplayName,
		&conv.Status,
		&conv.AssignedAgentID,
		&conv.CreatedBy,
		&createdAtStr,
	)
	if err != nil {
		return nil, err
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &conv, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// GetOpenConversation retrieves the open (pending or active) conversation for
// a customer number. Open-conversation lookups always use both statuses so an
// ongoing thread is never fragmented into duplicates.
func (s *SQLiteStore) GetOpenConversation(ctx context.Context, customerNumber string) (*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE customer_number = ? AND status IN ('pending', 'active')
		ORDER BY created_at DESC
		LIMIT 1
	`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, customerNumber))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying open conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the most recent conversations, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// MarkConversationActive transitions a pending conversation to active.
func (s *SQLiteStore) MarkConversationActive(ctx context.Context, id string) error {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if conv.Status == StatusClosed {
		return ErrConversationClosed
	}
	if conv.Status == StatusActive {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET status = 'active' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("activating conversation: %w", err)
	}
	return nil
}

// AssignConversation records the assigned agent and activates the conversation.
// A no-op when the conversation is already assigned, unless reassign is set.
func (s *SQLiteStore) AssignConversation(ctx context.Context, id, agentID string, reassign bool) error {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if conv.Status == StatusClosed {
		return ErrConversationClosed
	}
	if conv.AssignedAgentID != "" && !reassign {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET assigned_agent_id = ?, status = 'active' WHERE id = ?`, agentID, id)
	if err != nil {
		return fmt.Errorf("assigning conversation: %w", err)
	}

	s.logger.Debug("assigned conversation", "id", id, "agent_id", agentID, "reassign", reassign)
	return nil
}

// CloseConversation transitions a conversation to closed. The guard runs in
// SQL so a double close is always detected, never silently absorbed.
func (s *SQLiteStore) CloseConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = 'closed' WHERE id = ? AND status != 'closed'`, id)
	if err != nil {
		return fmt.Errorf("closing conversation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking close result: %w", err)
	}
	if affected == 0 {
		// Distinguish missing from already-closed
		if _, err := s.GetConversation(ctx, id); err != nil {
			return err
		}
		return ErrConversationClosed
	}
	return nil
}

// CountOpenAssigned returns how many open conversations are assigned to an agent.
func (s *SQLiteStore) CountOpenAssigned(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE assigned_agent_id = ? AND status IN ('pending', 'active')`,
		agentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting assigned conversations: %w", err)
	}
	return count, nil
}

// SaveMessage appends a message to a conversation.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender, content, responder_tier, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Sender,
		msg.Content,
		msg.ResponderTier,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetConversationMessages returns messages for a conversation in chronological order.
func (s *SQLiteStore) GetConversationMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, conversation_id, sender, content, COALESCE(responder_tier, ''), created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &msg.ResponderTier, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// SaveInteraction writes one bot interaction analytics row.
func (s *SQLiteStore) SaveInteraction(ctx context.Context, in *BotInteraction) error {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO bot_interactions (id, customer_phone, user_message, bot_response, tier, escalated, escalation_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	escalated := 0
	if in.Escalated {
		escalated = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		in.ID,
		in.CustomerPhone,
		in.UserMessage,
		in.BotResponse,
		in.Tier,
		escalated,
		in.EscalationReason,
		in.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting bot interaction: %w", err)
	}
	return nil
}

// CountInteractionsSince counts interactions for a customer since the given time.
func (s *SQLiteStore) CountInteractionsSince(ctx context.Context, customerPhone string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bot_interactions WHERE customer_phone = ? AND created_at >= ?`,
		customerPhone,
		since.UTC().Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting interactions: %w", err)
	}
	return count, nil
}

// GetAnalytics aggregates bot interaction history.
func (s *SQLiteStore) GetAnalytics(ctx context.Context) (*Analytics, error) {
	a := &Analytics{
		ByTier:            make(map[string]int),
		EscalationReasons: make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(escalated), 0) FROM bot_interactions`,
	).Scan(&a.TotalInteractions, &a.Escalated)
	if err != nil {
		return nil, fmt.Errorf("counting interactions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(tier, ''), COUNT(*) FROM bot_interactions WHERE tier != '' GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("querying tier usage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("scanning tier usage: %w", err)
		}
		a.ByTier[tier] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reasonRows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(escalation_reason, ''), COUNT(*) FROM bot_interactions WHERE escalated = 1 GROUP BY escalation_reason`)
	if err != nil {
		return nil, fmt.Errorf("querying escalation reasons: %w", err)
	}
	defer reasonRows.Close()
	for reasonRows.Next() {
		var reason string
		var count int
		if err := reasonRows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("scanning escalation reasons: %w", err)
		}
		a.EscalationReasons[reason] = count
	}
	if err := reasonRows.Err(); err != nil {
		return nil, err
	}

	yesterday := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bot_interactions WHERE created_at >= ?`, yesterday,
	).Scan(&a.Last24Hours)
	if err != nil {
		return nil, fmt.Errorf("counting recent interactions: %w", err)
	}

	return a, nil
}
