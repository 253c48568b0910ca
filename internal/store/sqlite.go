package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/pkg/logger"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(path string, log *logger.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows a single writer; one connection serializes transactions
	// instead of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: log.With(zap.String("component", "store")),
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s.logger.Info("SQLite store initialized", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL CHECK (role IN ('buyer', 'admin')),
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role, created_at);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL UNIQUE,
		admin_id TEXT NOT NULL,
		last_message TEXT NOT NULL DEFAULT '',
		last_seq INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		seq INTEGER NOT NULL,
		sender_id TEXT NOT NULL,
		sender_role TEXT NOT NULL CHECK (sender_role IN ('buyer', 'admin')),
		body TEXT NOT NULL,
		status INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		UNIQUE (conversation_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_sender_status
		ON messages(conversation_id, sender_id, status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertUser records an identity and its role.
func (s *SQLiteStore) UpsertUser(ctx context.Context, userID string, role model.Role) error {
	query := `
	INSERT INTO users (id, role, created_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET role = excluded.role`

	if _, err := s.db.ExecContext(ctx, query, userID, string(role), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// ListAdmins returns admin identities, oldest first.
func (s *SQLiteStore) ListAdmins(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, created_at, last_seen_at FROM users WHERE role = ? ORDER BY created_at, id`,
		string(model.RoleAdmin))
	if err != nil {
		return nil, fmt.Errorf("query admins: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, role, created_at, last_seen_at FROM users WHERE id = ?`, userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// UpdateLastSeen sets the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen_at = ? WHERE id = ?`, lastSeen.UnixMilli(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateConversation inserts conv unless the buyer already has a conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	query := `
	INSERT INTO conversations (id, buyer_id, admin_id, last_message, last_seq, created_at, updated_at)
	VALUES (?, ?, ?, '', 0, ?, ?)
	ON CONFLICT(buyer_id) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.BuyerID, conv.AdminID,
		conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("get rows affected: %w", err)
	}

	stored, err := s.GetConversationByBuyer(ctx, conv.BuyerID)
	if err != nil {
		return nil, false, err
	}
	return stored, rows == 1, nil
}

const conversationColumns = `id, buyer_id, admin_id, last_message, last_seq, created_at, updated_at`

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, conversationID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

// GetConversationByBuyer retrieves the conversation owned by buyerID.
func (s *SQLiteStore) GetConversationByBuyer(ctx context.Context, buyerID string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE buyer_id = ?`, buyerID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

// ListConversations returns all conversations, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

// AppendMessage persists a message and updates the owning conversation in one
// transaction. The conversation's last_seq is bumped with UPDATE ... RETURNING
// so every message gets a unique, gap-free sequence number.
func (s *SQLiteStore) AppendMessage(ctx context.Context, p AppendParams) (*model.Message, *model.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `
	UPDATE conversations
	SET last_seq = last_seq + 1,
		last_message = ?,
		updated_at = ?,
		admin_id = CASE WHEN ? <> '' THEN ? ELSE admin_id END
	WHERE id = ?
	RETURNING `+conversationColumns,
		p.Body, now.UnixMilli(), p.AdminID, p.AdminID, p.ConversationID,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("update conversation: %w", err)
	}

	msg := &model.Message{
		ID:             p.MessageID,
		ConversationID: p.ConversationID,
		Sequence:       conv.LastSequence,
		SenderID:       p.SenderID,
		SenderRole:     p.SenderRole,
		Body:           p.Body,
		Status:         model.StatusSent,
		CreatedAt:      now.Truncate(time.Millisecond),
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO messages (id, conversation_id, seq, sender_id, sender_role, body, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Sequence, msg.SenderID, string(msg.SenderRole),
		msg.Body, msg.Status.Rank(), msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return msg, conv, nil
}

const messageColumns = `id, conversation_id, seq, sender_id, sender_role, body, status, created_at`

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

// ListMessages returns every message of a conversation in sequence order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// AdvanceStatus raises a message's status if it is currently lower.
func (s *SQLiteStore) AdvanceStatus(ctx context.Context, messageID string, status model.Status) (*model.Message, bool, error) {
	rank := status.Rank()
	if rank == 0 {
		return nil, false, fmt.Errorf("unknown status %q", status)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE id = ? AND status < ?`, rank, messageID, rank)
	if err != nil {
		return nil, false, fmt.Errorf("update status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("get rows affected: %w", err)
	}

	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return msg, rows == 1, nil
}

// MarkSeen marks every not-yet-seen message authored by senderID as seen.
func (s *SQLiteStore) MarkSeen(ctx context.Context, conversationID, senderID string) ([]string, error) {
	seen := model.StatusSeen.Rank()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
	SELECT id FROM messages
	WHERE conversation_id = ? AND sender_id = ? AND status < ?
	ORDER BY seq`, conversationID, senderID, seen)
	if err != nil {
		return nil, fmt.Errorf("query unseen messages: %w", err)
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	if _, err := tx.ExecContext(ctx, `
	UPDATE messages SET status = ?
	WHERE conversation_id = ? AND sender_id = ? AND status < ?`,
		seen, conversationID, senderID, seen); err != nil {
		return nil, fmt.Errorf("mark seen: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*model.Conversation, error) {
	var conv model.Conversation
	var createdAt, updatedAt int64
	if err := row.Scan(
		&conv.ID, &conv.BuyerID, &conv.AdminID, &conv.LastMessage,
		&conv.LastSequence, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	conv.CreatedAt = time.UnixMilli(createdAt).UTC()
	conv.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &conv, nil
}

func scanMessage(row scanner) (*model.Message, error) {
	var msg model.Message
	var role string
	var rank int
	var createdAt int64
	if err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.Sequence, &msg.SenderID,
		&role, &msg.Body, &rank, &createdAt,
	); err != nil {
		return nil, err
	}
	status, err := model.StatusFromRank(rank)
	if err != nil {
		return nil, err
	}
	msg.SenderRole = model.Role(role)
	msg.Status = status
	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &msg, nil
}

func scanUser(row scanner) (*model.User, error) {
	var u model.User
	var role string
	var createdAt int64
	var lastSeen sql.NullInt64
	if err := row.Scan(&u.ID, &role, &createdAt, &lastSeen); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	if lastSeen.Valid {
		t := time.UnixMilli(lastSeen.Int64).UTC()
		u.LastSeenAt = &t
	}
	return &u, nil
}
