// Package store provides persistence for conversations, messages and the
// local identity directory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/support-chat/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// AppendParams describes a message to append to a conversation's log.
type AppendParams struct {
	MessageID      string
	ConversationID string
	SenderID       string
	SenderRole     model.Role
	Body           string
	// AdminID, when non-empty, replaces the conversation's stored admin in the
	// same transaction as the append.
	AdminID string
}

// Store is the persistence boundary of the chat service. Every mutation is
// keyed by a single conversation or message id and applied atomically.
type Store interface {
	// UpsertUser records an identity and its role.
	UpsertUser(ctx context.Context, userID string, role model.Role) error

	// ListAdmins returns admin identities, oldest first.
	ListAdmins(ctx context.Context) ([]model.User, error)

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, userID string) (*model.User, error)

	// UpdateLastSeen sets the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateConversation inserts conv unless the buyer already has one, and
	// returns the stored conversation. created is false when the row existed.
	CreateConversation(ctx context.Context, conv *model.Conversation) (stored *model.Conversation, created bool, err error)

	// GetConversation retrieves a conversation by ID.
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)

	// GetConversationByBuyer retrieves the conversation owned by buyerID.
	GetConversationByBuyer(ctx context.Context, buyerID string) (*model.Conversation, error)

	// ListConversations returns all conversations, most recently updated first.
	ListConversations(ctx context.Context) ([]model.Conversation, error)

	// AppendMessage persists a message and updates the owning conversation's
	// summary, sequence and updatedAt in one transaction.
	AppendMessage(ctx context.Context, p AppendParams) (*model.Message, *model.Conversation, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, messageID string) (*model.Message, error)

	// ListMessages returns every message of a conversation in sequence order.
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)

	// AdvanceStatus raises a message's status to status if it is currently
	// lower. changed is false when the request was a no-op.
	AdvanceStatus(ctx context.Context, messageID string, status model.Status) (msg *model.Message, changed bool, err error)

	// MarkSeen marks every not-yet-seen message authored by senderID in the
	// conversation as seen and returns the affected ids in sequence order.
	MarkSeen(ctx context.Context, conversationID, senderID string) ([]string, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
