package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/internal/store"
	"github.com/capitalize-ai/support-chat/pkg/logger"
	"github.com/capitalize-ai/support-chat/pkg/metrics"
)

// MaxBodyBytes bounds a message body.
const MaxBodyBytes = 100000

// Transport labels where a send originated.
type Transport string

const (
	TransportRealtime Transport = "realtime"
	TransportREST     Transport = "rest"
)

// MessageService owns the append-only message log and the send path shared by
// the realtime gateway and the REST fallback.
type MessageService struct {
	store         store.Store
	conversations *ConversationService
	broadcaster   Broadcaster
	logger        *logger.Logger

	convLocks *keyedMutex
}

// NewMessageService creates a message service.
func NewMessageService(
	s store.Store,
	conversations *ConversationService,
	broadcaster Broadcaster,
	log *logger.Logger,
) *MessageService {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &MessageService{
		store:         s,
		conversations: conversations,
		broadcaster:   broadcaster,
		logger:        log.Component("messages"),
		convLocks:     newKeyedMutex(),
	}
}

// ValidateBody checks a message body.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: message cannot be empty", ErrValidation)
	}
	if len(body) > MaxBodyBytes {
		return fmt.Errorf("%w: message exceeds maximum length", ErrValidation)
	}
	if !utf8.ValidString(body) {
		return fmt.Errorf("%w: message must be valid UTF-8", ErrValidation)
	}
	return nil
}

// Append persists a message. The conversation's summary and updatedAt change
// in the same transaction. An admin reply may reassign the conversation
// according to the assignment policy.
func (s *MessageService) Append(ctx context.Context, conversationID, senderID string, role model.Role, body string) (*model.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation_id", conversationID),
		attribute.String("sender_role", string(role)),
	)

	if err := ValidateBody(body); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	params := store.AppendParams{
		MessageID:      uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderRole:     role,
		Body:           body,
	}

	if role == model.RoleAdmin {
		conv, err := s.conversations.Get(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if next := s.conversations.Policy().OnReply(conv, senderID); next != "" && next != conv.AdminID {
			params.AdminID = next
		}
	}

	msg, conv, err := s.store.AppendMessage(ctx, params)
	if err != nil {
		return nil, notFound(err, "conversation", conversationID)
	}

	if params.AdminID != "" {
		s.logger.Info("conversation reassigned",
			zap.String("conversation_id", conv.ID),
			zap.String("admin_id", conv.AdminID),
		)
	}
	return msg, nil
}

// Send authorizes the caller, appends the message and broadcasts it to the
// conversation room. Nothing is broadcast if persistence fails. Append and
// broadcast run under a per-conversation lock so the room observes messages
// in persistence order.
func (s *MessageService) Send(ctx context.Context, id model.Identity, conversationID, body string, via Transport) (*model.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversationId is required", ErrValidation)
	}
	if err := ValidateBody(body); err != nil {
		return nil, err
	}

	conv, err := s.conversations.Authorize(ctx, id, conversationID)
	if err != nil {
		return nil, err
	}
	role, err := SenderRole(id, conv)
	if err != nil {
		return nil, err
	}

	unlock := s.convLocks.Lock(conversationID)
	defer unlock()

	msg, err := s.Append(ctx, conversationID, id.UserID, role, body)
	if err != nil {
		return nil, err
	}

	metrics.MessagesTotal.WithLabelValues(string(role), string(via)).Inc()
	s.broadcaster.Broadcast(model.NewEvent(model.EventReceiveMessage, conversationID, &model.ReceiveMessageEvent{
		ConversationID: conversationID,
		Message:        msg,
	}), "")

	s.logger.Debug("message sent",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", msg.ID),
		zap.Uint64("sequence", msg.Sequence),
		zap.String("transport", string(via)),
	)
	return msg, nil
}

// List returns every message of a conversation in persistence order. The
// result is unbounded: there is no pagination, so very long conversations are
// returned whole.
func (s *MessageService) List(ctx context.Context, conversationID string) ([]model.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.List")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Get retrieves a message by ID.
func (s *MessageService) Get(ctx context.Context, messageID string) (*model.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, notFound(err, "message", messageID)
	}
	return msg, nil
}

// UpdateStatus advances a message's status. Requests for a status at or below
// the current one are no-ops and report changed=false.
func (s *MessageService) UpdateStatus(ctx context.Context, messageID string, status model.Status) (*model.Message, bool, error) {
	ctx, span := tracer.Start(ctx, "MessageService.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("message_id", messageID),
		attribute.String("status", string(status)),
	)

	if status.Rank() == 0 {
		return nil, false, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	msg, changed, err := s.store.AdvanceStatus(ctx, messageID, status)
	if err != nil {
		return nil, false, notFound(err, "message", messageID)
	}
	if changed {
		metrics.StatusTransitions.WithLabelValues(string(status)).Inc()
	}
	return msg, changed, nil
}
