package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/internal/store"
	"github.com/capitalize-ai/support-chat/pkg/logger"
	"github.com/capitalize-ai/support-chat/pkg/metrics"
)

// ReceiptService advances delivery status and announces the changes.
type ReceiptService struct {
	store         store.Store
	messages      *MessageService
	conversations *ConversationService
	broadcaster   Broadcaster
	logger        *logger.Logger
}

// NewReceiptService creates a receipt service.
func NewReceiptService(
	s store.Store,
	messages *MessageService,
	conversations *ConversationService,
	broadcaster Broadcaster,
	log *logger.Logger,
) *ReceiptService {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &ReceiptService{
		store:         s,
		messages:      messages,
		conversations: conversations,
		broadcaster:   broadcaster,
		logger:        log.Component("receipts"),
	}
}

// Delivered records that a recipient client received messageID. Authors
// cannot acknowledge their own messages. A broadcast happens only when the
// status actually advanced; a message already seen stays seen.
func (s *ReceiptService) Delivered(ctx context.Context, id model.Identity, messageID string) (bool, error) {
	if messageID == "" {
		return false, fmt.Errorf("%w: messageId is required", ErrValidation)
	}
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return false, err
	}
	if _, err := s.conversations.Authorize(ctx, id, msg.ConversationID); err != nil {
		return false, err
	}
	if msg.SenderID == id.UserID {
		return false, fmt.Errorf("%w: cannot acknowledge own message", ErrForbidden)
	}

	msg, changed, err := s.messages.UpdateStatus(ctx, messageID, model.StatusDelivered)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	s.broadcaster.Broadcast(model.NewEvent(model.EventMessageDelivered, msg.ConversationID, &model.MessageDeliveredEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
	}), "")
	return true, nil
}

// Seen marks every not-yet-seen message that counterpartID authored in the
// conversation as seen, in one batch, and broadcasts the affected ids.
func (s *ReceiptService) Seen(ctx context.Context, id model.Identity, conversationID, counterpartID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "ReceiptService.Seen")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	if counterpartID == "" {
		return nil, fmt.Errorf("%w: senderId is required", ErrValidation)
	}
	if _, err := s.conversations.Authorize(ctx, id, conversationID); err != nil {
		return nil, err
	}
	if counterpartID == id.UserID {
		return nil, fmt.Errorf("%w: cannot mark own messages seen", ErrForbidden)
	}

	ids, err := s.store.MarkSeen(ctx, conversationID, counterpartID)
	if err != nil {
		return nil, fmt.Errorf("mark seen: %w", err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	metrics.StatusTransitions.WithLabelValues(string(model.StatusSeen)).Add(float64(len(ids)))
	s.broadcaster.Broadcast(model.NewEvent(model.EventMessageSeen, conversationID, &model.MessageSeenEvent{
		ConversationID: conversationID,
		MessageIDs:     ids,
	}), "")

	s.logger.Debug("messages seen",
		zap.String("conversation_id", conversationID),
		zap.String("reader_id", id.UserID),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}
