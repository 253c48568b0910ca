// Package service implements the support chat domain: the conversation
// directory, the message log, presence and delivery/read receipts.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/internal/store"
	"github.com/capitalize-ai/support-chat/pkg/logger"
	"github.com/capitalize-ai/support-chat/pkg/metrics"
)

var tracer = otel.Tracer("github.com/capitalize-ai/support-chat/internal/service")

// ConversationService maps buyers to their single conversation and decides who
// may access it.
type ConversationService struct {
	store  store.Store
	policy AssignmentPolicy
	logger *logger.Logger

	// known caches identities already written to the user directory.
	known sync.Map
}

// NewConversationService creates a conversation service. A nil policy selects
// FirstAvailable.
func NewConversationService(s store.Store, policy AssignmentPolicy, log *logger.Logger) *ConversationService {
	if policy == nil {
		policy = FirstAvailable{}
	}
	return &ConversationService{
		store:  s,
		policy: policy,
		logger: log.Component("conversations"),
	}
}

// Policy returns the assignment policy in use.
func (s *ConversationService) Policy() AssignmentPolicy {
	return s.policy
}

// RegisterIdentity records a verified identity in the user directory so that
// admins become eligible for assignment.
func (s *ConversationService) RegisterIdentity(ctx context.Context, id model.Identity) error {
	if id.UserID == "" || !id.Role.Valid() {
		return fmt.Errorf("%w: incomplete identity", ErrValidation)
	}
	if role, ok := s.known.Load(id.UserID); ok && role == id.Role {
		return nil
	}
	if err := s.store.UpsertUser(ctx, id.UserID, id.Role); err != nil {
		return err
	}
	s.known.Store(id.UserID, id.Role)
	return nil
}

// GetOrCreate returns the buyer's conversation, creating it with an assigned
// admin on first contact. created reports whether this call created it.
func (s *ConversationService) GetOrCreate(ctx context.Context, buyerID string) (*model.Conversation, bool, error) {
	ctx, span := tracer.Start(ctx, "ConversationService.GetOrCreate")
	defer span.End()
	span.SetAttributes(attribute.String("buyer_id", buyerID))

	conv, err := s.store.GetConversationByBuyer(ctx, buyerID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup conversation: %w", err)
	}

	admins, err := s.store.ListAdmins(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("list admins: %w", err)
	}
	adminID, err := s.policy.Assign(ctx, buyerID, admins)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	conv, created, err := s.store.CreateConversation(ctx, &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		BuyerID:   buyerID,
		AdminID:   adminID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}

	if created {
		metrics.ConversationsTotal.Inc()
		s.logger.Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.String("buyer_id", buyerID),
			zap.String("admin_id", adminID),
		)
	}
	return conv, created, nil
}

// ForBuyer returns the buyer's conversation without creating one.
func (s *ConversationService) ForBuyer(ctx context.Context, buyerID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversationByBuyer(ctx, buyerID)
	if err != nil {
		return nil, notFound(err, "conversation for buyer", buyerID)
	}
	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, notFound(err, "conversation", conversationID)
	}
	return conv, nil
}

// List returns every conversation for the admin dashboard, most recently
// updated first. Support is pooled, so every admin sees every conversation.
func (s *ConversationService) List(ctx context.Context, adminID string) ([]model.Conversation, error) {
	ctx, span := tracer.Start(ctx, "ConversationService.List")
	defer span.End()
	span.SetAttributes(attribute.String("admin_id", adminID))

	convs, err := s.store.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// Authorize loads a conversation and checks that id may access it: a buyer
// only their own, an admin any.
func (s *ConversationService) Authorize(ctx context.Context, id model.Identity, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversationId is required", ErrValidation)
	}
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.BuyerID == id.UserID || id.IsAdmin() {
		return conv, nil
	}
	return nil, fmt.Errorf("%w: %s is not a participant of %s", ErrForbidden, id.UserID, conversationID)
}

// SenderRole resolves the role id speaks with in conv. The owning buyer
// always speaks as buyer.
func SenderRole(id model.Identity, conv *model.Conversation) (model.Role, error) {
	if conv.BuyerID == id.UserID {
		return model.RoleBuyer, nil
	}
	if id.IsAdmin() {
		return model.RoleAdmin, nil
	}
	return "", fmt.Errorf("%w: %s is not a participant of %s", ErrForbidden, id.UserID, conv.ID)
}

// ConversationsFor lists the ids of conversations id participates in: the
// buyer's one conversation, or every conversation for an admin. The admin case
// costs O(conversations).
func (s *ConversationService) ConversationsFor(ctx context.Context, id model.Identity) ([]string, error) {
	if id.IsAdmin() {
		convs, err := s.store.ListConversations(ctx)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		ids := make([]string, 0, len(convs))
		for _, c := range convs {
			ids = append(ids, c.ID)
		}
		return ids, nil
	}

	conv, err := s.store.GetConversationByBuyer(ctx, id.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}
	return []string{conv.ID}, nil
}

// CanObserve checks that id may see targetUserID's presence: admins see
// everyone, a buyer sees themselves and the admin assigned to their
// conversation.
func (s *ConversationService) CanObserve(ctx context.Context, id model.Identity, targetUserID string) error {
	if id.IsAdmin() || id.UserID == targetUserID {
		return nil
	}
	conv, err := s.store.GetConversationByBuyer(ctx, id.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: no conversation with %s", ErrForbidden, targetUserID)
	}
	if err != nil {
		return fmt.Errorf("lookup conversation: %w", err)
	}
	if !conv.HasParticipant(targetUserID) {
		return fmt.Errorf("%w: no conversation with %s", ErrForbidden, targetUserID)
	}
	return nil
}
