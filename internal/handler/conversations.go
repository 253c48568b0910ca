// Package handler provides HTTP handlers for the REST fallback API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-chat/internal/middleware"
	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/internal/service"
	"github.com/capitalize-ai/support-chat/pkg/logger"
)

// ConversationHandler handles conversation endpoints for buyers and admins.
type ConversationHandler struct {
	conversations *service.ConversationService
	messages      *service.MessageService
	logger        *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(
	convSvc *service.ConversationService,
	msgSvc *service.MessageService,
	log *logger.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		conversations: convSvc,
		messages:      msgSvc,
		logger:        log.Component("conversation_handler"),
	}
}

// Start handles POST /api/chat/start. It answers 201 when the conversation
// was created by this call and 200 when it already existed.
func (h *ConversationHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	conv, created, err := h.conversations.GetOrCreate(ctx, userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to start conversation")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		requestLogger(r, h.logger).Info("conversation started",
			zap.String("conversation_id", conv.ID),
			zap.String("admin_id", conv.AdminID),
		)
	}
	writeJSON(w, status, &model.ConversationResponse{Conversation: conv})
}

// My handles GET /api/chat/my
func (h *ConversationHandler) My(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	conv, err := h.conversations.ForBuyer(ctx, userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get conversation")
		return
	}
	h.writeThread(w, r, conv)
}

// AdminList handles GET /api/admin/chats
func (h *ConversationHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	convs, err := h.conversations.List(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{Conversations: convs})
}

// AdminGet handles GET /api/admin/chat/{id}
func (h *ConversationHandler) AdminGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, _ := middleware.GetIdentity(ctx)
	conv, err := h.conversations.Authorize(ctx, id, conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get conversation")
		return
	}
	h.writeThread(w, r, conv)
}

// writeThread responds with the conversation and its entire message log.
func (h *ConversationHandler) writeThread(w http.ResponseWriter, r *http.Request, conv *model.Conversation) {
	msgs, err := h.messages.List(r.Context(), conv.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, &model.ConversationThreadResponse{
		Conversation: conv,
		Messages:     msgs,
	})
}
