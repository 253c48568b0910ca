package handler

import (
	"net/http"

	"github.com/capitalize-ai/support-chat/internal/middleware"
	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/internal/service"
	"github.com/capitalize-ai/support-chat/pkg/logger"
)

// MessageHandler handles the REST send path. It shares MessageService.Send
// with the realtime gateway, so both leave identical persisted state and
// both broadcast to the conversation room.
type MessageHandler struct {
	messages *service.MessageService
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messages: msgSvc,
		logger:   log.Component("message_handler"),
	}
}

// Send handles POST /api/chat/message
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "conversationId and message are required")
		return
	}

	id, _ := middleware.GetIdentity(ctx)
	msg, err := h.messages.Send(ctx, id, req.ConversationID, req.Message, service.TransportREST)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to send message")
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{Message: msg})
}
