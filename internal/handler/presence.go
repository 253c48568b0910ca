package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/support-chat/internal/middleware"
	"github.com/capitalize-ai/support-chat/internal/service"
	"github.com/capitalize-ai/support-chat/pkg/logger"
)

// PresenceHandler reports whether a chat participant is online.
type PresenceHandler struct {
	conversations *service.ConversationService
	presence      *service.PresenceTracker
	logger        *logger.Logger
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(convSvc *service.ConversationService, tracker *service.PresenceTracker, log *logger.Logger) *PresenceHandler {
	return &PresenceHandler{
		conversations: convSvc,
		presence:      tracker,
		logger:        log.Component("presence_handler"),
	}
}

// Get handles GET /api/chat/presence/{userId}
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userId")

	if err := middleware.ValidateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, _ := middleware.GetIdentity(ctx)
	if err := h.conversations.CanObserve(ctx, id, userID); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to check presence")
		return
	}

	resp, err := h.presence.Lookup(ctx, userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to look up presence")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
