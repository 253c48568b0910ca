package service

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/support-chat/internal/model"
)

// AssignmentPolicy decides which admin owns a conversation.
type AssignmentPolicy interface {
	// Assign picks the admin for a new conversation from the available admins.
	Assign(ctx context.Context, buyerID string, admins []model.User) (string, error)

	// OnReply returns the admin to store after responderID replied to conv.
	// Returning conv.AdminID leaves the assignment unchanged.
	OnReply(conv *model.Conversation, responderID string) string
}

// FirstAvailable assigns the first admin found and hands the conversation to
// whichever admin replied last. Any admin may answer any conversation.
type FirstAvailable struct{}

// Assign implements AssignmentPolicy.
func (FirstAvailable) Assign(_ context.Context, buyerID string, admins []model.User) (string, error) {
	if len(admins) == 0 {
		return "", fmt.Errorf("%w: no admin available for buyer %s", ErrNotFound, buyerID)
	}
	return admins[0].ID, nil
}

// OnReply implements AssignmentPolicy.
func (FirstAvailable) OnReply(_ *model.Conversation, responderID string) string {
	return responderID
}
