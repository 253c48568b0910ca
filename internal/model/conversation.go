// Package model defines data structures for the support chat service.
package model

import (
	"time"
)

// Conversation is the durable buyer and admin chat session. There is exactly one
// per buyer.
type Conversation struct {
	ID           string    `json:"id"`
	BuyerID      string    `json:"buyerId"`
	AdminID      string    `json:"adminId"`
	LastMessage  string    `json:"lastMessage"`
	LastSequence uint64    `json:"lastSequence"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is the buyer or the stored admin.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.BuyerID == userID || c.AdminID == userID
}

// ConversationResponse wraps a single conversation.
type ConversationResponse struct {
	Conversation *Conversation `json:"conversation"`
}

// ConversationThreadResponse is a conversation together with its full message log.
type ConversationThreadResponse struct {
	Conversation *Conversation `json:"conversation"`
	Messages     []Message     `json:"messages"`
}

// ListConversationsResponse is the response for the admin dashboard listing.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}
