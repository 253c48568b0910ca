package model

import (
	"fmt"
	"time"
)

// Role is the role of a chat participant.
type Role string

const (
	RoleBuyer Role = "buyer"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleAdmin
}

// Status is the delivery status of a message. Values are ordered:
// sent < delivered < seen.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

// Rank returns the position of s in the delivery order, or 0 if s is unknown.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	default:
		return 0
	}
}

// StatusFromRank is the inverse of Status.Rank.
func StatusFromRank(rank int) (Status, error) {
	switch rank {
	case 1:
		return StatusSent, nil
	case 2:
		return StatusDelivered, nil
	case 3:
		return StatusSeen, nil
	default:
		return "", fmt.Errorf("unknown status rank %d", rank)
	}
}

// Message is one entry of a conversation's append-only log.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sequence       uint64    `json:"sequence"`
	SenderID       string    `json:"senderId"`
	SenderRole     Role      `json:"senderRole"`
	Body           string    `json:"message"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SendMessageRequest is the REST body for POST /chat/message.
type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Message *Message `json:"message"`
}
