package model

// EventType names a realtime protocol event.
type EventType string

// Client to server events.
const (
	EventJoinConversation  EventType = "joinConversation"
	EventLeaveConversation EventType = "leaveConversation"
	EventSendMessage       EventType = "sendMessage"
	EventTyping            EventType = "typing"
	EventMessageDelivered  EventType = "message:delivered"
	EventMessageSeen       EventType = "message:seen"
)

// Server to client events. typing, message:delivered and message:seen share
// their names with the client events above.
const (
	EventReceiveMessage     EventType = "receiveMessage"
	EventParticipantOnline  EventType = "participant:online"
	EventParticipantOffline EventType = "participant:offline"
	EventError              EventType = "error"
)

// ConversationRef is the payload of joinConversation, leaveConversation and
// client typing events.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// DeliveredRequest is the payload of a client message:delivered event.
type DeliveredRequest struct {
	MessageID string `json:"messageId"`
}

// SeenRequest is the payload of a client message:seen event. SenderID names
// the counterpart whose messages were viewed.
type SeenRequest struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
}

// Event is a server-originated event scoped to one conversation.
type Event struct {
	Type           EventType `json:"event"`
	ConversationID string    `json:"-"`
	Data           any       `json:"data"`
}

// ReceiveMessageEvent carries a persisted message.
type ReceiveMessageEvent struct {
	ConversationID string   `json:"conversationId"`
	Message        *Message `json:"message"`
}

// ParticipantOnlineEvent announces a participant's first live connection.
type ParticipantOnlineEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Role           Role   `json:"role"`
}

// ParticipantOfflineEvent announces a participant's last connection closing.
type ParticipantOfflineEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// TypingEvent is an ephemeral typing signal.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// MessageDeliveredEvent reports a message reaching a recipient client.
type MessageDeliveredEvent struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// MessageSeenEvent reports a batch of messages viewed by the recipient.
type MessageSeenEvent struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// ErrorEvent represents a protocol-level rejection sent to one connection.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent builds an Event for the given conversation.
func NewEvent(t EventType, conversationID string, data any) *Event {
	return &Event{Type: t, ConversationID: conversationID, Data: data}
}
