package service

import "github.com/capitalize-ai/support-chat/internal/model"

// Broadcaster fans an event out to every live subscriber of the event's
// conversation. Implementations must not block.
type Broadcaster interface {
	// Broadcast delivers evt to the conversation's room. excludeUserID, when
	// non-empty, skips every connection of that user.
	Broadcast(evt *model.Event, excludeUserID string)
}

// NopBroadcaster drops every event.
type NopBroadcaster struct{}

// Broadcast implements Broadcaster.
func (NopBroadcaster) Broadcast(*model.Event, string) {}
