package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/support-chat/internal/model"
)

func TestEventSubject(t *testing.T) {
	assert.Equal(t, "chat.conv-1.receiveMessage", EventSubject("conv-1", model.EventReceiveMessage))
	assert.Equal(t, "chat.conv-1.message:seen", EventSubject("conv-1", model.EventMessageSeen))
	assert.Equal(t, "chat._.error", EventSubject("", model.EventError))
	assert.Equal(t, "chat.a_b_c_.typing", EventSubject("a.b*c>", model.EventTyping))
}

func TestConversationFilter(t *testing.T) {
	assert.Equal(t, "chat.conv-1.>", ConversationFilter("conv-1"))
}
