package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/pkg/logger"
	"github.com/capitalize-ai/support-chat/pkg/metrics"
)

const (
	// StreamName is the name of the chat events stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all chat event subjects.
	SubjectPrefix = "chat"

	// HeaderEvent carries the event name on every mirrored message.
	HeaderEvent = "Chat-Event"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
	maxAge time.Duration
}

// NewStreamManager creates a new stream manager. maxAge bounds retention;
// zero keeps events for 30 days.
func NewStreamManager(client *Client, maxAge time.Duration) *StreamManager {
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	return &StreamManager{client: client, maxAge: maxAge}
}

// EnsureStream ensures the chat events stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      m.maxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Mirror of realtime support chat events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// EventSubject returns the subject for an event in a conversation.
func EventSubject(conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, subjectToken(conversationID), subjectToken(string(eventType)))
}

// ConversationFilter returns the filter subject for every event of a
// conversation.
func ConversationFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, subjectToken(conversationID))
}

// subjectToken makes s safe to use as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// EventMirror publishes broadcast events onto the stream. It satisfies
// realtime.Mirror.
type EventMirror struct {
	client *Client
	logger *logger.Logger
}

// NewEventMirror creates a mirror on client.
func NewEventMirror(client *Client, log *logger.Logger) *EventMirror {
	return &EventMirror{client: client, logger: log.Component("mirror")}
}

// Publish queues payload for asynchronous publication. Acknowledgement
// failures are counted by the client's async error handler.
func (m *EventMirror) Publish(evt *model.Event, payload []byte) {
	msg := &nats.Msg{
		Subject: EventSubject(evt.ConversationID, evt.Type),
		Data:    payload,
		Header:  nats.Header{},
	}
	msg.Header.Set(HeaderEvent, string(evt.Type))

	if _, err := m.client.JetStream().PublishMsgAsync(msg); err != nil {
		metrics.EventsMirrored.WithLabelValues("failed").Inc()
		m.logger.Warn("failed to queue mirror publish",
			zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	metrics.EventsMirrored.WithLabelValues("queued").Inc()
}

// Flush waits for outstanding publishes to be acknowledged or ctx to end.
func (m *EventMirror) Flush(ctx context.Context) error {
	select {
	case <-m.client.JetStream().PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
