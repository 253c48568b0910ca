package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/internal/store"
	"github.com/capitalize-ai/support-chat/pkg/logger"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []*model.Event
}

func (r *recordingBroadcaster) Broadcast(evt *model.Event, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingBroadcaster) ofType(t model.EventType) []*model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store         *store.SQLiteStore
	broadcaster   *recordingBroadcaster
	conversations *ConversationService
	messages      *MessageService
	receipts      *ReceiptService
	presence      *PresenceTracker
}

var (
	buyer  = model.Identity{UserID: "buyer-1", Role: model.RoleBuyer}
	other  = model.Identity{UserID: "buyer-2", Role: model.RoleBuyer}
	admin  = model.Identity{UserID: "admin-1", Role: model.RoleAdmin}
	admin2 = model.Identity{UserID: "admin-2", Role: model.RoleAdmin}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Nop()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	b := &recordingBroadcaster{}
	convs := NewConversationService(s, nil, log)
	msgs := NewMessageService(s, convs, b, log)
	return &fixture{
		store:         s,
		broadcaster:   b,
		conversations: convs,
		messages:      msgs,
		receipts:      NewReceiptService(s, msgs, convs, b, log),
		presence:      NewPresenceTracker(convs, b, s, log),
	}
}

func (f *fixture) register(t *testing.T, ids ...model.Identity) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.conversations.RegisterIdentity(context.Background(), id))
	}
}
