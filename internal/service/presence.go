package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/internal/store"
	"github.com/capitalize-ai/support-chat/pkg/logger"
	"github.com/capitalize-ai/support-chat/pkg/metrics"
)

// PresenceEntry is a user's live connection count.
type PresenceEntry struct {
	UserID      string
	Role        model.Role
	Connections int
	LastSeenAt  time.Time
}

// Online reports whether the user holds at least one connection.
func (e PresenceEntry) Online() bool {
	return e.Connections > 0
}

// ParticipantDirectory resolves the conversations a user takes part in.
type ParticipantDirectory interface {
	ConversationsFor(ctx context.Context, id model.Identity) ([]string, error)
}

// PresenceTracker counts live connections per user. A user is online while
// the count is positive, so several tabs do not flap presence.
//
// State lives only in process memory and starts empty: after a restart every
// user is offline until they reconnect. lastSeenAt is additionally written to
// the user directory so it survives restarts.
type PresenceTracker struct {
	mu      sync.RWMutex
	entries map[string]*PresenceEntry

	directory   ParticipantDirectory
	broadcaster Broadcaster
	store       store.Store
	logger      *logger.Logger
	now         func() time.Time

	// userLocks orders transitions and their events per user.
	userLocks *keyedMutex
}

// NewPresenceTracker creates an empty tracker. s may be nil to skip
// persisting lastSeenAt.
func NewPresenceTracker(directory ParticipantDirectory, broadcaster Broadcaster, s store.Store, log *logger.Logger) *PresenceTracker {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	t := &PresenceTracker{
		entries:     make(map[string]*PresenceEntry),
		directory:   directory,
		broadcaster: broadcaster,
		store:       s,
		logger:      log.Component("presence"),
		now:         time.Now,
		userLocks:   newKeyedMutex(),
	}
	t.logger.Info("presence state initialized empty; all users offline until they reconnect")
	return t
}

// Connect registers one new connection for id. It returns true when the user
// transitioned from offline to online.
func (t *PresenceTracker) Connect(ctx context.Context, id model.Identity) bool {
	unlock := t.userLocks.Lock(id.UserID)
	defer unlock()

	t.mu.Lock()
	e, ok := t.entries[id.UserID]
	if !ok {
		e = &PresenceEntry{UserID: id.UserID}
		t.entries[id.UserID] = e
	}
	e.Role = id.Role
	e.Connections++
	online := e.Connections == 1
	t.mu.Unlock()

	if !online {
		return false
	}

	metrics.UsersOnline.WithLabelValues(string(id.Role)).Inc()
	t.logger.Debug("user online", zap.String("user_id", id.UserID))
	t.emit(ctx, id, func(convID string) *model.Event {
		return model.NewEvent(model.EventParticipantOnline, convID, &model.ParticipantOnlineEvent{
			ConversationID: convID,
			UserID:         id.UserID,
			Role:           id.Role,
		})
	})
	return true
}

// Disconnect releases one connection for id. It returns true when the user
// transitioned from online to offline. Unmatched disconnects are ignored.
func (t *PresenceTracker) Disconnect(ctx context.Context, id model.Identity) bool {
	unlock := t.userLocks.Lock(id.UserID)
	defer unlock()

	t.mu.Lock()
	e, ok := t.entries[id.UserID]
	if !ok || e.Connections == 0 {
		t.mu.Unlock()
		return false
	}
	e.Connections--
	offline := e.Connections == 0
	var lastSeen time.Time
	if offline {
		e.LastSeenAt = t.now().UTC()
		lastSeen = e.LastSeenAt
	}
	t.mu.Unlock()

	if !offline {
		return false
	}

	metrics.UsersOnline.WithLabelValues(string(id.Role)).Dec()
	t.logger.Debug("user offline", zap.String("user_id", id.UserID))

	if t.store != nil {
		if err := t.store.UpdateLastSeen(ctx, id.UserID, lastSeen); err != nil {
			t.logger.Warn("failed to persist last seen",
				zap.String("user_id", id.UserID), zap.Error(err))
		}
	}

	t.emit(ctx, id, func(convID string) *model.Event {
		return model.NewEvent(model.EventParticipantOffline, convID, &model.ParticipantOfflineEvent{
			ConversationID: convID,
			UserID:         id.UserID,
		})
	})
	return true
}

func (t *PresenceTracker) emit(ctx context.Context, id model.Identity, build func(convID string) *model.Event) {
	if t.directory == nil {
		return
	}
	convIDs, err := t.directory.ConversationsFor(ctx, id)
	if err != nil {
		t.logger.Error("failed to resolve conversations for presence event",
			zap.String("user_id", id.UserID), zap.Error(err))
		return
	}
	for _, convID := range convIDs {
		t.broadcaster.Broadcast(build(convID), id.UserID)
	}
}

// IsOnline reports whether userID holds at least one live connection.
func (t *PresenceTracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[userID]
	return ok && e.Online()
}

// LastSeenAt returns when userID last went offline. ok is false if the user
// has not gone offline since the process started.
func (t *PresenceTracker) LastSeenAt(userID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[userID]
	if !ok || e.LastSeenAt.IsZero() {
		return time.Time{}, false
	}
	return e.LastSeenAt, true
}

// Snapshot returns a copy of userID's entry.
func (t *PresenceTracker) Snapshot(userID string) (PresenceEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[userID]
	if !ok {
		return PresenceEntry{UserID: userID}, false
	}
	return *e, true
}

// Lookup reports presence for userID, falling back to the persisted
// lastSeenAt when the user has not disconnected since startup.
func (t *PresenceTracker) Lookup(ctx context.Context, userID string) (*model.PresenceResponse, error) {
	resp := &model.PresenceResponse{UserID: userID, Online: t.IsOnline(userID)}
	if ts, ok := t.LastSeenAt(userID); ok {
		resp.LastSeenAt = &ts
		return resp, nil
	}
	if t.store == nil {
		return resp, nil
	}
	u, err := t.store.GetUser(ctx, userID)
	if err != nil {
		return nil, notFound(err, "user", userID)
	}
	resp.LastSeenAt = u.LastSeenAt
	return resp, nil
}
