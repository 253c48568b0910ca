package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-chat/internal/middleware"
	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/internal/service"
	"github.com/capitalize-ai/support-chat/internal/store"
	"github.com/capitalize-ai/support-chat/pkg/logger"
)

var (
	buyer    = model.Identity{UserID: "buyer-1", Role: model.RoleBuyer}
	stranger = model.Identity{UserID: "buyer-2", Role: model.RoleBuyer}
	admin    = model.Identity{UserID: "admin-1", Role: model.RoleAdmin}
)

type testServer struct {
	router   http.Handler
	auth     *middleware.Authenticator
	store    *store.SQLiteStore
	messages *service.MessageService
	presence *service.PresenceTracker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.Nop()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	convs := service.NewConversationService(s, nil, log)
	msgs := service.NewMessageService(s, convs, nil, log)
	presence := service.NewPresenceTracker(convs, nil, s, log)
	auth := middleware.NewAuthenticator("test-secret", "")

	router := NewRouter(RouterConfig{
		Authenticator:     auth,
		Conversations:     convs,
		Messages:          msgs,
		Presence:          presence,
		Health:            NewHealthHandler(s, nil),
		AllowedOrigins:    []string{"http://localhost:3000"},
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
	}, log)

	return &testServer{router: router, auth: auth, store: s, messages: msgs, presence: presence}
}

func (ts *testServer) do(t *testing.T, id *model.Identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if id != nil {
		token, err := ts.auth.Issue(id.UserID, id.Role, time.Hour)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: middleware.DefaultCookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// start registers the admin by touching the API once, then opens the buyer's
// conversation.
func (ts *testServer) start(t *testing.T) *model.Conversation {
	t.Helper()
	rec := ts.do(t, &admin, http.MethodGet, "/api/admin/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, &buyer, http.MethodPost, "/api/chat/start", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[model.ConversationResponse](t, rec).Conversation
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, nil, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("down") }

func TestReady_MirrorDown(t *testing.T) {
	ts := newTestServer(t)
	h := NewHealthHandler(ts.store, downPinger{})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "NATS not connected")
}

func TestAPI_RequiresCredential(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, nil, http.MethodPost, "/api/chat/start", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStart_CreatedThenExisting(t *testing.T) {
	ts := newTestServer(t)
	conv := ts.start(t)
	assert.Equal(t, buyer.UserID, conv.BuyerID)
	assert.Equal(t, admin.UserID, conv.AdminID)

	rec := ts.do(t, &buyer, http.MethodPost, "/api/chat/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[model.ConversationResponse](t, rec).Conversation
	assert.Equal(t, conv.ID, again.ID)
}

func TestStart_NoAdminAvailable(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, &buyer, http.MethodPost, "/api/chat/start", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMy(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, &buyer, http.MethodGet, "/api/chat/my", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	conv := ts.start(t)
	rec = ts.do(t, &buyer, http.MethodPost, "/api/chat/message",
		model.SendMessageRequest{ConversationID: conv.ID, Message: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, &buyer, http.MethodGet, "/api/chat/my", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	thread := decode[model.ConversationThreadResponse](t, rec)
	assert.Equal(t, conv.ID, thread.Conversation.ID)
	assert.Equal(t, "hello", thread.Conversation.LastMessage)
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, model.RoleBuyer, thread.Messages[0].SenderRole)
}

func TestSendMessage_Errors(t *testing.T) {
	ts := newTestServer(t)
	conv := ts.start(t)

	rec := ts.do(t, &buyer, http.MethodPost, "/api/chat/message",
		model.SendMessageRequest{ConversationID: conv.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, &buyer, http.MethodPost, "/api/chat/message",
		model.SendMessageRequest{ConversationID: "missing", Message: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, &stranger, http.MethodPost, "/api/chat/message",
		model.SendMessageRequest{ConversationID: conv.ID, Message: "intrude"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	msgs, err := ts.messages.List(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "rejected sends persist nothing")
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t)
	conv := ts.start(t)

	rec := ts.do(t, &buyer, http.MethodGet, "/api/admin/chats", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &admin, http.MethodPost, "/api/chat/message",
		model.SendMessageRequest{ConversationID: conv.ID, Message: "how can I help?"})
	require.Equal(t, http.StatusCreated, rec.Code)
	sent := decode[model.SendMessageResponse](t, rec).Message
	assert.Equal(t, model.RoleAdmin, sent.SenderRole)
	assert.Equal(t, model.StatusSent, sent.Status)

	rec = ts.do(t, &admin, http.MethodGet, "/api/admin/chats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[model.ListConversationsResponse](t, rec)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, "how can I help?", list.Conversations[0].LastMessage)

	rec = ts.do(t, &admin, http.MethodGet, "/api/admin/chat/"+conv.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	thread := decode[model.ConversationThreadResponse](t, rec)
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, sent.ID, thread.Messages[0].ID)

	rec = ts.do(t, &admin, http.MethodGet, "/api/admin/chat/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, &admin, http.MethodGet, "/api/admin/chat/bad%20id", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPresence(t *testing.T) {
	ts := newTestServer(t)
	ts.start(t)
	ctx := context.Background()

	rec := ts.do(t, &buyer, http.MethodGet, "/api/chat/presence/"+admin.UserID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.PresenceResponse](t, rec).Online)

	ts.presence.Connect(ctx, admin)
	rec = ts.do(t, &buyer, http.MethodGet, "/api/chat/presence/"+admin.UserID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[model.PresenceResponse](t, rec).Online)

	ts.presence.Disconnect(ctx, admin)
	rec = ts.do(t, &buyer, http.MethodGet, "/api/chat/presence/"+admin.UserID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[model.PresenceResponse](t, rec)
	assert.False(t, resp.Online)
	assert.NotNil(t, resp.LastSeenAt)

	rec = ts.do(t, &stranger, http.MethodGet, "/api/chat/presence/"+admin.UserID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &admin, http.MethodGet, "/api/chat/presence/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPresence_EmailSubject(t *testing.T) {
	ts := newTestServer(t)
	ts.start(t)
	email := model.Identity{UserID: "jane@example.com", Role: model.RoleBuyer}

	rec := ts.do(t, &email, http.MethodPost, "/api/chat/start", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, &admin, http.MethodGet, "/api/chat/presence/"+email.UserID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.PresenceResponse](t, rec).Online)

	rec = ts.do(t, &email, http.MethodGet, "/api/chat/presence/"+email.UserID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
