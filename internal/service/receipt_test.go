package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-chat/internal/model"
)

func TestDelivered_AdvancesAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	conv := startConversation(t, f)
	ctx := context.Background()
	msg, err := f.messages.Send(ctx, buyer, conv.ID, "hello", TransportRealtime)
	require.NoError(t, err)

	changed, err := f.receipts.Delivered(ctx, admin, msg.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	events := f.broadcaster.ofType(model.EventMessageDelivered)
	require.Len(t, events, 1)
	assert.Equal(t, &model.MessageDeliveredEvent{MessageID: msg.ID, ConversationID: conv.ID}, events[0].Data)

	// A repeated ack is a no-op and is not rebroadcast.
	changed, err = f.receipts.Delivered(ctx, admin, msg.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, f.broadcaster.ofType(model.EventMessageDelivered), 1)
}

func TestDelivered_Rejections(t *testing.T) {
	f := newFixture(t)
	conv := startConversation(t, f)
	ctx := context.Background()
	msg, err := f.messages.Send(ctx, buyer, conv.ID, "hello", TransportRealtime)
	require.NoError(t, err)

	_, err = f.receipts.Delivered(ctx, buyer, msg.ID)
	assert.ErrorIs(t, err, ErrForbidden, "author cannot ack own message")
	_, err = f.receipts.Delivered(ctx, other, msg.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.receipts.Delivered(ctx, admin, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.receipts.Delivered(ctx, admin, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSeen_BatchesCounterpartMessages(t *testing.T) {
	f := newFixture(t)
	conv := startConversation(t, f)
	ctx := context.Background()

	m1, err := f.messages.Send(ctx, buyer, conv.ID, "I need help", TransportRealtime)
	require.NoError(t, err)
	m2, err := f.messages.Send(ctx, buyer, conv.ID, "anyone?", TransportREST)
	require.NoError(t, err)
	reply, err := f.messages.Send(ctx, admin, conv.ID, "hi", TransportRealtime)
	require.NoError(t, err)

	ids, err := f.receipts.Seen(ctx, admin, conv.ID, buyer.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{m1.ID, m2.ID}, ids)

	events := f.broadcaster.ofType(model.EventMessageSeen)
	require.Len(t, events, 1)
	assert.Equal(t, []string{m1.ID, m2.ID}, events[0].Data.(*model.MessageSeenEvent).MessageIDs)

	got, err := f.messages.Get(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)

	// Nothing left: no second broadcast.
	ids, err = f.receipts.Seen(ctx, admin, conv.ID, buyer.UserID)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Len(t, f.broadcaster.ofType(model.EventMessageSeen), 1)
}

func TestSeen_Rejections(t *testing.T) {
	f := newFixture(t)
	conv := startConversation(t, f)
	ctx := context.Background()

	_, err := f.receipts.Seen(ctx, other, conv.ID, admin.UserID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.receipts.Seen(ctx, buyer, conv.ID, buyer.UserID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.receipts.Seen(ctx, buyer, conv.ID, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReceipts_SeenWinsRace(t *testing.T) {
	f := newFixture(t)
	conv := startConversation(t, f)
	ctx := context.Background()
	msg, err := f.messages.Send(ctx, buyer, conv.ID, "hello", TransportRealtime)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.receipts.Delivered(ctx, admin, msg.ID)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := f.receipts.Seen(ctx, admin2, conv.ID, buyer.UserID)
		assert.NoError(t, err)
	}()
	wg.Wait()

	got, err := f.messages.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSeen, got.Status)
}
