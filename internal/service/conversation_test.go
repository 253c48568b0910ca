package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-chat/internal/model"
)

func TestGetOrCreate_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.register(t, admin, buyer)
	ctx := context.Background()

	first, created, err := f.conversations.GetOrCreate(ctx, buyer.UserID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, admin.UserID, first.AdminID)

	for range 3 {
		again, created, err := f.conversations.GetOrCreate(ctx, buyer.UserID)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestGetOrCreate_ConcurrentFirstContact(t *testing.T) {
	f := newFixture(t)
	f.register(t, admin)

	const callers = 10
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, _, err := f.conversations.GetOrCreate(context.Background(), buyer.UserID)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	convs, err := f.conversations.List(context.Background(), admin.UserID)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestGetOrCreate_NoAdmin(t *testing.T) {
	f := newFixture(t)
	f.register(t, buyer)

	_, _, err := f.conversations.GetOrCreate(context.Background(), buyer.UserID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreate_FirstRegisteredAdmin(t *testing.T) {
	f := newFixture(t)
	f.register(t, admin, admin2)

	conv, _, err := f.conversations.GetOrCreate(context.Background(), buyer.UserID)
	require.NoError(t, err)
	assert.Equal(t, admin.UserID, conv.AdminID)
}

type pickLast struct{ FirstAvailable }

func (pickLast) Assign(_ context.Context, _ string, admins []model.User) (string, error) {
	return admins[len(admins)-1].ID, nil
}

func TestGetOrCreate_CustomPolicy(t *testing.T) {
	f := newFixture(t)
	convs := NewConversationService(f.store, pickLast{}, f.conversations.logger)
	require.NoError(t, convs.RegisterIdentity(context.Background(), admin))
	require.NoError(t, convs.RegisterIdentity(context.Background(), admin2))

	conv, _, err := convs.GetOrCreate(context.Background(), buyer.UserID)
	require.NoError(t, err)
	assert.Equal(t, admin2.UserID, conv.AdminID)
}

func TestRegisterIdentity_RejectsIncomplete(t *testing.T) {
	f := newFixture(t)
	err := f.conversations.RegisterIdentity(context.Background(), model.Identity{UserID: "x"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	f.register(t, admin)
	ctx := context.Background()
	conv, _, err := f.conversations.GetOrCreate(ctx, buyer.UserID)
	require.NoError(t, err)

	_, err = f.conversations.Authorize(ctx, buyer, conv.ID)
	assert.NoError(t, err)
	_, err = f.conversations.Authorize(ctx, admin2, conv.ID)
	assert.NoError(t, err, "any admin may access any conversation")
	_, err = f.conversations.Authorize(ctx, other, conv.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.conversations.Authorize(ctx, buyer, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.conversations.Authorize(ctx, buyer, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConversationsFor(t *testing.T) {
	f := newFixture(t)
	f.register(t, admin)
	ctx := context.Background()
	c1, _, err := f.conversations.GetOrCreate(ctx, buyer.UserID)
	require.NoError(t, err)
	c2, _, err := f.conversations.GetOrCreate(ctx, other.UserID)
	require.NoError(t, err)

	ids, err := f.conversations.ConversationsFor(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, []string{c1.ID}, ids)

	ids, err = f.conversations.ConversationsFor(ctx, admin)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{c1.ID, c2.ID}, ids)

	ids, err = f.conversations.ConversationsFor(ctx, model.Identity{UserID: "new", Role: model.RoleBuyer})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCanObserve(t *testing.T) {
	f := newFixture(t)
	f.register(t, admin, admin2)
	ctx := context.Background()
	_, _, err := f.conversations.GetOrCreate(ctx, buyer.UserID)
	require.NoError(t, err)

	assert.NoError(t, f.conversations.CanObserve(ctx, buyer, admin.UserID))
	assert.NoError(t, f.conversations.CanObserve(ctx, buyer, buyer.UserID))
	assert.NoError(t, f.conversations.CanObserve(ctx, admin2, other.UserID))
	assert.ErrorIs(t, f.conversations.CanObserve(ctx, buyer, admin2.UserID), ErrForbidden)
	assert.ErrorIs(t, f.conversations.CanObserve(ctx, other, admin.UserID), ErrForbidden)
}
