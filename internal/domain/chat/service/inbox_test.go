package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/converso/internal/domain/chat/entity"
)

func newTestProjector(store *fakeStore) *Projector {
	return NewProjector(store, fakeMsgRepo{store}, fakeUserRepo{store}, testLogger())
}

func TestBuildInboxPrivateItem(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ledger := newTestLedger(store, &recorder{})
	projector := newTestProjector(store)

	alice, bob, conv := seedPrivate(t, store)

	first, err := ledger.Send(ctx, SendInput{ConversationID: conv.ID, SenderID: alice, Text: "hi"})
	require.NoError(t, err)
	second, err := ledger.Send(ctx, SendInput{ConversationID: conv.ID, SenderID: alice, Text: "you there?"})
	require.NoError(t, err)

	out, err := projector.BuildInbox(ctx, BuildInboxInput{UserID: bob})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.False(t, out.HasMore)

	item := out.Items[0]
	assert.Equal(t, conv.ID, item.ConversationID)
	assert.Equal(t, entity.ConversationTypePrivate, item.Type)
	require.NotNil(t, item.Peer)
	assert.Equal(t, alice, item.Peer.ID)
	assert.Equal(t, "alice", item.Peer.Username)
	require.NotNil(t, item.LastMessage)
	assert.Equal(t, second.ID, item.LastMessage.MessageID)
	require.NotNil(t, item.LastUnreadMessage)
	assert.Equal(t, second.ID, item.LastUnreadMessage.ID)
	assert.Equal(t, 2, item.UnreadCount)

	// Seeing one message drops the counter.
	require.NoError(t, ledger.MarkSeen(ctx, []uuid.UUID{first.ID}, bob))
	out, err = projector.BuildInbox(ctx, BuildInboxInput{UserID: bob})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Items[0].UnreadCount)

	// The sender's own inbox has no unread.
	out, err = projector.BuildInbox(ctx, BuildInboxInput{UserID: alice})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Items[0].UnreadCount)
	assert.Nil(t, out.Items[0].LastUnreadMessage)
}

func TestBuildInboxGroupItem(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	reg := newTestRegistry(store, &recorder{})
	projector := newTestProjector(store)

	alice := store.addUser("alice")
	bob := store.addUser("bob")
	carol := store.addUser("carol")

	conv, _, err := reg.CreateGroup(ctx, CreateGroupInput{
		CreatorID:    alice,
		MemberIDs:    []uuid.UUID{bob, carol},
		Name:         "trio",
		FirstMessage: "hello all",
	})
	require.NoError(t, err)

	out, err := projector.BuildInbox(ctx, BuildInboxInput{UserID: bob})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)

	item := out.Items[0]
	assert.Equal(t, conv.ID, item.ConversationID)
	assert.Equal(t, "trio", item.GroupName)
	assert.Nil(t, item.Peer)
	assert.Len(t, item.Members, 2)
	assert.Equal(t, 1, item.UnreadCount)
}

func TestBuildInboxExcludesHiddenConversations(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	reg := newTestRegistry(store, &recorder{})
	projector := newTestProjector(store)

	alice, _, conv := seedPrivate(t, store)
	require.NoError(t, reg.SoftDeleteForUser(ctx, conv.ID, alice))

	out, err := projector.BuildInbox(ctx, BuildInboxInput{UserID: alice})
	require.NoError(t, err)
	assert.Empty(t, out.Items)
}

func TestBuildInboxExcludesTombstonedUnread(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ledger := newTestLedger(store, &recorder{})
	projector := newTestProjector(store)

	alice, bob, conv := seedPrivate(t, store)

	msg, err := ledger.Send(ctx, SendInput{ConversationID: conv.ID, SenderID: alice, Text: "retracted"})
	require.NoError(t, err)
	require.NoError(t, ledger.DeleteForEveryone(ctx, msg.ID, alice))

	out, err := projector.BuildInbox(ctx, BuildInboxInput{UserID: bob})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Nil(t, out.Items[0].LastUnreadMessage)
	assert.Equal(t, 0, out.Items[0].UnreadCount)
}

func TestBuildInboxPaginates(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	reg := newTestRegistry(store, &recorder{})
	ledger := newTestLedger(store, &recorder{})
	projector := newTestProjector(store)

	alice := store.addUser("alice")
	var convIDs []uuid.UUID
	for i := 0; i < 7; i++ {
		peer := store.addUser(fmt.Sprintf("peer-%d", i))
		conv, err := reg.CreateOrGetPrivate(ctx, alice, peer)
		require.NoError(t, err)
		_, err = ledger.Send(ctx, SendInput{ConversationID: conv.ID, SenderID: peer, Text: "hello"})
		require.NoError(t, err)
		convIDs = append(convIDs, conv.ID)
	}

	var seen []uuid.UUID
	in := BuildInboxInput{UserID: alice, Limit: 3}
	for {
		out, err := projector.BuildInbox(ctx, in)
		require.NoError(t, err)
		for _, item := range out.Items {
			seen = append(seen, item.ConversationID)
		}
		if !out.HasMore {
			break
		}
		require.NotNil(t, out.NextCursor)
		in.After = out.NextCursor
	}

	// Most recently active first, no duplicates or gaps.
	require.Len(t, seen, len(convIDs))
	for i := range seen {
		assert.Equal(t, convIDs[len(convIDs)-1-i], seen[i])
	}
}
