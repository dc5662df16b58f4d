package policy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/converso/internal/domain/chat/entity"
	"github.com/vadim/converso/internal/domain/chat/service"
)

// stubRegistry records which registry operation the policy dispatched to.
type stubRegistry struct {
	calledPrivate bool
	calledGroup   bool
	groupInput    service.CreateGroupInput
}

func (s *stubRegistry) CreateOrGetPrivate(context.Context, uuid.UUID, uuid.UUID) (*entity.Conversation, error) {
	return &entity.Conversation{ID: uuid.New()}, nil
}

func (s *stubRegistry) CreatePrivateWithFirstMessage(context.Context, uuid.UUID, uuid.UUID, string) (*entity.Conversation, *entity.Message, error) {
	s.calledPrivate = true
	return &entity.Conversation{ID: uuid.New()}, &entity.Message{ID: uuid.New()}, nil
}

func (s *stubRegistry) CreateGroup(_ context.Context, in service.CreateGroupInput) (*entity.Conversation, *entity.Message, error) {
	s.calledGroup = true
	s.groupInput = in
	return &entity.Conversation{ID: uuid.New()}, nil, nil
}

func (s *stubRegistry) ListForUser(context.Context, uuid.UUID) ([]entity.Conversation, error) {
	return nil, nil
}

func (s *stubRegistry) SoftDeleteForUser(context.Context, uuid.UUID, uuid.UUID) error {
	return nil
}

func (s *stubRegistry) Members(context.Context, uuid.UUID, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

// stubLedger records the delete scope routing.
type stubLedger struct {
	selfDeletes     int
	everyoneDeletes int
}

func (s *stubLedger) Send(context.Context, service.SendInput) (*entity.Message, error) {
	return &entity.Message{ID: uuid.New()}, nil
}

func (s *stubLedger) ListByConversation(context.Context, service.ListInput) (*service.ListOutput, error) {
	return &service.ListOutput{}, nil
}

func (s *stubLedger) MarkSeen(context.Context, []uuid.UUID, uuid.UUID) error { return nil }

func (s *stubLedger) MarkDelivered(context.Context, []uuid.UUID, uuid.UUID) error { return nil }

func (s *stubLedger) DeleteForSelf(context.Context, uuid.UUID, uuid.UUID) error {
	s.selfDeletes++
	return nil
}

func (s *stubLedger) DeleteForEveryone(context.Context, uuid.UUID, uuid.UUID) error {
	s.everyoneDeletes++
	return nil
}

func TestCreateConversationDispatch(t *testing.T) {
	ctx := context.Background()
	user := uuid.New()

	t.Run("private requires target and message", func(t *testing.T) {
		reg := &stubRegistry{}
		p := New(reg, &stubLedger{}, nil, nil)

		_, err := p.CreateConversation(ctx, user, CreateConversationRequest{Type: entity.ConversationTypePrivate})
		assert.ErrorIs(t, err, ErrMissingTarget)

		_, err = p.CreateConversation(ctx, user, CreateConversationRequest{
			Type:         entity.ConversationTypePrivate,
			TargetUserID: uuid.New(),
		})
		assert.ErrorIs(t, err, ErrMissingMessage)

		_, err = p.CreateConversation(ctx, user, CreateConversationRequest{
			Type:           entity.ConversationTypePrivate,
			TargetUserID:   uuid.New(),
			InitialMessage: "hello",
		})
		require.NoError(t, err)
		assert.True(t, reg.calledPrivate)
	})

	t.Run("group passes through", func(t *testing.T) {
		reg := &stubRegistry{}
		p := New(reg, &stubLedger{}, nil, nil)

		members := []uuid.UUID{uuid.New(), uuid.New()}
		_, err := p.CreateConversation(ctx, user, CreateConversationRequest{
			Type:      entity.ConversationTypeGroup,
			MemberIDs: members,
			Name:      "trio",
		})
		require.NoError(t, err)
		assert.True(t, reg.calledGroup)
		assert.Equal(t, user, reg.groupInput.CreatorID)
		assert.Equal(t, members, reg.groupInput.MemberIDs)
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		p := New(&stubRegistry{}, &stubLedger{}, nil, nil)
		_, err := p.CreateConversation(ctx, user, CreateConversationRequest{Type: "channel"})
		assert.ErrorIs(t, err, ErrInvalidRequestType)
	})
}

func TestDeleteMessageScopeRouting(t *testing.T) {
	ctx := context.Background()
	ledger := &stubLedger{}
	p := New(&stubRegistry{}, ledger, nil, nil)

	require.NoError(t, p.DeleteMessage(ctx, uuid.New(), uuid.New(), ""))
	require.NoError(t, p.DeleteMessage(ctx, uuid.New(), uuid.New(), "me"))
	require.NoError(t, p.DeleteMessage(ctx, uuid.New(), uuid.New(), "everyone"))
	assert.Equal(t, 2, ledger.selfDeletes)
	assert.Equal(t, 1, ledger.everyoneDeletes)

	assert.ErrorIs(t, p.DeleteMessage(ctx, uuid.New(), uuid.New(), "all"), ErrInvalidScope)
}

func TestInboxCursorRoundTrip(t *testing.T) {
	cursor := &service.InboxCursor{
		UpdatedAt: time.Date(2026, 8, 28, 10, 30, 0, 123456789, time.UTC),
		ID:        uuid.New(),
	}

	encoded := EncodeInboxCursor(cursor)
	require.NotEmpty(t, encoded)

	decoded, err := DecodeInboxCursor(encoded)
	require.NoError(t, err)
	assert.True(t, cursor.UpdatedAt.Equal(decoded.UpdatedAt))
	assert.Equal(t, cursor.ID, decoded.ID)
}

func TestMessageCursorRoundTrip(t *testing.T) {
	cursor := &service.MessageCursor{
		CreatedAt: time.Date(2026, 8, 28, 10, 30, 0, 123456789, time.UTC),
		Seq:       42,
	}

	encoded := EncodeMessageCursor(cursor)
	require.NotEmpty(t, encoded)

	decoded, err := DecodeMessageCursor(encoded)
	require.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.Seq, decoded.Seq)
}

func TestMessageCursorEdgeCases(t *testing.T) {
	assert.Empty(t, EncodeMessageCursor(nil))

	decoded, err := DecodeMessageCursor("")
	require.NoError(t, err)
	assert.Nil(t, decoded)

	for _, bad := range []string{"garbage", "2026-08-28T10:30:00Z~not-a-number", "not-a-time~7"} {
		_, err := DecodeMessageCursor(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}

func TestInboxCursorEdgeCases(t *testing.T) {
	assert.Empty(t, EncodeInboxCursor(nil))

	decoded, err := DecodeInboxCursor("")
	require.NoError(t, err)
	assert.Nil(t, decoded)

	for _, bad := range []string{"garbage", "2026-08-28T10:30:00Z~not-a-uuid", "not-a-time~" + uuid.NewString()} {
		_, err := DecodeInboxCursor(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}
