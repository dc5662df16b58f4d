package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/converso/internal/domain/chat/entity"
	"github.com/vadim/converso/internal/domain/chat/visibility"
)

// Registry owns conversation entities: creation of private and group
// threads, participant membership, the last-message projection and
// per-participant hidden state.
type Registry struct {
	convs  ConversationRepository
	msgs   MessageRepository
	users  UserRepository
	notify Notifier
	logger *slog.Logger
}

// NewRegistry creates a conversation registry.
func NewRegistry(convs ConversationRepository, msgs MessageRepository, users UserRepository, notify Notifier, logger *slog.Logger) *Registry {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Registry{convs: convs, msgs: msgs, users: users, notify: notify, logger: logger}
}

// CreateOrGetPrivate resolves the private conversation for an unordered
// user pair. Resolution order over both participant records:
//
//  1. either side blocked -> ErrBlocked, nothing mutated
//  2. requester previously hid the thread -> the old thread is retired
//     and a fresh one created (deleted threads are not resurrected)
//  3. the other side hid the thread -> ErrPeerHidden
//  4. otherwise the existing thread is returned, defensively clearing
//     any hidden state on the requester's own record
//
// When no thread exists one is created; the duplicate-creation race is
// resolved by the store's unique pair constraint, the loser returning the
// winner's row.
func (r *Registry) CreateOrGetPrivate(ctx context.Context, requesterID, otherID uuid.UUID) (*entity.Conversation, error) {
	if requesterID == otherID {
		return nil, entity.ErrSelfConversation
	}
	if _, err := r.users.GetByID(ctx, otherID); err != nil {
		return nil, err
	}

	conv, err := r.convs.GetByPairKey(ctx, entity.PairKey(requesterID, otherID))
	switch {
	case err == nil:
		conv, _, err = r.resolveExistingPrivate(ctx, conv, requesterID, nil)
		return conv, err
	case errors.Is(err, entity.ErrConversationNotFound):
		conv, _, err = r.createFreshPrivate(ctx, requesterID, otherID, nil)
		return conv, err
	default:
		return nil, err
	}
}

// CreatePrivateWithFirstMessage starts (or reuses) a private thread and
// delivers the initial message. A private conversation cannot be created
// empty through this path.
func (r *Registry) CreatePrivateWithFirstMessage(ctx context.Context, creatorID, targetID uuid.UUID, text string) (*entity.Conversation, *entity.Message, error) {
	if err := entity.ValidateContent(text, nil); err != nil {
		return nil, nil, err
	}
	if creatorID == targetID {
		return nil, nil, entity.ErrSelfConversation
	}
	if _, err := r.users.GetByID(ctx, targetID); err != nil {
		return nil, nil, err
	}

	first := func(convID uuid.UUID) *entity.Message {
		return &entity.Message{
			ID:             uuid.New(),
			ConversationID: convID,
			SenderID:       creatorID,
			Text:           text,
		}
	}

	var (
		conv *entity.Conversation
		msg  *entity.Message
		err  error
	)
	conv, err = r.convs.GetByPairKey(ctx, entity.PairKey(creatorID, targetID))
	switch {
	case err == nil:
		conv, msg, err = r.resolveExistingPrivate(ctx, conv, creatorID, first)
	case errors.Is(err, entity.ErrConversationNotFound):
		conv, msg, err = r.createFreshPrivate(ctx, creatorID, targetID, first)
	default:
		return nil, nil, err
	}
	if err != nil {
		return nil, nil, err
	}

	// An existing thread was reused as-is: deliver the initial message
	// through the regular send path.
	if msg == nil {
		msg = first(conv.ID)
		if err := r.msgs.InsertWithLastMessage(ctx, msg); err != nil {
			return nil, nil, fmt.Errorf("sending initial message: %w", err)
		}
		conv.LastMessage = &entity.LastMessage{
			MessageID: msg.ID,
			Text:      msg.Text,
			SenderID:  msg.SenderID,
			SentAt:    msg.CreatedAt,
		}
		conv.UpdatedAt = msg.CreatedAt
		r.notify.MessageCreated(conv, msg)
	}
	return conv, msg, nil
}

// CreateGroupInput carries everything needed to create a group thread.
type CreateGroupInput struct {
	CreatorID    uuid.UUID
	MemberIDs    []uuid.UUID
	Name         string
	PhotoURL     string
	FirstMessage string
}

// CreateGroup creates a group conversation with the creator plus at least
// two other distinct existing members, optionally delivering a first
// message; conversation and message persist atomically or not at all.
func (r *Registry) CreateGroup(ctx context.Context, in CreateGroupInput) (*entity.Conversation, *entity.Message, error) {
	if err := entity.ValidateGroupName(in.Name); err != nil {
		return nil, nil, err
	}

	members := dedupeIDs(in.MemberIDs, in.CreatorID)
	if len(members) < 2 {
		return nil, nil, entity.ErrNotEnoughMembers
	}
	n, err := r.users.CountExisting(ctx, members)
	if err != nil {
		return nil, nil, err
	}
	if n != len(members) {
		return nil, nil, entity.ErrUserNotFound
	}

	conv := &entity.Conversation{
		ID:            uuid.New(),
		Type:          entity.ConversationTypeGroup,
		GroupName:     in.Name,
		GroupPhotoURL: in.PhotoURL,
	}
	for _, id := range append([]uuid.UUID{in.CreatorID}, members...) {
		conv.Participants = append(conv.Participants, entity.Participant{
			ConversationID: conv.ID,
			UserID:         id,
		})
	}

	var msg *entity.Message
	if in.FirstMessage != "" {
		if err := entity.ValidateContent(in.FirstMessage, nil); err != nil {
			return nil, nil, err
		}
		msg = &entity.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			SenderID:       in.CreatorID,
			Text:           in.FirstMessage,
		}
	}

	if err := r.convs.CreateWithFirstMessage(ctx, conv, msg); err != nil {
		return nil, nil, fmt.Errorf("creating group conversation: %w", err)
	}

	if msg != nil {
		r.notify.MessageCreated(conv, msg)
	}
	return conv, msg, nil
}

// Members returns the participant ids of a conversation the caller
// belongs to. Used for ephemeral fan-out (typing) that never touches
// durable state.
func (r *Registry) Members(ctx context.Context, conversationID, userID uuid.UUID) ([]uuid.UUID, error) {
	conv, err := r.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Participant(userID) == nil {
		return nil, entity.ErrNotParticipant
	}
	return conv.ParticipantIDs(), nil
}

// ListForUser returns the caller's visible conversations, most recently
// active first.
func (r *Registry) ListForUser(ctx context.Context, userID uuid.UUID) ([]entity.Conversation, error) {
	return r.convs.ListVisibleForUser(ctx, userID, 0, nil)
}

// SoftDeleteForUser hides the conversation from the caller's inbox and
// sets the history watermark. Idempotent: a second delete succeeds without
// mutation. Other participants are unaffected.
func (r *Registry) SoftDeleteForUser(ctx context.Context, conversationID, userID uuid.UUID) error {
	conv, err := r.convs.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	p := conv.Participant(userID)
	if p == nil {
		return entity.ErrNotParticipant
	}
	if p.Blocked {
		return entity.ErrBlocked
	}
	if p.DeletedAt != nil {
		return nil
	}
	if err := r.convs.SoftDeleteParticipant(ctx, conversationID, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("hiding conversation: %w", err)
	}
	r.notify.ConversationHidden(userID, conversationID)
	return nil
}

// resolveExistingPrivate applies the restore rules to a thread found by
// pair key. firstMessage, when non-nil, builds the message to attach
// atomically if a fresh replacement thread has to be created; the returned
// message is non-nil only when one was persisted here.
func (r *Registry) resolveExistingPrivate(ctx context.Context, conv *entity.Conversation, requesterID uuid.UUID, firstMessage func(uuid.UUID) *entity.Message) (*entity.Conversation, *entity.Message, error) {
	me := conv.Participant(requesterID)
	if me == nil {
		return nil, nil, entity.ErrNotParticipant
	}
	others := conv.OtherParticipants(requesterID)
	if len(others) != 1 {
		return nil, nil, fmt.Errorf("private conversation %s has %d participants", conv.ID, len(conv.Participants))
	}
	other := &others[0]

	if me.Blocked || other.Blocked {
		return nil, nil, entity.ErrBlocked
	}

	// The requester hid this thread earlier. Deleted threads are never
	// resurrected: retire the old row's pair key and start fresh.
	if me.DeletedAt != nil {
		fresh := newPrivateConversation(requesterID, other.UserID)
		var msg *entity.Message
		if firstMessage != nil {
			msg = firstMessage(fresh.ID)
		}
		err := r.convs.ReplaceRetiredPair(ctx, conv.ID, fresh, msg)
		if errors.Is(err, entity.ErrDuplicatePair) {
			// Lost the retirement race: a concurrent call already installed
			// the replacement thread. Resolve against that row instead.
			winner, gerr := r.convs.GetByPairKey(ctx, conv.PairKey)
			if gerr != nil {
				return nil, nil, fmt.Errorf("resolving duplicate pair: %w", gerr)
			}
			return r.resolveExistingPrivate(ctx, winner, requesterID, firstMessage)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("replacing retired thread: %w", err)
		}
		if msg != nil {
			r.notify.MessageCreated(fresh, msg)
		}
		return fresh, msg, nil
	}

	if err := visibility.CanStartPrivate(me, other); err != nil {
		return nil, nil, err
	}

	// Restore path: clears hidden state on the requester's record only.
	// Usually a no-op since the record is already active.
	if err := r.convs.RestoreParticipant(ctx, conv.ID, requesterID); err != nil {
		return nil, nil, fmt.Errorf("restoring participant: %w", err)
	}
	return conv, nil, nil
}

func (r *Registry) createFreshPrivate(ctx context.Context, requesterID, otherID uuid.UUID, firstMessage func(uuid.UUID) *entity.Message) (*entity.Conversation, *entity.Message, error) {
	conv := newPrivateConversation(requesterID, otherID)
	var msg *entity.Message
	if firstMessage != nil {
		msg = firstMessage(conv.ID)
	}

	err := r.convs.CreateWithFirstMessage(ctx, conv, msg)
	if errors.Is(err, entity.ErrDuplicatePair) {
		// Lost the creation race: return the winner's thread instead.
		winner, gerr := r.convs.GetByPairKey(ctx, entity.PairKey(requesterID, otherID))
		if gerr != nil {
			return nil, nil, fmt.Errorf("resolving duplicate pair: %w", gerr)
		}
		return r.resolveExistingPrivate(ctx, winner, requesterID, firstMessage)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("creating private conversation: %w", err)
	}
	if msg != nil {
		r.notify.MessageCreated(conv, msg)
	}
	return conv, msg, nil
}

func newPrivateConversation(a, b uuid.UUID) *entity.Conversation {
	conv := &entity.Conversation{
		ID:      uuid.New(),
		Type:    entity.ConversationTypePrivate,
		PairKey: entity.PairKey(a, b),
	}
	for _, id := range []uuid.UUID{a, b} {
		conv.Participants = append(conv.Participants, entity.Participant{
			ConversationID: conv.ID,
			UserID:         id,
		})
	}
	return conv
}

func dedupeIDs(ids []uuid.UUID, exclude uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == exclude || id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
