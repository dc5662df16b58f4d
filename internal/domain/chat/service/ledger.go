package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vadim/converso/internal/domain/chat/entity"
	"github.com/vadim/converso/internal/domain/chat/visibility"
)

const (
	// DefaultPageSize is the message page size when the caller gives none.
	DefaultPageSize = 30
	// MaxPageSize caps any requested page size.
	MaxPageSize = 100
)

// Ledger owns message entities: creation, per-recipient seen and delivery
// tracking, per-user soft delete and the permanent "for everyone" delete.
type Ledger struct {
	convs  ConversationRepository
	msgs   MessageRepository
	notify Notifier
	logger *slog.Logger
}

// NewLedger creates a message ledger.
func NewLedger(convs ConversationRepository, msgs MessageRepository, notify Notifier, logger *slog.Logger) *Ledger {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Ledger{convs: convs, msgs: msgs, notify: notify, logger: logger}
}

// SendInput carries a message to be delivered into a conversation.
type SendInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Text           string
	Attachments    []entity.Attachment
}

// Send validates and persists a message, advancing the conversation's
// last-message projection in the same transaction, then fans out to
// connected participants. The sender must be an active participant.
func (l *Ledger) Send(ctx context.Context, in SendInput) (*entity.Message, error) {
	if err := entity.ValidateContent(in.Text, in.Attachments); err != nil {
		return nil, err
	}

	conv, err := l.convs.GetByID(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !visibility.ConversationVisible(conv.Participant(in.SenderID)) {
		return nil, entity.ErrNotParticipant
	}

	msg := &entity.Message{
		ID:             uuid.New(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		Attachments:    in.Attachments,
	}
	if err := l.msgs.InsertWithLastMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}

	conv.LastMessage = &entity.LastMessage{
		MessageID: msg.ID,
		Text:      msg.Text,
		SenderID:  msg.SenderID,
		SentAt:    msg.CreatedAt,
	}
	conv.UpdatedAt = msg.CreatedAt

	l.notify.MessageCreated(conv, msg)
	return msg, nil
}

// ListInput selects a message page for a viewer.
type ListInput struct {
	ConversationID uuid.UUID
	ViewerID       uuid.UUID
	Limit          int
	Before         *MessageCursor
}

// ListOutput is one page of messages, oldest first. NextCursor identifies
// the oldest returned message when older messages remain.
type ListOutput struct {
	Messages   []entity.Message
	NextCursor *MessageCursor
	HasMore    bool
}

// ListByConversation returns the messages visible to the viewer,
// tombstoning globally deleted rows, respecting the viewer's history
// watermark and per-message deletes.
func (l *Ledger) ListByConversation(ctx context.Context, in ListInput) (*ListOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	conv, err := l.convs.GetByID(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	p := conv.Participant(in.ViewerID)
	if p == nil {
		return nil, entity.ErrNotParticipant
	}

	// One extra row decides HasMore without a second query.
	msgs, err := l.msgs.ListVisible(ctx, in.ConversationID, in.ViewerID, p.HideMessagesBefore, limit+1, in.Before)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	out := &ListOutput{}
	if len(msgs) > limit {
		msgs = msgs[:limit]
		out.HasMore = true
	}
	if out.HasMore && len(msgs) > 0 {
		oldest := msgs[len(msgs)-1]
		out.NextCursor = &MessageCursor{CreatedAt: oldest.CreatedAt, Seq: oldest.Seq}
	}

	// The store returns newest first; clients read oldest first.
	out.Messages = make([]entity.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out.Messages = append(out.Messages, *visibility.Tombstone(&msgs[i]))
	}
	return out, nil
}

// MarkSeen adds the viewer to seen_by of every given message. Idempotent;
// messages of conversations the viewer does not belong to are skipped.
func (l *Ledger) MarkSeen(ctx context.Context, messageIDs []uuid.UUID, viewerID uuid.UUID) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := l.msgs.MarkSeen(ctx, messageIDs, viewerID); err != nil {
		return fmt.Errorf("marking seen: %w", err)
	}

	// Fan out per conversation; a batch may span several.
	byConv := make(map[uuid.UUID][]uuid.UUID)
	for _, id := range messageIDs {
		msg, err := l.msgs.GetByID(ctx, id)
		if err != nil {
			continue
		}
		byConv[msg.ConversationID] = append(byConv[msg.ConversationID], id)
	}
	for convID, ids := range byConv {
		conv, err := l.convs.GetByID(ctx, convID)
		if err != nil || conv.Participant(viewerID) == nil {
			continue
		}
		l.notify.MessagesSeen(conv, viewerID, ids)
	}
	return nil
}

// MarkDelivered adds the user to delivered_to of every given message.
// Called by the realtime relay after a successful push. Idempotent.
func (l *Ledger) MarkDelivered(ctx context.Context, messageIDs []uuid.UUID, userID uuid.UUID) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := l.msgs.MarkDelivered(ctx, messageIDs, userID); err != nil {
		return fmt.Errorf("marking delivered: %w", err)
	}
	return nil
}

// DeleteForSelf hides a message from the caller only. No effect on other
// viewers or on the last-message projection.
func (l *Ledger) DeleteForSelf(ctx context.Context, messageID, viewerID uuid.UUID) error {
	msg, err := l.msgs.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	conv, err := l.convs.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if conv.Participant(viewerID) == nil {
		return entity.ErrNotParticipant
	}
	if msg.DeletedForUser(viewerID) {
		return nil
	}
	if err := l.msgs.AddDeletedFor(ctx, messageID, viewerID); err != nil {
		return fmt.Errorf("deleting for self: %w", err)
	}
	l.notify.MessageDeletedForMe(viewerID, msg.ConversationID, messageID)
	return nil
}

// DeleteForEveryone permanently tombstones a message. Only the original
// sender may do this; repeated calls are no-ops. When the message held the
// conversation's last-message pointer the projection is recomputed from
// the most recent surviving message, or cleared.
func (l *Ledger) DeleteForEveryone(ctx context.Context, messageID, requesterID uuid.UUID) error {
	msg, err := l.msgs.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		return entity.ErrNotSender
	}
	if msg.IsDeletedForEveryone {
		return nil
	}
	if err := l.msgs.DeleteForEveryone(ctx, msg); err != nil {
		return fmt.Errorf("deleting for everyone: %w", err)
	}

	if conv, err := l.convs.GetByID(ctx, msg.ConversationID); err == nil {
		l.notify.MessageDeletedForEveryone(conv, messageID)
	}
	return nil
}
