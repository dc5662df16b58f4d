package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/converso/internal/domain/chat/entity"
)

// InboxCursor is the keyset cursor for conversation listing: updated_at
// descending with the conversation id as tie-break.
type InboxCursor struct {
	UpdatedAt time.Time
	ID        uuid.UUID
}

// MessageCursor is the keyset cursor for message history: created_at
// descending with seq as tie-break, so equal timestamps never skip.
type MessageCursor struct {
	CreatedAt time.Time
	Seq       int64
}

// ConversationRepository defines the interface for conversation storage.
// Multi-entity creation methods are transactional: either everything
// persists or nothing does.
type ConversationRepository interface {
	// Create persists a conversation with its participants. Returns
	// entity.ErrDuplicatePair when another live private conversation
	// already holds the pair key.
	Create(ctx context.Context, conv *entity.Conversation) error
	// CreateWithFirstMessage persists a conversation, its participants and
	// an optional first message (nil msg means conversation only) in one
	// transaction, setting the last-message projection from the persisted
	// message. The message's CreatedAt/Seq are filled in from the store.
	CreateWithFirstMessage(ctx context.Context, conv *entity.Conversation, msg *entity.Message) error
	// ReplaceRetiredPair clears the pair key of a retired private thread
	// and inserts its fresh replacement (plus optional first message) in
	// one transaction.
	ReplaceRetiredPair(ctx context.Context, retiredID uuid.UUID, conv *entity.Conversation, msg *entity.Message) error
	// GetByID loads a conversation with all participant records.
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Conversation, error)
	// GetByPairKey loads the live private conversation owning the key.
	GetByPairKey(ctx context.Context, pairKey string) (*entity.Conversation, error)
	// ListVisibleForUser returns conversations whose participant record
	// for userID is not hidden, ordered by updated_at descending with id
	// tie-break. limit <= 0 means no limit; after pages past the cursor.
	ListVisibleForUser(ctx context.Context, userID uuid.UUID, limit int, after *InboxCursor) ([]entity.Conversation, error)
	// RestoreParticipant clears deleted_at and hide_messages_before on one
	// participant record. Idempotent.
	RestoreParticipant(ctx context.Context, conversationID, userID uuid.UUID) error
	// SoftDeleteParticipant sets deleted_at and hide_messages_before to
	// the given instant on one participant record.
	SoftDeleteParticipant(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error
}

// MessageRepository defines the interface for message storage.
type MessageRepository interface {
	// InsertWithLastMessage persists the message and advances the owning
	// conversation's last-message projection in one transaction. The
	// pointer only moves forward: an older message that commits late never
	// overwrites a newer one. CreatedAt/Seq are filled in from the store.
	InsertWithLastMessage(ctx context.Context, msg *entity.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Message, error)
	// ListVisible returns messages of a conversation visible to the
	// viewer (deleted_for and watermark filtered), newest first, strictly
	// before the cursor in (created_at, seq) order when set.
	ListVisible(ctx context.Context, conversationID, viewerID uuid.UUID, hideBefore *time.Time, limit int, before *MessageCursor) ([]entity.Message, error)
	// MarkSeen adds the viewer to seen_by of each message idempotently.
	// Messages of conversations the viewer does not belong to are skipped.
	MarkSeen(ctx context.Context, ids []uuid.UUID, viewerID uuid.UUID) error
	// MarkDelivered adds the user to delivered_to idempotently.
	MarkDelivered(ctx context.Context, ids []uuid.UUID, userID uuid.UUID) error
	// AddDeletedFor hides one message from one viewer.
	AddDeletedFor(ctx context.Context, id, viewerID uuid.UUID) error
	// DeleteForEveryone flips the permanent tombstone flag and, when the
	// message held the conversation's last-message pointer, recomputes the
	// projection from the most recent non-tombstoned message (or clears
	// it), all in one transaction.
	DeleteForEveryone(ctx context.Context, msg *entity.Message) error
	// LastUnread returns the newest message not sent by and not yet seen
	// by userID, respecting the watermark, or nil when none exists.
	LastUnread(ctx context.Context, conversationID, userID uuid.UUID, hideBefore *time.Time) (*entity.Message, error)
	// CountUnread counts the messages LastUnread draws from.
	CountUnread(ctx context.Context, conversationID, userID uuid.UUID, hideBefore *time.Time) (int, error)
}

// UserRepository defines the interface for the user reference store.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]entity.User, error)
	// CountExisting reports how many of the given ids resolve to users.
	CountExisting(ctx context.Context, ids []uuid.UUID) (int, error)
	// SetPresence updates the best-effort presence flag and last-seen.
	SetPresence(ctx context.Context, id uuid.UUID, online bool, lastSeen time.Time) error
}
