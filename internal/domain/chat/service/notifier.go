package service

import (
	"github.com/google/uuid"

	"github.com/vadim/converso/internal/domain/chat/entity"
)

// Notifier fans out committed state changes to the live sessions of
// affected participants. Called strictly after the durable write.
// Implementations must be best-effort and non-blocking: a failed
// delivery never fails the mutation.
type Notifier interface {
	// MessageCreated announces a new message to all conversation members.
	MessageCreated(conv *entity.Conversation, msg *entity.Message)
	// MessagesSeen announces that viewerID saw the given messages.
	MessagesSeen(conv *entity.Conversation, viewerID uuid.UUID, messageIDs []uuid.UUID)
	// MessageDeletedForMe echoes a self-delete to the actor's own sessions.
	MessageDeletedForMe(actorID, conversationID, messageID uuid.UUID)
	// MessageDeletedForEveryone announces a tombstoned message to members.
	MessageDeletedForEveryone(conv *entity.Conversation, messageID uuid.UUID)
	// ConversationHidden echoes a conversation self-delete to the actor.
	ConversationHidden(actorID, conversationID uuid.UUID)
}

// NopNotifier discards all notifications. Used in tests and as a default.
type NopNotifier struct{}

func (NopNotifier) MessageCreated(*entity.Conversation, *entity.Message)      {}
func (NopNotifier) MessagesSeen(*entity.Conversation, uuid.UUID, []uuid.UUID) {}
func (NopNotifier) MessageDeletedForMe(uuid.UUID, uuid.UUID, uuid.UUID)       {}
func (NopNotifier) MessageDeletedForEveryone(*entity.Conversation, uuid.UUID) {}
func (NopNotifier) ConversationHidden(uuid.UUID, uuid.UUID)                   {}
