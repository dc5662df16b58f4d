package realtime

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/vadim/converso/internal/domain/chat/entity"
)

// Client -> server event names
const (
	EventSendMessage       = "send:message"
	EventMarkSeen          = "message:seen"
	EventDeleteForMe       = "message:deleteForMe"
	EventDeleteForEveryone = "message:deleteForEveryone"
	EventChatDelete        = "chat:delete"
	EventTyping            = "typing"
)

// Server -> client event names
const (
	EventMessageReceived           = "message:received"
	EventMessageSeen               = "message:seen"
	EventMessageDeletedForMe       = "message:deletedForMe"
	EventMessageDeletedForEveryone = "message:deletedForEveryone"
	EventNotificationNewMessage    = "notification:new_message"
	EventUserOnline                = "user:online"
	EventUserOffline               = "user:offline"
	EventAck                       = "ack"
)

// ClientEnvelope is the wire shape of every client -> server frame.
// Ref, when set, is echoed back in the acknowledgement.
type ClientEnvelope struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerEnvelope is the wire shape of every server -> client frame.
type ServerEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Ack acknowledges a client mutation. A request is never silently
// dropped: failures carry ok=false plus a message.
type Ack struct {
	Ref   string `json:"ref,omitempty"`
	For   string `json:"for"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// SendMessagePayload carries a send:message request.
type SendMessagePayload struct {
	ConversationID uuid.UUID           `json:"conversation_id"`
	Text           string              `json:"text,omitempty"`
	Attachments    []entity.Attachment `json:"attachments,omitempty"`
}

// SeenPayload carries a message:seen request.
type SeenPayload struct {
	MessageIDs []uuid.UUID `json:"message_ids"`
}

// DeleteMessagePayload carries message:deleteForMe / deleteForEveryone.
type DeleteMessagePayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

// ChatDeletePayload carries a chat:delete request.
type ChatDeletePayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

// TypingPayload is relayed verbatim to the other participants.
type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id,omitempty"`
	IsTyping       bool      `json:"is_typing"`
}

// MessageEvent is the message:received / notification payload.
type MessageEvent struct {
	ConversationID   uuid.UUID               `json:"conversation_id"`
	ConversationType entity.ConversationType `json:"conversation_type"`
	GroupName        string                  `json:"group_name,omitempty"`
	Message          *entity.Message         `json:"message"`
}

// SeenEvent is the message:seen fan-out payload.
type SeenEvent struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	ViewerID       uuid.UUID   `json:"viewer_id"`
	MessageIDs     []uuid.UUID `json:"message_ids"`
}

// MessageDeletedEvent is the payload of both delete fan-outs.
type MessageDeletedEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
}

// ConversationHiddenEvent echoes a chat:delete to the actor's sessions.
type ConversationHiddenEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

// PresenceEvent is the user:online / user:offline payload.
type PresenceEvent struct {
	UserID uuid.UUID `json:"user_id"`
}
