package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AttachmentKind classifies a message attachment
type AttachmentKind string

const (
	AttachmentKindImage AttachmentKind = "image"
	AttachmentKindVideo AttachmentKind = "video"
	AttachmentKindFile  AttachmentKind = "file"
)

// Attachment is a single media item attached to a message
type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	URL  string         `json:"url"`
}

// Message is a single chat message. Messages are never hard-deleted:
// DeletedFor hides a message from individual users, and
// IsDeletedForEveryone turns the row into a tombstone whose position in
// the sequence is preserved but whose content is suppressed.
type Message struct {
	ID                   uuid.UUID    `json:"id"`
	ConversationID       uuid.UUID    `json:"conversation_id"`
	SenderID             uuid.UUID    `json:"sender_id"`
	Text                 string       `json:"text,omitempty"`
	Attachments          []Attachment `json:"attachments,omitempty"`
	IsDeletedForEveryone bool         `json:"is_deleted_for_everyone"`
	DeletedFor           []uuid.UUID  `json:"-"`
	SeenBy               []uuid.UUID  `json:"seen_by"`
	DeliveredTo          []uuid.UUID  `json:"delivered_to"`
	CreatedAt            time.Time    `json:"created_at"`
	// Seq breaks created_at ties; assigned by the store on insert.
	Seq int64 `json:"-"`
}

// DeletedForUser reports whether the message is individually hidden from userID.
func (m *Message) DeletedForUser(userID uuid.UUID) bool {
	return containsID(m.DeletedFor, userID)
}

// SeenByUser reports whether userID has viewed the message.
func (m *Message) SeenByUser(userID uuid.UUID) bool {
	return containsID(m.SeenBy, userID)
}

// DeliveredToUser reports whether delivery to userID was confirmed.
func (m *Message) DeliveredToUser(userID uuid.UUID) bool {
	return containsID(m.DeliveredTo, userID)
}

// Before orders messages by (CreatedAt, Seq). The pair is the total order
// key within a conversation.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.Seq < other.Seq
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// MaxMessageLength is the maximum length of a text message
const MaxMessageLength = 4096

// ValidateContent validates message content: a message needs text or at
// least one attachment, and every attachment needs a kind and URL.
func ValidateContent(text string, attachments []Attachment) error {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	for _, a := range attachments {
		switch a.Kind {
		case AttachmentKindImage, AttachmentKindVideo, AttachmentKindFile:
		default:
			return ErrInvalidAttachment
		}
		if a.URL == "" {
			return ErrInvalidAttachment
		}
	}
	return nil
}
