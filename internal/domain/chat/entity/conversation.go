package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConversationType distinguishes one-to-one threads from groups.
// Immutable after creation.
type ConversationType string

const (
	ConversationTypePrivate ConversationType = "private"
	ConversationTypeGroup   ConversationType = "group"
)

// Conversation is a chat thread. Private conversations carry exactly two
// participants and a normalized PairKey; groups carry a name and any number
// of members. Conversations are never hard-deleted, only hidden per
// participant.
type Conversation struct {
	ID            uuid.UUID        `json:"id"`
	Type          ConversationType `json:"type"`
	GroupName     string           `json:"group_name,omitempty"`
	GroupPhotoURL string           `json:"group_photo_url,omitempty"`
	// PairKey is set only for private conversations that still own their
	// user pair. A retired thread (replaced by a fresh one after a self
	// delete) keeps its rows but loses the key.
	PairKey      string        `json:"-"`
	Participants []Participant `json:"participants,omitempty"`
	LastMessage  *LastMessage  `json:"last_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// LastMessage is the denormalized snapshot of the most recent message,
// cached on the conversation for inbox rendering.
type LastMessage struct {
	MessageID uuid.UUID `json:"message_id"`
	Text      string    `json:"text"`
	SenderID  uuid.UUID `json:"sender_id"`
	SentAt    time.Time `json:"sent_at"`
}

// Participant is a per-user membership record inside a conversation.
// DeletedAt hides the thread from that user's inbox; HideMessagesBefore
// hides history created at or before the watermark. Both are set in
// lockstep on a "delete for me" action.
type Participant struct {
	ConversationID     uuid.UUID  `json:"conversation_id"`
	UserID             uuid.UUID  `json:"user_id"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
	HideMessagesBefore *time.Time `json:"hide_messages_before,omitempty"`
	ArchivedAt         *time.Time `json:"archived_at,omitempty"`
	MutedUntil         *time.Time `json:"muted_until,omitempty"`
	Blocked            bool       `json:"blocked"`
	JoinedAt           time.Time  `json:"joined_at"`
}

// Participant returns the membership record for userID, or nil.
func (c *Conversation) Participant(userID uuid.UUID) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// OtherParticipants returns every membership record except userID's.
func (c *Conversation) OtherParticipants(userID uuid.UUID) []Participant {
	out := make([]Participant, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.UserID != userID {
			out = append(out, p)
		}
	}
	return out
}

// ParticipantIDs returns the user ids of all members.
func (c *Conversation) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.UserID
	}
	return ids
}

// PairKey normalizes an unordered user pair into a stable lookup key,
// so (a,b) and (b,a) resolve to the same private conversation.
func PairKey(a, b uuid.UUID) string {
	sa, sb := a.String(), b.String()
	if sa > sb {
		sa, sb = sb, sa
	}
	return sa + ":" + sb
}

// MaxGroupNameLength is the maximum length of a group display name
const MaxGroupNameLength = 128

// ValidateGroupName validates a group conversation's display name
func ValidateGroupName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyGroupName
	}
	if len(name) > MaxGroupNameLength {
		return ErrGroupNameTooLong
	}
	return nil
}
