// Package visibility holds the pure decision rules governing which
// conversations and messages a given user may see. It has no side effects;
// the registry, ledger and projector call into it before every state
// transition or read.
package visibility

import (
	"github.com/google/uuid"

	"github.com/vadim/converso/internal/domain/chat/entity"
)

// ConversationVisible reports whether the conversation appears in the
// participant's inbox. A non-nil DeletedAt hides the thread.
func ConversationVisible(p *entity.Participant) bool {
	return p != nil && p.DeletedAt == nil
}

// MessageVisible reports whether the viewer may see the message at all.
// Hidden when the viewer individually deleted it, or when it falls at or
// below the viewer's history watermark. Tombstoned messages stay visible
// as rows (content suppression is Tombstone's job) so ordering holds.
func MessageVisible(m *entity.Message, viewerID uuid.UUID, p *entity.Participant) bool {
	if m.DeletedForUser(viewerID) {
		return false
	}
	if p != nil && p.HideMessagesBefore != nil && !m.CreatedAt.After(*p.HideMessagesBefore) {
		return false
	}
	return true
}

// Tombstone returns the message as served to viewers once it has been
// deleted for everyone: content stripped, position preserved. Messages
// that were not globally deleted pass through untouched.
func Tombstone(m *entity.Message) *entity.Message {
	if !m.IsDeletedForEveryone {
		return m
	}
	t := *m
	t.Text = ""
	t.Attachments = nil
	return &t
}

// CanStartPrivate decides whether the requester may create or restore a
// private conversation with the other side. Blocking on either side wins;
// a peer who hid the thread cannot have it unilaterally revived.
// On success the caller clears the requester's own hidden state only.
func CanStartPrivate(me, other *entity.Participant) error {
	if me.Blocked || other.Blocked {
		return entity.ErrBlocked
	}
	if other.DeletedAt != nil {
		return entity.ErrPeerHidden
	}
	return nil
}
