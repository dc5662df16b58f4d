package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/converso/internal/domain/chat/entity"
	"github.com/vadim/converso/internal/domain/chat/visibility"
)

// DefaultInboxPageSize is the inbox page size when the caller gives none.
const DefaultInboxPageSize = 20

// Projector builds the denormalized inbox view by composing registry and
// ledger state: visible conversations plus peer summaries, the last
// message and unread indicators.
type Projector struct {
	convs  ConversationRepository
	msgs   MessageRepository
	users  UserRepository
	logger *slog.Logger
}

// NewProjector creates an inbox projector.
func NewProjector(convs ConversationRepository, msgs MessageRepository, users UserRepository, logger *slog.Logger) *Projector {
	return &Projector{convs: convs, msgs: msgs, users: users, logger: logger}
}

// InboxItem is one row of a user's inbox.
type InboxItem struct {
	ConversationID uuid.UUID               `json:"conversation_id"`
	Type           entity.ConversationType `json:"type"`
	GroupName      string                  `json:"group_name,omitempty"`
	GroupPhotoURL  string                  `json:"group_photo_url,omitempty"`
	// Peer is the other side of a private conversation.
	Peer *entity.UserSummary `json:"peer,omitempty"`
	// Members are the other group members (group conversations only).
	Members           []entity.UserSummary `json:"members,omitempty"`
	LastMessage       *entity.LastMessage  `json:"last_message,omitempty"`
	LastUnreadMessage *entity.Message      `json:"last_unread_message,omitempty"`
	UnreadCount       int                  `json:"unread_count"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// BuildInboxInput selects an inbox page.
type BuildInboxInput struct {
	UserID uuid.UUID
	Limit  int
	After  *InboxCursor
}

// BuildInboxOutput is one inbox page with the cursor for the next one.
type BuildInboxOutput struct {
	Items      []InboxItem
	NextCursor *InboxCursor
	HasMore    bool
}

// BuildInbox returns the caller's visible conversations ordered by recency
// with keyset pagination on (updated_at, id).
func (p *Projector) BuildInbox(ctx context.Context, in BuildInboxInput) (*BuildInboxOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = DefaultInboxPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	convs, err := p.convs.ListVisibleForUser(ctx, in.UserID, limit+1, in.After)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	out := &BuildInboxOutput{}
	if len(convs) > limit {
		convs = convs[:limit]
		out.HasMore = true
	}
	if out.HasMore && len(convs) > 0 {
		last := convs[len(convs)-1]
		out.NextCursor = &InboxCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
	}

	summaries, err := p.memberSummaries(ctx, convs, in.UserID)
	if err != nil {
		return nil, err
	}

	out.Items = make([]InboxItem, 0, len(convs))
	for i := range convs {
		conv := &convs[i]
		item, err := p.buildItem(ctx, conv, in.UserID, summaries)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (p *Projector) buildItem(ctx context.Context, conv *entity.Conversation, userID uuid.UUID, summaries map[uuid.UUID]entity.UserSummary) (InboxItem, error) {
	item := InboxItem{
		ConversationID: conv.ID,
		Type:           conv.Type,
		GroupName:      conv.GroupName,
		GroupPhotoURL:  conv.GroupPhotoURL,
		LastMessage:    conv.LastMessage,
		UpdatedAt:      conv.UpdatedAt,
	}

	for _, other := range conv.OtherParticipants(userID) {
		s, ok := summaries[other.UserID]
		if !ok {
			continue
		}
		if conv.Type == entity.ConversationTypePrivate {
			peer := s
			item.Peer = &peer
		} else {
			item.Members = append(item.Members, s)
		}
	}

	var hideBefore *time.Time
	if me := conv.Participant(userID); me != nil {
		hideBefore = me.HideMessagesBefore
	}

	unread, err := p.msgs.LastUnread(ctx, conv.ID, userID, hideBefore)
	if err != nil {
		return item, fmt.Errorf("resolving last unread: %w", err)
	}
	if unread != nil {
		item.LastUnreadMessage = visibility.Tombstone(unread)
		n, err := p.msgs.CountUnread(ctx, conv.ID, userID, hideBefore)
		if err != nil {
			return item, fmt.Errorf("counting unread: %w", err)
		}
		item.UnreadCount = n
	}
	return item, nil
}

func (p *Projector) memberSummaries(ctx context.Context, convs []entity.Conversation, userID uuid.UUID) (map[uuid.UUID]entity.UserSummary, error) {
	idSet := make(map[uuid.UUID]struct{})
	for i := range convs {
		for _, other := range convs[i].OtherParticipants(userID) {
			idSet[other.UserID] = struct{}{}
		}
	}
	if len(idSet) == 0 {
		return map[uuid.UUID]entity.UserSummary{}, nil
	}

	ids := make([]uuid.UUID, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	users, err := p.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading member profiles: %w", err)
	}

	out := make(map[uuid.UUID]entity.UserSummary, len(users))
	for i := range users {
		out[users[i].ID] = users[i].Summary()
	}
	return out, nil
}
