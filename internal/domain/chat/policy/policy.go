// Package policy is the operation surface shared by the REST handlers and
// the realtime event handlers. Both transports funnel into the same
// validated operations so a WebSocket mutation follows the identical
// contract as its REST counterpart.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/converso/internal/domain/chat/entity"
	"github.com/vadim/converso/internal/domain/chat/service"
)

// Validation errors raised before any operation reaches the core.
var (
	ErrInvalidRequestType = errors.New("conversation type must be private or group")
	ErrMissingTarget      = errors.New("target_user_id is required for private conversations")
	ErrMissingMessage     = errors.New("initial_message is required for private conversations")
	ErrInvalidScope       = errors.New("delete scope must be me or everyone")
	ErrInvalidCursor      = errors.New("malformed pagination cursor")
)

// ConversationRegistry is the registry surface the policy depends on.
type ConversationRegistry interface {
	CreateOrGetPrivate(ctx context.Context, requesterID, otherID uuid.UUID) (*entity.Conversation, error)
	CreatePrivateWithFirstMessage(ctx context.Context, creatorID, targetID uuid.UUID, text string) (*entity.Conversation, *entity.Message, error)
	CreateGroup(ctx context.Context, in service.CreateGroupInput) (*entity.Conversation, *entity.Message, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]entity.Conversation, error)
	SoftDeleteForUser(ctx context.Context, conversationID, userID uuid.UUID) error
	Members(ctx context.Context, conversationID, userID uuid.UUID) ([]uuid.UUID, error)
}

// MessageLedger is the ledger surface the policy depends on.
type MessageLedger interface {
	Send(ctx context.Context, in service.SendInput) (*entity.Message, error)
	ListByConversation(ctx context.Context, in service.ListInput) (*service.ListOutput, error)
	MarkSeen(ctx context.Context, messageIDs []uuid.UUID, viewerID uuid.UUID) error
	MarkDelivered(ctx context.Context, messageIDs []uuid.UUID, userID uuid.UUID) error
	DeleteForSelf(ctx context.Context, messageID, viewerID uuid.UUID) error
	DeleteForEveryone(ctx context.Context, messageID, requesterID uuid.UUID) error
}

// InboxProjector is the projector surface the policy depends on.
type InboxProjector interface {
	BuildInbox(ctx context.Context, in service.BuildInboxInput) (*service.BuildInboxOutput, error)
}

// UserDirectory resolves user profiles.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
}

// Policy routes verified identities into validated core operations.
type Policy struct {
	registry  ConversationRegistry
	ledger    MessageLedger
	projector InboxProjector
	users     UserDirectory
}

// New creates a policy over the core services.
func New(registry ConversationRegistry, ledger MessageLedger, projector InboxProjector, users UserDirectory) *Policy {
	return &Policy{registry: registry, ledger: ledger, projector: projector, users: users}
}

// CreateConversationRequest is the tagged request for conversation
// creation: exactly one variant applies depending on Type.
type CreateConversationRequest struct {
	Type entity.ConversationType `json:"type"`

	// Private variant
	TargetUserID uuid.UUID `json:"target_user_id,omitempty"`

	// Group variant
	MemberIDs []uuid.UUID `json:"member_ids,omitempty"`
	Name      string      `json:"name,omitempty"`
	PhotoURL  string      `json:"photo_url,omitempty"`

	// Shared: required for private, optional for group
	InitialMessage string `json:"initial_message,omitempty"`
}

// CreateConversationResult carries the created (or reused) conversation
// and the initial message when one was delivered.
type CreateConversationResult struct {
	Conversation *entity.Conversation `json:"conversation"`
	Message      *entity.Message      `json:"message,omitempty"`
}

// CreateConversation dispatches the tagged request to the matching
// registry operation after validating the variant's required fields.
func (p *Policy) CreateConversation(ctx context.Context, userID uuid.UUID, req CreateConversationRequest) (*CreateConversationResult, error) {
	switch req.Type {
	case entity.ConversationTypePrivate:
		if req.TargetUserID == uuid.Nil {
			return nil, ErrMissingTarget
		}
		if strings.TrimSpace(req.InitialMessage) == "" {
			return nil, ErrMissingMessage
		}
		conv, msg, err := p.registry.CreatePrivateWithFirstMessage(ctx, userID, req.TargetUserID, req.InitialMessage)
		if err != nil {
			return nil, err
		}
		return &CreateConversationResult{Conversation: conv, Message: msg}, nil
	case entity.ConversationTypeGroup:
		conv, msg, err := p.registry.CreateGroup(ctx, service.CreateGroupInput{
			CreatorID:    userID,
			MemberIDs:    req.MemberIDs,
			Name:         req.Name,
			PhotoURL:     req.PhotoURL,
			FirstMessage: req.InitialMessage,
		})
		if err != nil {
			return nil, err
		}
		return &CreateConversationResult{Conversation: conv, Message: msg}, nil
	default:
		return nil, ErrInvalidRequestType
	}
}

// CreateOrGetPrivate resolves (creating or restoring) the private thread
// with the target user.
func (p *Policy) CreateOrGetPrivate(ctx context.Context, userID, targetID uuid.UUID) (*entity.Conversation, error) {
	if targetID == uuid.Nil {
		return nil, ErrMissingTarget
	}
	return p.registry.CreateOrGetPrivate(ctx, userID, targetID)
}

// ListConversations returns the caller's visible conversations.
func (p *Policy) ListConversations(ctx context.Context, userID uuid.UUID) ([]entity.Conversation, error) {
	return p.registry.ListForUser(ctx, userID)
}

// DeleteConversation hides the conversation for the caller only.
func (p *Policy) DeleteConversation(ctx context.Context, userID, conversationID uuid.UUID) error {
	return p.registry.SoftDeleteForUser(ctx, conversationID, userID)
}

// ListMessages returns one page of the conversation as seen by the
// caller. before is the opaque cursor produced by EncodeMessageCursor,
// empty for the newest page.
func (p *Policy) ListMessages(ctx context.Context, userID, conversationID uuid.UUID, limit int, before string) (*service.ListOutput, error) {
	cursor, err := DecodeMessageCursor(before)
	if err != nil {
		return nil, err
	}
	return p.ledger.ListByConversation(ctx, service.ListInput{
		ConversationID: conversationID,
		ViewerID:       userID,
		Limit:          limit,
		Before:         cursor,
	})
}

// SendMessage delivers a message into the conversation.
func (p *Policy) SendMessage(ctx context.Context, userID, conversationID uuid.UUID, text string, attachments []entity.Attachment) (*entity.Message, error) {
	return p.ledger.Send(ctx, service.SendInput{
		ConversationID: conversationID,
		SenderID:       userID,
		Text:           text,
		Attachments:    attachments,
	})
}

// MarkSeen records the caller as having viewed the given messages.
func (p *Policy) MarkSeen(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) error {
	return p.ledger.MarkSeen(ctx, messageIDs, userID)
}

// MarkDelivered records delivery confirmation for the given messages.
func (p *Policy) MarkDelivered(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) error {
	return p.ledger.MarkDelivered(ctx, messageIDs, userID)
}

// DeleteMessage deletes a message for the caller or, when scope is
// everyone and the caller sent it, for all participants.
func (p *Policy) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID, scope string) error {
	switch scope {
	case "", "me":
		return p.ledger.DeleteForSelf(ctx, messageID, userID)
	case "everyone":
		return p.ledger.DeleteForEveryone(ctx, messageID, userID)
	default:
		return ErrInvalidScope
	}
}

// BuildInbox returns one page of the caller's inbox. after is the opaque
// cursor produced by EncodeInboxCursor, empty for the first page.
func (p *Policy) BuildInbox(ctx context.Context, userID uuid.UUID, limit int, after string) (*service.BuildInboxOutput, error) {
	cursor, err := DecodeInboxCursor(after)
	if err != nil {
		return nil, err
	}
	return p.projector.BuildInbox(ctx, service.BuildInboxInput{
		UserID: userID,
		Limit:  limit,
		After:  cursor,
	})
}

// ConversationMembers returns the participant ids of a conversation the
// caller belongs to.
func (p *Policy) ConversationMembers(ctx context.Context, userID, conversationID uuid.UUID) ([]uuid.UUID, error) {
	return p.registry.Members(ctx, conversationID, userID)
}

// GetUser resolves a profile with its presence flags.
func (p *Policy) GetUser(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	return p.users.GetByID(ctx, id)
}

// EncodeInboxCursor renders a keyset cursor as "<updated_at>~<id>".
func EncodeInboxCursor(c *service.InboxCursor) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%s~%s", c.UpdatedAt.UTC().Format(time.RFC3339Nano), c.ID)
}

// DecodeInboxCursor parses the opaque inbox cursor; empty means first page.
func DecodeInboxCursor(s string) (*service.InboxCursor, error) {
	if s == "" {
		return nil, nil
	}
	at, id, ok := strings.Cut(s, "~")
	if !ok {
		return nil, ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &service.InboxCursor{UpdatedAt: ts, ID: uid}, nil
}

// EncodeMessageCursor renders a history cursor as "<created_at>~<seq>".
func EncodeMessageCursor(c *service.MessageCursor) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%s~%d", c.CreatedAt.UTC().Format(time.RFC3339Nano), c.Seq)
}

// DecodeMessageCursor parses the opaque history cursor; empty means the
// newest page.
func DecodeMessageCursor(s string) (*service.MessageCursor, error) {
	if s == "" {
		return nil, nil
	}
	at, seqStr, ok := strings.Cut(s, "~")
	if !ok {
		return nil, ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &service.MessageCursor{CreatedAt: ts, Seq: seq}, nil
}
