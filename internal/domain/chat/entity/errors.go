package entity

import "errors"

// Domain errors for the chat core
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrUserNotFound         = errors.New("user not found")

	ErrEmptyMessage      = errors.New("message needs text or attachments")
	ErrMessageTooLong    = errors.New("message exceeds maximum length")
	ErrInvalidAttachment = errors.New("attachment needs a valid kind and url")
	ErrEmptyGroupName    = errors.New("group name cannot be empty")
	ErrGroupNameTooLong  = errors.New("group name exceeds maximum length")
	ErrNotEnoughMembers  = errors.New("group needs at least two other members")
	ErrSelfConversation  = errors.New("cannot start a conversation with yourself")

	ErrNotParticipant = errors.New("not a participant of this conversation")
	ErrNotSender      = errors.New("only the sender can delete for everyone")
	ErrBlocked        = errors.New("conversation is blocked")
	ErrPeerHidden     = errors.New("the other participant has hidden this conversation")

	ErrDuplicatePair = errors.New("private conversation for this pair already exists")
)
