package http

import (
	"errors"
	"net/http"

	"github.com/vadim/converso/internal/domain/chat/entity"
	"github.com/vadim/converso/internal/domain/chat/policy"
	"github.com/vadim/converso/internal/httpx/response"
)

// handleChatError maps domain errors onto the HTTP error taxonomy. Every
// handler funnels its operation errors through here so a given failure
// always produces the same status and message.
func handleChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrEmptyMessage),
		errors.Is(err, entity.ErrMessageTooLong),
		errors.Is(err, entity.ErrInvalidAttachment),
		errors.Is(err, entity.ErrEmptyGroupName),
		errors.Is(err, entity.ErrGroupNameTooLong),
		errors.Is(err, entity.ErrNotEnoughMembers),
		errors.Is(err, entity.ErrSelfConversation),
		errors.Is(err, policy.ErrInvalidRequestType),
		errors.Is(err, policy.ErrMissingTarget),
		errors.Is(err, policy.ErrMissingMessage),
		errors.Is(err, policy.ErrInvalidScope),
		errors.Is(err, policy.ErrInvalidCursor):
		response.BadRequest(w, err.Error())

	case errors.Is(err, entity.ErrConversationNotFound),
		errors.Is(err, entity.ErrMessageNotFound),
		errors.Is(err, entity.ErrUserNotFound):
		response.NotFound(w, err.Error())

	case errors.Is(err, entity.ErrNotParticipant),
		errors.Is(err, entity.ErrNotSender),
		errors.Is(err, entity.ErrBlocked),
		errors.Is(err, entity.ErrPeerHidden):
		response.Forbidden(w, err.Error())

	case errors.Is(err, entity.ErrDuplicatePair):
		response.Conflict(w, err.Error())

	default:
		response.InternalError(w, "internal error")
	}
}
