package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vadim/converso/internal/domain/chat/entity"
	"github.com/vadim/converso/internal/domain/chat/policy"
	"github.com/vadim/converso/internal/domain/chat/service"
	"github.com/vadim/converso/internal/httpx/response"
)

// MessagePolicy defines the interface for message operations
type MessagePolicy interface {
	ListMessages(ctx context.Context, userID, conversationID uuid.UUID, limit int, before string) (*service.ListOutput, error)
	SendMessage(ctx context.Context, userID, conversationID uuid.UUID, text string, attachments []entity.Attachment) (*entity.Message, error)
	MarkSeen(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) error
	DeleteMessage(ctx context.Context, userID, messageID uuid.UUID, scope string) error
}

// MessageHandler handles HTTP requests for messages
type MessageHandler struct {
	policy MessagePolicy
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(p MessagePolicy) *MessageHandler {
	return &MessageHandler{policy: p}
}

// RegisterRoutes registers message routes
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations/{conversationId}/messages", h.List())
	r.Post("/conversations/{conversationId}/messages", h.Send())
	r.Post("/messages/seen", h.MarkSeen())
	r.Delete("/messages/{messageId}", h.Delete())
}

// ListMessagesResponse represents one page of conversation history
type ListMessagesResponse struct {
	Messages   []entity.Message `json:"messages"`
	NextCursor string           `json:"next_cursor,omitempty"`
	HasMore    bool             `json:"has_more"`
}

// List handles GET /conversations/{conversationId}/messages
func (h *MessageHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID, err := uuid.Parse(chi.URLParam(r, "conversationId"))
		if err != nil {
			response.BadRequest(w, "invalid conversation id")
			return
		}

		limit := 0
		if l := r.URL.Query().Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		out, err := h.policy.ListMessages(r.Context(), UserID(r.Context()), conversationID, limit, r.URL.Query().Get("before"))
		if err != nil {
			handleChatError(w, err)
			return
		}

		response.OK(w, ListMessagesResponse{
			Messages:   out.Messages,
			NextCursor: policy.EncodeMessageCursor(out.NextCursor),
			HasMore:    out.HasMore,
		})
	}
}

// SendMessageRequest represents the request for sending a message
type SendMessageRequest struct {
	Text        string              `json:"text,omitempty"`
	Attachments []entity.Attachment `json:"attachments,omitempty"`
}

// Send handles POST /conversations/{conversationId}/messages
func (h *MessageHandler) Send() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID, err := uuid.Parse(chi.URLParam(r, "conversationId"))
		if err != nil {
			response.BadRequest(w, "invalid conversation id")
			return
		}

		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}

		msg, err := h.policy.SendMessage(r.Context(), UserID(r.Context()), conversationID, req.Text, req.Attachments)
		if err != nil {
			handleChatError(w, err)
			return
		}
		response.Created(w, msg)
	}
}

// MarkSeenRequest represents the request for marking messages as seen
type MarkSeenRequest struct {
	MessageIDs []uuid.UUID `json:"message_ids"`
}

// MarkSeen handles POST /messages/seen
func (h *MessageHandler) MarkSeen() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MarkSeenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}
		if len(req.MessageIDs) == 0 {
			response.BadRequest(w, "message_ids is required")
			return
		}

		if err := h.policy.MarkSeen(r.Context(), UserID(r.Context()), req.MessageIDs); err != nil {
			handleChatError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// Delete handles DELETE /messages/{messageId}?scope=me|everyone
func (h *MessageHandler) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID, err := uuid.Parse(chi.URLParam(r, "messageId"))
		if err != nil {
			response.BadRequest(w, "invalid message id")
			return
		}

		scope := r.URL.Query().Get("scope")
		if err := h.policy.DeleteMessage(r.Context(), UserID(r.Context()), messageID, scope); err != nil {
			handleChatError(w, err)
			return
		}
		response.NoContent(w)
	}
}
