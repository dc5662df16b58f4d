package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vadim/converso/internal/domain/chat/entity"
	"github.com/vadim/converso/internal/domain/chat/policy"
	"github.com/vadim/converso/internal/httpx/response"
)

// ConversationPolicy defines the interface for conversation operations
type ConversationPolicy interface {
	CreateConversation(ctx context.Context, userID uuid.UUID, req policy.CreateConversationRequest) (*policy.CreateConversationResult, error)
	CreateOrGetPrivate(ctx context.Context, userID, targetID uuid.UUID) (*entity.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]entity.Conversation, error)
	DeleteConversation(ctx context.Context, userID, conversationID uuid.UUID) error
}

// ConversationHandler handles HTTP requests for conversations
type ConversationHandler struct {
	policy ConversationPolicy
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(p ConversationPolicy) *ConversationHandler {
	return &ConversationHandler{policy: p}
}

// RegisterRoutes registers conversation routes
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", h.Create())
		r.Post("/private", h.CreateOrGetPrivate())
		r.Get("/", h.List())
		r.Delete("/{conversationId}", h.Delete())
	})
}

// Create handles POST /conversations
func (h *ConversationHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req policy.CreateConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}

		result, err := h.policy.CreateConversation(r.Context(), UserID(r.Context()), req)
		if err != nil {
			handleChatError(w, err)
			return
		}
		response.Created(w, result)
	}
}

// CreateOrGetPrivateRequest represents the request for resolving a private thread
type CreateOrGetPrivateRequest struct {
	TargetUserID uuid.UUID `json:"target_user_id"`
}

// CreateOrGetPrivate handles POST /conversations/private
func (h *ConversationHandler) CreateOrGetPrivate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateOrGetPrivateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}

		conv, err := h.policy.CreateOrGetPrivate(r.Context(), UserID(r.Context()), req.TargetUserID)
		if err != nil {
			handleChatError(w, err)
			return
		}
		response.OK(w, conv)
	}
}

// ListConversationsResponse represents the response for listing conversations
type ListConversationsResponse struct {
	Conversations []entity.Conversation `json:"conversations"`
	Total         int                   `json:"total"`
}

// List handles GET /conversations
func (h *ConversationHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := h.policy.ListConversations(r.Context(), UserID(r.Context()))
		if err != nil {
			handleChatError(w, err)
			return
		}

		response.OK(w, ListConversationsResponse{
			Conversations: convs,
			Total:         len(convs),
		})
	}
}

// Delete handles DELETE /conversations/{conversationId}
func (h *ConversationHandler) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID, err := uuid.Parse(chi.URLParam(r, "conversationId"))
		if err != nil {
			response.BadRequest(w, "invalid conversation id")
			return
		}

		if err := h.policy.DeleteConversation(r.Context(), UserID(r.Context()), conversationID); err != nil {
			handleChatError(w, err)
			return
		}
		response.NoContent(w)
	}
}
