package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vadim/converso/internal/domain/chat/policy"
	"github.com/vadim/converso/internal/domain/chat/service"
	"github.com/vadim/converso/internal/httpx/response"
)

// InboxPolicy defines the interface for inbox operations
type InboxPolicy interface {
	BuildInbox(ctx context.Context, userID uuid.UUID, limit int, after string) (*service.BuildInboxOutput, error)
}

// InboxHandler handles HTTP requests for the inbox projection
type InboxHandler struct {
	policy InboxPolicy
}

// NewInboxHandler creates a new inbox handler
func NewInboxHandler(p InboxPolicy) *InboxHandler {
	return &InboxHandler{policy: p}
}

// RegisterRoutes registers inbox routes
func (h *InboxHandler) RegisterRoutes(r chi.Router) {
	r.Get("/inbox", h.Get())
}

// InboxResponse represents one page of the caller's inbox
type InboxResponse struct {
	Items      []service.InboxItem `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
	HasMore    bool                `json:"has_more"`
}

// Get handles GET /inbox
func (h *InboxHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if l := r.URL.Query().Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		out, err := h.policy.BuildInbox(r.Context(), UserID(r.Context()), limit, r.URL.Query().Get("after"))
		if err != nil {
			handleChatError(w, err)
			return
		}

		response.OK(w, InboxResponse{
			Items:      out.Items,
			NextCursor: policy.EncodeInboxCursor(out.NextCursor),
			HasMore:    out.HasMore,
		})
	}
}
