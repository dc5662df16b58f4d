package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vadim/converso/internal/domain/chat/entity"
	"github.com/vadim/converso/internal/httpx/response"
)

// UserPolicy defines the interface for user profile lookups
type UserPolicy interface {
	GetUser(ctx context.Context, id uuid.UUID) (*entity.User, error)
}

// UserHandler handles HTTP requests for user profiles
type UserHandler struct {
	policy UserPolicy
}

// NewUserHandler creates a new user handler
func NewUserHandler(p UserPolicy) *UserHandler {
	return &UserHandler{policy: p}
}

// RegisterRoutes registers user routes
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/users/{userId}", h.Get())
}

// Get handles GET /users/{userId}
func (h *UserHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "userId"))
		if err != nil {
			response.BadRequest(w, "invalid user id")
			return
		}

		user, err := h.policy.GetUser(r.Context(), id)
		if err != nil {
			handleChatError(w, err)
			return
		}
		response.OK(w, user)
	}
}
