package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/vadim/converso/internal/httpx/response"
)

// Verifier resolves an opaque bearer token to a verified user id.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (uuid.UUID, error)
}

type contextKey string

const userIDKey contextKey = "user_id"

// Authenticator verifies the caller on every request. Tokens are taken
// from the Authorization header, or from the token query parameter for
// WebSocket upgrades where custom headers are unavailable.
func Authenticator(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				response.Unauthorized(w, "missing credentials")
				return
			}

			userID, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				response.Unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the verified caller id set by Authenticator.
func UserID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(userIDKey).(uuid.UUID)
	return id
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
