package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vadim/converso/internal/realtime"
)

// WSHandler upgrades authenticated requests into live relay sessions.
type WSHandler struct {
	hub      *realtime.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler(hub *realtime.Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Token auth happens before the upgrade; origins are not
			// restricted here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the WebSocket route
func (h *WSHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.Serve())
}

// Serve handles GET /ws
func (h *WSHandler) Serve() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := UserID(r.Context())

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", "user_id", userID, "err", err)
			return
		}

		client := realtime.NewClient(h.hub, conn, userID, h.logger)
		go client.Serve()
	}
}
