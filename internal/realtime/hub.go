package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/converso/internal/config"
	"github.com/vadim/converso/internal/domain/chat/entity"
)

// Ops is the slice of the policy surface the relay dispatches into.
// Every client event runs the same validated operation as its REST
// counterpart.
type Ops interface {
	SendMessage(ctx context.Context, userID, conversationID uuid.UUID, text string, attachments []entity.Attachment) (*entity.Message, error)
	MarkSeen(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) error
	MarkDelivered(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) error
	DeleteMessage(ctx context.Context, userID, messageID uuid.UUID, scope string) error
	DeleteConversation(ctx context.Context, userID, conversationID uuid.UUID) error
	ConversationMembers(ctx context.Context, userID, conversationID uuid.UUID) ([]uuid.UUID, error)
}

// PresenceStore persists best-effort presence flags.
type PresenceStore interface {
	SetPresence(ctx context.Context, id uuid.UUID, online bool, lastSeen time.Time) error
	ListOnline(ctx context.Context) ([]uuid.UUID, error)
}

// Hub is the session registry and fan-out point for live connections.
// It owns only ephemeral transport state; durable chat state lives in
// the registry and ledger. Fan-out is best effort and strictly
// post-commit: a slow or dead session is skipped, never retried.
type Hub struct {
	cfg      config.Realtime
	ops      Ops
	presence PresenceStore
	logger   *slog.Logger

	register   chan *Client
	unregister chan *Client

	// mu guards clients only; it is never held across a store call.
	mu      sync.Mutex
	clients map[uuid.UUID][]*Client
}

// NewHub creates a hub. SetOps must be called before Run when the policy
// is constructed after the hub (the hub doubles as the services'
// notifier, so construction order is circular).
func NewHub(cfg config.Realtime, presence PresenceStore, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:        cfg,
		presence:   presence,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[uuid.UUID][]*Client),
	}
}

// SetOps wires the operation surface the relay dispatches into.
func (h *Hub) SetOps(ops Ops) { h.ops = ops }

// Run processes session registration until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.addClient(ctx, c)
		case c := <-h.unregister:
			h.removeClient(ctx, c)
		}
	}
}

// Register attaches a connected session to the hub.
func (h *Hub) Register(c *Client) { h.register <- c }

func (h *Hub) addClient(ctx context.Context, c *Client) {
	h.mu.Lock()
	first := len(h.clients[c.userID]) == 0
	h.clients[c.userID] = append(h.clients[c.userID], c)
	h.mu.Unlock()

	h.logger.Info("session connected", "user_id", c.userID, "first", first)

	if first {
		if err := h.presence.SetPresence(ctx, c.userID, true, time.Now().UTC()); err != nil {
			h.logger.Error("persisting online presence", "user_id", c.userID, "err", err)
		}
		h.Broadcast(ServerEnvelope{Event: EventUserOnline, Data: PresenceEvent{UserID: c.userID}})
	}
}

func (h *Hub) removeClient(ctx context.Context, c *Client) {
	h.mu.Lock()
	sessions := h.clients[c.userID]
	for i, s := range sessions {
		if s == c {
			sessions = append(sessions[:i], sessions[i+1:]...)
			break
		}
	}
	if len(sessions) == 0 {
		delete(h.clients, c.userID)
	} else {
		h.clients[c.userID] = sessions
	}
	last := len(sessions) == 0
	h.mu.Unlock()

	c.close()
	h.logger.Info("session disconnected", "user_id", c.userID, "last", last)

	if last {
		if err := h.presence.SetPresence(ctx, c.userID, false, time.Now().UTC()); err != nil {
			h.logger.Error("persisting offline presence", "user_id", c.userID, "err", err)
		}
		h.Broadcast(ServerEnvelope{Event: EventUserOffline, Data: PresenceEvent{UserID: c.userID}})
	}
}

// ConnectedUserIDs returns the users with at least one live session.
func (h *Hub) ConnectedUserIDs() []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// SendToUsers pushes an event to every live session of the given users.
// Returns the users that had at least one session accept the frame.
func (h *Hub) SendToUsers(userIDs []uuid.UUID, env ServerEnvelope) []uuid.UUID {
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("encoding event", "event", env.Event, "err", err)
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var reached []uuid.UUID
	for _, id := range userIDs {
		delivered := false
		for _, c := range h.clients[id] {
			select {
			case c.send <- payload:
				delivered = true
			default:
				// Session cannot keep up; drop the frame for it.
				h.logger.Warn("dropping event for slow session", "user_id", id, "event", env.Event)
			}
		}
		if delivered {
			reached = append(reached, id)
		}
	}
	return reached
}

// Broadcast pushes an event to every live session.
func (h *Hub) Broadcast(env ServerEnvelope) {
	h.mu.Lock()
	ids := make([]uuid.UUID, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	h.SendToUsers(ids, env)
}

// --- service.Notifier implementation (post-commit fan-out) ---

// MessageCreated pushes the new message to all participants and a
// notification to everyone but the sender, then records delivery for the
// recipients that were actually reached.
func (h *Hub) MessageCreated(conv *entity.Conversation, msg *entity.Message) {
	event := MessageEvent{
		ConversationID:   conv.ID,
		ConversationType: conv.Type,
		GroupName:        conv.GroupName,
		Message:          msg,
	}

	members := conv.ParticipantIDs()
	reached := h.SendToUsers(members, ServerEnvelope{Event: EventMessageReceived, Data: event})

	var others []uuid.UUID
	for _, id := range members {
		if id != msg.SenderID {
			others = append(others, id)
		}
	}
	h.SendToUsers(others, ServerEnvelope{Event: EventNotificationNewMessage, Data: event})

	// Delivery confirmation is durable state; do it off the fan-out path.
	var delivered []uuid.UUID
	for _, id := range reached {
		if id != msg.SenderID {
			delivered = append(delivered, id)
		}
	}
	if len(delivered) > 0 && h.ops != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for _, id := range delivered {
				if err := h.ops.MarkDelivered(ctx, id, []uuid.UUID{msg.ID}); err != nil {
					h.logger.Warn("recording delivery", "user_id", id, "err", err)
				}
			}
		}()
	}
}

// MessagesSeen fans the seen update out to all participants.
func (h *Hub) MessagesSeen(conv *entity.Conversation, viewerID uuid.UUID, messageIDs []uuid.UUID) {
	h.SendToUsers(conv.ParticipantIDs(), ServerEnvelope{
		Event: EventMessageSeen,
		Data:  SeenEvent{ConversationID: conv.ID, ViewerID: viewerID, MessageIDs: messageIDs},
	})
}

// MessageDeletedForMe echoes the self-delete to the actor's own sessions
// so their other devices converge.
func (h *Hub) MessageDeletedForMe(actorID, conversationID, messageID uuid.UUID) {
	h.SendToUsers([]uuid.UUID{actorID}, ServerEnvelope{
		Event: EventMessageDeletedForMe,
		Data:  MessageDeletedEvent{ConversationID: conversationID, MessageID: messageID},
	})
}

// MessageDeletedForEveryone announces the tombstone to all participants.
func (h *Hub) MessageDeletedForEveryone(conv *entity.Conversation, messageID uuid.UUID) {
	h.SendToUsers(conv.ParticipantIDs(), ServerEnvelope{
		Event: EventMessageDeletedForEveryone,
		Data:  MessageDeletedEvent{ConversationID: conv.ID, MessageID: messageID},
	})
}

// ConversationHidden echoes a chat:delete to the actor's sessions.
func (h *Hub) ConversationHidden(actorID, conversationID uuid.UUID) {
	h.SendToUsers([]uuid.UUID{actorID}, ServerEnvelope{
		Event: EventChatDelete,
		Data:  ConversationHiddenEvent{ConversationID: conversationID},
	})
}
