package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vadim/converso/internal/domain/chat/entity"
)

const dispatchTimeout = 10 * time.Second

// Client is one live WebSocket session of an authenticated user. A user
// may hold several sessions at once; each gets every event addressed to
// the user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID
	logger *slog.Logger

	send chan []byte
	once sync.Once
}

// NewClient wraps an upgraded connection. Serve must be called to start
// the pumps.
func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, logger *slog.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		logger: logger.With("user_id", userID),
		send:   make(chan []byte, hub.cfg.SendBuffer),
	}
}

// Serve registers the session and runs the read pump on the calling
// goroutine until the peer disconnects. The write pump runs alongside.
func (c *Client) Serve() {
	c.hub.Register(c)
	go c.writePump()
	c.readPump()
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("abnormal socket close", "err", err)
			}
			return
		}

		var env ClientEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.ack(Ack{For: "unknown", OK: false, Error: "malformed frame"})
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch runs one client mutation through the shared operation surface
// and acknowledges the outcome. Mutations go through the exact same
// validated path as their REST counterparts.
func (c *Client) dispatch(env ClientEnvelope) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	ack := Ack{Ref: env.Ref, For: env.Event, OK: true}

	switch env.Event {
	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.fail(ack, errors.New("malformed payload"))
			return
		}
		msg, err := c.hub.ops.SendMessage(ctx, c.userID, p.ConversationID, p.Text, p.Attachments)
		if err != nil {
			c.fail(ack, err)
			return
		}
		ack.Data = msg
		c.ack(ack)

	case EventMarkSeen:
		var p SeenPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.fail(ack, errors.New("malformed payload"))
			return
		}
		if err := c.hub.ops.MarkSeen(ctx, c.userID, p.MessageIDs); err != nil {
			c.fail(ack, err)
			return
		}
		c.ack(ack)

	case EventDeleteForMe, EventDeleteForEveryone:
		var p DeleteMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.fail(ack, errors.New("malformed payload"))
			return
		}
		scope := "me"
		if env.Event == EventDeleteForEveryone {
			scope = "everyone"
		}
		if err := c.hub.ops.DeleteMessage(ctx, c.userID, p.MessageID, scope); err != nil {
			c.fail(ack, err)
			return
		}
		c.ack(ack)

	case EventChatDelete:
		var p ChatDeletePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.fail(ack, errors.New("malformed payload"))
			return
		}
		if err := c.hub.ops.DeleteConversation(ctx, c.userID, p.ConversationID); err != nil {
			c.fail(ack, err)
			return
		}
		c.ack(ack)

	case EventTyping:
		// Ephemeral: relayed to the other members, never persisted and
		// never acknowledged.
		var p TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		members, err := c.hub.ops.ConversationMembers(ctx, c.userID, p.ConversationID)
		if err != nil {
			return
		}
		p.UserID = c.userID
		var others []uuid.UUID
		for _, id := range members {
			if id != c.userID {
				others = append(others, id)
			}
		}
		c.hub.SendToUsers(others, ServerEnvelope{Event: EventTyping, Data: p})

	default:
		c.fail(ack, errors.New("unknown event"))
	}
}

func (c *Client) fail(ack Ack, err error) {
	ack.OK = false
	ack.Error = publicError(err)
	c.ack(ack)
}

func (c *Client) ack(ack Ack) {
	payload, err := json.Marshal(ServerEnvelope{Event: EventAck, Data: ack})
	if err != nil {
		c.logger.Error("encoding ack", "err", err)
		return
	}
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("dropping ack for slow session", "for", ack.For)
	}
}

// publicError keeps domain errors readable on the wire and hides
// internals behind a generic message.
func publicError(err error) string {
	for _, known := range []error{
		entity.ErrConversationNotFound,
		entity.ErrMessageNotFound,
		entity.ErrUserNotFound,
		entity.ErrEmptyMessage,
		entity.ErrMessageTooLong,
		entity.ErrInvalidAttachment,
		entity.ErrNotParticipant,
		entity.ErrNotSender,
		entity.ErrBlocked,
		entity.ErrPeerHidden,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}
