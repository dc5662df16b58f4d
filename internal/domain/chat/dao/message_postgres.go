package dao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/converso/internal/database"
	"github.com/vadim/converso/internal/domain/chat/entity"
	"github.com/vadim/converso/internal/domain/chat/service"
)

// MessagePostgres implements message storage for PostgreSQL
type MessagePostgres struct {
	pool *pgxpool.Pool
}

// NewMessagePostgres creates a new PostgreSQL message repository
func NewMessagePostgres(pool *pgxpool.Pool) *MessagePostgres {
	return &MessagePostgres{pool: pool}
}

const messageColumns = `
	id, conversation_id, sender_id, text, attachments,
	is_deleted_for_everyone, deleted_for, seen_by, delivered_to,
	created_at, seq`

// InsertWithLastMessage persists the message and advances the owning
// conversation's last-message projection in one transaction. The store
// assigns created_at and seq; the pointer update uses that authoritative
// timestamp and only ever moves forward.
func (r *MessagePostgres) InsertWithLastMessage(ctx context.Context, msg *entity.Message) error {
	return database.WithinTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		return advanceLastMessage(ctx, tx, msg)
	})
}

func insertMessage(ctx context.Context, tx pgx.Tx, msg *entity.Message) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("encoding attachments: %w", err)
	}
	if msg.Attachments == nil {
		attachments = []byte(`[]`)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, text, attachments)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, seq
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Text, attachments).
		Scan(&msg.CreatedAt, &msg.Seq)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func advanceLastMessage(ctx context.Context, tx pgx.Tx, msg *entity.Message) error {
	// Recency bump happens for every message; the pointer moves only if
	// this message is at least as new as the current one, so an older
	// send committing late never overwrites a newer pointer.
	if _, err := tx.Exec(ctx, `
		UPDATE conversations
		SET updated_at = GREATEST(updated_at, $2)
		WHERE id = $1
	`, msg.ConversationID, msg.CreatedAt); err != nil {
		return fmt.Errorf("bumping conversation recency: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE conversations
		SET last_message_id = $2,
		    last_message_text = $3,
		    last_message_sender_id = $4,
		    last_message_at = $5
		WHERE id = $1
		  AND (last_message_at IS NULL OR last_message_at <= $5)
	`, msg.ConversationID, msg.ID, msg.Text, msg.SenderID, msg.CreatedAt); err != nil {
		return fmt.Errorf("advancing last message: %w", err)
	}
	return nil
}

// GetByID retrieves a message by ID
func (r *MessagePostgres) GetByID(ctx context.Context, id uuid.UUID) (*entity.Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

// ListVisible returns the viewer's visible messages of a conversation,
// newest first. Messages individually deleted by the viewer or at or
// below the watermark are excluded; tombstoned rows are included so the
// sequence keeps its shape. The cursor compares the full (created_at,
// seq) pair, matching the sort order.
func (r *MessagePostgres) ListVisible(ctx context.Context, conversationID, viewerID uuid.UUID, hideBefore *time.Time, limit int, before *service.MessageCursor) ([]entity.Message, error) {
	var beforeAt *time.Time
	var beforeSeq *int64
	if before != nil {
		beforeAt = &before.CreatedAt
		beforeSeq = &before.Seq
	}

	rows, err := r.pool.Query(ctx, `
		SELECT`+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		  AND NOT ($2 = ANY(deleted_for))
		  AND ($3::timestamptz IS NULL OR created_at > $3)
		  AND ($4::timestamptz IS NULL OR (created_at, seq) < ($4::timestamptz, $5::bigint))
		ORDER BY created_at DESC, seq DESC
		LIMIT $6
	`, conversationID, viewerID, hideBefore, beforeAt, beforeSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []entity.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	return msgs, nil
}

// MarkSeen adds the viewer to seen_by of each message idempotently.
// The participant check rides along in SQL so messages of foreign
// conversations are silently skipped.
func (r *MessagePostgres) MarkSeen(ctx context.Context, ids []uuid.UUID, viewerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages m
		SET seen_by = array_append(m.seen_by, $2)
		WHERE m.id = ANY($1)
		  AND NOT ($2 = ANY(m.seen_by))
		  AND EXISTS (
			SELECT 1 FROM participants p
			WHERE p.conversation_id = m.conversation_id AND p.user_id = $2
		  )
	`, ids, viewerID)
	if err != nil {
		return fmt.Errorf("marking seen: %w", err)
	}
	return nil
}

// MarkDelivered adds the user to delivered_to of each message idempotently.
func (r *MessagePostgres) MarkDelivered(ctx context.Context, ids []uuid.UUID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages m
		SET delivered_to = array_append(m.delivered_to, $2)
		WHERE m.id = ANY($1)
		  AND NOT ($2 = ANY(m.delivered_to))
		  AND EXISTS (
			SELECT 1 FROM participants p
			WHERE p.conversation_id = m.conversation_id AND p.user_id = $2
		  )
	`, ids, userID)
	if err != nil {
		return fmt.Errorf("marking delivered: %w", err)
	}
	return nil
}

// AddDeletedFor hides one message from one viewer. Idempotent.
func (r *MessagePostgres) AddDeletedFor(ctx context.Context, id, viewerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET deleted_for = array_append(deleted_for, $2)
		WHERE id = $1 AND NOT ($2 = ANY(deleted_for))
	`, id, viewerID)
	if err != nil {
		return fmt.Errorf("adding deleted-for: %w", err)
	}
	return nil
}

// DeleteForEveryone flips the permanent tombstone flag and, when the
// message held the conversation's last-message pointer, recomputes the
// projection from the newest surviving message (clearing it when none
// remains), in one transaction.
func (r *MessagePostgres) DeleteForEveryone(ctx context.Context, msg *entity.Message) error {
	return database.WithinTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE messages SET is_deleted_for_everyone = TRUE WHERE id = $1
		`, msg.ID); err != nil {
			return fmt.Errorf("tombstoning message: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			WITH lm AS (
				SELECT id, text, sender_id, created_at
				FROM messages
				WHERE conversation_id = $1 AND NOT is_deleted_for_everyone
				ORDER BY created_at DESC, seq DESC
				LIMIT 1
			)
			UPDATE conversations c
			SET last_message_id = lm.id,
			    last_message_text = COALESCE(lm.text, ''),
			    last_message_sender_id = lm.sender_id,
			    last_message_at = lm.created_at,
			    updated_at = now()
			FROM (SELECT 1) AS one
			LEFT JOIN lm ON TRUE
			WHERE c.id = $1 AND c.last_message_id = $2
		`, msg.ConversationID, msg.ID); err != nil {
			return fmt.Errorf("recomputing last message: %w", err)
		}
		return nil
	})
}

// LastUnread returns the newest message not sent by and not yet seen by
// userID, respecting the watermark. Returns nil when none exists.
func (r *MessagePostgres) LastUnread(ctx context.Context, conversationID, userID uuid.UUID, hideBefore *time.Time) (*entity.Message, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND NOT ($2 = ANY(seen_by))
		  AND NOT ($2 = ANY(deleted_for))
		  AND NOT is_deleted_for_everyone
		  AND ($3::timestamptz IS NULL OR created_at > $3)
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, conversationID, userID, hideBefore)

	msg, err := scanMessage(row)
	if errors.Is(err, entity.ErrMessageNotFound) {
		return nil, nil
	}
	return msg, err
}

// CountUnread counts the messages LastUnread draws from.
func (r *MessagePostgres) CountUnread(ctx context.Context, conversationID, userID uuid.UUID, hideBefore *time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND NOT ($2 = ANY(seen_by))
		  AND NOT ($2 = ANY(deleted_for))
		  AND NOT is_deleted_for_everyone
		  AND ($3::timestamptz IS NULL OR created_at > $3)
	`, conversationID, userID, hideBefore).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}

func scanMessage(row pgx.Row) (*entity.Message, error) {
	var (
		msg         entity.Message
		attachments []byte
	)
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Text, &attachments,
		&msg.IsDeletedForEveryone, &msg.DeletedFor, &msg.SeenBy, &msg.DeliveredTo,
		&msg.CreatedAt, &msg.Seq,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decoding attachments: %w", err)
		}
	}
	if len(msg.Attachments) == 0 {
		msg.Attachments = nil
	}
	return &msg, nil
}
