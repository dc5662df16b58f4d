package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/converso/internal/database"
	"github.com/vadim/converso/internal/domain/chat/entity"
	"github.com/vadim/converso/internal/domain/chat/service"
)

// uniqueViolation is the Postgres error code for unique constraint failures
const uniqueViolation = "23505"

// ConversationPostgres implements conversation storage for PostgreSQL
type ConversationPostgres struct {
	pool *pgxpool.Pool
}

// NewConversationPostgres creates a new PostgreSQL conversation repository
func NewConversationPostgres(pool *pgxpool.Pool) *ConversationPostgres {
	return &ConversationPostgres{pool: pool}
}

// Create persists a conversation and its participants in one transaction.
func (r *ConversationPostgres) Create(ctx context.Context, conv *entity.Conversation) error {
	return r.CreateWithFirstMessage(ctx, conv, nil)
}

// CreateWithFirstMessage persists a conversation, its participants and an
// optional first message atomically. The last-message projection is set
// from the persisted message's authoritative timestamp.
func (r *ConversationPostgres) CreateWithFirstMessage(ctx context.Context, conv *entity.Conversation, msg *entity.Message) error {
	err := database.WithinTx(ctx, r.pool, func(tx pgx.Tx) error {
		return insertConversation(ctx, tx, conv, msg)
	})
	if isUniqueViolation(err) {
		return entity.ErrDuplicatePair
	}
	return err
}

// ReplaceRetiredPair clears the pair key of the retired thread and inserts
// its replacement (plus optional first message) in one transaction.
func (r *ConversationPostgres) ReplaceRetiredPair(ctx context.Context, retiredID uuid.UUID, conv *entity.Conversation, msg *entity.Message) error {
	err := database.WithinTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE conversations SET pair_key = NULL WHERE id = $1 AND pair_key IS NOT NULL`,
			retiredID,
		); err != nil {
			return fmt.Errorf("retiring pair key: %w", err)
		}
		// A concurrent caller may have retired the row and installed its
		// own replacement already; the unique pair index then rejects this
		// insert and the whole transaction rolls back.
		return insertConversation(ctx, tx, conv, msg)
	})
	if isUniqueViolation(err) {
		return entity.ErrDuplicatePair
	}
	return err
}

func insertConversation(ctx context.Context, tx pgx.Tx, conv *entity.Conversation, msg *entity.Message) error {
	var pairKey *string
	if conv.PairKey != "" {
		pairKey = &conv.PairKey
	}

	err := tx.QueryRow(ctx, `
		INSERT INTO conversations (id, conv_type, group_name, group_photo_url, pair_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, conv.ID, conv.Type, conv.GroupName, conv.GroupPhotoURL, pairKey).
		Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range conv.Participants {
		p := &conv.Participants[i]
		batch.Queue(
			`INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2)`,
			conv.ID, p.UserID,
		)
	}
	results := tx.SendBatch(ctx, batch)
	for range conv.Participants {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("inserting participant: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing participant batch: %w", err)
	}

	if msg == nil {
		return nil
	}

	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}
	if err := advanceLastMessage(ctx, tx, msg); err != nil {
		return err
	}
	conv.LastMessage = &entity.LastMessage{
		MessageID: msg.ID,
		Text:      msg.Text,
		SenderID:  msg.SenderID,
		SentAt:    msg.CreatedAt,
	}
	conv.UpdatedAt = msg.CreatedAt
	return nil
}

// GetByID loads a conversation with its participant records.
func (r *ConversationPostgres) GetByID(ctx context.Context, id uuid.UUID) (*entity.Conversation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, conv_type, group_name, group_photo_url, pair_key,
		       last_message_id, last_message_text, last_message_sender_id, last_message_at,
		       created_at, updated_at
		FROM conversations
		WHERE id = $1
	`, id)

	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadParticipants(ctx, []*entity.Conversation{conv}); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetByPairKey loads the live private conversation owning the pair key.
func (r *ConversationPostgres) GetByPairKey(ctx context.Context, pairKey string) (*entity.Conversation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, conv_type, group_name, group_photo_url, pair_key,
		       last_message_id, last_message_text, last_message_sender_id, last_message_at,
		       created_at, updated_at
		FROM conversations
		WHERE conv_type = 'private' AND pair_key = $1
	`, pairKey)

	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadParticipants(ctx, []*entity.Conversation{conv}); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListVisibleForUser returns conversations whose participant record for
// userID is not hidden, ordered by updated_at descending with id as
// tie-break, paged past the keyset cursor.
func (r *ConversationPostgres) ListVisibleForUser(ctx context.Context, userID uuid.UUID, limit int, after *service.InboxCursor) ([]entity.Conversation, error) {
	var cursorAt *time.Time
	var cursorID *uuid.UUID
	if after != nil {
		cursorAt = &after.UpdatedAt
		cursorID = &after.ID
	}

	query := `
		SELECT c.id, c.conv_type, c.group_name, c.group_photo_url, c.pair_key,
		       c.last_message_id, c.last_message_text, c.last_message_sender_id, c.last_message_at,
		       c.created_at, c.updated_at
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1 AND p.deleted_at IS NULL
		  AND ($2::timestamptz IS NULL OR (c.updated_at, c.id) < ($2, $3))
		ORDER BY c.updated_at DESC, c.id DESC
	`
	args := []any{userID, cursorAt, cursorID}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []entity.Conversation
	var refs []*entity.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading conversations: %w", err)
	}
	for i := range convs {
		refs = append(refs, &convs[i])
	}
	if err := r.loadParticipants(ctx, refs); err != nil {
		return nil, err
	}
	return convs, nil
}

// RestoreParticipant clears hidden state on one participant record. The
// block guard rides along in the statement, so a block committed after
// the caller's snapshot keeps the record hidden.
func (r *ConversationPostgres) RestoreParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE participants
		SET deleted_at = NULL, hide_messages_before = NULL
		WHERE conversation_id = $1 AND user_id = $2
		  AND NOT EXISTS (
			SELECT 1 FROM participants b
			WHERE b.conversation_id = $1 AND b.blocked
		  )
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("restoring participant: %w", err)
	}
	return nil
}

// SoftDeleteParticipant hides the conversation for one participant,
// setting the history watermark in lockstep.
func (r *ConversationPostgres) SoftDeleteParticipant(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE participants
		SET deleted_at = $3, hide_messages_before = $3
		WHERE conversation_id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, conversationID, userID, at)
	if err != nil {
		return fmt.Errorf("hiding participant: %w", err)
	}
	return nil
}

func (r *ConversationPostgres) loadParticipants(ctx context.Context, convs []*entity.Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(convs))
	byID := make(map[uuid.UUID]*entity.Conversation, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
		byID[c.ID] = c
	}

	rows, err := r.pool.Query(ctx, `
		SELECT conversation_id, user_id, deleted_at, hide_messages_before,
		       archived_at, muted_until, blocked, joined_at
		FROM participants
		WHERE conversation_id = ANY($1)
		ORDER BY joined_at
	`, ids)
	if err != nil {
		return fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p entity.Participant
		if err := rows.Scan(
			&p.ConversationID, &p.UserID, &p.DeletedAt, &p.HideMessagesBefore,
			&p.ArchivedAt, &p.MutedUntil, &p.Blocked, &p.JoinedAt,
		); err != nil {
			return fmt.Errorf("scanning participant: %w", err)
		}
		if conv := byID[p.ConversationID]; conv != nil {
			conv.Participants = append(conv.Participants, p)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading participants: %w", err)
	}
	return nil
}

func scanConversation(row pgx.Row) (*entity.Conversation, error) {
	var (
		conv     entity.Conversation
		pairKey  *string
		lmID     *uuid.UUID
		lmText   *string
		lmSender *uuid.UUID
		lmAt     *time.Time
	)
	err := row.Scan(
		&conv.ID, &conv.Type, &conv.GroupName, &conv.GroupPhotoURL, &pairKey,
		&lmID, &lmText, &lmSender, &lmAt,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	if pairKey != nil {
		conv.PairKey = *pairKey
	}
	if lmID != nil && lmSender != nil && lmAt != nil {
		lm := &entity.LastMessage{MessageID: *lmID, SenderID: *lmSender, SentAt: *lmAt}
		if lmText != nil {
			lm.Text = *lmText
		}
		conv.LastMessage = lm
	}
	return &conv, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
