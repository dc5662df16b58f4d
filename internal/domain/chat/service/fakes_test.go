package service

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/converso/internal/domain/chat/entity"
)

// fakeStore is an in-memory stand-in for the three Postgres repositories.
// It mirrors the store's contract closely enough for the services to be
// exercised end to end: pair-key uniqueness, the monotonic last-message
// pointer, (created_at, seq) ordering and watermark filtering.
type fakeStore struct {
	mu    sync.Mutex
	now   time.Time
	seq   int64
	users map[uuid.UUID]entity.User
	convs map[uuid.UUID]*entity.Conversation
	msgs  map[uuid.UUID]*entity.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		now:   time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		users: make(map[uuid.UUID]entity.User),
		convs: make(map[uuid.UUID]*entity.Conversation),
		msgs:  make(map[uuid.UUID]*entity.Message),
	}
}

func (s *fakeStore) tick() time.Time {
	s.now = s.now.Add(time.Millisecond)
	return s.now
}

func (s *fakeStore) addUser(username string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := entity.User{ID: uuid.New(), Username: username, DisplayName: username, CreatedAt: s.now, UpdatedAt: s.now}
	s.users[u.ID] = u
	return u.ID
}

// --- ConversationRepository ---

func (s *fakeStore) Create(ctx context.Context, conv *entity.Conversation) error {
	return s.CreateWithFirstMessage(ctx, conv, nil)
}

func (s *fakeStore) CreateWithFirstMessage(_ context.Context, conv *entity.Conversation, msg *entity.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.PairKey != "" {
		for _, existing := range s.convs {
			if existing.Type == entity.ConversationTypePrivate && existing.PairKey == conv.PairKey {
				return entity.ErrDuplicatePair
			}
		}
	}

	now := s.tick()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	for i := range conv.Participants {
		conv.Participants[i].JoinedAt = now
	}
	s.convs[conv.ID] = copyConv(conv)

	if msg != nil {
		s.insertLocked(msg)
		stored := s.convs[conv.ID]
		conv.LastMessage = stored.LastMessage
		conv.UpdatedAt = stored.UpdatedAt
	}
	return nil
}

func (s *fakeStore) ReplaceRetiredPair(ctx context.Context, retiredID uuid.UUID, conv *entity.Conversation, msg *entity.Message) error {
	s.mu.Lock()
	if retired, ok := s.convs[retiredID]; ok {
		retired.PairKey = ""
	}
	s.mu.Unlock()

	// The insert enforces pair uniqueness, so a replacement that already
	// landed concurrently surfaces as ErrDuplicatePair here.
	return s.CreateWithFirstMessage(ctx, conv, msg)
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*entity.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, entity.ErrConversationNotFound
	}
	return copyConv(conv), nil
}

func (s *fakeStore) GetByPairKey(_ context.Context, pairKey string) (*entity.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.convs {
		if conv.Type == entity.ConversationTypePrivate && conv.PairKey == pairKey {
			return copyConv(conv), nil
		}
	}
	return nil, entity.ErrConversationNotFound
}

func (s *fakeStore) ListVisibleForUser(_ context.Context, userID uuid.UUID, limit int, after *InboxCursor) ([]entity.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entity.Conversation
	for _, conv := range s.convs {
		p := conv.Participant(userID)
		if p == nil || p.DeletedAt != nil {
			continue
		}
		out = append(out, *copyConv(conv))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) > 0
	})
	if after != nil {
		filtered := out[:0]
		for _, conv := range out {
			if conv.UpdatedAt.Before(after.UpdatedAt) ||
				(conv.UpdatedAt.Equal(after.UpdatedAt) && bytes.Compare(conv.ID[:], after.ID[:]) < 0) {
				filtered = append(filtered, conv)
			}
		}
		out = filtered
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) RestoreParticipant(_ context.Context, conversationID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return entity.ErrConversationNotFound
	}
	// Mirrors the store's in-statement block guard.
	for i := range conv.Participants {
		if conv.Participants[i].Blocked {
			return nil
		}
	}
	for i := range conv.Participants {
		if conv.Participants[i].UserID == userID {
			conv.Participants[i].DeletedAt = nil
			conv.Participants[i].HideMessagesBefore = nil
		}
	}
	return nil
}

func (s *fakeStore) SoftDeleteParticipant(_ context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return entity.ErrConversationNotFound
	}
	for i := range conv.Participants {
		if conv.Participants[i].UserID == userID {
			t := at
			conv.Participants[i].DeletedAt = &t
			conv.Participants[i].HideMessagesBefore = &t
		}
	}
	return nil
}

// --- MessageRepository ---

func (s *fakeStore) InsertWithLastMessage(_ context.Context, msg *entity.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(msg)
	return nil
}

func (s *fakeStore) insertLocked(msg *entity.Message) {
	s.seq++
	msg.Seq = s.seq
	msg.CreatedAt = s.tick()
	s.msgs[msg.ID] = copyMsg(msg)

	conv, ok := s.convs[msg.ConversationID]
	if !ok {
		return
	}
	if msg.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.CreatedAt
	}
	if conv.LastMessage == nil || !conv.LastMessage.SentAt.After(msg.CreatedAt) {
		conv.LastMessage = &entity.LastMessage{
			MessageID: msg.ID,
			Text:      msg.Text,
			SenderID:  msg.SenderID,
			SentAt:    msg.CreatedAt,
		}
	}
}

// addMessageAt inserts a message with an explicit timestamp, keeping the
// seq assignment, so tests can force created_at ties.
func (s *fakeStore) addMessageAt(convID, senderID uuid.UUID, text string, at time.Time) *entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg := &entity.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      at,
		Seq:            s.seq,
	}
	s.msgs[msg.ID] = copyMsg(msg)
	if conv, ok := s.convs[convID]; ok {
		if at.After(conv.UpdatedAt) {
			conv.UpdatedAt = at
		}
		if conv.LastMessage == nil || !conv.LastMessage.SentAt.After(at) {
			conv.LastMessage = &entity.LastMessage{MessageID: msg.ID, Text: text, SenderID: senderID, SentAt: at}
		}
	}
	return copyMsg(msg)
}

func (s *fakeStore) messageByID(id uuid.UUID) (*entity.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.msgs[id]
	if !ok {
		return nil, entity.ErrMessageNotFound
	}
	return copyMsg(msg), nil
}

func (s *fakeStore) ListVisible(_ context.Context, conversationID, viewerID uuid.UUID, hideBefore *time.Time, limit int, before *MessageCursor) ([]entity.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entity.Message
	for _, msg := range s.msgs {
		if msg.ConversationID != conversationID || msg.DeletedForUser(viewerID) {
			continue
		}
		if hideBefore != nil && !msg.CreatedAt.After(*hideBefore) {
			continue
		}
		if before != nil {
			// Keyset comparison on the (created_at, seq) pair.
			boundary := entity.Message{CreatedAt: before.CreatedAt, Seq: before.Seq}
			if !msg.Before(&boundary) {
				continue
			}
		}
		out = append(out, *copyMsg(msg))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[j].Before(&out[i])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) MarkSeen(_ context.Context, ids []uuid.UUID, viewerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		msg, ok := s.msgs[id]
		if !ok {
			continue
		}
		conv, ok := s.convs[msg.ConversationID]
		if !ok || conv.Participant(viewerID) == nil {
			continue
		}
		if !msg.SeenByUser(viewerID) {
			msg.SeenBy = append(msg.SeenBy, viewerID)
		}
	}
	return nil
}

func (s *fakeStore) MarkDelivered(_ context.Context, ids []uuid.UUID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		msg, ok := s.msgs[id]
		if !ok {
			continue
		}
		conv, ok := s.convs[msg.ConversationID]
		if !ok || conv.Participant(userID) == nil {
			continue
		}
		if !msg.DeliveredToUser(userID) {
			msg.DeliveredTo = append(msg.DeliveredTo, userID)
		}
	}
	return nil
}

func (s *fakeStore) AddDeletedFor(_ context.Context, id, viewerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.msgs[id]
	if !ok {
		return entity.ErrMessageNotFound
	}
	if !msg.DeletedForUser(viewerID) {
		msg.DeletedFor = append(msg.DeletedFor, viewerID)
	}
	return nil
}

func (s *fakeStore) DeleteForEveryone(_ context.Context, msg *entity.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.msgs[msg.ID]
	if !ok {
		return entity.ErrMessageNotFound
	}
	stored.IsDeletedForEveryone = true

	conv, ok := s.convs[stored.ConversationID]
	if !ok || conv.LastMessage == nil || conv.LastMessage.MessageID != stored.ID {
		return nil
	}

	// Recompute the pointer from the newest surviving message.
	var newest *entity.Message
	for _, m := range s.msgs {
		if m.ConversationID != conv.ID || m.IsDeletedForEveryone {
			continue
		}
		if newest == nil || newest.Before(m) {
			newest = m
		}
	}
	if newest == nil {
		conv.LastMessage = nil
		return nil
	}
	conv.LastMessage = &entity.LastMessage{
		MessageID: newest.ID,
		Text:      newest.Text,
		SenderID:  newest.SenderID,
		SentAt:    newest.CreatedAt,
	}
	return nil
}

func (s *fakeStore) LastUnread(_ context.Context, conversationID, userID uuid.UUID, hideBefore *time.Time) (*entity.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *entity.Message
	for _, msg := range s.msgs {
		if !s.unreadLocked(msg, conversationID, userID, hideBefore) {
			continue
		}
		if newest == nil || newest.Before(msg) {
			newest = msg
		}
	}
	if newest == nil {
		return nil, nil
	}
	return copyMsg(newest), nil
}

func (s *fakeStore) CountUnread(_ context.Context, conversationID, userID uuid.UUID, hideBefore *time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msg := range s.msgs {
		if s.unreadLocked(msg, conversationID, userID, hideBefore) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) unreadLocked(msg *entity.Message, conversationID, userID uuid.UUID, hideBefore *time.Time) bool {
	if msg.ConversationID != conversationID || msg.SenderID == userID {
		return false
	}
	if msg.IsDeletedForEveryone || msg.SeenByUser(userID) || msg.DeletedForUser(userID) {
		return false
	}
	if hideBefore != nil && !msg.CreatedAt.After(*hideBefore) {
		return false
	}
	return true
}

// --- UserRepository ---

func (s *fakeStore) userByID(id uuid.UUID) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, entity.ErrUserNotFound
	}
	out := u
	return &out, nil
}

func (s *fakeStore) GetByIDs(_ context.Context, ids []uuid.UUID) ([]entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) CountExisting(_ context.Context, ids []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.users[id]; ok {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) SetPresence(_ context.Context, id uuid.UUID, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return entity.ErrUserNotFound
	}
	u.IsOnline = online
	u.LastSeenAt = &lastSeen
	s.users[id] = u
	return nil
}

// The three repository interfaces each declare their own GetByID, so the
// shared store is wrapped in thin adapters. fakeStore itself implements
// ConversationRepository; the adapters override GetByID for the other two.

type fakeMsgRepo struct{ *fakeStore }

func (f fakeMsgRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.Message, error) {
	return f.messageByID(id)
}

type fakeUserRepo struct{ *fakeStore }

func (f fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.User, error) {
	return f.userByID(id)
}

func copyConv(conv *entity.Conversation) *entity.Conversation {
	out := *conv
	out.Participants = append([]entity.Participant(nil), conv.Participants...)
	if conv.LastMessage != nil {
		lm := *conv.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

func copyMsg(msg *entity.Message) *entity.Message {
	out := *msg
	out.Attachments = append([]entity.Attachment(nil), msg.Attachments...)
	out.DeletedFor = append([]uuid.UUID(nil), msg.DeletedFor...)
	out.SeenBy = append([]uuid.UUID(nil), msg.SeenBy...)
	out.DeliveredTo = append([]uuid.UUID(nil), msg.DeliveredTo...)
	return &out
}

// recorder captures notifier fan-outs for assertions.
type recorder struct {
	mu       sync.Mutex
	created  []uuid.UUID
	seen     [][]uuid.UUID
	deleted  []uuid.UUID
	hidden   []uuid.UUID
	selfDels []uuid.UUID
}

func (r *recorder) MessageCreated(_ *entity.Conversation, msg *entity.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, msg.ID)
}

func (r *recorder) MessagesSeen(_ *entity.Conversation, _ uuid.UUID, ids []uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, ids)
}

func (r *recorder) MessageDeletedForMe(_, _, messageID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selfDels = append(r.selfDels, messageID)
}

func (r *recorder) MessageDeletedForEveryone(_ *entity.Conversation, messageID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, messageID)
}

func (r *recorder) ConversationHidden(_, conversationID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hidden = append(r.hidden, conversationID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
