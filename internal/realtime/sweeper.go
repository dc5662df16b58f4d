package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vadim/converso/internal/config"
)

// Sweeper reconciles persisted presence flags with the hub's live
// sessions. A crashed instance leaves users marked online; the sweeper
// flips them back offline on the next pass.
type Sweeper struct {
	cfg      config.Presence
	hub      *Hub
	presence PresenceStore
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSweeper creates a presence sweeper over the hub and store.
func NewSweeper(cfg config.Presence, hub *Hub, presence PresenceStore, logger *slog.Logger) *Sweeper {
	return &Sweeper{cfg: cfg, hub: hub, presence: presence, logger: logger}
}

// Start launches the periodic reconciliation loop. No-op when disabled
// or already running.
func (s *Sweeper) Start() {
	if !s.cfg.Enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.logger.Info("presence sweeper started", "interval", s.cfg.Interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("presence sweeper stopped")
}

func (s *Sweeper) sweep(ctx context.Context) {
	stored, err := s.presence.ListOnline(ctx)
	if err != nil {
		s.logger.Error("listing online users", "err", err)
		return
	}

	live := make(map[string]struct{})
	for _, id := range s.hub.ConnectedUserIDs() {
		live[id.String()] = struct{}{}
	}

	now := time.Now().UTC()
	for _, id := range stored {
		if _, ok := live[id.String()]; ok {
			continue
		}
		if err := s.presence.SetPresence(ctx, id, false, now); err != nil {
			s.logger.Error("clearing stale presence", "user_id", id, "err", err)
			continue
		}
		s.hub.Broadcast(ServerEnvelope{Event: EventUserOffline, Data: PresenceEvent{UserID: id}})
		s.logger.Info("cleared stale presence", "user_id", id)
	}
}
