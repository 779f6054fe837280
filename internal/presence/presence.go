// Package presence tracks who is online in a room.
package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"hchat/internal/models"
	"hchat/internal/realtime"
)

type Channels interface {
	Channel(name string, opts realtime.ChannelOptions) *realtime.Channel
}

type Config struct {
	RoomID   string
	UserName string
	Logger   *slog.Logger
	Now      func() time.Time
	OnChange func([]models.PresenceState)
}

func ChannelName(roomID string) string {
	return "presence_" + roomID
}

type Sync struct {
	ch  *realtime.Channel
	cfg Config
	log *slog.Logger

	notifyMu sync.Mutex

	mu     sync.Mutex
	online []models.PresenceState
	closed bool
}

// Subscribe joins the room's presence channel and tracks the local user
// once subscribed. A failed track is logged; the roster still follows
// other users.
func Subscribe(ctx context.Context, channels Channels, cfg Config) (*Sync, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Sync{
		cfg: cfg,
		log: cfg.Logger.With("room", cfg.RoomID),
	}
	s.ch = channels.Channel(ChannelName(cfg.RoomID), realtime.ChannelOptions{})
	s.ch.OnPresenceSync(s.onSync)
	s.ch.OnPresenceJoin(func(d models.PresenceDiff) {
		s.log.Info("user joined", "key", d.Key, "presences", len(d.Presences))
	})
	s.ch.OnPresenceLeave(func(d models.PresenceDiff) {
		s.log.Info("user left", "key", d.Key, "presences", len(d.Presences))
	})
	if err := s.ch.Subscribe(ctx, nil); err != nil {
		_ = s.ch.Close()
		return nil, err
	}

	err := s.ch.Track(ctx, models.PresenceState{
		User:     cfg.UserName,
		OnlineAt: cfg.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.log.Warn("error tracking presence", "user", cfg.UserName, "err", err)
	}
	return s, nil
}

// Online returns one entry per connection, ordered by connection key.
func (s *Sync) Online() []models.PresenceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.online)
}

// Close releases the channel, which drops the local user from every
// roster.
func (s *Sync) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.ch.Close()
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return err
}

func (s *Sync) onSync(roster models.Roster) {
	online := Entries(roster, s.log)

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.online = online
	s.mu.Unlock()

	if s.cfg.OnChange != nil {
		s.cfg.OnChange(slices.Clone(online))
	}
}

// Entries takes the first presence of every key in roster.
func Entries(roster models.Roster, log *slog.Logger) []models.PresenceState {
	out := make([]models.PresenceState, 0, len(roster))
	for _, key := range slices.Sorted(maps.Keys(roster)) {
		states := roster[key]
		if len(states) == 0 {
			continue
		}
		var p models.PresenceState
		if err := json.Unmarshal(states[0], &p); err != nil {
			log.Warn("invalid presence state", "key", key, "err", err)
			continue
		}
		out = append(out, p)
	}
	return out
}
