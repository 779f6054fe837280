// Package typing broadcasts the local user's typing state and tracks who
// else in the room is typing.
package typing

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"hchat/internal/models"
	"hchat/internal/realtime"
)

const (
	// DefaultTimeout clears the local typing state after inactivity.
	DefaultTimeout = 2 * time.Second
	// DefaultRemoteTimeout drops a remote typer that never sent typing:false.
	DefaultRemoteTimeout = 2 * DefaultTimeout
)

// Channels opens realtime channels; *realtime.Client implements it.
type Channels interface {
	Channel(name string, opts realtime.ChannelOptions) *realtime.Channel
}

type Config struct {
	RoomID        string
	UserName      string
	Timeout       time.Duration
	RemoteTimeout time.Duration
	Logger        *slog.Logger
	// OnChange receives the users currently typing, self excluded.
	OnChange func([]string)
}

func ChannelName(roomID string) string {
	return "typing_" + roomID
}

type Sync struct {
	ch  *realtime.Channel
	cfg Config
	log *slog.Logger

	notifyMu sync.Mutex

	// sendMu orders state changes with their publishes.
	sendMu sync.Mutex

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
	gen    uint64
	users  []string
	expiry map[string]*time.Timer
	closed bool
}

func Subscribe(ctx context.Context, channels Channels, cfg Config) (*Sync, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RemoteTimeout == 0 {
		cfg.RemoteTimeout = DefaultRemoteTimeout
	}
	s := &Sync{
		cfg:    cfg,
		log:    cfg.Logger.With("room", cfg.RoomID, "user", cfg.UserName),
		expiry: make(map[string]*time.Timer),
	}
	s.ch = channels.Channel(ChannelName(cfg.RoomID), realtime.ChannelOptions{})
	s.ch.OnBroadcast(models.EventTyping, s.onTyping)
	if err := s.ch.Subscribe(ctx, nil); err != nil {
		_ = s.ch.Close()
		return nil, err
	}
	return s, nil
}

// StartTyping publishes typing:true unless already typing, and rearms the
// inactivity timer either way.
func (s *Sync) StartTyping(ctx context.Context) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.ErrClosed
	}
	publish := !s.typing
	s.typing = true
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.Timeout, func() { s.expire(gen) })
	s.mu.Unlock()

	if !publish {
		return nil
	}
	return s.publish(ctx, true)
}

// StopTyping publishes typing:false if typing.
func (s *Sync) StopTyping(ctx context.Context) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	was := s.typing
	s.typing = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	closed := s.closed
	s.mu.Unlock()

	if !was || closed {
		return nil
	}
	return s.publish(ctx, false)
}

func (s *Sync) IsTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// Users returns who else is typing, in the order they started.
func (s *Sync) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.users)
}

// Close stops all timers and releases the channel. A pending typing:true
// is cleared with a last typing:false before leaving.
func (s *Sync) Close() error {
	s.sendMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.sendMu.Unlock()
		return nil
	}
	s.closed = true
	was := s.typing
	s.typing = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	for user, t := range s.expiry {
		t.Stop()
		delete(s.expiry, user)
	}
	s.mu.Unlock()

	if was {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		_ = s.publish(ctx, false)
		cancel()
	}
	s.sendMu.Unlock()

	err := s.ch.Close()
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return err
}

func (s *Sync) expire(gen uint64) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed || !s.typing || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.typing = false
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	_ = s.publish(ctx, false)
}

func (s *Sync) publish(ctx context.Context, typing bool) error {
	err := s.ch.Publish(ctx, models.EventTyping, models.TypingPayload{User: s.cfg.UserName, Typing: typing})
	if err != nil {
		s.log.Warn("error sending typing state", "typing", typing, "err", err)
	}
	return err
}

func (s *Sync) onTyping(b models.Broadcast) {
	var p models.TypingPayload
	if err := json.Unmarshal(b.Payload, &p); err != nil {
		s.log.Warn("invalid typing event", "err", err)
		return
	}
	if p.User == "" || p.User == s.cfg.UserName {
		return
	}
	s.update(func() bool {
		if p.Typing {
			s.arm(p.User)
			if slices.Contains(s.users, p.User) {
				return false
			}
			s.users = append(s.users, p.User)
			return true
		}
		return s.remove(p.User)
	})
}

// arm (re)starts the remote expiry of user. mu must be held.
func (s *Sync) arm(user string) {
	if s.cfg.RemoteTimeout < 0 {
		return
	}
	if t, ok := s.expiry[user]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(s.cfg.RemoteTimeout, func() {
		s.update(func() bool {
			if s.expiry[user] != t {
				return false
			}
			return s.remove(user)
		})
	})
	s.expiry[user] = t
}

// remove drops user from the typing set. mu must be held.
func (s *Sync) remove(user string) bool {
	if t, ok := s.expiry[user]; ok {
		t.Stop()
		delete(s.expiry, user)
	}
	i := slices.Index(s.users, user)
	if i < 0 {
		return false
	}
	s.users = slices.Delete(s.users, i, i+1)
	return true
}

func (s *Sync) update(fn func() bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed || !fn() {
		s.mu.Unlock()
		return
	}
	users := slices.Clone(s.users)
	s.mu.Unlock()

	if s.cfg.OnChange != nil {
		s.cfg.OnChange(users)
	}
}
