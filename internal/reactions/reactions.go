// Package reactions keeps per-message emoji reactions exchanged as
// broadcasts. Nothing is persisted; a new client starts empty.
package reactions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"hchat/internal/models"
	"hchat/internal/realtime"
)

type Channels interface {
	Channel(name string, opts realtime.ChannelOptions) *realtime.Channel
}

type Reaction struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	User      string `json:"user"`
}

// Group is one emoji on a message and who reacted with it.
type Group struct {
	Emoji string
	Users []string
}

type Config struct {
	RoomID   string
	UserName string
	Logger   *slog.Logger
	OnChange func(map[string][]Reaction)
}

func ChannelName(roomID string) string {
	return "reactions_" + roomID
}

type Sync struct {
	ch  *realtime.Channel
	cfg Config
	log *slog.Logger

	notifyMu sync.Mutex

	mu        sync.Mutex
	byMessage map[string][]Reaction
	closed    bool
}

// Subscribe mounts the reaction set of a room. Own reactions are applied
// when they come back from the channel.
func Subscribe(ctx context.Context, channels Channels, cfg Config) (*Sync, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Sync{
		cfg:       cfg,
		log:       cfg.Logger.With("room", cfg.RoomID),
		byMessage: make(map[string][]Reaction),
	}
	s.ch = channels.Channel(ChannelName(cfg.RoomID), realtime.ChannelOptions{Self: true})
	s.ch.OnBroadcast(models.EventReaction, s.onReaction)
	if err := s.ch.Subscribe(ctx, nil); err != nil {
		_ = s.ch.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sync) Add(ctx context.Context, messageID, emoji string) error {
	return s.publish(ctx, messageID, emoji, models.ReactionAdd)
}

func (s *Sync) Remove(ctx context.Context, messageID, emoji string) error {
	return s.publish(ctx, messageID, emoji, models.ReactionRemove)
}

// Toggle removes the local user's emoji on the message if present and
// adds it otherwise.
func (s *Sync) Toggle(ctx context.Context, messageID, emoji string) error {
	if s.Has(messageID, emoji, s.cfg.UserName) {
		return s.Remove(ctx, messageID, emoji)
	}
	return s.Add(ctx, messageID, emoji)
}

func (s *Sync) Has(messageID, emoji, user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.byMessage[messageID], Reaction{MessageID: messageID, Emoji: emoji, User: user})
}

// Reactions returns the reactions of one message in arrival order.
func (s *Sync) Reactions(messageID string) []Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.byMessage[messageID])
}

// All returns a copy of every message's reactions.
func (s *Sync) All() map[string][]Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

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

func (s *Sync) publish(ctx context.Context, messageID, emoji string, action models.ReactionAction) error {
	if messageID == "" || emoji == "" {
		return fmt.Errorf("reaction needs a message and an emoji")
	}
	err := s.ch.Publish(ctx, models.EventReaction, models.ReactionPayload{
		MessageID: messageID,
		Emoji:     emoji,
		User:      s.cfg.UserName,
		Action:    action,
	})
	if err != nil {
		s.log.Warn("error sending reaction", "action", action, "err", err)
	}
	return err
}

func (s *Sync) onReaction(b models.Broadcast) {
	var p models.ReactionPayload
	if err := json.Unmarshal(b.Payload, &p); err != nil {
		s.log.Warn("invalid reaction event", "err", err)
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed || !s.apply(p) {
		s.mu.Unlock()
		return
	}
	snapshot := s.snapshot()
	s.mu.Unlock()

	if s.cfg.OnChange != nil {
		s.cfg.OnChange(snapshot)
	}
}

// apply folds one event into the set and reports whether it changed.
// Adds are idempotent per (emoji, user). mu must be held.
func (s *Sync) apply(p models.ReactionPayload) bool {
	r := Reaction{MessageID: p.MessageID, Emoji: p.Emoji, User: p.User}
	current := s.byMessage[p.MessageID]
	switch p.Action {
	case models.ReactionAdd:
		if slices.Contains(current, r) {
			return false
		}
		s.byMessage[p.MessageID] = append(current, r)
		return true
	case models.ReactionRemove:
		next := slices.DeleteFunc(slices.Clone(current), func(x Reaction) bool { return x == r })
		if len(next) == len(current) {
			return false
		}
		if len(next) == 0 {
			delete(s.byMessage, p.MessageID)
		} else {
			s.byMessage[p.MessageID] = next
		}
		return true
	default:
		s.log.Warn("unknown reaction action", "action", p.Action)
		return false
	}
}

func (s *Sync) snapshot() map[string][]Reaction {
	out := make(map[string][]Reaction, len(s.byMessage))
	for id, rs := range s.byMessage {
		out[id] = slices.Clone(rs)
	}
	return out
}

// GroupReactions folds reactions into emoji groups in first-seen order.
func GroupReactions(rs []Reaction) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, r := range rs {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, Group{Emoji: r.Emoji})
		}
		if !slices.Contains(groups[i].Users, r.User) {
			groups[i].Users = append(groups[i].Users, r.User)
		}
	}
	return groups
}

// MessageIDs returns the ids of messages that have reactions, sorted.
func MessageIDs(all map[string][]Reaction) []string {
	return slices.Sorted(maps.Keys(all))
}
