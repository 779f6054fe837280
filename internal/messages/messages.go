// Package messages keeps a room's timeline: persisted rows from the
// messages table merged with image messages that only live on the channel.
package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"hchat/internal/models"
	"hchat/internal/realtime"

	"github.com/google/uuid"
)

// ImagePlaceholder is the text of an image message sent without a caption.
const ImagePlaceholder = "[Image]"

// Order selects how live messages are placed in the timeline.
type Order int

const (
	// OrderArrival appends live messages as they arrive.
	OrderArrival Order = iota
	// OrderChronological keeps the timeline sorted by timestamp, persisted
	// before ephemeral on ties.
	OrderChronological
)

// Backend is the part of realtime.Client the timeline needs.
type Backend interface {
	Channel(name string, opts realtime.ChannelOptions) *realtime.Channel
	Query(ctx context.Context, roomID string) ([]models.Row, error)
	Insert(ctx context.Context, row models.NewRow) (models.Row, error)
}

type Config struct {
	RoomID   string
	UserName string
	Order    Order
	Logger   *slog.Logger
	Now      func() time.Time
	// OnChange receives a copy of the timeline after every change.
	OnChange func([]models.Message)
}

func ChannelName(roomID string) string {
	return "messages_" + roomID
}

// Sync is one mounted timeline. It stops changing once closed.
type Sync struct {
	backend Backend
	ch      *realtime.Channel
	cfg     Config
	log     *slog.Logger

	// notifyMu serializes updates with their OnChange call so snapshots
	// are observed in order.
	notifyMu sync.Mutex

	mu       sync.Mutex
	messages []models.Message
	seen     map[string]struct{}
	loading  bool
	closed   bool
}

// Subscribe mounts the timeline of cfg.RoomID. The change feed is
// registered before the initial query so no insert falls between them.
func Subscribe(ctx context.Context, backend Backend, cfg Config) (*Sync, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Sync{
		backend: backend,
		cfg:     cfg,
		log:     cfg.Logger.With("room", cfg.RoomID),
		seen:    make(map[string]struct{}),
		loading: true,
	}

	s.ch = backend.Channel(ChannelName(cfg.RoomID), realtime.ChannelOptions{Self: true})
	s.ch.OnInsert(realtime.RoomFilter(cfg.RoomID), s.onInsert)
	s.ch.OnBroadcast(models.EventImageMessage, s.onImage)
	err := s.ch.Subscribe(ctx, func(st realtime.Status) {
		s.log.Debug("channel status", "channel", s.ch.Name(), "status", st)
	})
	if err != nil {
		_ = s.ch.Close()
		return nil, err
	}

	rows, err := backend.Query(ctx, cfg.RoomID)
	if err != nil {
		s.log.Error("error fetching messages", "err", err)
	}
	s.update(func() bool {
		s.loading = false
		s.merge(rows)
		return true
	})
	return s, nil
}

// merge makes rows the head of the timeline, keeping live messages that
// arrived while the query was in flight. mu must be held.
func (s *Sync) merge(rows []models.Row) {
	live := s.messages
	s.messages = make([]models.Message, 0, len(rows)+len(live))
	s.seen = make(map[string]struct{}, len(rows)+len(live))
	for _, r := range rows {
		if _, ok := s.seen[r.ID]; ok {
			continue
		}
		s.seen[r.ID] = struct{}{}
		s.messages = append(s.messages, models.MessageFromRow(r))
	}
	for _, m := range live {
		s.add(m)
	}
}

// Messages returns a copy of the timeline.
func (s *Sync) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

func (s *Sync) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Send sends an image when imageData is set and a persisted text message
// when text is not blank. The image goes first; a failed image send
// returns before the text is inserted.
func (s *Sync) Send(ctx context.Context, text, imageData string) error {
	if strings.TrimSpace(text) == "" && imageData == "" {
		return models.ErrEmptyMessage
	}
	if imageData != "" {
		if err := s.SendImage(ctx, text, imageData); err != nil {
			return err
		}
	}
	if strings.TrimSpace(text) != "" {
		return s.SendText(ctx, text)
	}
	return nil
}

// SendImage broadcasts an ephemeral image message. It is never persisted.
func (s *Sync) SendImage(ctx context.Context, caption, imageData string) error {
	if imageData == "" {
		return models.ErrEmptyMessage
	}
	err := s.ch.Publish(ctx, models.EventImageMessage, models.ImageMessagePayload{
		UserID:    models.UserID(s.cfg.UserName, s.cfg.RoomID),
		UserName:  s.cfg.UserName,
		ImageData: imageData,
		Text:      strings.TrimSpace(caption),
	})
	if err != nil {
		s.log.Warn("error sending image message", "err", err)
		return fmt.Errorf("send image: %w", err)
	}
	return nil
}

// SendText inserts text into the messages table. The timeline picks the
// row up from the change feed. Store errors are returned as is.
func (s *Sync) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return models.ErrEmptyMessage
	}
	_, err := s.backend.Insert(ctx, models.NewRow{
		RoomID: s.cfg.RoomID,
		Text:   text,
		UserID: models.UserID(s.cfg.UserName, s.cfg.RoomID),
	})
	if err != nil {
		s.log.Warn("error sending text message", "err", err)
	}
	return err
}

// Close releases the channel. No OnChange call starts after Close returns.
// It must not be called from OnChange.
func (s *Sync) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.ch.Close()

	// Wait for an OnChange that was already running.
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return err
}

func (s *Sync) onInsert(row models.Row) {
	s.update(func() bool {
		return s.add(models.MessageFromRow(row))
	})
}

func (s *Sync) onImage(b models.Broadcast) {
	var p models.ImageMessagePayload
	if err := json.Unmarshal(b.Payload, &p); err != nil {
		s.log.Warn("invalid image message", "err", err)
		return
	}
	text := p.Text
	if text == "" {
		text = ImagePlaceholder
	}
	m := models.Message{
		ID:          "temp_" + uuid.NewString(),
		RoomID:      s.cfg.RoomID,
		Text:        text,
		UserID:      p.UserID,
		UserName:    p.UserName,
		Timestamp:   s.cfg.Now().UTC(),
		ImageData:   p.ImageData,
		IsImageOnly: strings.TrimSpace(p.Text) == "",
		Ephemeral:   true,
	}
	s.update(func() bool {
		return s.add(m)
	})
}

// update runs fn under the lock and publishes the timeline if fn changed
// it. Updates after Close are dropped.
func (s *Sync) update(fn func() bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed || !fn() {
		s.mu.Unlock()
		return
	}
	snapshot := slices.Clone(s.messages)
	s.mu.Unlock()

	if s.cfg.OnChange != nil {
		s.cfg.OnChange(snapshot)
	}
}

// add places m in the timeline unless its id is already there. mu must be
// held.
func (s *Sync) add(m models.Message) bool {
	if _, ok := s.seen[m.ID]; ok {
		return false
	}
	s.seen[m.ID] = struct{}{}
	if s.cfg.Order == OrderArrival {
		s.messages = append(s.messages, m)
		return true
	}
	i := len(s.messages)
	for i > 0 && before(m, s.messages[i-1]) {
		i--
	}
	s.messages = slices.Insert(s.messages, i, m)
	return true
}

func before(a, b models.Message) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return !a.Ephemeral && b.Ephemeral
	}
	return a.Timestamp.Before(b.Timestamp)
}
