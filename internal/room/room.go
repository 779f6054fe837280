// Package room mounts everything a room view needs: timeline, typing,
// reactions and presence. Closing the room unmounts all of them.
package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"hchat/internal/capability"
	"hchat/internal/imagecodec"
	"hchat/internal/messages"
	"hchat/internal/models"
	"hchat/internal/presence"
	"hchat/internal/reactions"
	"hchat/internal/realtime"
	"hchat/internal/typing"
)

// VoicePlaceholder is sent when a voice message has no transcript.
const VoicePlaceholder = "[Voice Message]"

// Transcriber records a voice message and returns its transcript.
type Transcriber interface {
	Transcribe(ctx context.Context) (string, error)
}

type Config struct {
	RoomID   string
	UserName string
	Logger   *slog.Logger

	Order               messages.Order
	TypingTimeout       time.Duration
	RemoteTypingTimeout time.Duration
	// ImageTargetKB is the budget for outgoing images.
	ImageTargetKB int
	Capabilities  capability.Set

	OnMessages  func([]models.Message)
	OnTyping    func([]string)
	OnReactions func(map[string][]reactions.Reaction)
	OnPresence  func([]models.PresenceState)
}

type Room struct {
	Messages  *messages.Sync
	Typing    *typing.Sync
	Reactions *reactions.Sync
	Presence  *presence.Sync

	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Mount subscribes all of a room's syncs. If one fails the ones already
// mounted are closed again, so Mount can simply be retried.
func Mount(ctx context.Context, client *realtime.Client, cfg Config) (*Room, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if strings.TrimSpace(cfg.UserName) == "" {
		return nil, errors.New("user name is required")
	}
	if cfg.RoomID == "" {
		return nil, errors.New("room id is required")
	}
	if cfg.ImageTargetKB <= 0 {
		cfg.ImageTargetKB = imagecodec.DefaultTargetKB
	}
	r := &Room{cfg: cfg, log: cfg.Logger.With("room", cfg.RoomID, "user", cfg.UserName)}

	var err error
	r.Messages, err = messages.Subscribe(ctx, client, messages.Config{
		RoomID:   cfg.RoomID,
		UserName: cfg.UserName,
		Order:    cfg.Order,
		Logger:   cfg.Logger,
		OnChange: cfg.OnMessages,
	})
	if err != nil {
		return nil, fmt.Errorf("mount messages: %w", err)
	}

	r.Typing, err = typing.Subscribe(ctx, client, typing.Config{
		RoomID:        cfg.RoomID,
		UserName:      cfg.UserName,
		Timeout:       cfg.TypingTimeout,
		RemoteTimeout: cfg.RemoteTypingTimeout,
		Logger:        cfg.Logger,
		OnChange:      cfg.OnTyping,
	})
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("mount typing: %w", err)
	}

	r.Reactions, err = reactions.Subscribe(ctx, client, reactions.Config{
		RoomID:   cfg.RoomID,
		UserName: cfg.UserName,
		Logger:   cfg.Logger,
		OnChange: cfg.OnReactions,
	})
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("mount reactions: %w", err)
	}

	r.Presence, err = presence.Subscribe(ctx, client, presence.Config{
		RoomID:   cfg.RoomID,
		UserName: cfg.UserName,
		Logger:   cfg.Logger,
		OnChange: cfg.OnPresence,
	})
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("mount presence: %w", err)
	}

	r.log.Debug("room mounted")
	return r, nil
}

func (r *Room) ID() string {
	return r.cfg.RoomID
}

func (r *Room) UserName() string {
	return r.cfg.UserName
}

// Send stops the typing indicator and sends text.
func (r *Room) Send(ctx context.Context, text string) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	_ = r.Typing.StopTyping(ctx)
	return r.Messages.Send(ctx, text, "")
}

// SendImage compresses img and sends it with an optional caption. A room
// closed while the image was being compressed sends nothing.
func (r *Room) SendImage(ctx context.Context, img io.Reader, caption string) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	res, err := imagecodec.Compress(img, r.cfg.ImageTargetKB)
	if err != nil {
		return err
	}
	r.log.Debug("image compressed", "quality", res.Quality, "size", res.Size, "width", res.Width, "height", res.Height)

	if err := r.checkOpen(); err != nil {
		return err
	}
	_ = r.Typing.StopTyping(ctx)
	return r.Messages.Send(ctx, caption, res.DataURI)
}

// SendVoice records through t and sends the transcript as text. It fails
// with capability.ErrUnavailable when speech or the microphone is missing.
func (r *Room) SendVoice(ctx context.Context, t Transcriber) error {
	if err := r.cfg.Capabilities.Require(capability.Speech, capability.Microphone); err != nil {
		return err
	}
	if err := r.checkOpen(); err != nil {
		return err
	}
	text, err := t.Transcribe(ctx)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		text = VoicePlaceholder
	}
	if err := r.checkOpen(); err != nil {
		return err
	}
	return r.Messages.Send(ctx, text, "")
}

// Search returns the timeline filtered by term.
func (r *Room) Search(term string) []models.Message {
	return Filter(r.Messages.Messages(), term)
}

// Close unmounts the room. It is idempotent.
func (r *Room) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var errs []error
	if r.Presence != nil {
		errs = append(errs, r.Presence.Close())
	}
	if r.Reactions != nil {
		errs = append(errs, r.Reactions.Close())
	}
	if r.Typing != nil {
		errs = append(errs, r.Typing.Close())
	}
	if r.Messages != nil {
		errs = append(errs, r.Messages.Close())
	}
	r.log.Debug("room unmounted")
	return errors.Join(errs...)
}

func (r *Room) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return models.ErrClosed
	}
	return nil
}

// Filter keeps messages whose text or author name contains term, ignoring
// case. An empty term keeps everything.
func Filter(msgs []models.Message, term string) []models.Message {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return msgs
	}
	var out []models.Message
	for _, m := range msgs {
		if strings.Contains(strings.ToLower(m.Text), term) ||
			strings.Contains(strings.ToLower(m.DisplayName()), term) {
			out = append(out, m)
		}
	}
	return out
}
