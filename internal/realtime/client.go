package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"hchat/internal/models"
)

// DefaultBuffer is the per-channel inbound event buffer.
const DefaultBuffer = 256

// Transport carries channel operations to the realtime service.
type Transport interface {
	Join(ctx context.Context, name string, self bool, filters []string) error
	Leave(ctx context.Context, name string) error
	Broadcast(ctx context.Context, name, event string, payload json.RawMessage) error
	Track(ctx context.Context, name string, state json.RawMessage) error
	Insert(ctx context.Context, row models.NewRow) (models.Row, error)
	Query(ctx context.Context, roomID string) ([]models.Row, error)
	Close() error
}

// Dialer opens a Transport whose inbound frames are passed to sink.
type Dialer func(ctx context.Context, sink Sink) (Transport, error)

type Config struct {
	Logger *slog.Logger
	Buffer int
}

// Client is the process-side handle to the realtime service. It owns one
// shared channel per name; Channel hands out reference-counted handles.
type Client struct {
	transport Transport
	registry  *Registry
	log       *slog.Logger
	buffer    int

	// joinMu orders joins and leaves so a remount never races the leave
	// of the channel it replaces.
	joinMu sync.Mutex
}

func Connect(ctx context.Context, dial Dialer, cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	c := &Client{
		registry: NewRegistry(),
		log:      cfg.Logger,
		buffer:   cfg.Buffer,
	}
	t, err := dial(ctx, c.route)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	c.transport = t
	return c, nil
}

// Channel returns a handle on the named channel, creating the shared
// channel on first use. Options of the first caller win.
func (c *Client) Channel(name string, opts ChannelOptions) *Channel {
	s := c.registry.acquire(name, func() *shared {
		return newShared(c, name, opts)
	})
	return &Channel{shared: s}
}

// Query returns the persisted rows of a room ordered by timestamp.
func (c *Client) Query(ctx context.Context, roomID string) ([]models.Row, error) {
	return c.transport.Query(ctx, roomID)
}

// Insert persists a row. Errors from the store are returned unmodified.
func (c *Client) Insert(ctx context.Context, row models.NewRow) (models.Row, error) {
	return c.transport.Insert(ctx, row)
}

// Channels returns the number of live shared channels.
func (c *Client) Channels() int {
	return c.registry.Len()
}

func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) route(frame models.ServerFrame) bool {
	s, ok := c.registry.get(frame.Topic)
	if !ok {
		return true
	}
	return s.enqueue(frame)
}

func (c *Client) join(ctx context.Context, s *shared) error {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()
	if s.isStopped() {
		return models.ErrClosed
	}
	if s.wasJoined() {
		return nil
	}
	if err := c.transport.Join(ctx, s.name, s.opts.Self, s.filterStrings()); err != nil {
		return err
	}
	s.markJoined()
	return nil
}

func (c *Client) release(s *shared) {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()
	if !c.registry.release(s) {
		return
	}
	s.stop()
	if s.wasJoined() {
		if err := c.transport.Leave(context.Background(), s.name); err != nil {
			c.log.Warn("leave channel failed", "channel", s.name, "err", err)
		}
	}
}
