package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hchat/internal/models"
	"hchat/internal/realtime"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const closeTimeout = time.Second

// RemoteError is an error reported by the server in a reply frame.
type RemoteError struct {
	Op      models.FrameType
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Client is a realtime.Transport over a websocket.
type Client struct {
	conn *websocket.Conn
	sink realtime.Sink
	log  *slog.Logger

	// Map of frame ref -> reply channel
	pending *geche.MapCache[string, chan models.ServerFrame]

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dialer returns a realtime.Dialer that connects to the websocket at url.
func Dialer(url string, logger *slog.Logger) realtime.Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, sink realtime.Sink) (realtime.Transport, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		c := &Client{
			conn:    conn,
			sink:    sink,
			log:     logger,
			pending: geche.NewMapCache[string, chan models.ServerFrame](),
			done:    make(chan struct{}),
		}
		go c.readLoop()
		return c, nil
	}
}

func (c *Client) readLoop() {
	for {
		var frame models.ServerFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.shutdown(err)
			return
		}
		if frame.Type != models.FrameReply {
			if !c.sink(frame) {
				c.log.Warn("dropping inbound frame", "channel", frame.Topic, "type", frame.Type)
			}
			continue
		}
		ch, err := c.pending.Get(frame.Ref)
		if err != nil {
			c.log.Debug("reply without caller", "ref", frame.Ref)
			continue
		}
		select {
		case ch <- frame:
		default:
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) call(ctx context.Context, frame models.ClientFrame) (models.ServerFrame, error) {
	frame.Ref = uuid.NewString()
	ch := make(chan models.ServerFrame, 1)
	c.pending.Set(frame.Ref, ch)
	defer func() { _ = c.pending.Del(frame.Ref) }()

	// The write deadline sticks to the conn, so every call sets its own.
	deadline, _ := ctx.Deadline()
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(deadline)
	err := c.conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		return models.ServerFrame{}, fmt.Errorf("send %s: %w", frame.Type, err)
	}

	select {
	case reply := <-ch:
		if reply.Status == models.StatusError {
			return reply, &RemoteError{Op: frame.Type, Message: reply.Error}
		}
		return reply, nil
	case <-c.done:
		return models.ServerFrame{}, fmt.Errorf("%s: %w", frame.Type, c.closedErr())
	case <-ctx.Done():
		return models.ServerFrame{}, ctx.Err()
	}
}

func (c *Client) closedErr() error {
	if c.err == nil || errors.Is(c.err, models.ErrClosed) {
		return models.ErrClosed
	}
	return fmt.Errorf("%w: %w", models.ErrClosed, c.err)
}

func (c *Client) Join(ctx context.Context, name string, self bool, filters []string) error {
	_, err := c.call(ctx, models.ClientFrame{
		Type:    models.FrameJoin,
		Topic:   name,
		Self:    self,
		Filters: filters,
	})
	return err
}

func (c *Client) Leave(ctx context.Context, name string) error {
	_, err := c.call(ctx, models.ClientFrame{Type: models.FrameLeave, Topic: name})
	return err
}

func (c *Client) Broadcast(ctx context.Context, name, event string, payload json.RawMessage) error {
	_, err := c.call(ctx, models.ClientFrame{
		Type:    models.FrameBroadcast,
		Topic:   name,
		Event:   event,
		Payload: payload,
	})
	return err
}

func (c *Client) Track(ctx context.Context, name string, state json.RawMessage) error {
	_, err := c.call(ctx, models.ClientFrame{
		Type:    models.FrameTrack,
		Topic:   name,
		Payload: state,
	})
	return err
}

func (c *Client) Insert(ctx context.Context, row models.NewRow) (models.Row, error) {
	reply, err := c.call(ctx, models.ClientFrame{Type: models.FrameInsert, Row: &row})
	if err != nil {
		return models.Row{}, err
	}
	if reply.Row == nil {
		return models.Row{}, errors.New("insert reply without row")
	}
	return *reply.Row, nil
}

func (c *Client) Query(ctx context.Context, roomID string) ([]models.Row, error) {
	reply, err := c.call(ctx, models.ClientFrame{Type: models.FrameQuery, RoomID: roomID})
	if err != nil {
		return nil, err
	}
	if reply.Rows == nil {
		return []models.Row{}, nil
	}
	return reply.Rows, nil
}

func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeTimeout))
	c.shutdown(models.ErrClosed)
	return nil
}
