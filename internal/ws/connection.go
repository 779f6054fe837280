package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"hchat/internal/models"
	"hchat/internal/realtime"
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
	SetWriteDeadline(t time.Time) error
}

type session interface {
	Handle(frame models.ClientFrame) models.ServerFrame
	Close() error
}

// Connection pumps frames between one websocket and its broker session.
type Connection struct {
	ws           wsConnection
	session      session
	writeTimeout time.Duration
	fromClient   chan models.ClientFrame
	fromServer   chan models.ServerFrame
	errorCh      chan error
}

// NewConnection opens a session through open. Frames for the session are
// queued up to buffer; beyond that they are dropped.
func NewConnection(
	ws wsConnection,
	open func(sink realtime.Sink) session,
	buffer int,
	writeTimeout time.Duration,
) *Connection {
	c := &Connection{
		ws:           ws,
		writeTimeout: writeTimeout,
		fromClient:   make(chan models.ClientFrame),
		fromServer:   make(chan models.ServerFrame, buffer),
		errorCh:      make(chan error, 2),
	}
	c.session = open(c.push)
	return c
}

func (c *Connection) push(frame models.ServerFrame) bool {
	select {
	case c.fromServer <- frame:
		return true
	default:
		return false
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		_ = c.session.Close()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpFrames(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpFrames(ctx context.Context) error {
	for {
		var frame models.ClientFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return err
		}
		select {
		case c.fromClient <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case frame := <-c.fromClient:
			if err := c.write(c.session.Handle(frame)); err != nil {
				return err
			}
		case frame := <-c.fromServer:
			if err := c.write(frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) write(frame models.ServerFrame) error {
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteJSON(frame)
}
