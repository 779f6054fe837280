package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"hchat/internal/models"
)

// Session is one client connection to the broker.
type Session struct {
	key    string
	broker *Broker
	sink   Sink

	mu     sync.Mutex
	topics map[string]struct{}
	closed bool
}

func (s *Session) Key() string {
	return s.key
}

func (s *Session) Join(name string, self bool, filters []string) error {
	parsed := make([]Filter, 0, len(filters))
	for _, f := range filters {
		pf, err := ParseFilter(f)
		if err != nil {
			return err
		}
		parsed = append(parsed, pf)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrClosed
	}
	s.topics[name] = struct{}{}
	s.broker.join(s, name, self, parsed)
	return nil
}

func (s *Session) Leave(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[name]; !ok {
		return nil
	}
	delete(s.topics, name)
	s.broker.leave(s, name)
	return nil
}

func (s *Session) Broadcast(name, event string, payload json.RawMessage) error {
	if s.isClosed() {
		return models.ErrClosed
	}
	return s.broker.broadcast(s, name, event, payload)
}

func (s *Session) Track(name string, state json.RawMessage) error {
	if s.isClosed() {
		return models.ErrClosed
	}
	return s.broker.track(s, name, state)
}

func (s *Session) Insert(row models.NewRow) (models.Row, error) {
	if s.isClosed() {
		return models.Row{}, models.ErrClosed
	}
	return s.broker.insert(row)
}

func (s *Session) Query(roomID string) ([]models.Row, error) {
	if s.isClosed() {
		return nil, models.ErrClosed
	}
	return s.broker.query(roomID)
}

// Close leaves every joined topic, which clears the session's presence.
// It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for name := range s.topics {
		s.broker.leave(s, name)
	}
	s.topics = nil
	_ = s.broker.sessions.Del(s.key)
	s.broker.metrics.Sessions.Dec()
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Handle executes a client frame against the session and builds the reply.
// It is shared by every transport that speaks models.ClientFrame.
func (s *Session) Handle(frame models.ClientFrame) models.ServerFrame {
	reply := models.ServerFrame{
		Type:   models.FrameReply,
		Ref:    frame.Ref,
		Topic:  frame.Topic,
		Status: models.StatusOK,
	}

	var err error
	switch frame.Type {
	case models.FrameJoin:
		err = s.Join(frame.Topic, frame.Self, frame.Filters)
	case models.FrameLeave:
		err = s.Leave(frame.Topic)
	case models.FrameBroadcast:
		err = s.Broadcast(frame.Topic, frame.Event, frame.Payload)
	case models.FrameTrack:
		err = s.Track(frame.Topic, frame.Payload)
	case models.FrameInsert:
		if frame.Row == nil {
			err = fmt.Errorf("insert without row")
			break
		}
		var row models.Row
		row, err = s.Insert(*frame.Row)
		if err == nil {
			reply.Row = &row
		}
	case models.FrameQuery:
		reply.Rows, err = s.Query(frame.RoomID)
	default:
		err = fmt.Errorf("unknown frame type %q", frame.Type)
	}

	if err != nil {
		reply.Status = models.StatusError
		reply.Error = err.Error()
	}
	return reply
}

// LocalTransport runs a client directly against an in-process broker.
type LocalTransport struct {
	session *Session
}

// Dialer returns a Dialer that connects clients to this broker in-process.
func (b *Broker) Dialer() Dialer {
	return func(ctx context.Context, sink Sink) (Transport, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &LocalTransport{session: b.Connect(sink)}, nil
	}
}

func (t *LocalTransport) Key() string {
	return t.session.Key()
}

func (t *LocalTransport) Join(ctx context.Context, name string, self bool, filters []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.session.Join(name, self, filters)
}

func (t *LocalTransport) Leave(ctx context.Context, name string) error {
	return t.session.Leave(name)
}

func (t *LocalTransport) Broadcast(ctx context.Context, name, event string, payload json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.session.Broadcast(name, event, payload)
}

func (t *LocalTransport) Track(ctx context.Context, name string, state json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.session.Track(name, state)
}

func (t *LocalTransport) Insert(ctx context.Context, row models.NewRow) (models.Row, error) {
	if err := ctx.Err(); err != nil {
		return models.Row{}, err
	}
	return t.session.Insert(row)
}

func (t *LocalTransport) Query(ctx context.Context, roomID string) ([]models.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.session.Query(roomID)
}

func (t *LocalTransport) Close() error {
	return t.session.Close()
}
