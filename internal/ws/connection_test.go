package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hchat/internal/models"
	"hchat/internal/realtime"
)

type mockWS struct {
	readCh      chan models.ClientFrame
	writeCh     chan any
	closeCh     chan struct{}
	mu          sync.Mutex
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientFrame, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockWS) SetWriteDeadline(time.Time) error {
	return nil
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case msg, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientFrame); ok {
			*ptr = msg
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type mockSession struct {
	sink     realtime.Sink
	handleCh chan models.ClientFrame
	closeCh  chan struct{}
}

func newMockSession() *mockSession {
	return &mockSession{
		handleCh: make(chan models.ClientFrame, 10),
		closeCh:  make(chan struct{}, 1),
	}
}

func (m *mockSession) open(sink realtime.Sink) session {
	m.sink = sink
	return m
}

func (m *mockSession) Handle(frame models.ClientFrame) models.ServerFrame {
	m.handleCh <- frame
	return models.ServerFrame{Type: models.FrameReply, Ref: frame.Ref, Status: models.StatusOK}
}

func (m *mockSession) Close() error {
	m.closeCh <- struct{}{}
	return nil
}

func TestConnection_Lifecycle(t *testing.T) {
	sess := newMockSession()
	ws := newMockWS()

	conn := NewConnection(ws, sess.open, 10, time.Second)
	if conn == nil {
		t.Fatal("NewConnection returned nil")
	}
	if sess.sink == nil {
		t.Fatal("session not opened on NewConnection")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// 1. Client frame is handled and replied to
	ws.readCh <- models.ClientFrame{Type: models.FrameJoin, Ref: "r1", Topic: "typing_abc123"}

	select {
	case received := <-sess.handleCh:
		if received.Topic != "typing_abc123" {
			t.Errorf("session received wrong frame: %+v", received)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("session did not receive frame")
	}

	select {
	case received := <-ws.writeCh:
		reply, ok := received.(models.ServerFrame)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		if reply.Ref != "r1" || reply.Status != models.StatusOK {
			t.Errorf("unexpected reply: %+v", reply)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("WS did not receive reply")
	}

	// 2. Broker frame is written out
	if !sess.sink(models.ServerFrame{Type: models.FrameBroadcast, Topic: "typing_abc123", Event: "typing"}) {
		t.Fatal("sink dropped frame")
	}

	select {
	case received := <-ws.writeCh:
		frame := received.(models.ServerFrame)
		if frame.Event != "typing" {
			t.Errorf("WS received wrong frame: %+v", frame)
		}
	case <-time.After(1 * time.Second):
		t.Error("WS did not receive server frame")
	}

	// 3. Stop
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return after cancel")
	}

	select {
	case <-sess.closeCh:
	default:
		t.Error("session not closed")
	}

	if !ws.isClosed() {
		t.Error("WS Close not called")
	}
}

func TestConnection_SinkDropsWhenFull(t *testing.T) {
	sess := newMockSession()
	NewConnection(newMockWS(), sess.open, 1, 0)

	if !sess.sink(models.ServerFrame{Type: models.FrameBroadcast}) {
		t.Fatal("first frame should fit the buffer")
	}
	if sess.sink(models.ServerFrame{Type: models.FrameBroadcast}) {
		t.Error("expected drop when buffer is full")
	}
}

func TestConnection_WSError(t *testing.T) {
	sess := newMockSession()
	ws := newMockWS()

	conn := NewConnection(ws, sess.open, 10, 0)

	ws.errToReturn = errors.New("read error")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Handle, got nil")
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return on error")
	}

	if !ws.isClosed() {
		t.Error("WS Close not called")
	}
}
