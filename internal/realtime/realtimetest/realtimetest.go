// Package realtimetest runs clients against an in-process broker.
package realtimetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"hchat/internal/models"
	"hchat/internal/realtime"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// MemStore is an in-memory messages table.
type MemStore struct {
	mu   sync.Mutex
	rows []models.Row
	last time.Time
}

func (m *MemStore) InsertMessage(row models.NewRow) (models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := time.Now().UTC()
	if !ts.After(m.last) {
		ts = m.last.Add(time.Microsecond)
	}
	m.last = ts
	r := models.Row{
		ID:        uuid.NewString(),
		RoomID:    row.RoomID,
		Text:      row.Text,
		UserID:    row.UserID,
		Timestamp: ts,
	}
	m.rows = append(m.rows, r)
	return r, nil
}

func (m *MemStore) ListMessages(roomID string) ([]models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Row{}
	for _, r := range m.rows {
		if r.RoomID == roomID {
			out = append(out, r)
		}
	}
	return out, nil
}

// RoomActivity returns the unix nano time of the last row in a room.
func (m *MemStore) RoomActivity(roomID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].RoomID == roomID {
			return m.rows[i].Timestamp.UnixNano(), nil
		}
	}
	return 0, models.ErrNotFound
}

// Rows returns every inserted row.
func (m *MemStore) Rows() []models.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Row(nil), m.rows...)
}

// NewBroker returns a broker backed by a fresh MemStore.
func NewBroker(t *testing.T) (*realtime.Broker, *MemStore) {
	t.Helper()
	store := &MemStore{}
	return realtime.NewBroker(realtime.BrokerConfig{Store: store}), store
}

// Connect opens a client on b that is closed with the test.
func Connect(t *testing.T, b *realtime.Broker) *realtime.Client {
	t.Helper()
	c, err := realtime.Connect(context.Background(), b.Dialer(), realtime.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// Recorder collects broadcasts of one event on a channel.
type Recorder struct {
	mu  sync.Mutex
	got []models.Broadcast
}

// Listen subscribes a fresh handle on name and records event.
func Listen(t *testing.T, c *realtime.Client, name, event string) *Recorder {
	t.Helper()
	r := &Recorder{}
	ch := c.Channel(name, realtime.ChannelOptions{})
	ch.OnBroadcast(event, func(b models.Broadcast) {
		r.mu.Lock()
		r.got = append(r.got, b)
		r.mu.Unlock()
	})
	require.NoError(t, ch.Subscribe(context.Background(), nil))
	t.Cleanup(func() { _ = ch.Close() })
	return r
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (r *Recorder) All() []models.Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Broadcast(nil), r.got...)
}
