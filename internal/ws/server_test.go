package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hchat/internal/models"
	"hchat/internal/realtime"
	"hchat/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*realtime.Broker, string) {
	t.Helper()
	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := realtime.NewBroker(realtime.BrokerConfig{Store: store})
	srv := NewServer(broker, ServerConfig{WriteTimeout: time.Second})
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleConnections))
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return broker, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func connect(t *testing.T, url string) *realtime.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := realtime.Connect(ctx, Dialer(url, nil), realtime.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServer_BroadcastRoundTrip(t *testing.T) {
	_, url := newTestServer(t)
	alice := connect(t, url)
	bob := connect(t, url)
	ctx := context.Background()

	got := make(chan models.Broadcast, 1)
	bobCh := bob.Channel("typing_abc123", realtime.ChannelOptions{})
	bobCh.OnBroadcast(models.EventTyping, func(b models.Broadcast) { got <- b })
	require.NoError(t, bobCh.Subscribe(ctx, nil))

	aliceCh := alice.Channel("typing_abc123", realtime.ChannelOptions{})
	require.NoError(t, aliceCh.Subscribe(ctx, nil))
	require.NoError(t, aliceCh.Publish(ctx, models.EventTyping, models.TypingPayload{User: "Alice", Typing: true}))

	select {
	case b := <-got:
		assert.JSONEq(t, `{"user":"Alice","typing":true}`, string(b.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast not delivered")
	}
}

func TestClient_ExpiredDeadlineDoesNotStickToConn(t *testing.T) {
	_, url := newTestServer(t)
	c := connect(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	ch := c.Channel("typing_abc123", realtime.ChannelOptions{})
	require.NoError(t, ch.Subscribe(ctx, nil))

	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, ch.Publish(context.Background(), models.EventTyping, models.TypingPayload{User: "Alice", Typing: true}))
	_, err := c.Insert(context.Background(), models.NewRow{RoomID: "abc123", Text: "still here", UserID: "Alice_abc123"})
	require.NoError(t, err)
}

func TestServer_InsertAndQuery(t *testing.T) {
	_, url := newTestServer(t)
	c := connect(t, url)
	ctx := context.Background()

	rows := make(chan models.Row, 1)
	ch := c.Channel("messages_abc123", realtime.ChannelOptions{Self: true})
	ch.OnInsert(realtime.RoomFilter("abc123"), func(r models.Row) { rows <- r })
	require.NoError(t, ch.Subscribe(ctx, nil))

	row, err := c.Insert(ctx, models.NewRow{RoomID: "abc123", Text: "hi", UserID: "Alice_abc123"})
	require.NoError(t, err)
	assert.NotEmpty(t, row.ID)

	select {
	case r := <-rows:
		assert.Equal(t, row.ID, r.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("insert not delivered")
	}

	listed, err := c.Query(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "hi", listed[0].Text)

	empty, err := c.Query(ctx, "zzz999")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestServer_RemoteError(t *testing.T) {
	_, url := newTestServer(t)
	c := connect(t, url)

	_, err := c.Insert(context.Background(), models.NewRow{RoomID: "abc123"})
	require.Error(t, err)
	var remote *RemoteError
	assert.ErrorAs(t, err, &remote)
}

func TestServer_DisconnectClearsPresence(t *testing.T) {
	broker, url := newTestServer(t)
	c := connect(t, url)
	ctx := context.Background()

	ch := c.Channel("presence_abc123", realtime.ChannelOptions{})
	require.NoError(t, ch.Subscribe(ctx, nil))
	require.NoError(t, ch.Track(ctx, models.PresenceState{User: "Alice", OnlineAt: "2026-01-01T00:00:00Z"}))
	require.Len(t, broker.Roster("presence_abc123"), 1)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool {
		return len(broker.Roster("presence_abc123")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
