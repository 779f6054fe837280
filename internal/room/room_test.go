package room

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"
	"time"

	"hchat/internal/capability"
	"hchat/internal/imagecodec"
	"hchat/internal/models"
	"hchat/internal/realtime"
	"hchat/internal/realtime/realtimetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func mount(t *testing.T, c *realtime.Client, user string, caps capability.Set) *Room {
	t.Helper()
	r, err := Mount(context.Background(), c, Config{
		RoomID:       "abc123",
		UserName:     user,
		Capabilities: caps,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 5), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type transcriber struct {
	text string
	err  error
}

func (f transcriber) Transcribe(context.Context) (string, error) {
	return f.text, f.err
}

func TestRoom_TwoUsers(t *testing.T) {
	b, store := realtimetest.NewBroker(t)
	alice := mount(t, realtimetest.Connect(t, b), "Alice", capability.Set{})
	bob := mount(t, realtimetest.Connect(t, b), "Bob", capability.Set{})
	ctx := context.Background()

	require.NoError(t, alice.Send(ctx, "hello bob"))
	require.NoError(t, bob.SendImage(ctx, bytes.NewReader(pngBytes(t)), ""))

	for _, r := range []*Room{alice, bob} {
		require.Eventually(t, func() bool { return len(r.Messages.Messages()) == 2 }, waitFor, tick)
		require.Eventually(t, func() bool { return len(r.Presence.Online()) == 2 }, waitFor, tick)
	}
	assert.Len(t, store.Rows(), 1)

	found := alice.Search("BOB")
	require.Len(t, found, 2, "text match and author match")

	require.NoError(t, alice.Reactions.Toggle(ctx, store.Rows()[0].ID, "👍"))
	require.Eventually(t, func() bool {
		return bob.Reactions.Has(store.Rows()[0].ID, "👍", "Alice")
	}, waitFor, tick)
}

func TestRoom_SendImageDecodeError(t *testing.T) {
	b, _ := realtimetest.NewBroker(t)
	r := mount(t, realtimetest.Connect(t, b), "Alice", capability.Set{})

	err := r.SendImage(context.Background(), bytes.NewReader([]byte("plain text file")), "caption")
	assert.ErrorIs(t, err, imagecodec.ErrDecode)
	assert.False(t, errors.Is(err, models.ErrChannelUnavailable))
}

type closingReader struct {
	r    io.Reader
	room *Room
}

func (c *closingReader) Read(p []byte) (int, error) {
	if c.room != nil {
		_ = c.room.Close()
		c.room = nil
	}
	return c.r.Read(p)
}

func TestRoom_UnmountDuringImageSend(t *testing.T) {
	b, store := realtimetest.NewBroker(t)
	images := realtimetest.Listen(t, realtimetest.Connect(t, b), "messages_abc123", models.EventImageMessage)
	r := mount(t, realtimetest.Connect(t, b), "Alice", capability.Set{})

	err := r.SendImage(context.Background(), &closingReader{r: bytes.NewReader(pngBytes(t)), room: r}, "late")
	assert.ErrorIs(t, err, models.ErrClosed)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, images.Len())
	assert.Empty(t, store.Rows())
	assert.Empty(t, r.Messages.Messages())
}

func TestRoom_SendVoice(t *testing.T) {
	b, store := realtimetest.NewBroker(t)
	ctx := context.Background()

	t.Run("unavailable", func(t *testing.T) {
		r := mount(t, realtimetest.Connect(t, b), "Alice", capability.Probe(ctx, capability.Static{capability.Microphone: true}))
		err := r.SendVoice(ctx, transcriber{text: "hi"})
		assert.ErrorIs(t, err, capability.ErrUnavailable)
		assert.Empty(t, store.Rows())
	})

	caps := capability.Probe(ctx, capability.Static{capability.Microphone: true, capability.Speech: true})
	r := mount(t, realtimetest.Connect(t, b), "Alice", caps)

	require.NoError(t, r.SendVoice(ctx, transcriber{text: "call me"}))
	require.NoError(t, r.SendVoice(ctx, transcriber{text: "  "}))
	assert.Error(t, r.SendVoice(ctx, transcriber{err: errors.New("mic busy")}))

	rows := store.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "call me", rows[0].Text)
	assert.Equal(t, VoicePlaceholder, rows[1].Text)
}

func TestRoom_CloseAndRemount(t *testing.T) {
	b, _ := realtimetest.NewBroker(t)
	c := realtimetest.Connect(t, b)

	r := mount(t, c, "Alice", capability.Set{})
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Send(context.Background(), "hi"), models.ErrClosed)
	assert.Equal(t, 0, c.Channels())

	again := mount(t, c, "Alice", capability.Set{})
	require.NoError(t, again.Send(context.Background(), "back"))
	require.Eventually(t, func() bool { return len(again.Messages.Messages()) == 1 }, waitFor, tick)
	assert.Equal(t, 4, c.Channels())
}

func TestMount_Validation(t *testing.T) {
	b, _ := realtimetest.NewBroker(t)
	c := realtimetest.Connect(t, b)

	_, err := Mount(context.Background(), c, Config{RoomID: "abc123"})
	assert.Error(t, err)
	_, err = Mount(context.Background(), c, Config{UserName: "Alice"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Mount(ctx, c, Config{RoomID: "abc123", UserName: "Alice"})
	assert.Error(t, err)
	assert.Equal(t, 0, c.Channels(), "failed mount leaves nothing registered")
}

func TestFilter(t *testing.T) {
	msgs := []models.Message{
		{ID: "1", Text: "Hello there", UserID: "Alice_abc123"},
		{ID: "2", Text: "general kenobi", UserID: "Bob_abc123"},
		{ID: "3", Text: "[Image]", UserName: "Carol", UserID: "Carol_abc123"},
	}

	ids := func(ms []models.Message) []string {
		var out []string
		for _, m := range ms {
			out = append(out, m.ID)
		}
		return out
	}

	assert.Equal(t, []string{"1", "2", "3"}, ids(Filter(msgs, "")))
	assert.Equal(t, []string{"1"}, ids(Filter(msgs, "HELLO")))
	assert.Equal(t, []string{"2"}, ids(Filter(msgs, "bob")))
	assert.Equal(t, []string{"3"}, ids(Filter(msgs, "carol")))
	assert.Empty(t, Filter(msgs, "abc123"), "room suffix of the user id is not searched")
}
