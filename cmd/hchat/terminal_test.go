package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hchat/internal/capability"
	"hchat/internal/models"
	"hchat/internal/realtime"
	"hchat/internal/realtime/realtimetest"
	"hchat/internal/room"
	"hchat/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) contains(s string) func() bool {
	return func() bool { return strings.Contains(b.String(), s) }
}

func newTestTerminal(t *testing.T, broker *realtime.Broker, user string, caps capability.Static) (*terminal, *syncBuffer) {
	t.Helper()
	ctx := context.Background()

	prefs, err := storage.OpenPrefs(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = prefs.Close() })
	require.NoError(t, prefs.JoinRoom(user, "abc123", ""))

	out := &syncBuffer{}
	term := newTerminal(out, prefs, slog.Default(), false)
	r, err := room.Mount(ctx, realtimetest.Connect(t, broker), term.config(room.Config{
		RoomID:       "abc123",
		UserName:     user,
		Capabilities: capability.Probe(ctx, caps),
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	term.attach(r)
	return term, out
}

func TestTerminal_SendAndRender(t *testing.T) {
	broker, _ := realtimetest.NewBroker(t)
	alice, _ := newTestTerminal(t, broker, "Alice", nil)
	_, bobOut := newTestTerminal(t, broker, "Bob", nil)

	input := "hello https://example.com\n/quit\nnever sent\n"
	require.NoError(t, alice.run(context.Background(), strings.NewReader(input)))

	require.Eventually(t, bobOut.contains("[A] Alice"), waitFor, tick)
	require.Eventually(t, bobOut.contains("hello https://example.com"), waitFor, tick)
	assert.Contains(t, bobOut.String(), "    -> https://example.com")

	require.Eventually(t, func() bool { return len(alice.room.Messages.Messages()) == 1 }, waitFor, tick)
	assert.NotContains(t, bobOut.String(), "never sent")

	rooms, err := alice.prefs.Rooms("Alice")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "hello https://example.com", rooms[0].Name)
	assert.Equal(t, "hello https://example.com", rooms[0].LastMessage)
}

func TestTerminal_ContinuationLinesSignalTyping(t *testing.T) {
	broker, _ := realtimetest.NewBroker(t)
	alice, _ := newTestTerminal(t, broker, "Alice", nil)
	bob, bobOut := newTestTerminal(t, broker, "Bob", nil)

	require.NoError(t, alice.run(context.Background(), strings.NewReader("first line\\\nsecond line\n")))

	require.Eventually(t, bobOut.contains("* Alice is typing..."), waitFor, tick)
	require.Eventually(t, func() bool {
		msgs := bob.room.Messages.Messages()
		return len(msgs) == 1 && msgs[0].Text == "first line\nsecond line"
	}, waitFor, tick)
	require.Eventually(t, func() bool { return len(bob.room.Typing.Users()) == 0 }, waitFor, tick)
	assert.False(t, alice.room.Typing.IsTyping())
}

func TestTerminal_React(t *testing.T) {
	broker, _ := realtimetest.NewBroker(t)
	ctx := context.Background()
	alice, aliceOut := newTestTerminal(t, broker, "Alice", nil)
	bob, _ := newTestTerminal(t, broker, "Bob", nil)

	_, err := alice.handle(ctx, command{kind: cmdText, text: "react to me"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(bob.room.Messages.Messages()) == 1 }, waitFor, tick)
	id := bob.room.Messages.Messages()[0].ID

	_, err = bob.handle(ctx, command{kind: cmdReact, arg: shortID(id), emoji: "🎉"})
	require.NoError(t, err)
	require.Eventually(t, aliceOut.contains(shortID(id)+" 🎉 Bob"), waitFor, tick)

	_, err = bob.handle(ctx, command{kind: cmdReact, arg: "zzzz", emoji: "🎉"})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestTerminal_ReactionRemoved(t *testing.T) {
	broker, _ := realtimetest.NewBroker(t)
	ctx := context.Background()
	alice, aliceOut := newTestTerminal(t, broker, "Alice", nil)
	bob, _ := newTestTerminal(t, broker, "Bob", nil)

	_, err := alice.handle(ctx, command{kind: cmdText, text: "react to me"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(bob.room.Messages.Messages()) == 1 }, waitFor, tick)
	id := bob.room.Messages.Messages()[0].ID

	_, err = bob.handle(ctx, command{kind: cmdReact, arg: shortID(id), emoji: "👍"})
	require.NoError(t, err)
	require.Eventually(t, aliceOut.contains(shortID(id)+" 👍 Bob"), waitFor, tick)

	_, err = bob.handle(ctx, command{kind: cmdReact, arg: shortID(id), emoji: "👍"})
	require.NoError(t, err)
	require.Eventually(t, aliceOut.contains(shortID(id)+" (no reactions)"), waitFor, tick)
}

func TestTerminal_BellForOthers(t *testing.T) {
	broker, _ := realtimetest.NewBroker(t)
	alice, aliceOut := newTestTerminal(t, broker, "Alice", nil)
	_, bobOut := newTestTerminal(t, broker, "Bob", nil)

	_, err := alice.handle(context.Background(), command{kind: cmdText, text: "ding"})
	require.NoError(t, err)

	require.Eventually(t, bobOut.contains("\a"), waitFor, tick)
	require.Eventually(t, aliceOut.contains("ding"), waitFor, tick)
	assert.NotContains(t, aliceOut.String(), "\a")
}

func TestNewTerminal_ReadsPrefs(t *testing.T) {
	prefs, err := storage.OpenPrefs(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = prefs.Close() })

	term := newTerminal(&syncBuffer{}, prefs, slog.Default(), true)
	assert.Equal(t, storage.ThemeLight, term.theme)
	assert.True(t, term.sound)

	require.NoError(t, prefs.SetTheme(storage.ThemeDark))
	require.NoError(t, prefs.SetSoundEnabled(false))
	term = newTerminal(&syncBuffer{}, prefs, slog.Default(), true)
	assert.Equal(t, storage.ThemeDark, term.theme)
	assert.False(t, term.sound)
}

func TestTerminal_WhoAndSearch(t *testing.T) {
	broker, _ := realtimetest.NewBroker(t)
	ctx := context.Background()
	alice, aliceOut := newTestTerminal(t, broker, "Alice", nil)
	newTestTerminal(t, broker, "Bob", nil)

	require.Eventually(t, func() bool { return len(alice.room.Presence.Online()) == 2 }, waitFor, tick)
	_, err := alice.handle(ctx, command{kind: cmdWho})
	require.NoError(t, err)
	assert.Contains(t, aliceOut.String(), "[A] Alice since just now")
	assert.Contains(t, aliceOut.String(), "[B] Bob since just now")

	_, err = alice.handle(ctx, command{kind: cmdText, text: "Lunch at noon?"})
	require.NoError(t, err)
	require.Eventually(t, aliceOut.contains("Lunch at noon?"), waitFor, tick)

	_, err = alice.handle(ctx, command{kind: cmdSearch, text: "dinner"})
	require.NoError(t, err)
	assert.Contains(t, aliceOut.String(), `no messages match "dinner"`)

	before := strings.Count(aliceOut.String(), "Lunch at noon?")
	_, err = alice.handle(ctx, command{kind: cmdSearch, text: "LUNCH"})
	require.NoError(t, err)
	assert.Equal(t, before+1, strings.Count(aliceOut.String(), "Lunch at noon?"))
}

func TestTerminal_Voice(t *testing.T) {
	broker, _ := realtimetest.NewBroker(t)
	ctx := context.Background()

	muted, _ := newTestTerminal(t, broker, "Alice", capability.Static{capability.Speech: true})
	_, err := muted.handle(ctx, command{kind: cmdVoice, text: "hi"})
	require.ErrorIs(t, err, capability.ErrUnavailable)

	bob, _ := newTestTerminal(t, broker, "Bob", capability.Static{capability.Speech: true, capability.Microphone: true})
	_, err = bob.handle(ctx, command{kind: cmdVoice})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := muted.room.Messages.Messages()
		return len(msgs) == 1 && msgs[0].Text == room.VoicePlaceholder
	}, waitFor, tick)
}

func TestTerminal_ImageErrors(t *testing.T) {
	broker, _ := realtimetest.NewBroker(t)
	term, _ := newTestTerminal(t, broker, "Alice", nil)

	_, err := term.handle(context.Background(), command{kind: cmdImage, arg: filepath.Join(t.TempDir(), "missing.png")})
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrChannelUnavailable))
}

func TestParseHex(t *testing.T) {
	r, g, b, ok := parseHex("#38BDF8")
	require.True(t, ok)
	assert.Equal(t, [3]uint8{0x38, 0xBD, 0xF8}, [3]uint8{r, g, b})

	_, _, _, ok = parseHex("#123")
	assert.False(t, ok)
}

func TestBadge(t *testing.T) {
	plain := &terminal{}
	assert.Equal(t, "[AC] Alice Cooper", plain.badge("Alice Cooper"))

	dark := &terminal{color: true, theme: storage.ThemeDark}
	assert.Equal(t, "\x1b[38;2;56;189;248m[A] Alice\x1b[0m", dark.badge("Alice"))

	light := &terminal{color: true, theme: storage.ThemeLight}
	assert.Equal(t, "\x1b[38;2;37;126;165m[A] Alice\x1b[0m", light.badge("Alice"))
}
