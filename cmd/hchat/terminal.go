package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"hchat/internal/content"
	"hchat/internal/imagecodec"
	"hchat/internal/messages"
	"hchat/internal/models"
	"hchat/internal/reactions"
	"hchat/internal/room"
	"hchat/internal/storage"
)

const shortIDLength = 8

// terminal renders one mounted room to a writer and turns input lines into
// room operations. Room callbacks arrive on channel goroutines, so all
// writes go through mu.
type terminal struct {
	room   *room.Room
	prefs  *storage.Prefs
	log    *slog.Logger
	now    func() time.Time
	color  bool
	theme  storage.Theme
	roomID string
	user   string

	// mu guards the rest. live is set once the room's history is rendered.
	mu        sync.Mutex
	live      bool
	sound     bool
	out       io.Writer
	printed   map[string]bool
	typing    []string
	reactions map[string]string
	online    int
	named     bool
}

func newTerminal(out io.Writer, prefs *storage.Prefs, log *slog.Logger, color bool) *terminal {
	t := &terminal{
		prefs:     prefs,
		log:       log,
		now:       time.Now,
		color:     color,
		out:       out,
		printed:   make(map[string]bool),
		reactions: make(map[string]string),
	}
	if prefs == nil {
		return t
	}
	var err error
	if t.theme, err = prefs.Theme(); err != nil {
		log.Warn("failed to read theme", "err", err)
	}
	if t.sound, err = prefs.SoundEnabled(); err != nil {
		log.Warn("failed to read sound setting", "err", err)
	}
	return t
}

// attach binds the mounted room. Messages arriving after this ring the bell.
func (t *terminal) attach(r *room.Room) {
	t.room = r
	t.mu.Lock()
	t.live = true
	t.mu.Unlock()
}

// config wires the terminal's renderers into a room config.
func (t *terminal) config(cfg room.Config) room.Config {
	t.roomID = cfg.RoomID
	t.user = cfg.UserName
	cfg.OnMessages = t.onMessages
	cfg.OnTyping = t.onTyping
	cfg.OnReactions = t.onReactions
	cfg.OnPresence = t.onPresence
	return cfg
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) onMessages(msgs []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ring := false
	for _, m := range msgs {
		if t.printed[m.ID] {
			continue
		}
		t.printed[m.ID] = true
		t.renderLocked(m)
		if m.DisplayName() != t.user {
			ring = true
		}
	}
	if ring && t.live && t.sound {
		fmt.Fprint(t.out, "\a")
	}
}

func (t *terminal) renderLocked(m models.Message) {
	name := m.DisplayName()
	body := m.Text
	if m.ImageData != "" {
		body = "[Image " + imageSize(m.ImageData) + "]"
		if !m.IsImageOnly {
			body += " " + m.Text
		}
	}
	fmt.Fprintf(t.out, "%s %s %s: %s\n",
		t.badge(name),
		shortID(m.ID),
		content.FormatTimeAgo(m.Timestamp, t.now()),
		body)
	for _, u := range content.DetectURLs(m.Text) {
		fmt.Fprintf(t.out, "    -> %s\n", u)
	}
}

func (t *terminal) onTyping(users []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slices.Equal(users, t.typing) {
		return
	}
	t.typing = slices.Clone(users)
	switch len(users) {
	case 0:
	case 1:
		fmt.Fprintf(t.out, "* %s is typing...\n", users[0])
	default:
		fmt.Fprintf(t.out, "* %s are typing...\n", strings.Join(users, ", "))
	}
}

func (t *terminal) onReactions(all map[string][]reactions.Reaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Messages whose last reaction was removed are gone from the snapshot.
	ids := reactions.MessageIDs(all)
	for id := range t.reactions {
		if _, ok := all[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	for _, id := range ids {
		line := formatGroups(reactions.GroupReactions(all[id]))
		if t.reactions[id] == line {
			continue
		}
		if line == "" {
			delete(t.reactions, id)
			fmt.Fprintf(t.out, "  %s (no reactions)\n", shortID(id))
			continue
		}
		t.reactions[id] = line
		fmt.Fprintf(t.out, "  %s %s\n", shortID(id), line)
	}
}

func (t *terminal) onPresence(online []models.PresenceState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(online) == t.online {
		return
	}
	t.online = len(online)
	fmt.Fprintf(t.out, "* %d online\n", len(online))
}

func formatGroups(groups []reactions.Group) string {
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		parts = append(parts, g.Emoji+" "+strings.Join(g.Users, ", "))
	}
	return strings.Join(parts, "  ")
}

// badge is the avatar of a user: initials in the user's color, darkened
// on light terminals.
func (t *terminal) badge(name string) string {
	label := "[" + content.Initials(name) + "] " + name
	if !t.color {
		return label
	}
	r, g, b, ok := parseHex(content.UserColor(name))
	if !ok {
		return label
	}
	if t.theme == storage.ThemeLight {
		r, g, b = shade(r), shade(g), shade(b)
	}
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm%s\x1b[0m", r, g, b, label)
}

func parseHex(hex string) (r, g, b uint8, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), true
}

func shade(c uint8) uint8 {
	return uint8(uint16(c) * 2 / 3)
}

func shortID(id string) string {
	if len(id) > shortIDLength {
		return id[:shortIDLength]
	}
	return id
}

func imageSize(dataURI string) string {
	data, err := imagecodec.DecodeDataURI(dataURI)
	if err != nil {
		return "?"
	}
	return fmt.Sprintf("%dKB", (len(data)+1023)/1024)
}

// run reads lines from in until EOF, /quit or ctx is done. A line ending
// in a backslash continues the message on the next line and marks the
// user as typing meanwhile.
func (t *terminal) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	var draft []string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line := <-lines:
			if cont, ok := strings.CutSuffix(line, `\`); ok {
				draft = append(draft, cont)
				if err := t.room.Typing.StartTyping(ctx); err != nil {
					t.log.Debug("typing update failed", "err", err)
				}
				continue
			}
			if len(draft) > 0 {
				line = strings.Join(append(draft, line), "\n")
				draft = nil
			}

			cmd, err := parseCommand(line)
			if errors.Is(err, errEmptyLine) {
				_ = t.room.Typing.StopTyping(ctx)
				continue
			}
			if err != nil {
				t.printf("! %v\n", err)
				continue
			}
			quit, err := t.handle(ctx, cmd)
			if err != nil {
				t.printf("! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (t *terminal) handle(ctx context.Context, cmd command) (bool, error) {
	switch cmd.kind {
	case cmdText:
		if err := t.room.Send(ctx, cmd.text); err != nil {
			return false, err
		}
		t.touch(cmd.text)

	case cmdImage:
		f, err := os.Open(cmd.arg)
		if err != nil {
			return false, err
		}
		defer func() { _ = f.Close() }()
		if err := t.room.SendImage(ctx, f, cmd.text); err != nil {
			return false, err
		}
		t.touch(messageOr(cmd.text, messages.ImagePlaceholder))

	case cmdReact:
		id, err := t.resolveID(cmd.arg)
		if err != nil {
			return false, err
		}
		return false, t.room.Reactions.Toggle(ctx, id, cmd.emoji)

	case cmdWho:
		online := t.room.Presence.Online()
		t.mu.Lock()
		for _, p := range online {
			since := p.OnlineAt
			if ts, err := time.Parse(time.RFC3339, p.OnlineAt); err == nil {
				since = content.FormatTimeAgo(ts, t.now())
			}
			fmt.Fprintf(t.out, "  %s since %s\n", t.badge(p.User), since)
		}
		t.mu.Unlock()

	case cmdSearch:
		found := t.room.Search(cmd.text)
		t.mu.Lock()
		if len(found) == 0 {
			fmt.Fprintf(t.out, "  no messages match %q\n", cmd.text)
		}
		for _, m := range found {
			t.renderLocked(m)
		}
		t.mu.Unlock()

	case cmdVoice:
		if err := t.room.SendVoice(ctx, transcript(cmd.text)); err != nil {
			return false, err
		}
		t.touch(messageOr(cmd.text, room.VoicePlaceholder))

	case cmdHelp:
		t.printf("%s\n", helpText)

	case cmdQuit:
		return true, nil
	}
	return false, nil
}

// resolveID finds the one message whose id starts with prefix.
func (t *terminal) resolveID(prefix string) (string, error) {
	var match string
	for _, m := range t.room.Messages.Messages() {
		if !strings.HasPrefix(m.ID, prefix) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("message id %s is ambiguous", prefix)
		}
		match = m.ID
	}
	if match == "" {
		return "", fmt.Errorf("message %s: %w", prefix, models.ErrNotFound)
	}
	return match, nil
}

// touch records the last message in the local room list and names an
// unnamed room after its first message.
func (t *terminal) touch(text string) {
	if t.prefs == nil {
		return
	}
	if err := t.prefs.TouchRoom(t.user, t.roomID, text); err != nil {
		t.log.Warn("failed to update room list", "err", err)
	}
	t.mu.Lock()
	named := t.named
	t.named = true
	t.mu.Unlock()
	if named {
		return
	}
	rooms, err := t.prefs.Rooms(t.user)
	if err != nil {
		t.log.Warn("failed to read room list", "err", err)
		return
	}
	for _, r := range rooms {
		if r.ID == t.roomID && (r.Name == "" || r.Name == r.ID) {
			if err := t.prefs.RenameFromMessage(t.user, t.roomID, text); err != nil {
				t.log.Warn("failed to rename room", "err", err)
			}
		}
	}
}

func messageOr(text, fallback string) string {
	if strings.TrimSpace(text) == "" {
		return fallback
	}
	return text
}

// transcript is a Transcriber for text typed in place of speech.
type transcript string

func (s transcript) Transcribe(context.Context) (string, error) {
	return string(s), nil
}
