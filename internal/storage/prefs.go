package storage

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"hchat/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketSettings  = []byte("settings")
	bucketUserRooms = []byte("user_rooms")
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

const (
	installPromptWindow = 24 * time.Hour
	roomIDLength        = 6
	roomNameLimit       = 30
)

// Room is an entry of a user's local room list.
type Room struct {
	ID           string
	Name         string
	LastActivity time.Time
	LastMessage  string
}

// Prefs is the client-side device store: user name, per-user room list,
// theme, sound flag and install prompt dismissal.
type Prefs struct {
	db  *bbolt.DB
	now func() time.Time
}

func OpenPrefs(path string) (*Prefs, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open prefs db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSettings); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketUserRooms); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Prefs{db: db, now: time.Now}, nil
}

func (p *Prefs) Close() error {
	return p.db.Close()
}

func (p *Prefs) settings(tx *bbolt.Tx) (DBSettings, error) {
	s := DBSettings{Theme: string(ThemeLight), SoundEnabled: true}
	data := tx.Bucket(bucketSettings).Get(settingsKey)
	if data == nil {
		return s, nil
	}
	if err := s.UnmarshalBinary(data); err != nil {
		return s, err
	}
	return s, nil
}

func (p *Prefs) updateSettings(fn func(s *DBSettings)) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		s, err := p.settings(tx)
		if err != nil {
			return err
		}
		fn(&s)
		return put(tx.Bucket(bucketSettings), &s)
	})
}

func (p *Prefs) viewSettings() (DBSettings, error) {
	var s DBSettings
	err := p.db.View(func(tx *bbolt.Tx) error {
		var err error
		s, err = p.settings(tx)
		return err
	})
	return s, err
}

// UserName returns the saved chat user name, or ErrNotFound.
func (p *Prefs) UserName() (string, error) {
	s, err := p.viewSettings()
	if err != nil {
		return "", err
	}
	if s.UserName == "" {
		return "", models.ErrNotFound
	}
	return s.UserName, nil
}

func (p *Prefs) SetUserName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("user name cannot be empty")
	}
	return p.updateSettings(func(s *DBSettings) { s.UserName = name })
}

// ClearUserName forgets the saved name (log out).
func (p *Prefs) ClearUserName() error {
	return p.updateSettings(func(s *DBSettings) { s.UserName = "" })
}

func (p *Prefs) Theme() (Theme, error) {
	s, err := p.viewSettings()
	return Theme(s.Theme), err
}

func (p *Prefs) SetTheme(t Theme) error {
	if t != ThemeLight && t != ThemeDark {
		return fmt.Errorf("unknown theme %q", t)
	}
	return p.updateSettings(func(s *DBSettings) { s.Theme = string(t) })
}

// ToggleTheme flips between light and dark and returns the new theme.
func (p *Prefs) ToggleTheme() (Theme, error) {
	var next Theme
	err := p.updateSettings(func(s *DBSettings) {
		next = ThemeDark
		if Theme(s.Theme) == ThemeDark {
			next = ThemeLight
		}
		s.Theme = string(next)
	})
	return next, err
}

func (p *Prefs) SoundEnabled() (bool, error) {
	s, err := p.viewSettings()
	return s.SoundEnabled, err
}

func (p *Prefs) SetSoundEnabled(enabled bool) error {
	return p.updateSettings(func(s *DBSettings) { s.SoundEnabled = enabled })
}

// DismissInstallPrompt records that the install prompt was dismissed now.
func (p *Prefs) DismissInstallPrompt() error {
	now := p.now()
	return p.updateSettings(func(s *DBSettings) {
		s.InstallDismissed = true
		s.InstallDismissedAt = now.UnixMilli()
	})
}

// ShouldShowInstallPrompt reports whether the prompt was never dismissed
// or was dismissed more than a day ago.
func (p *Prefs) ShouldShowInstallPrompt() (bool, error) {
	s, err := p.viewSettings()
	if err != nil {
		return false, err
	}
	if !s.InstallDismissed {
		return true, nil
	}
	return p.now().Sub(time.UnixMilli(s.InstallDismissedAt)) > installPromptWindow, nil
}

// Rooms returns the local room list of a user in saved order.
func (p *Prefs) Rooms(userName string) ([]Room, error) {
	var rooms []Room
	err := p.db.View(func(tx *bbolt.Tx) error {
		ur, err := userRooms(tx, userName)
		if err != nil {
			return err
		}
		rooms = make([]Room, 0, len(ur.Rooms))
		for _, r := range ur.Rooms {
			rooms = append(rooms, Room{
				ID:           r.ID,
				Name:         r.Name,
				LastActivity: time.Unix(0, r.LastActivity),
				LastMessage:  r.LastMessage,
			})
		}
		return nil
	})
	return rooms, err
}

// AddRoom creates a room entry with a fresh id. An empty name is derived
// from the first message.
func (p *Prefs) AddRoom(userName, name, firstMessage string) (Room, error) {
	room := Room{
		ID:           NewRoomID(),
		Name:         RoomName(name, firstMessage),
		LastActivity: p.now(),
		LastMessage:  firstMessage,
	}
	err := p.updateRooms(userName, func(rooms []DBRoom) []DBRoom {
		return append(rooms, DBRoom{
			ID:           room.ID,
			Name:         room.Name,
			LastActivity: room.LastActivity.UnixNano(),
			LastMessage:  room.LastMessage,
		})
	})
	return room, err
}

// JoinRoom adds an existing room id to the list if it is not there yet.
func (p *Prefs) JoinRoom(userName, roomID, name string) error {
	now := p.now().UnixNano()
	return p.updateRooms(userName, func(rooms []DBRoom) []DBRoom {
		for i := range rooms {
			if rooms[i].ID == roomID {
				rooms[i].LastActivity = now
				return rooms
			}
		}
		if name == "" {
			name = roomID
		}
		return append(rooms, DBRoom{ID: roomID, Name: name, LastActivity: now})
	})
}

// RemoveRoom drops a room from the list and returns the most recently
// active remaining room, if any.
func (p *Prefs) RemoveRoom(userName, roomID string) (Room, bool, error) {
	var next Room
	var found bool
	err := p.updateRooms(userName, func(rooms []DBRoom) []DBRoom {
		rooms = slices.DeleteFunc(rooms, func(r DBRoom) bool { return r.ID == roomID })
		for _, r := range rooms {
			if !found || r.LastActivity > next.LastActivity.UnixNano() {
				next = Room{ID: r.ID, Name: r.Name, LastActivity: time.Unix(0, r.LastActivity), LastMessage: r.LastMessage}
				found = true
			}
		}
		return rooms
	})
	return next, found, err
}

// RenameFromMessage names a room after a message, truncated.
func (p *Prefs) RenameFromMessage(userName, roomID, message string) error {
	return p.updateRooms(userName, func(rooms []DBRoom) []DBRoom {
		for i := range rooms {
			if rooms[i].ID == roomID {
				rooms[i].Name = RoomName("", message)
			}
		}
		return rooms
	})
}

// TouchRoom records activity and the last message of a room.
func (p *Prefs) TouchRoom(userName, roomID, lastMessage string) error {
	now := p.now().UnixNano()
	return p.updateRooms(userName, func(rooms []DBRoom) []DBRoom {
		for i := range rooms {
			if rooms[i].ID == roomID {
				rooms[i].LastActivity = now
				rooms[i].LastMessage = lastMessage
			}
		}
		return rooms
	})
}

func (p *Prefs) updateRooms(userName string, fn func([]DBRoom) []DBRoom) error {
	if userName == "" {
		return errors.New("user name cannot be empty")
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		ur, err := userRooms(tx, userName)
		if err != nil {
			return err
		}
		ur.Rooms = fn(ur.Rooms)
		return put(tx.Bucket(bucketUserRooms), &ur)
	})
}

func userRooms(tx *bbolt.Tx, userName string) (DBUserRooms, error) {
	ur := DBUserRooms{UserName: userName}
	data := tx.Bucket(bucketUserRooms).Get(ur.Key())
	if data == nil {
		return ur, nil
	}
	if err := ur.UnmarshalBinary(data); err != nil {
		return ur, fmt.Errorf("failed to unmarshal rooms of %s: %w", userName, err)
	}
	return ur, nil
}

func put(b *bbolt.Bucket, v Storeable) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(v.Key(), data)
}

const roomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewRoomID returns a random 6 character base-36 room id.
func NewRoomID() string {
	var b [roomIDLength]byte
	for i := range b {
		b[i] = roomIDAlphabet[rand.IntN(len(roomIDAlphabet))]
	}
	return string(b[:])
}

// RoomName picks the explicit name, or the first message cut to 30
// characters with an ellipsis.
func RoomName(name, firstMessage string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	r := []rune(firstMessage)
	if len(r) > roomNameLimit {
		return string(r[:roomNameLimit]) + "..."
	}
	return firstMessage
}
