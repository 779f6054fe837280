package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"hchat/internal/metrics"
	"hchat/internal/models"

	"github.com/c-pro/geche"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DefaultMaxPayload bounds a broadcast or presence payload.
const DefaultMaxPayload = 1 << 20

var ErrPayloadTooLarge = errors.New("payload too large")

// MessageStore is the persisted messages table.
type MessageStore interface {
	InsertMessage(row models.NewRow) (models.Row, error)
	ListMessages(roomID string) ([]models.Row, error)
}

// Sink receives frames for a session. It must not block; it reports
// false when the frame had to be dropped.
type Sink func(models.ServerFrame) bool

type BrokerConfig struct {
	Store      MessageStore
	Metrics    *metrics.Broker
	Logger     *slog.Logger
	MaxPayload int
}

// Broker is the server side of the realtime service: it fans broadcasts
// out to channel members, keeps presence rosters and delivers change-feed
// inserts.
type Broker struct {
	store      MessageStore
	metrics    *metrics.Broker
	log        *slog.Logger
	validate   *validator.Validate
	maxPayload int

	// Map of topic name -> topic
	topics *geche.Locker[string, *topic]

	// Map of session key -> session
	sessions *geche.MapCache[string, *Session]
}

type member struct {
	session *Session
	self    bool
	filters []Filter
}

type topic struct {
	name    string
	members map[string]*member
	roster  map[string]json.RawMessage

	// mu serializes fan-out so every member sees one publish order.
	mu sync.Mutex
}

type envelope struct {
	Topic string `validate:"required"`
	Event string `validate:"required"`
}

func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewBroker(nil)
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
	return &Broker{
		store:      cfg.Store,
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		validate:   validator.New(),
		maxPayload: cfg.MaxPayload,
		topics:     geche.NewLocker[string, *topic](geche.NewMapCache[string, *topic]()),
		sessions:   geche.NewMapCache[string, *Session](),
	}
}

// Connect registers a new session whose frames go to sink.
func (b *Broker) Connect(sink Sink) *Session {
	s := &Session{
		key:    uuid.NewString(),
		broker: b,
		sink:   sink,
		topics: make(map[string]struct{}),
	}
	b.sessions.Set(s.key, s)
	b.metrics.Sessions.Inc()
	return s
}

// Sessions returns the number of connected sessions.
func (b *Broker) Sessions() int {
	return b.sessions.Len()
}

// Roster returns a copy of a topic's presence roster.
func (b *Broker) Roster(name string) models.Roster {
	tx := b.topics.Lock()
	t, err := tx.Get(name)
	tx.Unlock()
	if err != nil {
		return models.Roster{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rosterLocked()
}

func (b *Broker) join(s *Session, name string, self bool, filters []Filter) {
	tx := b.topics.Lock()
	t, err := tx.Get(name)
	if err != nil {
		t = &topic{
			name:    name,
			members: make(map[string]*member),
			roster:  make(map[string]json.RawMessage),
		}
		tx.Set(name, t)
	}
	t.mu.Lock()
	tx.Unlock()
	defer t.mu.Unlock()

	if _, ok := t.members[s.key]; !ok {
		b.metrics.Members.Inc()
	}
	m := &member{session: s, self: self, filters: filters}
	t.members[s.key] = m

	// A joining member starts from the current roster.
	b.deliver(m, models.ServerFrame{
		Type:   models.FramePresenceSync,
		Topic:  name,
		Roster: t.rosterLocked(),
	})
}

func (b *Broker) leave(s *Session, name string) {
	tx := b.topics.Lock()
	t, err := tx.Get(name)
	if err != nil {
		tx.Unlock()
		return
	}
	t.mu.Lock()
	if _, ok := t.members[s.key]; ok {
		delete(t.members, s.key)
		b.metrics.Members.Dec()
	}
	if state, ok := t.roster[s.key]; ok {
		delete(t.roster, s.key)
		b.fanoutLocked(t, "", models.ServerFrame{
			Type:      models.FramePresenceLeave,
			Topic:     name,
			Key:       s.key,
			Presences: []json.RawMessage{state},
		})
		b.fanoutLocked(t, "", models.ServerFrame{
			Type:   models.FramePresenceSync,
			Topic:  name,
			Roster: t.rosterLocked(),
		})
	}
	empty := len(t.members) == 0
	t.mu.Unlock()
	if empty {
		_ = tx.Del(name)
	}
	tx.Unlock()
}

func (b *Broker) lookup(name string) (*topic, bool) {
	tx := b.topics.Lock()
	defer tx.Unlock()
	t, err := tx.Get(name)
	return t, err == nil
}

func (b *Broker) broadcast(s *Session, name, event string, payload json.RawMessage) error {
	if err := b.validate.Struct(envelope{Topic: name, Event: event}); err != nil {
		return fmt.Errorf("invalid broadcast: %w", err)
	}
	if len(payload) > b.maxPayload {
		return ErrPayloadTooLarge
	}
	t, ok := b.lookup(name)
	if !ok {
		return fmt.Errorf("topic %s: %w", name, models.ErrNotFound)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, joined := t.members[s.key]; !joined {
		return fmt.Errorf("session not joined to %s", name)
	}
	b.metrics.Broadcasts.WithLabelValues(event).Inc()
	b.fanoutLocked(t, s.key, models.ServerFrame{
		Type:    models.FrameBroadcast,
		Topic:   name,
		Event:   event,
		Payload: payload,
	})
	return nil
}

func (b *Broker) track(s *Session, name string, state json.RawMessage) error {
	if len(state) > b.maxPayload {
		return ErrPayloadTooLarge
	}
	t, ok := b.lookup(name)
	if !ok {
		return fmt.Errorf("topic %s: %w", name, models.ErrNotFound)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, joined := t.members[s.key]; !joined {
		return fmt.Errorf("session not joined to %s", name)
	}
	t.roster[s.key] = state
	b.fanoutLocked(t, "", models.ServerFrame{
		Type:      models.FramePresenceJoin,
		Topic:     name,
		Key:       s.key,
		Presences: []json.RawMessage{state},
	})
	b.fanoutLocked(t, "", models.ServerFrame{
		Type:   models.FramePresenceSync,
		Topic:  name,
		Roster: t.rosterLocked(),
	})
	return nil
}

func (b *Broker) insert(row models.NewRow) (models.Row, error) {
	if err := b.validate.Struct(row); err != nil {
		return models.Row{}, fmt.Errorf("invalid row: %w", err)
	}
	stored, err := b.store.InsertMessage(row)
	if err != nil {
		return models.Row{}, err
	}
	b.metrics.Inserts.Inc()

	tx := b.topics.Lock()
	topics := tx.Snapshot()
	tx.Unlock()

	names := make([]string, 0, len(topics))
	for name := range topics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := topics[name]
		t.mu.Lock()
		for _, m := range t.members {
			if !matchAny(m.filters, stored) {
				continue
			}
			r := stored
			b.deliver(m, models.ServerFrame{
				Type:  models.FrameInsert,
				Topic: name,
				Row:   &r,
			})
		}
		t.mu.Unlock()
	}
	return stored, nil
}

func (b *Broker) query(roomID string) ([]models.Row, error) {
	if roomID == "" {
		return nil, errors.New("room id is required")
	}
	return b.store.ListMessages(roomID)
}

// fanoutLocked delivers a frame to all members of t, skipping the sender
// unless it asked for its own broadcasts. t.mu must be held.
func (b *Broker) fanoutLocked(t *topic, senderKey string, frame models.ServerFrame) {
	for key, m := range t.members {
		if key == senderKey && !m.self {
			continue
		}
		b.deliver(m, frame)
	}
}

func (b *Broker) deliver(m *member, frame models.ServerFrame) {
	if !m.session.sink(frame) {
		b.metrics.Dropped.Inc()
		b.log.Warn("dropping event for slow session",
			"session", m.session.key,
			"channel", frame.Topic,
			"type", frame.Type)
	}
}

func (t *topic) rosterLocked() models.Roster {
	roster := make(models.Roster, len(t.roster))
	for key, state := range t.roster {
		roster[key] = []json.RawMessage{state}
	}
	return roster
}

func matchAny(filters []Filter, row models.Row) bool {
	for _, f := range filters {
		if f.Match(row) {
			return true
		}
	}
	return false
}
