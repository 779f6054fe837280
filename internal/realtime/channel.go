package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"hchat/internal/models"
)

type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusClosed       Status = "CLOSED"
)

type ChannelOptions struct {
	// Self delivers this client's own broadcasts back to it.
	Self bool
}

type broadcastHandler struct {
	id    uint64
	event string
	fn    func(models.Broadcast)
}

type insertHandler struct {
	id     uint64
	filter Filter
	fn     func(models.Row)
}

type syncHandler struct {
	id uint64
	fn func(models.Roster)
}

type diffHandler struct {
	id   uint64
	join bool
	fn   func(models.PresenceDiff)
}

// shared is the single per-name channel state behind all handles.
// Inbound frames are dispatched on one goroutine in arrival order.
type shared struct {
	client *Client
	name   string
	opts   ChannelOptions

	// refs is guarded by the registry lock.
	refs int

	queue    chan models.ServerFrame
	done     chan struct{}
	stopOnce sync.Once

	mu         sync.RWMutex
	nextID     uint64
	broadcasts []broadcastHandler
	inserts    []insertHandler
	syncs      []syncHandler
	diffs      []diffHandler
	roster     models.Roster
	joined     bool
	stopped    bool
}

func newShared(c *Client, name string, opts ChannelOptions) *shared {
	s := &shared{
		client: c,
		name:   name,
		opts:   opts,
		queue:  make(chan models.ServerFrame, c.buffer),
		done:   make(chan struct{}),
		roster: models.Roster{},
	}
	go s.run()
	return s
}

func (s *shared) run() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.queue:
			s.dispatch(frame)
		}
	}
}

func (s *shared) enqueue(frame models.ServerFrame) bool {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return true
	}

	select {
	case s.queue <- frame:
		return true
	default:
		s.client.log.Warn("channel buffer full, dropping event", "channel", s.name, "type", frame.Type)
		return false
	}
}

func (s *shared) dispatch(frame models.ServerFrame) {
	switch frame.Type {
	case models.FrameBroadcast:
		var fns []func(models.Broadcast)
		s.mu.RLock()
		for _, h := range s.broadcasts {
			if h.event == frame.Event {
				fns = append(fns, h.fn)
			}
		}
		s.mu.RUnlock()
		b := models.Broadcast{Event: frame.Event, Payload: frame.Payload}
		for _, fn := range fns {
			fn(b)
		}

	case models.FrameInsert:
		if frame.Row == nil {
			return
		}
		var fns []func(models.Row)
		s.mu.RLock()
		for _, h := range s.inserts {
			if h.filter.Match(*frame.Row) {
				fns = append(fns, h.fn)
			}
		}
		s.mu.RUnlock()
		for _, fn := range fns {
			fn(*frame.Row)
		}

	case models.FramePresenceSync:
		s.mu.Lock()
		s.roster = copyRoster(frame.Roster)
		fns := make([]func(models.Roster), 0, len(s.syncs))
		for _, h := range s.syncs {
			fns = append(fns, h.fn)
		}
		s.mu.Unlock()
		for _, fn := range fns {
			fn(copyRoster(frame.Roster))
		}

	case models.FramePresenceJoin, models.FramePresenceLeave:
		join := frame.Type == models.FramePresenceJoin
		var fns []func(models.PresenceDiff)
		s.mu.RLock()
		for _, h := range s.diffs {
			if h.join == join {
				fns = append(fns, h.fn)
			}
		}
		s.mu.RUnlock()
		diff := models.PresenceDiff{Key: frame.Key, Presences: frame.Presences}
		for _, fn := range fns {
			fn(diff)
		}
	}
}

func (s *shared) add(register func(id uint64)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	register(id)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.broadcasts = slices.DeleteFunc(s.broadcasts, func(h broadcastHandler) bool { return h.id == id })
		s.inserts = slices.DeleteFunc(s.inserts, func(h insertHandler) bool { return h.id == id })
		s.syncs = slices.DeleteFunc(s.syncs, func(h syncHandler) bool { return h.id == id })
		s.diffs = slices.DeleteFunc(s.diffs, func(h diffHandler) bool { return h.id == id })
	}
}

func (s *shared) filterStrings() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, h := range s.inserts {
		f := h.filter.String()
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

func (s *shared) markJoined() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = true
}

func (s *shared) wasJoined() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joined
}

func (s *shared) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *shared) ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.joined && !s.stopped
}

func (s *shared) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *shared) presence() models.Roster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRoster(s.roster)
}

// Channel is one owner's handle on a named realtime channel. Handlers
// registered through a handle are removed when the handle is closed.
type Channel struct {
	shared *shared

	mu         sync.Mutex
	onStatus   func(Status)
	unsubs     []func()
	subscribed bool
	closed     bool
}

func (ch *Channel) Name() string {
	return ch.shared.name
}

// OnBroadcast registers fn for broadcasts named event. The returned func
// removes the handler.
func (ch *Channel) OnBroadcast(event string, fn func(models.Broadcast)) func() {
	return ch.register(func(id uint64) {
		ch.shared.broadcasts = append(ch.shared.broadcasts, broadcastHandler{id: id, event: event, fn: fn})
	})
}

// OnInsert registers fn for rows inserted into the messages table that
// match filter. Register before Subscribe: filters are sent on join.
func (ch *Channel) OnInsert(filter Filter, fn func(models.Row)) func() {
	if ch.shared.wasJoined() {
		ch.shared.client.log.Warn("change feed registered after subscribe", "channel", ch.shared.name, "filter", filter.String())
	}
	return ch.register(func(id uint64) {
		ch.shared.inserts = append(ch.shared.inserts, insertHandler{id: id, filter: filter, fn: fn})
	})
}

// OnPresenceSync registers fn for full roster snapshots.
func (ch *Channel) OnPresenceSync(fn func(models.Roster)) func() {
	return ch.register(func(id uint64) {
		ch.shared.syncs = append(ch.shared.syncs, syncHandler{id: id, fn: fn})
	})
}

func (ch *Channel) OnPresenceJoin(fn func(models.PresenceDiff)) func() {
	return ch.register(func(id uint64) {
		ch.shared.diffs = append(ch.shared.diffs, diffHandler{id: id, join: true, fn: fn})
	})
}

func (ch *Channel) OnPresenceLeave(fn func(models.PresenceDiff)) func() {
	return ch.register(func(id uint64) {
		ch.shared.diffs = append(ch.shared.diffs, diffHandler{id: id, join: false, fn: fn})
	})
}

func (ch *Channel) register(add func(id uint64)) func() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return func() {}
	}
	unsub := ch.shared.add(add)
	ch.unsubs = append(ch.unsubs, unsub)
	return unsub
}

// Subscribe joins the channel. onStatus, if set, is told SUBSCRIBED or
// CHANNEL_ERROR here and CLOSED on Close.
func (ch *Channel) Subscribe(ctx context.Context, onStatus func(Status)) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return models.ErrClosed
	}
	ch.onStatus = onStatus
	ch.mu.Unlock()

	if err := ch.shared.client.join(ctx, ch.shared); err != nil {
		ch.notify(StatusChannelError)
		return fmt.Errorf("subscribe %s: %w", ch.shared.name, err)
	}

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return models.ErrClosed
	}
	ch.subscribed = true
	ch.mu.Unlock()

	ch.notify(StatusSubscribed)
	return nil
}

// Ready reports whether publishes can go out.
func (ch *Channel) Ready() bool {
	ch.mu.Lock()
	ok := ch.subscribed && !ch.closed
	ch.mu.Unlock()
	return ok && ch.shared.ready()
}

// Publish broadcasts payload as JSON to the channel's current members.
// It fails with ErrChannelUnavailable until the channel is subscribed.
func (ch *Channel) Publish(ctx context.Context, event string, payload any) error {
	if !ch.Ready() {
		return fmt.Errorf("publish %s on %s: %w", event, ch.shared.name, models.ErrChannelUnavailable)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	if err := ch.shared.client.transport.Broadcast(ctx, ch.shared.name, event, data); err != nil {
		return fmt.Errorf("publish %s on %s: %w: %w", event, ch.shared.name, models.ErrChannelUnavailable, err)
	}
	return nil
}

// Track publishes this client's presence state on the channel.
func (ch *Channel) Track(ctx context.Context, state any) error {
	if !ch.Ready() {
		return fmt.Errorf("track on %s: %w", ch.shared.name, models.ErrChannelUnavailable)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}
	if err := ch.shared.client.transport.Track(ctx, ch.shared.name, data); err != nil {
		return fmt.Errorf("track on %s: %w: %w", ch.shared.name, models.ErrChannelUnavailable, err)
	}
	return nil
}

// Presence returns the last roster seen on the channel.
func (ch *Channel) Presence() models.Roster {
	return ch.shared.presence()
}

// Close removes this handle's handlers and releases its reference; the
// last release leaves the channel. It is idempotent.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	unsubs := ch.unsubs
	ch.unsubs = nil
	onStatus := ch.onStatus
	ch.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	ch.shared.client.release(ch.shared)
	if onStatus != nil {
		onStatus(StatusClosed)
	}
	return nil
}

func (ch *Channel) notify(status Status) {
	ch.mu.Lock()
	fn := ch.onStatus
	ch.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}

func copyRoster(r models.Roster) models.Roster {
	out := make(models.Roster, len(r))
	for k, v := range r {
		out[k] = slices.Clone(v)
	}
	return out
}
