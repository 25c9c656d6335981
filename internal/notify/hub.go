package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 64

// Subscription receives the events of one session until Close is called.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	done    chan struct{}
	once    sync.Once
	id      uint64
	session string
	hub     *Hub
}

// Done is closed once the subscription has been closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
}

// Hub is an in-process, goroutine-safe per-session fan-out.
// Events for a session nobody is subscribed to are dropped.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	nextID atomic.Uint64
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{subs: make(map[string][]*Subscription), logger: logger}
}

func (h *Hub) Subscribe(sessionID string) *Subscription {
	ch := make(chan Event, subscriberBuffer)
	s := &Subscription{
		C:       ch,
		ch:      ch,
		done:    make(chan struct{}),
		id:      h.nextID.Add(1),
		session: sessionID,
		hub:     h,
	}
	h.mu.Lock()
	h.subs[sessionID] = append(h.subs[sessionID], s)
	h.mu.Unlock()
	return s
}

// Notify delivers ev to every subscriber of its session, in call order.
// It blocks on a full subscriber until there is room, the subscriber closes,
// or ctx ends.
func (h *Hub) Notify(ctx context.Context, ev Event) error {
	h.mu.RLock()
	subs := make([]*Subscription, len(h.subs[ev.SessionID]))
	copy(subs, h.subs[ev.SessionID])
	h.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[s.session]
	for i, cur := range subs {
		if cur.id == s.id {
			h.subs[s.session] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subs[s.session]) == 0 {
		delete(h.subs, s.session)
	}
	h.logger.Debug("subscriber removed", "session_id", s.session, "subscription", s.id)
}
