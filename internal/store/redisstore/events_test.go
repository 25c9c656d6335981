package redisstore

import (
	"context"
	"log/slog"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/streamchat/internal/notify"
)

// memPubSub delivers published messages to pattern subscribers in order.
type memPubSub struct {
	mu   sync.Mutex
	subs map[string]chan string
	sent []string
}

func newMemPubSub() *memPubSub { return &memPubSub{subs: map[string]chan string{}} }

func (m *memPubSub) Publish(_ context.Context, channel, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, channel)
	for pattern, ch := range m.subs {
		if ok, _ := path.Match(pattern, channel); ok {
			ch <- message
		}
	}
	return nil
}

func (m *memPubSub) PSubscribe(ctx context.Context, pattern string) (<-chan string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan string, 64)
	m.subs[pattern] = ch
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, pattern)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *memPubSub) Close() error { return nil }

func (m *memPubSub) subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs) > 0
}

func TestEventPublisher_Channel(t *testing.T) {
	ps := newMemPubSub()
	p := NewEventPublisher(ps)

	require.NoError(t, p.Notify(context.Background(), notify.Delta("s1", "x")))
	assert.Equal(t, []string{"chat:events:s1"}, ps.sent)
}

func TestRelay_ForwardsInOrder(t *testing.T) {
	ps := newMemPubSub()
	hub := notify.NewHub(slog.New(slog.DiscardHandler))
	sub := hub.Subscribe("s1")
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	relay := NewRelay(ps, hub, slog.New(slog.DiscardHandler))
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, ps.subscribed, time.Second, 5*time.Millisecond)

	pub := NewEventPublisher(ps)
	want := []notify.Event{
		notify.Delta("s1", "Hel"),
		notify.Delta("s1", "lo"),
		notify.DeltaDone("s1"),
		notify.Complete("s1"),
	}
	for _, ev := range want {
		require.NoError(t, pub.Notify(ctx, ev))
	}
	// other sessions are not delivered to s1
	require.NoError(t, pub.Notify(ctx, notify.Delta("s2", "nope")))

	var got []notify.Event
	for len(got) < len(want) {
		select {
		case ev := <-sub.C:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	assert.Equal(t, want, got)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelay_SkipsGarbage(t *testing.T) {
	ps := newMemPubSub()
	var mu sync.Mutex
	var got []notify.Event
	sink := notify.NotifierFunc(func(_ context.Context, ev notify.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = NewRelay(ps, sink, slog.New(slog.DiscardHandler)).Run(ctx) }()
	require.Eventually(t, ps.subscribed, time.Second, 5*time.Millisecond)

	require.NoError(t, ps.Publish(ctx, ChannelFor("s1"), "{not json"))
	require.NoError(t, NewEventPublisher(ps).Notify(ctx, notify.Complete("s1")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, notify.EventStreamComplete, got[0].Type)
	mu.Unlock()
}
