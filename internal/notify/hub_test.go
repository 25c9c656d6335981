package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub { return NewHub(slog.New(slog.DiscardHandler)) }

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev := <-s.C:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_DeliversInOrderPerSession(t *testing.T) {
	h := newTestHub()
	a := h.Subscribe("a")
	defer a.Close()
	b := h.Subscribe("b")
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, h.Notify(ctx, Delta("a", "x")))
	require.NoError(t, h.Notify(ctx, Delta("b", "other")))
	require.NoError(t, h.Notify(ctx, Delta("a", "y")))
	require.NoError(t, h.Notify(ctx, DeltaDone("a")))
	require.NoError(t, h.Notify(ctx, Complete("a")))

	assert.Equal(t, "x", recv(t, a).Payload.Chunk)
	assert.Equal(t, "y", recv(t, a).Payload.Chunk)
	assert.True(t, recv(t, a).Payload.Done)
	assert.True(t, recv(t, a).Terminal())
	assert.Equal(t, "other", recv(t, b).Payload.Chunk)
}

func TestHub_NoSubscriberDrops(t *testing.T) {
	h := newTestHub()

	assert.NoError(t, h.Notify(context.Background(), Delta("nobody", "x")))
	assert.Equal(t, 0, h.Subscribers("nobody"))
}

func TestHub_CloseUnblocksPublisher(t *testing.T) {
	h := newTestHub()
	s := h.Subscribe("a")

	// fill the buffer so the next publish blocks
	for i := 0; i < subscriberBuffer; i++ {
		require.NoError(t, h.Notify(context.Background(), Delta("a", "x")))
	}

	errc := make(chan error, 1)
	go func() { errc <- h.Notify(context.Background(), Delta("a", "blocked")) }()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher stayed blocked after subscriber closed")
	}
	assert.Equal(t, 0, h.Subscribers("a"))
	s.Close()
}

func TestHub_ContextBoundsBlockedPublish(t *testing.T) {
	h := newTestHub()
	s := h.Subscribe("a")
	defer s.Close()
	for i := 0; i < subscriberBuffer; i++ {
		require.NoError(t, h.Notify(context.Background(), Delta("a", "x")))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := h.Notify(ctx, Delta("a", "late"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestMulti_NotifiesAll(t *testing.T) {
	var got []string
	boom := errors.New("boom")
	m := Multi{
		NotifierFunc(func(ctx context.Context, ev Event) error { got = append(got, "1"); return boom }),
		NotifierFunc(func(ctx context.Context, ev Event) error { got = append(got, "2"); return nil }),
	}

	err := m.Notify(context.Background(), Complete("s"))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"1", "2"}, got)
}
