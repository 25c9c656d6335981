package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/streamchat/internal/ai"
	"github.com/suPer8Hu/streamchat/internal/db"
	"github.com/suPer8Hu/streamchat/internal/notify"
	"github.com/suPer8Hu/streamchat/internal/settings"
	"gorm.io/gorm"
)

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open("sqlite://"+filepath.Join(t.TempDir(), "chat.db"), quietLogger())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb, Models()...))
	t.Cleanup(func() { _ = db.Close(gdb) })
	return gdb
}

// dataLine renders one provider delta line carrying text.
func dataLine(text string) string {
	b, _ := json.Marshal(text)
	return `data: {"choices":[{"delta":{"content":` + string(b) + `}}]}` + "\n"
}

const doneLine = "data: [DONE]\n"

type step struct {
	data []byte
	err  error
}

func chunks(ss ...string) []step {
	out := make([]step, 0, len(ss))
	for _, s := range ss {
		out = append(out, step{data: []byte(s)})
	}
	return out
}

// scriptedStream replays steps, then reports io.EOF. With block set, it waits
// for ctx instead of reporting io.EOF.
type scriptedStream struct {
	ctx   context.Context
	block bool

	mu     sync.Mutex
	steps  []step
	reads  int
	closed bool
}

func (s *scriptedStream) Next() ([]byte, error) {
	s.mu.Lock()
	s.reads++
	if len(s.steps) > 0 {
		st := s.steps[0]
		s.steps = s.steps[1:]
		s.mu.Unlock()
		return st.data, st.err
	}
	s.mu.Unlock()

	if s.block {
		<-s.ctx.Done()
		return nil, s.ctx.Err()
	}
	return nil, io.EOF
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptedStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeTransport serves a script chosen by the prompt of the request.
type fakeTransport struct {
	mu       sync.Mutex
	scripts  map[string][]step
	block    bool
	openErr  error
	requests []ai.Request
	streams  []*scriptedStream
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{scripts: map[string][]step{}}
}

func (t *fakeTransport) script(prompt string, steps []step) *fakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scripts[prompt] = steps
	return t
}

func (t *fakeTransport) Open(ctx context.Context, r ai.Request) (ai.ChunkStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, r)
	if t.openErr != nil {
		return nil, t.openErr
	}
	prompt := ""
	if len(r.Messages) > 0 {
		prompt = r.Messages[len(r.Messages)-1].Content
	}
	s := &scriptedStream{ctx: ctx, block: t.block, steps: append([]step(nil), t.scripts[prompt]...)}
	t.streams = append(t.streams, s)
	return s, nil
}

func (t *fakeTransport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

func (t *fakeTransport) LastRequest() ai.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[len(t.requests)-1]
}

func (t *fakeTransport) LastStream() *scriptedStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streams[len(t.streams)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	onNext func(notify.Event)
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	n.events = append(n.events, ev)
	cb := n.onNext
	n.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
	return nil
}

func (n *recordingNotifier) Events() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

func (n *recordingNotifier) ForSession(sessionID string) []notify.Event {
	var out []notify.Event
	for _, ev := range n.Events() {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out
}

type memSettings map[string]string

func (m memSettings) Get(_ context.Context, key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func withKey() memSettings { return memSettings{settings.KeyAPIKey: "sk-test"} }

// memStore is an in-memory MessageStore that can be told to fail.
type memStore struct {
	mu      sync.Mutex
	msgs    []Message
	appends int
	failErr error
}

func (s *memStore) AppendMessage(_ context.Context, sessionID, role, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	if s.failErr != nil {
		return nil, &StorageError{Op: "append message", Err: s.failErr}
	}
	m := Message{ID: uint64(len(s.msgs) + 1), SessionID: sessionID, Role: role, Content: content}
	s.msgs = append(s.msgs, m)
	return &m, nil
}

func (s *memStore) ListMessages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.msgs {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) Appends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

var errDiskFull = errors.New("disk full")
