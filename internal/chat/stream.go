package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/streamchat/internal/ai"
	"github.com/suPer8Hu/streamchat/internal/notify"
	"github.com/suPer8Hu/streamchat/internal/settings"
	"github.com/suPer8Hu/streamchat/internal/tracer"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultModel    = "gpt-3.5-turbo"

	defaultCloseTimeout  = 10 * time.Second
	maxConsecutiveErrors = 8
)

// SettingsReader resolves provider configuration. Get never fails.
type SettingsReader interface {
	Get(ctx context.Context, key, def string) string
}

// StreamResult describes one finished stream invocation.
type StreamResult struct {
	// Message is the stored assistant reply; nil when nothing was stored.
	Message *Message
	Content string
	Deltas  int

	CredentialMissing bool
	PersistErr        error
}

type ClientOption func(*StreamingClient)

func WithDefaultEndpoint(url string) ClientOption {
	return func(c *StreamingClient) {
		if url != "" {
			c.defaultEndpoint = url
		}
	}
}

func WithDefaultModel(model string) ClientOption {
	return func(c *StreamingClient) {
		if model != "" {
			c.defaultModel = model
		}
	}
}

// WithCloseTimeout bounds persistence and the final notifications of a
// stream, which run detached from the caller's cancellation.
func WithCloseTimeout(d time.Duration) ClientOption {
	return func(c *StreamingClient) {
		if d > 0 {
			c.closeTimeout = d
		}
	}
}

// StreamingClient runs chat completions against a provider and forwards the
// reply to a notifier as it arrives. Each invocation owns its accumulator, so
// one client serves any number of concurrent sessions.
type StreamingClient struct {
	store     MessageStore
	settings  SettingsReader
	transport ai.Transport
	notifier  notify.Notifier
	logger    *slog.Logger

	defaultEndpoint string
	defaultModel    string
	closeTimeout    time.Duration

	base      context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
}

func NewStreamingClient(store MessageStore, sr SettingsReader, transport ai.Transport, notifier notify.Notifier, logger *slog.Logger, opts ...ClientOption) *StreamingClient {
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	c := &StreamingClient{
		store:           store,
		settings:        sr,
		transport:       transport,
		notifier:        notifier,
		logger:          logger,
		defaultEndpoint: DefaultEndpoint,
		defaultModel:    DefaultModel,
		closeTimeout:    defaultCloseTimeout,
		base:            base,
		cancelAll:       cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run streams one assistant reply for prompt and blocks until it is stored
// and announced. Only a failure to open the provider stream is returned as an
// error; in that case no notification has been sent. A missing api key is
// reported with a single credential-missing event and a nil error.
func (c *StreamingClient) Run(ctx context.Context, sessionID, prompt string) (*StreamResult, error) {
	ctx, span := tracer.StartSpan(ctx, "chat.stream",
		trace.WithAttributes(tracer.StringAttr("session_id", sessionID)))
	defer span.End()

	apiKey := c.settings.Get(ctx, settings.KeyAPIKey, "")
	endpoint := c.settings.Get(ctx, settings.KeyBaseURL, c.defaultEndpoint)
	model := c.settings.Get(ctx, settings.KeyModel, c.defaultModel)

	log := c.logger.With("session_id", sessionID)

	if strings.TrimSpace(apiKey) == "" {
		log.Info("stream skipped", "reason", ErrCredentialMissing)
		c.notify(ctx, log, notify.CredentialMissing(sessionID))
		span.SetAttributes(tracer.BoolAttr("credential_missing", true))
		tracer.SetOK(span)
		return &StreamResult{CredentialMissing: true}, nil
	}

	stream, err := c.transport.Open(ctx, ai.Request{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Model:    model,
		Messages: []ai.Message{{Role: RoleUser, Content: prompt}},
	})
	if err != nil {
		var oe *ai.OpenError
		if !errors.As(err, &oe) {
			err = &ai.OpenError{URL: endpoint, Err: err}
		}
		log.Error("open stream failed", "model", model, "error", err)
		tracer.RecordError(span, err)
		return nil, err
	}

	content, deltas := c.consume(ctx, log, sessionID, stream)
	res := c.closeOut(ctx, log, sessionID, content)
	res.Deltas = deltas
	span.SetAttributes(
		tracer.IntAttr("deltas", deltas),
		tracer.BoolAttr("persisted", res.PersistErr == nil),
	)
	if res.PersistErr != nil {
		tracer.RecordError(span, res.PersistErr)
	} else {
		tracer.SetOK(span)
	}
	return res, nil
}

// consume drains the stream and returns the accumulated reply. Read and
// decode failures are logged and skipped. The stream is closed on return.
// A panic inside the loop ends it early with whatever was accumulated.
func (c *StreamingClient) consume(ctx context.Context, log *slog.Logger, sessionID string, stream ai.ChunkStream) (content string, deltas int) {
	var (
		lines  ai.LineReassembler
		dec    = ai.NewDecoder()
		acc    strings.Builder
		errRun int
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("stream loop panic", "panic", r, "deltas", deltas)
			content = acc.String()
		}
		if err := stream.Close(); err != nil {
			log.Debug("close stream", "error", err)
		}
		if n := lines.Close(); n > 0 {
			log.Debug("discarding partial trailing line", "bytes", n)
		}
		log.Debug("stream loop finished", "decoder", dec.State(), "deltas", deltas)
	}()

	for !dec.Done() {
		if err := ctx.Err(); err != nil {
			log.Info("stream cancelled", "error", err, "pending_bytes", lines.Pending())
			break
		}

		chunk, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				continue
			}
			errRun++
			log.Warn("stream read failed", "error", err, "consecutive", errRun)
			if errRun >= maxConsecutiveErrors {
				log.Error("giving up on stream after repeated read failures")
				break
			}
			continue
		}
		errRun = 0

		for _, line := range lines.Feed(chunk) {
			ev, ok, err := dec.Decode(line)
			if err != nil {
				log.Debug("skipping undecodable line", "error", err)
				continue
			}
			if !ok || ev.IsFinal {
				continue
			}
			acc.WriteString(ev.Text)
			deltas++
			c.notify(ctx, log, notify.Delta(sessionID, ev.Text))
		}
	}
	return acc.String(), deltas
}

// closeOut stores the reply and sends the two final signals. The signals are
// sent even when storing fails.
func (c *StreamingClient) closeOut(ctx context.Context, log *slog.Logger, sessionID, content string) *StreamResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.closeTimeout)
	defer cancel()

	res := &StreamResult{Content: content}

	msg, err := c.store.AppendMessage(ctx, sessionID, RoleAssistant, content)
	if err != nil {
		log.Error("persist assistant message failed", "error", err, "content_len", len(content))
		res.PersistErr = err
	} else {
		res.Message = msg
	}

	c.notify(ctx, log, notify.DeltaDone(sessionID))
	c.notify(ctx, log, notify.Complete(sessionID))
	return res
}

// notify delivers ev and absorbs subscriber failures, panics included, so the
// stream always reaches its final signals.
func (c *StreamingClient) notify(ctx context.Context, log *slog.Logger, ev notify.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("notifier panic", "event", ev.Type, "panic", r)
		}
	}()
	if err := c.notifier.Notify(ctx, ev); err != nil {
		log.Warn("notify failed", "event", ev.Type, "error", err)
	}
}

// Start runs the stream in the background and returns immediately. The task
// is detached from ctx cancellation; use Task.Cancel or Shutdown to stop it.
func (c *StreamingClient) Start(ctx context.Context, sessionID, prompt string) *Task {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.base, cancel)

	t := &Task{done: make(chan struct{}), cancel: cancel}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(t.done)
		defer stop()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("stream panic: %v", r)
				c.logger.Error("stream panic", "session_id", sessionID, "panic", r)
			}
		}()

		t.result, t.err = c.Run(taskCtx, sessionID, prompt)
	}()
	return t
}

// Shutdown waits for in-flight streams. When ctx expires first, the streams
// are cancelled and still closed out before Shutdown returns ctx's error.
func (c *StreamingClient) Shutdown(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		c.cancelAll()
		<-idle
		return ctx.Err()
	}
}
