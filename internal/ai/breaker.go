package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

type BreakerConfig struct {
	// MaxFailures is the number of consecutive open failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout  time.Duration
	Interval time.Duration
}

// BreakerTransport fails fast when the provider keeps refusing connections.
// Only Open goes through the breaker; chunk reads are never counted.
type BreakerTransport struct {
	inner   Transport
	breaker *gobreaker.CircuitBreaker[ChunkStream]
}

func NewBreakerTransport(inner Transport, cfg BreakerConfig, logger *slog.Logger) *BreakerTransport {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[ChunkStream](gobreaker.Settings{
		Name:        "chat-stream",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up is not the provider's fault
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerTransport{inner: inner, breaker: cb}
}

func (t *BreakerTransport) Open(ctx context.Context, r Request) (ChunkStream, error) {
	s, err := t.breaker.Execute(func() (ChunkStream, error) {
		return t.inner.Open(ctx, r)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &OpenError{URL: r.Endpoint, Err: errors.Join(ErrCircuitOpen, err)}
	}
	return s, err
}

func (t *BreakerTransport) State() gobreaker.State { return t.breaker.State() }
