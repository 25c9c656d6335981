package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/suPer8Hu/streamchat/internal/notify"
)

const channelPrefix = "chat:events:"

func ChannelFor(sessionID string) string { return channelPrefix + sessionID }

// EventPublisher is a notify.Notifier that publishes events to Redis so a
// process without the subscriber (the worker) can reach it.
type EventPublisher struct {
	ps PubSub
}

func NewEventPublisher(ps PubSub) *EventPublisher {
	return &EventPublisher{ps: ps}
}

func (p *EventPublisher) Notify(ctx context.Context, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.ps.Publish(ctx, ChannelFor(ev.SessionID), string(data))
}

// Relay forwards events published by other processes into a local notifier.
type Relay struct {
	ps     PubSub
	sink   notify.Notifier
	logger *slog.Logger
}

func NewRelay(ps PubSub, sink notify.Notifier, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{ps: ps, sink: sink, logger: logger}
}

// Run subscribes and forwards until ctx is done or the subscription ends.
func (r *Relay) Run(ctx context.Context) error {
	ch, err := r.ps.PSubscribe(ctx, channelPrefix+"*")
	if err != nil {
		return err
	}
	r.logger.Info("event relay started", "pattern", channelPrefix+"*")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("event relay: subscription closed")
			}
			var ev notify.Event
			if err := json.Unmarshal([]byte(msg), &ev); err != nil {
				r.logger.Warn("failed to unmarshal relayed event", "error", err)
				continue
			}
			if err := r.sink.Notify(ctx, ev); err != nil {
				r.logger.Warn("relay notify failed", "session_id", ev.SessionID, "error", err)
			}
		}
	}
}
