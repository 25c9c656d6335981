package redisstore

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// PubSub is the slice of Redis used for event fan-out.
// This allows a real go-redis client or a fake to be used interchangeably.
type PubSub interface {
	Publish(ctx context.Context, channel string, message string) error
	// PSubscribe subscribes to a channel pattern. The returned channel is
	// closed when ctx is done or the subscription ends.
	PSubscribe(ctx context.Context, pattern string) (<-chan string, error)
	Close() error
}

// Client wraps a go-redis client.
type Client struct {
	rdb *goredis.Client
}

func Connect(ctx context.Context, addr, password string, db int) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Publish(ctx context.Context, channel string, message string) error {
	return c.rdb.Publish(ctx, channel, message).Err()
}

func (c *Client) PSubscribe(ctx context.Context, pattern string) (<-chan string, error) {
	sub := c.rdb.PSubscribe(ctx, pattern)
	// wait for the subscription confirmation so no early message is lost
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}

	ch := make(chan string, 64)
	go func() {
		defer close(ch)
		defer sub.Close()
		msgCh := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case ch <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
