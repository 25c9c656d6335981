package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// JobHandler runs one job. A returned error dead-letters the delivery.
type JobHandler func(ctx context.Context, jobID string) error

type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
	logger      *slog.Logger
}

func NewConsumer(url, queue string, concurrency int, logger *slog.Logger) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := DeclareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, concurrency: concurrency, logger: logger}, nil
}

// Run consumes until ctx is done, then waits for in-flight jobs.
func (c *Consumer) Run(ctx context.Context, handle JobHandler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.logger.Info("worker started", "queue", c.queue, "concurrency", c.concurrency)
	return Dispatch(ctx, msgs, c.concurrency, handle, c.logger)
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Dispatch fans deliveries out to a fixed pool of workers. Successful jobs are
// acked; bad messages and failed jobs are nacked without requeue. Dispatch
// returns once ctx is done or the delivery channel closes, after every
// in-flight job has finished.
func Dispatch(ctx context.Context, deliveries <-chan amqp.Delivery, concurrency int, handle JobHandler, logger *slog.Logger) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(ctx, workerID, d, handle, logger)
			}
		}(i)
	}

	// dispatcher
	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			break loop
		case d, ok := <-deliveries:
			if !ok {
				err = fmt.Errorf("delivery channel closed")
				break loop
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				break loop
			}
		}
	}

	close(jobs)
	wg.Wait()
	return err
}

func handleDelivery(ctx context.Context, workerID int, d amqp.Delivery, handle JobHandler, logger *slog.Logger) {
	jobID, err := DecodeJob(d.Body)
	if err != nil {
		logger.Warn("bad job message", "worker", workerID, "error", err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	if err := handle(ctx, jobID); err != nil {
		logger.Error("job failed", "worker", workerID, "job_id", jobID, "cost", time.Since(start), "error", err)
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		logger.Warn("ack failed", "worker", workerID, "job_id", jobID, "error", err)
	}
	logger.Debug("job done", "worker", workerID, "job_id", jobID, "cost", time.Since(start))
}
