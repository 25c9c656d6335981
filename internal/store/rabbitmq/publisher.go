package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// JobMessage is the body of a queued stream job.
type JobMessage struct {
	JobID string `json:"job_id"`
}

// DeadLetterQueue names the queue rejected jobs are routed to.
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// DeclareQueues declares the job queue and its dead-letter queue. Publisher
// and consumer both call it so either may start first.
func DeclareQueues(ch *amqp.Channel, queue string) error {
	dlqQ := DeadLetterQueue(queue)

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare %s: %w", dlqQ, err)
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	return nil
}

type Publisher struct {
	mu    sync.Mutex // amqp channels are not safe for concurrent publish
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
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
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishJob(ctx context.Context, jobID string) error {
	body, err := EncodeJob(jobID)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    jobID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

func EncodeJob(jobID string) ([]byte, error) {
	return json.Marshal(JobMessage{JobID: jobID})
}

func DecodeJob(body []byte) (string, error) {
	var m JobMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return "", fmt.Errorf("decode job message: %w", err)
	}
	if m.JobID == "" {
		return "", fmt.Errorf("decode job message: empty job_id")
	}
	return m.JobID, nil
}
