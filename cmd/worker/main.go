package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/streamchat/internal/app"
	"github.com/suPer8Hu/streamchat/internal/chat"
	"github.com/suPer8Hu/streamchat/internal/config"
	"github.com/suPer8Hu/streamchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/streamchat/internal/store/redisstore"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("worker: %v", err)
	}
}

// run owns every resource so deferred cleanup happens before main exits.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if cfg.RabbitURL == "" || cfg.RedisAddr == "" {
		return errors.New("RABBIT_URL and REDIS_ADDR are required")
	}

	core, err := app.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer core.Close()
	logger := core.Logger

	// subscribers live in the server process; publish through redis
	rds, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer rds.Close()

	svc := chat.NewService(core.Repo, core.StreamingClient(redisstore.NewEventPublisher(rds)), logger)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency, logger)
	if err != nil {
		return fmt.Errorf("rabbit connect: %w", err)
	}
	defer consumer.Close()

	err = consumer.Run(ctx, func(ctx context.Context, jobID string) error {
		start := time.Now()
		err := svc.RunJob(ctx, jobID)
		if total := time.Since(start); total > 2*time.Second {
			logger.Info("job_timing", "job_id", jobID, "total", total, "error", err)
		}
		return err
	})
	if err != nil {
		return err
	}
	logger.Info("worker shut down")
	return nil
}
