package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/streamchat/internal/ai"
	"github.com/suPer8Hu/streamchat/internal/app"
	"github.com/suPer8Hu/streamchat/internal/chat"
	"github.com/suPer8Hu/streamchat/internal/config"
	"github.com/suPer8Hu/streamchat/internal/httpapi"
	"github.com/suPer8Hu/streamchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/streamchat/internal/notify"
	"github.com/suPer8Hu/streamchat/internal/store/rabbitmq"
	"github.com/suPer8Hu/streamchat/internal/store/redisstore"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// run owns every resource so deferred cleanup happens before main exits.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	core, err := app.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer core.Close()
	logger := core.Logger

	hub := notify.NewHub(logger)

	// events from the worker process reach local subscribers through redis
	if cfg.RedisAddr != "" {
		rds, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer rds.Close()
		go func() {
			if err := redisstore.NewRelay(rds, hub, logger).Run(ctx); err != nil {
				logger.Error("event relay stopped", "error", err)
			}
		}()
	}

	var svcOpts []chat.ServiceOption
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return fmt.Errorf("rabbit connect: %w", err)
		}
		defer pub.Close()
		svcOpts = append(svcOpts, chat.WithJobPublisher(pub))
	}

	svc := chat.NewService(core.Repo, core.StreamingClient(hub), logger, svcOpts...)

	if logger.Enabled(ctx, slog.LevelDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handlers.NewHandler(cfg, svc, core.Settings, hub, ai.NewModelCatalog(), logger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := svc.Wait(shutdownCtx); err != nil {
		logger.Warn("in-flight streams cancelled", "error", err)
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
