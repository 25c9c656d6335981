// Package app wires the pieces shared by the server and worker processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/suPer8Hu/streamchat/internal/ai"
	"github.com/suPer8Hu/streamchat/internal/chat"
	"github.com/suPer8Hu/streamchat/internal/config"
	"github.com/suPer8Hu/streamchat/internal/db"
	"github.com/suPer8Hu/streamchat/internal/logger"
	"github.com/suPer8Hu/streamchat/internal/notify"
	"github.com/suPer8Hu/streamchat/internal/settings"
	"github.com/suPer8Hu/streamchat/internal/tracer"
	"gorm.io/gorm"
)

type Core struct {
	Cfg      config.Config
	Logger   *slog.Logger
	DB       *gorm.DB
	Repo     *chat.Repo
	Settings *settings.Store

	closers []func() error
}

// Open builds the shared dependencies from cfg and runs migrations.
func Open(ctx context.Context, cfg config.Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	c := &Core{Cfg: cfg, Logger: log, closers: []func() error{closeLog}}

	shutdownTracer, err := tracer.Setup(ctx, cfg.TracingEnabled, cfg.TracingExporter)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("tracing: %w", err)
	}
	c.closers = append(c.closers, func() error { return shutdownTracer(context.Background()) })

	gdb, err := db.Open(cfg.DBDSN, log)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.DB = gdb
	c.closers = append(c.closers, func() error { return db.Close(gdb) })

	if err := db.Migrate(gdb, append(chat.Models(), &settings.Setting{})...); err != nil {
		_ = c.Close()
		return nil, err
	}

	var cipher *settings.Cipher
	if cfg.SettingsSecret != "" {
		if cipher, err = settings.NewCipher(cfg.SettingsSecret); err != nil {
			_ = c.Close()
			return nil, err
		}
	} else {
		log.Warn("SETTINGS_SECRET not set, api key stored in plaintext")
	}

	c.Repo = chat.NewRepo(gdb)
	c.Settings = settings.NewStore(gdb, cipher, log)
	return c, nil
}

// Transport builds the provider transport with idle read limits and a
// circuit breaker around connection setup.
func (c *Core) Transport() ai.Transport {
	var t ai.Transport = ai.NewHTTPTransport(c.Cfg.OpenRouterSiteURL, c.Cfg.OpenRouterAppName)
	t = ai.ReadTimeout{Inner: t, Timeout: c.Cfg.StreamReadTimeout}
	return ai.NewBreakerTransport(t, ai.BreakerConfig{
		MaxFailures: c.Cfg.CBMaxFailures,
		Timeout:     c.Cfg.CBTimeout,
	}, c.Logger)
}

func (c *Core) StreamingClient(n notify.Notifier) *chat.StreamingClient {
	return chat.NewStreamingClient(c.Repo, c.Settings, c.Transport(), n, c.Logger,
		chat.WithDefaultEndpoint(c.Cfg.DefaultBaseURL),
		chat.WithDefaultModel(c.Cfg.DefaultModel),
	)
}

// Close releases resources in reverse order of acquisition.
func (c *Core) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
