package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/streamchat/internal/ai"
	"github.com/suPer8Hu/streamchat/internal/chat"
	"github.com/suPer8Hu/streamchat/internal/common"
	"github.com/suPer8Hu/streamchat/internal/config"
	"github.com/suPer8Hu/streamchat/internal/notify"
	"github.com/suPer8Hu/streamchat/internal/settings"
)

type Handler struct {
	Cfg      config.Config
	ChatSvc  *chat.Service
	Settings *settings.Store
	Hub      *notify.Hub
	Models   *ai.ModelCatalog
	Logger   *slog.Logger

	// PingInterval spaces SSE keep-alive comments.
	PingInterval time.Duration
}

func NewHandler(cfg config.Config, svc *chat.Service, st *settings.Store, hub *notify.Hub, models *ai.ModelCatalog, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Cfg:          cfg,
		ChatSvc:      svc,
		Settings:     st,
		Hub:          hub,
		Models:       models,
		Logger:       logger,
		PingInterval: 15 * time.Second,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true, "time": time.Now().Unix()})
}

func ok(c *gin.Context, data any) { common.OK(c, data) }

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	common.Fail(c, httpStatus, code, msg)
}

func (h *Handler) internalError(c *gin.Context, where string, err error, attrs ...any) {
	args := append([]any{"handler", where, "request_id", c.GetString("request_id"), "error", err}, attrs...)
	h.Logger.Error("request failed", args...)
	fail(c, http.StatusInternalServerError, 50001, "internal error")
}
