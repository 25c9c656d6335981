package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/streamchat/internal/common"
	"github.com/suPer8Hu/streamchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/streamchat/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret))

	// Chat
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	authGroup.GET("/chat/sessions/:session_id/events", h.ChatEventsSSE)
	authGroup.GET("/chat/sessions/:session_id/ws", h.ChatEventsWS)
	authGroup.DELETE("/chat/messages", h.ClearChatMessages)
	authGroup.POST("/chat/messages", h.SendChatMessage)
	authGroup.POST("/chat/messages/stream", h.SendChatMessageStream)
	authGroup.POST("/chat/messages/async", h.SendChatMessageAsync)
	authGroup.GET("/chat/jobs/:job_id", h.GetChatJob)

	// Settings
	authGroup.GET("/settings/:key", h.GetSetting)
	authGroup.PUT("/settings/:key", h.PutSetting)
	authGroup.GET("/models", h.ListModels)
	return r
}
