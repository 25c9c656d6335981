package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/streamchat/internal/ai"
	"github.com/suPer8Hu/streamchat/internal/settings"
)

func (h *Handler) settingDefault(key string) string {
	switch key {
	case settings.KeyBaseURL:
		return h.Cfg.DefaultBaseURL
	case settings.KeyModel:
		return h.Cfg.DefaultModel
	default:
		return ""
	}
}

func (h *Handler) GetSetting(c *gin.Context) {
	key := c.Param("key")
	v := h.Settings.Get(c.Request.Context(), key, h.settingDefault(key))

	resp := gin.H{"key": key, "value": v}
	if settings.IsSecret(key) {
		resp["value"] = settings.Mask(v)
		resp["configured"] = v != ""
	}
	ok(c, resp)
}

type putSettingReq struct {
	Value *string `json:"value" binding:"required"`
}

func (h *Handler) PutSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" || len(key) > 64 {
		fail(c, http.StatusBadRequest, 10004, "invalid key")
		return
	}

	var req putSettingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if err := h.Settings.Set(c.Request.Context(), key, strings.TrimSpace(*req.Value)); err != nil {
		h.internalError(c, "PutSetting", err, "key", key)
		return
	}
	ok(c, gin.H{"key": key})
}

// ListModels asks the configured provider for its models using the stored
// credential.
func (h *Handler) ListModels(c *gin.Context) {
	ctx := c.Request.Context()
	apiKey := h.Settings.Get(ctx, settings.KeyAPIKey, "")
	if apiKey == "" {
		fail(c, http.StatusBadRequest, 40010, "api key is not configured")
		return
	}
	endpoint := h.Settings.Get(ctx, settings.KeyBaseURL, h.Cfg.DefaultBaseURL)

	models, err := h.Models.List(ctx, endpoint, apiKey)
	if err != nil {
		h.Logger.Warn("list models failed", "endpoint", endpoint, "error", err)
		var oe *ai.OpenError
		if errors.As(err, &oe) && oe.StatusCode == http.StatusUnauthorized {
			fail(c, http.StatusBadGateway, 50202, "provider rejected the api key")
			return
		}
		fail(c, http.StatusBadGateway, 50201, "failed to list provider models")
		return
	}
	ok(c, gin.H{"models": models})
}
