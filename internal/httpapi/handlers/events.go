package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/streamchat/internal/chat"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// sessionExists writes the failure response and reports false when the
// session cannot be streamed.
func (h *Handler) sessionExists(c *gin.Context, sessionID string) bool {
	if _, err := h.ChatSvc.GetSession(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, 40004, "session not found")
			return false
		}
		h.internalError(c, "sessionExists", err, "session_id", sessionID)
		return false
	}
	return true
}

// ChatEventsSSE streams every notification of a session until the client
// disconnects.
func (h *Handler) ChatEventsSSE(c *gin.Context) {
	sessionID := c.Param("session_id")
	if !h.sessionExists(c, sessionID) {
		return
	}

	sub := h.Hub.Subscribe(sessionID)
	defer sub.Close()

	sse, okk := startSSE(c)
	if !okk {
		fail(c, http.StatusInternalServerError, 50003, "streaming unsupported")
		return
	}

	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case ev := <-sub.C:
			if err := sse.send(string(ev.Type), ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := sse.ping(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// ChatEventsWS pushes the same notifications over a WebSocket as JSON frames.
func (h *Handler) ChatEventsWS(c *gin.Context) {
	sessionID := c.Param("session_id")
	if !h.sessionExists(c, sessionID) {
		return
	}

	// subscribe before the handshake completes so no event is missed
	sub := h.Hub.Subscribe(sessionID)
	defer sub.Close()

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		h.Logger.Warn("websocket accept failed", "session_id", sessionID, "error", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "")

	// clients only listen; reading handles pings and closes
	ctx := ws.CloseRead(c.Request.Context())
	h.Logger.Debug("websocket subscriber connected", "session_id", sessionID)

	for {
		select {
		case ev := <-sub.C:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, ws, ev)
			cancel()
			if err != nil {
				h.Logger.Debug("websocket write failed", "session_id", sessionID, "error", err)
				return
			}
		case <-ctx.Done():
			ws.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}
