package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/streamchat/internal/chat"
)

type createSessionReq struct {
	Title string `json:"title"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), req.Title)
	if err != nil {
		h.internalError(c, "CreateChatSession", err)
		return
	}
	ok(c, sess)
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	sessions, err := h.ChatSvc.ListSessions(c.Request.Context())
	if err != nil {
		h.internalError(c, "ListChatSessions", err)
		return
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	ok(c, gin.H{"sessions": sessions})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	sessionID := c.Param("session_id")

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		h.internalError(c, "ListChatMessages", err, "session_id", sessionID)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	ok(c, gin.H{"messages": msgs})
}

func (h *Handler) ClearChatMessages(c *gin.Context) {
	n, err := h.ChatSvc.ClearHistory(c.Request.Context())
	if err != nil {
		h.internalError(c, "ClearChatMessages", err)
		return
	}
	ok(c, gin.H{"deleted": n})
}

type sendMessageReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

// sendFailed maps a rejected prompt to a response. It reports false when err
// is not a known rejection.
func sendFailed(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		fail(c, http.StatusNotFound, 40004, "session not found")
	case errors.Is(err, chat.ErrEmptyPrompt):
		fail(c, http.StatusBadRequest, 10002, "message is empty")
	default:
		return false
	}
	return true
}

// SendChatMessage stores the prompt and returns at once. The reply is
// delivered through the session's event channel.
func (h *Handler) SendChatMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	msg, _, err := h.ChatSvc.SendUserMessage(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		if !sendFailed(c, err) {
			h.internalError(c, "SendChatMessage", err, "session_id", req.SessionID)
		}
		return
	}

	ok(c, gin.H{"message": msg})
}

// SendChatMessageStream stores the prompt and answers with the event stream
// of this one reply.
func (h *Handler) SendChatMessageStream(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	// subscribe before starting so no delta is missed
	sub := h.Hub.Subscribe(req.SessionID)
	defer sub.Close()

	ctx := c.Request.Context()
	msg, task, err := h.ChatSvc.SendUserMessage(ctx, req.SessionID, req.Message)
	if err != nil {
		if !sendFailed(c, err) {
			h.internalError(c, "SendChatMessageStream", err, "session_id", req.SessionID)
		}
		return
	}

	sse, okk := startSSE(c)
	if !okk {
		task.Cancel()
		fail(c, http.StatusInternalServerError, 50003, "streaming unsupported")
		return
	}
	_ = sse.send("ack", gin.H{"message": msg})

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()

	taskDone := task.Done()
	for {
		select {
		case ev := <-sub.C:
			if err := sse.send(string(ev.Type), ev); err != nil {
				task.Cancel()
				return
			}
			if ev.Terminal() {
				return
			}

		case <-taskDone:
			if err := task.Err(); err != nil {
				_ = sse.send("error", gin.H{"type": "error", "message": err.Error()})
				return
			}
			// every event is buffered by now; keep draining until terminal
			taskDone = nil

		case <-ticker.C:
			if err := sse.ping(); err != nil {
				task.Cancel()
				return
			}

		case <-ctx.Done():
			// subscriber gone; stop reading from the provider
			task.Cancel()
			return
		}
	}
}

func (h *Handler) SendChatMessageAsync(c *gin.Context) {
	if !h.ChatSvc.QueueEnabled() {
		fail(c, http.StatusServiceUnavailable, 50301, "job queue disabled")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	// read idempotency key
	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	job, created, err := h.ChatSvc.EnqueueUserMessage(c.Request.Context(), req.SessionID, req.Message, idempoKey)
	if err != nil {
		if sendFailed(c, err) {
			return
		}
		h.internalError(c, "SendChatMessageAsync", err, "session_id", req.SessionID)
		return
	}

	ok(c, gin.H{"job_id": job.ID, "created": created})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	jobID := c.Param("job_id")

	j, err := h.ChatSvc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, chat.ErrJobNotFound) {
			fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		h.internalError(c, "GetChatJob", err, "job_id", jobID)
		return
	}

	ok(c, gin.H{"job": j})
}
