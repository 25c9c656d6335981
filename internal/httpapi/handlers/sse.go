package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type sseWriter struct {
	w       gin.ResponseWriter
	flusher http.Flusher
}

// startSSE writes the event-stream headers. It reports false when the
// response cannot be flushed incrementally.
func startSSE(c *gin.Context) (*sseWriter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx

	// avoid gin writing a JSON response later
	c.Status(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: c.Writer, flusher: flusher}, true
}

func (s *sseWriter) send(event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		// last-resort: send a simple error that won't break SSE framing
		_, _ = fmt.Fprintf(s.w, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
		s.flusher.Flush()
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
