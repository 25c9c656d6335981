package ai

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is wrapped by OpenError when the breaker refuses a request.
var ErrCircuitOpen = errors.New("provider circuit open")

// OpenError reports a failure before any stream bytes were received:
// dial, handshake, or a non-2xx status.
type OpenError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *OpenError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("open stream %s: status %d: %s", e.URL, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("open stream %s: status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("open stream %s: %v", e.URL, e.Err)
	}
}

func (e *OpenError) Unwrap() error { return e.Err }

// ReadError reports a mid-stream failure reading one chunk.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string { return "read stream chunk: " + e.Err.Error() }

func (e *ReadError) Unwrap() error { return e.Err }

// DecodeError describes a data line whose payload could not be parsed.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	p := e.Payload
	if len(p) > 64 {
		p = p[:64] + "..."
	}
	return fmt.Sprintf("decode delta %q: %v", p, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
