package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries the resolved provider configuration for one stream.
type Request struct {
	Endpoint string
	APIKey   string
	Model    string
	Messages []Message
}

// ChunkStream is a lazy, finite sequence of raw byte chunks.
// Next returns io.EOF once the sequence is exhausted. Any other error is a
// failure reading one chunk; after a terminal failure the stream reports
// io.EOF on the following call.
type ChunkStream interface {
	Next() ([]byte, error)
	Close() error
}

// Transport opens a streaming chat completion.
type Transport interface {
	Open(ctx context.Context, req Request) (ChunkStream, error)
}

const defaultChunkSize = 4 * 1024

// HTTPTransport talks to any OpenAI-compatible /chat/completions endpoint,
// including OpenRouter when SiteURL/AppName are set.
type HTTPTransport struct {
	Client    *http.Client
	SiteURL   string
	AppName   string
	ChunkSize int
}

func NewHTTPTransport(siteURL, appName string) *HTTPTransport {
	// no global timeout; ctx bounds the stream
	return &HTTPTransport{
		Client:    &http.Client{Timeout: 0},
		SiteURL:   siteURL,
		AppName:   appName,
		ChunkSize: defaultChunkSize,
	}
}

type chatCompletionReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

func (t *HTTPTransport) Open(ctx context.Context, r Request) (ChunkStream, error) {
	if t.Client == nil {
		return nil, &OpenError{URL: r.Endpoint, Err: errors.New("http client is nil")}
	}
	url := strings.TrimSpace(r.Endpoint)
	if url == "" {
		return nil, &OpenError{Err: errors.New("endpoint is required")}
	}

	b, err := json.Marshal(chatCompletionReq{
		Model:    r.Model,
		Messages: r.Messages,
		Stream:   true,
	})
	if err != nil {
		return nil, &OpenError{URL: url, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, &OpenError{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+r.APIKey)
	if t.SiteURL != "" {
		req.Header.Set("HTTP-Referer", t.SiteURL)
	}
	if t.AppName != "" {
		req.Header.Set("X-Title", t.AppName)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, &OpenError{URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, &OpenError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	size := t.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	return &bodyStream{body: resp.Body, buf: make([]byte, size)}, nil
}

// bodyStream reads an HTTP body one Read at a time.
type bodyStream struct {
	body    io.ReadCloser
	buf     []byte
	pending error
	ended   bool
}

func (s *bodyStream) Next() ([]byte, error) {
	if s.ended {
		return nil, io.EOF
	}
	if s.pending != nil {
		err := s.pending
		s.pending = nil
		s.ended = true
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &ReadError{Err: err}
	}

	for {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, s.buf[:n])
			if err != nil {
				s.pending = err
			}
			return out, nil
		}
		if err == nil {
			continue
		}
		s.ended = true
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &ReadError{Err: err}
	}
}

func (s *bodyStream) Close() error {
	s.ended = true
	return s.body.Close()
}

// ReadTimeout bounds how long a single chunk read may block.
type ReadTimeout struct {
	Inner   Transport
	Timeout time.Duration
}

func (t ReadTimeout) Open(ctx context.Context, r Request) (ChunkStream, error) {
	if t.Timeout <= 0 {
		return t.Inner.Open(ctx, r)
	}
	ctx, cancel := context.WithCancel(ctx)
	s, err := t.Inner.Open(ctx, r)
	if err != nil {
		cancel()
		return nil, err
	}
	return &idleStream{inner: s, cancel: cancel, timeout: t.Timeout}, nil
}

type idleStream struct {
	inner   ChunkStream
	cancel  context.CancelFunc
	timeout time.Duration
}

func (s *idleStream) Next() ([]byte, error) {
	timer := time.AfterFunc(s.timeout, s.cancel)
	defer timer.Stop()
	return s.inner.Next()
}

func (s *idleStream) Close() error {
	s.cancel()
	return s.inner.Close()
}
