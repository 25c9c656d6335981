package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s ChunkStream) ([]byte, []error) {
	t.Helper()
	var all []byte
	var errs []error
	for i := 0; i < 1000; i++ {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			return all, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all = append(all, c...)
	}
	t.Fatal("stream never reached EOF")
	return nil, nil
}

func TestHTTPTransport_StreamsBody(t *testing.T) {
	var gotReq chatCompletionReq
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotReq)

		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		for _, part := range []string{"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n", "data: [DO", "NE]\n"} {
			_, _ = io.WriteString(w, part)
			f.Flush()
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport("https://example.test", "streamchat")
	s, err := tr.Open(context.Background(), Request{
		Endpoint: srv.URL + "/v1/chat/completions",
		APIKey:   "sk-test",
		Model:    "gpt-test",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	defer s.Close()

	body, errs := drain(t, s)
	assert.Empty(t, errs)
	assert.Equal(t, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\ndata: [DONE]\n", string(body))

	assert.True(t, gotReq.Stream)
	assert.Equal(t, "gpt-test", gotReq.Model)
	assert.Equal(t, []Message{{Role: "user", Content: "hi"}}, gotReq.Messages)
	assert.Equal(t, "Bearer sk-test", gotHeader.Get("Authorization"))
	assert.Equal(t, "text/event-stream", gotHeader.Get("Accept"))
	assert.Equal(t, "https://example.test", gotHeader.Get("HTTP-Referer"))
	assert.Equal(t, "streamchat", gotHeader.Get("X-Title"))
}

func TestHTTPTransport_NonSuccessStatusIsOpenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewHTTPTransport("", "").Open(context.Background(), Request{Endpoint: srv.URL, APIKey: "x"})

	var oe *OpenError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, http.StatusUnauthorized, oe.StatusCode)
	assert.Contains(t, oe.Body, "bad key")
}

func TestHTTPTransport_DialFailureIsOpenError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPTransport("", "").Open(context.Background(), Request{Endpoint: url, APIKey: "x"})

	var oe *OpenError
	require.True(t, errors.As(err, &oe))
	assert.Zero(t, oe.StatusCode)
}

func TestHTTPTransport_EmptyEndpoint(t *testing.T) {
	_, err := NewHTTPTransport("", "").Open(context.Background(), Request{APIKey: "x"})

	var oe *OpenError
	assert.True(t, errors.As(err, &oe))
}

type flakyBody struct {
	reads []string
	err   error
}

func (b *flakyBody) Read(p []byte) (int, error) {
	if len(b.reads) == 0 {
		return 0, b.err
	}
	n := copy(p, b.reads[0])
	b.reads = b.reads[1:]
	if len(b.reads) == 0 {
		return n, b.err
	}
	return n, nil
}

func (b *flakyBody) Close() error { return nil }

func TestBodyStream_ReadFailureIsStickyThenEOF(t *testing.T) {
	boom := errors.New("connection reset")
	s := &bodyStream{body: &flakyBody{reads: []string{"a", "b"}, err: boom}, buf: make([]byte, 8)}

	c, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", string(c))

	// data and error arrive together; data first
	c, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", string(c))

	_, err = s.Next()
	var re *ReadError
	require.True(t, errors.As(err, &re))
	assert.ErrorIs(t, err, boom)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestHTTPTransport_ContextCancelStopsRead(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: [x]\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewHTTPTransport("", "").Open(ctx, Request{Endpoint: srv.URL, APIKey: "x"})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next()
	require.NoError(t, err)

	time.AfterFunc(20*time.Millisecond, cancel)
	done := make(chan struct{})
	go func() {
		for {
			if _, err := s.Next(); errors.Is(err, io.EOF) {
				break
			}
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("read did not stop after cancel")
	}
}

func TestReadTimeout_CancelsIdleRead(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := ReadTimeout{Inner: NewHTTPTransport("", ""), Timeout: 50 * time.Millisecond}
	s, err := tr.Open(context.Background(), Request{Endpoint: srv.URL, APIKey: "x"})
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	_, errs := drain(t, s)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.NotEmpty(t, errs)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.openai.com/v1", BaseURL("https://api.openai.com/v1/chat/completions"))
	assert.Equal(t, "https://openrouter.ai/api/v1", BaseURL(" https://openrouter.ai/api/v1/ "))
	assert.True(t, strings.HasPrefix(BaseURL("http://localhost:8080/v1/chat/completions/"), "http://localhost:8080/v1"))
}
