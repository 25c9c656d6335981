package ai

import (
	"encoding/json"
	"strings"
)

const (
	// DefaultEventPrefix frames every payload line of an OpenAI-style stream.
	DefaultEventPrefix = "data: "
	// DoneSentinel is the payload that terminates the stream.
	DoneSentinel = "[DONE]"
)

// DeltaEvent is one decoded unit of the stream. A final event never carries text.
type DeltaEvent struct {
	Text    string
	IsFinal bool
}

type DecoderState int

const (
	StateStreaming DecoderState = iota
	StateDone
)

func (s DecoderState) String() string {
	if s == StateDone {
		return "done"
	}
	return "streaming"
}

// streamChunk is the subset of a chat.completion.chunk we read. Content is a
// pointer so role-only and finish-only packets can be told apart from text.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Role    string  `json:"role,omitempty"`
			Content *string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Decoder maps complete lines to DeltaEvents for a single stream invocation.
// Once the sentinel has been seen the decoder is DONE and ignores all input.
type Decoder struct {
	// Prefix overrides DefaultEventPrefix for providers with different framing.
	Prefix string

	state DecoderState
}

func NewDecoder() *Decoder {
	return &Decoder{Prefix: DefaultEventPrefix}
}

func (d *Decoder) State() DecoderState { return d.state }

func (d *Decoder) Done() bool { return d.state == StateDone }

// Decode turns one line into zero or one event. The bool reports whether an
// event was produced. A non-nil error is always a *DecodeError describing a
// skipped payload; it is informational and never ends the stream.
func (d *Decoder) Decode(line string) (DeltaEvent, bool, error) {
	if d.state == StateDone {
		return DeltaEvent{}, false, nil
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return DeltaEvent{}, false, nil
	}

	prefix := d.Prefix
	if prefix == "" {
		prefix = DefaultEventPrefix
	}
	// keep-alive comments and other event fields
	if !strings.HasPrefix(line, prefix) {
		return DeltaEvent{}, false, nil
	}
	payload := strings.TrimPrefix(line, prefix)

	if payload == DoneSentinel {
		d.state = StateDone
		return DeltaEvent{IsFinal: true}, true, nil
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return DeltaEvent{}, false, &DecodeError{Payload: payload, Err: err}
	}
	if len(chunk.Choices) == 0 {
		return DeltaEvent{}, false, nil
	}
	content := chunk.Choices[0].Delta.Content
	if content == nil {
		return DeltaEvent{}, false, nil
	}
	return DeltaEvent{Text: *content}, true, nil
}
