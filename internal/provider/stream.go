package provider

import (
	"bytes"
	"encoding/json"
)

// StreamUsage is what a scanner has learned so far from an SSE stream.
// Either side may be unobserved when a provider truncates the stream or
// omits usage reporting.
type StreamUsage struct {
	InputTokens  int64
	OutputTokens int64
	InputSeen    bool
	OutputSeen   bool
	// OutputChars counts visible generated text, for the token heuristic
	// when the stream closes without usage.
	OutputChars int64
}

// UsageScanner consumes the raw bytes of a streaming response as they are
// forwarded to the caller, extracting usage without altering the stream.
// Feed is called with the exact chunks written downstream; malformed or
// partial events are skipped, never fatal.
type UsageScanner interface {
	Feed(p []byte)
	Usage() StreamUsage
}

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// sseLineBuffer reassembles SSE data lines from arbitrary byte chunks.
// Chunk boundaries fall wherever the upstream flushed, so a JSON event
// routinely spans several Feed calls.
type sseLineBuffer struct {
	buf bytes.Buffer
}

// feed appends a chunk and invokes fn once per complete "data:" payload.
func (b *sseLineBuffer) feed(p []byte, fn func(data []byte)) {
	b.buf.Write(p)
	for {
		raw := b.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			return
		}
		line := raw[:idx]
		b.buf.Next(idx + 1)

		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		data := bytes.TrimSpace(line[len(dataPrefix):])
		if len(data) == 0 || bytes.Equal(data, doneMarker) {
			continue
		}
		fn(data)
	}
}

// openAIScanner reads chat-completions SSE chunks. Usage arrives in a
// single terminal chunk (present when the caller requested
// stream_options.include_usage, absent otherwise); content deltas are
// counted for the fallback heuristic either way.
type openAIScanner struct {
	lines sseLineBuffer
	usage StreamUsage
}

func newOpenAIScanner() *openAIScanner {
	return &openAIScanner{}
}

type openAIChunk struct {
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (s *openAIScanner) Feed(p []byte) {
	s.lines.feed(p, func(data []byte) {
		var chunk openAIChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return
		}
		for _, choice := range chunk.Choices {
			s.usage.OutputChars += int64(len(choice.Delta.Content))
		}
		if chunk.Usage != nil {
			s.usage.InputTokens = chunk.Usage.PromptTokens
			s.usage.OutputTokens = chunk.Usage.CompletionTokens
			s.usage.InputSeen = true
			s.usage.OutputSeen = true
		}
	})
}

func (s *openAIScanner) Usage() StreamUsage {
	return s.usage
}

// anthropicScanner reads messages-API SSE events. Input tokens arrive in
// the message_start event, the final output count in message_delta, and
// text deltas in content_block_delta events.
type anthropicScanner struct {
	lines sseLineBuffer
	usage StreamUsage
}

func newAnthropicScanner() *anthropicScanner {
	return &anthropicScanner{}
}

type anthropicEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage *struct {
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Delta *struct {
		Text string `json:"text"`
	} `json:"delta"`
}

func (s *anthropicScanner) Feed(p []byte) {
	s.lines.feed(p, func(data []byte) {
		var event anthropicEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return
		}
		switch event.Type {
		case "message_start":
			if event.Message != nil {
				s.usage.InputTokens = event.Message.Usage.InputTokens
				s.usage.InputSeen = true
				// message_start also carries a small initial output
				// count, superseded by message_delta when it arrives.
				if event.Message.Usage.OutputTokens > 0 {
					s.usage.OutputTokens = event.Message.Usage.OutputTokens
					s.usage.OutputSeen = true
				}
			}
		case "message_delta":
			if event.Usage != nil {
				s.usage.OutputTokens = event.Usage.OutputTokens
				s.usage.OutputSeen = true
			}
		case "content_block_delta":
			if event.Delta != nil {
				s.usage.OutputChars += int64(len(event.Delta.Text))
			}
		}
	})
}

func (s *anthropicScanner) Usage() StreamUsage {
	return s.usage
}
