package assistant

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/goccy/go-json"
)

const (
	// DefaultBufferSize is the default size for SSE line buffers.
	DefaultBufferSize = 4096
	// maxLineSize bounds a single upstream SSE line.
	maxLineSize = 1 << 20

	// SSEDataPrefix is the prefix for SSE data lines.
	SSEDataPrefix = "data: "

	// SSEDone is the marker for stream completion.
	SSEDone = "[DONE]"
)

// bufferPool provides reusable byte buffers to reduce GC pressure.
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, DefaultBufferSize)
		return &buf
	},
}

// Chunk is the text carried by one upstream stream line.
type Chunk struct {
	Text         string
	FinishReason string
	Done         bool
}

// ChunkParser parses one line of a provider's streaming response.
// It returns nil, nil for keep-alive or non-content lines.
type ChunkParser interface {
	ParseChunk(line []byte) (*Chunk, error)
}

// OpenAIParser parses OpenAI-compatible chat completion streams.
// Format: data: {"choices":[{"delta":{"content":"..."}}]}\n\n
type OpenAIParser struct{}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ParseChunk implements ChunkParser.
func (p *OpenAIParser) ParseChunk(line []byte) (*Chunk, error) {
	data, ok := dataPayload(line)
	if !ok {
		return nil, nil
	}
	if bytes.Equal(data, []byte(SSEDone)) {
		return &Chunk{Done: true}, nil
	}

	var raw openAIChunk
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal openai chunk: %w", err)
	}
	if raw.Error != nil {
		return nil, fmt.Errorf("upstream error: %s", raw.Error.Message)
	}
	if len(raw.Choices) == 0 {
		return nil, nil
	}

	choice := raw.Choices[0]
	chunk := &Chunk{Text: choice.Delta.Content}
	if choice.FinishReason != nil {
		chunk.FinishReason = *choice.FinishReason
	}
	return chunk, nil
}

// AnthropicParser parses Anthropic message streams.
// Format: event: content_block_delta\ndata: {"type":"content_block_delta",...}\n\n
type AnthropicParser struct{}

// ParseChunk implements ChunkParser.
func (p *AnthropicParser) ParseChunk(line []byte) (*Chunk, error) {
	data, ok := dataPayload(line)
	if !ok {
		return nil, nil
	}

	var event struct {
		Type  string `json:"type"`
		Delta struct {
			Type       string `json:"type"`
			Text       string `json:"text"`
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, nil // Skip unparseable events
	}

	switch event.Type {
	case "content_block_delta":
		if event.Delta.Type != "text_delta" {
			return nil, nil
		}
		return &Chunk{Text: event.Delta.Text}, nil
	case "message_delta":
		if event.Delta.StopReason == "" {
			return nil, nil
		}
		return &Chunk{FinishReason: mapAnthropicStopReason(event.Delta.StopReason)}, nil
	case "message_stop":
		return &Chunk{Done: true}, nil
	case "error":
		return nil, fmt.Errorf("upstream error: %s", event.Error.Message)
	default:
		return nil, nil
	}
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

// GetParser returns the parser for a provider's wire format.
func GetParser(providerName string) ChunkParser {
	switch providerName {
	case "anthropic":
		return &AnthropicParser{}
	default:
		return &OpenAIParser{} // Default to OpenAI format
	}
}

// dataPayload strips the SSE "data:" prefix. Blank, comment and event lines are skipped.
func dataPayload(line []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] == ':' || bytes.HasPrefix(trimmed, []byte("event:")) {
		return nil, false
	}
	if bytes.HasPrefix(trimmed, []byte("data:")) {
		trimmed = bytes.TrimSpace(bytes.TrimPrefix(trimmed, []byte("data:")))
	}
	return trimmed, len(trimmed) > 0
}

// ReadChunks yields the text chunks of an upstream SSE body until the done marker, EOF,
// an error, or ctx is cancelled. Parse errors end the sequence.
func ReadChunks(ctx context.Context, body io.Reader, parser ChunkParser) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		scanner := bufio.NewScanner(body)
		buf := bufferPool.Get().(*[]byte)
		defer bufferPool.Put(buf)
		scanner.Buffer(*buf, maxLineSize)

		for scanner.Scan() {
			// Check for client disconnect
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			chunk, err := parser.ParseChunk(scanner.Bytes())
			if err != nil {
				yield("", err)
				return
			}
			if chunk == nil {
				continue
			}
			if chunk.Text != "" && !yield(chunk.Text, nil) {
				return
			}
			if chunk.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			yield("", fmt.Errorf("read stream: %w", err))
		}
	}
}
