// Package streaming writes assistant stream events to clients over SSE and WebSocket.
package streaming

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/dinescout/internal/stream"
)

// Sink receives encoded stream events. Implementations need not be safe for concurrent
// use; Pump serializes calls.
type Sink interface {
	Send(ev stream.Event) error
}

// bufferPool provides reusable frame buffers to reduce GC pressure.
var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// encodeData returns the JSON payload of ev. Events without data encode as {}.
func encodeData(ev stream.Event) ([]byte, error) {
	data := ev.Data
	if data == nil {
		data = stream.Empty{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Name, err)
	}
	return payload, nil
}

// SSEWriter writes events as Server-Sent Events frames.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the event-stream headers on w and sends them.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send writes one "event: <name>\ndata: <json>\n\n" frame and flushes it.
func (s *SSEWriter) Send(ev stream.Event) error {
	payload, err := encodeData(ev)
	if err != nil {
		return err
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	buf.WriteString("event: ")
	buf.WriteString(string(ev.Name))
	buf.WriteString("\ndata: ")
	buf.Write(payload)
	buf.WriteString("\n\n")

	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Name, err)
	}
	s.flusher.Flush()
	return nil
}
