package streaming

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/dinescout/internal/stream"
	"github.com/blueberrycongee/dinescout/pkg/errors"
	"github.com/blueberrycongee/dinescout/pkg/types"
)

func TestSSEWriter_Headers(t *testing.T) {
	rec := httptest.NewRecorder()
	_, err := NewSSEWriter(rec)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, rec.Flushed)
}

func TestSSEWriter_Framing(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, w.Send(stream.Meta("req-1", "en", started)))
	require.NoError(t, w.Send(stream.Delta("Hi")))
	require.NoError(t, w.Send(stream.Message(stream.MessageData{Type: types.MessageClarify, Message: "Where?", Question: "City?", BlocksSearch: true, Language: "en"})))
	require.NoError(t, w.Send(stream.Ping()))
	require.NoError(t, w.Send(stream.Done()))

	want := "event: meta\ndata: {\"requestId\":\"req-1\",\"language\":\"en\",\"startedAt\":\"2026-01-02T03:04:05Z\"}\n\n" +
		"event: delta\ndata: {\"text\":\"Hi\"}\n\n" +
		"event: message\ndata: {\"type\":\"CLARIFY\",\"message\":\"Where?\",\"question\":\"City?\",\"blocksSearch\":true,\"language\":\"en\"}\n\n" +
		"event: ping\ndata: {}\n\n" +
		"event: done\ndata: {}\n\n"
	assert.Equal(t, want, rec.Body.String())
}

func TestSSEWriter_ErrorEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Send(stream.Error(&errors.StreamError{Code: errors.CodeLLMTimeout, Message: "Assistant timed out"})))
	assert.Equal(t, "event: error\ndata: {\"code\":\"LLM_TIMEOUT\",\"message\":\"Assistant timed out\"}\n\n", rec.Body.String())
}

func TestSSEWriter_NilDataIsEmptyObject(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Send(stream.Event{Name: stream.EventPing}))
	assert.Equal(t, "event: ping\ndata: {}\n\n", rec.Body.String())
}

type noFlushWriter struct {
	http.ResponseWriter
}

func TestSSEWriter_RequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(noFlushWriter{httptest.NewRecorder()})
	assert.Error(t, err)
}
