package api //nolint:revive // package name is intentional

import (
	"context"
	"net/http"

	"github.com/blueberrycongee/dinescout/internal/observability"
	"github.com/blueberrycongee/dinescout/internal/stream"
	"github.com/blueberrycongee/dinescout/internal/streaming"
	apierrors "github.com/blueberrycongee/dinescout/pkg/errors"
)

func (h *Handler) streamRequest(r *http.Request, id string) stream.Request {
	return stream.Request{
		RequestID:  id,
		Principal:  principalFromRequest(r),
		UILanguage: uiLanguage(r),
	}
}

// StreamAssistant handles GET /api/v1/search/{requestId}/assistant as Server-Sent Events.
// Authorization failures are reported in-stream as an error event.
func (h *Handler) StreamAssistant(w http.ResponseWriter, r *http.Request) {
	id, ok := observability.SanitizeID(r.PathValue("requestId"))
	if !ok {
		h.writeError(w, apierrors.NewInvalidRequestError("invalid request id"))
		return
	}

	sse, err := streaming.NewSSEWriter(w)
	if err != nil {
		h.logger.Error("streaming not supported", "error", err)
		h.writeError(w, apierrors.NewInternalError("streaming not supported"))
		return
	}

	ctx := r.Context()
	events := h.streams.Stream(ctx, h.streamRequest(r, id))
	if err := streaming.Pump(ctx, events, sse, h.streams.KeepAliveInterval()); err != nil {
		h.logger.Debug("sse client went away", "request_id", id, "error", err)
	}
}

// StreamAssistantWS handles GET /api/v1/search/{requestId}/assistant/ws. Each event is
// one JSON text message; the server closes the connection after the last event.
func (h *Handler) StreamAssistantWS(w http.ResponseWriter, r *http.Request) {
	id, ok := observability.SanitizeID(r.PathValue("requestId"))
	if !ok {
		h.writeError(w, apierrors.NewInvalidRequestError("invalid request id"))
		return
	}
	req := h.streamRequest(r, id)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered.
		h.logger.Debug("websocket upgrade failed", "request_id", id, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go streaming.WatchClose(conn, cancel, h.logger)

	sink := streaming.NewWSSink(conn)
	defer sink.Close()

	if err := streaming.Pump(ctx, h.streams.Stream(ctx, req), sink, h.streams.KeepAliveInterval()); err != nil {
		h.logger.Debug("websocket client went away", "request_id", id, "error", err)
	}
}
