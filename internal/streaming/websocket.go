package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/blueberrycongee/dinescout/internal/stream"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 512
)

// NewUpgrader returns a WebSocket upgrader accepting the given origins. An empty list, or
// "*", accepts every origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}
}

// wsFrame is the WebSocket message of one event.
type wsFrame struct {
	Event stream.EventName `json:"event"`
	Data  json.RawMessage  `json:"data"`
}

// WSSink writes events as JSON text messages.
type WSSink struct {
	conn *websocket.Conn
}

// NewWSSink wraps an upgraded connection.
func NewWSSink(conn *websocket.Conn) *WSSink {
	return &WSSink{conn: conn}
}

// Send writes ev as {"event": <name>, "data": <payload>}.
func (s *WSSink) Send(ev stream.Event) error {
	payload, err := encodeData(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(wsFrame{Event: ev.Name, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", ev.Name, err)
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", ev.Name, err)
	}
	return nil
}

// Close sends a normal close frame and closes the connection.
func (s *WSSink) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// WatchClose reads from conn until the peer goes away, then calls cancel. Clients are not
// expected to send anything; incoming messages are discarded.
func WatchClose(conn *websocket.Conn, cancel context.CancelFunc, logger *slog.Logger) {
	defer cancel()
	if logger == nil {
		logger = slog.Default()
	}

	conn.SetReadLimit(wsReadLimit)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket read failed", "error", err)
			}
			return
		}
	}
}
