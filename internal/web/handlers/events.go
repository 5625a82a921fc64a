package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kozaktomas/facelink/internal/logging"
	"github.com/kozaktomas/facelink/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// eventSnapshot is the first message on every connection.
	eventSnapshot = "snapshot"
)

// EventsHandler streams session events over a websocket.
type EventsHandler struct {
	orch     *session.Orchestrator
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler creates a new events handler. checkOrigin decides which
// browser origins may connect; requests without an Origin header are always
// accepted.
func NewEventsHandler(orch *session.Orchestrator, checkOrigin func(origin string) bool, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		orch: orch,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || checkOrigin == nil || checkOrigin(origin)
			},
		},
		logger: logging.OrDiscard(logger),
	}
}

// Stream upgrades the connection and forwards every session event until the
// client disconnects or the session closes.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.orch.Subscribe()
	defer unsubscribe()

	h.logger.Debug("event listener connected", "remote", r.RemoteAddr)

	// The read loop only services control frames and notices disconnects.
	done := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snap := h.orch.Snapshot()
	if err := h.write(conn, session.Event{Type: eventSnapshot, Data: &snap}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			h.logger.Debug("event listener disconnected", "remote", r.RemoteAddr)
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if err := h.write(conn, event); err != nil {
				h.logger.Debug("event write failed", "error", err)
				return
			}
		}
	}
}

func (h *EventsHandler) write(conn *websocket.Conn, event session.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}
