package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/roman-kulish/rocket-telemetry/internal/history"
	"github.com/roman-kulish/rocket-telemetry/internal/session"
)

// WebSocket message types
const (
	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeState     = "state"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
	MsgTypeHistory   = "history"

	// Client -> Server messages
	MsgTypePing = "ping"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// WSMessage is the envelope of every websocket message. Session events use
// the event name as Type.
type WSMessage struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorPayload carries the error of connection_lost and log_write_failed.
type ErrorPayload struct {
	Error string `json:"error"`
}

type client struct {
	conn *websocket.Conn
	send chan WSMessage
}

// Hub fans session events out to every connected websocket client. A client
// that cannot keep up is dropped rather than slowing the others down.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// Broadcast queues msg for every client.
func (h *Hub) Broadcast(msg WSMessage) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for cl := range h.clients {
		select {
		case cl.send <- msg:
		default:
			h.logger.Warn("dropping slow websocket client", slog.String("remote", cl.conn.RemoteAddr().String()))
			h.removeLocked(cl)
		}
	}
}

// Forward broadcasts session events until ctx is done or events is closed.
// Lifecycle events are followed by a state message built from status.
func (h *Hub) Forward(ctx context.Context, events <-chan session.Event, status func() session.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(eventMessage(ev))

			if ev.Type != session.EventSampleDecoded {
				h.Broadcast(WSMessage{Type: MsgTypeState, Payload: newStateResponse(status())})
			}
		}
	}
}

// PublishHistory broadcasts the rolling history every interval until ctx is
// done. Ticks with no clients, or with nothing new since the last broadcast,
// are skipped.
func (h *Hub) PublishHistory(ctx context.Context, interval time.Duration, snapshot func() history.Snapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastLen int
	var lastTime time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if h.Clients() == 0 {
			continue
		}

		snap := snapshot()
		n := snap.Len()
		if n == 0 {
			continue
		}
		if n == lastLen && snap.Times[n-1].Equal(lastTime) {
			continue
		}
		lastLen, lastTime = n, snap.Times[n-1]

		h.Broadcast(WSMessage{Type: MsgTypeHistory, Payload: newHistoryResponse(snap)})
	}
}

// HandleWebSocket upgrades the request and streams messages to the client
// until it disconnects.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	cl := &client{conn: ws, send: make(chan WSMessage, clientBuffer)}
	cl.send <- WSMessage{Type: MsgTypeConnected, Timestamp: time.Now().UnixMilli()}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", slog.String("remote", ws.RemoteAddr().String()))

	go h.writePump(cl)
	h.readPump(cl)

	h.remove(cl)
	h.logger.Debug("websocket client disconnected", slog.String("remote", ws.RemoteAddr().String()))
	return nil
}

func (h *Hub) readPump(cl *client) {
	for {
		var msg WSMessage
		if err := cl.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}

		reply := WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()}
		if msg.Type != MsgTypePing {
			reply = WSMessage{
				Type:      MsgTypeError,
				Payload:   ErrorPayload{Error: "unknown message type: " + msg.Type},
				Timestamp: time.Now().UnixMilli(),
			}
		}

		h.mu.Lock()
		if _, ok := h.clients[cl]; ok {
			select {
			case cl.send <- reply:
			default:
			}
		}
		h.mu.Unlock()
	}
}

func (h *Hub) writePump(cl *client) {
	defer cl.conn.Close()

	for msg := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cl.conn.WriteJSON(msg); err != nil {
			h.logger.Debug("websocket write failed", slog.String("error", err.Error()))
			h.remove(cl)
			return
		}
	}

	_ = cl.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(cl)
}

func (h *Hub) removeLocked(cl *client) {
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
}

func eventMessage(ev session.Event) WSMessage {
	msg := WSMessage{Type: ev.Type.String(), Timestamp: time.Now().UnixMilli()}

	switch {
	case ev.Type == session.EventSampleDecoded:
		msg.Payload = ev.Sample
	case ev.Err != nil:
		msg.Payload = ErrorPayload{Error: ev.Err.Error()}
	}
	return msg
}
