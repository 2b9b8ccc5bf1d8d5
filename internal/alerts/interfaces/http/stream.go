package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	alertevents "hydroponics-cloud/internal/alerts/application/events"
	"hydroponics-cloud/internal/auth"
	"hydroponics-cloud/internal/eventing"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	clientBuf  = 16
)

// StreamMessage is one websocket frame.
type StreamMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type streamClient struct {
	userID  string
	groupID string
	send    chan []byte
}

// Broker fans out alert events to the websocket clients of a group.
type Broker struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

// NewBroker constructs a broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[*streamClient]struct{})}
}

// Register subscribes the broker to alert events.
func (b *Broker) Register(bus eventing.Bus) []eventing.Unsubscribe {
	return []eventing.Unsubscribe{
		eventing.SubscribeTyped(bus, func(_ context.Context, evt alertevents.AlertRaised) error {
			b.broadcast(evt.UserID, evt.GroupID, StreamMessage{Type: "alert_raised", Payload: evt})
			return nil
		}),
		eventing.SubscribeTyped(bus, func(_ context.Context, evt alertevents.AlertCleared) error {
			b.broadcast(evt.UserID, evt.GroupID, StreamMessage{Type: "alert_cleared", Payload: evt})
			return nil
		}),
	}
}

// Clients returns the number of connected clients.
func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broker) subscribe(userID, groupID string) *streamClient {
	client := &streamClient{userID: userID, groupID: groupID, send: make(chan []byte, clientBuf)}
	b.mu.Lock()
	b.clients[client] = struct{}{}
	b.mu.Unlock()
	return client
}

func (b *Broker) unsubscribe(client *streamClient) {
	b.mu.Lock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client.send)
	}
	b.mu.Unlock()
}

// broadcast drops frames for clients whose buffer is full.
func (b *Broker) broadcast(userID, groupID string, msg StreamMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients {
		if client.userID != userID || client.groupID != groupID {
			continue
		}
		select {
		case client.send <- payload:
		default:
		}
	}
}

// StreamHandler serves the alert websocket of a group.
type StreamHandler struct {
	broker   *Broker
	alerts   AlertReader
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamHandler constructs a stream handler. An empty origin list accepts any origin.
func NewStreamHandler(broker *Broker, alerts AlertReader, allowedOrigins []string, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origins[origin] = struct{}{}
	}
	return &StreamHandler{
		broker: broker,
		alerts: alerts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
		logger: logger,
	}
}

// ServeHTTP handles GET /api/v1/groups/{groupId}/alerts/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	groupID := mux.Vars(r)["groupId"]
	if userID == "" || groupID == "" {
		http.Error(w, "missing user or group", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := h.broker.subscribe(userID, groupID)
	logger := h.logger.With(zap.String("user_id", userID), zap.String("group_id", groupID))
	logger.Debug("alert stream connected")

	if h.alerts != nil {
		if current, err := h.alerts.ActiveAlerts(r.Context(), userID, groupID); err == nil {
			if payload, err := json.Marshal(StreamMessage{Type: "snapshot", Payload: current}); err == nil {
				client.send <- payload
			}
		}
	}

	go h.readPump(conn, client)
	h.writePump(conn, client)
	logger.Debug("alert stream closed")
}

// readPump discards client frames and unsubscribes when the peer goes away.
func (h *StreamHandler) readPump(conn *websocket.Conn, client *streamClient) {
	defer h.broker.unsubscribe(client)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *StreamHandler) writePump(conn *websocket.Conn, client *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case payload, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.broker.unsubscribe(client)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.broker.unsubscribe(client)
				return
			}
		}
	}
}
