package door

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Sensor gateways connect without an Origin header
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Message is one door report sent over the WebSocket.
type Message struct {
	ID     string `json:"id"`
	Closed *bool  `json:"closed"`
}

// Reply answers a Message.
type Reply struct {
	ID string `json:"id,omitempty"`
	Result
}

// HandleWebSocket keeps a long-lived connection open for a sensor gateway.
// Every text frame is a Message and gets exactly one Reply.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("remote", r.RemoteAddr))
	log.Info("door gateway connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Replies and pings share the connection; gorilla allows one writer.
	writes := make(chan Reply, 16)
	pings := time.NewTicker(config.WSPingInterval)
	defer pings.Stop()
	go h.writeLoop(ctx, conn, writes, pings.C, log)

	conn.SetReadLimit(config.WSMaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("door gateway read error", zap.Error(err))
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		if msgType != websocket.TextMessage {
			continue
		}

		reply := h.handleMessage(ctx, data)
		select {
		case writes <- reply:
		case <-ctx.Done():
			return
		}
	}
	log.Info("door gateway disconnected")
}

func (h *Handler) handleMessage(ctx context.Context, data []byte) Reply {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Reply{Result: Result{Message: "invalid message: " + err.Error()}}
	}
	msg.ID = strings.TrimSpace(msg.ID)
	if msg.ID == "" || msg.Closed == nil {
		return Reply{ID: msg.ID, Result: Result{Message: "id and closed are required"}}
	}

	ctx, cancel := context.WithTimeout(ctx, config.RecordTimeout)
	defer cancel()

	res, err := h.rec.Record(ctx, msg.ID, *msg.Closed)
	if err != nil {
		h.logger.Error("failed to record door event", zap.String("entity", msg.ID), zap.Error(err))
		return Reply{ID: msg.ID, Result: Result{Message: "failed to record door event"}}
	}
	return Reply{ID: msg.ID, Result: res}
}

// gatewayConn is the write side of a gateway connection.
type gatewayConn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// writeLoop owns every write on conn. Any write failure closes conn so the
// read loop in HandleWebSocket unblocks and the handler returns.
func (h *Handler) writeLoop(ctx context.Context, conn gatewayConn, writes <-chan Reply, pings <-chan time.Time, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case reply := <-writes:
			conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := conn.WriteJSON(reply); err != nil {
				log.Warn("door gateway write error", zap.Error(err))
				conn.Close()
				return
			}
		case <-pings:
			conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn("door gateway ping failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}
