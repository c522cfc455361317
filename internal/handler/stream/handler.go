package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/botdialog/internal/handler/chat"
	chatmodel "github.com/zhouzirui/botdialog/internal/model/chat"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
	maxFrameSize = 64 << 10
)

// Outbound frame types.
const (
	frameConnected = "connected"
	frameQueued    = "queued"
	frameReply     = "reply"
	frameError     = "error"
)

// Handler serves a WebSocket per (user, bot) session: inbound text frames are
// routed to the session and its replies are pushed back as they are recorded.
// The same replies are also available as a read-only event stream.
type Handler struct {
	router    chat.Router
	hub       *Hub
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	logger    *slog.Logger
}

// New creates the WebSocket handler.
func New(router chat.Router, hub *Hub) *Handler {
	return &Handler{
		router: router,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		heartbeat: heartbeatInterval,
		logger:    slog.Default().With("component", "handler.stream"),
	}
}

// RegisterRoutes mounts the WebSocket and event stream endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
	r.Get("/stream", h.handleEvents)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage is the payload of an inbound "message" frame.
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connection serializes writes; gorilla allows one concurrent writer.
type connection struct {
	conn    *websocket.Conn
	key     chatmodel.SessionKey
	writeMu sync.Mutex
}

func (c *connection) send(msg outgoingMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	msg.SessionID = c.key.String()
	msg.Timestamp = time.Now().Unix()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	key, ok := parseKey(r)
	if !ok {
		http.Error(w, "userId and botId are required", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	logger := h.logger.With("user_id", key.UserID, "bot_id", key.BotID)
	logger.Info("websocket connected")
	defer logger.Info("websocket closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &connection{conn: ws, key: key}
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	replies, unsubscribe := h.hub.Subscribe(key)
	defer unsubscribe()

	go h.pingLoop(ctx, ws)
	go h.forwardReplies(ctx, c, replies)

	h.sendInfo(c, frameConnected, map[string]any{"userId": key.UserID, "botId": key.BotID})

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read error", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		h.handleMessage(ctx, c, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *connection, msg *inboundMessage) {
	switch msg.Type {
	case "message", "text":
	default:
		h.sendError(c, "unsupported message type: "+msg.Type)
		return
	}

	var text TextMessage
	if err := json.Unmarshal(msg.Data, &text); err != nil {
		h.sendError(c, "invalid message payload")
		return
	}
	if strings.TrimSpace(text.Text) == "" {
		h.sendError(c, "text is required")
		return
	}

	if err := h.router.Route(ctx, c.key, text.Text); err != nil {
		h.sendInfo(c, frameError, map[string]any{
			"message": err.Error(),
			"status":  chat.StatusForRouteError(err),
		})
		return
	}
	h.sendInfo(c, frameQueued, nil)
}

func (h *Handler) forwardReplies(ctx context.Context, c *connection, replies <-chan chatmodel.Exchange) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-replies:
			if !ok {
				return
			}
			if err := c.send(outgoingMessage{Type: frameReply, Data: e}); err != nil {
				h.logger.Warn("write reply failed", "error", err)
				return
			}
		}
	}
}

func (h *Handler) sendInfo(c *connection, frameType string, data map[string]any) {
	msg := outgoingMessage{Type: frameType}
	if data != nil {
		msg.Data = data
	}
	if err := c.send(msg); err != nil {
		h.logger.Warn("write info failed", "error", err)
	}
}

func (h *Handler) sendError(c *connection, message string) {
	if err := c.send(outgoingMessage{Type: frameError, Data: map[string]string{"message": message}}); err != nil {
		h.logger.Warn("write error failed", "error", err)
	}
}

func (h *Handler) pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func parseKey(r *http.Request) (chatmodel.SessionKey, bool) {
	query := r.URL.Query()
	userID, err := strconv.ParseInt(query.Get("userId"), 10, 64)
	if err != nil || userID <= 0 {
		return chatmodel.SessionKey{}, false
	}
	botID, err := strconv.ParseInt(query.Get("botId"), 10, 64)
	if err != nil || botID <= 0 {
		return chatmodel.SessionKey{}, false
	}
	return chatmodel.SessionKey{UserID: userID, BotID: botID}, true
}
