package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/botdialog/internal/model/chat"
	"github.com/zhouzirui/botdialog/internal/service/dialog"
)

// echoRouter records the exchange immediately, standing in for a session worker.
type echoRouter struct {
	hub *Hub
	err error
}

func (r *echoRouter) Route(_ context.Context, key chat.SessionKey, message string) error {
	if r.err != nil {
		return r.err
	}
	go r.hub.Publish(chat.Exchange{ID: 1, UserID: key.UserID, BotID: key.BotID, UserMessage: message, BotResponse: "echo: " + message})
	return nil
}

type frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

func dial(t *testing.T, router chat.Router, hub *Hub, query string) *websocket.Conn {
	t.Helper()
	r := chi.NewRouter()
	New(router, hub).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestWebSocketRoutesAndPushesReply(t *testing.T) {
	hub := NewHub()
	conn := dial(t, &echoRouter{hub: hub}, hub, "userId=1&botId=100")

	hello := readFrame(t, conn)
	assert.Equal(t, frameConnected, hello.Type)
	assert.Equal(t, "1:100", hello.SessionID)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "data": map[string]string{"text": "hi there"}}))

	seen := map[string]frame{}
	for len(seen) < 2 {
		f := readFrame(t, conn)
		seen[f.Type] = f
	}
	require.Contains(t, seen, frameQueued)
	require.Contains(t, seen, frameReply)

	var e chat.Exchange
	require.NoError(t, json.Unmarshal(seen[frameReply].Data, &e))
	assert.Equal(t, "hi there", e.UserMessage)
	assert.Equal(t, "echo: hi there", e.BotResponse)
}

func TestWebSocketReportsRouteErrors(t *testing.T) {
	hub := NewHub()
	conn := dial(t, &echoRouter{hub: hub, err: dialog.ErrQueueFull}, hub, "userId=1&botId=100")
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "data": map[string]string{"text": "hi"}}))
	f := readFrame(t, conn)
	assert.Equal(t, frameError, f.Type)

	var data map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &data))
	assert.Equal(t, float64(http.StatusTooManyRequests), data["status"])
}

func TestWebSocketRejectsBadFrames(t *testing.T) {
	hub := NewHub()
	conn := dial(t, &echoRouter{hub: hub}, hub, "userId=1&botId=100")
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "audio"}))
	assert.Equal(t, frameError, readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "data": map[string]string{"text": "  "}}))
	assert.Equal(t, frameError, readFrame(t, conn).Type)
}

func TestWebSocketRequiresKey(t *testing.T) {
	r := chi.NewRouter()
	New(&echoRouter{hub: NewHub()}, NewHub()).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/ws?userId=1", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
