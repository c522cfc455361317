package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/botdialog/internal/model/chat"
)

func TestEventStreamPushesReplies(t *testing.T) {
	hub := NewHub()
	h := New(&echoRouter{hub: hub}, hub)
	h.heartbeat = time.Hour
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream?userId=1&botId=100", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	nextEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				return event, data
			}
		}
	}

	event, data := nextEvent()
	assert.Equal(t, frameConnected, event)
	assert.Contains(t, data, "1:100")

	require.Eventually(t, func() bool { return hub.Subscribers(chat.SessionKey{UserID: 1, BotID: 100}) == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish(chat.Exchange{ID: 9, UserID: 1, BotID: 100, UserMessage: "hi", BotResponse: "hello"})

	event, data = nextEvent()
	assert.Equal(t, frameReply, event)
	assert.Contains(t, data, `"botResponse":"hello"`)
}

func TestEventStreamRequiresKey(t *testing.T) {
	r := chi.NewRouter()
	New(&echoRouter{hub: NewHub()}, NewHub()).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/stream?botId=100", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
