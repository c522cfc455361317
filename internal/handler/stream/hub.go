package stream

import (
	"log/slog"
	"sync"

	"github.com/zhouzirui/botdialog/internal/model/chat"
)

const subscriberBuffer = 16

// Hub fans recorded exchanges out to the connections watching their session.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chat.SessionKey]map[chan chat.Exchange]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[chat.SessionKey]map[chan chat.Exchange]struct{}),
		logger: slog.Default().With("component", "handler.stream"),
	}
}

// Subscribe registers interest in key. The returned cancel func must be called
// once the subscriber stops reading; it closes the channel.
func (h *Hub) Subscribe(key chat.SessionKey) (<-chan chat.Exchange, func()) {
	ch := make(chan chat.Exchange, subscriberBuffer)

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[chan chat.Exchange]struct{})
	}
	h.subs[key][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[key], ch)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber of its session without blocking.
// Slow subscribers miss the exchange.
func (h *Hub) Publish(e chat.Exchange) {
	key := e.Key()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[key] {
		select {
		case ch <- e:
		default:
			h.logger.Warn("subscriber lagging, exchange skipped", "user_id", key.UserID, "bot_id", key.BotID, "exchange_id", e.ID)
		}
	}
}

// Subscribers returns the number of subscribers for key.
func (h *Hub) Subscribers(key chat.SessionKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}
