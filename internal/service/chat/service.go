package chat

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/botdialog/internal/model/chat"
	"github.com/zhouzirui/botdialog/internal/model/persona"
)

// Service is an in-memory transcript store, suitable for tests and local runs
// without a database.
type Service struct {
	mu        sync.RWMutex
	bots      map[int64]persona.Bot
	tokens    map[string]int64
	exchanges map[chat.SessionKey][]chat.Exchange
	nextBotID int64
	nextExgID int64
}

// NewService bootstraps the in-memory store preloaded with the supplied bots.
func NewService(bots ...persona.Bot) *Service {
	s := &Service{
		bots:      make(map[int64]persona.Bot),
		tokens:    make(map[string]int64),
		exchanges: make(map[chat.SessionKey][]chat.Exchange),
	}
	for _, bot := range bots {
		if bot.CreatedAt.IsZero() {
			bot.CreatedAt = time.Now().UTC()
		}
		s.bots[bot.ID] = bot
		if bot.Token != "" {
			s.tokens[bot.Token] = bot.ID
		}
		if bot.ID > s.nextBotID {
			s.nextBotID = bot.ID
		}
	}
	return s
}

// GetPersona returns the bot's description, or "" when the bot is unknown.
func (s *Service) GetPersona(_ context.Context, botID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bots[botID].Description, nil
}

// AppendExchange stores a completed exchange.
func (s *Service) AppendExchange(_ context.Context, exchange chat.Exchange) error {
	if exchange.Timestamp.IsZero() {
		exchange.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextExgID++
	exchange.ID = s.nextExgID
	key := exchange.Key()
	s.exchanges[key] = append(s.exchanges[key], exchange)
	return nil
}

// ListExchanges returns the most recent exchanges for key in insertion order.
// A limit <= 0 returns everything.
func (s *Service) ListExchanges(_ context.Context, key chat.SessionKey, limit int) ([]chat.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.exchanges[key]
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}

	copied := make([]chat.Exchange, len(items))
	copy(copied, items)
	return copied, nil
}

// CreateBot registers a bot; the ID is assigned when zero.
func (s *Service) CreateBot(_ context.Context, bot persona.Bot) (persona.Bot, error) {
	if bot.Token == "" {
		return persona.Bot{}, persona.ErrTokenRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[bot.Token]; exists {
		return persona.Bot{}, persona.ErrDuplicateToken
	}
	if _, exists := s.bots[bot.ID]; bot.ID != 0 && exists {
		return persona.Bot{}, persona.ErrDuplicateID
	}
	if bot.ID == 0 {
		s.nextBotID++
		bot.ID = s.nextBotID
	} else if bot.ID > s.nextBotID {
		s.nextBotID = bot.ID
	}
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = time.Now().UTC()
	}

	s.bots[bot.ID] = bot
	s.tokens[bot.Token] = bot.ID
	return bot, nil
}

// GetBot retrieves a bot by identifier.
func (s *Service) GetBot(_ context.Context, id int64) (persona.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bot, ok := s.bots[id]
	if !ok {
		return persona.Bot{}, persona.ErrBotNotFound
	}
	return bot, nil
}

// Close is a no-op for the in-memory store.
func (s *Service) Close() error {
	return nil
}
