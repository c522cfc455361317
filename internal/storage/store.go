package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zhouzirui/botdialog/internal/model/chat"
	"github.com/zhouzirui/botdialog/internal/model/persona"
)

// GormStore is the relational transcript store: bots and their exchanges.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the database and migrates the bots/exchanges tables.
func NewGormStore(driver, dsn string) (*GormStore, error) {
	gormDB, err := OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}

	store := &GormStore{db: gormDB}
	if err := store.migrate(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	return s.db.AutoMigrate(&botRow{}, &exchangeRow{})
}

// GetPersona returns the bot's description. Unknown bots yield "" and no error.
func (s *GormStore) GetPersona(ctx context.Context, botID int64) (string, error) {
	var row botRow
	err := s.db.WithContext(ctx).
		Select("description").
		Where("id = ?", botID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("get persona: %w", err)
	}
	return row.Description, nil
}

// AppendExchange inserts one exchange row in its own transaction.
func (s *GormStore) AppendExchange(ctx context.Context, exchange chat.Exchange) error {
	ts := exchange.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	row := exchangeRow{
		UserID:      exchange.UserID,
		BotID:       exchange.BotID,
		UserMessage: exchange.UserMessage,
		BotResponse: exchange.BotResponse,
		Timestamp:   ts.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}
	return nil
}

// ListExchanges returns the latest limit exchanges for key, oldest first.
func (s *GormStore) ListExchanges(ctx context.Context, key chat.SessionKey, limit int) ([]chat.Exchange, error) {
	query := s.db.WithContext(ctx).
		Model(&exchangeRow{}).
		Where("user_id = ? AND bot_id = ?", key.UserID, key.BotID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []exchangeRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}

	out := make([]chat.Exchange, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row.toExchange()
	}
	return out, nil
}

// CreateBot registers a new bot. Tokens are unique.
func (s *GormStore) CreateBot(ctx context.Context, bot persona.Bot) (persona.Bot, error) {
	if bot.Token == "" {
		return persona.Bot{}, persona.ErrTokenRequired
	}
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = time.Now()
	}
	bot.CreatedAt = bot.CreatedAt.UTC()

	row := botRowFromBot(bot)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&botRow{}).Where("token = ?", bot.Token).Count(&count).Error; err != nil {
			return fmt.Errorf("token lookup: %w", err)
		}
		if count > 0 {
			return persona.ErrDuplicateToken
		}
		if bot.ID != 0 {
			if err := tx.Model(&botRow{}).Where("id = ?", bot.ID).Count(&count).Error; err != nil {
				return fmt.Errorf("id lookup: %w", err)
			}
			if count > 0 {
				return persona.ErrDuplicateID
			}
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create bot: %w", err)
		}
		return nil
	})
	if err != nil {
		return persona.Bot{}, err
	}
	return row.toBot(), nil
}

// GetBot loads a bot by id.
func (s *GormStore) GetBot(ctx context.Context, id int64) (persona.Bot, error) {
	var row botRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return persona.Bot{}, persona.ErrBotNotFound
		}
		return persona.Bot{}, fmt.Errorf("get bot: %w", err)
	}
	return row.toBot(), nil
}

// SeedBots inserts the given bots unless a bot with the same id already exists.
func (s *GormStore) SeedBots(ctx context.Context, bots []persona.Bot) error {
	for _, bot := range bots {
		if _, err := s.GetBot(ctx, bot.ID); err == nil {
			continue
		} else if !errors.Is(err, persona.ErrBotNotFound) {
			return err
		}
		if _, err := s.CreateBot(ctx, bot); err != nil && !errors.Is(err, persona.ErrDuplicateToken) && !errors.Is(err, persona.ErrDuplicateID) {
			return fmt.Errorf("seed bot %d: %w", bot.ID, err)
		}
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
