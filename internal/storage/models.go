package storage

import (
	"time"

	"github.com/zhouzirui/botdialog/internal/model/chat"
	"github.com/zhouzirui/botdialog/internal/model/persona"
)

type botRow struct {
	ID          int64     `gorm:"primaryKey"`
	Token       string    `gorm:"size:64;uniqueIndex"`
	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (botRow) TableName() string {
	return "bots"
}

func (r botRow) toBot() persona.Bot {
	return persona.Bot{
		ID:          r.ID,
		Token:       r.Token,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
}

func botRowFromBot(b persona.Bot) botRow {
	return botRow{
		ID:          b.ID,
		Token:       b.Token,
		Description: b.Description,
		CreatedAt:   b.CreatedAt,
	}
}

type exchangeRow struct {
	ID          int64     `gorm:"primaryKey;index:idx_exchanges_session,priority:3"`
	UserID      int64     `gorm:"not null;index:idx_exchanges_session,priority:1"`
	BotID       int64     `gorm:"not null;index:idx_exchanges_session,priority:2"`
	UserMessage string    `gorm:"type:text;not null"`
	BotResponse string    `gorm:"type:text;not null"`
	Timestamp   time.Time `gorm:"not null"`
}

func (exchangeRow) TableName() string {
	return "exchanges"
}

func (r exchangeRow) toExchange() chat.Exchange {
	return chat.Exchange{
		ID:          r.ID,
		UserID:      r.UserID,
		BotID:       r.BotID,
		UserMessage: r.UserMessage,
		BotResponse: r.BotResponse,
		Timestamp:   r.Timestamp,
	}
}
