package chat

import "time"

// Exchange is one persisted (message, response) pair.
type Exchange struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	BotID       int64     `json:"botId"`
	UserMessage string    `json:"userMessage"`
	BotResponse string    `json:"botResponse"`
	Timestamp   time.Time `json:"timestamp"`
}

// Key returns the session key the exchange belongs to.
func (e Exchange) Key() SessionKey {
	return SessionKey{UserID: e.UserID, BotID: e.BotID}
}
