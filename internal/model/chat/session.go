package chat

import "strconv"

// SessionKey identifies one (user, bot) conversation.
type SessionKey struct {
	UserID int64 `json:"userId"`
	BotID  int64 `json:"botId"`
}

// String renders the key as "user:bot".
func (k SessionKey) String() string {
	return strconv.FormatInt(k.UserID, 10) + ":" + strconv.FormatInt(k.BotID, 10)
}
