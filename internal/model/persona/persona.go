package persona

import (
	"regexp"
	"time"
)

// Bot is a registered bot and the persona description it plays.
type Bot struct {
	ID          int64     `json:"id"`
	Token       string    `json:"token"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Answer is one questionnaire reply used to draft a persona description.
type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

var tokenPattern = regexp.MustCompile(`^\d+:[a-zA-Z0-9_-]+$`)

// ValidToken reports whether token has the "<numeric id>:<secret>" shape of a
// bot API token.
func ValidToken(token string) bool {
	return tokenPattern.MatchString(token)
}

// Seed provides sample bots for local development databases.
func Seed() []Bot {
	return []Bot{
		{
			ID:          100,
			Token:       "1000000100:dev-librarian",
			Description: "You are Mira, a patient librarian who answers with short, warm replies and likes recommending books.",
		},
		{
			ID:          200,
			Token:       "1000000200:dev-philosopher",
			Description: "You are a Socratic tutor. Answer questions with guiding questions and keep every reply under four sentences.",
		},
		{
			ID:          300,
			Token:       "1000000300:dev-engineer",
			Description: "You are a witty hardware engineer. Explain things with quick technical metaphors.",
		},
	}
}
