package ai

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/botdialog/internal/model/persona"
)

// Wire roles for chat-completions messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat-completions message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildMessages lays out a single exchange: the persona description as system
// context, followed by the user's message. A blank description sends no system turn.
func BuildMessages(description, message string) []Message {
	messages := make([]Message, 0, 2)
	if strings.TrimSpace(description) != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: description})
	}
	return append(messages, Message{Role: RoleUser, Content: message})
}

// buildChainInput is the eino equivalent of BuildMessages. The description goes
// through a placeholder rather than the template so braces in it are not parsed.
func buildChainInput(description, message string) map[string]any {
	system := make([]*schema.Message, 0, 1)
	if strings.TrimSpace(description) != "" {
		system = append(system, schema.SystemMessage(description))
	}
	return map[string]any{
		"system": system,
		"query":  message,
	}
}

const descriptionPreamble = "Create a detailed character description based on these answers:"

// BuildDescriptionPrompt turns questionnaire answers into the single user turn
// that asks the model to draft a persona description.
func BuildDescriptionPrompt(answers []persona.Answer) string {
	var b strings.Builder
	b.WriteString(descriptionPreamble)
	for _, a := range answers {
		b.WriteString("\nQuestion: ")
		b.WriteString(strings.TrimSpace(a.Question))
		b.WriteString("\nAnswer: ")
		b.WriteString(strings.TrimSpace(a.Answer))
	}
	return b.String()
}
