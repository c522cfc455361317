package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is the OpenRouter chat-completions URL.
const DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"

const maxResponseBytes = 1 << 20

// ChatCompletionsOption customises a ChatCompletions client.
type ChatCompletionsOption func(*ChatCompletions)

// ChatCompletions calls an OpenAI-compatible chat-completions endpoint such as OpenRouter.
type ChatCompletions struct {
	endpoint string
	apiKey   string
	model    string
	referer  string
	title    string
	client   *http.Client
}

var _ Generator = (*ChatCompletions)(nil)

// NewChatCompletions creates a client for endpoint. An empty endpoint selects DefaultEndpoint.
func NewChatCompletions(endpoint, apiKey, model string, opts ...ChatCompletionsOption) *ChatCompletions {
	c := &ChatCompletions{
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		model:    strings.TrimSpace(model),
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) ChatCompletionsOption {
	return func(c *ChatCompletions) {
		if client != nil {
			c.client = client
		}
	}
}

// WithAppInfo sets the OpenRouter attribution headers (HTTP-Referer, X-Title).
func WithAppInfo(referer, title string) ChatCompletionsOption {
	return func(c *ChatCompletions) {
		c.referer = strings.TrimSpace(referer)
		c.title = strings.TrimSpace(title)
	}
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StatusError reports a non-2xx response from the endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// Generate performs one POST and returns choices[0].message.content.
func (c *ChatCompletions) Generate(ctx context.Context, description, message string) (string, error) {
	if c.model == "" {
		return "", failed("build request", errors.New("model is required"))
	}

	body, err := json.Marshal(completionRequest{
		Model:    c.model,
		Messages: BuildMessages(description, message),
	})
	if err != nil {
		return "", failed("marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", failed("build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", failed("call endpoint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", failed("call endpoint", parseStatusError(resp))
	}

	var parsed completionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&parsed); err != nil {
		return "", failed("decode response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", failed("decode response", errors.New("response contained no choices"))
	}
	content := parsed.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", failed("decode response", errors.New("response contained no content"))
	}
	return content, nil
}

func parseStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	statusErr := &StatusError{StatusCode: resp.StatusCode}

	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		statusErr.Message = envelope.Error.Message
	} else {
		statusErr.Message = strings.TrimSpace(string(raw))
	}
	return statusErr
}
