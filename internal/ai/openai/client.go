package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/yegors/clara/internal/ai"
	"github.com/yegors/clara/pkg/logger"
)

// Client is an OpenAI-compatible chat provider for typed assistant queries
type Client struct {
	client *goopenai.Client
	logger *logger.Logger
}

// NewClient creates a new OpenAI client. baseURL may point at any
// OpenAI-compatible endpoint and should include the /v1 suffix.
func NewClient(apiKey string, log *logger.Logger, baseURL string) *Client {
	cfg := goopenai.DefaultConfig(apiKey)

	// Determine base URL (prefer explicit parameter, then env, then default)
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = strings.TrimRight(os.Getenv("OPENAI_API_BASE"), "/")
	}
	if base != "" {
		cfg.BaseURL = base
	}

	return &Client{
		client: goopenai.NewClientWithConfig(cfg),
		logger: log.Named("openai"),
	}
}

// -- ChatProvider Implementation --

func (c *Client) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (string, error) {
	reqMessages := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		reqMessages[i] = goopenai.ChatCompletionMessage{
			Role:    chatRole(msg.Role),
			Content: msg.Content,
		}
	}

	req := goopenai.ChatCompletionRequest{
		Model:       config.Model,
		Messages:    reqMessages,
		MaxTokens:   config.MaxTokens,
		Temperature: float32(config.Temperature),
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}

	c.logger.Debug("Chat completion received",
		logger.String("model", config.Model),
		logger.Int("total_tokens", resp.Usage.TotalTokens))
	return resp.Choices[0].Message.Content, nil
}

func chatRole(role string) string {
	switch role {
	case ai.RoleSystem:
		return goopenai.ChatMessageRoleSystem
	case ai.RoleAssistant:
		return goopenai.ChatMessageRoleAssistant
	default:
		return goopenai.ChatMessageRoleUser
	}
}
