package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"utbk-tutor/internal/config"
	"utbk-tutor/internal/helper"
	"utbk-tutor/internal/models"
)

// Client sends rendered prompts to a chat-completion model. Every call goes to
// the provider; responses are never cached.
type Client struct {
	llm   llms.Model
	model string
	retry *helper.Retrier
}

func New(llm llms.Model, model string, retry *helper.Retrier) *Client {
	return &Client{llm: llm, model: model, retry: retry}
}

// NewClient builds the chat model once from configuration.
func NewClient(llmConfig *config.LLMConfig, retry *helper.Retrier) (*Client, error) {
	log.Debug().Interface("config", map[string]string{
		"provider": llmConfig.Provider,
		"base_url": llmConfig.BaseURL,
		"model":    llmConfig.Model,
	}).Msg("Creating chat client")

	httpClient := &http.Client{Timeout: llmConfig.Timeout}

	var llm llms.Model
	var err error
	switch llmConfig.Provider {
	case config.ProviderOllama:
		llm, err = ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
			ollama.WithHTTPClient(httpClient),
		)
	default:
		llm, err = openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
			openai.WithHTTPClient(httpClient),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: init %s: %w", models.ErrCompletionProvider, llmConfig.Provider, err)
	}
	return New(llm, llmConfig.Model, retry), nil
}

// Complete returns the raw text of the first choice.
func (c *Client) Complete(ctx context.Context, prompt models.Prompt, temperature float64) (string, error) {
	msgContent := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, prompt.System),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt.User),
	}

	log.Debug().Str("prompt", prompt.Name).Str("version", prompt.Version).Str("model", c.model).
		Float64("temperature", temperature).Msg("Generating content")

	res, err := helper.Retry(ctx, c.retry, "generate_content", func() (*llms.ContentResponse, error) {
		return c.llm.GenerateContent(ctx, msgContent, llms.WithTemperature(temperature))
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", models.ErrCompletionProvider, c.model, err)
	}
	if res == nil || len(res.Choices) == 0 || res.Choices[0] == nil {
		return "", fmt.Errorf("%w: %s: %w", models.ErrCompletionProvider, c.model, errors.New("empty response"))
	}
	return res.Choices[0].Content, nil
}
