package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// FieldAssistant asks an OpenAI-compatible chat model for record fields
// the pattern extractor could not find
type FieldAssistant struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	textProcessor *utils.TextProcessor
	logger        *zap.Logger
}

// NewFieldAssistant creates a chat client. A BaseURL points it at any
// OpenAI-compatible endpoint.
func NewFieldAssistant(
	cfg config.OpenAIConfig,
	httpClient *http.Client,
	maxBodySize int,
	textProcessor *utils.TextProcessor,
	logger *zap.Logger,
) (*FieldAssistant, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai.api_key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}

	logger.Info("Using OpenAI field assistant",
		zap.String("model", cfg.ModelName),
		zap.String("base_url", clientCfg.BaseURL))

	return &FieldAssistant{
		client:        openai.NewClientWithConfig(clientCfg),
		modelName:     cfg.ModelName,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		topP:          cfg.TopP,
		maxBodySize:   maxBodySize,
		textProcessor: textProcessor,
		logger:        logger,
	}, nil
}

// SuggestFields prompts the model in JSON mode and parses its reply
func (a *FieldAssistant) SuggestFields(ctx context.Context, env *core.Envelope) (*core.FieldHints, error) {
	body := a.textProcessor.ProcessText(utils.PromptBody(env), a.maxBodySize)

	req := openai.ChatCompletionRequest{
		Model: a.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: utils.FieldSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: utils.BuildFieldPrompt(env, body),
			},
		},
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		TopP:        a.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty response from OpenAI")
	}

	reply := resp.Choices[0].Message.Content
	a.logger.Debug("OpenAI reply",
		zap.String("model", a.modelName),
		zap.String("id", resp.ID),
		zap.String("reply", reply))

	return utils.ParseFieldHints(reply)
}

var _ core.FieldAssistant = (*FieldAssistant)(nil)
