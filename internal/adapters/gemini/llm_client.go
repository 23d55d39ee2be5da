package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// generator is the part of a genai model the assistant uses
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// FieldAssistant asks a Gemini model for record fields the pattern
// extractor could not find
type FieldAssistant struct {
	client        *genai.Client
	model         generator
	modelName     string
	maxBodySize   int
	textProcessor *utils.TextProcessor
	logger        *zap.Logger
}

// NewFieldAssistant creates a Gemini client and configures the model for
// JSON replies
func NewFieldAssistant(
	ctx context.Context,
	cfg config.GeminiConfig,
	maxBodySize int,
	textProcessor *utils.TextProcessor,
	logger *zap.Logger,
) (*FieldAssistant, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini.api_key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.ModelName)
	model.SetTemperature(cfg.Temperature)
	model.SetTopP(cfg.TopP)
	model.SetMaxOutputTokens(int32(cfg.MaxTokens))
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(utils.FieldSystemPrompt)}}

	logger.Info("Using Gemini field assistant", zap.String("model", cfg.ModelName))

	a := newFieldAssistant(model, cfg.ModelName, maxBodySize, textProcessor, logger)
	a.client = client
	return a, nil
}

func newFieldAssistant(model generator, modelName string, maxBodySize int, textProcessor *utils.TextProcessor, logger *zap.Logger) *FieldAssistant {
	return &FieldAssistant{
		model:         model,
		modelName:     modelName,
		maxBodySize:   maxBodySize,
		textProcessor: textProcessor,
		logger:        logger,
	}
}

// Close closes the Gemini client
func (a *FieldAssistant) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// SuggestFields prompts the model and parses its JSON reply
func (a *FieldAssistant) SuggestFields(ctx context.Context, env *core.Envelope) (*core.FieldHints, error) {
	body := a.textProcessor.ProcessText(utils.PromptBody(env), a.maxBodySize)
	prompt := utils.BuildFieldPrompt(env, body)

	resp, err := a.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("empty response from Gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	reply := sb.String()
	a.logger.Debug("Gemini reply", zap.String("model", a.modelName), zap.String("reply", reply))

	return utils.ParseFieldHints(reply)
}

var _ core.FieldAssistant = (*FieldAssistant)(nil)
