package factory

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mikey/workauth-assistant/internal/adapters/bedrock"
	"github.com/mikey/workauth-assistant/internal/adapters/gemini"
	"github.com/mikey/workauth-assistant/internal/adapters/openai"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/utils"
	"go.uber.org/zap"
)

// LLM providers accepted by llm.provider
const (
	ProviderBedrock = "bedrock"
	ProviderGemini  = "gemini"
	ProviderOpenAI  = "openai"
)

// LLMFactory creates the optional field assistant
type LLMFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *LLMFactory {
	return &LLMFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateFieldAssistant creates the configured field assistant. It returns a
// nil assistant when llm.enabled is false.
func (f *LLMFactory) CreateFieldAssistant(ctx context.Context) (core.FieldAssistant, error) {
	llmConfig := f.cfg.GetLLM()
	if !llmConfig.Enabled {
		f.logger.Info("LLM field assistance disabled")
		return nil, nil
	}

	provider := strings.ToLower(strings.TrimSpace(llmConfig.Provider))
	switch provider {
	case ProviderBedrock:
		a, err := bedrock.NewFromConfig(ctx, f.cfg.GetBedrock(), llmConfig.MaxBodySize, f.textProcessor, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create bedrock field assistant: %w", err)
		}
		return a, nil
	case ProviderGemini:
		a, err := gemini.NewFieldAssistant(ctx, f.cfg.GetGemini(), llmConfig.MaxBodySize, f.textProcessor, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini field assistant: %w", err)
		}
		return a, nil
	case ProviderOpenAI:
		httpClient := &http.Client{Timeout: f.cfg.GetPipeline().HTTPTimeout}
		a, err := openai.NewFieldAssistant(f.cfg.GetOpenAI(), httpClient, llmConfig.MaxBodySize, f.textProcessor, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai field assistant: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", llmConfig.Provider)
	}
}
