package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/utils"
	"go.uber.org/zap"
)

// ModelFamily selects the request and response shape for a Bedrock model
type ModelFamily string

const (
	FamilyAnthropic ModelFamily = "anthropic"
	FamilyTitan     ModelFamily = "titan"
	FamilyGeneric   ModelFamily = "generic"
)

const anthropicVersion = "bedrock-2023-05-31"

// ParseModelFamily validates a configured family name
func ParseModelFamily(s string) (ModelFamily, error) {
	switch f := ModelFamily(strings.ToLower(strings.TrimSpace(s))); f {
	case FamilyAnthropic, FamilyTitan, FamilyGeneric:
		return f, nil
	default:
		return "", fmt.Errorf("unknown bedrock model family %q (want anthropic, titan or generic)", s)
	}
}

// invoker is the part of the Bedrock runtime client the assistant uses
type invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// FieldAssistant asks a Bedrock model for record fields the pattern
// extractor could not find
type FieldAssistant struct {
	client        invoker
	modelID       string
	family        ModelFamily
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	textProcessor *utils.TextProcessor
	logger        *zap.Logger
}

// NewFieldAssistant creates a Bedrock field assistant
func NewFieldAssistant(
	client invoker,
	cfg config.BedrockConfig,
	maxBodySize int,
	textProcessor *utils.TextProcessor,
	logger *zap.Logger,
) (*FieldAssistant, error) {
	family, err := ParseModelFamily(cfg.ModelFamily)
	if err != nil {
		return nil, err
	}
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("bedrock.model_id is required")
	}
	return &FieldAssistant{
		client:        client,
		modelID:       cfg.ModelID,
		family:        family,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		topP:          cfg.TopP,
		maxBodySize:   maxBodySize,
		textProcessor: textProcessor,
		logger:        logger,
	}, nil
}

// SuggestFields prompts the model and parses its JSON reply
func (a *FieldAssistant) SuggestFields(ctx context.Context, env *core.Envelope) (*core.FieldHints, error) {
	body := a.textProcessor.ProcessText(utils.PromptBody(env), a.maxBodySize)
	prompt := utils.BuildFieldPrompt(env, body)

	payload, err := a.requestBody(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.modelID),
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	reply, err := a.replyText(resp.Body)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Bedrock reply", zap.String("model", a.modelID), zap.String("reply", reply))

	return utils.ParseFieldHints(reply)
}

func (a *FieldAssistant) requestBody(prompt string) ([]byte, error) {
	switch a.family {
	case FamilyAnthropic:
		return json.Marshal(map[string]any{
			"anthropic_version": anthropicVersion,
			"max_tokens":        a.maxTokens,
			"temperature":       a.temperature,
			"top_p":             a.topP,
			"system":            utils.FieldSystemPrompt,
			"messages": []map[string]any{
				{"role": "user", "content": prompt},
			},
		})
	case FamilyTitan:
		return json.Marshal(map[string]any{
			"inputText": utils.FieldSystemPrompt + "\n\n" + prompt,
			"textGenerationConfig": map[string]any{
				"maxTokenCount": a.maxTokens,
				"temperature":   a.temperature,
				"topP":          a.topP,
			},
		})
	default:
		return json.Marshal(map[string]any{
			"prompt":      utils.FieldSystemPrompt + "\n\n" + prompt,
			"max_tokens":  a.maxTokens,
			"temperature": a.temperature,
			"top_p":       a.topP,
		})
	}
}

func (a *FieldAssistant) replyText(body []byte) (string, error) {
	switch a.family {
	case FamilyAnthropic:
		var resp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Anthropic response: %w", err)
		}
		var sb strings.Builder
		for _, c := range resp.Content {
			if c.Type == "text" {
				sb.WriteString(c.Text)
			}
		}
		if sb.Len() == 0 {
			return "", fmt.Errorf("empty response from Anthropic model")
		}
		return sb.String(), nil
	case FamilyTitan:
		var resp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(resp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return resp.Results[0].OutputText, nil
	default:
		var resp struct {
			Output     string `json:"output"`
			Text       string `json:"text"`
			Response   string `json:"response"`
			Generation string `json:"generation"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return string(body), nil
		}
		for _, s := range []string{resp.Output, resp.Text, resp.Response, resp.Generation} {
			if s != "" {
				return s, nil
			}
		}
		return string(body), nil
	}
}

var _ core.FieldAssistant = (*FieldAssistant)(nil)
