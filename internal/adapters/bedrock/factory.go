package bedrock

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/utils"
	"go.uber.org/zap"
)

// NewFromConfig loads AWS credentials from the default chain and creates a
// field assistant for the configured model
func NewFromConfig(
	ctx context.Context,
	cfg config.BedrockConfig,
	maxBodySize int,
	textProcessor *utils.TextProcessor,
	logger *zap.Logger,
) (*FieldAssistant, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	logger.Info("Using Bedrock field assistant",
		zap.String("region", cfg.Region),
		zap.String("model", cfg.ModelID),
		zap.String("family", cfg.ModelFamily))

	return NewFieldAssistant(bedrockruntime.NewFromConfig(awsCfg), cfg, maxBodySize, textProcessor, logger)
}
