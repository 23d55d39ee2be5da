package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mikey/workauth-assistant/internal/adapters/cache"
	"github.com/mikey/workauth-assistant/internal/adapters/mailbox"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/di"
	"go.uber.org/zap"
)

func main() {
	flags := di.ParseFlags()

	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

func run(
	flags *di.CLIFlags,
	logger *zap.Logger,
	extractor *core.DataExtractor,
	geocodeCache *cache.MemoryCache,
	assistant core.FieldAssistant,
) error {
	defer logger.Sync()
	defer geocodeCache.Stop()
	defer func() {
		if closer, ok := assistant.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				logger.Error("Failed to close LLM client", zap.Error(err))
			}
		}
	}()

	// Read email from file or stdin
	var emailReader io.Reader
	if flags.InputFile != "" {
		file, err := os.Open(flags.InputFile)
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", flags.InputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	raw, err := io.ReadAll(emailReader)
	if err != nil {
		return fmt.Errorf("failed to read email: %w", err)
	}

	env, err := mailbox.ParseMessage("cli", raw)
	if err != nil {
		logger.Warn("Email parsed with errors", zap.Error(err))
	}

	// Print email summary
	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", env.From)
	fmt.Printf("To: %s\n", env.To)
	fmt.Printf("Subject: %s\n", env.Subject)
	fmt.Printf("Body length: %d bytes\n", len(env.BodyText)+len(env.BodyHTML))
	if len(env.AttachmentNames) > 0 {
		fmt.Printf("Attachments: %v\n", env.AttachmentNames)
	}

	startTime := time.Now()
	actionable := extractor.IsActionable(env)

	fmt.Printf("\n=== Classification ===\n")
	fmt.Printf("Work authorization: %t\n", actionable)
	if !actionable {
		fmt.Printf("Processing time: %v\n", time.Since(startTime))
		return nil
	}

	record := extractor.Process(context.Background(), env)
	duration := time.Since(startTime)

	fmt.Printf("\n=== Extracted Record ===\n")
	if record == nil {
		fmt.Printf("No authorization ID found, the email would be moved to the failed folder\n")
		fmt.Printf("Processing time: %v\n", duration)
		return nil
	}

	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	fmt.Println(string(out))
	fmt.Printf("Processing time: %v\n", duration)
	return nil
}
