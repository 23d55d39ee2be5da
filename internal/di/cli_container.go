package di

import (
	"context"
	"flag"
	"net/http"
	"os"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/workauth-assistant/internal/adapters/billing"
	"github.com/mikey/workauth-assistant/internal/adapters/cache"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/factory"
	"github.com/mikey/workauth-assistant/internal/logging"
	"github.com/mikey/workauth-assistant/internal/utils"
)

// CLIFlags contains all command line flags for the extract CLI
type CLIFlags struct {
	// Input flags
	InputFile string

	// Extraction flags
	Geocode    bool
	GeocodeURL string
	Timezone   string
	RatesPath  string

	// LLM flags
	LLM         bool
	Provider    string
	MaxBodySize int

	// Output flags
	Verbose    bool
	JSONLog    bool
	ConfigFile string
}

// ParseFlags parses command line flags and returns a CLIFlags struct
func ParseFlags() *CLIFlags {
	flags, _ := parseFlags(flag.CommandLine, os.Args[1:])
	return flags
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIFlags, error) {
	flags := &CLIFlags{}

	// Input flags
	fs.StringVar(&flags.InputFile, "file", "", "Raw RFC 5322 message file (use stdin if not specified)")

	// Extraction flags
	fs.BoolVar(&flags.Geocode, "geocode", false, "Geocode the service address")
	fs.StringVar(&flags.GeocodeURL, "geocode-url", "https://nominatim.openstreetmap.org/search", "Geocoding search endpoint")
	fs.StringVar(&flags.Timezone, "timezone", "America/Chicago", "Canonical time zone for service dates")
	fs.StringVar(&flags.RatesPath, "rates", "", "Client billing rates file")

	// LLM flags
	fs.BoolVar(&flags.LLM, "llm", false, "Ask an LLM for fields the patterns miss")
	fs.StringVar(&flags.Provider, "provider", "bedrock", "LLM provider (bedrock, gemini, openai)")
	fs.IntVar(&flags.MaxBodySize, "max-body-size", 4096, "Maximum email body size to send to the LLM")

	// Output flags
	fs.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	fs.StringVar(&flags.ConfigFile, "config", "", "Path to config file (overrides extraction and LLM flags)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return flags, nil
}

// BuildCLIContainer creates and configures a dependency injection container for the extract CLI
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if flags.ConfigFile != "" {
			cfg, err := config.NewFromFile(flags.ConfigFile)
			if err != nil {
				return nil, err
			}
			logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
			return cfg, nil
		}

		// Create config from command line flags
		return createConfigFromFlags(flags), nil
	}); err != nil {
		return nil, err
	}

	// Register text processor and LLM factory
	if err := container.Provide(utils.NewTextProcessor); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}

	// Register field assistant
	if err := container.Provide(func(f *factory.LLMFactory) (core.FieldAssistant, error) {
		return f.CreateFieldAssistant(context.Background())
	}); err != nil {
		return nil, err
	}

	// Register an in-memory geocode cache for this run
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *cache.MemoryCache {
		return cache.NewMemoryCache(logger, 0, cfg.GetCache().CleanupFrequency)
	}); err != nil {
		return nil, err
	}

	// Register collaborator factory without notifications or event log
	if err := container.Provide(func(
		cfg *config.Config,
		c *cache.MemoryCache,
		assistant core.FieldAssistant,
		logger *zap.Logger,
	) *factory.CollaboratorFactory {
		return factory.NewCollaboratorFactory(cfg, c, assistant, nil, core.NopEventLogger{}, logger)
	}); err != nil {
		return nil, err
	}

	// Register extractor
	if err := container.Provide(func(
		cfg *config.Config,
		flags *CLIFlags,
		f *factory.CollaboratorFactory,
		logger *zap.Logger,
	) (*core.DataExtractor, error) {
		loc, err := cfg.GetPipeline().Location()
		if err != nil {
			return nil, err
		}
		rates := billing.LoadRates(context.Background(), cfg.GetBilling().RatesPath, nil, logger)

		var httpClient *http.Client
		if flags.Geocode {
			httpClient = &http.Client{Timeout: cfg.GetPipeline().HTTPTimeout}
		}
		return f.NewExtractor(httpClient, loc, rates)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	// Extraction settings
	v.Set("pipeline.timezone", flags.Timezone)
	v.Set("billing.rates_path", flags.RatesPath)
	v.Set("geocode.enabled", flags.Geocode)
	v.Set("geocode.url", flags.GeocodeURL)
	v.Set("cache.type", "memory")

	// LLM settings, provider credentials come from the environment
	v.Set("llm.enabled", flags.LLM)
	v.Set("llm.provider", flags.Provider)
	v.Set("llm.max_body_size", flags.MaxBodySize)

	config.BindEnv(v)

	return config.NewFromViper(v)
}
