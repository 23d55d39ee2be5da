package di

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/workauth-assistant/internal/adapters/mailbox"
	"github.com/mikey/workauth-assistant/internal/adapters/server"
	"github.com/mikey/workauth-assistant/internal/adapters/status"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/factory"
	"github.com/mikey/workauth-assistant/internal/logging"
	"github.com/mikey/workauth-assistant/internal/store"
	"github.com/mikey/workauth-assistant/internal/utils"
)

// BuildContainer creates and configures a dependency injection container.
// An empty configFile searches the default locations.
func BuildContainer(configFile string) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() (*config.Config, error) {
		if configFile != "" {
			return config.NewFromFile(configFile)
		}
		return config.New()
	}); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register store and event log
	if err := container.Provide(openStore); err != nil {
		return nil, err
	}
	if err := container.Provide(store.NewEventLog); err != nil {
		return nil, err
	}
	if err := container.Provide(func(l *store.EventLog) core.EventLogger { return l }); err != nil {
		return nil, err
	}

	// Register status broadcaster
	if err := container.Provide(func(logger *zap.Logger) *status.Broadcaster {
		return status.NewBroadcaster(status.DefaultBuffer, logger)
	}); err != nil {
		return nil, err
	}

	// Register mailbox
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *mailbox.IMAPMailbox {
		return mailbox.NewIMAPMailbox(cfg.GetIMAP(), logger)
	}); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(utils.NewTextProcessor); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewCacheFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewNotifierFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewCollaboratorFactory); err != nil {
		return nil, err
	}

	// Register geocode cache
	if err := container.Provide(func(f *factory.CacheFactory) (core.GeocodeCache, error) {
		return f.CreateGeocodeCache()
	}); err != nil {
		return nil, err
	}

	// Register field assistant, nil when disabled
	if err := container.Provide(func(f *factory.LLMFactory) (core.FieldAssistant, error) {
		return f.CreateFieldAssistant(context.Background())
	}); err != nil {
		return nil, err
	}

	// Register pipeline controller
	if err := container.Provide(func(
		cfg *config.Config,
		mb *mailbox.IMAPMailbox,
		f *factory.CollaboratorFactory,
		b *status.Broadcaster,
		events core.EventLogger,
		logger *zap.Logger,
	) *core.PipelineController {
		imapCfg := cfg.GetIMAP()
		pipelineCfg := cfg.GetPipeline()
		return core.NewPipelineController(core.PipelineConfig{
			Inbox:           imapCfg.Inbox,
			ProcessedFolder: imapCfg.ProcessedFolder,
			FailedFolder:    imapCfg.FailedFolder,
			PollInterval:    pipelineCfg.PollInterval,
			HTTPTimeout:     pipelineCfg.HTTPTimeout,
		}, mb, f, b, events, logger)
	}); err != nil {
		return nil, err
	}

	// Register control server
	if err := container.Provide(func(
		cfg *config.Config,
		p *core.PipelineController,
		l *store.EventLog,
		b *status.Broadcaster,
		logger *zap.Logger,
	) *server.Server {
		return server.NewServer(cfg.GetServer(), server.Options{
			Controller:     p,
			Events:         l,
			Logs:           l,
			Status:         b,
			IMAPConfigured: cfg.GetIMAP().Configured(),
			StopTimeout:    cfg.GetPipeline().StopTimeout,
		}, logger)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	path := cfg.GetStore().SQLitePath
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
	}
	return store.Open(path, logger)
}
