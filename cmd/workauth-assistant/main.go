package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/workauth-assistant/internal/adapters/mailbox"
	"github.com/mikey/workauth-assistant/internal/adapters/server"
	"github.com/mikey/workauth-assistant/internal/adapters/status"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/di"
	"github.com/mikey/workauth-assistant/internal/store"
	"go.uber.org/zap"
)

var configFile = flag.String("config", "", "Path to config file (default search paths if not specified)")

func main() {
	flag.Parse()

	// Build the dependency injection container
	container, err := di.BuildContainer(*configFile)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	cfg *config.Config,
	logger *zap.Logger,
	srv *server.Server,
	pipeline *core.PipelineController,
	events core.EventLogger,
	broadcaster *status.Broadcaster,
	cacheRepo core.GeocodeCache,
	assistant core.FieldAssistant,
	mb *mailbox.IMAPMailbox,
	db *store.Store,
) error {
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events.Log(ctx, core.EventStartup, server.AppName+" starting", "version: "+server.AppVersion)
	logger.Info("Starting "+server.AppName, zap.String("version", server.AppVersion))

	if err := srv.Start(); err != nil {
		logger.Error("Failed to start control server", zap.Error(err))
		db.Close()
		return err
	}

	imapCfg := cfg.GetIMAP()
	switch {
	case !cfg.GetServer().AutoStart:
		logger.Info("Auto start disabled, waiting for a start request")
	case !imapCfg.Configured():
		logger.Warn("IMAP is not configured, email monitoring not started")
		events.Log(ctx, core.EventMonitorSkipped, "Email monitoring not started", "IMAP host is not configured")
	default:
		if err := pipeline.Start(); err != nil {
			logger.Error("Failed to start email monitoring", zap.Error(err))
		}
	}

	// Handle graceful shutdown
	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetPipeline().StopTimeout)
	defer cancel()

	if err := pipeline.Stop(shutdownCtx); err != nil {
		logger.Error("Email monitoring did not stop cleanly", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to stop control server", zap.Error(err))
	}
	broadcaster.Close()

	// Stop the cache cleanup if needed
	if stopper, ok := cacheRepo.(interface{ Stop() }); ok {
		stopper.Stop()
	}

	// Close any resources that need closing
	if closer, ok := assistant.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close LLM client", zap.Error(err))
		}
	}
	mb.Close()

	events.Log(context.Background(), core.EventShutdown, server.AppName+" stopped", "")
	if err := db.Close(); err != nil {
		logger.Error("Failed to close store", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
