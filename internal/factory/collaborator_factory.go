package factory

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mikey/workauth-assistant/internal/adapters/billing"
	"github.com/mikey/workauth-assistant/internal/adapters/calendar"
	"github.com/mikey/workauth-assistant/internal/adapters/geocode"
	"github.com/mikey/workauth-assistant/internal/adapters/invoice"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/whitelist"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CollaboratorFactory builds the per-run extractor and dispatchers. It
// implements core.CollaboratorFactory.
type CollaboratorFactory struct {
	cfg       *config.Config
	cache     core.GeocodeCache
	assistant core.FieldAssistant
	notifiers *NotifierFactory
	events    core.EventLogger
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewCollaboratorFactory creates a collaborator factory. cache and assistant
// may be nil. The geocoding rate limiter is shared by every run.
func NewCollaboratorFactory(
	cfg *config.Config,
	cache core.GeocodeCache,
	assistant core.FieldAssistant,
	notifiers *NotifierFactory,
	events core.EventLogger,
	logger *zap.Logger,
) *CollaboratorFactory {
	if events == nil {
		events = core.NopEventLogger{}
	}
	return &CollaboratorFactory{
		cfg:       cfg,
		cache:     cache,
		assistant: assistant,
		notifiers: notifiers,
		events:    events,
		limiter:   geocode.NewLimiter(cfg.GetGeocode().MinInterval),
		logger:    logger,
	}
}

// Build creates the collaborators for one run. Every HTTP collaborator uses
// httpClient.
func (f *CollaboratorFactory) Build(ctx context.Context, httpClient *http.Client) (*core.Collaborators, error) {
	pipelineCfg := f.cfg.GetPipeline()
	loc, err := pipelineCfg.Location()
	if err != nil {
		f.events.Log(ctx, core.EventConfigError, "Invalid time zone", err.Error())
		return nil, err
	}

	rates := billing.LoadRates(ctx, f.cfg.GetBilling().RatesPath, f.events, f.logger)

	extractor, err := f.NewExtractor(httpClient, loc, rates)
	if err != nil {
		return nil, err
	}
	collab := &core.Collaborators{
		Extractor: whitelist.Gate(extractor, whitelist.NewChecker(pipelineCfg.SenderDomains, f.logger)),
	}

	if invoiceCfg := f.cfg.GetInvoice(); invoiceCfg.BaseURL != "" {
		collab.Invoices = invoice.NewInvoiceNinjaClient(httpClient, invoiceCfg, rates, f.logger)
	} else {
		f.logger.Info("Invoicing not configured, skipping invoice creation")
	}

	if calendarCfg := f.cfg.GetCalendar(); calendarCfg.Configured() {
		cal, err := calendar.NewGoogleCalendar(ctx, httpClient, calendarCfg, pipelineCfg.Timezone, f.logger)
		if err != nil {
			// The run continues without calendar events
			f.logger.Error("Failed to initialize calendar", zap.Error(err))
			f.events.Log(ctx, core.EventConfigError, "Calendar initialization failed", err.Error())
		} else {
			collab.Calendar = cal
		}
	} else {
		f.logger.Info("Calendar not configured, skipping event scheduling")
	}

	if f.notifiers != nil {
		notifier, err := f.notifiers.CreateNotifier(httpClient)
		if err != nil {
			f.events.Log(ctx, core.EventConfigError, "Notifier initialization failed", err.Error())
			return nil, fmt.Errorf("failed to create notifier: %w", err)
		}
		collab.Notifier = notifier
	}

	return collab, nil
}

// NewExtractor creates a DataExtractor. Geocoding is turned off when
// httpClient is nil or geocode.enabled is false.
func (f *CollaboratorFactory) NewExtractor(httpClient *http.Client, loc *time.Location, rates core.RateBook) (*core.DataExtractor, error) {
	geocodeCfg := f.cfg.GetGeocode()

	var geocoder core.GeocodeAPI
	if geocodeCfg.Enabled && httpClient != nil {
		if geocodeCfg.URL == "" {
			return nil, fmt.Errorf("geocode.url is required when geocoding is enabled")
		}
		geocoder = geocode.NewNominatimClient(httpClient, geocodeCfg.URL, geocodeCfg.UserAgent, f.limiter, f.logger)
	}

	return core.NewDataExtractor(core.ExtractorConfig{
		Location:        loc,
		GeocodeAttempts: geocodeCfg.RetryAttempts,
		GeocodeDelay:    geocodeCfg.RetryDelay,
	}, f.cache, geocoder, rates, f.assistant, f.events, f.logger), nil
}

var _ core.CollaboratorFactory = (*CollaboratorFactory)(nil)
