package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleCalendar books service appointments in a Google Calendar
type GoogleCalendar struct {
	service    *gcal.Service
	calendarID string
	duration   time.Duration
	timeZone   string
	now        func() time.Time
	logger     *zap.Logger
}

// NewGoogleCalendar authenticates with a stored refresh token. Token
// refreshes and API calls both go through the transport of httpClient.
func NewGoogleCalendar(ctx context.Context, httpClient *http.Client, cfg config.CalendarConfig, timeZone string, logger *zap.Logger) (*GoogleCalendar, error) {
	if !cfg.Configured() {
		return nil, errors.New("google calendar credentials are not configured")
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gcal.CalendarEventsScope},
	}
	if cfg.TokenURL != "" {
		oauthCfg.Endpoint.TokenURL = cfg.TokenURL
	}

	// The token source outlives any single request, so it must not inherit ctx's cancellation
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	source := oauthCfg.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	authClient := oauth2.NewClient(tokenCtx, source)
	authClient.Timeout = httpClient.Timeout

	opts := []option.ClientOption{option.WithHTTPClient(authClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	duration := cfg.EventDuration
	if duration <= 0 {
		duration = time.Hour
	}
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	return &GoogleCalendar{
		service:    service,
		calendarID: calendarID,
		duration:   duration,
		timeZone:   timeZone,
		now:        time.Now,
		logger:     logger,
	}, nil
}

// CreateEvent books the service visit and returns the event id. Records
// without a service time or with a past one are skipped with ("", nil).
func (c *GoogleCalendar) CreateEvent(ctx context.Context, record *core.ExtractedRecord) (string, error) {
	if record.ServiceDateTime == nil {
		c.logger.Info("No service time, skipping calendar event", zap.String("authorization_id", record.AuthorizationID))
		return "", nil
	}
	start := *record.ServiceDateTime
	if start.Before(c.now()) {
		c.logger.Info("Service time is in the past, skipping calendar event",
			zap.String("authorization_id", record.AuthorizationID),
			zap.Time("service_datetime", start))
		return "", nil
	}
	end := start.Add(c.duration)

	summary := "Auth ID: " + record.AuthorizationID
	if record.PatientName != "" {
		summary += " - Patient: " + record.PatientName
	}

	location := record.ServiceLocationAddress
	if location == "" && record.GeocodedLocation != nil {
		location = record.GeocodedLocation.DisplayName
	}

	timeZone := c.timeZone
	if timeZone == "" {
		timeZone = start.Location().String()
	}

	event := &gcal.Event{
		Summary:     summary,
		Location:    location,
		Description: description(record),
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: timeZone},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: timeZone},
		Reminders:   &gcal.EventReminders{UseDefault: true},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{"authorizationId": record.AuthorizationID},
		},
	}

	created, err := c.service.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("calendar API returned %d: %s", apiErr.Code, apiErr.Message)
		}
		return "", fmt.Errorf("failed to create calendar event: %w", err)
	}

	c.logger.Info("Created calendar event",
		zap.String("event_id", created.Id),
		zap.String("link", created.HtmlLink),
		zap.String("authorization_id", record.AuthorizationID))
	return created.Id, nil
}

func description(record *core.ExtractedRecord) string {
	name := orNA(record.ClientName)
	email := orNA(record.ClientEmail)
	return fmt.Sprintf("Automated entry for Authorization ID: %s\nClient: %s (%s)\nRaw email subject: %s",
		record.AuthorizationID, name, email, orNA(record.OriginalSubject))
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

var _ core.CalendarScheduler = (*GoogleCalendar)(nil)
