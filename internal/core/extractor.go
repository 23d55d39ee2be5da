package core

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mikey/workauth-assistant/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var authorizationKeywords = []string{
	"Authorization ID No.",
	"Work Authorization",
	"Service Authorization",
}

var (
	authorizationIDPattern = regexp.MustCompile(`(?i)(Authorization ID No\.|Auth ID|Authorization #|Service ID):\s*([A-Z0-9-]+)`)
	mileagePattern         = regexp.MustCompile(`(?i)(\d+\.?\d*)\s*(miles|mi)\b`)
	patientPattern         = regexp.MustCompile(`(?i)(?:Patient(?: Name)?|Client Name):\s*(.+)`)
	locationPattern        = regexp.MustCompile(`(?i)(?:Service Address|Location|Address):\s*(.+)`)
	namedAddressPattern    = regexp.MustCompile(`^(.*)<(.+)>`)
)

// ExtractorConfig holds the extractor's tunables
type ExtractorConfig struct {
	Location        *time.Location
	GeocodeAttempts int
	GeocodeDelay    time.Duration
}

// DataExtractor classifies emails and parses work authorization records
type DataExtractor struct {
	cache     GeocodeCache
	geocoder  GeocodeAPI
	policy    retry.Policy
	rates     RateBook
	assistant FieldAssistant
	events    EventLogger
	loc       *time.Location
	logger    *zap.Logger
	inflight  singleflight.Group
}

// NewDataExtractor creates an extractor. cache, geocoder and assistant are optional.
func NewDataExtractor(
	cfg ExtractorConfig,
	cache GeocodeCache,
	geocoder GeocodeAPI,
	rates RateBook,
	assistant FieldAssistant,
	events EventLogger,
	logger *zap.Logger,
) *DataExtractor {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	if rates == nil {
		rates = RateBook{}
	}
	if events == nil {
		events = NopEventLogger{}
	}
	return &DataExtractor{
		cache:     cache,
		geocoder:  geocoder,
		policy:    retry.New(cfg.GeocodeAttempts, cfg.GeocodeDelay, logger),
		rates:     rates,
		assistant: assistant,
		events:    events,
		loc:       loc,
		logger:    logger,
	}
}

// Rate returns a billing rate for the client, falling back to the default entry
func (e *DataExtractor) Rate(clientIdentifier, rateType string) (float64, bool) {
	return e.rates.Rate(clientIdentifier, rateType)
}

// IsActionable reports whether the email looks like a work authorization:
// a keyword in the subject or body, or an authorization id in the body.
func (e *DataExtractor) IsActionable(env *Envelope) bool {
	subject := strings.ToLower(env.Subject)
	body := strings.ToLower(env.BodyText)
	for _, keyword := range authorizationKeywords {
		k := strings.ToLower(keyword)
		if strings.Contains(subject, k) || strings.Contains(body, k) {
			e.logger.Debug("Authorization keyword found", zap.String("keyword", keyword), zap.String("uid", env.UID))
			return true
		}
	}
	return authorizationIDPattern.MatchString(env.BodyText)
}

// ExtractAuthorizationID returns the first authorization id in text
func (e *DataExtractor) ExtractAuthorizationID(text string) (string, bool) {
	m := authorizationIDPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	id := strings.TrimSpace(m[2])
	return id, id != ""
}

// ExtractDateTime finds a date and an optional time in text and localizes
// them into the canonical zone
func (e *DataExtractor) ExtractDateTime(text string) *time.Time {
	year, month, day, ok := parseDate(text)
	if !ok {
		e.logger.Debug("No date found in email content")
		return nil
	}

	hour, minute, found, ok := parseClock(text)
	if !ok {
		e.logger.Warn("Time found in email content is out of range")
		return nil
	}
	if !found {
		e.logger.Debug("No time found, defaulting to midnight")
	}

	t, ok := localize(year, month, day, hour, minute, e.loc)
	if !ok {
		e.logger.Warn("Service time does not exist in the canonical zone",
			zap.Int("year", year),
			zap.Int("month", int(month)),
			zap.Int("day", day),
			zap.Int("hour", hour),
			zap.Int("minute", minute),
			zap.String("zone", e.loc.String()))
		return nil
	}
	return &t
}

// ExtractMileage returns the first "<n> miles" or "<n> mi" value in text
func (e *DataExtractor) ExtractMileage(text string) *float64 {
	m := mileagePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	miles, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		e.logger.Warn("Could not parse mileage", zap.String("match", m[1]), zap.Error(err))
		return nil
	}
	return &miles
}

// ExtractClientIdentity parses a `"Name" <email>` header, falling back to
// treating the whole header as the address
func (e *DataExtractor) ExtractClientIdentity(from string) ClientIdentity {
	if m := namedAddressPattern.FindStringSubmatch(from); m != nil {
		email := strings.TrimSpace(m[2])
		name := strings.TrimSpace(strings.ReplaceAll(m[1], `"`, ""))
		if name == "" {
			name = localPart(email)
		}
		return ClientIdentity{Name: name, Email: email}
	}
	email := strings.TrimSpace(from)
	return ClientIdentity{Name: localPart(email), Email: email}
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}

// Geocode resolves an address, consulting the cache first. It returns nil
// when the address cannot be resolved and never fails the caller.
func (e *DataExtractor) Geocode(ctx context.Context, address string) *GeocodeResult {
	if address == "" {
		return nil
	}

	if result, ok := e.cachedGeocode(ctx, address); ok {
		return result
	}

	if e.geocoder == nil {
		return nil
	}

	// Concurrent requests for one address share a single external call.
	// The cache is checked again inside the group since an earlier call may
	// have stored the address after our first lookup.
	v, _, _ := e.inflight.Do(address, func() (any, error) {
		if result, ok := e.cachedGeocode(ctx, address); ok {
			return result, nil
		}
		return e.geocodeRemote(ctx, address), nil
	})
	result, _ := v.(*GeocodeResult)
	return result
}

func (e *DataExtractor) cachedGeocode(ctx context.Context, address string) (*GeocodeResult, bool) {
	if e.cache == nil {
		return nil, false
	}
	entry, err := e.cache.Lookup(ctx, address)
	switch {
	case err == nil:
		e.logger.Debug("Geocode cache hit", zap.String("address", address))
		e.events.Log(ctx, EventGeocodeCacheHit, "Geocode cache hit", address)
		return entry.Result(), true
	case !errors.Is(err, ErrCacheMiss):
		e.logger.Warn("Geocode cache lookup failed", zap.String("address", address), zap.Error(err))
	}
	return nil, false
}

func (e *DataExtractor) geocodeRemote(ctx context.Context, address string) *GeocodeResult {
	hit, err := retry.Do(ctx, e.policy, "geocode", func(ctx context.Context) (*GeocodeHit, error) {
		return e.geocoder.Search(ctx, address)
	})
	if err != nil {
		e.logger.Warn("Geocoding failed", zap.String("address", address), zap.Error(err))
		e.events.Log(ctx, EventGeocodeFail, "Geocoding failed", address+": "+err.Error())
		return nil
	}
	if hit == nil {
		e.logger.Info("Geocoding returned no results", zap.String("address", address))
		e.events.Log(ctx, EventGeocodeFail, "Geocoding returned no results", address)
		return nil
	}

	if e.cache != nil {
		entry := &GeocodeCacheEntry{
			QueryAddress: address,
			Latitude:     hit.Latitude,
			Longitude:    hit.Longitude,
			RawResponse:  hit.Raw,
			CachedAt:     time.Now().UTC(),
		}
		if err := e.cache.Store(ctx, entry); err != nil {
			e.logger.Warn("Failed to cache geocode result", zap.String("address", address), zap.Error(err))
		}
	}

	e.events.Log(ctx, EventGeocodeSuccess, "Geocoded address", address)
	return &GeocodeResult{
		Latitude:    hit.Latitude,
		Longitude:   hit.Longitude,
		DisplayName: hit.DisplayName,
	}
}

// Process turns an envelope into a record. It returns nil when the email
// is not actionable or carries no authorization id. Fields that cannot be
// extracted are left unset.
func (e *DataExtractor) Process(ctx context.Context, env *Envelope) *ExtractedRecord {
	if !e.IsActionable(env) {
		e.logger.Info("Email is not an authorization", zap.String("uid", env.UID), zap.String("subject", env.Subject))
		return nil
	}

	body := env.BodyText
	authID, ok := e.ExtractAuthorizationID(body)
	if !ok {
		authID, ok = e.ExtractAuthorizationID(env.Subject)
	}
	if !ok {
		e.logger.Warn("Authorization ID not found in actionable email",
			zap.String("uid", env.UID),
			zap.String("subject", env.Subject))
		e.events.Log(ctx, EventExtractionFail, "Authorization ID not found", env.Subject)
		return nil
	}

	identity := e.ExtractClientIdentity(env.From)
	record := &ExtractedRecord{
		AuthorizationID:        authID,
		ClientName:             identity.Name,
		ClientEmail:            identity.Email,
		ServiceDateTime:        e.ExtractDateTime(body),
		Mileage:                e.ExtractMileage(body),
		PatientName:            firstLine(patientPattern, body),
		ServiceLocationAddress: firstLine(locationPattern, body),
		OriginalSubject:        env.Subject,
		OriginalUID:            env.UID,
	}

	e.applyHints(ctx, env, record)

	if record.ServiceLocationAddress != "" {
		record.GeocodedLocation = e.Geocode(ctx, record.ServiceLocationAddress)
	}

	e.logger.Info("Extracted authorization record",
		zap.String("uid", env.UID),
		zap.String("authorization_id", authID),
		zap.Bool("has_datetime", record.ServiceDateTime != nil),
		zap.Bool("has_mileage", record.Mileage != nil))

	details, _ := json.Marshal(record)
	e.events.Log(ctx, EventExtractionSuccess, "Extracted data for Auth ID: "+authID, string(details))

	return record
}

// applyHints fills fields the patterns missed from the optional assistant
func (e *DataExtractor) applyHints(ctx context.Context, env *Envelope, record *ExtractedRecord) {
	if e.assistant == nil {
		return
	}
	if record.PatientName != "" && record.ServiceLocationAddress != "" && record.Mileage != nil {
		return
	}

	hints, err := e.assistant.SuggestFields(ctx, env)
	if err != nil {
		e.logger.Warn("Field assistant failed", zap.String("uid", env.UID), zap.Error(err))
		return
	}
	if hints == nil {
		return
	}

	if record.PatientName == "" {
		record.PatientName = strings.TrimSpace(hints.PatientName)
	}
	if record.ServiceLocationAddress == "" {
		record.ServiceLocationAddress = strings.TrimSpace(hints.ServiceLocationAddress)
	}
	if record.Mileage == nil && hints.Mileage != nil && *hints.Mileage >= 0 {
		miles := *hints.Mileage
		record.Mileage = &miles
	}
}

func firstLine(pattern *regexp.Regexp, text string) string {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
