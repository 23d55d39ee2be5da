package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mapCache struct {
	mu      sync.Mutex
	entries map[string]*GeocodeCacheEntry
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]*GeocodeCacheEntry)}
}

func (c *mapCache) Lookup(_ context.Context, address string) (*GeocodeCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[address]
	if !ok {
		return nil, ErrCacheMiss
	}
	return entry, nil
}

func (c *mapCache) Store(_ context.Context, entry *GeocodeCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.QueryAddress] = entry
	return nil
}

type countingGeocoder struct {
	calls atomic.Int32
	fail  int32
	hit   *GeocodeHit
}

func (g *countingGeocoder) Search(_ context.Context, _ string) (*GeocodeHit, error) {
	n := g.calls.Add(1)
	if n <= g.fail {
		return nil, errors.New("geocoder unavailable")
	}
	return g.hit, nil
}

type recordingEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingEvents) Log(_ context.Context, eventType, _, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
}

func (r *recordingEvents) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.types {
		if t == eventType {
			return true
		}
	}
	return false
}

type stubAssistant struct {
	hints *FieldHints
	err   error
	calls int
}

func (s *stubAssistant) SuggestFields(context.Context, *Envelope) (*FieldHints, error) {
	s.calls++
	return s.hints, s.err
}

func newTestExtractor(t *testing.T, cache GeocodeCache, geocoder GeocodeAPI, assistant FieldAssistant, events EventLogger) *DataExtractor {
	t.Helper()
	cfg := ExtractorConfig{
		Location:        chicago(t),
		GeocodeAttempts: 2,
		GeocodeDelay:    time.Millisecond,
	}
	rates := RateBook{
		"default":             {RateService: 80, RateMileage: 0.5},
		"billing@example.com": {RateService: 120},
	}
	return NewDataExtractor(cfg, cache, geocoder, rates, assistant, events, zaptest.NewLogger(t))
}

func sampleEnvelope() *Envelope {
	return &Envelope{
		UID:     "42",
		Subject: "Work Authorization - ID ABC12345",
		From:    `"Acme Billing" <billing@example.com>`,
		BodyText: "Authorization ID No.: ABC12345\n" +
			"Date of service: 07/15/2024 at 2:30 PM\n" +
			"Patient Name: John Doe\n" +
			"Location: 123 Main St\n" +
			"Estimated travel: 25.5 miles\n",
	}
}

func TestIsActionable(t *testing.T) {
	e := newTestExtractor(t, nil, nil, nil, nil)

	tests := []struct {
		name string
		env  *Envelope
		want bool
	}{
		{"keyword in subject", &Envelope{Subject: "New WORK AUTHORIZATION"}, true},
		{"keyword in body", &Envelope{Subject: "hello", BodyText: "see service authorization below"}, true},
		{"id pattern in body", &Envelope{Subject: "hello", BodyText: "Auth ID: XY-9"}, true},
		{"id pattern only in subject", &Envelope{Subject: "Service ID: 77", BodyText: "nothing"}, false},
		{"newsletter", &Envelope{Subject: "Weekly news", BodyText: "Nothing to see"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.IsActionable(tt.env))
		})
	}
}

func TestExtractAuthorizationID(t *testing.T) {
	e := newTestExtractor(t, nil, nil, nil, nil)

	id, ok := e.ExtractAuthorizationID("Authorization ID No.: ABC-123-DEF")
	require.True(t, ok)
	assert.Equal(t, "ABC-123-DEF", id)

	id, ok = e.ExtractAuthorizationID("authorization #:   q77")
	require.True(t, ok)
	assert.Equal(t, "q77", id)

	_, ok = e.ExtractAuthorizationID("no identifier here")
	assert.False(t, ok)
}

func TestExtractMileage(t *testing.T) {
	e := newTestExtractor(t, nil, nil, nil, nil)

	miles := e.ExtractMileage("Round trip is 25.5 miles")
	require.NotNil(t, miles)
	assert.Equal(t, 25.5, *miles)

	miles = e.ExtractMileage("about 12 mi each way")
	require.NotNil(t, miles)
	assert.Equal(t, 12.0, *miles)

	assert.Nil(t, e.ExtractMileage("No distance given"))
	assert.Nil(t, e.ExtractMileage("meet at the mill"))
}

func TestExtractDateTime(t *testing.T) {
	e := newTestExtractor(t, nil, nil, nil, nil)
	loc := chicago(t)

	got := e.ExtractDateTime("Service 07/15/2024 2:30 PM")
	require.NotNil(t, got)
	assert.True(t, got.Equal(time.Date(2024, time.July, 15, 14, 30, 0, 0, loc)))

	got = e.ExtractDateTime("Service 07/15/2024")
	require.NotNil(t, got)
	assert.Equal(t, 0, got.Hour())
	assert.Equal(t, 0, got.Minute())

	assert.Nil(t, e.ExtractDateTime("Service 2024-03-10 2:30 AM"))
	assert.Nil(t, e.ExtractDateTime("Service 07/15/2024 at 25:10"))
	assert.Nil(t, e.ExtractDateTime("no date at all"))

	got = e.ExtractDateTime("Service 2024-11-03 1:30 AM")
	require.NotNil(t, got)
	_, offset := got.Zone()
	assert.Equal(t, -6*3600, offset)
}

func TestExtractClientIdentity(t *testing.T) {
	e := newTestExtractor(t, nil, nil, nil, nil)

	tests := []struct {
		from string
		want ClientIdentity
	}{
		{`"Acme Billing" <billing@example.com>`, ClientIdentity{Name: "Acme Billing", Email: "billing@example.com"}},
		{`Jane Roe <jane@example.com>`, ClientIdentity{Name: "Jane Roe", Email: "jane@example.com"}},
		{`<ops@example.com>`, ClientIdentity{Name: "ops", Email: "ops@example.com"}},
		{`plain@example.com`, ClientIdentity{Name: "plain", Email: "plain@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			assert.Equal(t, tt.want, e.ExtractClientIdentity(tt.from))
		})
	}
}

func TestProcessEndToEnd(t *testing.T) {
	geocoder := &countingGeocoder{hit: &GeocodeHit{
		Latitude:    41.88,
		Longitude:   -87.63,
		DisplayName: "123 Main St, Springfield",
		Raw:         []byte(`{"lat":"41.88","lon":"-87.63","display_name":"123 Main St, Springfield"}`),
	}}
	events := &recordingEvents{}
	e := newTestExtractor(t, newMapCache(), geocoder, nil, events)

	record := e.Process(context.Background(), sampleEnvelope())
	require.NotNil(t, record)

	assert.Equal(t, "ABC12345", record.AuthorizationID)
	assert.Equal(t, "Acme Billing", record.ClientName)
	assert.Equal(t, "billing@example.com", record.ClientEmail)
	require.NotNil(t, record.Mileage)
	assert.Equal(t, 25.5, *record.Mileage)
	assert.Equal(t, "John Doe", record.PatientName)
	assert.Equal(t, "123 Main St", record.ServiceLocationAddress)
	require.NotNil(t, record.ServiceDateTime)
	assert.Equal(t, 14, record.ServiceDateTime.Hour())
	require.NotNil(t, record.GeocodedLocation)
	assert.Equal(t, "123 Main St, Springfield", record.GeocodedLocation.DisplayName)
	assert.Equal(t, "42", record.OriginalUID)
	assert.Equal(t, "Work Authorization - ID ABC12345", record.OriginalSubject)

	assert.True(t, events.has(EventExtractionSuccess))
	assert.True(t, events.has(EventGeocodeSuccess))
}

func TestProcessAuthorizationIDFromSubject(t *testing.T) {
	e := newTestExtractor(t, nil, nil, nil, nil)

	record := e.Process(context.Background(), &Envelope{
		UID:      "7",
		Subject:  "Work Authorization Service ID: SUBJ-1",
		From:     "ops@example.com",
		BodyText: "Please see attached.",
	})
	require.NotNil(t, record)
	assert.Equal(t, "SUBJ-1", record.AuthorizationID)
	assert.Nil(t, record.ServiceDateTime)
	assert.Nil(t, record.Mileage)
}

func TestProcessNotActionableOrMissingID(t *testing.T) {
	events := &recordingEvents{}
	e := newTestExtractor(t, nil, nil, nil, events)

	assert.Nil(t, e.Process(context.Background(), &Envelope{Subject: "Lunch?", BodyText: "Tacos"}))

	record := e.Process(context.Background(), &Envelope{Subject: "Work Authorization", BodyText: "No id here"})
	assert.Nil(t, record)
	assert.True(t, events.has(EventExtractionFail))
}

func TestGeocodeUsesCache(t *testing.T) {
	geocoder := &countingGeocoder{hit: &GeocodeHit{
		Latitude:    30.1,
		Longitude:   -97.7,
		DisplayName: "Austin",
		Raw:         []byte(`{"display_name":"Austin"}`),
	}}
	events := &recordingEvents{}
	e := newTestExtractor(t, newMapCache(), geocoder, nil, events)

	first := e.Geocode(context.Background(), "1 Congress Ave")
	second := e.Geocode(context.Background(), "1 Congress Ave")

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, int32(1), geocoder.calls.Load())
	assert.Equal(t, *first, *second)
	assert.True(t, events.has(EventGeocodeCacheHit))
}

// stallingCache holds its first lookup after deciding it was a miss, so a
// caller can be parked between the cache check and the external call.
type stallingCache struct {
	*mapCache
	once    sync.Once
	stalled chan struct{}
	release chan struct{}
}

func (c *stallingCache) Lookup(ctx context.Context, address string) (*GeocodeCacheEntry, error) {
	entry, err := c.mapCache.Lookup(ctx, address)
	first := false
	c.once.Do(func() { first = true })
	if first {
		close(c.stalled)
		<-c.release
	}
	return entry, err
}

func TestGeocodeLateMissSharesStoredResult(t *testing.T) {
	geocoder := &countingGeocoder{hit: &GeocodeHit{
		Latitude:    41.9,
		Longitude:   -87.6,
		DisplayName: "Chicago",
		Raw:         []byte(`{"display_name":"Chicago"}`),
	}}
	cache := &stallingCache{
		mapCache: newMapCache(),
		stalled:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	e := newTestExtractor(t, cache, geocoder, nil, nil)

	late := make(chan *GeocodeResult, 1)
	go func() {
		late <- e.Geocode(context.Background(), "233 S Wacker Dr")
	}()
	<-cache.stalled

	first := e.Geocode(context.Background(), "233 S Wacker Dr")
	require.NotNil(t, first)
	close(cache.release)

	second := <-late
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
	assert.Equal(t, int32(1), geocoder.calls.Load())
}

func TestGeocodeRetriesThenGivesUp(t *testing.T) {
	geocoder := &countingGeocoder{fail: 5}
	events := &recordingEvents{}
	cache := newMapCache()
	e := newTestExtractor(t, cache, geocoder, nil, events)

	assert.Nil(t, e.Geocode(context.Background(), "nowhere"))
	assert.Equal(t, int32(2), geocoder.calls.Load())
	assert.True(t, events.has(EventGeocodeFail))
	assert.Empty(t, cache.entries)
}

func TestGeocodeRecoversOnSecondAttempt(t *testing.T) {
	geocoder := &countingGeocoder{fail: 1, hit: &GeocodeHit{Latitude: 1, Longitude: 2}}
	e := newTestExtractor(t, newMapCache(), geocoder, nil, nil)

	result := e.Geocode(context.Background(), "somewhere")
	require.NotNil(t, result)
	assert.Equal(t, 1.0, result.Latitude)
	assert.Equal(t, int32(2), geocoder.calls.Load())
}

func TestGeocodeNoResults(t *testing.T) {
	geocoder := &countingGeocoder{}
	cache := newMapCache()
	e := newTestExtractor(t, cache, geocoder, nil, nil)

	assert.Nil(t, e.Geocode(context.Background(), "nowhere"))
	assert.Equal(t, int32(1), geocoder.calls.Load())
	assert.Empty(t, cache.entries)
}

func TestFieldHintsFillOnlyMissingFields(t *testing.T) {
	miles := 9.0
	assistant := &stubAssistant{hints: &FieldHints{
		PatientName:            "Should Not Override",
		ServiceLocationAddress: "500 Elm St",
		Mileage:                &miles,
	}}
	e := newTestExtractor(t, nil, nil, assistant, nil)

	record := e.Process(context.Background(), &Envelope{
		Subject:  "Work Authorization",
		From:     "ops@example.com",
		BodyText: "Auth ID: H-1\nPatient: Mary Major",
	})
	require.NotNil(t, record)
	assert.Equal(t, 1, assistant.calls)
	assert.Equal(t, "Mary Major", record.PatientName)
	assert.Equal(t, "500 Elm St", record.ServiceLocationAddress)
	require.NotNil(t, record.Mileage)
	assert.Equal(t, 9.0, *record.Mileage)
}

func TestFieldAssistantErrorIsIgnored(t *testing.T) {
	assistant := &stubAssistant{err: errors.New("model unavailable")}
	e := newTestExtractor(t, nil, nil, assistant, nil)

	record := e.Process(context.Background(), &Envelope{
		Subject:  "Work Authorization",
		From:     "ops@example.com",
		BodyText: "Auth ID: H-2",
	})
	require.NotNil(t, record)
	assert.Empty(t, record.PatientName)
}

func TestRateFallsBackToDefault(t *testing.T) {
	e := newTestExtractor(t, nil, nil, nil, nil)

	rate, ok := e.Rate("BILLING@example.com", RateService)
	require.True(t, ok)
	assert.Equal(t, 120.0, rate)

	rate, ok = e.Rate("billing@example.com", RateMileage)
	require.True(t, ok)
	assert.Equal(t, 0.5, rate)

	_, ok = e.Rate("unknown", RateHourly)
	assert.False(t, ok)
}
