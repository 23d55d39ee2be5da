package billing

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) Log(_ context.Context, eventType, _, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRatesJSON(t *testing.T) {
	path := writeFile(t, "rates.json", `{
		"billing@acme.example.com": {"service_rate": 120, "mileage_rate": 0.65},
		"Acme Health": {"hourly_rate": "45.5"},
		"default": {"service_rate": 100, "mileage_rate": 0.5}
	}`)
	events := &eventRecorder{}

	book := LoadRates(context.Background(), path, events, zaptest.NewLogger(t))

	rate, ok := book.Rate("billing@acme.example.com", core.RateService)
	require.True(t, ok)
	assert.Equal(t, 120.0, rate)

	rate, ok = book.Rate("acme health", core.RateHourly)
	require.True(t, ok)
	assert.Equal(t, 45.5, rate)

	rate, ok = book.Rate("someone@else.example.com", core.RateMileage)
	require.True(t, ok)
	assert.Equal(t, 0.5, rate)

	assert.Empty(t, events.events)
}

func TestLoadRatesYAML(t *testing.T) {
	path := writeFile(t, "rates.yaml", `
ops@clinic.example.org:
  service_rate: 80
default:
  mileage_rate: 0.4
`)
	book := LoadRates(context.Background(), path, nil, zaptest.NewLogger(t))

	rate, ok := book.Rate("ops@clinic.example.org", core.RateService)
	require.True(t, ok)
	assert.Equal(t, 80.0, rate)
}

func TestLoadRatesMissingFile(t *testing.T) {
	events := &eventRecorder{}
	book := LoadRates(context.Background(), filepath.Join(t.TempDir(), "absent.json"), events, zaptest.NewLogger(t))

	assert.Empty(t, book)
	assert.Equal(t, []string{core.EventConfigError}, events.events)
}

func TestLoadRatesMalformed(t *testing.T) {
	tests := map[string]string{
		"broken json":     `{"default": {"service_rate": 1}`,
		"not an object":   `{"default": 12}`,
		"not a number":    `{"default": {"service_rate": "cheap"}}`,
		"negative amount": `{"default": {"service_rate": -1}}`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			events := &eventRecorder{}
			book := LoadRates(context.Background(), writeFile(t, "rates.json", content), events, zaptest.NewLogger(t))
			assert.Empty(t, book)
			assert.Equal(t, []string{core.EventConfigError}, events.events)
		})
	}
}
