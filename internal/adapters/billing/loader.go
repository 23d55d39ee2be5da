package billing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// LoadRates reads the client billing rate file. A missing or malformed file
// yields an empty book and a CONFIG_ERROR event; it never stops startup.
//
// The file maps a client identifier (email or name) to its rates:
//
//	{"billing@acme.com": {"service_rate": 120, "mileage_rate": 0.65},
//	 "default": {"service_rate": 100, "mileage_rate": 0.5}}
func LoadRates(ctx context.Context, path string, events core.EventLogger, logger *zap.Logger) core.RateBook {
	book, err := readRates(path)
	if err != nil {
		logger.Warn("Failed to load client billing rates, continuing without them",
			zap.String("path", path),
			zap.Error(err))
		if events != nil {
			events.Log(ctx, core.EventConfigError, "Billing rates could not be loaded", fmt.Sprintf("%s: %v", path, err))
		}
		return core.RateBook{}
	}

	logger.Info("Loaded client billing rates", zap.String("path", path), zap.Int("clients", len(book)))
	return book
}

func readRates(path string) (core.RateBook, error) {
	if path == "" {
		return nil, fmt.Errorf("no billing rates path configured")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("billing rates file not found: %w", err)
	}

	// Client identifiers contain dots, so the default key delimiter cannot be used
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to parse billing rates: %w", err)
	}

	book := make(core.RateBook)
	for client, raw := range v.AllSettings() {
		entries, err := cast.ToStringMapE(raw)
		if err != nil {
			return nil, fmt.Errorf("rates for %q are not an object: %w", client, err)
		}

		rates := make(map[string]float64, len(entries))
		for rateType, value := range entries {
			rate, err := cast.ToFloat64E(value)
			if err != nil {
				return nil, fmt.Errorf("rate %s for %q is not a number: %w", rateType, client, err)
			}
			if rate < 0 {
				return nil, fmt.Errorf("rate %s for %q is negative", rateType, client)
			}
			rates[strings.ToLower(rateType)] = rate
		}
		book[client] = rates
	}
	return book, nil
}
