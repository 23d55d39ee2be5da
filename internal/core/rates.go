package core

import "strings"

// Rate types understood by the invoicing collaborator
const (
	RateService = "service_rate"
	RateMileage = "mileage_rate"
	RateHourly  = "hourly_rate"
)

// DefaultRateKey is the client entry used when a client has no own rates
const DefaultRateKey = "default"

// RateBook maps a client identifier (email or name) to its billing rates.
// Keys are compared case-insensitively.
type RateBook map[string]map[string]float64

// Rate looks up a rate for the client, falling back to the default entry
func (b RateBook) Rate(clientIdentifier, rateType string) (float64, bool) {
	return b.RateFor(rateType, clientIdentifier)
}

// RateFor tries each identifier in turn before falling back to the default entry
func (b RateBook) RateFor(rateType string, identifiers ...string) (float64, bool) {
	rateType = strings.ToLower(rateType)
	candidates := append(append([]string(nil), identifiers...), DefaultRateKey)
	for _, id := range candidates {
		if rates, ok := b.lookup(id); ok {
			if v, ok := rates[rateType]; ok {
				return v, true
			}
		}
	}
	return 0, false
}

func (b RateBook) lookup(key string) (map[string]float64, bool) {
	if key == "" {
		return nil, false
	}
	if rates, ok := b[key]; ok {
		return rates, true
	}
	for k, rates := range b {
		if strings.EqualFold(k, key) {
			return rates, true
		}
	}
	return nil, false
}
