package core

import (
	"encoding/json"
	"time"
)

// Envelope is the normalized, read-only form of one fetched email message
type Envelope struct {
	UID             string
	Subject         string
	From            string
	To              string
	Date            time.Time
	BodyText        string
	BodyHTML        string
	AttachmentNames []string
}

// ClientIdentity is the sender identity derived from a From header
type ClientIdentity struct {
	Name  string
	Email string
}

// GeocodeResult is a resolved service location
type GeocodeResult struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name"`
}

// GeocodeHit is a single result returned by the external geocoding API
type GeocodeHit struct {
	Latitude    float64
	Longitude   float64
	DisplayName string
	Raw         []byte
}

// GeocodeCacheEntry is one cached geocoding answer keyed by the exact query string
type GeocodeCacheEntry struct {
	QueryAddress string    `db:"query_address"`
	Latitude     float64   `db:"latitude"`
	Longitude    float64   `db:"longitude"`
	RawResponse  []byte    `db:"raw_response"`
	CachedAt     time.Time `db:"cached_at"`
}

// Result converts the entry to a GeocodeResult, recovering the display
// name from the raw response when it is available
func (e *GeocodeCacheEntry) Result() *GeocodeResult {
	result := &GeocodeResult{
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
	}
	var raw struct {
		DisplayName string `json:"display_name"`
	}
	if len(e.RawResponse) > 0 && json.Unmarshal(e.RawResponse, &raw) == nil {
		result.DisplayName = raw.DisplayName
	}
	return result
}

// ExtractedRecord is the business record derived from an actionable email.
// AuthorizationID is never empty on a record handed out by the extractor.
type ExtractedRecord struct {
	AuthorizationID        string         `json:"authorization_id"`
	ClientName             string         `json:"client_name"`
	ClientEmail            string         `json:"client_email"`
	ServiceDateTime        *time.Time     `json:"service_datetime,omitempty"`
	Mileage                *float64       `json:"mileage,omitempty"`
	PatientName            string         `json:"patient_name,omitempty"`
	ServiceLocationAddress string         `json:"service_location_address,omitempty"`
	GeocodedLocation       *GeocodeResult `json:"geocoded_location,omitempty"`
	OriginalSubject        string         `json:"original_subject"`
	OriginalUID            string         `json:"original_uid"`
	InvoiceID              string         `json:"invoice_id,omitempty"`
	CalendarEventID        string         `json:"calendar_event_id,omitempty"`
}

// FieldHints are optional values suggested by an LLM for fields the
// pattern extractor could not find
type FieldHints struct {
	PatientName            string   `json:"patient_name"`
	ServiceLocationAddress string   `json:"service_location_address"`
	Mileage                *float64 `json:"mileage"`
}

// EventLogEntry is one row of the append-only event log
type EventLogEntry struct {
	ID        int64     `db:"id" json:"id"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	EventType string    `db:"event_type" json:"event_type"`
	Message   string    `db:"message" json:"message"`
	Details   *string   `db:"details" json:"details"`
}
