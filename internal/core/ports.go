package core

import (
	"context"
	"errors"
	"net/http"
)

// ErrCacheMiss is returned by a GeocodeCache when no entry exists for an address
var ErrCacheMiss = errors.New("geocode cache entry not found")

// GeocodeCache stores geocoding answers keyed by the exact address string
type GeocodeCache interface {
	// Lookup returns the cached entry or ErrCacheMiss. It never calls the network.
	Lookup(ctx context.Context, address string) (*GeocodeCacheEntry, error)

	// Store upserts an entry keyed by its query address
	Store(ctx context.Context, entry *GeocodeCacheEntry) error
}

// GeocodeAPI resolves an address through an external service.
// A nil hit with a nil error means the service had no answer.
type GeocodeAPI interface {
	Search(ctx context.Context, address string) (*GeocodeHit, error)
}

// Mailbox is a connection to a folder-based mail server
type Mailbox interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	FetchUnseen(ctx context.Context, folder string) ([]*Envelope, error)
	Archive(ctx context.Context, uid, sourceFolder, destFolder string) error
	Disconnect()
}

// RecordExtractor classifies envelopes and turns actionable ones into records
type RecordExtractor interface {
	IsActionable(env *Envelope) bool
	Process(ctx context.Context, env *Envelope) *ExtractedRecord
}

// InvoiceCreator creates an invoice for a record and returns its identifier
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, record *ExtractedRecord) (string, error)
}

// CalendarScheduler creates a calendar event for a record. An empty
// identifier with a nil error means the event was skipped.
type CalendarScheduler interface {
	CreateEvent(ctx context.Context, record *ExtractedRecord) (string, error)
}

// Notifier delivers processing summaries
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// StatusSink receives human-readable progress lines
type StatusSink interface {
	Broadcast(line string)
}

// EventLogger appends to the durable event log. Implementations must not
// fail the caller.
type EventLogger interface {
	Log(ctx context.Context, eventType, message, details string)
}

// FieldAssistant suggests optional record fields from an email
type FieldAssistant interface {
	SuggestFields(ctx context.Context, env *Envelope) (*FieldHints, error)
}

// Collaborators are the per-run components that share one HTTP client.
// Any dispatcher may be nil when it is not configured.
type Collaborators struct {
	Extractor RecordExtractor
	Invoices  InvoiceCreator
	Calendar  CalendarScheduler
	Notifier  Notifier
}

// CollaboratorFactory builds the per-run collaborators around a shared HTTP client
type CollaboratorFactory interface {
	Build(ctx context.Context, httpClient *http.Client) (*Collaborators, error)
}

// NopEventLogger discards events
type NopEventLogger struct{}

// Log implements EventLogger
func (NopEventLogger) Log(context.Context, string, string, string) {}
