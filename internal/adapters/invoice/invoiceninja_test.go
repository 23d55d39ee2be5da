package invoice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeNinja struct {
	mu          sync.Mutex
	requests    []string
	clients     map[string]string
	invoice     map[string]any
	client      map[string]any
	failInvoice int
	failLookup  int
	rejectAll   bool
}

func (f *fakeNinja) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	if r.Header.Get("X-API-Token") != "secret-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.rejectAll {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"The given data was invalid."}`))
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/clients":
		if f.failLookup > 0 {
			f.failLookup--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var data []map[string]string
		if id, ok := f.clients[r.URL.Query().Get("email")]; ok {
			data = append(data, map[string]string{"id": id})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/clients":
		f.client = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&f.client)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"id": "new-client"}})
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/invoices":
		if f.failInvoice > 0 {
			f.failInvoice--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		f.invoice = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&f.invoice)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"id": "inv-77", "number": "0077"}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeNinja) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func newTestClient(t *testing.T, fake *fakeNinja, rates core.RateBook) *InvoiceNinjaClient {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	cfg := config.InvoiceConfig{
		BaseURL:            srv.URL + "/",
		APIToken:           "secret-token",
		RetryAttempts:      3,
		RetryDelay:         time.Millisecond,
		DefaultServiceCost: 100,
		DefaultMileageRate: 0.5,
	}
	return NewInvoiceNinjaClient(srv.Client(), cfg, rates, zaptest.NewLogger(t))
}

func testRecord() *core.ExtractedRecord {
	when := time.Date(2024, time.July, 15, 14, 30, 0, 0, time.FixedZone("CDT", -5*3600))
	miles := 25.5
	return &core.ExtractedRecord{
		AuthorizationID: "ABC12345",
		ClientName:      "Acme Billing",
		ClientEmail:     "billing@acme.example.com",
		ServiceDateTime: &when,
		Mileage:         &miles,
		PatientName:     "John Doe",
	}
}

func TestCreateInvoiceForExistingClient(t *testing.T) {
	fake := &fakeNinja{clients: map[string]string{"billing@acme.example.com": "client-1"}}
	rates := core.RateBook{"billing@acme.example.com": {core.RateService: 120, core.RateMileage: 0.65}}
	client := newTestClient(t, fake, rates)

	id, err := client.CreateInvoice(context.Background(), testRecord())
	require.NoError(t, err)
	assert.Equal(t, "inv-77", id)
	assert.Equal(t, []string{"GET /api/v1/clients", "POST /api/v1/invoices"}, fake.calls())

	assert.Equal(t, "client-1", fake.invoice["client_id"])
	assert.Equal(t, "2024-07-15", fake.invoice["date"])
	assert.Contains(t, fake.invoice["public_notes"], "Authorization ID: ABC12345")

	items := fake.invoice["line_items"].([]any)
	require.Len(t, items, 2)
	service := items[0].(map[string]any)
	assert.Equal(t, "John Doe", service["product_key"])
	assert.Equal(t, "Services for Authorization ID: ABC12345 (Patient: John Doe)", service["notes"])
	assert.Equal(t, 120.0, service["cost"])
	assert.Equal(t, 1.0, service["quantity"])
	mileage := items[1].(map[string]any)
	assert.Equal(t, "Mileage", mileage["product_key"])
	assert.Equal(t, 0.65, mileage["cost"])
	assert.Equal(t, 25.5, mileage["quantity"])
}

func TestCreateInvoiceCreatesMissingClient(t *testing.T) {
	fake := &fakeNinja{clients: map[string]string{}}
	client := newTestClient(t, fake, nil)

	record := testRecord()
	record.Mileage = nil
	record.PatientName = ""

	id, err := client.CreateInvoice(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, "inv-77", id)
	assert.Equal(t, []string{"GET /api/v1/clients", "POST /api/v1/clients", "POST /api/v1/invoices"}, fake.calls())

	assert.Equal(t, "Acme Billing", fake.client["name"])
	contacts := fake.client["contacts"].([]any)
	assert.Equal(t, "billing@acme.example.com", contacts[0].(map[string]any)["email"])
	assert.Equal(t, "Acme", contacts[0].(map[string]any)["first_name"])

	assert.Equal(t, "new-client", fake.invoice["client_id"])
	items := fake.invoice["line_items"].([]any)
	require.Len(t, items, 1)
	service := items[0].(map[string]any)
	assert.Equal(t, "General Service", service["product_key"])
	assert.Equal(t, 100.0, service["cost"])
}

func TestClientLookupRetriesServerErrors(t *testing.T) {
	fake := &fakeNinja{clients: map[string]string{"billing@acme.example.com": "client-1"}, failLookup: 2}
	client := newTestClient(t, fake, nil)

	id, err := client.CreateInvoice(context.Background(), testRecord())
	require.NoError(t, err)
	assert.Equal(t, "inv-77", id)
	assert.Equal(t, []string{
		"GET /api/v1/clients",
		"GET /api/v1/clients",
		"GET /api/v1/clients",
		"POST /api/v1/invoices",
	}, fake.calls())
}

func TestClientLookupGivesUpAfterRetries(t *testing.T) {
	fake := &fakeNinja{clients: map[string]string{"billing@acme.example.com": "client-1"}, failLookup: 10}
	client := newTestClient(t, fake, nil)

	_, err := client.CreateInvoice(context.Background(), testRecord())
	require.Error(t, err)
	assert.ErrorContains(t, err, "status 503")
	assert.Len(t, fake.calls(), 3)
}

func TestCreateInvoiceServerErrorIsNotRepeated(t *testing.T) {
	fake := &fakeNinja{clients: map[string]string{"billing@acme.example.com": "client-1"}, failInvoice: 1}
	client := newTestClient(t, fake, nil)

	_, err := client.CreateInvoice(context.Background(), testRecord())
	require.Error(t, err)
	assert.ErrorContains(t, err, "status 503")
	assert.Equal(t, []string{"GET /api/v1/clients", "POST /api/v1/invoices"}, fake.calls())
	assert.Nil(t, fake.invoice)
}

func TestCreateInvoiceDoesNotRetryClientErrors(t *testing.T) {
	fake := &fakeNinja{rejectAll: true}
	client := newTestClient(t, fake, nil)

	_, err := client.CreateInvoice(context.Background(), testRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Len(t, fake.calls(), 1)
}

func TestCreateInvoiceRequiresClientEmail(t *testing.T) {
	fake := &fakeNinja{}
	client := newTestClient(t, fake, nil)

	record := testRecord()
	record.ClientEmail = ""

	_, err := client.CreateInvoice(context.Background(), record)
	assert.ErrorIs(t, err, ErrMissingClientEmail)
	assert.Empty(t, fake.calls())
}

func TestCreateInvoiceWithoutServiceDate(t *testing.T) {
	fake := &fakeNinja{clients: map[string]string{"billing@acme.example.com": "client-1"}}
	client := newTestClient(t, fake, core.RateBook{"default": {core.RateService: 90}})

	record := testRecord()
	record.ServiceDateTime = nil

	_, err := client.CreateInvoice(context.Background(), record)
	require.NoError(t, err)
	_, hasDate := fake.invoice["date"]
	assert.False(t, hasDate)
	assert.Contains(t, fake.invoice["public_notes"], "Service Date: N/A")
	assert.Equal(t, 90.0, fake.invoice["line_items"].([]any)[0].(map[string]any)["cost"])
}
