package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/mikey/workauth-assistant/internal/retry"
	"go.uber.org/zap"
)

var (
	// ErrRejected is returned when the API answers with a 4xx status. These are not retried.
	ErrRejected = errors.New("invoice API rejected the request")

	// ErrMissingClientEmail is returned when a record has no client email to bill
	ErrMissingClientEmail = errors.New("client email is missing")
)

const maxResponseSize = 1 << 20

// InvoiceNinjaClient creates invoices through the Invoice Ninja v5 REST API
type InvoiceNinjaClient struct {
	httpClient         *http.Client
	apiURL             string
	token              string
	policy             retry.Policy
	rates              core.RateBook
	defaultServiceCost float64
	defaultMileageRate float64
	logger             *zap.Logger
}

// NewInvoiceNinjaClient creates a client on the shared HTTP client
func NewInvoiceNinjaClient(httpClient *http.Client, cfg config.InvoiceConfig, rates core.RateBook, logger *zap.Logger) *InvoiceNinjaClient {
	if rates == nil {
		rates = core.RateBook{}
	}
	return &InvoiceNinjaClient{
		httpClient:         httpClient,
		apiURL:             strings.TrimRight(cfg.BaseURL, "/") + "/api/v1",
		token:              cfg.APIToken,
		policy:             retry.New(cfg.RetryAttempts, cfg.RetryDelay, logger),
		rates:              rates,
		defaultServiceCost: cfg.DefaultServiceCost,
		defaultMileageRate: cfg.DefaultMileageRate,
		logger:             logger,
	}
}

type lineItem struct {
	ProductKey string  `json:"product_key"`
	Notes      string  `json:"notes"`
	Cost       float64 `json:"cost"`
	Quantity   float64 `json:"quantity"`
}

type invoicePayload struct {
	ClientID    string     `json:"client_id"`
	LineItems   []lineItem `json:"line_items"`
	PublicNotes string     `json:"public_notes"`
	Date        string     `json:"date,omitempty"`
}

type contact struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	IsPrimary bool   `json:"is_primary"`
}

type clientPayload struct {
	Name     string    `json:"name"`
	Contacts []contact `json:"contacts"`
}

type entity struct {
	ID     string `json:"id"`
	Number string `json:"number"`
}

// CreateInvoice finds or creates the client and creates an invoice for the
// record, returning the invoice id
func (c *InvoiceNinjaClient) CreateInvoice(ctx context.Context, record *core.ExtractedRecord) (string, error) {
	if record.ClientEmail == "" {
		return "", ErrMissingClientEmail
	}

	clientID, err := c.findClient(ctx, record.ClientEmail)
	if err != nil {
		return "", err
	}
	if clientID == "" {
		c.logger.Info("Client not found, creating it", zap.String("email", record.ClientEmail))
		clientID, err = c.createClient(ctx, record.ClientName, record.ClientEmail)
		if err != nil {
			return "", err
		}
	}

	payload := c.buildInvoice(clientID, record)

	var created entity
	if err := c.request(ctx, http.MethodPost, "invoices", nil, payload, &created); err != nil {
		return "", fmt.Errorf("failed to create invoice: %w", err)
	}
	if created.ID == "" {
		return "", errors.New("invoice API returned no invoice id")
	}

	c.logger.Info("Created invoice",
		zap.String("invoice_id", created.ID),
		zap.String("number", created.Number),
		zap.String("client_id", clientID),
		zap.String("authorization_id", record.AuthorizationID))
	return created.ID, nil
}

func (c *InvoiceNinjaClient) buildInvoice(clientID string, record *core.ExtractedRecord) invoicePayload {
	identifiers := []string{record.ClientEmail, record.ClientName}

	notes := fmt.Sprintf("Services for Authorization ID: %s", record.AuthorizationID)
	productKey := "General Service"
	if record.PatientName != "" {
		notes += fmt.Sprintf(" (Patient: %s)", record.PatientName)
		productKey = record.PatientName
	}

	serviceCost, ok := c.rates.RateFor(core.RateService, identifiers...)
	if !ok {
		serviceCost = c.defaultServiceCost
	}

	items := []lineItem{{
		ProductKey: productKey,
		Notes:      notes,
		Cost:       serviceCost,
		Quantity:   1,
	}}

	if record.Mileage != nil && *record.Mileage > 0 {
		mileageRate, ok := c.rates.RateFor(core.RateMileage, identifiers...)
		if !ok {
			mileageRate = c.defaultMileageRate
		}
		items = append(items, lineItem{
			ProductKey: "Mileage",
			Notes:      fmt.Sprintf("Travel mileage for Auth ID: %s", record.AuthorizationID),
			Cost:       mileageRate,
			Quantity:   *record.Mileage,
		})
	}

	serviceDate := "N/A"
	payload := invoicePayload{
		ClientID:  clientID,
		LineItems: items,
	}
	if record.ServiceDateTime != nil {
		serviceDate = record.ServiceDateTime.Format(time.RFC3339)
		payload.Date = record.ServiceDateTime.Format(time.DateOnly)
	}
	payload.PublicNotes = fmt.Sprintf("Authorization ID: %s\nService Date: %s", record.AuthorizationID, serviceDate)
	return payload
}

func (c *InvoiceNinjaClient) findClient(ctx context.Context, email string) (string, error) {
	var clients []entity
	query := url.Values{"email": []string{email}}
	if err := c.request(ctx, http.MethodGet, "clients", query, nil, &clients); err != nil {
		return "", fmt.Errorf("failed to look up client: %w", err)
	}
	if len(clients) == 0 {
		return "", nil
	}
	return clients[0].ID, nil
}

func (c *InvoiceNinjaClient) createClient(ctx context.Context, name, email string) (string, error) {
	if name == "" {
		name = "Unknown Client"
	}
	payload := clientPayload{
		Name: name,
		Contacts: []contact{{
			Email:     email,
			FirstName: firstName(name),
			IsPrimary: true,
		}},
	}

	var created entity
	if err := c.request(ctx, http.MethodPost, "clients", nil, payload, &created); err != nil {
		return "", fmt.Errorf("failed to create client: %w", err)
	}
	if created.ID == "" {
		return "", errors.New("invoice API returned no client id")
	}

	c.logger.Info("Created client", zap.String("client_id", created.ID), zap.String("email", email))
	return created.ID, nil
}

type apiResponse struct {
	status int
	body   []byte
}

// request sends one API call and decodes the "data" member of the response
// into out. GET requests go through the retry policy, which retries
// transport errors and 5xx responses; 4xx responses are never retried.
func (c *InvoiceNinjaClient) request(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	policy := c.policy
	if method != http.MethodGet {
		// A create that fails with a 5xx may already be committed on the server
		policy = retry.New(1, 0, c.logger)
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	target := c.apiURL + "/" + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	resp, err := retry.Do(ctx, policy, method+" "+endpoint, func(ctx context.Context) (*apiResponse, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("X-API-Token", c.token)
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		res, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer res.Body.Close()

		data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		c.logger.Debug("Invoice API response",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("status", res.StatusCode))

		if res.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%s %s returned status %d", method, endpoint, res.StatusCode)
		}
		return &apiResponse{status: res.StatusCode, body: data}, nil
	})
	if err != nil {
		return err
	}

	if resp.status >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s %s returned status %d: %s", ErrRejected, method, endpoint, resp.status, truncate(resp.body, 200))
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.body, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("%s %s returned no data", method, endpoint)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func firstName(name string) string {
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

var _ core.InvoiceCreator = (*InvoiceNinjaClient)(nil)
