package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mikey/workauth-assistant/internal/core"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxResponseSize = 1 << 20

// NewLimiter allows one request per interval. The public Nominatim instance
// asks for at most one request per second per application.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// NominatimClient resolves addresses through a Nominatim search endpoint
type NominatimClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewNominatimClient creates a client. The limiter should outlive the client
// so that restarts of the pipeline keep respecting the request spacing.
func NewNominatimClient(httpClient *http.Client, baseURL, userAgent string, limiter *rate.Limiter, logger *zap.Logger) *NominatimClient {
	if limiter == nil {
		limiter = NewLimiter(time.Second)
	}
	return &NominatimClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		userAgent:  userAgent,
		limiter:    limiter,
		logger:     logger,
	}
}

type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Search returns the best match for address. It returns (nil, nil) when the
// service has no answer and an error for failures worth retrying.
func (c *NominatimClient) Search(ctx context.Context, address string) (*core.GeocodeHit, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for geocoding rate limit: %w", err)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid geocoding URL: %w", err)
	}
	q := u.Query()
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create geocoding request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Info("Geocoding address", zap.String("address", address))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read geocoding response: %w", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("geocoding service returned status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		c.logger.Warn("Geocoding request rejected",
			zap.String("address", address),
			zap.Int("status", resp.StatusCode))
		return nil, nil
	}

	var results []json.RawMessage
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to decode geocoding response: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	var best place
	if err := json.Unmarshal(results[0], &best); err != nil {
		return nil, fmt.Errorf("failed to decode geocoding result: %w", err)
	}
	lat, err := strconv.ParseFloat(best.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q: %w", best.Lat, err)
	}
	lon, err := strconv.ParseFloat(best.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q: %w", best.Lon, err)
	}

	return &core.GeocodeHit{
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: best.DisplayName,
		Raw:         []byte(results[0]),
	}, nil
}

var _ core.GeocodeAPI = (*NominatimClient)(nil)
