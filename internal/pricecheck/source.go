package pricecheck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/waypoint/internal/trips"
)

var errMissingSourceURL = errors.New("price source url is required")

const defaultSourceTimeout = 60 * time.Second

// HTTPPriceSourceConfig configures the HTTP quote client.
type HTTPPriceSourceConfig struct {
	BaseURL    string
	HTTPClient *http.Client
}

// HTTPPriceSource fetches quotes from an external pricing endpoint. The
// endpoint accepts the reservation search parameters and answers with a
// category-to-price map; scraping or vendor specifics stay behind it.
type HTTPPriceSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPPriceSource validates the configuration and constructs the client.
func NewHTTPPriceSource(cfg HTTPPriceSourceConfig) (*HTTPPriceSource, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingSourceURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultSourceTimeout}
	}
	return &HTTPPriceSource{baseURL: baseURL, httpClient: httpClient}, nil
}

type quoteRequestPayload struct {
	Location    string `json:"location"`
	PickupDate  string `json:"pickup_date"`
	DropoffDate string `json:"dropoff_date"`
	PickupTime  string `json:"pickup_time"`
	DropoffTime string `json:"dropoff_time"`
}

type quoteResponsePayload struct {
	Prices map[string]float64 `json:"prices"`
}

// Quote requests current per-category prices for the reservation's search
// parameters.
func (s *HTTPPriceSource) Quote(ctx context.Context, reservation trips.Reservation) (map[string]float64, error) {
	body, err := json.Marshal(quoteRequestPayload{
		Location:    reservation.Location,
		PickupDate:  reservation.PickupDate,
		DropoffDate: reservation.DropoffDate,
		PickupTime:  reservation.PickupTime,
		DropoffTime: reservation.DropoffTime,
	})
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/quotes", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pricecheck: quote endpoint returned status %d", response.StatusCode)
	}

	var payload quoteResponsePayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("pricecheck: malformed quote response: %w", err)
	}
	return payload.Prices, nil
}
