package pricecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/waypoint/internal/trips"
)

func TestHTTPPriceSourceQuotesEndpoint(t *testing.T) {
	var receivedPath string
	var receivedPayload quoteRequestPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&receivedPayload); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		fmt.Fprint(w, `{"prices":{"Economy":99.5,"SUV":210.0}}`)
	}))
	t.Cleanup(server.Close)

	source, err := NewHTTPPriceSource(HTTPPriceSourceConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("failed to construct source: %v", err)
	}

	quotes, err := source.Quote(context.Background(), trips.Reservation{
		Location:    "Maui, HI",
		PickupDate:  "2026-12-20",
		DropoffDate: "2026-12-27",
	})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if receivedPath != "/quotes" {
		t.Fatalf("unexpected request path %q", receivedPath)
	}
	if receivedPayload.Location != "Maui, HI" || receivedPayload.PickupDate != "2026-12-20" {
		t.Fatalf("unexpected request payload: %#v", receivedPayload)
	}
	if quotes["Economy"] != 99.5 || quotes["SUV"] != 210.0 {
		t.Fatalf("unexpected quotes: %#v", quotes)
	}
}

func TestHTTPPriceSourceRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	source, err := NewHTTPPriceSource(HTTPPriceSourceConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("failed to construct source: %v", err)
	}
	if _, err := source.Quote(context.Background(), trips.Reservation{}); err == nil {
		t.Fatal("expected an error for non-200 status")
	}
}

func TestNewHTTPPriceSourceRequiresURL(t *testing.T) {
	if _, err := NewHTTPPriceSource(HTTPPriceSourceConfig{BaseURL: "   "}); err == nil {
		t.Fatal("expected an error for a missing base url")
	}
}
