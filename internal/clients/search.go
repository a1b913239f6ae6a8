// Package clients holds the HTTP integrations the assistant calls out to:
// trip and lead search, geocoding, fraud rating, OTP verification and
// analytics. All of them degrade gracefully; a failed upstream never aborts
// a conversation turn.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cabswale/raahi-agent/internal/session"
)

const defaultTimeout = 10 * time.Second

// SearchQuery describes one trips or leads search.
type SearchQuery struct {
	PickupCity  string
	DropCity    string
	Coordinates *session.Location
	RadiusKM    float64
	Limit       int
}

// TripSearch queries the duties search endpoint for open trips and leads.
type TripSearch struct {
	baseURL string
	hc      *http.Client
	logger  *slog.Logger
}

// NewTripSearch creates a trip search client. hc may be nil.
func NewTripSearch(baseURL string, hc *http.Client, logger *slog.Logger) *TripSearch {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TripSearch{baseURL: baseURL, hc: hc, logger: logger.With("client", "tripsearch")}
}

// SearchTrips returns open trip documents matching the query, newest first.
func (c *TripSearch) SearchTrips(ctx context.Context, q SearchQuery) ([]map[string]any, error) {
	return c.search(ctx, "trips", q)
}

// SearchLeads returns open lead documents matching the query, newest first.
func (c *TripSearch) SearchLeads(ctx context.Context, q SearchQuery) ([]map[string]any, error) {
	return c.search(ctx, "leads", q)
}

func (c *TripSearch) search(ctx context.Context, collection string, q SearchQuery) ([]map[string]any, error) {
	if q.RadiusKM == 0 {
		q.RadiusKM = 50
	}
	if q.Limit == 0 {
		q.Limit = 50
	}
	payload := map[string]any{
		"collection": collection,
		"pickupCity": q.PickupCity,
		"dropCity":   q.DropCity,
		"radiusKm":   q.RadiusKM,
		"limit":      q.Limit,
	}
	if q.Coordinates != nil {
		payload["coordinates"] = []float64{q.Coordinates.Latitude, q.Coordinates.Longitude}
	}

	var result struct {
		Hits []map[string]any `json:"hits"`
	}
	if err := c.post(ctx, payload, &result); err != nil {
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}

	docs := dedupeByID(result.Hits)
	sort.SliceStable(docs, func(i, j int) bool {
		return docCreatedAt(docs[i]) > docCreatedAt(docs[j])
	})
	return docs, nil
}

func (c *TripSearch) post(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// dedupeByID drops documents whose "id" was already seen, preserving order.
// Documents without an id are kept as-is.
func dedupeByID(docs []map[string]any) []map[string]any {
	seen := make(map[string]struct{}, len(docs))
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		id, _ := doc["id"].(string)
		if id != "" {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		out = append(out, doc)
	}
	return out
}

func docCreatedAt(doc map[string]any) float64 {
	v, _ := doc["createdAt"].(float64)
	return v
}

// Geocoder resolves a city name to coordinates and a country code.
type Geocoder struct {
	baseURL string
	hc      *http.Client
	logger  *slog.Logger
}

// NewGeocoder creates a geocoding client. hc may be nil.
func NewGeocoder(baseURL string, hc *http.Client, logger *slog.Logger) *Geocoder {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Geocoder{baseURL: baseURL, hc: hc, logger: logger.With("client", "geocoder")}
}

// Locate returns the city's coordinates and ISO country code ("IN" for
// Indian cities). An unresolvable city returns an error; callers skip the
// geo stage and fall back to text search.
func (g *Geocoder) Locate(ctx context.Context, city string) (session.Location, string, error) {
	u := g.baseURL + "?city=" + url.QueryEscape(city)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return session.Location{}, "", fmt.Errorf("building request: %w", err)
	}
	resp, err := g.hc.Do(req)
	if err != nil {
		return session.Location{}, "", fmt.Errorf("geocoding %q: %w", city, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return session.Location{}, "", fmt.Errorf("geocoding %q: unexpected status %d", city, resp.StatusCode)
	}
	var result struct {
		Lat         float64 `json:"lat"`
		Lng         float64 `json:"lng"`
		CountryCode string  `json:"countryCode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return session.Location{}, "", fmt.Errorf("decoding geocode response: %w", err)
	}
	return session.Location{Latitude: result.Lat, Longitude: result.Lng}, result.CountryCode, nil
}
