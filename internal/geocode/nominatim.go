package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

// Geocoder resolves a coordinate to a human-readable address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c models.Coord) (string, error)
}

const userAgent = "ride-hailing-core/1.0"

// NominatimClient reverse-geocodes against a Nominatim server. Results
// are cached for an hour; Nominatim asks for a identifying User-Agent.
type NominatimClient struct {
	Endpoint string
	Client   *http.Client
	Cache    KV
	CacheTTL time.Duration
}

func NewNominatimClient(endpoint string, cache KV, cacheTTL time.Duration) *NominatimClient {
	return &NominatimClient{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 5 * time.Second},
		Cache:    cache,
		CacheTTL: cacheTTL,
	}
}

func (n *NominatimClient) ReverseGeocode(ctx context.Context, c models.Coord) (string, error) {
	key := fmt.Sprintf("rev:%.5f,%.5f", c.Lat, c.Lng)
	if n.Cache != nil {
		if v, ok := n.Cache.Get(ctx, key); ok {
			return v, nil
		}
	}

	url := fmt.Sprintf("%s/reverse?format=jsonv2&lat=%.6f&lon=%.6f", n.Endpoint, c.Lat, c.Lng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("nominatim status %d", resp.StatusCode)
	}

	var out struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.DisplayName == "" {
		return "", fmt.Errorf("nominatim empty address")
	}
	if n.Cache != nil {
		n.Cache.Set(ctx, key, out.DisplayName, n.CacheTTL)
	}
	return out.DisplayName, nil
}
