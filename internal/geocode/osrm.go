package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

// RouteEstimate is a routed distance and duration. Found is false when
// the value came from the straight-line fallback, not the router.
type RouteEstimate struct {
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes float64 `json:"duration_minutes"`
	Found           bool    `json:"found"`
}

// Router resolves road distance between two points.
type Router interface {
	Route(ctx context.Context, origin, dest models.Coord) (RouteEstimate, error)
}

// OSRMClient queries an OSRM HTTP server's /route endpoint. Responses
// are cached for a few minutes; route geometry is not requested.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
	Cache    KV
	CacheTTL time.Duration
}

func NewOSRMClient(endpoint string, cache KV, cacheTTL time.Duration) *OSRMClient {
	return &OSRMClient{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 5 * time.Second},
		Cache:    cache,
		CacheTTL: cacheTTL,
	}
}

func (o *OSRMClient) Route(ctx context.Context, origin, dest models.Coord) (RouteEstimate, error) {
	key := routeKey(origin, dest)
	if o.Cache != nil {
		if v, ok := o.Cache.Get(ctx, key); ok {
			var est RouteEstimate
			if err := json.Unmarshal([]byte(v), &est); err == nil {
				return est, nil
			}
		}
	}

	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false",
		o.Endpoint, origin.Lng, origin.Lat, dest.Lng, dest.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RouteEstimate{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return RouteEstimate{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RouteEstimate{}, fmt.Errorf("osrm status %d", resp.StatusCode)
	}

	var out struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64 `json:"distance"` // meters
			Duration float64 `json:"duration"` // seconds
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RouteEstimate{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return RouteEstimate{}, fmt.Errorf("osrm no route: %s", out.Code)
	}

	est := RouteEstimate{
		DistanceKm:      out.Routes[0].Distance / 1000,
		DurationMinutes: out.Routes[0].Duration / 60,
		Found:           true,
	}
	if o.Cache != nil {
		if b, err := json.Marshal(est); err == nil {
			o.Cache.Set(ctx, key, string(b), o.CacheTTL)
		}
	}
	return est, nil
}

func routeKey(a, b models.Coord) string {
	return fmt.Sprintf("route:%.5f,%.5f->%.5f,%.5f", a.Lat, a.Lng, b.Lat, b.Lng)
}
