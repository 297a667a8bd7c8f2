// Package location tracks each driver's latest position and answers
// radius queries. The store is a current-state projection (one row per
// driver, upsert semantics); breadcrumb history goes to the PingLog.
package location

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
)

// Store is the driver location store used by nearby search and tracking.
type Store interface {
	// Upsert replaces the driver's current-location row, forcing the
	// online flag on. Idempotent; last writer wins by arrival order.
	Upsert(ctx context.Context, loc models.DriverLocation) error
	// SetOffline flips the online flag; nothing else.
	SetOffline(ctx context.Context, driverID string) error
	// Nearby returns online drivers within radiusKm of origin, sorted
	// ascending by exact haversine distance, truncated to limit.
	Nearby(ctx context.Context, origin models.Coord, radiusKm float64, limit int) ([]models.NearbyDriver, error)
}

// PingLog records historical location breadcrumbs.
type PingLog interface {
	Append(ctx context.Context, ping models.LocationPing) error
}

// Index is the in-memory Store: a mutex-guarded map with a bounding-box
// prefilter ahead of the exact distance check.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverLocation
	pings   []models.LocationPing
	now     func() time.Time
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.DriverLocation), now: time.Now}
}

func (x *Index) Upsert(ctx context.Context, loc models.DriverLocation) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	loc.Online = true
	loc.UpdatedAt = x.now()
	x.drivers[loc.DriverID] = loc
	return nil
}

func (x *Index) SetOffline(ctx context.Context, driverID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if loc, ok := x.drivers[driverID]; ok {
		loc.Online = false
		x.drivers[driverID] = loc
	}
	return nil
}

func (x *Index) Nearby(ctx context.Context, origin models.Coord, radiusKm float64, limit int) ([]models.NearbyDriver, error) {
	minLat, maxLat, minLng, maxLng := geo.BoundingBox(origin, radiusKm)

	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]models.NearbyDriver, 0, limit)
	for _, d := range x.drivers {
		if !d.Online {
			continue
		}
		if !geo.InBox(d.Coord, minLat, maxLat, minLng, maxLng) {
			continue
		}
		dist := geo.DistanceKm(origin, d.Coord)
		if dist > radiusKm {
			continue
		}
		out = append(out, models.NearbyDriver{
			DriverID:         d.DriverID,
			DistanceKm:       dist,
			EstimatedArrival: geo.ArrivalText(geo.EstimateETAMinutes(dist, geo.DefaultSpeedKmh)),
			Location:         d.Coord,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (x *Index) Append(ctx context.Context, ping models.LocationPing) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.pings = append(x.pings, ping)
	return nil
}

// Pings returns a snapshot of the breadcrumb log for a driver, in
// arrival order.
func (x *Index) Pings(driverID string) []models.LocationPing {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []models.LocationPing
	for _, p := range x.pings {
		if p.DriverID == driverID {
			out = append(out, p)
		}
	}
	return out
}
