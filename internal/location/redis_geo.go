package location

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
)

// RedisGeo implements Store on Redis GEO commands. The GEOADD index is
// the prefilter here; GeoSearch already returns exact ascending
// distances, so only the online flag needs a metadata lookup.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	return &RedisGeo{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		key:    key,
	}
}

// NewRedisGeoFromClient reuses an existing client (the consumer path).
func NewRedisGeoFromClient(c *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, loc models.DriverLocation) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      loc.DriverID,
		Latitude:  loc.Coord.Lat,
		Longitude: loc.Coord.Lng,
	}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(loc.DriverID), map[string]interface{}{
		"online":     "true",
		"speed_kmh":  strconv.FormatFloat(loc.SpeedKmh, 'f', -1, 64),
		"heading":    strconv.FormatFloat(loc.Heading, 'f', -1, 64),
		"accuracy_m": strconv.FormatFloat(loc.AccuracyM, 'f', -1, 64),
		"updated":    time.Now().UTC().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) SetOffline(ctx context.Context, driverID string) error {
	return r.client.HSet(ctx, metaKey(driverID), "online", "false").Err()
}

func (r *RedisGeo) Nearby(ctx context.Context, origin models.Coord, radiusKm float64, limit int) ([]models.NearbyDriver, error) {
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Latitude:   origin.Lat,
			Longitude:  origin.Lng,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]models.NearbyDriver, 0, len(res))
	for _, g := range res {
		online, err := r.client.HGet(ctx, metaKey(g.Name), "online").Result()
		if err == nil && online == "false" {
			continue
		}
		d := models.NearbyDriver{
			DriverID:   g.Name,
			DistanceKm: g.Dist,
			Location:   models.Coord{Lat: g.Latitude, Lng: g.Longitude},
		}
		d.EstimatedArrival = geo.ArrivalText(geo.EstimateETAMinutes(d.DistanceKm, geo.DefaultSpeedKmh))
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *RedisGeo) Close() error { return r.client.Close() }

func metaKey(driverID string) string { return "driver:meta:" + driverID }

func sortNearby(out []models.NearbyDriver) {
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
}
