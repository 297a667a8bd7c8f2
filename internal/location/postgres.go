package location

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
)

// PostgresStore backs the location store with the driver_locations and
// location_pings tables. The bounding-box prefilter maps onto the
// (lat, lng) index; the exact haversine filter runs in Go.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("location store ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, loc models.DriverLocation) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO driver_locations (driver_id, lat, lng, online, speed_kmh, heading, accuracy_m, updated_at)
		VALUES ($1, $2, $3, true, $4, $5, $6, now())
		ON CONFLICT (driver_id) DO UPDATE SET
			lat = EXCLUDED.lat, lng = EXCLUDED.lng, online = true,
			speed_kmh = EXCLUDED.speed_kmh, heading = EXCLUDED.heading,
			accuracy_m = EXCLUDED.accuracy_m, updated_at = now()`,
		loc.DriverID, loc.Coord.Lat, loc.Coord.Lng, loc.SpeedKmh, loc.Heading, loc.AccuracyM)
	return err
}

func (p *PostgresStore) SetOffline(ctx context.Context, driverID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE driver_locations SET online = false, updated_at = now() WHERE driver_id = $1`, driverID)
	return err
}

func (p *PostgresStore) Nearby(ctx context.Context, origin models.Coord, radiusKm float64, limit int) ([]models.NearbyDriver, error) {
	minLat, maxLat, minLng, maxLng := geo.BoundingBox(origin, radiusKm)

	rows, err := p.db.QueryContext(ctx, `
		SELECT driver_id, lat, lng FROM driver_locations
		WHERE online = true
		  AND lat BETWEEN $1 AND $2
		  AND lng BETWEEN $3 AND $4`,
		minLat, maxLat, minLng, maxLng)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NearbyDriver
	for rows.Next() {
		var d models.NearbyDriver
		if err := rows.Scan(&d.DriverID, &d.Location.Lat, &d.Location.Lng); err != nil {
			return nil, err
		}
		dist := geo.DistanceKm(origin, d.Location)
		if dist > radiusKm {
			continue
		}
		d.DistanceKm = dist
		d.EstimatedArrival = geo.ArrivalText(geo.EstimateETAMinutes(dist, geo.DefaultSpeedKmh))
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortNearby(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *PostgresStore) Append(ctx context.Context, ping models.LocationPing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO location_pings (driver_id, lat, lng, speed_kmh, heading, accuracy_m, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ping.DriverID, ping.Coord.Lat, ping.Coord.Lng, ping.SpeedKmh, ping.Heading, ping.AccuracyM, ping.At)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }
