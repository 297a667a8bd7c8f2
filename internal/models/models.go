package models

import "time"

// Coord is a WGS84 point.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is within WGS84 bounds.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// DriverLocation is the current-state projection: one row per driver
// holding the latest known position. Mutated in place on every update.
type DriverLocation struct {
	DriverID  string    `json:"driver_id"`
	Coord     Coord     `json:"location"`
	Online    bool      `json:"online"`
	SpeedKmh  float64   `json:"speed_kmh"`
	Heading   float64   `json:"heading"`
	AccuracyM float64   `json:"accuracy_m"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LocationPing is a historical breadcrumb of a driver position report.
// Append-only; also the wire payload on the driver-locations topic.
type LocationPing struct {
	DriverID  string    `json:"driver_id"`
	Coord     Coord     `json:"location"`
	SpeedKmh  float64   `json:"speed_kmh"`
	Heading   float64   `json:"heading"`
	AccuracyM float64   `json:"accuracy_m"`
	At        time.Time `json:"at"`
}

// TrackingPoint is a ride-scoped breadcrumb recorded while a ride is
// active. Ordered by At; never mutated or deleted.
type TrackingPoint struct {
	RideID    string    `json:"ride_id"`
	Coord     Coord     `json:"location"`
	SpeedKmh  float64   `json:"speed_kmh"`
	Heading   float64   `json:"heading"`
	AccuracyM float64   `json:"accuracy_m"`
	At        time.Time `json:"at"`
}

// NearbyDriver is one candidate from a radius search, with the exact
// distance and a human-readable arrival estimate.
type NearbyDriver struct {
	DriverID         string  `json:"driver_id"`
	DistanceKm       float64 `json:"distance_km"`
	EstimatedArrival string  `json:"estimated_arrival"`
	Location         Coord   `json:"location"`
}
