package geo

import (
	"fmt"
	"math"

	"github.com/example/ride-hailing/internal/models"
)

// Mean Earth radius (IUGG) in kilometers.
const earthRadiusKm = 6371.0088

// DefaultSpeedKmh is the average city speed assumed for ETA estimates
// when no routing data is available.
const DefaultSpeedKmh = 15.0

// DistanceKm returns the great-circle (haversine) distance in kilometers
// between two points.
func DistanceKm(a, b models.Coord) float64 {
	phi1 := radians(a.Lat)
	phi2 := radians(b.Lat)
	dPhi := radians(b.Lat - a.Lat)
	dLambda := radians(b.Lng - a.Lng)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// EstimateETAMinutes converts a distance into minutes of travel at the
// given average speed. A non-positive speed means the estimate is
// unavailable, signalled as +Inf.
func EstimateETAMinutes(distanceKm, avgSpeedKmh float64) float64 {
	if avgSpeedKmh <= 0 {
		return math.Inf(1)
	}
	return distanceKm / avgSpeedKmh * 60
}

// ArrivalText renders a minute count as a human-readable bucket.
func ArrivalText(minutes float64) string {
	if math.IsInf(minutes, 1) {
		return "unavailable"
	}
	if minutes < 1 {
		return "under a minute"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d minutes", int(math.Round(minutes)))
	}
	total := int(math.Round(minutes))
	hours := total / 60
	mins := total % 60
	if mins == 0 {
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// BoundingBox approximates a radius around origin as a lat/lng window:
// 1 degree of latitude is ~111 km, longitude degrees shrink by cos(lat)
// toward the poles. The divisor is floored so the box degrades to a wide
// window instead of blowing up near the poles. Candidates inside the box
// still need the exact haversine filter.
func BoundingBox(origin models.Coord, radiusKm float64) (minLat, maxLat, minLng, maxLng float64) {
	latDeg := radiusKm / 111.0
	lngDiv := 111.0 * math.Abs(math.Cos(radians(origin.Lat)))
	if lngDiv < 1e-5 {
		lngDiv = 1e-5
	}
	lngDeg := radiusKm / lngDiv
	return origin.Lat - latDeg, origin.Lat + latDeg, origin.Lng - lngDeg, origin.Lng + lngDeg
}

// InBox reports whether c falls inside the window returned by BoundingBox.
func InBox(c models.Coord, minLat, maxLat, minLng, maxLng float64) bool {
	return c.Lat >= minLat && c.Lat <= maxLat && c.Lng >= minLng && c.Lng <= maxLng
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
