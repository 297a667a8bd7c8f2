// Package tracking handles real-time driver position during an active
// ride: the fast-path location cache, proximity detection near pickup
// and the persisted route history.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/location"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/notify"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/ride"
	"github.com/example/ride-hailing/internal/storage"
)

// Cache holds the latest tracking point per ride, with a short TTL so
// location reads skip the persistent store while updates flow.
type Cache interface {
	Get(ctx context.Context, rideID string) (models.TrackingPoint, bool)
	Set(ctx context.Context, rideID string, p models.TrackingPoint)
	Delete(ctx context.Context, rideID string)
}

const (
	// CacheTTL bounds how stale a cached position may be before reads
	// fall back to the ride record and then the route history.
	CacheTTL = 30 * time.Second

	// ProximityKm is the straight-line distance at which an approaching
	// driver counts as arrived at the pickup point.
	ProximityKm = 0.1

	// proximityDedupe suppresses repeat DRIVER_NEARBY notifications for
	// the same ride within the window.
	proximityDedupe = 5 * time.Minute
)

// ErrInvalidPoint marks a position report with out-of-range
// coordinates. It is a caller error, not a system failure.
var ErrInvalidPoint = errors.New("coordinates out of range")

// PingPublisher forwards raw location pings to the stream consumers.
// Publishing is best-effort; a broker outage never fails the update.
type PingPublisher interface {
	Publish(ctx context.Context, ping models.LocationPing) error
}

// Service owns the per-ride tracking flow. Cache, Publisher, Sink and
// Metrics are optional.
type Service struct {
	Rides         storage.RideStore
	Points        storage.TrackingStore
	Locations     location.Store
	Notifications notify.Store
	Sink          notify.Sink
	Cache         Cache
	Publisher     PingPublisher
	Metrics       *observability.Metrics

	Logger *slog.Logger
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// UpdateDriverLocation records a position report from the assigned
// driver. It returns (false, nil) when the ride is not in a tracking
// state; only storage failures are errors. Near the pickup point during
// DRIVER_ARRIVING it promotes the ride to ARRIVED and notifies the
// rider, deduplicated over a five-minute window.
func (s *Service) UpdateDriverLocation(ctx context.Context, rideID, driverID string, p models.TrackingPoint) (bool, error) {
	r, err := s.Rides.GetRide(ctx, rideID)
	if err != nil {
		return false, err
	}
	if !r.Status.TrackingActive() {
		return false, nil
	}
	if r.DriverID != driverID {
		return false, nil
	}
	if !p.Coord.Valid() {
		return false, ErrInvalidPoint
	}

	p.RideID = rideID
	if p.At.IsZero() {
		p.At = s.now()
	}

	if err := s.Points.Append(ctx, p); err != nil {
		return false, err
	}

	// narrow write: only the current-position columns, and only while
	// the stored ride is still trackable. A full-row update here would
	// overwrite a cancel or completion that committed after the
	// snapshot above.
	if err := s.Rides.SetCurrent(ctx, rideID, p.Coord); err != nil {
		return false, err
	}

	if s.Cache != nil {
		s.Cache.Set(ctx, rideID, p)
	}

	// keep the general driver index fresh so the driver stays
	// discoverable for the next search
	if s.Locations != nil {
		if err := s.Locations.Upsert(ctx, models.DriverLocation{
			DriverID:  driverID,
			Coord:     p.Coord,
			Online:    true,
			SpeedKmh:  p.SpeedKmh,
			Heading:   p.Heading,
			AccuracyM: p.AccuracyM,
			UpdatedAt: p.At,
		}); err != nil {
			s.log().Warn("driver index update failed", "driver_id", driverID, "error", err)
		}
	}

	if s.Publisher != nil {
		ping := models.LocationPing{
			DriverID:  driverID,
			Coord:     p.Coord,
			SpeedKmh:  p.SpeedKmh,
			Heading:   p.Heading,
			AccuracyM: p.AccuracyM,
			At:        p.At,
		}
		if err := s.Publisher.Publish(ctx, ping); err != nil {
			s.log().Warn("ping publish failed", "driver_id", driverID, "error", err)
		}
	}

	if s.Metrics != nil {
		s.Metrics.LocationUpdates.Inc()
	}

	if r.Status == ride.StatusDriverArriving {
		s.checkProximity(ctx, r, p)
	}

	return true, nil
}

// checkProximity promotes DRIVER_ARRIVING to ARRIVED when the driver is
// within ProximityKm of the pickup point. The transition is
// compare-and-set; losing the race to a manual arrival report is fine.
func (s *Service) checkProximity(ctx context.Context, r *ride.Ride, p models.TrackingPoint) {
	dist := geo.DistanceKm(p.Coord, r.Pickup)
	if dist > ProximityKm {
		return
	}
	dec := r.Arrive(s.now())
	if !dec.Applied {
		return
	}
	ok, err := s.Rides.TransitionRide(ctx, r, ride.StatusDriverArriving)
	if err != nil {
		s.log().Error("arrival transition failed", "ride_id", r.ID, "error", err)
		return
	}
	if !ok {
		return
	}
	s.log().Info("driver reached pickup", "ride_id", r.ID, "distance_km", dist)

	exists, err := s.Notifications.RecentExists(ctx, r.ID, notify.TypeDriverNearby, proximityDedupe)
	if err != nil {
		s.log().Error("proximity dedupe check failed", "ride_id", r.ID, "error", err)
		return
	}
	if exists {
		return
	}
	n := notify.New(r.RiderID, r.ID, notify.TypeDriverNearby,
		"Driver Nearby", "Your driver has arrived at the pickup location.", s.now())
	if err := s.Notifications.Create(ctx, n); err != nil {
		s.log().Error("proximity notification failed", "ride_id", r.ID, "error", err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.NotificationsSent.Inc()
	}
	if s.Sink != nil {
		s.Sink.Deliver(n)
	}
}

// CurrentLocation resolves the driver's latest known position for a
// tracked ride: cache first, then the ride record, then the newest
// history point.
func (s *Service) CurrentLocation(ctx context.Context, rideID string) (models.TrackingPoint, bool, error) {
	if s.Cache != nil {
		if p, ok := s.Cache.Get(ctx, rideID); ok {
			return p, true, nil
		}
	}
	r, err := s.Rides.GetRide(ctx, rideID)
	if err != nil {
		return models.TrackingPoint{}, false, err
	}
	if r.Current != nil {
		return models.TrackingPoint{RideID: rideID, Coord: *r.Current}, true, nil
	}
	p, err := s.Points.Latest(ctx, rideID)
	if err != nil {
		return models.TrackingPoint{}, false, err
	}
	if p == nil {
		return models.TrackingPoint{}, false, nil
	}
	return *p, true, nil
}

// RouteHistory returns the full recorded route in chronological order.
func (s *Service) RouteHistory(ctx context.Context, rideID string) ([]models.TrackingPoint, error) {
	return s.Points.History(ctx, rideID)
}
