// Package booking is the orchestrator: it composes geocoding and
// routing (best-effort externals), fare calculation, nearby-driver
// search and the ride state machine into the operations the surrounding
// CRUD layer calls. Guard rejections come back as ride.Decision values;
// errors are reserved for system failures.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/ride-hailing/internal/fare"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/geocode"
	"github.com/example/ride-hailing/internal/location"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/notify"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/payments"
	"github.com/example/ride-hailing/internal/ride"
	"github.com/example/ride-hailing/internal/storage"
	"github.com/example/ride-hailing/internal/tracking"
)

// Result is what a booking or payment operation hands back to the
// caller: either the ride (and for bookings the full candidate list),
// or a human-readable failure reason.
type Result struct {
	OK            bool
	Ride          *ride.Ride
	NearbyDrivers []models.NearbyDriver
	Reference     string
	Err           string
	// System separates storage and infrastructure failures from caller
	// errors and guard rejections, so the transport layer can map them
	// to the right status class.
	System bool
}

func failure(reason string) Result { return Result{Err: reason} }

func systemFailure(reason string) Result { return Result{Err: reason, System: true} }

// Service wires the collaborators. Geocoder, Router, Sink, Cache and
// Metrics are optional; everything else is required.
type Service struct {
	Rides         storage.RideStore
	Locations     location.Store
	Notifications notify.Store
	Sink          notify.Sink
	Geocoder      geocode.Geocoder
	Router        geocode.Router
	Payments      payments.Provider
	Cache         tracking.Cache
	Pricing       fare.Pricing
	Metrics       *observability.Metrics

	SearchRadiusKm float64
	NotifyTopK     int
	NearbyLimit    int
	Currency       string

	Logger *slog.Logger
	Now    func() time.Time
}

const (
	defaultSearchRadiusKm = 5
	defaultNotifyTopK     = 5
	defaultNearbyLimit    = 10
)

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

// CreateBooking runs the full booking flow. Geocoding and routing are
// best-effort and degrade to placeholders and haversine; only a ride
// persistence failure fails the booking. Notification dispatch happens
// after the ride is durable and never rolls it back.
func (s *Service) CreateBooking(ctx context.Context, riderID string, pickup, dropoff models.Coord, method ride.PaymentMethod) Result {
	if riderID == "" {
		return failure("rider is required")
	}
	if !pickup.Valid() || !dropoff.Valid() {
		return failure("coordinates out of range")
	}

	pickupAddr := s.resolveAddress(ctx, pickup, "Pickup Location")
	dropoffAddr := s.resolveAddress(ctx, dropoff, "Dropoff Location")

	distanceKm := s.resolveDistance(ctx, pickup, dropoff)
	estimate := s.Pricing.Price(distanceKm)

	radius := s.SearchRadiusKm
	if radius <= 0 {
		radius = defaultSearchRadiusKm
	}
	limit := s.NearbyLimit
	if limit <= 0 {
		limit = defaultNearbyLimit
	}
	nearby, err := s.Locations.Nearby(ctx, pickup, radius, limit)
	if err != nil {
		// search degradation must not abort the booking; the ride is
		// still discoverable by drivers polling for open requests
		s.log().Warn("nearby search failed", "error", err)
		nearby = nil
	}

	r := ride.New(riderID, pickup, dropoff, method, s.now())
	r.PickupAddress = pickupAddr
	r.DropoffAddress = dropoffAddr
	r.DistanceKm = distanceKm
	r.FareEstimate = estimate

	if err := s.Rides.CreateRide(ctx, r); err != nil {
		if s.Metrics != nil {
			s.Metrics.BookingsFailed.Inc()
		}
		s.log().Error("ride persistence failed", "rider_id", riderID, "error", err)
		return systemFailure(fmt.Sprintf("failed to create booking: %v", err))
	}

	s.notifyNearbyDrivers(ctx, r, nearby)

	if s.Metrics != nil {
		s.Metrics.BookingsCreated.Inc()
	}
	s.log().Info("booking created",
		"ride_id", r.ID, "rider_id", riderID,
		"distance_km", distanceKm.String(), "fare_estimate", estimate.String(),
		"candidates", len(nearby))

	return Result{OK: true, Ride: r, NearbyDrivers: nearby}
}

func (s *Service) resolveAddress(ctx context.Context, c models.Coord, fallback string) string {
	if s.Geocoder == nil {
		return fallback
	}
	addr, err := s.Geocoder.ReverseGeocode(ctx, c)
	if err != nil || addr == "" {
		if s.Metrics != nil {
			s.Metrics.GeocodeFallbacks.Inc()
		}
		s.log().Warn("reverse geocode degraded", "error", err)
		return fallback
	}
	return addr
}

func (s *Service) resolveDistance(ctx context.Context, pickup, dropoff models.Coord) decimal.Decimal {
	if s.Router != nil {
		if est, err := s.Router.Route(ctx, pickup, dropoff); err == nil && est.Found {
			return decimal.NewFromFloat(est.DistanceKm).Round(2)
		} else if err != nil {
			s.log().Warn("route lookup degraded", "error", err)
		}
	}
	if s.Metrics != nil {
		s.Metrics.RouteFallbacks.Inc()
	}
	return decimal.NewFromFloat(geo.DistanceKm(pickup, dropoff)).Round(2)
}

func (s *Service) notifyNearbyDrivers(ctx context.Context, r *ride.Ride, nearby []models.NearbyDriver) {
	topK := s.NotifyTopK
	if topK <= 0 {
		topK = defaultNotifyTopK
	}
	if len(nearby) < topK {
		topK = len(nearby)
	}
	var batch []*notify.Notification
	for _, d := range nearby[:topK] {
		batch = append(batch, notify.New(d.DriverID, r.ID, notify.TypeRideRequest,
			"New Ride Request",
			fmt.Sprintf("New ride request %.2f km away. Fare estimate: %s", d.DistanceKm, r.FareEstimate),
			s.now()))
	}
	if len(batch) == 0 {
		return
	}
	if err := s.Notifications.CreateBatch(ctx, batch); err != nil {
		// the ride is already durable; a notification failure must not
		// make the booking fail
		s.log().Error("driver notifications failed", "ride_id", r.ID, "error", err)
		return
	}
	s.deliver(batch...)
}

// AcceptRide assigns the driver via compare-and-set on SEARCHING: of
// two concurrent accepts, exactly one observes SEARCHING at commit time.
func (s *Service) AcceptRide(ctx context.Context, rideID, driverID string) (ride.Decision, error) {
	return s.transition(ctx, "accept", rideID, func(r *ride.Ride) (ride.Decision, ride.Status) {
		return r.Accept(driverID, s.now()), ride.StatusSearching
	}, func(r *ride.Ride) *notify.Notification {
		return notify.New(r.RiderID, r.ID, notify.TypeRideAccepted,
			"Driver Found!", "Your driver is on the way.", s.now())
	})
}

// ArriveRide marks the driver at the pickup point by driver action.
func (s *Service) ArriveRide(ctx context.Context, rideID, driverID string) (ride.Decision, error) {
	return s.transition(ctx, "arrive", rideID, func(r *ride.Ride) (ride.Decision, ride.Status) {
		if driverID != r.DriverID {
			return ride.Decision{Reason: "only the assigned driver can report arrival"}, ""
		}
		return r.Arrive(s.now()), ride.StatusDriverArriving
	}, func(r *ride.Ride) *notify.Notification {
		return notify.New(r.RiderID, r.ID, notify.TypeDriverNearby,
			"Driver Arrived", "Your driver is at the pickup location.", s.now())
	})
}

// StartRide begins the trip; only the assigned driver, only from ARRIVED.
func (s *Service) StartRide(ctx context.Context, rideID, driverID string) (ride.Decision, error) {
	return s.transition(ctx, "start", rideID, func(r *ride.Ride) (ride.Decision, ride.Status) {
		return r.Start(driverID, s.now()), ride.StatusArrived
	}, func(r *ride.Ride) *notify.Notification {
		return notify.New(r.RiderID, r.ID, notify.TypeRideStarted,
			"Ride Started", "Your ride has started. Enjoy your trip!", s.now())
	})
}

// CompleteRide finishes the trip and finalizes the fare from the stored
// distance estimate.
func (s *Service) CompleteRide(ctx context.Context, rideID, driverID string) (ride.Decision, error) {
	return s.transition(ctx, "complete", rideID, func(r *ride.Ride) (ride.Decision, ride.Status) {
		return r.Complete(driverID, s.now(), s.Pricing.Price), ride.StatusOngoing
	}, func(r *ride.Ride) *notify.Notification {
		return notify.New(r.RiderID, r.ID, notify.TypeRideCompleted,
			"Ride Completed", fmt.Sprintf("Your ride is complete. Fare: %s", r.FinalFare), s.now())
	})
}

// CancelRide aborts a non-terminal ride on behalf of either party and
// notifies the other one.
func (s *Service) CancelRide(ctx context.Context, rideID, userID, reason string) (ride.Decision, error) {
	r, err := s.Rides.GetRide(ctx, rideID)
	if err != nil {
		return ride.Decision{}, err
	}
	from := r.Status
	dec := r.Cancel(userID, reason, s.now())
	if !dec.Applied {
		s.countTransition("cancel", "rejected")
		return dec, nil
	}
	ok, err := s.Rides.TransitionRide(ctx, r, from)
	if err != nil {
		return ride.Decision{}, err
	}
	if !ok {
		s.countTransition("cancel", "conflict")
		return ride.Decision{Reason: "ride changed state, retry"}, nil
	}
	s.countTransition("cancel", "applied")

	if s.Cache != nil {
		s.Cache.Delete(ctx, r.ID)
	}
	if other := r.OtherParty(userID); other != "" {
		msg := "Ride has been cancelled."
		if reason != "" {
			msg = fmt.Sprintf("Ride has been cancelled. Reason: %s", reason)
		}
		s.record(ctx, notify.New(other, r.ID, notify.TypeRideCancelled, "Ride Cancelled", msg, s.now()))
	}
	s.log().Info("ride cancelled", "ride_id", r.ID, "by", userID)
	return dec, nil
}

// ProcessPayment simulates the payment for a completed ride. A provider
// failure marks the payment FAILED but never reverts the ride status.
func (s *Service) ProcessPayment(ctx context.Context, rideID, payerContact string) Result {
	r, err := s.Rides.GetRide(ctx, rideID)
	if err != nil {
		return failure(fmt.Sprintf("ride not found: %v", err))
	}
	if r.Status != ride.StatusCompleted {
		return failure("payment requires a completed ride")
	}
	if r.PaymentStatus == ride.PaymentCompleted {
		return failure("ride already paid")
	}

	amount := r.FinalFare
	if amount.IsZero() {
		amount = r.FareEstimate
	}

	r.PaymentStatus = ride.PaymentProcessing
	if err := s.Rides.UpdateRide(ctx, r); err != nil {
		return systemFailure(fmt.Sprintf("payment update failed: %v", err))
	}

	receipt, err := s.Payments.Charge(ctx, payments.ChargeRequest{
		RideID:   r.ID,
		Amount:   amount,
		Currency: s.Currency,
		Contact:  payerContact,
	})
	if err != nil {
		r.PaymentStatus = ride.PaymentFailed
		if uerr := s.Rides.UpdateRide(ctx, r); uerr != nil {
			s.log().Error("payment failure not persisted", "ride_id", r.ID, "error", uerr)
		}
		s.countPayment("failed")
		s.log().Warn("payment failed", "ride_id", r.ID, "error", err)
		return failure(fmt.Sprintf("payment failed: %v", err))
	}

	r.PaymentStatus = ride.PaymentCompleted
	r.PaymentReference = receipt.Reference
	if err := s.Rides.UpdateRide(ctx, r); err != nil {
		return systemFailure(fmt.Sprintf("payment update failed: %v", err))
	}
	s.countPayment("completed")

	s.record(ctx, notify.New(r.RiderID, r.ID, notify.TypePaymentSuccess,
		"Payment Successful",
		fmt.Sprintf("Payment of %s via %s completed. Ref: %s", amount, receipt.Provider, receipt.Reference),
		s.now()))

	s.log().Info("payment processed", "ride_id", r.ID, "reference", receipt.Reference, "provider", receipt.Provider)
	return Result{OK: true, Ride: r, Reference: receipt.Reference}
}

// ActiveRides lists the user's non-terminal rides, as rider or driver.
func (s *Service) ActiveRides(ctx context.Context, userID string) ([]*ride.Ride, error) {
	return s.Rides.ActiveRides(ctx, userID)
}

// transition is the shared accept/arrive/start/complete path: snapshot,
// apply the entity guard, commit with compare-and-set, then notify.
func (s *Service) transition(
	ctx context.Context,
	op, rideID string,
	apply func(*ride.Ride) (ride.Decision, ride.Status),
	note func(*ride.Ride) *notify.Notification,
) (ride.Decision, error) {
	r, err := s.Rides.GetRide(ctx, rideID)
	if err != nil {
		return ride.Decision{}, err
	}
	dec, expect := apply(r)
	if !dec.Applied {
		s.countTransition(op, "rejected")
		return dec, nil
	}
	ok, err := s.Rides.TransitionRide(ctx, r, expect)
	if err != nil {
		return ride.Decision{}, err
	}
	if !ok {
		// lost the race: surface as a guard rejection, not an error
		s.countTransition(op, "conflict")
		return ride.Decision{Reason: "ride changed state, retry"}, nil
	}
	s.countTransition(op, "applied")
	if note != nil {
		s.record(ctx, note(r))
	}
	s.log().Info("ride transition", "op", op, "ride_id", r.ID, "status", string(r.Status))
	return dec, nil
}

func (s *Service) record(ctx context.Context, n *notify.Notification) {
	if err := s.Notifications.Create(ctx, n); err != nil {
		s.log().Error("notification create failed", "type", string(n.Type), "error", err)
		return
	}
	s.deliver(n)
}

func (s *Service) deliver(ns ...*notify.Notification) {
	if s.Metrics != nil {
		s.Metrics.NotificationsSent.Add(float64(len(ns)))
	}
	if s.Sink == nil {
		return
	}
	for _, n := range ns {
		s.Sink.Deliver(n)
	}
}

func (s *Service) countTransition(op, outcome string) {
	if s.Metrics != nil {
		s.Metrics.TransitionsTotal.WithLabelValues(op, outcome).Inc()
	}
}

func (s *Service) countPayment(outcome string) {
	if s.Metrics != nil {
		s.Metrics.PaymentsTotal.WithLabelValues(outcome).Inc()
	}
}
