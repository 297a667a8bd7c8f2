package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/ride-hailing/internal/fare"
	"github.com/example/ride-hailing/internal/geocode"
	"github.com/example/ride-hailing/internal/location"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/notify"
	"github.com/example/ride-hailing/internal/payments"
	"github.com/example/ride-hailing/internal/ride"
	"github.com/example/ride-hailing/internal/storage"
)

var (
	kigaliPickup  = models.Coord{Lat: -1.9441, Lng: 30.0619}
	kigaliDropoff = models.Coord{Lat: -1.9536, Lng: 30.0606}
)

type fakeGeocoder struct {
	addr string
	err  error
}

func (g *fakeGeocoder) ReverseGeocode(ctx context.Context, c models.Coord) (string, error) {
	return g.addr, g.err
}

type fakeRouter struct {
	est geocode.RouteEstimate
	err error
}

func (r *fakeRouter) Route(ctx context.Context, from, to models.Coord) (geocode.RouteEstimate, error) {
	return r.est, r.err
}

type fakeProvider struct {
	err     error
	charges []payments.ChargeRequest
}

func (p *fakeProvider) Charge(ctx context.Context, req payments.ChargeRequest) (payments.Receipt, error) {
	p.charges = append(p.charges, req)
	if p.err != nil {
		return payments.Receipt{}, p.err
	}
	return payments.Receipt{Reference: "SBtest", Provider: payments.ProviderMTN}, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
}

func newService(t *testing.T) (*Service, *storage.MemoryStore, *location.Index, *notify.MemoryStore) {
	t.Helper()
	rides := storage.NewMemoryStore()
	locs := location.NewIndex()
	notes := notify.NewMemoryStore()
	svc := &Service{
		Rides:         rides,
		Locations:     locs,
		Notifications: notes,
		Geocoder:      &fakeGeocoder{addr: "KN 1 Ave, Kigali"},
		Router:        &fakeRouter{est: geocode.RouteEstimate{DistanceKm: 2.5, DurationMinutes: 8, Found: true}},
		Payments:      &fakeProvider{},
		Pricing:       fare.DefaultPricing(),
		Now:           fixedNow,
	}
	return svc, rides, locs, notes
}

func addDriver(t *testing.T, locs *location.Index, id string, lat, lng float64) {
	t.Helper()
	err := locs.Upsert(context.Background(), models.DriverLocation{
		DriverID:  id,
		Coord:     models.Coord{Lat: lat, Lng: lng},
		Online:    true,
		UpdatedAt: fixedNow(),
	})
	if err != nil {
		t.Fatalf("upsert driver %s: %v", id, err)
	}
}

func TestCreateBookingSuccess(t *testing.T) {
	svc, rides, locs, notes := newService(t)
	ctx := context.Background()

	// seven drivers, increasing distance from the pickup point
	for i := 0; i < 7; i++ {
		addDriver(t, locs, fmt.Sprintf("driver-%d", i), kigaliPickup.Lat+float64(i)*0.002, kigaliPickup.Lng)
	}

	res := svc.CreateBooking(ctx, "rider-1", kigaliPickup, kigaliDropoff, ride.PayCash)
	if !res.OK {
		t.Fatalf("CreateBooking failed: %s", res.Err)
	}
	r := res.Ride
	if r.Status != ride.StatusSearching {
		t.Errorf("status = %s, want SEARCHING", r.Status)
	}
	if r.PickupAddress != "KN 1 Ave, Kigali" {
		t.Errorf("pickup address = %q", r.PickupAddress)
	}
	if !r.DistanceKm.Equal(decimal.NewFromFloat(2.5)) {
		t.Errorf("distance = %s, want 2.5", r.DistanceKm)
	}
	// 500 + 800*2.5
	if !r.FareEstimate.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("fare estimate = %s, want 2500", r.FareEstimate)
	}

	stored, err := rides.GetRide(ctx, r.ID)
	if err != nil {
		t.Fatalf("stored ride: %v", err)
	}
	if stored.RiderID != "rider-1" {
		t.Errorf("stored rider = %q", stored.RiderID)
	}

	// only the five nearest drivers get a request notification
	for i := 0; i < 7; i++ {
		ns, _ := notes.ForUser(ctx, fmt.Sprintf("driver-%d", i), 10)
		want := i < 5
		if got := len(ns) > 0; got != want {
			t.Errorf("driver-%d notified = %v, want %v", i, got, want)
		}
	}
}

func TestCreateBookingExternalFallbacks(t *testing.T) {
	svc, _, _, _ := newService(t)
	svc.Geocoder = &fakeGeocoder{err: errors.New("nominatim down")}
	svc.Router = &fakeRouter{err: errors.New("osrm down")}

	res := svc.CreateBooking(context.Background(), "rider-1", kigaliPickup, kigaliDropoff, ride.PayCash)
	if !res.OK {
		t.Fatalf("booking should survive external outages: %s", res.Err)
	}
	if res.Ride.PickupAddress != "Pickup Location" || res.Ride.DropoffAddress != "Dropoff Location" {
		t.Errorf("placeholder addresses not used: %q / %q", res.Ride.PickupAddress, res.Ride.DropoffAddress)
	}
	// haversine fallback for the Kigali fixture is a bit over 1 km
	d, _ := res.Ride.DistanceKm.Float64()
	if d < 0.9 || d > 1.3 {
		t.Errorf("fallback distance = %v, want ~1.06", d)
	}
}

func TestCreateBookingNoDrivers(t *testing.T) {
	svc, _, _, _ := newService(t)
	res := svc.CreateBooking(context.Background(), "rider-1", kigaliPickup, kigaliDropoff, ride.PayCash)
	if !res.OK {
		t.Fatalf("booking with no drivers must still succeed: %s", res.Err)
	}
	if len(res.NearbyDrivers) != 0 {
		t.Errorf("nearby = %d, want 0", len(res.NearbyDrivers))
	}
}

func TestCreateBookingValidation(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	if res := svc.CreateBooking(ctx, "", kigaliPickup, kigaliDropoff, ride.PayCash); res.OK {
		t.Error("empty rider accepted")
	}
	bad := models.Coord{Lat: 91, Lng: 0}
	if res := svc.CreateBooking(ctx, "rider-1", bad, kigaliDropoff, ride.PayCash); res.OK {
		t.Error("invalid pickup accepted")
	}
}

// failingRides injects a persistence error into CreateRide.
type failingRides struct {
	*storage.MemoryStore
	createErr error
}

func (f *failingRides) CreateRide(ctx context.Context, r *ride.Ride) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.MemoryStore.CreateRide(ctx, r)
}

func TestCreateBookingFailureClasses(t *testing.T) {
	svc, rides, _, _ := newService(t)
	ctx := context.Background()

	// caller errors are not system failures
	if res := svc.CreateBooking(ctx, "", kigaliPickup, kigaliDropoff, ride.PayCash); res.System {
		t.Error("validation failure flagged as system failure")
	}

	svc.Rides = &failingRides{MemoryStore: rides, createErr: errors.New("connection refused")}
	res := svc.CreateBooking(ctx, "rider-1", kigaliPickup, kigaliDropoff, ride.PayCash)
	if res.OK {
		t.Fatal("booking succeeded despite persistence failure")
	}
	if !res.System {
		t.Error("persistence failure not flagged as system failure")
	}
}

func TestAcceptRide(t *testing.T) {
	svc, _, _, notes := newService(t)
	ctx := context.Background()

	res := svc.CreateBooking(ctx, "rider-1", kigaliPickup, kigaliDropoff, ride.PayCash)
	dec, err := svc.AcceptRide(ctx, res.Ride.ID, "driver-1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !dec.Applied {
		t.Fatalf("accept rejected: %s", dec.Reason)
	}

	r, _ := svc.Rides.GetRide(ctx, res.Ride.ID)
	if r.Status != ride.StatusDriverArriving {
		t.Errorf("status = %s, want DRIVER_ARRIVING", r.Status)
	}
	if r.DriverID != "driver-1" {
		t.Errorf("driver = %q", r.DriverID)
	}

	ns, _ := notes.ForUser(ctx, "rider-1", 5)
	if len(ns) == 0 || ns[0].Type != notify.TypeRideAccepted {
		t.Errorf("rider not notified of acceptance: %v", ns)
	}

	// second driver is too late
	dec2, err := svc.AcceptRide(ctx, res.Ride.ID, "driver-2")
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if dec2.Applied {
		t.Error("second accept won an already-assigned ride")
	}
	r, _ = svc.Rides.GetRide(ctx, res.Ride.ID)
	if r.DriverID != "driver-1" {
		t.Errorf("driver reassigned to %q", r.DriverID)
	}
}

func TestLifecycleToCompletion(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	res := svc.CreateBooking(ctx, "rider-1", kigaliPickup, kigaliDropoff, ride.PayMTNMomo)
	id := res.Ride.ID

	mustApply := func(op string, dec ride.Decision, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s: %v", op, err)
		}
		if !dec.Applied {
			t.Fatalf("%s rejected: %s", op, dec.Reason)
		}
	}

	dec, err := svc.AcceptRide(ctx, id, "driver-1")
	mustApply("accept", dec, err)

	// starting before arrival must be rejected
	if dec, _ := svc.StartRide(ctx, id, "driver-1"); dec.Applied {
		t.Error("start applied before arrival")
	}

	dec, err = svc.ArriveRide(ctx, id, "driver-1")
	mustApply("arrive", dec, err)

	// only the assigned driver can start
	if dec, _ := svc.StartRide(ctx, id, "driver-9"); dec.Applied {
		t.Error("foreign driver started the ride")
	}
	dec, err = svc.StartRide(ctx, id, "driver-1")
	mustApply("start", dec, err)
	dec, err = svc.CompleteRide(ctx, id, "driver-1")
	mustApply("complete", dec, err)

	r, _ := svc.Rides.GetRide(ctx, id)
	if r.Status != ride.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", r.Status)
	}
	// 500 + 800*2.5
	if !r.FinalFare.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("final fare = %s, want 2500", r.FinalFare)
	}
	if r.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestCancelRide(t *testing.T) {
	svc, _, _, notes := newService(t)
	ctx := context.Background()

	res := svc.CreateBooking(ctx, "rider-1", kigaliPickup, kigaliDropoff, ride.PayCash)
	id := res.Ride.ID
	if _, err := svc.AcceptRide(ctx, id, "driver-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// a stranger cannot cancel
	if dec, _ := svc.CancelRide(ctx, id, "someone-else", "nope"); dec.Applied {
		t.Error("third party cancelled the ride")
	}

	dec, err := svc.CancelRide(ctx, id, "rider-1", "changed my mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !dec.Applied {
		t.Fatalf("cancel rejected: %s", dec.Reason)
	}

	r, _ := svc.Rides.GetRide(ctx, id)
	if r.Status != ride.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", r.Status)
	}
	if r.CancelledBy != "rider-1" || r.CancelReason != "changed my mind" {
		t.Errorf("cancel metadata = %q / %q", r.CancelledBy, r.CancelReason)
	}

	ns, _ := notes.ForUser(ctx, "driver-1", 5)
	found := false
	for _, n := range ns {
		if n.Type == notify.TypeRideCancelled && strings.Contains(n.Message, "changed my mind") {
			found = true
		}
	}
	if !found {
		t.Errorf("driver not told about cancellation: %v", ns)
	}

	// terminal rides stay cancelled
	if dec, _ := svc.CancelRide(ctx, id, "rider-1", "again"); dec.Applied {
		t.Error("cancelled a terminal ride")
	}
}

func TestProcessPayment(t *testing.T) {
	svc, _, _, notes := newService(t)
	provider := svc.Payments.(*fakeProvider)
	ctx := context.Background()

	res := svc.CreateBooking(ctx, "rider-1", kigaliPickup, kigaliDropoff, ride.PayMTNMomo)
	id := res.Ride.ID

	// payment before completion is refused
	if pr := svc.ProcessPayment(ctx, id, "0781234567"); pr.OK {
		t.Error("paid a ride that is not completed")
	}

	svc.AcceptRide(ctx, id, "driver-1")
	svc.ArriveRide(ctx, id, "driver-1")
	svc.StartRide(ctx, id, "driver-1")
	svc.CompleteRide(ctx, id, "driver-1")

	pr := svc.ProcessPayment(ctx, id, "0781234567")
	if !pr.OK {
		t.Fatalf("payment failed: %s", pr.Err)
	}
	if pr.Reference != "SBtest" {
		t.Errorf("reference = %q", pr.Reference)
	}
	r, _ := svc.Rides.GetRide(ctx, id)
	if r.PaymentStatus != ride.PaymentCompleted {
		t.Errorf("payment status = %s", r.PaymentStatus)
	}
	if len(provider.charges) != 1 || !provider.charges[0].Amount.Equal(r.FinalFare) {
		t.Errorf("charge = %+v, want final fare %s", provider.charges, r.FinalFare)
	}

	ns, _ := notes.ForUser(ctx, "rider-1", 5)
	if len(ns) == 0 || ns[0].Type != notify.TypePaymentSuccess {
		t.Errorf("rider not notified of payment: %v", ns)
	}

	// double payment is refused
	if pr := svc.ProcessPayment(ctx, id, "0781234567"); pr.OK {
		t.Error("ride paid twice")
	}
}

func TestProcessPaymentProviderFailure(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	res := svc.CreateBooking(ctx, "rider-1", kigaliPickup, kigaliDropoff, ride.PayMTNMomo)
	id := res.Ride.ID
	svc.AcceptRide(ctx, id, "driver-1")
	svc.ArriveRide(ctx, id, "driver-1")
	svc.StartRide(ctx, id, "driver-1")
	svc.CompleteRide(ctx, id, "driver-1")

	svc.Payments = &fakeProvider{err: errors.New("provider timeout")}
	if pr := svc.ProcessPayment(ctx, id, "0781234567"); pr.OK {
		t.Fatal("payment reported success despite provider failure")
	}

	r, _ := svc.Rides.GetRide(ctx, id)
	if r.PaymentStatus != ride.PaymentFailed {
		t.Errorf("payment status = %s, want FAILED", r.PaymentStatus)
	}
	// the trip itself stays completed
	if r.Status != ride.StatusCompleted {
		t.Errorf("ride status = %s, want COMPLETED", r.Status)
	}
}

func TestActiveRides(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	a := svc.CreateBooking(ctx, "rider-1", kigaliPickup, kigaliDropoff, ride.PayCash)
	b := svc.CreateBooking(ctx, "rider-1", kigaliDropoff, kigaliPickup, ride.PayCash)
	svc.CancelRide(ctx, b.Ride.ID, "rider-1", "")

	active, err := svc.ActiveRides(ctx, "rider-1")
	if err != nil {
		t.Fatalf("ActiveRides: %v", err)
	}
	if len(active) != 1 || active[0].ID != a.Ride.ID {
		t.Errorf("active = %v, want only %s", active, a.Ride.ID)
	}
}
