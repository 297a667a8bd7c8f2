package ride

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/ride-hailing/internal/models"
)

var (
	pickup  = models.Coord{Lat: -1.9536, Lng: 30.0606}
	dropoff = models.Coord{Lat: -1.9442, Lng: 30.0619}
)

func newTestRide() *Ride {
	r := New("rider-1", pickup, dropoff, PayMTNMomo, time.Now())
	r.DistanceKm = decimal.NewFromFloat(5.0)
	r.FareEstimate = decimal.NewFromInt(4500)
	return r
}

func price(d decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(500).Add(decimal.NewFromInt(800).Mul(d)).Round(2)
}

func TestNewRideStartsSearching(t *testing.T) {
	r := newTestRide()
	if r.Status != StatusSearching {
		t.Fatalf("new ride status = %s, want SEARCHING", r.Status)
	}
	if r.DriverID != "" {
		t.Fatalf("new ride must not have a driver")
	}
	if r.PaymentStatus != PaymentPending {
		t.Fatalf("payment status = %s, want PENDING", r.PaymentStatus)
	}
}

func TestAcceptAssignsDriverAndTimestamps(t *testing.T) {
	r := newTestRide()
	if dec := r.Accept("driver-1", time.Now()); !dec.Applied {
		t.Fatalf("accept rejected: %s", dec.Reason)
	}
	if r.Status != StatusDriverArriving {
		t.Fatalf("status = %s, want DRIVER_ARRIVING", r.Status)
	}
	if r.DriverID != "driver-1" || r.AcceptedAt == nil {
		t.Fatalf("driver or accepted-at not set")
	}
}

func TestAcceptRejectedWhenNotSearching(t *testing.T) {
	r := newTestRide()
	r.Accept("driver-1", time.Now())
	before := *r.Clone()
	if dec := r.Accept("driver-2", time.Now()); dec.Applied {
		t.Fatalf("second accept must be rejected")
	}
	if r.DriverID != before.DriverID || r.Status != before.Status {
		t.Fatalf("rejected accept mutated the ride")
	}
}

func TestStartRequiresArrivedAndAssignedDriver(t *testing.T) {
	r := newTestRide()
	r.Accept("driver-1", time.Now())

	if dec := r.Start("driver-1", time.Now()); dec.Applied {
		t.Fatalf("start from DRIVER_ARRIVING must be rejected (skips ARRIVED)")
	}
	if dec := r.Arrive(time.Now()); !dec.Applied {
		t.Fatalf("arrive rejected: %s", dec.Reason)
	}
	if dec := r.Start("driver-2", time.Now()); dec.Applied {
		t.Fatalf("start by a different driver must be rejected")
	}
	if dec := r.Start("driver-1", time.Now()); !dec.Applied {
		t.Fatalf("start rejected: %s", dec.Reason)
	}
	if r.Status != StatusOngoing || r.StartedAt == nil {
		t.Fatalf("start did not transition to ONGOING with started-at")
	}
}

func TestCompleteSetsFinalFareAndTimestamp(t *testing.T) {
	r := newTestRide()
	r.Accept("driver-1", time.Now())
	r.Arrive(time.Now())
	r.Start("driver-1", time.Now())

	if dec := r.Complete("driver-1", time.Now(), price); !dec.Applied {
		t.Fatalf("complete rejected: %s", dec.Reason)
	}
	if r.Status != StatusCompleted || r.CompletedAt == nil {
		t.Fatalf("complete did not finish the ride")
	}
	// 500 + 800*5.0 = 4500
	if !r.FinalFare.Equal(decimal.NewFromInt(4500)) {
		t.Fatalf("final fare = %s, want 4500", r.FinalFare)
	}
}

func TestCompletePreservesExistingFinalFare(t *testing.T) {
	r := newTestRide()
	r.Accept("driver-1", time.Now())
	r.Arrive(time.Now())
	r.Start("driver-1", time.Now())
	r.FinalFare = decimal.NewFromInt(9999)

	r.Complete("driver-1", time.Now(), price)
	if !r.FinalFare.Equal(decimal.NewFromInt(9999)) {
		t.Fatalf("complete overwrote an already-set final fare: %s", r.FinalFare)
	}
}

func TestCompleteByWrongDriverRejected(t *testing.T) {
	r := newTestRide()
	r.Accept("driver-1", time.Now())
	r.Arrive(time.Now())
	r.Start("driver-1", time.Now())

	if dec := r.Complete("driver-2", time.Now(), price); dec.Applied {
		t.Fatalf("complete by a non-assigned driver must be rejected")
	}
	if r.Status != StatusOngoing {
		t.Fatalf("rejected complete mutated status to %s", r.Status)
	}
}

func TestCancelFromAnyNonTerminalState(t *testing.T) {
	r := newTestRide()
	if dec := r.Cancel("rider-1", "changed my mind", time.Now()); !dec.Applied {
		t.Fatalf("cancel rejected: %s", dec.Reason)
	}
	if r.Status != StatusCancelled || r.CancelledAt == nil {
		t.Fatalf("cancel did not transition")
	}
	if r.CancelledBy != "rider-1" || r.CancelReason != "changed my mind" {
		t.Fatalf("cancel metadata not recorded")
	}
}

func TestCancelOnCompletedRejected(t *testing.T) {
	r := newTestRide()
	r.Accept("driver-1", time.Now())
	r.Arrive(time.Now())
	r.Start("driver-1", time.Now())
	r.Complete("driver-1", time.Now(), price)

	if dec := r.Cancel("rider-1", "", time.Now()); dec.Applied {
		t.Fatalf("cancel on a completed ride must be rejected")
	}
	if r.Status != StatusCompleted {
		t.Fatalf("rejected cancel mutated status")
	}
}

func TestCancelByStrangerRejected(t *testing.T) {
	r := newTestRide()
	if dec := r.Cancel("someone-else", "", time.Now()); dec.Applied {
		t.Fatalf("cancel by a third party must be rejected")
	}
}

func TestTransitionGraph(t *testing.T) {
	// no edge skips ARRIVED between DRIVER_ARRIVING and ONGOING
	if CanTransition(StatusDriverArriving, StatusOngoing) {
		t.Fatalf("DRIVER_ARRIVING → ONGOING must not be legal")
	}
	if CanTransition(StatusAccepted, StatusOngoing) {
		t.Fatalf("ACCEPTED → ONGOING must not be legal")
	}
	// terminal states have no outgoing edges
	for _, terminal := range []Status{StatusCompleted, StatusCancelled, StatusFailed} {
		for _, to := range []Status{StatusSearching, StatusAccepted, StatusOngoing, StatusCancelled, StatusCompleted} {
			if CanTransition(terminal, to) {
				t.Fatalf("%s must be terminal, found edge to %s", terminal, to)
			}
		}
	}
}

func TestCurrentClearedOnTerminalTransitions(t *testing.T) {
	r := newTestRide()
	r.Accept("driver-1", time.Now())
	r.Current = &models.Coord{Lat: -1.95, Lng: 30.06}
	r.Arrive(time.Now())
	if r.Current != nil {
		t.Fatalf("current point must be cleared on ARRIVED")
	}
	r.Start("driver-1", time.Now())
	r.Current = &models.Coord{Lat: -1.949, Lng: 30.061}
	r.Complete("driver-1", time.Now(), price)
	if r.Current != nil {
		t.Fatalf("current point must be cleared on COMPLETED")
	}
}

func TestCloneIsDeep(t *testing.T) {
	r := newTestRide()
	r.Accept("driver-1", time.Now())
	r.Current = &models.Coord{Lat: 1, Lng: 2}
	c := r.Clone()
	c.Current.Lat = 9
	*c.AcceptedAt = time.Time{}
	if r.Current.Lat == 9 || r.AcceptedAt.IsZero() {
		t.Fatalf("clone shares memory with the original")
	}
}
