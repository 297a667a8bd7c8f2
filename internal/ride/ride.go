// Package ride holds the Ride entity and its lifecycle state machine.
// Transition guards produce Decision values, not errors: a rejected
// transition is a normal business outcome surfaced to the caller as a
// conflict, never a system failure.
package ride

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ride-hailing/internal/models"
)

// Status is the ride lifecycle state.
type Status string

const (
	StatusRequested      Status = "REQUESTED"
	StatusSearching      Status = "SEARCHING"
	StatusAccepted       Status = "ACCEPTED"
	StatusDriverArriving Status = "DRIVER_ARRIVING"
	StatusArrived        Status = "ARRIVED"
	StatusOngoing        Status = "ONGOING"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
	StatusFailed         Status = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// TrackingActive reports whether the ride accepts live location updates.
func (s Status) TrackingActive() bool {
	switch s {
	case StatusAccepted, StatusDriverArriving, StatusArrived, StatusOngoing:
		return true
	}
	return false
}

// transitions is the legal edge set of the lifecycle graph. ACCEPTED is a
// pass-through state: accepting a ride lands on DRIVER_ARRIVING in the
// same step, but the edge is declared so the graph stays honest.
var transitions = map[Status][]Status{
	StatusRequested:      {StatusSearching, StatusCancelled},
	StatusSearching:      {StatusAccepted, StatusCancelled},
	StatusAccepted:       {StatusDriverArriving, StatusCancelled},
	StatusDriverArriving: {StatusArrived, StatusCancelled},
	StatusArrived:        {StatusOngoing, StatusCancelled},
	StatusOngoing:        {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from → to is a legal lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentMethod identifies how the rider intends to pay.
type PaymentMethod string

const (
	PayMTNMomo     PaymentMethod = "MTN_MOMO"
	PayAirtelMoney PaymentMethod = "AIRTEL_MONEY"
	PayCard        PaymentMethod = "CARD"
	PayCash        PaymentMethod = "CASH"
)

// PaymentStatus is the payment sub-state, independent of ride status.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
)

// Decision is the outcome of a guarded transition attempt.
type Decision struct {
	Applied bool
	Reason  string
}

// Applied is the affirmative decision.
var applied = Decision{Applied: true}

func rejected(reason string) Decision { return Decision{Reason: reason} }

// Ride is the central trip record, request to completion.
type Ride struct {
	ID      string
	RiderID string
	// DriverID is empty until a driver accepts; exclusively assigned.
	DriverID string

	PickupAddress  string
	DropoffAddress string
	Pickup         models.Coord
	Dropoff        models.Coord
	// Current is set only while the ride is DRIVER_ARRIVING or ONGOING.
	Current *models.Coord

	DistanceKm   decimal.Decimal
	FareEstimate decimal.Decimal
	// FinalFare is zero until completion.
	FinalFare decimal.Decimal

	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	PaymentReference string

	Status Status

	CreatedAt   time.Time
	AcceptedAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	CancelReason string
	CancelledBy  string
}

// New builds a ride in SEARCHING for the given rider and route.
func New(riderID string, pickup, dropoff models.Coord, method PaymentMethod, now time.Time) *Ride {
	return &Ride{
		ID:            uuid.NewString(),
		RiderID:       riderID,
		Pickup:        pickup,
		Dropoff:       dropoff,
		PaymentMethod: method,
		PaymentStatus: PaymentPending,
		Status:        StatusSearching,
		CreatedAt:     now,
	}
}

// Clone returns a deep copy so stores can hand out snapshots.
func (r *Ride) Clone() *Ride {
	c := *r
	if r.Current != nil {
		p := *r.Current
		c.Current = &p
	}
	c.AcceptedAt = cloneTime(r.AcceptedAt)
	c.StartedAt = cloneTime(r.StartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Accept assigns the driver and moves the ride to DRIVER_ARRIVING. Only a
// SEARCHING ride can be accepted; at most one driver wins.
func (r *Ride) Accept(driverID string, now time.Time) Decision {
	if driverID == "" {
		return rejected("driver required")
	}
	if r.Status != StatusSearching {
		return rejected("ride is not searching for a driver")
	}
	r.DriverID = driverID
	r.Status = StatusDriverArriving
	r.AcceptedAt = &now
	return applied
}

// Arrive marks the driver at the pickup point, either by explicit driver
// action or by the tracking service's proximity trigger.
func (r *Ride) Arrive(now time.Time) Decision {
	if r.Status != StatusDriverArriving {
		return rejected("driver is not arriving")
	}
	r.Status = StatusArrived
	r.Current = nil
	return applied
}

// Start begins the trip. Only the assigned driver may start, and only
// from ARRIVED.
func (r *Ride) Start(driverID string, now time.Time) Decision {
	if r.Status != StatusArrived {
		return rejected("ride is not at pickup")
	}
	if driverID != r.DriverID {
		return rejected("only the assigned driver can start the ride")
	}
	r.Status = StatusOngoing
	r.StartedAt = &now
	return applied
}

// Complete finishes the trip and finalizes the fare. When no final fare
// was set, it is priced from the ride's stored distance estimate; the
// route estimate, not the recorded track, is the billing basis.
func (r *Ride) Complete(driverID string, now time.Time, price func(decimal.Decimal) decimal.Decimal) Decision {
	if r.Status != StatusOngoing {
		return rejected("ride is not ongoing")
	}
	if driverID != r.DriverID {
		return rejected("only the assigned driver can complete the ride")
	}
	if r.FinalFare.IsZero() {
		if !r.DistanceKm.IsZero() && price != nil {
			r.FinalFare = price(r.DistanceKm)
		} else {
			r.FinalFare = r.FareEstimate
		}
	}
	r.Status = StatusCompleted
	r.CompletedAt = &now
	r.Current = nil
	return applied
}

// Cancel aborts a non-terminal ride. Either party may cancel.
func (r *Ride) Cancel(userID, reason string, now time.Time) Decision {
	if r.Status.Terminal() {
		return rejected("ride already finished")
	}
	if userID != r.RiderID && userID != r.DriverID {
		return rejected("only the rider or the assigned driver can cancel")
	}
	r.Status = StatusCancelled
	r.CancelReason = reason
	r.CancelledBy = userID
	r.CancelledAt = &now
	r.Current = nil
	return applied
}

// OtherParty returns the counterpart of userID on this ride, or empty
// when there is none (e.g. no driver assigned yet).
func (r *Ride) OtherParty(userID string) string {
	if userID == r.RiderID {
		return r.DriverID
	}
	return r.RiderID
}
