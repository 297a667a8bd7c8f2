// Package storage persists rides and their tracking history. The state
// machine mutates ride snapshots; TransitionRide is the single writer
// that makes a transition durable, and it only succeeds when the stored
// status still matches what the caller observed. That compare-and-set is
// what makes two concurrent accepts resolve to exactly one winner.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/ride"
)

var ErrRideNotFound = errors.New("ride not found")

// RideStore is the persistence boundary for rides.
type RideStore interface {
	CreateRide(ctx context.Context, r *ride.Ride) error
	// GetRide returns a snapshot; callers mutate the copy and commit it
	// through UpdateRide or TransitionRide.
	GetRide(ctx context.Context, id string) (*ride.Ride, error)
	UpdateRide(ctx context.Context, r *ride.Ride) error
	// TransitionRide persists r only if the stored status still equals
	// expect. Returns false (and no error) when another writer got there
	// first; treat that as a guard rejection, not a failure.
	TransitionRide(ctx context.Context, r *ride.Ride, expect ride.Status) (bool, error)
	// SetCurrent writes only the driver's current position, and only
	// while the stored ride is still in a tracking state. It never
	// touches status or timestamps, so it cannot undo a transition that
	// committed after the caller's snapshot.
	SetCurrent(ctx context.Context, rideID string, c models.Coord) error
	// ActiveRides lists non-terminal rides where userID is rider or driver.
	ActiveRides(ctx context.Context, userID string) ([]*ride.Ride, error)
}

// TrackingStore is the append-only breadcrumb log for active rides.
type TrackingStore interface {
	Append(ctx context.Context, p models.TrackingPoint) error
	// History returns all points for a ride ordered ascending by timestamp.
	History(ctx context.Context, rideID string) ([]models.TrackingPoint, error)
	Latest(ctx context.Context, rideID string) (*models.TrackingPoint, error)
}

// MemoryStore keeps everything in process; the default when PG_DSN is
// unset and the workhorse for tests.
type MemoryStore struct {
	mu     sync.RWMutex
	rides  map[string]*ride.Ride
	points map[string][]models.TrackingPoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:  make(map[string]*ride.Ride),
		points: make(map[string][]models.TrackingPoint),
	}
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *ride.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*ride.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateRide(ctx context.Context, r *ride.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return ErrRideNotFound
	}
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) TransitionRide(ctx context.Context, r *ride.Ride, expect ride.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rides[r.ID]
	if !ok {
		return false, ErrRideNotFound
	}
	if stored.Status != expect {
		return false, nil
	}
	m.rides[r.ID] = r.Clone()
	return true, nil
}

func (m *MemoryStore) SetCurrent(ctx context.Context, rideID string, c models.Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrRideNotFound
	}
	if !r.Status.TrackingActive() {
		return nil
	}
	cur := c
	r.Current = &cur
	return nil
}

func (m *MemoryStore) ActiveRides(ctx context.Context, userID string) ([]*ride.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ride.Ride
	for _, r := range m.rides {
		if r.Status.Terminal() {
			continue
		}
		if r.RiderID == userID || r.DriverID == userID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Append(ctx context.Context, p models.TrackingPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[p.RideID] = append(m.points[p.RideID], p)
	return nil
}

func (m *MemoryStore) History(ctx context.Context, rideID string) ([]models.TrackingPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.points[rideID]
	out := make([]models.TrackingPoint, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (m *MemoryStore) Latest(ctx context.Context, rideID string) (*models.TrackingPoint, error) {
	pts, err := m.History(ctx, rideID)
	if err != nil || len(pts) == 0 {
		return nil, err
	}
	p := pts[len(pts)-1]
	return &p, nil
}
