package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/ride"
)

func newStoredRide(t *testing.T, m *MemoryStore) *ride.Ride {
	t.Helper()
	r := ride.New("rider-1",
		models.Coord{Lat: -1.9536, Lng: 30.0606},
		models.Coord{Lat: -1.9442, Lng: 30.0619},
		ride.PayMTNMomo, time.Now())
	if err := m.CreateRide(context.Background(), r); err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return r
}

func TestGetRideReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := newStoredRide(t, m)

	snap, err := m.GetRide(ctx, r.ID)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	snap.Status = ride.StatusCancelled

	again, _ := m.GetRide(ctx, r.ID)
	if again.Status != ride.StatusSearching {
		t.Fatalf("mutating a snapshot leaked into the store")
	}
}

func TestGetRideNotFound(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.GetRide(context.Background(), "missing"); !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
}

func TestTransitionRideCAS(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := newStoredRide(t, m)

	snap, _ := m.GetRide(ctx, r.ID)
	snap.Accept("driver-1", time.Now())
	ok, err := m.TransitionRide(ctx, snap, ride.StatusSearching)
	if err != nil || !ok {
		t.Fatalf("first transition should win: ok=%v err=%v", ok, err)
	}

	// a second writer holding the stale snapshot must lose
	stale, _ := m.GetRide(ctx, r.ID)
	stale.Status = ride.StatusCancelled
	ok, err = m.TransitionRide(ctx, stale, ride.StatusSearching)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if ok {
		t.Fatalf("stale transition must be rejected")
	}
}

func TestTransitionRideConcurrentAccepts(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := newStoredRide(t, m)

	var wg sync.WaitGroup
	wins := make([]bool, 2)
	for i, driver := range []string{"driver-A", "driver-B"} {
		wg.Add(1)
		go func(i int, driver string) {
			defer wg.Done()
			snap, err := m.GetRide(ctx, r.ID)
			if err != nil {
				return
			}
			if dec := snap.Accept(driver, time.Now()); !dec.Applied {
				return
			}
			ok, _ := m.TransitionRide(ctx, snap, ride.StatusSearching)
			wins[i] = ok
		}(i, driver)
	}
	wg.Wait()

	if wins[0] == wins[1] {
		t.Fatalf("exactly one concurrent accept must win, got %v", wins)
	}
	final, _ := m.GetRide(ctx, r.ID)
	if final.Status != ride.StatusDriverArriving || final.DriverID == "" {
		t.Fatalf("ride not owned by the winner: %+v", final)
	}
}

func TestSetCurrentOnlyWhileTracking(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r := newStoredRide(t, m)

	// SEARCHING is not a tracking state; the write is a no-op
	if err := m.SetCurrent(ctx, r.ID, models.Coord{Lat: -1.95, Lng: 30.06}); err != nil {
		t.Fatalf("set current: %v", err)
	}
	if got, _ := m.GetRide(ctx, r.ID); got.Current != nil {
		t.Fatalf("position written to a non-tracking ride: %+v", got.Current)
	}

	snap, _ := m.GetRide(ctx, r.ID)
	snap.Accept("driver-1", time.Now())
	if ok, _ := m.TransitionRide(ctx, snap, ride.StatusSearching); !ok {
		t.Fatalf("accept transition rejected")
	}

	want := models.Coord{Lat: -1.95, Lng: 30.06}
	if err := m.SetCurrent(ctx, r.ID, want); err != nil {
		t.Fatalf("set current: %v", err)
	}
	got, _ := m.GetRide(ctx, r.ID)
	if got.Current == nil || *got.Current != want {
		t.Fatalf("current = %v, want %v", got.Current, want)
	}
	if got.Status != ride.StatusDriverArriving {
		t.Fatalf("status changed by a position write: %s", got.Status)
	}

	if err := m.SetCurrent(ctx, "missing", want); !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
}

func TestActiveRides(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	r1 := newStoredRide(t, m)

	done := newStoredRide(t, m)
	snap, _ := m.GetRide(ctx, done.ID)
	snap.Cancel("rider-1", "", time.Now())
	m.UpdateRide(ctx, snap)

	active, err := m.ActiveRides(ctx, "rider-1")
	if err != nil {
		t.Fatalf("active rides: %v", err)
	}
	if len(active) != 1 || active[0].ID != r1.ID {
		t.Fatalf("expected only the searching ride, got %d", len(active))
	}
	if others, _ := m.ActiveRides(ctx, "someone-else"); len(others) != 0 {
		t.Fatalf("active rides leaked to a non-party")
	}
}

func TestTrackingHistoryOrderedAndLatest(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Now()

	// append out of order; history must come back sorted by timestamp
	for _, offset := range []int{2, 0, 1} {
		m.Append(ctx, models.TrackingPoint{
			RideID: "ride-1",
			Coord:  models.Coord{Lat: float64(offset)},
			At:     base.Add(time.Duration(offset) * time.Second),
		})
	}

	hist, err := m.History(ctx, "ride-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("expected 3 points, got %d", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].At.Before(hist[i-1].At) {
			t.Fatalf("history not ordered by timestamp")
		}
	}

	latest, _ := m.Latest(ctx, "ride-1")
	if latest == nil || latest.Coord.Lat != 2 {
		t.Fatalf("latest point wrong: %+v", latest)
	}
	if none, _ := m.Latest(ctx, "missing"); none != nil {
		t.Fatalf("latest for unknown ride must be nil")
	}
}
