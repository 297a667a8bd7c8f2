// Package notify creates and dispatches fire-and-forget notifications.
// The Store is the durable record (with the recency check that stops
// driver-nearby spam); Sinks are best-effort delivery channels whose
// failures never fail the operation that produced the notification.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification.
type Type string

const (
	TypeRideRequest    Type = "RIDE_REQUEST"
	TypeRideAccepted   Type = "RIDE_ACCEPTED"
	TypeRideStarted    Type = "RIDE_STARTED"
	TypeRideCompleted  Type = "RIDE_COMPLETED"
	TypeRideCancelled  Type = "RIDE_CANCELLED"
	TypeDriverNearby   Type = "DRIVER_NEARBY"
	TypePaymentSuccess Type = "PAYMENT_SUCCESS"
)

// Notification is a message for a user, optionally tied to a ride.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	RideID    string    `json:"ride_id,omitempty"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// New fills in identity and creation time.
func New(userID, rideID string, t Type, title, message string, now time.Time) *Notification {
	return &Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		RideID:    rideID,
		Type:      t,
		Title:     title,
		Message:   message,
		CreatedAt: now,
	}
}

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	CreateBatch(ctx context.Context, ns []*Notification) error
	// RecentExists reports whether a notification of the given type was
	// created for the ride within the window.
	RecentExists(ctx context.Context, rideID string, t Type, window time.Duration) (bool, error)
	MarkRead(ctx context.Context, id string) error
	ForUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
}

// Sink is a best-effort delivery channel.
type Sink interface {
	Deliver(n *Notification)
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	all  []*Notification
	byID map[string]*Notification
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock pins the dedupe-window clock, for tests.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Notification), now: now}
}

func (m *MemoryStore) Create(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *n
	m.all = append(m.all, &c)
	m.byID[c.ID] = &c
	return nil
}

func (m *MemoryStore) CreateBatch(ctx context.Context, ns []*Notification) error {
	for _, n := range ns {
		if err := m.Create(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) RecentExists(ctx context.Context, rideID string, t Type, window time.Duration) (bool, error) {
	cutoff := m.now().Add(-window)
	m.mu.RLock()
	defer m.mu.RUnlock()
	// append order is not creation order when callers supply their own
	// timestamps, so every entry gets checked against the cutoff
	for i := len(m.all) - 1; i >= 0; i-- {
		n := m.all[i]
		if n.CreatedAt.Before(cutoff) {
			continue
		}
		if n.RideID == rideID && n.Type == t {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.byID[id]; ok {
		n.Read = true
	}
	return nil
}

func (m *MemoryStore) ForUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Notification
	for i := len(m.all) - 1; i >= 0; i-- {
		if m.all[i].UserID == userID {
			c := *m.all[i]
			out = append(out, &c)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// LogSink writes notifications to the structured log; the default sink
// when no realtime channel is wired.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Deliver(n *Notification) {
	if s.Logger == nil {
		return
	}
	s.Logger.Info("notification",
		"user_id", n.UserID,
		"ride_id", n.RideID,
		"type", string(n.Type),
		"title", n.Title,
	)
}

// MultiSink fans a notification out to several channels.
type MultiSink []Sink

func (m MultiSink) Deliver(n *Notification) {
	for _, s := range m {
		s.Deliver(n)
	}
}
