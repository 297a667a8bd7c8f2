package notify

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// wsSession serializes writes to one connected client.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(n)
}

// WSRegistry holds live websocket sessions keyed by user and delivers
// notifications to connected riders and drivers. Delivery is
// best-effort: no session, no retry.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*wsSession
	log      *slog.Logger
}

func NewWSRegistry(log *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*wsSession), log: log}
}

// Add registers the connection, replacing any previous session for the
// user, and starts a read loop whose only job is to notice the peer
// going away and drop the session.
func (r *WSRegistry) Add(userID string, conn *websocket.Conn) {
	s := &wsSession{conn: conn}
	r.mu.Lock()
	if old, ok := r.sessions[userID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[userID] = s
	r.mu.Unlock()
	go r.readLoop(userID, s)
}

func (r *WSRegistry) readLoop(userID string, s *wsSession) {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			break
		}
	}
	r.drop(userID, s)
}

// drop removes the session only if it is still the registered one, so a
// stale read loop cannot evict a reconnected user.
func (r *WSRegistry) drop(userID string, s *wsSession) {
	r.mu.Lock()
	if cur, ok := r.sessions[userID]; ok && cur == s {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()
	_ = s.conn.Close()
}

func (r *WSRegistry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, userID)
	}
}

// Connected reports whether the user currently has a live session.
func (r *WSRegistry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

func (r *WSRegistry) Deliver(n *Notification) {
	r.mu.RLock()
	s, ok := r.sessions[n.UserID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.send(n); err != nil && r.log != nil {
		r.log.Warn("ws delivery failed", "user_id", n.UserID, "error", err)
	}
}
