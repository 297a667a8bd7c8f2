// Package httpapi exposes the booking, tracking and driver-location
// services over gorilla/mux. Handlers are thin: decode, call the
// service, map the outcome to a status code.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-hailing/internal/booking"
	"github.com/example/ride-hailing/internal/ingest"
	"github.com/example/ride-hailing/internal/location"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/notify"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/ride"
	"github.com/example/ride-hailing/internal/storage"
	"github.com/example/ride-hailing/internal/tracking"
)

type Server struct {
	Bookings  *booking.Service
	Tracking  *tracking.Service
	Locations location.Store
	Kafka     *ingest.KafkaProducer
	WSReg     *notify.WSRegistry
	Metrics   *observability.Metrics
	Registry  *prometheus.Registry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(b *booking.Service, t *tracking.Service, locs location.Store, kp *ingest.KafkaProducer, wsreg *notify.WSRegistry, m *observability.Metrics, reg *prometheus.Registry, logger *slog.Logger) *Server {
	s := &Server{
		Bookings:  b,
		Tracking:  t,
		Locations: locs,
		Kafka:     kp,
		WSReg:     wsreg,
		Metrics:   m,
		Registry:  reg,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/bookings", s.handleCreateBooking).Methods("POST")
	api.HandleFunc("/bookings/{id}", s.handleGetBooking).Methods("GET")
	api.HandleFunc("/bookings/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/bookings/{id}/arrive", s.handleArrive).Methods("POST")
	api.HandleFunc("/bookings/{id}/start", s.handleStart).Methods("POST")
	api.HandleFunc("/bookings/{id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/bookings/{id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/bookings/{id}/payment", s.handlePayment).Methods("POST")
	api.HandleFunc("/bookings/{id}/location", s.handleTrackingUpdate).Methods("POST")
	api.HandleFunc("/bookings/{id}/location", s.handleCurrentLocation).Methods("GET")
	api.HandleFunc("/bookings/{id}/route", s.handleRouteHistory).Methods("GET")
	api.HandleFunc("/users/{id}/rides/active", s.handleActiveRides).Methods("GET")
	api.HandleFunc("/drivers/nearby", s.handleNearbyDrivers).Methods("POST")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverPing).Methods("PUT")
	s.mux.HandleFunc("/internal/driver/locations/{driver_id}", s.handleDriverOffline).Methods("DELETE")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	if s.Registry != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	}
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type createBookingRequest struct {
	RiderID       string       `json:"rider_id"`
	Pickup        models.Coord `json:"pickup"`
	Dropoff       models.Coord `json:"dropoff"`
	PaymentMethod string       `json:"payment_method"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	method := ride.PaymentMethod(req.PaymentMethod)
	if method == "" {
		method = ride.PayCash
	}
	res := s.Bookings.CreateBooking(r.Context(), req.RiderID, req.Pickup, req.Dropoff, method)
	if !res.OK {
		writeError(w, resultStatus(res, http.StatusBadRequest), res.Err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ride":           rideView(res.Ride),
		"nearby_drivers": res.NearbyDrivers,
	})
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rd, err := s.Bookings.Rides.GetRide(r.Context(), id)
	if err != nil {
		s.rideError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideView(rd))
}

type actorRequest struct {
	DriverID string `json:"driver_id"`
	UserID   string `json:"user_id"`
	Reason   string `json:"reason"`
	Contact  string `json:"contact"`
}

type transitionFunc func(r *http.Request, rideID string, req actorRequest) (ride.Decision, error)

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["id"]
	dec, err := fn(r, id, req)
	if err != nil {
		s.rideError(w, err)
		return
	}
	if !dec.Applied {
		writeError(w, http.StatusConflict, dec.Reason)
		return
	}
	rd, err := s.Bookings.Rides.GetRide(r.Context(), id)
	if err != nil {
		s.rideError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideView(rd))
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(hr *http.Request, id string, req actorRequest) (ride.Decision, error) {
		return s.Bookings.AcceptRide(hr.Context(), id, req.DriverID)
	})
}

func (s *Server) handleArrive(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(hr *http.Request, id string, req actorRequest) (ride.Decision, error) {
		return s.Bookings.ArriveRide(hr.Context(), id, req.DriverID)
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(hr *http.Request, id string, req actorRequest) (ride.Decision, error) {
		return s.Bookings.StartRide(hr.Context(), id, req.DriverID)
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(hr *http.Request, id string, req actorRequest) (ride.Decision, error) {
		return s.Bookings.CompleteRide(hr.Context(), id, req.DriverID)
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(hr *http.Request, id string, req actorRequest) (ride.Decision, error) {
		return s.Bookings.CancelRide(hr.Context(), id, req.UserID, req.Reason)
	})
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := s.Bookings.ProcessPayment(r.Context(), mux.Vars(r)["id"], req.Contact)
	if !res.OK {
		writeError(w, resultStatus(res, http.StatusConflict), res.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ride":      rideView(res.Ride),
		"reference": res.Reference,
	})
}

type trackingUpdateRequest struct {
	DriverID  string       `json:"driver_id"`
	Location  models.Coord `json:"location"`
	SpeedKmh  float64      `json:"speed_kmh"`
	Heading   float64      `json:"heading"`
	AccuracyM float64      `json:"accuracy_m"`
}

func (s *Server) handleTrackingUpdate(w http.ResponseWriter, r *http.Request) {
	var req trackingUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["id"]
	ok, err := s.Tracking.UpdateDriverLocation(r.Context(), id, req.DriverID, models.TrackingPoint{
		Coord:     req.Location,
		SpeedKmh:  req.SpeedKmh,
		Heading:   req.Heading,
		AccuracyM: req.AccuracyM,
	})
	if err != nil {
		s.rideError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "ride is not being tracked")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCurrentLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, ok, err := s.Tracking.CurrentLocation(r.Context(), id)
	if err != nil {
		s.rideError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no known location")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRouteHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pts, err := s.Tracking.RouteHistory(r.Context(), id)
	if err != nil {
		s.rideError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride_id": id, "points": pts})
}

func (s *Server) handleActiveRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.Bookings.ActiveRides(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(rides))
	for _, rd := range rides {
		out = append(out, rideView(rd))
	}
	writeJSON(w, http.StatusOK, out)
}

type nearbyRequest struct {
	Location models.Coord `json:"location"`
	RadiusKm float64      `json:"radius_km"`
	Limit    int          `json:"limit"`
}

func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	var req nearbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Location.Valid() {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	if req.RadiusKm <= 0 {
		req.RadiusKm = s.Bookings.SearchRadiusKm
	}
	if req.Limit <= 0 {
		req.Limit = s.Bookings.NearbyLimit
	}
	drivers, err := s.Locations.Nearby(r.Context(), req.Location, req.RadiusKm, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, drivers)
}

func (s *Server) handleDriverPing(w http.ResponseWriter, r *http.Request) {
	var ping models.LocationPing
	if err := json.NewDecoder(r.Body).Decode(&ping); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ping.DriverID == "" || !ping.Coord.Valid() {
		writeError(w, http.StatusBadRequest, "driver id and valid coordinates required")
		return
	}
	if ping.At.IsZero() {
		ping.At = time.Now()
	}
	if s.Kafka != nil {
		if err := s.Kafka.Publish(r.Context(), ping); err != nil {
			s.logger.Warn("ping publish failed", "driver_id", ping.DriverID, "error", err)
		}
	}
	err := s.Locations.Upsert(r.Context(), models.DriverLocation{
		DriverID:  ping.DriverID,
		Coord:     ping.Coord,
		Online:    true,
		SpeedKmh:  ping.SpeedKmh,
		Heading:   ping.Heading,
		AccuracyM: ping.AccuracyM,
		UpdatedAt: ping.At,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// breadcrumb log is best-effort; the current-state row is what matters
	if log, ok := s.Locations.(location.PingLog); ok {
		if err := log.Append(r.Context(), ping); err != nil {
			s.logger.Warn("ping log append failed", "driver_id", ping.DriverID, "error", err)
		}
	}
	if s.Metrics != nil {
		s.Metrics.LocationUpdates.Inc()
		s.Metrics.DriversOnline.Inc()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverOffline(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	if err := s.Locations.SetOffline(r.Context(), driverID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.Metrics != nil {
		s.Metrics.DriversOnline.Dec()
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.WSReg.Add(userID, conn)
}

// resultStatus keeps the error classes apart: a rejected Result is the
// caller's problem (rejectStatus) unless the service flagged a system
// failure.
func resultStatus(res booking.Result, rejectStatus int) int {
	if res.System {
		return http.StatusInternalServerError
	}
	return rejectStatus
}

func (s *Server) rideError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrRideNotFound):
		writeError(w, http.StatusNotFound, "ride not found")
	case errors.Is(err, tracking.ErrInvalidPoint):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// rideView shapes a ride for API responses; money renders as strings to
// keep the fixed-point values exact.
func rideView(r *ride.Ride) map[string]any {
	v := map[string]any{
		"id":              r.ID,
		"rider_id":        r.RiderID,
		"status":          r.Status,
		"pickup":          r.Pickup,
		"dropoff":         r.Dropoff,
		"pickup_address":  r.PickupAddress,
		"dropoff_address": r.DropoffAddress,
		"distance_km":     r.DistanceKm.String(),
		"fare_estimate":   r.FareEstimate.String(),
		"payment_method":  r.PaymentMethod,
		"payment_status":  r.PaymentStatus,
		"created_at":      r.CreatedAt,
	}
	if r.DriverID != "" {
		v["driver_id"] = r.DriverID
	}
	if !r.FinalFare.IsZero() {
		v["final_fare"] = r.FinalFare.String()
	}
	if r.PaymentReference != "" {
		v["payment_reference"] = r.PaymentReference
	}
	if r.Current != nil {
		v["current_location"] = r.Current
	}
	if r.CancelReason != "" {
		v["cancel_reason"] = r.CancelReason
	}
	return v
}
