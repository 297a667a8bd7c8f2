// Package observability defines the Prometheus metric set. Metrics are
// constructed once per process and passed to the components that record
// them, rather than living as ambient package state.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	BookingsCreated   prometheus.Counter
	BookingsFailed    prometheus.Counter
	TransitionsTotal  *prometheus.CounterVec // labels: op, outcome
	LocationUpdates   prometheus.Counter
	GeocodeFallbacks  prometheus.Counter
	RouteFallbacks    prometheus.Counter
	PaymentsTotal     *prometheus.CounterVec // labels: outcome
	NotificationsSent prometheus.Counter
	DriversOnline     prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

const namespace = "ride_hailing"

// NewMetrics builds and registers the metric set on reg. Pass
// prometheus.DefaultRegisterer in production; a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bookings_created_total", Help: "Bookings successfully created"}),
		BookingsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bookings_failed_total", Help: "Booking attempts that failed to persist"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ride_transitions_total", Help: "Ride transition attempts by operation and outcome"},
			[]string{"op", "outcome"}),
		LocationUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "location_updates_total", Help: "Accepted driver location updates"}),
		GeocodeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "geocode_fallbacks_total", Help: "Reverse geocode lookups that fell back to placeholders"}),
		RouteFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "route_fallbacks_total", Help: "Route lookups that fell back to haversine"}),
		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payments_total", Help: "Payment attempts by outcome"},
			[]string{"outcome"}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_sent_total", Help: "Notifications created"}),
		DriversOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "drivers_online", Help: "Drivers currently flagged online"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests handled"},
			[]string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help: "HTTP request latency distribution", Buckets: prometheus.DefBuckets},
			[]string{"method", "path", "status"}),
	}
	reg.MustRegister(
		m.BookingsCreated, m.BookingsFailed, m.TransitionsTotal, m.LocationUpdates,
		m.GeocodeFallbacks, m.RouteFallbacks, m.PaymentsTotal, m.NotificationsSent,
		m.DriversOnline, m.HTTPRequestsTotal, m.HTTPRequestDuration,
	)
	return m
}
