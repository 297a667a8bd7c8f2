package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/example/ride-hailing/internal/booking"
	"github.com/example/ride-hailing/internal/config"
	"github.com/example/ride-hailing/internal/fare"
	"github.com/example/ride-hailing/internal/geocode"
	"github.com/example/ride-hailing/internal/httpapi"
	"github.com/example/ride-hailing/internal/ingest"
	"github.com/example/ride-hailing/internal/location"
	"github.com/example/ride-hailing/internal/logging"
	"github.com/example/ride-hailing/internal/notify"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/payments"
	"github.com/example/ride-hailing/internal/storage"
	"github.com/example/ride-hailing/internal/tracking"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.RunMigrations && cfg.PGDSN != "" {
		if err := applyMigrations(cfg.PGDSN, logger.Info); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	// store selection follows the env: Postgres and Redis when
	// configured, in-process fallbacks otherwise
	mem := storage.NewMemoryStore()
	var rides storage.RideStore = mem
	var points storage.TrackingStore = mem
	var notes notify.Store = notify.NewMemoryStore()
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		rides, points = ps, ps
		ns, err := notify.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		notes = ns
	}

	var locs location.Store = location.NewIndex()
	var trackCache tracking.Cache = tracking.NewMemoryCache(cfg.LocationCacheTTL)
	var routeCache geocode.KV = geocode.NewTTLCache(cfg.RouteCacheTTL)
	var geoCache geocode.KV = geocode.NewTTLCache(cfg.GeocodeCacheTTL)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		locs = location.NewRedisGeoFromClient(rc, cfg.RedisGeoKey)
		trackCache = tracking.NewRedisCache(rc, cfg.LocationCacheTTL)
		routeCache = geocode.NewRedisKV(rc, "route")
		geoCache = geocode.NewRedisKV(rc, "geocode")
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	var provider payments.Provider = &payments.MobileMoney{}
	if cfg.StripeAPIKey != "" {
		provider = payments.NewStripeProvider(cfg.StripeAPIKey, cfg.Currency)
	}

	geocoder := geocode.NewNominatimClient(cfg.NominatimEndpoint, geoCache, cfg.GeocodeCacheTTL)
	router := geocode.NewOSRMClient(cfg.OSRMEndpoint, routeCache, cfg.RouteCacheTTL)
	if cfg.ExternalTimeout > 0 {
		geocoder.Client.Timeout = cfg.ExternalTimeout
		router.Client.Timeout = cfg.ExternalTimeout
	}

	wsreg := notify.NewWSRegistry(logger)
	sink := notify.MultiSink{wsreg, &notify.LogSink{Logger: logger}}
	pricing := fare.Pricing{
		Base:  decimal.NewFromFloat(cfg.FareBase),
		PerKm: decimal.NewFromFloat(cfg.FarePerKm),
	}

	bookings := &booking.Service{
		Rides:          rides,
		Locations:      locs,
		Notifications:  notes,
		Sink:           sink,
		Geocoder:       geocoder,
		Router:         router,
		Payments:       provider,
		Cache:          trackCache,
		Pricing:        pricing,
		Metrics:        metrics,
		SearchRadiusKm: cfg.SearchRadiusKm,
		NotifyTopK:     cfg.NotifyTopK,
		NearbyLimit:    cfg.NearbyLimit,
		Currency:       cfg.Currency,
		Logger:         logger,
	}
	tracker := &tracking.Service{
		Rides:         rides,
		Points:        points,
		Locations:     locs,
		Notifications: notes,
		Sink:          sink,
		Cache:         trackCache,
		Metrics:       metrics,
		Logger:        logger,
	}
	if producer != nil {
		tracker.Publisher = producer
	}

	api := httpapi.NewServer(bookings, tracker, locs, producer, wsreg, metrics, reg, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

func applyMigrations(dsn string, logf func(msg string, args ...any)) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	files, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		start := time.Now()
		if _, err := db.Exec(string(b)); err != nil {
			return err
		}
		logf("migration applied", "file", f, "duration_ms", time.Since(start).Milliseconds())
	}
	return nil
}
