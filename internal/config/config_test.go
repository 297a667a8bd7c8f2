package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SearchRadiusKm != 5 || cfg.NotifyTopK != 5 {
		t.Fatalf("search defaults wrong: %+v", cfg)
	}
	if cfg.LocationCacheTTL != 30*time.Second {
		t.Fatalf("location cache TTL = %s", cfg.LocationCacheTTL)
	}
	if cfg.FareBase != 500 || cfg.FarePerKm != 800 {
		t.Fatalf("fare defaults wrong: base=%f perKm=%f", cfg.FareBase, cfg.FarePerKm)
	}
}

func TestEnvOverridesAndValidation(t *testing.T) {
	t.Setenv("SEARCH_RADIUS_KM", "7.5")
	t.Setenv("NOTIFY_TOP_K", "3")
	t.Setenv("LOCATION_CACHE_TTL", "45s")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SearchRadiusKm != 7.5 || cfg.NotifyTopK != 3 || cfg.LocationCacheTTL != 45*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	t.Setenv("NOTIFY_TOP_K", "0")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatalf("expected validation error for NOTIFY_TOP_K=0")
	}

	t.Setenv("NOTIFY_TOP_K", "not-a-number")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatalf("expected parse error for NOTIFY_TOP_K")
	}
}

func TestKafkaBrokersSplit(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " b1:9092 , b2:9092 ,")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "b1:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
}
