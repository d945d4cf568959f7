package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "OUTPUT_DIR", "RUN_TIMEOUT", "CLUSTER_COUNT", "FEATURE_MODE", "OPERATOR_PRECEDENCE", "TRACING_ENABLED", "TRACING_SAMPLE_RATIO"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != ":8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.RunTimeout != 5*time.Minute {
		t.Errorf("RunTimeout = %v", cfg.RunTimeout)
	}
	if cfg.ClusterCount != 2000 {
		t.Errorf("ClusterCount = %d", cfg.ClusterCount)
	}
	if cfg.FeatureMode != "geo_network" {
		t.Errorf("FeatureMode = %q", cfg.FeatureMode)
	}
	if !reflect.DeepEqual(cfg.OperatorPrecedence, []string{"wikipedia", "itu"}) {
		t.Errorf("OperatorPrecedence = %v", cfg.OperatorPrecedence)
	}
	if cfg.TracingEnabled {
		t.Errorf("tracing should be off by default")
	}
	if cfg.TracingSampleRatio != 1.0 {
		t.Errorf("TracingSampleRatio = %v", cfg.TracingSampleRatio)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", ":9090")
	t.Setenv("RUN_TIMEOUT", "90s")
	t.Setenv("CLUSTER_COUNT", "12")
	t.Setenv("FEATURE_MODE", "geo")
	t.Setenv("OPERATOR_PRECEDENCE", " itu , wikipedia ,")
	t.Setenv("TRACING_ENABLED", "TRUE")
	t.Setenv("TRACING_SAMPLE_RATIO", "0.25")

	cfg := Load()
	if cfg.Port != ":9090" || cfg.RunTimeout != 90*time.Second || cfg.ClusterCount != 12 || cfg.FeatureMode != "geo" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.OperatorPrecedence, []string{"itu", "wikipedia"}) {
		t.Fatalf("OperatorPrecedence = %v", cfg.OperatorPrecedence)
	}
	if !cfg.TracingEnabled || cfg.TracingSampleRatio != 0.25 {
		t.Fatalf("tracing config = %v %v", cfg.TracingEnabled, cfg.TracingSampleRatio)
	}
}

func TestParseDurationFallsBack(t *testing.T) {
	cases := map[string]time.Duration{
		"":      time.Minute,
		"bogus": time.Minute,
		"-5s":   time.Minute,
		"2m":    2 * time.Minute,
	}
	for in, want := range cases {
		if got := ParseDuration(in, time.Minute); got != want {
			t.Errorf("ParseDuration(%q) = %v, want %v", in, got, want)
		}
	}
}
