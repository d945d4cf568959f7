package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide settings for the server and the batch runner.
type Config struct {
	Port      string
	DBPath    string
	OutputDir string

	RunTimeout time.Duration

	LogLevel  string
	LogFormat string

	TracingEnabled     bool
	TracingExporter    string // stdout | otlp
	TracingEndpoint    string
	TracingSampleRatio float64

	// Defaults applied to job specs that leave them unset.
	ClusterCount       int
	FeatureMode        string
	OperatorPrecedence []string
}

// Load reads the configuration from the environment, falling back to
// defaults for anything unset or unparsable.
func Load() *Config {
	return &Config{
		Port:      getenv("PORT", ":8080"),
		DBPath:    getenv("DB_PATH", "pipeline.db"),
		OutputDir: getenv("OUTPUT_DIR", "exports"),

		RunTimeout: ParseDuration(os.Getenv("RUN_TIMEOUT"), 5*time.Minute),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "text"),

		TracingEnabled:     strings.EqualFold(os.Getenv("TRACING_ENABLED"), "true"),
		TracingExporter:    strings.ToLower(getenv("TRACING_EXPORTER", "stdout")),
		TracingEndpoint:    os.Getenv("TRACING_ENDPOINT"),
		TracingSampleRatio: parseRatio(os.Getenv("TRACING_SAMPLE_RATIO")),

		ClusterCount:       parseInt(os.Getenv("CLUSTER_COUNT"), 2000),
		FeatureMode:        getenv("FEATURE_MODE", "geo_network"),
		OperatorPrecedence: parseList(getenv("OPERATOR_PRECEDENCE", "wikipedia,itu")),
	}
}

// ParseDuration parses a duration string like "5m", returning def when it is
// empty or invalid.
func ParseDuration(d string, def time.Duration) time.Duration {
	if d == "" {
		return def
	}
	duration, err := time.ParseDuration(d)
	if err != nil || duration <= 0 {
		return def
	}
	return duration
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseRatio(s string) float64 {
	if s == "" {
		return 1.0
	}
	r, err := strconv.ParseFloat(s, 64)
	if err != nil || r < 0 || r > 1 {
		return 1.0
	}
	return r
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
