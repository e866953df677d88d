package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL     string
	TemporalAddress string
	HTTPListenAddr  string
	MetricsAddr     string
	LogLevel        string
	ServiceName     string
	// APIToken guards /api/v1. Callers send it in X-API-Key.
	APIToken string

	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string

	ControlPlaneURL            string
	ControlPlaneToken          string
	ControlPlaneCACert         string
	ControlPlaneMaxConcurrency int64
	ControlPlaneTimeout        time.Duration
	ControlPlaneMaxRetries     int

	Policy Policy
	// PolicyFile is an optional YAML file whose non-zero fields override Policy.
	PolicyFile string

	TraceArchiveBucket string
	TraceArchivePrefix string
	S3Endpoint         string
	S3Region           string
	S3AccessKey        string
	S3SecretKey        string
}

func Load() (*Config, error) {
	var errs []string
	cfg := &Config{
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		TemporalAddress: getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		HTTPListenAddr:  getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsAddr:     getEnv("METRICS_ADDR", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ServiceName:     getEnv("SERVICE_NAME", ""),
		APIToken:        getEnv("API_TOKEN", ""),

		TemporalTLSCert:       getEnv("TEMPORAL_TLS_CERT", ""),
		TemporalTLSKey:        getEnv("TEMPORAL_TLS_KEY", ""),
		TemporalTLSCACert:     getEnv("TEMPORAL_TLS_CA_CERT", ""),
		TemporalTLSServerName: getEnv("TEMPORAL_TLS_SERVER_NAME", ""),

		ControlPlaneURL:            getEnv("CONTROL_PLANE_URL", ""),
		ControlPlaneToken:          getEnv("CONTROL_PLANE_TOKEN", ""),
		ControlPlaneCACert:         getEnv("CONTROL_PLANE_CA_CERT", ""),
		ControlPlaneMaxConcurrency: getEnvInt64("CONTROL_PLANE_MAX_CONCURRENCY", 8, &errs),
		ControlPlaneTimeout:        getEnvDuration("CONTROL_PLANE_TIMEOUT", 15*time.Second, &errs),
		ControlPlaneMaxRetries:     int(getEnvInt64("CONTROL_PLANE_MAX_RETRIES", 2, &errs)),

		Policy: Policy{
			TemplatePlaylistID:   getEnvInt64("TEMPLATE_PLAYLIST_ID", 0, &errs),
			FillerMediaID:        getEnvInt64("FILLER_MEDIA_ID", 0, &errs),
			FillerDuration:       int(getEnvInt64("FILLER_DURATION", 10, &errs)),
			DefaultMediaDuration: int(getEnvInt64("DEFAULT_MEDIA_DURATION", 10, &errs)),
			PublishSettleDelay:   getEnvDuration("PUBLISH_SETTLE_DELAY", 5*time.Second, &errs),
			ReverifyDelay:        getEnvDuration("REVERIFY_DELAY", 2*time.Minute, &errs),
			SweepCron:            getEnv("SWEEP_CRON", "*/15 * * * *"),
		},
		PolicyFile: getEnv("POLICY_FILE", ""),

		TraceArchiveBucket: getEnv("TRACE_ARCHIVE_BUCKET", ""),
		TraceArchivePrefix: getEnv("TRACE_ARCHIVE_PREFIX", "traces"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3Region:           getEnv("S3_REGION", "us-east-1"),
		S3AccessKey:        getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:        getEnv("S3_SECRET_KEY", ""),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}

	if cfg.PolicyFile != "" {
		if err := cfg.Policy.MergeFile(cfg.PolicyFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks that the settings the given binary needs are present.
func (c *Config) Validate(binary string) error {
	var missing []string
	require := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	require("DATABASE_URL", c.DatabaseURL)
	require("TEMPORAL_ADDRESS", c.TemporalAddress)
	require("CONTROL_PLANE_URL", c.ControlPlaneURL)
	switch binary {
	case "core-api":
		require("HTTP_LISTEN_ADDR", c.HTTPListenAddr)
		require("API_TOKEN", c.APIToken)
	case "worker":
	default:
		return fmt.Errorf("unknown binary %q", binary)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if (c.TemporalTLSCert == "") != (c.TemporalTLSKey == "") {
		return fmt.Errorf("TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must both be set")
	}
	if c.TraceArchiveBucket != "" && (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must both be set")
	}
	return c.Policy.Validate()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64, errs *[]string) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not an integer", key, v))
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a duration", key, v))
		return fallback
	}
	return d
}
