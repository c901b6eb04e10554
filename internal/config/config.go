// SPDX-License-Identifier: MIT

// Package config resolves the runtime configuration for cmd/vastkit
// with the precedence ENV > config file > defaults.
package config

import "time"

// Environment variable keys. All runtime tuning is reachable without a
// config file.
const (
	EnvLogLevel   = "VASTKIT_LOG_LEVEL"
	EnvLogService = "VASTKIT_LOG_SERVICE"
	EnvUserAgent  = "VASTKIT_USER_AGENT"

	EnvFetchTimeout = "VASTKIT_FETCH_TIMEOUT"

	EnvBeaconTimeout    = "VASTKIT_BEACON_TIMEOUT"
	EnvBeaconRetries    = "VASTKIT_BEACON_RETRIES"
	EnvBeaconBackoff    = "VASTKIT_BEACON_BACKOFF"
	EnvBeaconMaxBackoff = "VASTKIT_BEACON_MAX_BACKOFF"

	EnvSinkListenAddr = "VASTKIT_SINK_LISTEN"
	EnvSinkRateLimit  = "VASTKIT_SINK_RATE_LIMIT"

	EnvOTELEnabled      = "VASTKIT_OTEL_ENABLED"
	EnvOTELEndpoint     = "VASTKIT_OTEL_ENDPOINT"
	EnvOTELExporter     = "VASTKIT_OTEL_EXPORTER"
	EnvOTELEnvironment  = "VASTKIT_OTEL_ENVIRONMENT"
	EnvOTELSamplingRate = "VASTKIT_OTEL_SAMPLING_RATE"
)

// AppConfig is the fully resolved configuration.
type AppConfig struct {
	Version    string
	LogLevel   string
	LogService string

	// UserAgent is sent with every beacon request.
	UserAgent string

	Fetch     FetchConfig
	Beacon    BeaconConfig
	Sink      SinkConfig
	Telemetry TelemetryConfig
}

// FetchConfig tunes VAST document fetching.
type FetchConfig struct {
	Timeout time.Duration
}

// BeaconConfig tunes the tracking beacon dispatcher.
type BeaconConfig struct {
	// Timeout bounds one delivery attempt.
	Timeout time.Duration

	// Retries is the number of re-attempts after the first failure.
	Retries int

	// Backoff is the first retry delay; it doubles per attempt up to
	// MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// SinkConfig tunes the local beacon collector server.
type SinkConfig struct {
	ListenAddr string

	// RateLimit is the per-client request budget per minute.
	RateLimit int
}

// TelemetryConfig tunes the OTLP trace pipeline.
type TelemetryConfig struct {
	Enabled      bool
	Endpoint     string
	ExporterType string
	Environment  string
	SamplingRate float64
}

func defaults() AppConfig {
	return AppConfig{
		LogLevel:   "info",
		LogService: "vastkit",
		UserAgent:  "vastkit/1.0",
		Fetch: FetchConfig{
			Timeout: 10 * time.Second,
		},
		Beacon: BeaconConfig{
			Timeout:    5 * time.Second,
			Retries:    2,
			Backoff:    time.Second,
			MaxBackoff: 8 * time.Second,
		},
		Sink: SinkConfig{
			ListenAddr: ":8077",
			RateLimit:  600,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ExporterType: "grpc",
			Environment:  "development",
			SamplingRate: 1.0,
		},
	}
}
