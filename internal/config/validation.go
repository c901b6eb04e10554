// SPDX-License-Identifier: MIT

package config

import "fmt"

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "error": true,
}

// Validate rejects configurations the runtime could not act on
// sensibly.
func Validate(cfg AppConfig) error {
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log level: %q", cfg.LogLevel)
	}
	if cfg.UserAgent == "" {
		return fmt.Errorf("userAgent must not be empty")
	}

	if cfg.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive, got %s", cfg.Fetch.Timeout)
	}

	if cfg.Beacon.Timeout <= 0 {
		return fmt.Errorf("beacon.timeout must be positive, got %s", cfg.Beacon.Timeout)
	}
	if cfg.Beacon.Retries < 0 {
		return fmt.Errorf("beacon.retries must not be negative, got %d", cfg.Beacon.Retries)
	}
	if cfg.Beacon.Backoff <= 0 {
		return fmt.Errorf("beacon.backoff must be positive, got %s", cfg.Beacon.Backoff)
	}
	if cfg.Beacon.MaxBackoff < cfg.Beacon.Backoff {
		return fmt.Errorf("beacon.maxBackoff (%s) must not be below beacon.backoff (%s)",
			cfg.Beacon.MaxBackoff, cfg.Beacon.Backoff)
	}

	if cfg.Sink.ListenAddr == "" {
		return fmt.Errorf("sink.listenAddr must not be empty")
	}
	if cfg.Sink.RateLimit <= 0 {
		return fmt.Errorf("sink.rateLimit must be positive, got %d", cfg.Sink.RateLimit)
	}

	switch cfg.Telemetry.ExporterType {
	case "grpc", "http":
	default:
		return fmt.Errorf("telemetry.exporterType must be grpc or http, got %q", cfg.Telemetry.ExporterType)
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("telemetry.samplingRate must be within [0, 1], got %g", cfg.Telemetry.SamplingRate)
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}
