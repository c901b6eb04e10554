// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader resolves configuration with the precedence ENV > file >
// defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader builds a loader for an optional config file path. An empty
// path skips the file layer.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load resolves the configuration: defaults first, then the strict
// YAML file when given, then environment overrides, then validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge config file: %w", err)
		}
	}

	mergeEnvConfig(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile parses a YAML config file strictly: unknown fields, extra
// documents, and trailing content are errors, so typos fail fast
// instead of being silently ignored.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- the config path is operator input by definition
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func mergeFileConfig(cfg *AppConfig, file *FileConfig) error {
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.LogService != "" {
		cfg.LogService = file.LogService
	}
	if file.UserAgent != "" {
		cfg.UserAgent = file.UserAgent
	}

	if err := mergeDuration(&cfg.Fetch.Timeout, file.Fetch.Timeout, "fetch.timeout"); err != nil {
		return err
	}

	if err := mergeDuration(&cfg.Beacon.Timeout, file.Beacon.Timeout, "beacon.timeout"); err != nil {
		return err
	}
	if file.Beacon.Retries != nil {
		cfg.Beacon.Retries = *file.Beacon.Retries
	}
	if err := mergeDuration(&cfg.Beacon.Backoff, file.Beacon.Backoff, "beacon.backoff"); err != nil {
		return err
	}
	if err := mergeDuration(&cfg.Beacon.MaxBackoff, file.Beacon.MaxBackoff, "beacon.maxBackoff"); err != nil {
		return err
	}

	if file.Sink.ListenAddr != "" {
		cfg.Sink.ListenAddr = file.Sink.ListenAddr
	}
	if file.Sink.RateLimit != nil {
		cfg.Sink.RateLimit = *file.Sink.RateLimit
	}

	if file.Telemetry.Enabled != nil {
		cfg.Telemetry.Enabled = *file.Telemetry.Enabled
	}
	if file.Telemetry.Endpoint != "" {
		cfg.Telemetry.Endpoint = file.Telemetry.Endpoint
	}
	if file.Telemetry.ExporterType != "" {
		cfg.Telemetry.ExporterType = file.Telemetry.ExporterType
	}
	if file.Telemetry.Environment != "" {
		cfg.Telemetry.Environment = file.Telemetry.Environment
	}
	if file.Telemetry.SamplingRate != nil {
		cfg.Telemetry.SamplingRate = *file.Telemetry.SamplingRate
	}
	return nil
}

// mergeDuration overwrites dst when raw is set and parses, and errors
// when it is set but malformed. A file that says something must mean
// it.
func mergeDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %q", field, raw)
	}
	*dst = d
	return nil
}

func mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = ParseString(EnvLogLevel, cfg.LogLevel)
	cfg.LogService = ParseString(EnvLogService, cfg.LogService)
	cfg.UserAgent = ParseString(EnvUserAgent, cfg.UserAgent)

	cfg.Fetch.Timeout = ParseDuration(EnvFetchTimeout, cfg.Fetch.Timeout)

	cfg.Beacon.Timeout = ParseDuration(EnvBeaconTimeout, cfg.Beacon.Timeout)
	cfg.Beacon.Retries = ParseInt(EnvBeaconRetries, cfg.Beacon.Retries)
	cfg.Beacon.Backoff = ParseDuration(EnvBeaconBackoff, cfg.Beacon.Backoff)
	cfg.Beacon.MaxBackoff = ParseDuration(EnvBeaconMaxBackoff, cfg.Beacon.MaxBackoff)

	cfg.Sink.ListenAddr = ParseString(EnvSinkListenAddr, cfg.Sink.ListenAddr)
	cfg.Sink.RateLimit = ParseInt(EnvSinkRateLimit, cfg.Sink.RateLimit)

	cfg.Telemetry.Enabled = ParseBool(EnvOTELEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = ParseString(EnvOTELEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.ExporterType = ParseString(EnvOTELExporter, cfg.Telemetry.ExporterType)
	cfg.Telemetry.Environment = ParseString(EnvOTELEnvironment, cfg.Telemetry.Environment)
	cfg.Telemetry.SamplingRate = ParseFloat(EnvOTELSamplingRate, cfg.Telemetry.SamplingRate)
}
