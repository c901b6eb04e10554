// SPDX-License-Identifier: MIT

package config

// FileConfig is the YAML configuration structure. Optional scalars use
// pointers so "absent" and "explicit zero" stay distinguishable;
// durations are strings in Go duration syntax ("5s", "200ms").
type FileConfig struct {
	LogLevel   string `yaml:"logLevel,omitempty"`
	LogService string `yaml:"logService,omitempty"`
	UserAgent  string `yaml:"userAgent,omitempty"`

	Fetch     FetchFileConfig     `yaml:"fetch,omitempty"`
	Beacon    BeaconFileConfig    `yaml:"beacon,omitempty"`
	Sink      SinkFileConfig      `yaml:"sink,omitempty"`
	Telemetry TelemetryFileConfig `yaml:"telemetry,omitempty"`
}

type FetchFileConfig struct {
	Timeout string `yaml:"timeout,omitempty"` // e.g. "10s"
}

type BeaconFileConfig struct {
	Timeout    string `yaml:"timeout,omitempty"` // e.g. "5s"
	Retries    *int   `yaml:"retries,omitempty"`
	Backoff    string `yaml:"backoff,omitempty"`    // e.g. "1s"
	MaxBackoff string `yaml:"maxBackoff,omitempty"` // e.g. "8s"
}

type SinkFileConfig struct {
	ListenAddr string `yaml:"listenAddr,omitempty"`
	RateLimit  *int   `yaml:"rateLimit,omitempty"`
}

type TelemetryFileConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	ExporterType string   `yaml:"exporterType,omitempty"` // "grpc" or "http"
	Environment  string   `yaml:"environment,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
}
