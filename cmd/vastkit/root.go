// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vastkit/vastkit"
	"github.com/vastkit/vastkit/internal/config"
	"github.com/vastkit/vastkit/internal/log"
	"github.com/vastkit/vastkit/internal/telemetry"
	"github.com/vastkit/vastkit/internal/version"
)

var (
	flagConfig   string
	flagLogLevel string

	// cfg is resolved once in the root PersistentPreRunE and read by
	// every subcommand.
	cfg config.AppConfig

	tracing *telemetry.Provider
)

var rootCmd = &cobra.Command{
	Use:     "vastkit",
	Short:   "Probe, simulate, and collect VAST ad measurement",
	Version: version.Version,
	Long: `vastkit works with VAST ad responses from the terminal.

probe parses a tag into an inspectable creative model, simulate runs a
fully measured playback session against the built-in engine, and sink
collects the resulting beacons locally.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loader := config.NewLoader(flagConfig, version.Version)
		loaded, err := loader.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if flagLogLevel != "" {
			loaded.LogLevel = flagLogLevel
		}
		cfg = loaded

		// Logs go to stderr so probe output stays pipeable.
		log.Configure(log.Config{
			Level:   cfg.LogLevel,
			Output:  os.Stderr,
			Service: cfg.LogService,
		})

		if cfg.Telemetry.Enabled {
			provider, err := telemetry.NewProvider(cmd.Context(), telemetry.Config{
				Enabled:        true,
				ServiceName:    cfg.LogService,
				ServiceVersion: version.Version,
				Environment:    cfg.Telemetry.Environment,
				ExporterType:   cfg.Telemetry.ExporterType,
				Endpoint:       cfg.Telemetry.Endpoint,
				SamplingRate:   cfg.Telemetry.SamplingRate,
			})
			if err != nil {
				return fmt.Errorf("start telemetry: %w", err)
			}
			tracing = provider
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if tracing == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			logger := log.WithComponent("telemetry")
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build metadata",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("vastkit %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd)
}

// loadCreative resolves probe and simulate input: an http(s) argument
// is fetched as a VAST tag, anything else is read as a local file.
func loadCreative(ctx context.Context, source string) (*vastkit.AdCreative, error) {
	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		client := &http.Client{Timeout: cfg.Fetch.Timeout}
		return vastkit.Fetch(ctx, client, source)
	}

	// #nosec G304 -- the document path is operator input by definition
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("read VAST document: %w", err)
	}
	return vastkit.Parse(string(data)), nil
}
