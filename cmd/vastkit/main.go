// SPDX-License-Identifier: MIT

// Command vastkit works with VAST ad responses from the terminal. It
// probes tags into an inspectable creative model, simulates fully
// measured playback sessions against the built-in engine, and runs a
// local beacon sink for end-to-end verification.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	// Optional .env for local development; a missing file is fine.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
