// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vastkit/vastkit/internal/log"
)

const sinkShutdownTimeout = 10 * time.Second

var sinkHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vastkit_sink_hits_total",
	Help: "Beacon hits received by the sink, by path",
}, []string{"path"})

var sinkListen string

var sinkCmd = &cobra.Command{
	Use:   "sink",
	Short: "Run a local beacon collector",
	Long: `Sink listens for beacon hits and records them: every request outside
/healthz and /metrics counts as one hit, is logged, and answers 204.
Per-path totals are served on /metrics and printed at shutdown.

Point a simulated session at it with: vastkit simulate --sink <addr>.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSink(cmd)
	},
}

func init() {
	sinkCmd.Flags().StringVar(&sinkListen, "listen", "", "listen address (default from config)")
	rootCmd.AddCommand(sinkCmd)
}

func runSink(cmd *cobra.Command) error {
	logger := log.WithComponent("sink")

	listen := cfg.Sink.ListenAddr
	if sinkListen != "" {
		listen = sinkListen
	}

	collector := newHitCollector(logger)

	r := chi.NewRouter()
	r.Use(httprate.Limit(
		cfg.Sink.RateLimit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	// Everything else is a beacon hit, whatever the method or path.
	r.NotFound(collector.ServeHTTP)
	r.MethodNotAllowed(collector.ServeHTTP)

	srv := &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		logger.Info().Str("addr", listen).Msg("beacon sink listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("sink server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), sinkShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	collector.printSummary(cmd)
	return err
}

// hitCollector records every request it serves as one beacon hit.
type hitCollector struct {
	logger zerolog.Logger

	mu    sync.Mutex
	hits  map[string]int
	total int
}

func newHitCollector(logger zerolog.Logger) *hitCollector {
	return &hitCollector{logger: logger, hits: make(map[string]int)}
}

func (c *hitCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.hits[r.URL.Path]++
	count := c.hits[r.URL.Path]
	c.total++
	c.mu.Unlock()

	sinkHits.WithLabelValues(r.URL.Path).Inc()

	c.logger.Info().
		Str("path", r.URL.Path).
		Str("query", r.URL.RawQuery).
		Str("remote", r.RemoteAddr).
		Int("count", count).
		Msg("beacon hit")

	w.WriteHeader(http.StatusNoContent)
}

func (c *hitCollector) printSummary(cmd *cobra.Command) {
	c.mu.Lock()
	hits := make(map[string]int, len(c.hits))
	for path, n := range c.hits {
		hits[path] = n
	}
	total := c.total
	c.mu.Unlock()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d beacon hits\n", total)

	paths := lo.Keys(hits)
	sort.Strings(paths)
	for _, path := range paths {
		fmt.Fprintf(out, "  %-32s %d\n", path, hits[path])
	}
}
