// SPDX-License-Identifier: MIT

// Package beacon delivers tracking pixels. Delivery is fire-and-forget
// from the caller's point of view: a Send never blocks playback, and a
// beacon that cannot be delivered within the retry budget is logged
// and counted, never surfaced.
package beacon

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vastkit/vastkit/internal/log"
	"github.com/vastkit/vastkit/internal/telemetry"
	"github.com/vastkit/vastkit/internal/urlutil"
)

// Options configures the dispatcher.
type Options struct {
	// Client issues the beacon requests. The default client has a 5s
	// per-attempt timeout and an otel-instrumented transport.
	Client *http.Client

	// MaxRetries is the number of retries after the first attempt.
	// Zero means the default of 2 (3 attempts total); negative
	// disables retries.
	MaxRetries int

	// Backoff is the base retry delay; the n-th retry waits
	// Backoff<<(n-1) plus jitter. Defaults to 1s, so a default
	// dispatcher waits 1s and then 2s.
	Backoff time.Duration

	// MaxBackoff caps the delay before jitter. Defaults to 8s.
	MaxBackoff time.Duration

	// UserAgent is sent with every beacon. Defaults to "vastkit/1.0".
	UserAgent string
}

const (
	defaultTimeout    = 5 * time.Second
	defaultRetries    = 2
	defaultBackoff    = time.Second
	defaultMaxBackoff = 8 * time.Second
	defaultUserAgent  = "vastkit/1.0"
)

func normalizeOptions(opts Options) Options {
	if opts.Client == nil {
		opts.Client = &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return opts
}

// Dispatcher owns the goroutines that carry beacons out. One
// dispatcher serves all sessions of a player; it is safe for
// concurrent use.
type Dispatcher struct {
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	userAgent  string

	logger zerolog.Logger

	rnd   *rand.Rand
	rndMu sync.Mutex

	// ctx is the lifetime of the dispatcher; Close cancels it, which
	// aborts in-flight requests and armed retry timers together.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given options.
func NewDispatcher(opts Options) *Dispatcher {
	nopts := normalizeOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		client:     nopts.Client,
		maxRetries: nopts.MaxRetries,
		backoff:    nopts.Backoff,
		maxBackoff: nopts.MaxBackoff,
		userAgent:  nopts.UserAgent,
		logger:     log.WithComponent("beacon"),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Send dispatches one beacon asynchronously. A nil URL is a no-op; a
// Send on a closed dispatcher is dropped. The event name is carried
// for logging and metrics only, it does not alter the request.
func (d *Dispatcher) Send(u *url.URL, event string) {
	if u == nil {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Debug().
			Str(log.FieldEvent, "beacon.dropped").
			Str(log.FieldBeaconType, event).
			Str(log.FieldURL, urlutil.Sanitize(u)).
			Msg("dispatcher closed, beacon dropped")
		recordOutcome(event, "canceled")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		_ = d.deliver(d.ctx, u, event)
	}()
}

// SendAll dispatches one beacon per URL. VAST documents may list the
// same URL several times; each listing fires.
func (d *Dispatcher) SendAll(urls []*url.URL, event string) {
	for _, u := range urls {
		d.Send(u, event)
	}
}

// Close stops the dispatcher. In-flight attempts and armed retry
// timers are canceled, later Sends are dropped, and Close blocks until
// every dispatch goroutine has exited. No beacon escapes after Close
// returns.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

// deliver runs the attempt loop for one beacon. It returns the final
// delivery error for tests and logging; callers on the Send path
// ignore it.
func (d *Dispatcher) deliver(ctx context.Context, u *url.URL, event string) error {
	tracer := telemetry.Tracer("vastkit.beacon")
	ctx, span := tracer.Start(ctx, "vastkit.beacon.deliver", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	maxAttempts := d.maxRetries + 1
	var lastErr error
	var lastStatus int

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, duration, err := d.attempt(ctx, u)

		if ctx.Err() != nil {
			recordAttempt(event, status, duration, err, false)
			return d.failed(span, &DeliveryError{
				Sentinel: ErrClosed,
				Event:    event,
				URL:      urlutil.Sanitize(u),
				Attempts: attempt,
				Err:      ctx.Err(),
			}, "canceled")
		}

		success := err == nil && status >= http.StatusOK && status < http.StatusMultipleChoices
		permanent := err == nil && !success && !retryable(status)
		willRetry := !success && !permanent && attempt < maxAttempts
		recordAttempt(event, status, duration, err, willRetry)

		if success {
			span.SetAttributes(telemetry.BeaconAttributes(event, u.Host, attempt, status)...)
			span.SetStatus(codes.Ok, "")
			recordOutcome(event, "delivered")
			d.logger.Debug().
				Str(log.FieldEvent, "beacon.delivered").
				Str(log.FieldBeaconType, event).
				Str(log.FieldURL, urlutil.Sanitize(u)).
				Int(log.FieldStatus, status).
				Int(log.FieldAttempt, attempt).
				Msg("beacon delivered")
			return nil
		}

		if permanent {
			return d.failed(span, &DeliveryError{
				Sentinel: ErrPermanent,
				Event:    event,
				URL:      urlutil.Sanitize(u),
				Status:   status,
				Attempts: attempt,
			}, "permanent")
		}

		lastErr = err
		lastStatus = status

		if !willRetry {
			break
		}

		wait := d.backoffFor(attempt - 1)
		if err := sleepWithContext(ctx, wait); err != nil {
			return d.failed(span, &DeliveryError{
				Sentinel: ErrClosed,
				Event:    event,
				URL:      urlutil.Sanitize(u),
				Attempts: attempt,
				Err:      err,
			}, "canceled")
		}
	}

	return d.failed(span, &DeliveryError{
		Sentinel: ErrRetriesExhausted,
		Event:    event,
		URL:      urlutil.Sanitize(u),
		Status:   lastStatus,
		Attempts: maxAttempts,
		Err:      lastErr,
	}, "exhausted")
}

// attempt issues a single GET and drains the response so the
// connection can be reused. Beacon bodies carry nothing of value.
func (d *Dispatcher) attempt(ctx context.Context, u *url.URL) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("User-Agent", d.userAgent)

	start := time.Now()
	resp, err := d.client.Do(req)
	duration := time.Since(start)
	if resp != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return resp.StatusCode, duration, err
	}
	return 0, duration, err
}

func (d *Dispatcher) failed(span trace.Span, derr *DeliveryError, outcome string) error {
	span.RecordError(derr)
	span.SetStatus(codes.Error, derr.Sentinel.Error())
	recordOutcome(derr.Event, outcome)

	evt := d.logger.Warn()
	if outcome == "canceled" {
		// Shutdown is not an operational failure worth a warning.
		evt = d.logger.Debug()
	}
	evt.
		Str(log.FieldEvent, "beacon."+outcome).
		Str(log.FieldBeaconType, derr.Event).
		Str(log.FieldURL, derr.URL).
		Int(log.FieldStatus, derr.Status).
		Int(log.FieldAttempt, derr.Attempts).
		Err(derr).
		Msg("beacon delivery failed")
	return derr
}

// retryable reports whether a non-2xx status is worth another
// attempt: server errors and the two throttling statuses are
// transient, everything else is the server telling us to stop.
func retryable(status int) bool {
	if status >= http.StatusInternalServerError {
		return true
	}
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func (d *Dispatcher) backoffFor(attempt int) time.Duration {
	wait := d.backoff * time.Duration(1<<attempt)
	if wait > d.maxBackoff {
		wait = d.maxBackoff
	}
	jitter := time.Duration(d.randInt63n(int64(wait/5 + 1)))
	return wait + jitter
}

func (d *Dispatcher) randInt63n(n int64) int64 {
	d.rndMu.Lock()
	defer d.rndMu.Unlock()
	return d.rnd.Int63n(n)
}

func sleepWithContext(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
