// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vastkit/vastkit"
	"github.com/vastkit/vastkit/internal/beacon"
	"github.com/vastkit/vastkit/internal/log"
	"github.com/vastkit/vastkit/internal/player"
	"github.com/vastkit/vastkit/internal/urlutil"
)

// drainDelay gives fire-and-forget beacon deliveries a moment to land
// after the stop cue, before Release cancels whatever is still in
// flight.
const drainDelay = time.Second

var simFlags struct {
	duration   time.Duration
	speed      float64
	loop       bool
	readyDelay time.Duration
	stallAt    time.Duration
	stallFor   time.Duration
	failAt     time.Duration

	pauseAt  time.Duration
	pauseFor time.Duration
	hideAt   time.Duration
	hideFor  time.Duration
	muteAt   time.Duration
	clickAt  time.Duration

	pollInterval time.Duration
	runFor       time.Duration
	dryRun       bool
	sink         string
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <file|url>",
	Short: "Run a measured playback session against a simulated engine",
	Long: `Simulate loads a VAST creative into the measurement player, backed by
a wall-clock playback simulation, and drives it with scripted user
input. Beacons are dispatched for real unless --dry-run is given;
--sink rewrites every beacon to a local collector so a full session
can be verified end to end.

Script times (--pause-at, --mute-at, ...) are wall-clock offsets from
load, not media positions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulate(cmd, args[0])
	},
}

func init() {
	f := simulateCmd.Flags()
	f.DurationVar(&simFlags.duration, "duration", 15*time.Second, "simulated media length (creative duration label wins when present)")
	f.Float64Var(&simFlags.speed, "speed", 1.0, "media time per wall-clock time, e.g. 10 compresses a 30s spot into 3s")
	f.BoolVar(&simFlags.loop, "loop", false, "loop playback instead of ending")
	f.DurationVar(&simFlags.readyDelay, "ready-delay", 0, "initial buffering delay before playback starts")
	f.DurationVar(&simFlags.stallAt, "stall-at", 0, "media position that triggers one rebuffer")
	f.DurationVar(&simFlags.stallFor, "stall-for", 500*time.Millisecond, "wall-clock length of the injected rebuffer")
	f.DurationVar(&simFlags.failAt, "fail-at", 0, "media position that triggers a fatal playback error")

	f.DurationVar(&simFlags.pauseAt, "pause-at", 0, "pause playback at this wall-clock offset")
	f.DurationVar(&simFlags.pauseFor, "pause-for", time.Second, "how long a scripted pause lasts")
	f.DurationVar(&simFlags.hideAt, "hide-at", 0, "hide the player at this wall-clock offset")
	f.DurationVar(&simFlags.hideFor, "hide-for", time.Second, "how long the player stays hidden")
	f.DurationVar(&simFlags.muteAt, "mute-at", 0, "toggle mute at this wall-clock offset")
	f.DurationVar(&simFlags.clickAt, "click-at", 0, "click the creative at this wall-clock offset")

	f.DurationVar(&simFlags.pollInterval, "poll-interval", 100*time.Millisecond, "progress poll period")
	f.DurationVar(&simFlags.runFor, "run-for", 0, "stop after this wall-clock time instead of at completion")
	f.BoolVar(&simFlags.dryRun, "dry-run", false, "log beacons instead of delivering them")
	f.StringVar(&simFlags.sink, "sink", "", "host:port of a local sink; every beacon is rewritten to it")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, source string) error {
	ctx := cmd.Context()
	logger := log.WithComponent("simulate")

	if simFlags.speed <= 0 {
		return fmt.Errorf("--speed must be positive, got %v", simFlags.speed)
	}
	if simFlags.dryRun && simFlags.sink != "" {
		logger.Warn().Msg("--dry-run given, ignoring --sink")
	}

	creative, err := loadCreative(ctx, source)
	if err != nil {
		return err
	}
	if len(creative.MediaRenditions) == 0 {
		return vastkit.ErrNoPlayableMedia
	}

	duration := simFlags.duration
	if !cmd.Flags().Changed("duration") {
		if d, ok := parseDurationLabel(creative.DurationLabel); ok {
			duration = d
		}
	}

	engine := player.NewSimEngine(player.SimOptions{
		Duration:   duration,
		Speed:      simFlags.speed,
		Loop:       simFlags.loop,
		ReadyDelay: simFlags.readyDelay,
		StallAt:    simFlags.stallAt,
		StallFor:   simFlags.stallFor,
		FailAt:     simFlags.failAt,
	})
	defer engine.Stop()

	tap := newTapSender(buildSender(logger))
	p := vastkit.New(vastkit.Options{
		Engine:       engine,
		PollInterval: simFlags.pollInterval,
		Sender:       tap,
		OpenClickThrough: func(u *url.URL) {
			logger.Info().Str(log.FieldURL, urlutil.Sanitize(u)).Msg("click-through opened")
		},
	})
	defer p.Release()

	logger.Info().
		Str("source", source).
		Str("ad_id", creative.AdID).
		Dur("media_duration", duration).
		Float64("speed", simFlags.speed).
		Bool("loop", simFlags.loop).
		Msg("starting simulated session")

	if err := p.Load(ctx, creative); err != nil {
		return err
	}

	// Downstream logs correlate on the session and creative IDs.
	ctx = log.ContextWithSessionID(ctx, p.SessionID())
	ctx = log.ContextWithCreativeID(ctx, creative.AdID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		watchStates(gctx, p, log.WithComponentFromContext(gctx, "simulate"))
		return nil
	})
	g.Go(func() error {
		runScript(gctx, buildScript(p), logger)
		return nil
	})

	waitForStop(gctx, tap, duration, logger)

	p.Release()
	cancel()
	_ = g.Wait()

	printSummary(cmd, p, tap)
	return p.Err()
}

// waitForStop blocks until the session is over: the first completion
// beacon (plus a drain delay), an explicit --run-for window, a safety
// deadline, or ctx cancellation.
func waitForStop(ctx context.Context, tap *tapSender, duration time.Duration, logger zerolog.Logger) {
	sweep := time.Duration(float64(duration) / simFlags.speed)

	if simFlags.runFor > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(simFlags.runFor):
		}
		return
	}

	// Safety margin on top of one playback sweep: ready delay, one
	// stall, and poll jitter.
	deadline := sweep + simFlags.readyDelay + simFlags.stallFor + 5*time.Second
	select {
	case <-ctx.Done():
		return
	case <-tap.Completed():
		logger.Info().Msg("completion observed, draining")
	case <-time.After(deadline):
		logger.Warn().Dur("deadline", deadline).Msg("no completion before deadline, stopping")
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(drainDelay):
	}
}

// buildSender picks the innermost beacon sender for this run.
func buildSender(logger zerolog.Logger) vastkit.Sender {
	if simFlags.dryRun {
		return &logSender{logger: log.WithComponent("beacon.dryrun")}
	}

	dispatcher := beacon.NewDispatcher(beacon.Options{
		Client: &http.Client{
			Timeout:   cfg.Beacon.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		MaxRetries: cfg.Beacon.Retries,
		Backoff:    cfg.Beacon.Backoff,
		MaxBackoff: cfg.Beacon.MaxBackoff,
		UserAgent:  cfg.UserAgent,
	})
	if simFlags.sink == "" {
		return dispatcher
	}
	logger.Info().Str("sink", simFlags.sink).Msg("rewriting beacons to local sink")
	return &sinkRewriteSender{target: simFlags.sink, next: dispatcher}
}

func watchStates(ctx context.Context, p *vastkit.Player, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-p.States():
			logger.Info().
				Str(log.FieldOldState, change.From.String()).
				Str(log.FieldNewState, change.To.String()).
				Msg("player state")
			if change.To == vastkit.StateReleased {
				return
			}
		}
	}
}

type scriptAction struct {
	at   time.Duration
	name string
	do   func()
}

// buildScript converts the scripted-input flags into a time-ordered
// action list.
func buildScript(p *vastkit.Player) []scriptAction {
	var script []scriptAction
	if simFlags.pauseAt > 0 {
		script = append(script,
			scriptAction{at: simFlags.pauseAt, name: "pause", do: p.TogglePlayPause},
			scriptAction{at: simFlags.pauseAt + simFlags.pauseFor, name: "resume", do: p.TogglePlayPause},
		)
	}
	if simFlags.hideAt > 0 {
		script = append(script,
			scriptAction{at: simFlags.hideAt, name: "hide", do: func() { p.SetVisible(false) }},
			scriptAction{at: simFlags.hideAt + simFlags.hideFor, name: "show", do: func() { p.SetVisible(true) }},
		)
	}
	if simFlags.muteAt > 0 {
		script = append(script, scriptAction{at: simFlags.muteAt, name: "mute", do: p.ToggleMute})
	}
	if simFlags.clickAt > 0 {
		script = append(script, scriptAction{at: simFlags.clickAt, name: "click", do: p.Click})
	}
	sort.Slice(script, func(i, j int) bool { return script[i].at < script[j].at })
	return script
}

func runScript(ctx context.Context, actions []scriptAction, logger zerolog.Logger) {
	start := time.Now()
	for _, action := range actions {
		if wait := time.Until(start.Add(action.at)); wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		logger.Info().
			Str("action", action.name).
			Dur("at", action.at).
			Msg("scripted input")
		action.do()
	}
}

func printSummary(cmd *cobra.Command, p *vastkit.Player, tap *tapSender) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s finished: state=%s\n", p.SessionID(), p.State())

	counts := tap.Counts()
	events := lo.Keys(counts)
	sort.Strings(events)
	for _, event := range events {
		fmt.Fprintf(out, "  %-16s %d\n", event, counts[event])
	}
}

// tapSender passes beacons through to the real sender while counting
// them by event name. The first completion delivery doubles as the
// CLI's stop cue.
type tapSender struct {
	next vastkit.Sender

	mu     sync.Mutex
	counts map[string]int

	completeOnce sync.Once
	completed    chan struct{}
}

func newTapSender(next vastkit.Sender) *tapSender {
	return &tapSender{
		next:      next,
		counts:    make(map[string]int),
		completed: make(chan struct{}),
	}
}

func (t *tapSender) Send(u *url.URL, event string) {
	if u == nil {
		return
	}
	t.record(event, 1)
	t.next.Send(u, event)
}

func (t *tapSender) SendAll(urls []*url.URL, event string) {
	if len(urls) == 0 {
		return
	}
	t.record(event, len(urls))
	t.next.SendAll(urls, event)
}

func (t *tapSender) Close() { t.next.Close() }

// Completed is closed when the first "complete" beacon goes out.
func (t *tapSender) Completed() <-chan struct{} { return t.completed }

func (t *tapSender) Counts() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counts))
	for event, n := range t.counts {
		out[event] = n
	}
	return out
}

func (t *tapSender) record(event string, n int) {
	t.mu.Lock()
	t.counts[event] += n
	t.mu.Unlock()
	if event == "complete" {
		t.completeOnce.Do(func() { close(t.completed) })
	}
}

// logSender logs beacons instead of delivering them, for --dry-run.
type logSender struct {
	logger zerolog.Logger
}

func (s *logSender) Send(u *url.URL, event string) {
	s.logger.Info().
		Str(log.FieldBeaconType, event).
		Str(log.FieldURL, urlutil.Sanitize(u)).
		Msg("dry-run beacon")
}

func (s *logSender) SendAll(urls []*url.URL, event string) {
	for _, u := range urls {
		s.Send(u, event)
	}
}

func (s *logSender) Close() {}

// sinkRewriteSender redirects every beacon to the local sink, keeping
// path and query so hits stay distinguishable there.
type sinkRewriteSender struct {
	target string
	next   vastkit.Sender
}

func (s *sinkRewriteSender) Send(u *url.URL, event string) {
	if u == nil {
		return
	}
	rewritten := *u
	rewritten.Scheme = "http"
	rewritten.Host = s.target
	s.next.Send(&rewritten, event)
}

func (s *sinkRewriteSender) SendAll(urls []*url.URL, event string) {
	for _, u := range urls {
		s.Send(u, event)
	}
}

func (s *sinkRewriteSender) Close() { s.next.Close() }

// parseDurationLabel converts a VAST duration label ("HH:MM:SS",
// optionally with a ".mmm" fraction) into a time.Duration.
func parseDurationLabel(label string) (time.Duration, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return 0, false
	}
	parts := strings.Split(label, ":")
	if len(parts) != 3 {
		return 0, false
	}

	secPart := parts[2]
	var millis int64
	if dot := strings.IndexByte(secPart, '.'); dot >= 0 {
		frac := secPart[dot+1:]
		secPart = secPart[:dot]
		for len(frac) < 3 {
			frac += "0"
		}
		ms, err := strconv.ParseInt(frac[:3], 10, 64)
		if err != nil {
			return 0, false
		}
		millis = ms
	}

	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	s, err3 := strconv.Atoi(secPart)
	if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 || s < 0 {
		return 0, false
	}

	d := time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(millis)*time.Millisecond
	if d <= 0 {
		return 0, false
	}
	return d, true
}
