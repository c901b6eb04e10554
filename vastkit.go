// SPDX-License-Identifier: MIT

// Package vastkit implements the ad-measurement core of a video-ad
// player: it parses VAST documents into an immutable creative model,
// tracks playback progress against quartile thresholds, and fires
// tracking beacons and verification events with strict once-only and
// ordering guarantees, regardless of looping, pausing, or visibility
// changes.
//
// # Architecture
//
// vastkit does not decode or render media. It drives measurement on
// top of two consumer-supplied collaborators:
//
//   - Engine: the media playback backend (positions, durations,
//     notifications, transport commands)
//   - Session: the ad-verification vendor gateway (selected
//     automatically from the creative unless overridden)
//
// Tracking beacons are delivered by a built-in fire-and-forget HTTP
// dispatcher with bounded retry and backoff; delivery failures are
// logged and counted, never surfaced to playback.
//
// # Basic Usage
//
//	creative, err := vastkit.Fetch(ctx, nil, tagURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p := vastkit.New(vastkit.Options{
//	    Engine: myEngine,
//	    OpenClickThrough: func(u *url.URL) { browser.Open(u) },
//	})
//	defer p.Release()
//
//	if err := p.Load(ctx, creative); err != nil {
//	    log.Fatal(err)
//	}
//
// From here the player reacts to engine notifications on its own.
// User interactions are forwarded through TogglePlayPause, ToggleMute,
// Click, and SetVisible; Release tears the session down and guarantees
// that no beacon or verification call fires afterwards.
package vastkit

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/vastkit/vastkit/internal/beacon"
	"github.com/vastkit/vastkit/internal/caption"
	"github.com/vastkit/vastkit/internal/player"
	"github.com/vastkit/vastkit/internal/quartile"
	"github.com/vastkit/vastkit/internal/vast"
	"github.com/vastkit/vastkit/internal/verification"
)

type (
	// AdCreative is the parsed, player-facing view of a VAST response.
	// It is immutable after parsing and safe to share across goroutines.
	AdCreative = vast.AdCreative

	// MediaRendition is one playable MediaFile variant of a creative.
	MediaRendition = vast.MediaRendition

	// Verification describes the creative's ad-verification resource.
	Verification = vast.Verification

	// Engine abstracts the media playback backend a Player drives.
	Engine = player.Engine

	// Event is one playback engine notification.
	Event = player.Event

	// EventKind identifies a playback engine notification.
	EventKind = player.EventKind

	// State is the player's public playback state.
	State = player.State

	// StateChange is one observed transition on the state stream.
	StateChange = player.StateChange

	// Session receives the measurement lifecycle of one loaded creative.
	Session = verification.Session

	// Sender delivers tracking beacons without blocking the caller.
	Sender = player.Sender

	// Quartile identifies how far playback has progressed.
	Quartile = quartile.Quartile

	// CaptionIndex answers point-in-time caption lookups.
	CaptionIndex = caption.Index

	// Cue is a single caption with a half-open display window.
	Cue = caption.Cue
)

// Engine notification kinds.
const (
	EventReady          = player.EventReady
	EventBuffering      = player.EventBuffering
	EventEnded          = player.EventEnded
	EventLoopTransition = player.EventLoopTransition
	EventVolumeChanged  = player.EventVolumeChanged
	EventFatal          = player.EventFatal
)

// Player states.
const (
	StateIdle      = player.StateIdle
	StateLoading   = player.StateLoading
	StatePlaying   = player.StatePlaying
	StatePaused    = player.StatePaused
	StateBuffering = player.StateBuffering
	StateError     = player.StateError
	StateReleased  = player.StateReleased
)

// Progress quartiles, ordered. Comparisons between quartiles are
// ordinal: a later quartile is greater than every earlier one.
const (
	QuartileUnknown  = quartile.Unknown
	QuartileStart    = quartile.Start
	QuartileFirst    = quartile.First
	QuartileSecond   = quartile.Second
	QuartileThird    = quartile.Third
	QuartileComplete = quartile.Complete
)

// Sentinel errors surfaced by Player.Load.
var (
	ErrReleased        = player.ErrReleased
	ErrNoPlayableMedia = player.ErrNoPlayableMedia
)

// Options configures a Player. Engine is required; every other field
// has a working default.
type Options struct {
	// Engine is the media playback backend. Required.
	Engine Engine

	// HTTPClient issues beacon requests. Defaults to a client with a
	// 5s per-attempt timeout and an OpenTelemetry-instrumented
	// transport.
	HTTPClient *http.Client

	// UserAgent is sent with every beacon request. Defaults to
	// "vastkit/1.0".
	UserAgent string

	// BeaconRetries is the number of delivery retries after the first
	// failed attempt. Zero means the default of 2 (3 attempts total);
	// negative disables retries.
	BeaconRetries int

	// BeaconBackoff is the base retry delay; the n-th retry waits
	// BeaconBackoff<<(n-1) plus jitter. Defaults to 1s.
	BeaconBackoff time.Duration

	// BeaconMaxBackoff caps the retry delay before jitter. Defaults
	// to 8s.
	BeaconMaxBackoff time.Duration

	// PollInterval overrides the progress poll period. Defaults to
	// 100ms, the interval downstream measurement was calibrated
	// against.
	PollInterval time.Duration

	// OpenClickThrough receives the click-through URL when a click
	// lands on a clickable creative. It runs on the player's control
	// goroutine and must not block. Optional.
	OpenClickThrough func(*url.URL)

	// NewSession overrides verification session selection. By default
	// a creative carrying a verification script gets a remote session
	// that forwards vendor tracking, everything else a no-op stub.
	NewSession func(*AdCreative) Session

	// Sender replaces the built-in beacon dispatcher, for dry runs and
	// tests. When set, the beacon tuning fields above are ignored and
	// the Player takes ownership of the Sender: Release closes it.
	Sender Sender
}

func (o *Options) validate() {
	if o.Engine == nil {
		panic("vastkit: Engine is required")
	}
}

// Player measures the playback of VAST creatives against one Engine.
// One Player measures one creative at a time; Load replaces the active
// session, Release tears the player down for good.
//
// All command methods are safe for concurrent use and never block on
// network activity.
type Player struct {
	core *player.Player
}

// New creates a Player wired to its playback engine. It panics if
// Options.Engine is nil; every other option defaults sensibly.
func New(opts Options) *Player {
	opts.validate()

	sender := opts.Sender
	var dispatcher *beacon.Dispatcher
	if sender == nil {
		dispatcher = beacon.NewDispatcher(beacon.Options{
			Client:     opts.HTTPClient,
			MaxRetries: opts.BeaconRetries,
			Backoff:    opts.BeaconBackoff,
			MaxBackoff: opts.BeaconMaxBackoff,
			UserAgent:  opts.UserAgent,
		})
		sender = dispatcher
	}

	core, err := player.New(opts.Engine, player.Options{
		Sender:           sender,
		OpenClickThrough: opts.OpenClickThrough,
		NewSession:       opts.NewSession,
		PollInterval:     opts.PollInterval,
	})
	if err != nil {
		// Unreachable: engine and sender were checked above.
		if dispatcher != nil {
			dispatcher.Close()
		}
		panic("vastkit: " + err.Error())
	}
	return &Player{core: core}
}

// Load starts measuring a creative: the first playable rendition is
// handed to the engine, a verification session is selected and
// started, and all once-per-load flags are reset. A previously loaded
// session is stopped first.
func (p *Player) Load(ctx context.Context, creative *AdCreative) error {
	return p.core.Load(ctx, creative)
}

// TogglePlayPause applies a user-initiated play state toggle. Pause
// and resume beacons fire only once playback has meaningfully started.
func (p *Player) TogglePlayPause() { p.core.TogglePlayPause() }

// SetVisible applies a visibility change. Visibility transitions
// command the engine and the verification session but never fire
// tracking beacons, and a regained visibility never overrides an
// explicit user pause.
func (p *Player) SetVisible(visible bool) { p.core.SetVisible(visible) }

// ToggleMute flips between muted and full volume. Every toggle fires
// the mute or unmute beacon and the verification volume change.
func (p *Player) ToggleMute() { p.core.ToggleMute() }

// Click applies a user click on the creative surface. Clickable
// creatives fire click tracking and open the landing page; creatives
// without a click-through reinterpret the click as TogglePlayPause.
func (p *Player) Click() { p.core.Click() }

// State reports the current playback state.
func (p *Player) State() State { return p.core.State() }

// States exposes the transition stream. The channel is buffered; a
// consumer that falls behind misses intermediate transitions rather
// than stalling measurement.
func (p *Player) States() <-chan StateChange { return p.core.States() }

// Err reports the terminal error after StateError, nil otherwise.
func (p *Player) Err() error { return p.core.Err() }

// SessionID identifies the active measurement session, "" when idle.
func (p *Player) SessionID() string { return p.core.SessionID() }

// Release stops measurement, cancels every in-flight and armed beacon
// delivery, and tears down the verification session. No beacon or
// verification call fires after Release returns. Release is
// idempotent; a released Player cannot be loaded again.
func (p *Player) Release() { p.core.Release() }

// Parse decodes a VAST document into an AdCreative. It never returns
// an error: malformed documents yield an empty creative and individual
// unusable URLs are dropped, so playback can proceed with whatever
// measurement data survived.
func Parse(xmlText string) *AdCreative {
	return vast.Parse(xmlText)
}

// Fetch retrieves a VAST document over HTTP and parses it. The fetch
// is a single attempt; a tag that cannot be loaded surfaces as an
// error to the caller. A nil client uses http.DefaultClient.
func Fetch(ctx context.Context, client *http.Client, tagURL string) (*AdCreative, error) {
	return vast.Fetch(ctx, client, tagURL)
}

// Classify buckets a playback position into a progress quartile. Both
// arguments are in milliseconds; a non-positive duration yields
// QuartileUnknown. QuartileComplete is never returned: completion is
// asserted on end-of-stream, not derived from position.
func Classify(positionMS, durationMS int64) Quartile {
	return quartile.Classify(positionMS, durationMS)
}

// NewCaptionIndex creates an empty caption cue index.
func NewCaptionIndex() *CaptionIndex {
	return caption.NewIndex()
}
