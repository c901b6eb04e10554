// SPDX-License-Identifier: MIT

// Package player drives the measurement lifecycle of one loaded ad
// creative: it consumes playback engine notifications and a periodic
// progress poll, decides which tracking beacons and verification calls
// to issue, and guarantees their once-only and ordering rules.
package player

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vastkit/vastkit/internal/log"
	"github.com/vastkit/vastkit/internal/metrics"
	"github.com/vastkit/vastkit/internal/quartile"
	"github.com/vastkit/vastkit/internal/telemetry"
	"github.com/vastkit/vastkit/internal/urlutil"
	"github.com/vastkit/vastkit/internal/vast"
	"github.com/vastkit/vastkit/internal/verification"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	commandBuffer       = 16
	stateBuffer         = 16
)

var (
	// ErrReleased is returned by Load after Release.
	ErrReleased = errors.New("player: released")

	// ErrNoPlayableMedia is returned by Load when the creative has no
	// media rendition to hand to the engine.
	ErrNoPlayableMedia = errors.New("player: creative has no playable media")
)

// Sender dispatches tracking beacons without blocking the caller.
// *beacon.Dispatcher satisfies it.
type Sender interface {
	Send(u *url.URL, event string)
	SendAll(urls []*url.URL, event string)
	Close()
}

// Options configures a Player.
type Options struct {
	// Sender delivers tracking beacons. Required.
	Sender Sender

	// OpenClickThrough receives the click-through URL when a click
	// lands on a clickable creative. It runs on the control goroutine
	// and must not block. Optional.
	OpenClickThrough func(*url.URL)

	// NewSession builds the verification session for a loaded
	// creative. Defaults to verification.ForCreative with Sender.
	NewSession func(*vast.AdCreative) verification.Session

	// PollInterval overrides the progress poll period. Defaults to
	// 100ms, the interval downstream measurement was calibrated
	// against.
	PollInterval time.Duration
}

// Player is the playback event orchestrator. One Player measures one
// creative at a time; Load replaces the active session, Release tears
// the player down for good.
//
// All measurement state lives on a single control goroutine. Command
// methods post into that goroutine and return immediately.
type Player struct {
	engine       Engine
	sender       Sender
	opener       func(*url.URL)
	newSession   func(*vast.AdCreative) verification.Session
	pollInterval time.Duration

	stateCh chan StateChange

	mu       sync.RWMutex
	state    State
	lastErr  error
	released bool
	active   *session
}

// New wires a Player to its playback engine.
func New(engine Engine, opts Options) (*Player, error) {
	if engine == nil {
		return nil, errors.New("player: engine is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("player: sender is required")
	}
	p := &Player{
		engine:       engine,
		sender:       opts.Sender,
		opener:       opts.OpenClickThrough,
		newSession:   opts.NewSession,
		pollInterval: opts.PollInterval,
		stateCh:      make(chan StateChange, stateBuffer),
		state:        StateIdle,
	}
	if p.newSession == nil {
		p.newSession = func(c *vast.AdCreative) verification.Session {
			return verification.ForCreative(c, p.sender)
		}
	}
	if p.pollInterval <= 0 {
		p.pollInterval = defaultPollInterval
	}
	return p, nil
}

// Load starts measuring a creative. Any previously loaded session is
// stopped first; its already-fired flags do not carry over. Load is
// not safe to call concurrently with itself or Release.
func (p *Player) Load(ctx context.Context, creative *vast.AdCreative) error {
	p.mu.RLock()
	released := p.released
	prev := p.active
	p.mu.RUnlock()
	if released {
		return ErrReleased
	}
	if prev != nil {
		prev.stop()
		prev.verification.StopSession()
	}

	media := firstPlayable(creative)
	if media == nil {
		err := ErrNoPlayableMedia
		p.fail(err)
		return err
	}
	captionURI := ""
	if media.CaptionURL != nil {
		captionURI = media.CaptionURL.String()
	}

	sessionID := uuid.NewString()
	ctx, span := telemetry.Tracer("vastkit.player").Start(ctx, "vastkit.player.session",
		trace.WithAttributes(telemetry.SessionAttributes(sessionID, creative.AdID)...))

	if err := p.engine.Load(ctx, media.URL.String(), captionURI); err != nil {
		err = fmt.Errorf("load media: %w", err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		p.fail(err)
		return err
	}

	logger := log.Derive(func(c *zerolog.Context) {
		*c = c.Str(log.FieldComponent, "player").
			Str(log.FieldSessionID, sessionID).
			Str(log.FieldAdID, creative.AdID)
	})

	s := &session{
		player:       p,
		creative:     creative,
		verification: p.newSession(creative),
		logger:       logger,
		span:         span,
		id:           sessionID,
		cmds:         make(chan command, commandBuffer),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.verification.StartSession()

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		s.verification.StopSession()
		span.End()
		return ErrReleased
	}
	p.active = s
	p.lastErr = nil
	p.mu.Unlock()

	metrics.IncSessionStarted()
	logger.Info().
		Str(log.FieldEvent, "player.session_started").
		Str(log.FieldURL, urlutil.Sanitize(media.URL)).
		Msg("creative loaded")
	p.setState(StateLoading)

	go s.run()
	return nil
}

// State reports the current playback state.
func (p *Player) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Err reports the terminal error after StateError, nil otherwise.
func (p *Player) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// States exposes the transition stream. The channel is buffered; a
// consumer that falls behind misses intermediate transitions rather
// than stalling the control loop. The channel is never closed.
func (p *Player) States() <-chan StateChange {
	return p.stateCh
}

// SessionID identifies the active measurement session, "" when idle.
func (p *Player) SessionID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.active == nil {
		return ""
	}
	return p.active.id
}

// TogglePlayPause applies a user-initiated play state toggle.
func (p *Player) TogglePlayPause() {
	p.post(command{kind: cmdTogglePlayPause})
}

// SetVisible applies a visibility change. Visibility transitions
// command the engine and the verification session but never fire
// tracking beacons.
func (p *Player) SetVisible(visible bool) {
	p.post(command{kind: cmdVisibility, visible: visible})
}

// ToggleMute flips between muted and full volume.
func (p *Player) ToggleMute() {
	p.post(command{kind: cmdToggleMute})
}

// Click applies a user click on the creative surface.
func (p *Player) Click() {
	p.post(command{kind: cmdClick})
}

// Release stops the control loop, cancels every in-flight and armed
// beacon delivery, tears down the verification session, and discards
// session state. Nothing fires after Release returns. Release is
// idempotent.
func (p *Player) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	s := p.active
	p.active = nil
	p.mu.Unlock()

	if s != nil {
		s.stop()
	}
	p.sender.Close()
	if s != nil {
		s.verification.StopSession()
		s.logger.Info().
			Str(log.FieldEvent, "player.session_released").
			Msg("session released")
	}
	p.setState(StateReleased)
	metrics.IncSessionReleased()
}

func (p *Player) post(c command) {
	p.mu.RLock()
	s := p.active
	p.mu.RUnlock()
	if s == nil {
		return
	}
	select {
	case s.cmds <- c:
	case <-s.done:
	}
}

func (p *Player) setState(to State) {
	p.mu.Lock()
	from := p.state
	if from == to || from == StateReleased {
		p.mu.Unlock()
		return
	}
	p.state = to
	p.mu.Unlock()

	select {
	case p.stateCh <- StateChange{From: from, To: to}:
	default:
	}
	logger := log.WithComponent("player")
	logger.Debug().
		Str(log.FieldEvent, "player.state_changed").
		Str(log.FieldOldState, from.String()).
		Str(log.FieldNewState, to.String()).
		Msg("state changed")
}

func (p *Player) fail(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	p.setState(StateError)
}

// firstPlayable picks the rendition handed to the engine: the first
// one in document order, matching how the creative was served.
func firstPlayable(creative *vast.AdCreative) *vast.MediaRendition {
	if creative == nil {
		return nil
	}
	for i := range creative.MediaRenditions {
		if creative.MediaRenditions[i].URL != nil {
			return &creative.MediaRenditions[i]
		}
	}
	return nil
}

type commandKind int

const (
	cmdTogglePlayPause commandKind = iota
	cmdVisibility
	cmdToggleMute
	cmdClick
)

type command struct {
	kind    commandKind
	visible bool
}

// sessionState is the per-load measurement state. It is owned by the
// control goroutine; nothing else reads or writes it.
type sessionState struct {
	highestQuartile quartile.Quartile
	loadedFired     bool
	completeFired   bool
	userPaused      bool
	muted           bool
}

// session is one load's control loop and its state.
type session struct {
	player       *Player
	creative     *vast.AdCreative
	verification verification.Session
	logger       zerolog.Logger
	span         trace.Span
	id           string

	cmds chan command
	quit chan struct{}
	done chan struct{}
	once sync.Once

	state sessionState
	fatal bool
}

func (s *session) stop() {
	s.once.Do(func() { close(s.quit) })
	<-s.done
}

func (s *session) run() {
	defer close(s.done)
	defer s.span.End()
	ticker := time.NewTicker(s.player.pollInterval)
	defer ticker.Stop()

	events := s.player.engine.Events()
	polling := true
	for {
		select {
		case <-s.quit:
			return
		case ev, ok := <-events:
			if !ok {
				// Engine went away. Commands keep working; there is
				// just nothing left to react to.
				events = nil
				continue
			}
			s.handleEvent(ev)
		case <-ticker.C:
			if polling {
				s.handleTick()
			}
		case c := <-s.cmds:
			s.handleCommand(c)
		}
		if s.fatal && polling {
			polling = false
			ticker.Stop()
		}
	}
}

func (s *session) handleEvent(ev Event) {
	if s.fatal {
		return
	}
	switch ev.Kind {
	case EventReady:
		s.handleReady()
	case EventBuffering:
		s.verification.BufferStart()
		s.player.setState(StateBuffering)
	case EventEnded:
		s.complete("ended")
	case EventLoopTransition:
		s.complete("loop")
	case EventVolumeChanged:
		// Engine-originated volume changes only re-sync the cached
		// flag. Measurement happens on the user toggle.
		s.state.muted = ev.Volume <= 0
	case EventFatal:
		s.handleFatal(ev.Err)
	}
}

// handleReady applies rule one: impression beacons, then the
// verification loaded and impression calls, exactly once per load.
// BufferFinish fires on every ready notification, deliberately outside
// the once-block.
func (s *session) handleReady() {
	if !s.state.loadedFired {
		s.state.loadedFired = true
		s.player.sender.SendAll(s.creative.ImpressionURLs, "impression")
		s.verification.Loaded()
		s.verification.ImpressionOccurred()
		metrics.AddImpressions(len(s.creative.ImpressionURLs))
		s.logger.Info().
			Str(log.FieldEvent, "player.impression_fired").
			Int("impression_urls", len(s.creative.ImpressionURLs)).
			Msg("loaded and impression fired")
	}
	s.verification.BufferFinish()
	if s.state.userPaused {
		s.player.setState(StatePaused)
	} else {
		s.player.setState(StatePlaying)
	}
}

func (s *session) handleTick() {
	duration := s.player.engine.Duration()
	if duration <= 0 {
		return
	}
	position := s.player.engine.CurrentPosition()
	q := quartile.Classify(position, duration)
	if q <= s.state.highestQuartile {
		return
	}
	// Jumps skip buckets for good: only the classified quartile fires,
	// never the ones a fast start stepped over.
	s.state.highestQuartile = q
	s.fireQuartile(q, position, duration)
}

func (s *session) fireQuartile(q quartile.Quartile, position, duration int64) {
	key := q.String()
	if u := s.creative.Tracking(key); u != nil {
		s.player.sender.Send(u, key)
	}
	switch q {
	case quartile.Start:
		s.verification.Start(duration, s.currentVolume())
	case quartile.First:
		s.verification.FirstQuartile()
	case quartile.Second:
		s.verification.Midpoint()
	case quartile.Third:
		s.verification.ThirdQuartile()
	}
	metrics.IncQuartile(key)
	s.span.AddEvent("playback.quartile",
		trace.WithAttributes(telemetry.ProgressAttributes(key, position, duration)...))
	s.logger.Debug().
		Str(log.FieldEvent, "player.quartile_fired").
		Str(log.FieldQuartile, key).
		Int64(log.FieldPosition, position).
		Int64(log.FieldDuration, duration).
		Msg("quartile fired")
}

// complete applies the completion rule: exactly once per load, from
// whichever of ended or loop-transition lands first. The restart that
// follows resets nothing.
func (s *session) complete(trigger string) {
	if s.state.completeFired {
		return
	}
	s.state.completeFired = true
	s.state.highestQuartile = quartile.Complete
	if u := s.creative.Tracking("complete"); u != nil {
		s.player.sender.Send(u, "complete")
	}
	s.verification.Complete()
	metrics.IncCompletion(trigger)
	s.span.AddEvent("playback.complete")
	s.player.engine.SeekTo(0)
	s.player.engine.Play()
	s.logger.Info().
		Str(log.FieldEvent, "player.completed").
		Str("trigger", trigger).
		Msg("completion fired")
}

func (s *session) handleFatal(err error) {
	s.fatal = true
	s.player.sender.SendAll(s.creative.ErrorURLs, "error")
	metrics.IncPlaybackError("engine_fatal")
	if err == nil {
		err = errors.New("player: engine reported fatal error")
	}
	s.span.SetAttributes(telemetry.ErrorAttributes("engine_fatal")...)
	s.span.SetStatus(codes.Error, err.Error())
	s.logger.Error().
		Err(err).
		Str(log.FieldEvent, "player.fatal").
		Msg("fatal playback error")
	s.player.fail(err)
}

func (s *session) handleCommand(c command) {
	if s.fatal {
		return
	}
	switch c.kind {
	case cmdTogglePlayPause:
		s.togglePlayPause()
	case cmdVisibility:
		s.setVisible(c.visible)
	case cmdToggleMute:
		s.toggleMute()
	case cmdClick:
		s.click()
	}
}

// togglePlayPause applies a user-initiated toggle. The engine is
// always commanded; beacon and verification fire only once playback
// has meaningfully started (a quartile was reached).
func (s *session) togglePlayPause() {
	s.state.userPaused = !s.state.userPaused
	action := "resume"
	if s.state.userPaused {
		action = "pause"
		s.player.engine.Pause()
	} else {
		s.player.engine.Play()
	}
	if s.state.highestQuartile > quartile.Unknown {
		if u := s.creative.Tracking(action); u != nil {
			s.player.sender.Send(u, action)
		}
		if s.state.userPaused {
			s.verification.Pause()
		} else {
			s.verification.Resume()
		}
		metrics.IncPauseResume(action, "user")
	}
	s.logger.Debug().
		Str(log.FieldEvent, "player.play_pause_toggled").
		Str("action", action).
		Msg("user toggled play state")
	if s.state.userPaused {
		s.player.setState(StatePaused)
	} else {
		s.player.setState(StatePlaying)
	}
}

// setVisible applies visibility gating. It never fires beacons, and a
// regained visibility never overrides an explicit user pause.
func (s *session) setVisible(visible bool) {
	if visible {
		if s.state.userPaused {
			s.logger.Debug().
				Str(log.FieldEvent, "player.visibility_resume_suppressed").
				Msg("visible again but user paused")
			return
		}
		s.player.engine.Play()
		s.verification.Resume()
		metrics.IncPauseResume("resume", "visibility")
		s.player.setState(StatePlaying)
		return
	}
	s.player.engine.Pause()
	s.verification.Pause()
	metrics.IncPauseResume("pause", "visibility")
	s.player.setState(StatePaused)
}

func (s *session) toggleMute() {
	s.state.muted = !s.state.muted
	volume := 1.0
	key := "unmute"
	muteState := "unmuted"
	if s.state.muted {
		volume = 0.0
		key = "mute"
		muteState = "muted"
	}
	s.player.engine.SetVolume(volume)
	if u := s.creative.Tracking(key); u != nil {
		s.player.sender.Send(u, key)
	}
	s.verification.VolumeChange(volume)
	metrics.IncMuteToggle(s.state.muted)
	s.logger.Debug().
		Str(log.FieldEvent, "player.mute_toggled").
		Str("state", muteState).
		Msg("mute toggled")
}

// click fires click tracking and hands the landing page to the opener.
// Creatives without a click-through reinterpret the click as a user
// play/pause toggle.
func (s *session) click() {
	if !s.creative.Clickable() {
		metrics.IncClick("toggle")
		s.togglePlayPause()
		return
	}
	s.player.sender.SendAll(s.creative.ClickTrackingURLs, "clickTracking")
	s.verification.ClickInteraction()
	if s.player.opener != nil {
		s.player.opener(s.creative.ClickThroughURL)
	}
	metrics.IncClick("clickthrough")
	s.logger.Info().
		Str(log.FieldEvent, "player.clicked").
		Str(log.FieldURL, urlutil.Sanitize(s.creative.ClickThroughURL)).
		Msg("click-through opened")
}

func (s *session) currentVolume() float64 {
	if s.state.muted {
		return 0.0
	}
	return 1.0
}
