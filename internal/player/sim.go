// SPDX-License-Identifier: MIT

package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vastkit/vastkit/internal/log"
	"github.com/vastkit/vastkit/internal/urlutil"
)

// ErrSimulatedFailure is the error a SimEngine reports when configured
// to fail mid-playback.
var ErrSimulatedFailure = errors.New("simulated playback failure")

var _ Engine = (*SimEngine)(nil)

// SimOptions configures a simulated playback run.
type SimOptions struct {
	// Duration is the simulated media length. Required.
	Duration time.Duration

	// Speed multiplies media time against wall time. 1.0 plays in real
	// time; 10.0 compresses a 30s spot into 3s. Defaults to 1.0.
	Speed float64

	// Loop makes the engine wrap to position 0 with a loop-transition
	// notification instead of reporting ended.
	Loop bool

	// ReadyDelay postpones the ready notification after Load,
	// simulating initial buffering.
	ReadyDelay time.Duration

	// StallAt, when positive, injects one rebuffer once the playhead
	// crosses it: a buffering notification, StallFor of wall-clock
	// stall, then ready again.
	StallAt  time.Duration
	StallFor time.Duration

	// FailAt, when positive, reports a fatal error once the playhead
	// crosses it.
	FailAt time.Duration
}

// SimEngine is a wall-clock playback engine simulation. It honors the
// full Engine contract against synthetic media, which makes it usable
// both as the CLI's stand-in backend and as a realistic fixture.
type SimEngine struct {
	speed      float64
	loop       bool
	durationMS int64
	readyDelay time.Duration
	stallAtMS  int64
	stallFor   time.Duration
	failAtMS   int64

	logger zerolog.Logger
	events chan Event
	quit   chan struct{}
	done   chan struct{}
	stop   sync.Once

	mu         sync.Mutex
	loaded     bool
	readyAt    time.Time
	readyFired bool
	playing    bool
	baseMS     int64
	resumedAt  time.Time
	volume     float64
	stallFired bool
	stallUntil time.Time
	failFired  bool
	mediaURI   string
	captionURI string
}

// NewSimEngine starts the simulation clock. Callers must Stop the
// engine when done with it.
func NewSimEngine(opts SimOptions) *SimEngine {
	speed := opts.Speed
	if speed <= 0 {
		speed = 1.0
	}
	e := &SimEngine{
		speed:      speed,
		loop:       opts.Loop,
		durationMS: opts.Duration.Milliseconds(),
		readyDelay: opts.ReadyDelay,
		stallAtMS:  opts.StallAt.Milliseconds(),
		stallFor:   opts.StallFor,
		failAtMS:   opts.FailAt.Milliseconds(),
		logger:     log.WithComponent("simengine"),
		events:     make(chan Event, 32),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		volume:     1.0,
	}
	go e.watch()
	return e
}

// Load resets the simulation to position 0 and arms the ready
// notification.
func (e *SimEngine) Load(_ context.Context, mediaURI, captionURI string) error {
	now := time.Now()
	e.mu.Lock()
	e.loaded = true
	e.readyAt = now.Add(e.readyDelay)
	e.readyFired = false
	e.playing = false
	e.baseMS = 0
	e.stallFired = false
	e.stallUntil = time.Time{}
	e.failFired = false
	e.mediaURI = mediaURI
	e.captionURI = captionURI
	e.mu.Unlock()

	e.logger.Debug().
		Str(log.FieldEvent, "sim.loaded").
		Str(log.FieldURL, urlutil.SanitizeString(mediaURI)).
		Msg("media loaded")
	return nil
}

func (e *SimEngine) Play() {
	e.mu.Lock()
	if e.loaded && !e.playing {
		e.playing = true
		e.resumedAt = time.Now()
	}
	e.mu.Unlock()
}

func (e *SimEngine) Pause() {
	now := time.Now()
	e.mu.Lock()
	if e.playing {
		e.baseMS = e.positionLocked(now)
		e.playing = false
	}
	e.mu.Unlock()
}

func (e *SimEngine) SeekTo(positionMS int64) {
	e.mu.Lock()
	e.baseMS = positionMS
	e.resumedAt = time.Now()
	e.mu.Unlock()
}

func (e *SimEngine) SetVolume(volume float64) {
	e.mu.Lock()
	e.volume = volume
	e.mu.Unlock()
	e.emit(Event{Kind: EventVolumeChanged, Volume: volume})
}

func (e *SimEngine) CurrentPosition() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked(time.Now())
}

// Duration reports 0 until the engine is ready, like a real backend
// that cannot know the media length before preparing it.
func (e *SimEngine) Duration() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.readyFired {
		return 0
	}
	return e.durationMS
}

func (e *SimEngine) Events() <-chan Event {
	return e.events
}

// Stop halts the simulation clock. It does not close the events
// channel; pending notifications stay readable.
func (e *SimEngine) Stop() {
	e.stop.Do(func() { close(e.quit) })
	<-e.done
}

func (e *SimEngine) positionLocked(now time.Time) int64 {
	pos := e.baseMS
	if e.playing {
		pos += int64(float64(now.Sub(e.resumedAt).Milliseconds()) * e.speed)
	}
	if !e.loop && pos > e.durationMS {
		pos = e.durationMS
	}
	return pos
}

func (e *SimEngine) watch() {
	defer close(e.done)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.quit:
			return
		case now := <-ticker.C:
			for _, ev := range e.step(now) {
				e.emit(ev)
			}
		}
	}
}

// step advances the simulation one clock tick and returns the
// notifications it produced.
func (e *SimEngine) step(now time.Time) []Event {
	var evs []Event
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return nil
	}
	if !e.readyFired && !now.Before(e.readyAt) {
		e.readyFired = true
		e.playing = true
		e.resumedAt = now
		evs = append(evs, Event{Kind: EventReady})
	}
	if !e.stallUntil.IsZero() && !now.Before(e.stallUntil) {
		e.stallUntil = time.Time{}
		e.playing = true
		e.resumedAt = now
		evs = append(evs, Event{Kind: EventReady})
	}
	if !e.playing {
		return evs
	}

	pos := e.positionLocked(now)
	switch {
	case e.failAtMS > 0 && !e.failFired && pos >= e.failAtMS:
		e.failFired = true
		e.playing = false
		e.baseMS = pos
		evs = append(evs, Event{Kind: EventFatal, Err: ErrSimulatedFailure})
	case e.stallAtMS > 0 && !e.stallFired && pos >= e.stallAtMS:
		e.stallFired = true
		e.playing = false
		e.baseMS = pos
		e.stallUntil = now.Add(e.stallFor)
		evs = append(evs, Event{Kind: EventBuffering})
	case pos >= e.durationMS && e.durationMS > 0:
		if e.loop {
			e.baseMS = 0
			e.resumedAt = now
			evs = append(evs, Event{Kind: EventLoopTransition})
		} else {
			e.playing = false
			e.baseMS = e.durationMS
			evs = append(evs, Event{Kind: EventEnded})
		}
	}
	return evs
}

// emit delivers a notification unless the engine is stopping. The
// channel is buffered; a reader that went away only costs the buffer.
func (e *SimEngine) emit(ev Event) {
	select {
	case e.events <- ev:
	case <-e.quit:
	}
}
