// SPDX-License-Identifier: MIT

package player

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vastkit/vastkit/internal/vast"
	"github.com/vastkit/vastkit/internal/verification"
)

// callLog records beacon, verification, and engine activity in one
// ordered sequence so tests can assert cross-component ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.snapshot() {
		if c == call {
			n++
		}
	}
	return n
}

func (l *callLog) await(t *testing.T, call string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return l.count(call) >= n },
		5*time.Second, time.Millisecond, "waiting for %dx %q", n, call)
}

// requireOrder asserts that first's initial occurrence precedes
// second's.
func (l *callLog) requireOrder(t *testing.T, first, second string) {
	t.Helper()
	calls := l.snapshot()
	fi, si := indexOf(calls, first), indexOf(calls, second)
	require.GreaterOrEqual(t, fi, 0, "%q never recorded in %v", first, calls)
	require.GreaterOrEqual(t, si, 0, "%q never recorded in %v", second, calls)
	require.Less(t, fi, si, "%q must precede %q in %v", first, second, calls)
}

func indexOf(calls []string, want string) int {
	for i, c := range calls {
		if c == want {
			return i
		}
	}
	return -1
}

type fakeSender struct {
	log    *callLog
	mu     sync.Mutex
	closed bool
}

func (f *fakeSender) Send(u *url.URL, event string) { f.log.add("beacon:" + event) }

func (f *fakeSender) SendAll(urls []*url.URL, event string) {
	for range urls {
		f.log.add("beacon:" + event)
	}
}

func (f *fakeSender) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSender) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeVerification struct{ log *callLog }

func (f *fakeVerification) StartSession()       { f.log.add("verify:sessionStart") }
func (f *fakeVerification) StopSession()        { f.log.add("verify:sessionFinish") }
func (f *fakeVerification) Loaded()             { f.log.add("verify:loaded") }
func (f *fakeVerification) ImpressionOccurred() { f.log.add("verify:impression") }

func (f *fakeVerification) Start(durationMS int64, volume float64) {
	f.log.add(fmt.Sprintf("verify:start(%d,%.1f)", durationMS, volume))
}

func (f *fakeVerification) FirstQuartile() { f.log.add("verify:firstQuartile") }
func (f *fakeVerification) Midpoint()      { f.log.add("verify:midpoint") }
func (f *fakeVerification) ThirdQuartile() { f.log.add("verify:thirdQuartile") }
func (f *fakeVerification) Complete()      { f.log.add("verify:complete") }
func (f *fakeVerification) Pause()         { f.log.add("verify:pause") }
func (f *fakeVerification) Resume()        { f.log.add("verify:resume") }

func (f *fakeVerification) VolumeChange(volume float64) {
	f.log.add(fmt.Sprintf("verify:volumeChange(%.1f)", volume))
}

func (f *fakeVerification) BufferStart()      { f.log.add("verify:bufferStart") }
func (f *fakeVerification) BufferFinish()     { f.log.add("verify:bufferFinish") }
func (f *fakeVerification) ClickInteraction() { f.log.add("verify:clickInteraction") }

type fakeEngine struct {
	log     *callLog
	events  chan Event
	pos     atomic.Int64
	dur     atomic.Int64
	loadErr error
}

func newFakeEngine(log *callLog) *fakeEngine {
	return &fakeEngine{log: log, events: make(chan Event, 32)}
}

func (f *fakeEngine) Load(_ context.Context, mediaURI, captionURI string) error {
	f.log.add("engine:load")
	return f.loadErr
}

func (f *fakeEngine) Play()  { f.log.add("engine:play") }
func (f *fakeEngine) Pause() { f.log.add("engine:pause") }

func (f *fakeEngine) SeekTo(positionMS int64) {
	f.log.add(fmt.Sprintf("engine:seekTo(%d)", positionMS))
}

func (f *fakeEngine) SetVolume(volume float64) {
	f.log.add(fmt.Sprintf("engine:setVolume(%.1f)", volume))
}

func (f *fakeEngine) CurrentPosition() int64 { return f.pos.Load() }
func (f *fakeEngine) Duration() int64        { return f.dur.Load() }
func (f *fakeEngine) Events() <-chan Event   { return f.events }

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func testCreative(t *testing.T) *vast.AdCreative {
	t.Helper()
	return &vast.AdCreative{
		AdID: "ad-42",
		MediaRenditions: []vast.MediaRendition{
			{URL: mustURL(t, "https://cdn.example/ad.mp4"), Width: 1920, Height: 1080, MimeType: "video/mp4"},
		},
		ImpressionURLs: []*url.URL{
			mustURL(t, "https://track.example/imp/1"),
			mustURL(t, "https://track.example/imp/2"),
		},
		ErrorURLs: []*url.URL{mustURL(t, "https://track.example/error")},
		TrackingEvents: map[string]*url.URL{
			"start":         mustURL(t, "https://track.example/start"),
			"firstQuartile": mustURL(t, "https://track.example/q1"),
			"midpoint":      mustURL(t, "https://track.example/q2"),
			"thirdQuartile": mustURL(t, "https://track.example/q3"),
			"complete":      mustURL(t, "https://track.example/q4"),
			"pause":         mustURL(t, "https://track.example/pause"),
			"resume":        mustURL(t, "https://track.example/resume"),
			"mute":          mustURL(t, "https://track.example/mute"),
			"unmute":        mustURL(t, "https://track.example/unmute"),
		},
		ClickThroughURL: mustURL(t, "https://brand.example/landing"),
		ClickTrackingURLs: []*url.URL{
			mustURL(t, "https://track.example/click/1"),
			mustURL(t, "https://track.example/click/2"),
		},
	}
}

type testRig struct {
	player *Player
	engine *fakeEngine
	sender *fakeSender
	log    *callLog
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	leakOpt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, leakOpt) })

	logRec := &callLog{}
	engine := newFakeEngine(logRec)
	sender := &fakeSender{log: logRec}
	p, err := New(engine, Options{
		Sender: sender,
		NewSession: func(*vast.AdCreative) verification.Session {
			return &fakeVerification{log: logRec}
		},
		OpenClickThrough: func(u *url.URL) { logRec.add("open:" + u.String()) },
		PollInterval:     2 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return &testRig{player: p, engine: engine, sender: sender, log: logRec}
}

// loadAndReady loads the creative and delivers the first ready
// notification, waiting for the impression sequence to settle.
func (r *testRig) loadAndReady(t *testing.T, creative *vast.AdCreative) {
	t.Helper()
	require.NoError(t, r.player.Load(context.Background(), creative))
	r.engine.events <- Event{Kind: EventReady}
	r.log.await(t, "verify:bufferFinish", 1)
}

// reachStart advances the playhead far enough for the start quartile
// and waits for it to fire.
func (r *testRig) reachStart(t *testing.T) {
	t.Helper()
	r.engine.dur.Store(10000)
	r.engine.pos.Store(150)
	r.log.await(t, "beacon:start", 1)
}

func TestNewValidation(t *testing.T) {
	logRec := &callLog{}
	_, err := New(nil, Options{Sender: &fakeSender{log: logRec}})
	require.Error(t, err)

	_, err = New(newFakeEngine(logRec), Options{})
	require.Error(t, err)
}

func TestReadyFiresImpressionOnceAndBufferFinishAlways(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))

	want := []string{
		"engine:load",
		"verify:sessionStart",
		"beacon:impression",
		"beacon:impression",
		"verify:loaded",
		"verify:impression",
		"verify:bufferFinish",
	}
	assert.Equal(t, want, rig.log.snapshot())

	// Every further ready repeats only the buffer-finish quirk.
	rig.engine.events <- Event{Kind: EventReady}
	rig.log.await(t, "verify:bufferFinish", 2)
	assert.Equal(t, append(want, "verify:bufferFinish"), rig.log.snapshot())
	assert.Equal(t, 2, rig.log.count("beacon:impression"))
	assert.Equal(t, 1, rig.log.count("verify:loaded"))
	assert.Equal(t, 1, rig.log.count("verify:impression"))
}

func TestQuartilesFireInOrderWithBeaconFirst(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))

	rig.engine.dur.Store(10000)

	rig.engine.pos.Store(150)
	rig.log.await(t, "verify:start(10000,1.0)", 1)

	rig.engine.pos.Store(2600)
	rig.log.await(t, "verify:firstQuartile", 1)

	rig.engine.pos.Store(5100)
	rig.log.await(t, "verify:midpoint", 1)

	rig.engine.pos.Store(7600)
	rig.log.await(t, "verify:thirdQuartile", 1)

	for _, pair := range [][2]string{
		{"beacon:start", "verify:start(10000,1.0)"},
		{"beacon:firstQuartile", "verify:firstQuartile"},
		{"beacon:midpoint", "verify:midpoint"},
		{"beacon:thirdQuartile", "verify:thirdQuartile"},
		{"verify:start(10000,1.0)", "beacon:firstQuartile"},
		{"verify:firstQuartile", "beacon:midpoint"},
		{"verify:midpoint", "beacon:thirdQuartile"},
	} {
		rig.log.requireOrder(t, pair[0], pair[1])
	}
	for _, call := range []string{
		"beacon:start", "beacon:firstQuartile", "beacon:midpoint", "beacon:thirdQuartile",
	} {
		assert.Equal(t, 1, rig.log.count(call), call)
	}
}

func TestSkippedQuartileBucketsAreNeverBackfilled(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))

	// Playhead is already past the first-quartile threshold when the
	// first poll lands: start must be skipped for good.
	rig.engine.pos.Store(3000)
	rig.engine.dur.Store(10000)
	rig.log.await(t, "verify:firstQuartile", 1)

	assert.Equal(t, 0, rig.log.count("beacon:start"))
	assert.Equal(t, 1, rig.log.count("beacon:firstQuartile"))

	// Later polls at higher buckets keep progressing.
	rig.engine.pos.Store(9000)
	rig.log.await(t, "verify:thirdQuartile", 1)
	assert.Equal(t, 0, rig.log.count("beacon:start"))
	assert.Equal(t, 0, rig.log.count("beacon:midpoint"))
}

func TestCompletionFiresExactlyOnce(t *testing.T) {
	tests := []struct {
		name   string
		first  EventKind
		second EventKind
	}{
		{"ended then loop transition", EventEnded, EventLoopTransition},
		{"loop transition then ended", EventLoopTransition, EventEnded},
		{"double loop transition", EventLoopTransition, EventLoopTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t)
			rig.loadAndReady(t, testCreative(t))

			rig.engine.events <- Event{Kind: tt.first}
			rig.log.await(t, "verify:complete", 1)
			rig.log.requireOrder(t, "beacon:complete", "verify:complete")
			rig.log.requireOrder(t, "verify:complete", "engine:seekTo(0)")
			rig.log.requireOrder(t, "engine:seekTo(0)", "engine:play")

			rig.engine.events <- Event{Kind: tt.second}
			// Quiesce through an observable marker event.
			rig.engine.events <- Event{Kind: EventBuffering}
			rig.log.await(t, "verify:bufferStart", 1)

			assert.Equal(t, 1, rig.log.count("beacon:complete"))
			assert.Equal(t, 1, rig.log.count("verify:complete"))
			assert.Equal(t, 1, rig.log.count("engine:seekTo(0)"))
		})
	}
}

func TestRestartAfterCompletionRearmsNothing(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))
	rig.engine.dur.Store(10000)

	rig.engine.events <- Event{Kind: EventLoopTransition}
	rig.log.await(t, "verify:complete", 1)

	// The loop restarted playback from 0. Low positions must not
	// re-fire any quartile, and a new ready must not re-fire the
	// impression block.
	rig.engine.pos.Store(200)
	rig.engine.events <- Event{Kind: EventReady}
	rig.log.await(t, "verify:bufferFinish", 2)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 0, rig.log.count("beacon:start"))
	assert.Equal(t, 2, rig.log.count("beacon:impression"))
	assert.Equal(t, 1, rig.log.count("verify:loaded"))
}

func TestUserPauseBeforeFirstQuartileStaysSilent(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))

	rig.player.TogglePlayPause()
	rig.log.await(t, "engine:pause", 1)

	rig.player.TogglePlayPause()
	rig.log.await(t, "engine:play", 1)

	assert.Equal(t, 0, rig.log.count("beacon:pause"))
	assert.Equal(t, 0, rig.log.count("beacon:resume"))
	assert.Equal(t, 0, rig.log.count("verify:pause"))
	assert.Equal(t, 0, rig.log.count("verify:resume"))
}

func TestUserPauseResumeAfterPlaybackStarted(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))
	rig.reachStart(t)

	rig.player.TogglePlayPause()
	rig.log.await(t, "verify:pause", 1)
	rig.log.requireOrder(t, "engine:pause", "beacon:pause")
	rig.log.requireOrder(t, "beacon:pause", "verify:pause")
	assert.Equal(t, StatePaused, rig.player.State())

	rig.player.TogglePlayPause()
	rig.log.await(t, "verify:resume", 1)
	rig.log.requireOrder(t, "beacon:resume", "verify:resume")
	assert.Equal(t, StatePlaying, rig.player.State())
}

func TestVisibilityPathNeverFiresBeacons(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))
	rig.reachStart(t)

	rig.player.SetVisible(false)
	rig.log.await(t, "verify:pause", 1)
	rig.log.await(t, "engine:pause", 1)

	rig.player.SetVisible(true)
	rig.log.await(t, "verify:resume", 1)
	rig.log.await(t, "engine:play", 1)

	assert.Equal(t, 0, rig.log.count("beacon:pause"))
	assert.Equal(t, 0, rig.log.count("beacon:resume"))
}

func TestVisibilityRegainDoesNotOverrideUserPause(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))
	rig.reachStart(t)

	rig.player.SetVisible(false)
	rig.log.await(t, "verify:pause", 1)

	rig.player.TogglePlayPause()
	rig.log.await(t, "beacon:pause", 1)

	rig.player.SetVisible(true)
	// Quiesce: a mute toggle is processed after the visibility command.
	rig.player.ToggleMute()
	rig.log.await(t, "beacon:mute", 1)

	assert.Equal(t, 0, rig.log.count("verify:resume"), "visibility regain must not resume a user pause")
	assert.Equal(t, 0, rig.log.count("engine:play"))

	rig.player.TogglePlayPause()
	rig.log.await(t, "verify:resume", 1)
	rig.log.requireOrder(t, "beacon:resume", "verify:resume")
}

func TestMuteToggleFiresEveryTime(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))

	rig.player.ToggleMute()
	rig.log.await(t, "verify:volumeChange(0.0)", 1)
	rig.log.requireOrder(t, "beacon:mute", "verify:volumeChange(0.0)")
	rig.log.requireOrder(t, "engine:setVolume(0.0)", "beacon:mute")

	rig.player.ToggleMute()
	rig.log.await(t, "verify:volumeChange(1.0)", 1)
	rig.log.requireOrder(t, "beacon:unmute", "verify:volumeChange(1.0)")

	rig.player.ToggleMute()
	rig.log.await(t, "verify:volumeChange(0.0)", 2)
	assert.Equal(t, 2, rig.log.count("beacon:mute"))
	assert.Equal(t, 1, rig.log.count("beacon:unmute"))
}

func TestEngineVolumeChangeOnlyResyncsMuteFlag(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))

	// The engine reports it was muted externally. No measurement may
	// fire, but the next user toggle must unmute.
	rig.engine.events <- Event{Kind: EventVolumeChanged, Volume: 0.0}
	// Marker on the same channel proves the volume event was consumed
	// before the toggle command lands.
	rig.engine.events <- Event{Kind: EventBuffering}
	rig.log.await(t, "verify:bufferStart", 1)

	rig.player.ToggleMute()
	rig.log.await(t, "beacon:unmute", 1)

	assert.Equal(t, 0, rig.log.count("beacon:mute"))
	assert.Equal(t, 1, rig.log.count("verify:volumeChange(1.0)"))
	assert.Equal(t, 1, rig.log.count("engine:setVolume(1.0)"))
}

func TestClickWithClickThrough(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))

	rig.player.Click()
	rig.log.await(t, "verify:clickInteraction", 1)

	assert.Equal(t, 2, rig.log.count("beacon:clickTracking"))
	rig.log.requireOrder(t, "beacon:clickTracking", "verify:clickInteraction")
	rig.log.requireOrder(t, "verify:clickInteraction", "open:https://brand.example/landing")
	assert.Equal(t, 1, rig.log.count("open:https://brand.example/landing"))
}

func TestClickWithoutClickThroughTogglesPlayback(t *testing.T) {
	rig := newTestRig(t)
	creative := testCreative(t)
	creative.ClickThroughURL = nil
	creative.ClickTrackingURLs = nil
	rig.loadAndReady(t, creative)

	rig.player.Click()
	rig.log.await(t, "engine:pause", 1)
	assert.Equal(t, StatePaused, rig.player.State())

	rig.player.Click()
	rig.log.await(t, "engine:play", 1)
	assert.Equal(t, StatePlaying, rig.player.State())

	assert.Equal(t, 0, rig.log.count("verify:clickInteraction"))
	assert.Equal(t, 0, rig.log.count("beacon:clickTracking"))
}

func TestFatalErrorStopsMeasurement(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))

	boom := errors.New("decoder gave up")
	rig.engine.events <- Event{Kind: EventFatal, Err: boom}

	require.Eventually(t, func() bool { return rig.player.State() == StateError },
		2*time.Second, time.Millisecond)
	require.ErrorIs(t, rig.player.Err(), boom)
	assert.Equal(t, 1, rig.log.count("beacon:error"))

	// Polling, events, and commands are all dead after the fatal.
	rig.engine.pos.Store(5000)
	rig.engine.dur.Store(10000)
	rig.player.ToggleMute()
	rig.engine.events <- Event{Kind: EventReady}
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 0, rig.log.count("beacon:midpoint"))
	assert.Equal(t, 0, rig.log.count("beacon:mute"))
	assert.Equal(t, 1, rig.log.count("verify:bufferFinish"))
}

func TestReleaseTearsEverythingDown(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))

	rig.player.Release()

	assert.True(t, rig.sender.isClosed())
	assert.Equal(t, 1, rig.log.count("verify:sessionFinish"))
	assert.Equal(t, StateReleased, rig.player.State())

	// Everything after release is inert.
	before := len(rig.log.snapshot())
	rig.player.TogglePlayPause()
	rig.player.Click()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, len(rig.log.snapshot()))

	require.ErrorIs(t, rig.player.Load(context.Background(), testCreative(t)), ErrReleased)

	rig.player.Release() // idempotent
	assert.Equal(t, 1, rig.log.count("verify:sessionFinish"))
}

func TestLoadRejectsUnplayableCreatives(t *testing.T) {
	rig := newTestRig(t)

	err := rig.player.Load(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoPlayableMedia)
	assert.Equal(t, StateError, rig.player.State())

	err = rig.player.Load(context.Background(), &vast.AdCreative{TrackingEvents: map[string]*url.URL{}})
	require.ErrorIs(t, err, ErrNoPlayableMedia)
}

func TestLoadSurfacesEngineFailure(t *testing.T) {
	rig := newTestRig(t)
	boom := errors.New("drm refused")
	rig.engine.loadErr = boom

	err := rig.player.Load(context.Background(), testCreative(t))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateError, rig.player.State())
	require.ErrorIs(t, rig.player.Err(), boom)
}

func TestLoadReplacesActiveSession(t *testing.T) {
	rig := newTestRig(t)
	rig.loadAndReady(t, testCreative(t))
	require.NotEmpty(t, rig.player.SessionID())
	first := rig.player.SessionID()

	require.NoError(t, rig.player.Load(context.Background(), testCreative(t)))
	assert.NotEqual(t, first, rig.player.SessionID())
	assert.Equal(t, 1, rig.log.count("verify:sessionFinish"))
	assert.Equal(t, 2, rig.log.count("verify:sessionStart"))

	// The fresh session fires its own impression block.
	rig.engine.events <- Event{Kind: EventReady}
	rig.log.await(t, "verify:loaded", 2)
	assert.Equal(t, 4, rig.log.count("beacon:impression"))
}

func TestStateTransitionsAreObservable(t *testing.T) {
	rig := newTestRig(t)

	var (
		mu   sync.Mutex
		seen []StateChange
	)
	stopWatching := make(chan struct{})
	defer close(stopWatching)
	go func() {
		for {
			select {
			case change := <-rig.player.States():
				mu.Lock()
				seen = append(seen, change)
				mu.Unlock()
			case <-stopWatching:
				return
			}
		}
	}()

	rig.loadAndReady(t, testCreative(t))
	rig.reachStart(t)
	rig.player.TogglePlayPause()
	rig.log.await(t, "verify:pause", 1)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 3
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StateChange{From: StateIdle, To: StateLoading}, seen[0])
	assert.Equal(t, StateChange{From: StateLoading, To: StatePlaying}, seen[1])
	assert.Equal(t, StateChange{From: StatePlaying, To: StatePaused}, seen[2])
}
