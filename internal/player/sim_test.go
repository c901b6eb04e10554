// SPDX-License-Identifier: MIT

package player

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vastkit/vastkit/internal/vast"
	"github.com/vastkit/vastkit/internal/verification"
)

// awaitEvent reads the stream until the wanted kind arrives, skipping
// unrelated notifications.
func awaitEvent(t *testing.T, ch <-chan Event, want EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func TestSimEngineReadyThenEnded(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := NewSimEngine(SimOptions{Duration: 80 * time.Millisecond, ReadyDelay: 10 * time.Millisecond})
	defer e.Stop()

	assert.Zero(t, e.Duration(), "duration must be unknown before ready")

	require.NoError(t, e.Load(context.Background(), "https://cdn.example/ad.mp4", ""))
	awaitEvent(t, e.Events(), EventReady)
	assert.Equal(t, int64(80), e.Duration())

	awaitEvent(t, e.Events(), EventEnded)
	assert.Equal(t, int64(80), e.CurrentPosition(), "position clamps at media end")
}

func TestSimEngineLoopsInsteadOfEnding(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := NewSimEngine(SimOptions{Duration: 40 * time.Millisecond, Loop: true})
	defer e.Stop()

	require.NoError(t, e.Load(context.Background(), "https://cdn.example/ad.mp4", ""))
	awaitEvent(t, e.Events(), EventReady)
	awaitEvent(t, e.Events(), EventLoopTransition)
	awaitEvent(t, e.Events(), EventLoopTransition)
}

func TestSimEngineInjectedStall(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := NewSimEngine(SimOptions{
		Duration: 150 * time.Millisecond,
		StallAt:  30 * time.Millisecond,
		StallFor: 20 * time.Millisecond,
	})
	defer e.Stop()

	require.NoError(t, e.Load(context.Background(), "https://cdn.example/ad.mp4", ""))
	awaitEvent(t, e.Events(), EventReady)
	awaitEvent(t, e.Events(), EventBuffering)
	awaitEvent(t, e.Events(), EventReady)
	awaitEvent(t, e.Events(), EventEnded)
}

func TestSimEngineFailAt(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := NewSimEngine(SimOptions{Duration: 200 * time.Millisecond, FailAt: 30 * time.Millisecond})
	defer e.Stop()

	require.NoError(t, e.Load(context.Background(), "https://cdn.example/ad.mp4", ""))
	awaitEvent(t, e.Events(), EventReady)
	ev := awaitEvent(t, e.Events(), EventFatal)
	require.ErrorIs(t, ev.Err, ErrSimulatedFailure)
}

func TestSimEnginePauseFreezesPlayhead(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := NewSimEngine(SimOptions{Duration: time.Second})
	defer e.Stop()

	require.NoError(t, e.Load(context.Background(), "https://cdn.example/ad.mp4", ""))
	awaitEvent(t, e.Events(), EventReady)

	e.Pause()
	frozen := e.CurrentPosition()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, frozen, e.CurrentPosition())

	e.Play()
	require.Eventually(t, func() bool { return e.CurrentPosition() > frozen },
		time.Second, time.Millisecond)
}

func TestSimEngineSeekWhilePaused(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := NewSimEngine(SimOptions{Duration: time.Second})
	defer e.Stop()

	require.NoError(t, e.Load(context.Background(), "https://cdn.example/ad.mp4", ""))
	awaitEvent(t, e.Events(), EventReady)

	e.Pause()
	e.SeekTo(250)
	assert.Equal(t, int64(250), e.CurrentPosition())
}

func TestSimEngineVolumeNotification(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := NewSimEngine(SimOptions{Duration: time.Second})
	defer e.Stop()

	require.NoError(t, e.Load(context.Background(), "https://cdn.example/ad.mp4", ""))
	e.SetVolume(0.0)

	ev := awaitEvent(t, e.Events(), EventVolumeChanged)
	assert.Zero(t, ev.Volume)
}

// TestFullRunAgainstSimEngine exercises the orchestrator end to end on
// simulated wall-clock playback: all four quartiles and the completion
// must fire exactly once, in order.
func TestFullRunAgainstSimEngine(t *testing.T) {
	leakOpt := goleak.IgnoreCurrent()
	defer goleak.VerifyNone(t, leakOpt)

	logRec := &callLog{}
	sender := &fakeSender{log: logRec}
	engine := NewSimEngine(SimOptions{Duration: time.Second, ReadyDelay: 5 * time.Millisecond})
	defer engine.Stop()

	p, err := New(engine, Options{
		Sender: sender,
		NewSession: func(*vast.AdCreative) verification.Session {
			return &fakeVerification{log: logRec}
		},
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	defer p.Release()

	require.NoError(t, p.Load(context.Background(), testCreative(t)))
	logRec.await(t, "verify:complete", 1)

	for _, call := range []string{
		"beacon:start", "beacon:firstQuartile", "beacon:midpoint",
		"beacon:thirdQuartile", "beacon:complete",
	} {
		assert.Equal(t, 1, logRec.count(call), call)
	}
	logRec.requireOrder(t, "beacon:start", "beacon:firstQuartile")
	logRec.requireOrder(t, "beacon:firstQuartile", "beacon:midpoint")
	logRec.requireOrder(t, "beacon:midpoint", "beacon:thirdQuartile")
	logRec.requireOrder(t, "beacon:thirdQuartile", "beacon:complete")
	assert.Equal(t, 1, logRec.count("verify:start(1000,1.0)"),
		"verification start must receive the duration in milliseconds")
}

// TestFullRunWithLoopingEngine drives completion through the
// loop-transition path and proves later wraps stay silent.
func TestFullRunWithLoopingEngine(t *testing.T) {
	leakOpt := goleak.IgnoreCurrent()
	defer goleak.VerifyNone(t, leakOpt)

	logRec := &callLog{}
	sender := &fakeSender{log: logRec}
	engine := NewSimEngine(SimOptions{Duration: 300 * time.Millisecond, Loop: true})
	defer engine.Stop()

	p, err := New(engine, Options{
		Sender: sender,
		NewSession: func(*vast.AdCreative) verification.Session {
			return &fakeVerification{log: logRec}
		},
		PollInterval: 2 * time.Millisecond,
	})
	require.NoError(t, err)
	defer p.Release()

	require.NoError(t, p.Load(context.Background(), testCreative(t)))
	logRec.await(t, "verify:complete", 1)

	// Let the loop wrap at least once more.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, logRec.count("beacon:complete"))
	assert.Equal(t, 1, logRec.count("verify:complete"))
	assert.Equal(t, 2, logRec.count("beacon:impression"), "impressions never re-fire across loops")
}
