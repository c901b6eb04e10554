// SPDX-License-Identifier: MIT

package player

import "context"

// EventKind identifies a playback engine notification.
type EventKind int

const (
	// EventReady fires when the engine has media ready to render.
	// Engines may report it again after rebuffering or a seek.
	EventReady EventKind = iota

	// EventBuffering fires when rendering stalls on the network.
	EventBuffering

	// EventEnded fires when playback reaches the end of the media.
	// Engines configured to loop may suppress it entirely.
	EventEnded

	// EventLoopTransition fires when a looping engine wraps from the
	// end of the media back to the start.
	EventLoopTransition

	// EventVolumeChanged reports the engine's effective volume.
	EventVolumeChanged

	// EventFatal reports an unrecoverable playback failure.
	EventFatal
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventBuffering:
		return "buffering"
	case EventEnded:
		return "ended"
	case EventLoopTransition:
		return "loopTransition"
	case EventVolumeChanged:
		return "volumeChanged"
	case EventFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Event is one engine notification. Volume is meaningful only for
// EventVolumeChanged, Err only for EventFatal.
type Event struct {
	Kind   EventKind
	Volume float64
	Err    error
}

// Engine abstracts the media playback backend. Implementations own
// decoding and rendering; the orchestrator only consumes positions,
// durations, and the notification stream, and issues transport
// commands.
//
// Command methods must not block on media operations. Events must
// deliver notifications in the order the engine observed them.
type Engine interface {
	// Load prepares mediaURI for playback. captionURI is optional and
	// empty when the creative carries no subtitle sidecar.
	Load(ctx context.Context, mediaURI, captionURI string) error

	Play()
	Pause()
	SeekTo(positionMS int64)
	SetVolume(volume float64)

	// CurrentPosition reports the playhead in milliseconds.
	CurrentPosition() int64

	// Duration reports the media duration in milliseconds, 0 or
	// negative while unknown.
	Duration() int64

	// Events returns the notification stream. The same channel is
	// returned on every call.
	Events() <-chan Event
}
