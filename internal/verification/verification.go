// SPDX-License-Identifier: MIT

// Package verification adapts the ad-verification session lifecycle to
// whatever the creative actually supports. Creatives carrying an
// AdVerifications block get a Remote session that forwards vendor
// tracking; everything else gets a Noop stub so callers never branch.
package verification

import (
	"net/url"

	"github.com/vastkit/vastkit/internal/vast"
)

// Sender delivers a single tracking URL without blocking the caller.
// *beacon.Dispatcher satisfies it.
type Sender interface {
	Send(u *url.URL, event string)
}

// Session receives the measurement lifecycle of one loaded creative.
// All calls are synchronous from the caller's point of view and must
// never block on network activity.
type Session interface {
	StartSession()
	StopSession()
	Loaded()
	ImpressionOccurred()

	// Start reports playback begin. Duration is in milliseconds; the
	// downstream contract expects the raw engine value, not seconds.
	Start(durationMS int64, volume float64)
	FirstQuartile()
	Midpoint()
	ThirdQuartile()
	Complete()

	Pause()
	Resume()
	VolumeChange(volume float64)
	BufferStart()
	BufferFinish()
	ClickInteraction()
}

// ForCreative selects the session backend for a creative. A Remote
// session requires a verification block with a script resource and a
// working sender; anything less degrades to the Noop stub.
func ForCreative(creative *vast.AdCreative, sender Sender) Session {
	if creative != nil && creative.Verification != nil && creative.Verification.ScriptURL != nil && sender != nil {
		return newRemote(creative.Verification, sender)
	}
	return NewNoop()
}
