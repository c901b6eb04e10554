// SPDX-License-Identifier: MIT

package verification

import (
	"net/url"

	"github.com/rs/zerolog"

	"github.com/vastkit/vastkit/internal/log"
	"github.com/vastkit/vastkit/internal/metrics"
	"github.com/vastkit/vastkit/internal/vast"
)

// Remote forwards the session lifecycle to the verification vendor.
// Each lifecycle call fires the vendor tracking URL registered under
// the matching event name, when the creative declared one.
type Remote struct {
	vendor string
	events map[string]*url.URL
	sender Sender
	logger zerolog.Logger
}

func newRemote(v *vast.Verification, sender Sender) *Remote {
	return &Remote{
		vendor: v.VendorKey,
		events: v.TrackingEvents,
		sender: sender,
		logger: log.Derive(func(c *zerolog.Context) {
			*c = c.Str(log.FieldComponent, "verification").
				Str("backend", "remote").
				Str("vendor", v.VendorKey)
		}),
	}
}

// call records the lifecycle event and fires the vendor tracking URL
// registered under method, if any.
func (r *Remote) call(method string) {
	metrics.IncVerificationCall(method)
	r.logger.Debug().
		Str(log.FieldEvent, "verification.call").
		Str("method", method).
		Msg("verification call")
	if u := r.events[method]; u != nil {
		r.sender.Send(u, "verification."+method)
	}
}

func (r *Remote) StartSession()       { r.call("sessionStart") }
func (r *Remote) StopSession()        { r.call("sessionFinish") }
func (r *Remote) Loaded()             { r.call("loaded") }
func (r *Remote) ImpressionOccurred() { r.call("impression") }

func (r *Remote) Start(durationMS int64, volume float64) {
	metrics.IncVerificationCall("start")
	r.logger.Debug().
		Str(log.FieldEvent, "verification.call").
		Str("method", "start").
		Int64("duration_ms", durationMS).
		Float64("volume", volume).
		Msg("verification call")
	if u := r.events["start"]; u != nil {
		r.sender.Send(u, "verification.start")
	}
}

func (r *Remote) FirstQuartile() { r.call("firstQuartile") }
func (r *Remote) Midpoint()      { r.call("midpoint") }
func (r *Remote) ThirdQuartile() { r.call("thirdQuartile") }
func (r *Remote) Complete()      { r.call("complete") }
func (r *Remote) Pause()         { r.call("pause") }
func (r *Remote) Resume()        { r.call("resume") }

func (r *Remote) VolumeChange(volume float64) {
	metrics.IncVerificationCall("volumeChange")
	r.logger.Debug().
		Str(log.FieldEvent, "verification.call").
		Str("method", "volumeChange").
		Float64("volume", volume).
		Msg("verification call")
	if u := r.events["volumeChange"]; u != nil {
		r.sender.Send(u, "verification.volumeChange")
	}
}

func (r *Remote) BufferStart()      { r.call("bufferStart") }
func (r *Remote) BufferFinish()     { r.call("bufferFinish") }
func (r *Remote) ClickInteraction() { r.call("clickInteraction") }
