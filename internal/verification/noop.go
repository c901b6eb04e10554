// SPDX-License-Identifier: MIT

package verification

import (
	"github.com/rs/zerolog"

	"github.com/vastkit/vastkit/internal/log"
	"github.com/vastkit/vastkit/internal/metrics"
)

// Noop is the fallback session for creatives without a verification
// block. It keeps the call accounting so dashboards stay comparable
// across measured and unmeasured inventory, but talks to no vendor.
type Noop struct {
	logger zerolog.Logger
}

func NewNoop() *Noop {
	return &Noop{
		logger: log.Derive(func(c *zerolog.Context) {
			*c = c.Str(log.FieldComponent, "verification").Str("backend", "noop")
		}),
	}
}

func (n *Noop) call(method string) {
	metrics.IncVerificationCall(method)
	n.logger.Debug().
		Str(log.FieldEvent, "verification.call").
		Str("method", method).
		Msg("verification call")
}

func (n *Noop) StartSession()       { n.call("sessionStart") }
func (n *Noop) StopSession()        { n.call("sessionFinish") }
func (n *Noop) Loaded()             { n.call("loaded") }
func (n *Noop) ImpressionOccurred() { n.call("impression") }

func (n *Noop) Start(durationMS int64, volume float64) {
	metrics.IncVerificationCall("start")
	n.logger.Debug().
		Str(log.FieldEvent, "verification.call").
		Str("method", "start").
		Int64("duration_ms", durationMS).
		Float64("volume", volume).
		Msg("verification call")
}

func (n *Noop) FirstQuartile() { n.call("firstQuartile") }
func (n *Noop) Midpoint()      { n.call("midpoint") }
func (n *Noop) ThirdQuartile() { n.call("thirdQuartile") }
func (n *Noop) Complete()      { n.call("complete") }
func (n *Noop) Pause()         { n.call("pause") }
func (n *Noop) Resume()        { n.call("resume") }

func (n *Noop) VolumeChange(volume float64) {
	metrics.IncVerificationCall("volumeChange")
	n.logger.Debug().
		Str(log.FieldEvent, "verification.call").
		Str("method", "volumeChange").
		Float64("volume", volume).
		Msg("verification call")
}

func (n *Noop) BufferStart()      { n.call("bufferStart") }
func (n *Noop) BufferFinish()     { n.call("bufferFinish") }
func (n *Noop) ClickInteraction() { n.call("clickInteraction") }
