// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle metrics
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vastkit_sessions_started_total",
		Help: "Total number of playback measurement sessions created",
	})

	sessionsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vastkit_sessions_released_total",
		Help: "Total number of playback measurement sessions released",
	})

	impressionsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vastkit_impressions_total",
		Help: "Total number of impression pixels handed to the dispatcher",
	})

	// Measurement metrics
	quartilesFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vastkit_quartiles_fired_total",
		Help: "Quartile tracking events fired by quartile name",
	}, []string{"quartile"}) // quartile=start|firstQuartile|midpoint|thirdQuartile

	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vastkit_completions_total",
		Help: "Creative completions by trigger",
	}, []string{"trigger"}) // trigger=ended|loop

	pauseResumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vastkit_pause_resume_total",
		Help: "Pause and resume measurement events by source",
	}, []string{"action", "source"}) // action=pause|resume, source=user|visibility

	muteToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vastkit_mute_toggles_total",
		Help: "User mute toggles by resulting state",
	}, []string{"state"}) // state=muted|unmuted

	clicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vastkit_clicks_total",
		Help: "Click interactions by resolution",
	}, []string{"kind"}) // kind=clickthrough|toggle

	playbackErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vastkit_playback_errors_total",
		Help: "Fatal playback errors observed by the orchestrator",
	}, []string{"kind"})

	parseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vastkit_parse_failures_total",
		Help: "VAST documents that failed to decode and degraded to an empty creative",
	})

	// Verification metrics
	verificationCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vastkit_verification_calls_total",
		Help: "Verification session gateway calls by method",
	}, []string{"method"})

	// Caption metrics
	captionCuesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vastkit_caption_cues_loaded",
		Help: "Number of caption cues held by the last loaded index",
	})

	captionCuesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vastkit_caption_cues_dropped_total",
		Help: "Total number of malformed caption cues dropped during parsing",
	})
)

func IncSessionStarted()  { sessionsStarted.Inc() }
func IncSessionReleased() { sessionsReleased.Inc() }

func AddImpressions(n int) { impressionsFired.Add(float64(n)) }

func IncQuartile(name string) { quartilesFired.WithLabelValues(name).Inc() }

func IncCompletion(trigger string) { completionsTotal.WithLabelValues(trigger).Inc() }

func IncPauseResume(action, source string) {
	pauseResumeTotal.WithLabelValues(action, source).Inc()
}

func IncMuteToggle(muted bool) {
	state := "unmuted"
	if muted {
		state = "muted"
	}
	muteToggles.WithLabelValues(state).Inc()
}

func IncClick(kind string) { clicksTotal.WithLabelValues(kind).Inc() }

func IncPlaybackError(kind string) { playbackErrors.WithLabelValues(kind).Inc() }

func IncParseFailure() { parseFailures.Inc() }

func IncVerificationCall(method string) { verificationCalls.WithLabelValues(method).Inc() }

func RecordCaptionCues(loaded, dropped int) {
	captionCuesLoaded.Set(float64(loaded))
	if dropped > 0 {
		captionCuesDropped.Add(float64(dropped))
	}
}
