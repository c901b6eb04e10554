// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the library.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPURLKey        = "http.url"

	// Beacon attributes
	BeaconEventKey    = "beacon.event"
	BeaconHostKey     = "beacon.host"
	BeaconAttemptsKey = "beacon.attempts"
	BeaconOutcomeKey  = "beacon.outcome"

	// Playback session attributes
	SessionIDKey          = "session.id"
	AdIDKey               = "ad.id"
	PlaybackQuartileKey   = "playback.quartile"
	PlaybackPositionMSKey = "playback.position_ms"
	PlaybackDurationMSKey = "playback.duration_ms"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// BeaconAttributes creates span attributes for one beacon delivery.
func BeaconAttributes(event, host string, attempts, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(BeaconEventKey, event),
		attribute.String(BeaconHostKey, host),
		attribute.Int(BeaconAttemptsKey, attempts),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SessionAttributes creates span attributes identifying a playback session.
func SessionAttributes(sessionID, adID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if adID != "" {
		attrs = append(attrs, attribute.String(AdIDKey, adID))
	}
	return attrs
}

// ProgressAttributes creates span attributes for a playback progress sample.
func ProgressAttributes(quartile string, positionMS, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PlaybackQuartileKey, quartile),
		attribute.Int64(PlaybackPositionMSKey, positionMS),
		attribute.Int64(PlaybackDurationMSKey, durationMS),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
