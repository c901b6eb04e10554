// SPDX-License-Identifier: MIT
package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestBeaconAttributes(t *testing.T) {
	attrs := BeaconAttributes("firstQuartile", "track.example.com", 2, 200)

	if len(attrs) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, BeaconEventKey, "firstQuartile")
	verifyAttribute(t, attrs, BeaconHostKey, "track.example.com")
	verifyIntAttribute(t, attrs, BeaconAttemptsKey, 2)
	verifyIntAttribute(t, attrs, HTTPStatusCodeKey, 200)
}

func TestSessionAttributes(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		adID      string
		wantLen   int
	}{
		{
			name:      "all fields",
			sessionID: "0b814c2e",
			adID:      "ad-42",
			wantLen:   2,
		},
		{
			name:      "only session",
			sessionID: "0b814c2e",
			adID:      "",
			wantLen:   1,
		},
		{
			name:      "empty fields",
			sessionID: "",
			adID:      "",
			wantLen:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := SessionAttributes(tt.sessionID, tt.adID)

			if len(attrs) != tt.wantLen {
				t.Errorf("expected %d attributes, got %d", tt.wantLen, len(attrs))
			}

			if tt.sessionID != "" {
				verifyAttribute(t, attrs, SessionIDKey, tt.sessionID)
			}
			if tt.adID != "" {
				verifyAttribute(t, attrs, AdIDKey, tt.adID)
			}
		})
	}
}

func TestProgressAttributes(t *testing.T) {
	attrs := ProgressAttributes("midpoint", 7500, 15000)

	if len(attrs) != 3 {
		t.Fatalf("expected 3 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, PlaybackQuartileKey, "midpoint")
	verifyInt64Attribute(t, attrs, PlaybackPositionMSKey, 7500)
	verifyInt64Attribute(t, attrs, PlaybackDurationMSKey, 15000)
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes("network_error")

	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}

	verifyBoolAttribute(t, attrs, ErrorKey, true)
	verifyAttribute(t, attrs, ErrorTypeKey, "network_error")
}

// Helper functions for attribute verification

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, expectedValue string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != expectedValue {
				t.Errorf("expected %s=%s, got %s", key, expectedValue, attr.Value.AsString())
			}
			return
		}
	}
	t.Errorf("attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != int64(expectedValue) {
				t.Errorf("expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("attribute %s not found", key)
}

func verifyInt64Attribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int64) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != expectedValue {
				t.Errorf("expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("attribute %s not found", key)
}

func verifyBoolAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue bool) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsBool() != expectedValue {
				t.Errorf("expected %s=%t, got %t", key, expectedValue, attr.Value.AsBool())
			}
			return
		}
	}
	t.Errorf("attribute %s not found", key)
}
