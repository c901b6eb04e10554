// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID  = "session_id"
	FieldCreativeID = "creative_id"
	FieldAdID       = "ad_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Measurement fields
	FieldQuartile   = "quartile"
	FieldBeaconType = "beacon_type"
	FieldAttempt    = "attempt"
	FieldPosition   = "position_ms"
	FieldDuration   = "duration_ms"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Network fields
	FieldURL    = "url"
	FieldStatus = "status"
)
