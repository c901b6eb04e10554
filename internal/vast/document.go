// SPDX-License-Identifier: MIT

// Package vast parses VAST ad responses into an immutable creative
// model. Parsing is tolerant: anything malformed degrades to missing
// data, never to a failed document.
package vast

import "net/url"

// AdCreative is the parsed, player-facing view of a VAST response.
// It is built once per parse and never mutated afterwards; callers
// share it freely across goroutines.
type AdCreative struct {
	// AdID is the id attribute of the first Ad element, "" if absent.
	AdID string

	// MediaRenditions lists the playable media files in document
	// order. Renditions whose URL does not parse are dropped; an empty
	// list is a valid creative.
	MediaRenditions []MediaRendition

	// DurationLabel is the raw Linear Duration text ("HH:MM:SS"), ""
	// if absent. It is display data; playback timing always comes from
	// the engine, never from this label.
	DurationLabel string

	// ImpressionURLs fire once when the creative becomes ready.
	// Duplicates are kept: the server asked for N pixels, it gets N.
	ImpressionURLs []*url.URL

	// ErrorURLs fire when playback fails fatally.
	ErrorURLs []*url.URL

	// TrackingEvents maps a VAST tracking event name ("start",
	// "midpoint", ...) to its beacon URL. Repeated events keep the
	// last occurrence. Never nil.
	TrackingEvents map[string]*url.URL

	// ClickThroughURL is the landing page opened on a click, nil if
	// the creative is not clickable.
	ClickThroughURL *url.URL

	// ClickTrackingURLs fire alongside a click-through.
	ClickTrackingURLs []*url.URL

	// ClosedCaptionURL points at the creative's caption sidecar file,
	// nil if none was declared.
	ClosedCaptionURL *url.URL

	// Verification describes the ad verification resource, nil when
	// the response carries none.
	Verification *Verification
}

// MediaRendition is one playable MediaFile variant.
type MediaRendition struct {
	URL      *url.URL
	Width    int // 0 when the attribute is absent
	Height   int // 0 when the attribute is absent
	MimeType string

	// CaptionURL carries the creative-level closed-caption file so the
	// rendition a player selects already knows its subtitle source.
	CaptionURL *url.URL
}

// Verification is the first AdVerifications entry of the response.
type Verification struct {
	VendorKey  string
	ScriptURL  *url.URL
	Parameters string

	// TrackingEvents maps verification tracking event names to URLs,
	// last occurrence wins. Never nil.
	TrackingEvents map[string]*url.URL
}

// Tracking returns the beacon URL for a creative tracking event, nil
// if the response did not declare one.
func (c *AdCreative) Tracking(event string) *url.URL {
	if c == nil || c.TrackingEvents == nil {
		return nil
	}
	return c.TrackingEvents[event]
}

// Clickable reports whether the creative declares a click-through
// destination.
func (c *AdCreative) Clickable() bool {
	return c != nil && c.ClickThroughURL != nil
}
