// SPDX-License-Identifier: MIT

package vast

import (
	"encoding/xml"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vastkit/vastkit/internal/log"
	"github.com/vastkit/vastkit/internal/metrics"
	"github.com/vastkit/vastkit/internal/urlutil"
)

// maxVASTBytes caps parser input. Real-world VAST documents are a few
// kilobytes; anything near the cap is hostile or broken.
const maxVASTBytes = 10 * 1024 * 1024

// Raw document shapes, mirroring the VAST element tree. Only the paths
// the player consumes are mapped; unknown elements decode to nothing.
type vastXML struct {
	XMLName xml.Name `xml:"VAST"`
	Version string   `xml:"version,attr"`
	Ads     []adXML  `xml:"Ad"`
}

type adXML struct {
	ID     string     `xml:"id,attr"`
	InLine *inlineXML `xml:"InLine"`
}

type inlineXML struct {
	AdTitle         string            `xml:"AdTitle"`
	Impressions     []trimmedURL      `xml:"Impression"`
	Errors          []trimmedURL      `xml:"Error"`
	Creatives       []creativeXML     `xml:"Creatives>Creative"`
	AdVerifications []verificationXML `xml:"AdVerifications>Verification"`
}

type creativeXML struct {
	ID     string     `xml:"id,attr"`
	Linear *linearXML `xml:"Linear"`
}

type linearXML struct {
	Duration       string        `xml:"Duration"`
	MediaFiles     []mediaXML    `xml:"MediaFiles>MediaFile"`
	ClosedCaptions []trimmedURL  `xml:"MediaFiles>ClosedCaptionFiles>ClosedCaptionFile"`
	ClickThroughs  []trimmedURL  `xml:"VideoClicks>ClickThrough"`
	ClickTrackings []trimmedURL  `xml:"VideoClicks>ClickTracking"`
	Trackings      []trackingXML `xml:"TrackingEvents>Tracking"`
}

type mediaXML struct {
	Type   string `xml:"type,attr"`
	Width  int    `xml:"width,attr"`
	Height int    `xml:"height,attr"`
	URL    string `xml:",chardata"`
}

type trackingXML struct {
	Event string `xml:"event,attr"`
	URL   string `xml:",chardata"`
}

type verificationXML struct {
	Vendor     string        `xml:"vendor,attr"`
	ScriptURL  []trimmedURL  `xml:"JavaScriptResource"`
	Parameters string        `xml:"VerificationParameters"`
	Trackings  []trackingXML `xml:"TrackingEvents>Tracking"`
}

// trimmedURL captures a URL-bearing element whose text arrives wrapped
// in CDATA and indentation whitespace.
type trimmedURL struct {
	Text string `xml:",chardata"`
}

// Parse decodes a VAST document into an AdCreative. It never returns
// an error: a document that cannot be decoded yields an empty creative
// and a warning log, and individual malformed URLs are dropped one by
// one. Playback must be able to proceed with whatever measurement data
// survived.
func Parse(xmlText string) *AdCreative {
	logger := log.WithComponent("vast")

	var doc vastXML
	dec := xml.NewDecoder(io.LimitReader(strings.NewReader(xmlText), maxVASTBytes))
	dec.Strict = true
	// Disable entity expansion to prevent XXE attacks
	dec.Entity = make(map[string]string)

	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		metrics.IncParseFailure()
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "vast.parse_failed").
			Msg("malformed VAST document, continuing with empty creative")
		return emptyCreative()
	}

	return buildCreative(&doc, logger)
}

func emptyCreative() *AdCreative {
	return &AdCreative{TrackingEvents: make(map[string]*url.URL)}
}

// buildCreative flattens the raw element tree into the player model.
// Single-value fields take the first occurrence in document order.
func buildCreative(doc *vastXML, logger zerolog.Logger) *AdCreative {
	out := emptyCreative()

	var inline *inlineXML
	for _, ad := range doc.Ads {
		if ad.InLine != nil {
			out.AdID = ad.ID
			inline = ad.InLine
			break
		}
	}
	if inline == nil {
		return out
	}

	out.ImpressionURLs = parseURLList(inline.Impressions, "impression", logger)
	out.ErrorURLs = parseURLList(inline.Errors, "error", logger)

	var linear *linearXML
	for _, cr := range inline.Creatives {
		if cr.Linear != nil {
			linear = cr.Linear
			break
		}
	}

	if linear != nil {
		out.DurationLabel = strings.TrimSpace(linear.Duration)

		if len(linear.ClosedCaptions) > 0 {
			out.ClosedCaptionURL = parseBeaconURL(linear.ClosedCaptions[0].Text, "closed_caption", logger)
		}
		for _, mf := range linear.MediaFiles {
			u := parseBeaconURL(mf.URL, "media_file", logger)
			if u == nil {
				continue
			}
			out.MediaRenditions = append(out.MediaRenditions, MediaRendition{
				URL:        u,
				Width:      mf.Width,
				Height:     mf.Height,
				MimeType:   strings.TrimSpace(mf.Type),
				CaptionURL: out.ClosedCaptionURL,
			})
		}

		if len(linear.ClickThroughs) > 0 {
			out.ClickThroughURL = parseBeaconURL(linear.ClickThroughs[0].Text, "click_through", logger)
		}
		out.ClickTrackingURLs = parseURLList(linear.ClickTrackings, "click_tracking", logger)

		fillTrackingMap(out.TrackingEvents, linear.Trackings, logger)
	}

	if len(inline.AdVerifications) > 0 {
		out.Verification = buildVerification(&inline.AdVerifications[0], logger)
	}

	return out
}

func buildVerification(raw *verificationXML, logger zerolog.Logger) *Verification {
	v := &Verification{
		VendorKey:      strings.TrimSpace(raw.Vendor),
		Parameters:     strings.TrimSpace(raw.Parameters),
		TrackingEvents: make(map[string]*url.URL),
	}
	if len(raw.ScriptURL) > 0 {
		v.ScriptURL = parseBeaconURL(raw.ScriptURL[0].Text, "verification_script", logger)
	}
	fillTrackingMap(v.TrackingEvents, raw.Trackings, logger)
	return v
}

// fillTrackingMap keys tracking entries by their event attribute. A
// repeated event name keeps the last occurrence; entries without an
// event attribute or with an unusable URL are skipped.
func fillTrackingMap(dst map[string]*url.URL, entries []trackingXML, logger zerolog.Logger) {
	for _, tr := range entries {
		event := strings.TrimSpace(tr.Event)
		if event == "" {
			continue
		}
		u := parseBeaconURL(tr.URL, "tracking:"+event, logger)
		if u == nil {
			continue
		}
		dst[event] = u
	}
}

func parseURLList(entries []trimmedURL, kind string, logger zerolog.Logger) []*url.URL {
	var out []*url.URL
	for _, e := range entries {
		if u := parseBeaconURL(e.Text, kind, logger); u != nil {
			out = append(out, u)
		}
	}
	return out
}

// parseBeaconURL trims CDATA padding and accepts only absolute
// http/https URLs. Anything else is dropped with a debug log so a
// single bad pixel never poisons the document.
func parseBeaconURL(raw, kind string, logger zerolog.Logger) *url.URL {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	u, err := url.Parse(trimmed)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		logger.Debug().
			Str(log.FieldEvent, "vast.url_dropped").
			Str("kind", kind).
			Str(log.FieldURL, urlutil.SanitizeString(trimmed)).
			Msg("unusable URL in VAST document")
		return nil
	}
	return u
}
