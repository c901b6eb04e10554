// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/vastkit/vastkit"
	"github.com/vastkit/vastkit/internal/log"
)

var probeOutput string

var probeCmd = &cobra.Command{
	Use:   "probe <file|url>",
	Short: "Parse a VAST document and print the creative model as JSON",
	Long: `Probe fetches or reads a VAST document, parses it with the same
tolerant parser the player uses, and prints the resulting creative
model as JSON. Malformed documents never fail: whatever could not be
parsed is simply absent from the output.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(cmd.Context(), args[0])
	},
}

func init() {
	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", "", "write JSON to this file atomically instead of stdout")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(ctx context.Context, source string) error {
	logger := log.WithComponent("probe")

	creative, err := loadCreative(ctx, source)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(newCreativeView(creative), "", "  ")
	if err != nil {
		return fmt.Errorf("encode creative: %w", err)
	}
	data = append(data, '\n')

	if probeOutput == "" {
		_, err := os.Stdout.Write(data)
		return err
	}

	if err := writeFileAtomic(probeOutput, data, logger); err != nil {
		return err
	}
	logger.Info().
		Str("path", probeOutput).
		Int("bytes", len(data)).
		Msg("creative model written")
	return nil
}

// writeFileAtomic writes data so that readers either see the previous
// file or the complete new one: temp file, fsync, rename.
func writeFileAtomic(path string, data []byte, logger zerolog.Logger) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		// Cleanup is a no-op once the replace has been committed.
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending file")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}

// creativeView is the JSON shape probe prints. url.URL fields are
// flattened to strings so the output diffs and greps cleanly.
type creativeView struct {
	AdID            string            `json:"ad_id,omitempty"`
	Duration        string            `json:"duration,omitempty"`
	MediaRenditions []renditionView   `json:"media_renditions"`
	Impressions     []string          `json:"impressions,omitempty"`
	ErrorURLs       []string          `json:"error_urls,omitempty"`
	TrackingEvents  map[string]string `json:"tracking_events,omitempty"`
	ClickThrough    string            `json:"click_through,omitempty"`
	ClickTracking   []string          `json:"click_tracking,omitempty"`
	ClosedCaptions  string            `json:"closed_captions,omitempty"`
	Verification    *verificationView `json:"verification,omitempty"`
}

type renditionView struct {
	URL      string `json:"url"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type verificationView struct {
	VendorKey      string            `json:"vendor_key,omitempty"`
	ScriptURL      string            `json:"script_url,omitempty"`
	Parameters     string            `json:"parameters,omitempty"`
	TrackingEvents map[string]string `json:"tracking_events,omitempty"`
}

func newCreativeView(c *vastkit.AdCreative) creativeView {
	view := creativeView{
		AdID:     c.AdID,
		Duration: c.DurationLabel,
		MediaRenditions: lo.Map(c.MediaRenditions, func(r vastkit.MediaRendition, _ int) renditionView {
			return renditionView{
				URL:      r.URL.String(),
				Width:    r.Width,
				Height:   r.Height,
				MimeType: r.MimeType,
			}
		}),
		Impressions:    urlStrings(c.ImpressionURLs),
		ErrorURLs:      urlStrings(c.ErrorURLs),
		TrackingEvents: urlMapStrings(c.TrackingEvents),
		ClickTracking:  urlStrings(c.ClickTrackingURLs),
	}
	if c.ClickThroughURL != nil {
		view.ClickThrough = c.ClickThroughURL.String()
	}
	if c.ClosedCaptionURL != nil {
		view.ClosedCaptions = c.ClosedCaptionURL.String()
	}
	if v := c.Verification; v != nil {
		vv := &verificationView{
			VendorKey:      v.VendorKey,
			Parameters:     v.Parameters,
			TrackingEvents: urlMapStrings(v.TrackingEvents),
		}
		if v.ScriptURL != nil {
			vv.ScriptURL = v.ScriptURL.String()
		}
		view.Verification = vv
	}
	return view
}

func urlStrings(urls []*url.URL) []string {
	return lo.Map(urls, func(u *url.URL, _ int) string { return u.String() })
}

func urlMapStrings(m map[string]*url.URL) map[string]string {
	return lo.MapValues(m, func(u *url.URL, _ string) string { return u.String() })
}
