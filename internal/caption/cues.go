// SPDX-License-Identifier: MIT

// Package caption parses WebVTT sidecar files and answers point-in-time
// cue lookups for the playback position.
package caption

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vastkit/vastkit/internal/log"
	"github.com/vastkit/vastkit/internal/metrics"
)

// Cue is a single caption with a half-open display window:
// StartMS is inclusive, EndMS exclusive.
type Cue struct {
	StartMS int64
	EndMS   int64
	Text    string
}

// Index holds parsed cues sorted by start time. Load replaces the whole
// set, so lookups racing a reload see either the old cues or the new
// ones, never a mix.
type Index struct {
	mu     sync.RWMutex
	cues   []Cue
	logger zerolog.Logger
}

func NewIndex() *Index {
	return &Index{logger: log.WithComponent("caption")}
}

// Load parses vttText and replaces the index contents. Blocks whose
// first line is not a valid timing line are skipped, which covers the
// WEBVTT header, NOTE blocks, and cue-identifier lines. Returns the
// number of cues kept.
func (x *Index) Load(vttText string) int {
	cues, dropped := parseBlocks(vttText, x.logger)
	sort.Slice(cues, func(i, j int) bool { return cues[i].StartMS < cues[j].StartMS })

	x.mu.Lock()
	x.cues = cues
	x.mu.Unlock()

	metrics.RecordCaptionCues(len(cues), dropped)
	x.logger.Debug().
		Str(log.FieldEvent, "caption.loaded").
		Int("cues", len(cues)).
		Int("dropped", dropped).
		Msg("caption index loaded")
	return len(cues)
}

// TextAt returns the cue text covering positionMS. The second return is
// false when no cue covers the position.
func (x *Index) TextAt(positionMS int64) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	// Last cue whose start is at or before the position.
	i := sort.Search(len(x.cues), func(i int) bool { return x.cues[i].StartMS > positionMS }) - 1
	if i < 0 {
		return "", false
	}
	c := x.cues[i]
	if positionMS >= c.EndMS {
		return "", false
	}
	return c.Text, true
}

// Clear drops all cues.
func (x *Index) Clear() {
	x.mu.Lock()
	x.cues = nil
	x.mu.Unlock()
}

// Len reports the number of loaded cues.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.cues)
}

// parseBlocks splits the document into blank-line-separated blocks and
// keeps those that start with a timing line.
func parseBlocks(vttText string, logger zerolog.Logger) ([]Cue, int) {
	var (
		cues    []Cue
		dropped int
		block   []string
	)
	flush := func() {
		if len(block) == 0 {
			return
		}
		cue, ok := parseBlock(block)
		if ok {
			cues = append(cues, cue)
		} else if strings.Contains(block[0], "-->") {
			// Only count blocks that tried to be cues. Headers and
			// identifiers dropping out is the normal case.
			dropped++
			logger.Debug().
				Str(log.FieldEvent, "caption.cue_dropped").
				Str("timing", block[0]).
				Msg("dropping malformed cue block")
		}
		block = block[:0]
	}

	for _, line := range strings.Split(vttText, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		block = append(block, line)
	}
	flush()
	return cues, dropped
}

func parseBlock(lines []string) (Cue, bool) {
	start, end, ok := parseTimingLine(lines[0])
	if !ok || end < start {
		return Cue{}, false
	}
	return Cue{
		StartMS: start,
		EndMS:   end,
		Text:    strings.Join(lines[1:], "\n"),
	}, true
}

// parseTimingLine parses "start --> end". Cue settings after the end
// timestamp are ignored.
func parseTimingLine(line string) (startMS, endMS int64, ok bool) {
	sep := strings.Index(line, "-->")
	if sep < 0 {
		return 0, 0, false
	}
	rest := strings.TrimSpace(line[sep+3:])
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		rest = rest[:i]
	}

	start, err := parseTimestamp(strings.TrimSpace(line[:sep]))
	if err != nil {
		return 0, 0, false
	}
	end, err := parseTimestamp(rest)
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}

// parseTimestamp accepts HH:MM:SS(.mmm) and MM:SS(.mmm). A comma
// decimal separator is normalized to a dot before parsing.
func parseTimestamp(s string) (int64, error) {
	s = strings.ReplaceAll(s, ",", ".")

	var frac string
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s, frac = s[:i], s[i+1:]
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, strconv.ErrSyntax
	}

	var total int64
	for _, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return 0, err
		}
		total = total*60 + int64(v)
	}
	ms, err := fracMillis(frac)
	if err != nil {
		return 0, err
	}
	return total*1000 + ms, nil
}

// fracMillis converts a fractional-seconds suffix to milliseconds,
// truncating past three digits.
func fracMillis(frac string) (int64, error) {
	if frac == "" {
		return 0, nil
	}
	if len(frac) > 3 {
		frac = frac[:3]
	}
	for len(frac) < 3 {
		frac += "0"
	}
	v, err := strconv.ParseUint(frac, 10, 32)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}
