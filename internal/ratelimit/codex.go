package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// codexUsageSnapshot holds the raw primary/secondary usage-window
// fields OpenAI's Codex-compatible upstream reports as response
// headers. "Primary" and "secondary" are the wire names; which one is
// the 5h window and which is the 7d window depends on their reported
// window length, not their position.
type codexUsageSnapshot struct {
	primaryUsedPercent    *float64
	primaryResetSeconds   *int
	primaryWindowMinutes  *int
	secondaryUsedPercent  *float64
	secondaryResetSeconds *int
	secondaryWindowMinutes *int
}

// parseCodexUsageHeaders extracts the snapshot from x-codex-* response
// headers, or nil if none of them were present.
func parseCodexUsageHeaders(headers http.Header) *codexUsageSnapshot {
	if headers == nil {
		return nil
	}
	parseFloat := func(key string) *float64 {
		v := headers.Get(key)
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return &f
	}
	parseInt := func(key string) *int {
		v := headers.Get(key)
		if v == "" {
			return nil
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return nil
		}
		return &i
	}

	s := &codexUsageSnapshot{
		primaryUsedPercent:     parseFloat("x-codex-primary-used-percent"),
		primaryResetSeconds:    parseInt("x-codex-primary-reset-after-seconds"),
		primaryWindowMinutes:   parseInt("x-codex-primary-window-minutes"),
		secondaryUsedPercent:   parseFloat("x-codex-secondary-used-percent"),
		secondaryResetSeconds:  parseInt("x-codex-secondary-reset-after-seconds"),
		secondaryWindowMinutes: parseInt("x-codex-secondary-window-minutes"),
	}
	if s.primaryUsedPercent == nil && s.primaryResetSeconds == nil && s.primaryWindowMinutes == nil &&
		s.secondaryUsedPercent == nil && s.secondaryResetSeconds == nil && s.secondaryWindowMinutes == nil {
		return nil
	}
	return s
}

// exhaustedWindow picks whichever of the primary/secondary windows is
// reported at or past 100% used, preferring the shorter (5h) window
// since it recovers sooner and is the one actually blocking the next
// request. Returns false if neither window is exhausted.
func (s *codexUsageSnapshot) exhaustedWindow() (resetSeconds int, ok bool) {
	type window struct {
		usedPercent  *float64
		resetSeconds *int
		windowMins   *int
	}
	windows := []window{
		{s.primaryUsedPercent, s.primaryResetSeconds, s.primaryWindowMinutes},
		{s.secondaryUsedPercent, s.secondaryResetSeconds, s.secondaryWindowMinutes},
	}

	var best *window
	for i := range windows {
		w := &windows[i]
		if w.usedPercent == nil || *w.usedPercent < 100 || w.resetSeconds == nil {
			continue
		}
		if best == nil {
			best = w
			continue
		}
		// Prefer the shorter window when both are exhausted.
		bw, ww := 1<<31, 1<<31
		if best.windowMins != nil {
			bw = *best.windowMins
		}
		if w.windowMins != nil {
			ww = *w.windowMins
		}
		if ww < bw {
			best = w
		}
	}
	if best == nil {
		return 0, false
	}
	return *best.resetSeconds, true
}

// CodexUsageHint reports the retry hint implied by OpenAI Codex-style
// x-codex-* usage headers, if the upstream sent any and one of the
// reported 5h/7d windows is exhausted. Returns HintNone, false when the
// headers are absent or show no window at 100% used, so callers fall
// through to the generic body-based parser.
func CodexUsageHint(headers http.Header) (RetryHint, bool) {
	snapshot := parseCodexUsageHeaders(headers)
	if snapshot == nil {
		return HintNone, false
	}
	resetSeconds, ok := snapshot.exhaustedWindow()
	if !ok {
		return HintNone, false
	}
	return HintAfter(time.Duration(resetSeconds) * time.Second), true
}
