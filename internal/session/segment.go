// Package session partitions a continuous 1-minute candle stream into
// discrete trading sessions using gap detection.
package session

import (
	"sync"

	"charthub/internal/domain"
)

const (
	// GapThreshold is the minimum inter-candle gap that starts a new
	// session. Weekend gaps are just large gaps; there is no calendar
	// special-casing.
	gapThresholdMs = 15 * 60 * 1000

	candleWidthMs = 60 * 1000
)

// Segment walks sorted 1-minute candles and returns sessions newest first
// with RelativeNumber 0 for the current session, -1 for the previous one,
// and so on. It is a pure function: the same candle set always yields the
// same boundaries.
func Segment(candles []domain.Candle) []domain.Session {
	if len(candles) == 0 {
		return nil
	}

	var chrono []domain.Session
	start := candles[0].Timestamp
	for i := 1; i < len(candles); i++ {
		prev, curr := candles[i-1], candles[i]
		if curr.Timestamp-prev.Timestamp > gapThresholdMs {
			chrono = append(chrono, domain.Session{
				StartTime: start,
				EndTime:   prev.Timestamp + candleWidthMs,
			})
			start = curr.Timestamp
		}
	}
	// The final session stays open.
	chrono = append(chrono, domain.Session{StartTime: start})

	// Newest first, relative numbers counting backward from 0.
	out := make([]domain.Session, len(chrono))
	for i := range chrono {
		s := chrono[len(chrono)-1-i]
		s.RelativeNumber = -i
		out[i] = s
	}
	return out
}

// Find returns the session with the given relative number, or false.
func Find(sessions []domain.Session, relative int) (domain.Session, bool) {
	for _, s := range sessions {
		if s.RelativeNumber == relative {
			return s, true
		}
	}
	return domain.Session{}, false
}

// gapFingerprint identifies one session boundary by the candle pair that
// straddles it.
type gapFingerprint struct {
	prevTS, currTS int64
}

// GapTracker tells callers whether newly arrived candles introduced a
// previously unseen gap, so full resegmentation runs only on novelty rather
// than on every tick.
type GapTracker struct {
	mu   sync.Mutex
	seen map[gapFingerprint]struct{}
}

// NewGapTracker creates an empty tracker.
func NewGapTracker() *GapTracker {
	return &GapTracker{seen: make(map[gapFingerprint]struct{})}
}

// Observe scans the sorted candle sequence and records every gap exceeding
// the session threshold. It returns true when at least one gap had not been
// seen before.
func (g *GapTracker) Observe(candles []domain.Candle) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	novel := false
	for i := 1; i < len(candles); i++ {
		if candles[i].Timestamp-candles[i-1].Timestamp <= gapThresholdMs {
			continue
		}
		fp := gapFingerprint{prevTS: candles[i-1].Timestamp, currTS: candles[i].Timestamp}
		if _, ok := g.seen[fp]; !ok {
			g.seen[fp] = struct{}{}
			novel = true
		}
	}
	return novel
}

// Reset forgets all fingerprints, used when candle state is cleared.
func (g *GapTracker) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = make(map[gapFingerprint]struct{})
}
