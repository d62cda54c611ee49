// Package domain defines the core value types shared across the charting
// client: candles, timeframes, trading sessions, derived price levels, and
// OS-window identities.
package domain

import (
	"fmt"
	"time"
)

// Source distinguishes where a candle came from.
type Source int

const (
	// SourceHistorical marks a candle delivered during backfill or replay.
	SourceHistorical Source = iota
	// SourceLive marks a candle delivered from the live stream.
	SourceLive
)

// String returns "historical" or "live".
func (s Source) String() string {
	if s == SourceLive {
		return "live"
	}
	return "historical"
}

// Candle is a single OHLCV bar. Timestamp is Unix milliseconds UTC and is
// the uniqueness key within a (symbol, timeframe) pair. A candle is mutable
// while it is the most recent one for its pair and immutable once closed.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
	Source    Source  `json:"source"`
}

// Time returns the candle's open time as a time.Time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// Timeframe is a candle aggregation interval, e.g. "1m", "30m", "1h".
type Timeframe string

// Known timeframes, smallest to largest.
const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// TimeframeAll is the pseudo-timeframe used in annotation IDs to mean
// "replicated across every active timeframe chart".
const TimeframeAll Timeframe = "all"

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

// Duration returns the candle width of the timeframe, or zero for unknown
// timeframes (including TimeframeAll).
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Valid reports whether tf is one of the known concrete timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Session is a contiguous trading period bounded by data gaps. EndTime of 0
// means the session is still open. RelativeNumber is 0 for the current
// session and counts backward (-1 is the previous session).
type Session struct {
	StartTime      int64 // Unix ms
	EndTime        int64 // Unix ms, 0 = still active
	RelativeNumber int   // 0 current, -1 previous, ...
}

// Active reports whether the session has no end boundary yet.
func (s Session) Active() bool {
	return s.EndTime == 0
}

// Contains reports whether ts (Unix ms) falls inside the session. Open
// sessions contain everything at or after their start.
func (s Session) Contains(ts int64) bool {
	if ts < s.StartTime {
		return false
	}
	return s.Active() || ts < s.EndTime
}

// LevelKind identifies one derived price level per instrument.
type LevelKind string

const (
	LevelPrevDayHigh   LevelKind = "pdh"
	LevelPrevDayLow    LevelKind = "pdl"
	LevelPreMarketHigh LevelKind = "pmh"
	LevelPreMarketLow  LevelKind = "pml"
	LevelORBHigh       LevelKind = "orb_high"
	LevelORBLow        LevelKind = "orb_low"
	LevelLondonHigh    LevelKind = "london_high"
	LevelLondonLow     LevelKind = "london_low"
	LevelMidnightOpen  LevelKind = "open_0000"
	LevelOpen0830      LevelKind = "open_0830"
	LevelOpen0930      LevelKind = "open_0930"
)

// PriceLevel is one current derived level. It is overwritten, never
// accumulated, on each recompute, and cleared when a new trading session 0
// appears.
type PriceLevel struct {
	Kind          LevelKind
	Price         float64
	Timestamp     int64 // anchor, Unix ms
	SessionNumber int   // relative session the level was computed from
}

// WindowKind identifies an OS-level window role.
type WindowKind int

const (
	WindowMain WindowKind = iota
	WindowTradeManager
	WindowTradeTicket
)

// String returns a short name for the window kind.
func (k WindowKind) String() string {
	switch k {
	case WindowMain:
		return "main"
	case WindowTradeManager:
		return "trade-manager"
	case WindowTradeTicket:
		return "trade-ticket"
	default:
		return fmt.Sprintf("window(%d)", int(k))
	}
}
