// Package levels derives price levels and chart markers (previous-day
// high/low, pre-market range, opening-range breakout, killzones, ICT price
// lines, opening gaps) from candle data and session boundaries.
package levels

import (
	"log/slog"
	"time"

	"charthub/internal/domain"
)

// Input is the read-only snapshot a calculator works from. Candles returns
// the sorted candles for a timeframe; Sessions is newest first as produced
// by session.Segment.
type Input struct {
	Instrument string
	Candles    func(tf domain.Timeframe) []domain.Candle
	Sessions   []domain.Session
	Settings   Settings
	Venue      *time.Location
}

// minuteCandles is a shorthand for the 1-minute series every calculator
// reduces over.
func (in Input) minuteCandles() []domain.Candle {
	if in.Candles == nil {
		return nil
	}
	return in.Candles(domain.TF1m)
}

// session returns the session with the given relative number.
func (in Input) session(relative int) (domain.Session, bool) {
	for _, s := range in.Sessions {
		if s.RelativeNumber == relative {
			return s, true
		}
	}
	return domain.Session{}, false
}

// sessionCandles returns the 1-minute candles inside a session.
func (in Input) sessionCandles(s domain.Session) []domain.Candle {
	all := in.minuteCandles()
	var out []domain.Candle
	for _, c := range all {
		if s.Contains(c.Timestamp) {
			out = append(out, c)
		}
	}
	return out
}

// Calculator computes markers from an input snapshot. Calculators are pure:
// missing or empty data yields an empty result, never an error.
type Calculator interface {
	Name() string
	Compute(in Input) []domain.Marker
}

// Engine runs a fixed set of calculators and maintains the level book.
// Compute never lets one calculator's absence of data block another.
type Engine struct {
	calcs []Calculator
	book  *Book
	log   *slog.Logger
}

// NewEngine builds an engine with the standard calculator set.
func NewEngine(log *slog.Logger) *Engine {
	return &Engine{
		calcs: []Calculator{
			PrevDay{},
			PreMarket{},
			OpeningRange{},
			Killzones{},
			PriceLines{},
			OpeningGaps{},
		},
		book: NewBook(),
		log:  log,
	}
}

// Book exposes the engine's level book.
func (e *Engine) Book() *Book {
	return e.book
}

// Compute runs every calculator against the snapshot, applies any produced
// price levels to the book (clearing it first if session 0 rolled over), and
// returns the combined markers.
func (e *Engine) Compute(in Input) []domain.Marker {
	if s0, ok := in.session(0); ok {
		e.book.Roll(s0.StartTime)
	}

	var markers []domain.Marker
	for _, c := range e.calcs {
		out := c.Compute(in)
		if len(out) == 0 {
			e.log.Debug("calculator produced no markers", "calculator", c.Name())
			continue
		}
		for _, m := range out {
			if m.Level != nil {
				e.book.Set(*m.Level)
			}
		}
		markers = append(markers, out...)
	}
	return markers
}

// extremes reduces candles to their highest high and lowest low, returning
// the anchor timestamps of each extreme. ok is false for empty input.
func extremes(cs []domain.Candle) (high, low float64, highTS, lowTS int64, ok bool) {
	if len(cs) == 0 {
		return 0, 0, 0, 0, false
	}
	high, low = cs[0].High, cs[0].Low
	highTS, lowTS = cs[0].Timestamp, cs[0].Timestamp
	for _, c := range cs[1:] {
		if c.High > high {
			high, highTS = c.High, c.Timestamp
		}
		if c.Low < low {
			low, lowTS = c.Low, c.Timestamp
		}
	}
	return high, low, highTS, lowTS, true
}
