package levels

import (
	"fmt"
	"math"

	"charthub/internal/domain"
)

// Opening-gap classification thresholds. The daily futures maintenance
// break shows up as roughly a one-hour hole in the 1-minute stream; the
// weekend as anything beyond a day.
const (
	ndogMinGapMs = 30 * 60 * 1000
	ndogMaxGapMs = 2 * 60 * 60 * 1000
	nwogMinGapMs = 24 * 60 * 60 * 1000
)

// openingGap is one detected inter-candle gap.
type openingGap struct {
	startTS, endTS int64
	prevClose      float64
	nextOpen       float64
	weekend        bool
}

func (g openingGap) high() float64 { return math.Max(g.prevClose, g.nextOpen) }
func (g openingGap) low() float64  { return math.Min(g.prevClose, g.nextOpen) }
func (g openingGap) mid() float64  { return (g.prevClose + g.nextOpen) / 2 }

// retired reports whether price has traded back through the gap's midpoint
// since the gap formed. A retired gap is no longer drawn.
func (g openingGap) retired(candles []domain.Candle) bool {
	mid := g.mid()
	for _, c := range candles {
		if c.Timestamp <= g.endTS {
			continue
		}
		if c.Low <= mid && mid <= c.High {
			return true
		}
	}
	return false
}

// OpeningGaps detects NDOG (new-day opening gap) and NWOG (new-week opening
// gap) ranges from inter-candle time gaps, emitting a box over each gap's
// price range plus a midline, and an EHPDA level midway between consecutive
// gap ranges. A gap is retired once price trades back through its midpoint.
type OpeningGaps struct{}

// Name returns "opening_gaps".
func (OpeningGaps) Name() string { return "opening_gaps" }

// Compute scans the 1-minute stream for qualifying time gaps.
func (OpeningGaps) Compute(in Input) []domain.Marker {
	if !in.Settings.OpeningGapsEnabled {
		return nil
	}
	candles := in.minuteCandles()
	if len(candles) < 2 {
		return nil
	}

	var gaps []openingGap
	for i := 1; i < len(candles); i++ {
		prev, curr := candles[i-1], candles[i]
		dt := curr.Timestamp - prev.Timestamp
		switch {
		case dt >= nwogMinGapMs:
			gaps = append(gaps, openingGap{
				startTS: prev.Timestamp, endTS: curr.Timestamp,
				prevClose: prev.Close, nextOpen: curr.Open, weekend: true,
			})
		case dt >= ndogMinGapMs && dt <= ndogMaxGapMs:
			gaps = append(gaps, openingGap{
				startTS: prev.Timestamp, endTS: curr.Timestamp,
				prevClose: prev.Close, nextOpen: curr.Open,
			})
		}
	}

	active := gaps[:0]
	for _, g := range gaps {
		if !g.retired(candles) {
			active = append(active, g)
		}
	}
	gaps = active

	var markers []domain.Marker
	for _, g := range gaps {
		name, color := "ndog", "#228be6"
		if g.weekend {
			name, color = "nwog", "#f08c00"
		}
		slug := fmt.Sprintf("%s_%d", name, g.startTS)
		markers = append(markers,
			domain.Marker{
				Slug: slug,
				Geometry: domain.Box{
					A:     domain.Point{Timestamp: g.startTS, Price: g.high()},
					B:     domain.Point{Timestamp: g.endTS, Price: g.low()},
					Label: name,
					Style: domain.Style{FillColor: color, Opacity: 0.2},
				},
			},
			domain.Marker{
				Slug: slug + "_mid",
				Geometry: domain.HLine{
					Price: g.mid(), FromTime: g.startTS,
					Style: domain.Style{Color: color, Width: 1, Dashed: true},
				},
			},
		)
	}

	// EHPDA: the midpoint between each pair of consecutive gap ranges.
	for i := 1; i < len(gaps); i++ {
		a, b := gaps[i-1], gaps[i]
		price := (a.mid() + b.mid()) / 2
		markers = append(markers, domain.Marker{
			Slug: fmt.Sprintf("ehpda_%d", b.startTS),
			Geometry: domain.HLine{
				Price: price, FromTime: a.endTS, Label: "EHPDA",
				Style: domain.Style{Color: "#adb5bd", Width: 1, Dashed: true},
			},
		})
	}
	return markers
}
