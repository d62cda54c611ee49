package levels

import (
	"time"

	"charthub/internal/domain"
	"charthub/internal/util"
)

// priceLineAnchor is one fixed session-relative anchor time.
type priceLineAnchor struct {
	slug  string
	clock util.Clock
	kind  domain.LevelKind
	label string
}

var priceLineAnchors = []priceLineAnchor{
	{slug: "open_0000", clock: util.MustClock("00:00"), kind: domain.LevelMidnightOpen, label: "00:00 open"},
	{slug: "open_0830", clock: util.MustClock("08:30"), kind: domain.LevelOpen0830, label: "08:30 open"},
	{slug: "open_0930", clock: util.MustClock("09:30"), kind: domain.LevelOpen0930, label: "09:30 open"},
}

// PriceLines draws ICT-style horizontal rays: the opening price at fixed
// venue-local anchor times (00:00, 08:30, 09:30) and the London window's
// high/low, each extended from its anchor candle to the session end.
type PriceLines struct{}

// Name returns "price_lines".
func (PriceLines) Name() string { return "price_lines" }

// Compute anchors each line on the first current-session candle at or after
// its clock time.
func (PriceLines) Compute(in Input) []domain.Marker {
	if !in.Settings.PriceLinesEnabled || in.Venue == nil {
		return nil
	}
	curr, ok := in.session(0)
	if !ok {
		return nil
	}
	candles := in.sessionCandles(curr)
	if len(candles) == 0 {
		return nil
	}

	style := domain.Style{Color: "#868e96", Width: 1, Dashed: true}
	var markers []domain.Marker

	for _, a := range priceLineAnchors {
		anchor, ok := firstAtOrAfter(candles, a.clock, in.Venue)
		if !ok {
			continue
		}
		markers = append(markers, domain.Marker{
			Slug: a.slug,
			Geometry: domain.HLine{
				Price: anchor.Open, FromTime: anchor.Timestamp,
				ToTime: curr.EndTime, Label: a.label, Style: style,
			},
			Level: &domain.PriceLevel{
				Kind: a.kind, Price: anchor.Open,
				Timestamp: anchor.Timestamp, SessionNumber: curr.RelativeNumber,
			},
		})
	}

	// London session high/low rays.
	var london []domain.Candle
	for _, c := range candles {
		if util.InWindow(c.Timestamp, in.Settings.LondonBegin, in.Settings.LondonEnd, in.Venue) {
			london = append(london, c)
		}
	}
	if high, low, highTS, lowTS, ok := extremes(london); ok {
		lstyle := domain.Style{Color: "#0ca678", Width: 1}
		markers = append(markers,
			domain.Marker{
				Slug: "london_high",
				Geometry: domain.HLine{
					Price: high, FromTime: highTS, ToTime: curr.EndTime,
					Label: "London H", Style: lstyle,
				},
				Level: &domain.PriceLevel{
					Kind: domain.LevelLondonHigh, Price: high,
					Timestamp: highTS, SessionNumber: curr.RelativeNumber,
				},
			},
			domain.Marker{
				Slug: "london_low",
				Geometry: domain.HLine{
					Price: low, FromTime: lowTS, ToTime: curr.EndTime,
					Label: "London L", Style: lstyle,
				},
				Level: &domain.PriceLevel{
					Kind: domain.LevelLondonLow, Price: low,
					Timestamp: lowTS, SessionNumber: curr.RelativeNumber,
				},
			},
		)
	}
	return markers
}

// firstAtOrAfter returns the first candle anchored at the clock time:
// the earliest candle whose venue-local time of day falls within five
// minutes after the anchor, tolerating small data holes at the anchor
// minute itself.
func firstAtOrAfter(candles []domain.Candle, c util.Clock, venue *time.Location) (domain.Candle, bool) {
	for _, cd := range candles {
		if util.InWindow(cd.Timestamp, c, c+5, venue) {
			return cd, true
		}
	}
	return domain.Candle{}, false
}
