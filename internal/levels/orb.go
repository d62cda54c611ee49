package levels

import (
	"charthub/internal/domain"
	"charthub/internal/util"
)

// OpeningRange computes the opening-range breakout levels: the high/low of
// a fixed-length window (30 minutes by default) starting at a configurable
// venue-local begin time in the current session. Nothing is produced before
// the begin time has been reached.
type OpeningRange struct{}

// Name returns "opening_range".
func (OpeningRange) Name() string { return "opening_range" }

// Compute finds the window's first candle and reduces the candles inside
// [begin, begin+ORBMinutes).
func (OpeningRange) Compute(in Input) []domain.Marker {
	if !in.Settings.ORBEnabled || in.Venue == nil {
		return nil
	}
	curr, ok := in.session(0)
	if !ok {
		return nil
	}

	// The first session candle inside the configured clock window anchors
	// the range; until one exists the begin time has not been reached. The
	// window end wraps past midnight for late-evening begin times.
	end := (in.Settings.ORBBegin + util.Clock(in.Settings.ORBMinutes)) % (24 * 60)
	candles := in.sessionCandles(curr)
	var anchor int64 = -1
	for _, c := range candles {
		if util.InWindow(c.Timestamp, in.Settings.ORBBegin, end, in.Venue) {
			anchor = c.Timestamp
			break
		}
	}
	if anchor < 0 {
		return nil
	}

	windowEnd := anchor + int64(in.Settings.ORBMinutes)*60*1000
	var windowed []domain.Candle
	for _, c := range candles {
		if c.Timestamp >= anchor && c.Timestamp < windowEnd {
			windowed = append(windowed, c)
		}
	}
	high, low, highTS, lowTS, ok := extremes(windowed)
	if !ok {
		return nil
	}

	style := domain.Style{Color: "#862e9c", Width: 1}
	return []domain.Marker{
		{
			Slug: "orb_high",
			Geometry: domain.HLine{
				Price: high, FromTime: anchor, Label: "ORB30 H", Style: style,
			},
			Level: &domain.PriceLevel{
				Kind: domain.LevelORBHigh, Price: high,
				Timestamp: highTS, SessionNumber: curr.RelativeNumber,
			},
		},
		{
			Slug: "orb_low",
			Geometry: domain.HLine{
				Price: low, FromTime: anchor, Label: "ORB30 L", Style: style,
			},
			Level: &domain.PriceLevel{
				Kind: domain.LevelORBLow, Price: low,
				Timestamp: lowTS, SessionNumber: curr.RelativeNumber,
			},
		},
		{
			Slug: "orb_box",
			Geometry: domain.Box{
				A:     domain.Point{Timestamp: anchor, Price: high},
				B:     domain.Point{Timestamp: windowEnd, Price: low},
				Style: domain.Style{FillColor: "#862e9c", Opacity: 0.1},
			},
		},
	}
}
