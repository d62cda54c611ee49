package levels

import (
	"charthub/internal/domain"
	"charthub/internal/util"
)

// PreMarket computes the pre-market high/low of the current session over a
// configurable venue-local window, 18:00-09:30 by default, which crosses
// midnight.
type PreMarket struct{}

// Name returns "pre_market".
func (PreMarket) Name() string { return "pre_market" }

// Compute reduces the current session's candles inside the pre-market
// window.
func (PreMarket) Compute(in Input) []domain.Marker {
	if !in.Settings.PreMarketEnabled || in.Venue == nil {
		return nil
	}
	curr, ok := in.session(0)
	if !ok {
		return nil
	}

	var windowed []domain.Candle
	for _, c := range in.sessionCandles(curr) {
		if util.InWindow(c.Timestamp, in.Settings.PreMarketBegin, in.Settings.PreMarketEnd, in.Venue) {
			windowed = append(windowed, c)
		}
	}
	high, low, highTS, lowTS, ok := extremes(windowed)
	if !ok {
		return nil
	}

	style := domain.Style{Color: "#1971c2", Width: 1, Dashed: true}
	return []domain.Marker{
		{
			Slug: "pmh",
			Geometry: domain.HLine{
				Price: high, FromTime: highTS, Label: "PMH", Style: style,
			},
			Level: &domain.PriceLevel{
				Kind: domain.LevelPreMarketHigh, Price: high,
				Timestamp: highTS, SessionNumber: curr.RelativeNumber,
			},
		},
		{
			Slug: "pml",
			Geometry: domain.HLine{
				Price: low, FromTime: lowTS, Label: "PML", Style: style,
			},
			Level: &domain.PriceLevel{
				Kind: domain.LevelPreMarketLow, Price: low,
				Timestamp: lowTS, SessionNumber: curr.RelativeNumber,
			},
		},
	}
}
