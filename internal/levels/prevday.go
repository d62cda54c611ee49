package levels

import "charthub/internal/domain"

// PrevDay computes the previous session's high and low as full-width
// horizontal lines.
type PrevDay struct{}

// Name returns "prev_day".
func (PrevDay) Name() string { return "prev_day" }

// Compute reduces the previous session (relative -1) to its range.
func (PrevDay) Compute(in Input) []domain.Marker {
	if !in.Settings.PrevDayEnabled {
		return nil
	}
	prev, ok := in.session(-1)
	if !ok {
		return nil
	}
	high, low, highTS, lowTS, ok := extremes(in.sessionCandles(prev))
	if !ok {
		return nil
	}

	style := domain.Style{Color: "#e8590c", Width: 1}
	return []domain.Marker{
		{
			Slug: "pdh",
			Geometry: domain.HLine{
				Price: high, FromTime: highTS, Label: "PDH", Style: style,
			},
			Level: &domain.PriceLevel{
				Kind: domain.LevelPrevDayHigh, Price: high,
				Timestamp: highTS, SessionNumber: prev.RelativeNumber,
			},
		},
		{
			Slug: "pdl",
			Geometry: domain.HLine{
				Price: low, FromTime: lowTS, Label: "PDL", Style: style,
			},
			Level: &domain.PriceLevel{
				Kind: domain.LevelPrevDayLow, Price: low,
				Timestamp: lowTS, SessionNumber: prev.RelativeNumber,
			},
		},
	}
}
