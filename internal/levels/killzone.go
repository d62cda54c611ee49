package levels

import (
	"fmt"

	"charthub/internal/domain"
	"charthub/internal/util"
)

// killzoneTimeframes are the charts killzone boxes render on: intraday
// timeframes of 30 minutes and below.
var killzoneTimeframes = []domain.Timeframe{
	domain.TF1m, domain.TF5m, domain.TF15m, domain.TF30m,
}

// Killzones shades up to four configurable venue-local time windows as
// boxes over their price range, replicated across the most recent
// KillzoneDaysBack+1 sessions.
type Killzones struct{}

// Name returns "killzones".
func (Killzones) Name() string { return "killzones" }

// Compute emits one box per enabled zone per covered session.
func (Killzones) Compute(in Input) []domain.Marker {
	if !in.Settings.KillzonesEnabled || in.Venue == nil {
		return nil
	}

	zones := in.Settings.Killzones
	if len(zones) > maxKillzones {
		zones = zones[:maxKillzones]
	}

	var markers []domain.Marker
	for rel := 0; rel >= -in.Settings.KillzoneDaysBack; rel-- {
		sess, ok := in.session(rel)
		if !ok {
			break
		}
		candles := in.sessionCandles(sess)
		if len(candles) == 0 {
			continue
		}

		for _, z := range zones {
			if !z.Enabled {
				continue
			}
			var windowed []domain.Candle
			for _, c := range candles {
				if util.InWindow(c.Timestamp, z.Begin, z.End, in.Venue) {
					windowed = append(windowed, c)
				}
			}
			high, low, _, _, ok := extremes(windowed)
			if !ok {
				continue
			}
			markers = append(markers, domain.Marker{
				Slug: fmt.Sprintf("kz_%s_s%d", z.Name, -rel),
				Geometry: domain.Box{
					A:     domain.Point{Timestamp: windowed[0].Timestamp, Price: high},
					B:     domain.Point{Timestamp: windowed[len(windowed)-1].Timestamp + 60000, Price: low},
					Label: z.Name,
					Style: domain.Style{FillColor: z.Color, Opacity: 0.15},
				},
				Timeframes: killzoneTimeframes,
			})
		}
	}
	return markers
}
