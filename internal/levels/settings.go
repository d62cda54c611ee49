package levels

import "charthub/internal/util"

// KillzoneConfig is one configurable time-boxed shaded region.
type KillzoneConfig struct {
	Name    string
	Begin   util.Clock
	End     util.Clock
	Color   string
	Enabled bool
}

// Settings controls which calculators run and their time windows. All
// clocks are venue-local wall-clock times.
type Settings struct {
	PrevDayEnabled bool

	PreMarketEnabled bool
	PreMarketBegin   util.Clock
	PreMarketEnd     util.Clock

	ORBEnabled bool
	ORBBegin   util.Clock
	ORBMinutes int

	KillzonesEnabled bool
	Killzones        []KillzoneConfig // at most 4 are honored
	KillzoneDaysBack int

	PriceLinesEnabled bool
	LondonBegin       util.Clock
	LondonEnd         util.Clock

	OpeningGapsEnabled bool
}

// maxKillzones bounds the independently configurable shaded regions.
const maxKillzones = 4

// DefaultSettings returns the settings the client starts with before the
// backend delivers saved ones.
func DefaultSettings() Settings {
	return Settings{
		PrevDayEnabled:   true,
		PreMarketEnabled: true,
		PreMarketBegin:   util.MustClock("18:00"),
		PreMarketEnd:     util.MustClock("09:30"),

		ORBEnabled: true,
		ORBBegin:   util.MustClock("09:30"),
		ORBMinutes: 30,

		KillzonesEnabled: true,
		Killzones: []KillzoneConfig{
			{Name: "asia", Begin: util.MustClock("20:00"), End: util.MustClock("00:00"), Color: "#4c6ef5", Enabled: true},
			{Name: "london", Begin: util.MustClock("02:00"), End: util.MustClock("05:00"), Color: "#12b886", Enabled: true},
			{Name: "ny-am", Begin: util.MustClock("07:00"), End: util.MustClock("10:00"), Color: "#fab005", Enabled: true},
			{Name: "ny-pm", Begin: util.MustClock("13:30"), End: util.MustClock("16:00"), Color: "#fa5252", Enabled: false},
		},
		KillzoneDaysBack: 2,

		PriceLinesEnabled: true,
		LondonBegin:       util.MustClock("02:00"),
		LondonEnd:         util.MustClock("05:00"),

		OpeningGapsEnabled: true,
	}
}
