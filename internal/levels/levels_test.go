package levels

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"charthub/internal/domain"
	"charthub/internal/util"
)

var ny = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// run builds a minute candle sequence between two venue-local instants with
// flat prices, for window-matching tests.
func run(from, to time.Time, price float64) []domain.Candle {
	var out []domain.Candle
	for t := from; t.Before(to); t = t.Add(time.Minute) {
		out = append(out, domain.Candle{
			Timestamp: t.UnixMilli(),
			Open:      price, High: price, Low: price, Close: price,
			Volume: 1,
		})
	}
	return out
}

func inputFor(candles []domain.Candle, sessions []domain.Session) Input {
	return Input{
		Instrument: "ES",
		Candles: func(tf domain.Timeframe) []domain.Candle {
			if tf == domain.TF1m {
				return candles
			}
			return nil
		},
		Sessions: sessions,
		Settings: DefaultSettings(),
		Venue:    ny,
	}
}

func TestPrevDayLevels(t *testing.T) {
	// Two sessions: D1 18:00 -> D2 18:00 (rel -1), D2 18:00 -> open (rel 0).
	d1 := time.Date(2024, 6, 12, 18, 0, 0, 0, ny)
	d2 := time.Date(2024, 6, 13, 18, 0, 0, 0, ny)

	prev := run(d1, d1.Add(2*time.Hour), 4700)
	// Spike high inside the previous session.
	prev[30].High = 4758.50
	prev[45].Low = 4690.25
	curr := run(d2, d2.Add(time.Hour), 4720)

	sessions := []domain.Session{
		{StartTime: d2.UnixMilli(), RelativeNumber: 0},
		{StartTime: d1.UnixMilli(), EndTime: d2.UnixMilli(), RelativeNumber: -1},
	}

	in := inputFor(append(prev, curr...), sessions)
	markers := PrevDay{}.Compute(in)
	if len(markers) != 2 {
		t.Fatalf("PrevDay produced %d markers, want 2", len(markers))
	}

	var pdh *domain.PriceLevel
	for i := range markers {
		if markers[i].Slug == "pdh" {
			pdh = markers[i].Level
		}
	}
	if pdh == nil {
		t.Fatal("no pdh marker")
	}
	if pdh.Price != 4758.50 {
		t.Errorf("PDH price = %v, want 4758.50", pdh.Price)
	}
	if pdh.SessionNumber != -1 {
		t.Errorf("PDH session = %d, want -1", pdh.SessionNumber)
	}
}

func TestLevelBookClearsOnSessionRollover(t *testing.T) {
	e := NewEngine(testLogger())

	d1 := time.Date(2024, 6, 12, 18, 0, 0, 0, ny)
	d2 := time.Date(2024, 6, 13, 18, 0, 0, 0, ny)
	prev := run(d1, d1.Add(time.Hour), 4700)
	prev[10].High = 4758.50
	curr := run(d2, d2.Add(time.Hour), 4720)

	sessions := []domain.Session{
		{StartTime: d2.UnixMilli(), RelativeNumber: 0},
		{StartTime: d1.UnixMilli(), EndTime: d2.UnixMilli(), RelativeNumber: -1},
	}
	e.Compute(inputFor(append(prev, curr...), sessions))

	if l, ok := e.Book().Get(domain.LevelPrevDayHigh); !ok || l.Price != 4758.50 {
		t.Fatalf("book PDH = %+v, %v; want 4758.50", l, ok)
	}

	// A new session 0 appears: the book must clear stale levels before the
	// recompute repopulates them.
	d3 := time.Date(2024, 6, 14, 18, 0, 0, 0, ny)
	e.Book().Roll(d3.UnixMilli())
	if _, ok := e.Book().Get(domain.LevelPrevDayHigh); ok {
		t.Error("PDH should be cleared after session-0 rollover")
	}
}

func TestPreMarketWindowCrossesMidnight(t *testing.T) {
	// Session opens 18:00; pre-market window is 18:00-09:30 next day.
	d := time.Date(2024, 6, 13, 18, 0, 0, 0, ny)
	evening := run(d, d.Add(time.Hour), 4700)
	evening[5].High = 4740 // inside window
	morning := run(time.Date(2024, 6, 14, 9, 0, 0, 0, ny),
		time.Date(2024, 6, 14, 9, 30, 0, 0, ny), 4710)
	morning[3].Low = 4680 // inside window, before 09:30
	regular := run(time.Date(2024, 6, 14, 10, 0, 0, 0, ny),
		time.Date(2024, 6, 14, 11, 0, 0, 0, ny), 4800)
	regular[10].High = 4900 // outside window: must not count

	candles := append(append(evening, morning...), regular...)
	sessions := []domain.Session{{StartTime: d.UnixMilli(), RelativeNumber: 0}}

	markers := PreMarket{}.Compute(inputFor(candles, sessions))
	if len(markers) != 2 {
		t.Fatalf("PreMarket produced %d markers, want 2", len(markers))
	}
	for _, m := range markers {
		switch m.Slug {
		case "pmh":
			if m.Level.Price != 4740 {
				t.Errorf("PMH = %v, want 4740 (10:00 candles excluded)", m.Level.Price)
			}
		case "pml":
			if m.Level.Price != 4680 {
				t.Errorf("PML = %v, want 4680", m.Level.Price)
			}
		}
	}
}

func TestOpeningRangeNotBeforeBegin(t *testing.T) {
	d := time.Date(2024, 6, 13, 18, 0, 0, 0, ny)
	sessions := []domain.Session{{StartTime: d.UnixMilli(), RelativeNumber: 0}}

	// Only evening candles: 09:30 has not been reached.
	evening := run(d, d.Add(2*time.Hour), 4700)
	if got := (OpeningRange{}).Compute(inputFor(evening, sessions)); len(got) != 0 {
		t.Errorf("ORB computed before begin time: %d markers", len(got))
	}

	// Add the opening 30 minutes next morning.
	opening := run(time.Date(2024, 6, 14, 9, 30, 0, 0, ny),
		time.Date(2024, 6, 14, 10, 0, 0, 0, ny), 4710)
	opening[7].High = 4733
	opening[19].Low = 4701
	later := run(time.Date(2024, 6, 14, 10, 0, 0, 0, ny),
		time.Date(2024, 6, 14, 10, 30, 0, 0, ny), 4790)

	candles := append(append(evening, opening...), later...)
	markers := OpeningRange{}.Compute(inputFor(candles, sessions))
	if len(markers) != 3 {
		t.Fatalf("ORB produced %d markers, want 3 (high, low, box)", len(markers))
	}
	for _, m := range markers {
		switch m.Slug {
		case "orb_high":
			if m.Level.Price != 4733 {
				t.Errorf("ORB high = %v, want 4733 (10:00+ excluded)", m.Level.Price)
			}
		case "orb_low":
			if m.Level.Price != 4701 {
				t.Errorf("ORB low = %v, want 4701", m.Level.Price)
			}
		}
	}
}

func TestOpeningRangeWindowCrossesMidnight(t *testing.T) {
	// Session opened 18:00 the prior evening; the window is configured at
	// 23:45 and data only starts after midnight, inside [23:45, 00:15).
	d := time.Date(2024, 6, 13, 18, 0, 0, 0, ny)
	sessions := []domain.Session{{StartTime: d.UnixMilli(), RelativeNumber: 0}}

	candles := run(time.Date(2024, 6, 14, 0, 0, 0, 0, ny),
		time.Date(2024, 6, 14, 0, 45, 0, 0, ny), 4700)
	candles[5].High = 4733  // 00:05
	candles[12].Low = 4691  // 00:12
	candles[40].High = 4900 // 00:40, past the 30-minute window

	in := inputFor(candles, sessions)
	in.Settings.ORBBegin = util.MustClock("23:45")

	markers := OpeningRange{}.Compute(in)
	if len(markers) != 3 {
		t.Fatalf("ORB produced %d markers, want 3 (high, low, box)", len(markers))
	}
	for _, m := range markers {
		switch m.Slug {
		case "orb_high":
			if m.Level.Price != 4733 {
				t.Errorf("ORB high = %v, want 4733", m.Level.Price)
			}
		case "orb_low":
			if m.Level.Price != 4691 {
				t.Errorf("ORB low = %v, want 4691", m.Level.Price)
			}
		}
	}
}

func TestKillzonesReplicationAndGating(t *testing.T) {
	// Two sessions, each containing the london window 02:00-05:00.
	s1 := time.Date(2024, 6, 12, 18, 0, 0, 0, ny)
	s2 := time.Date(2024, 6, 13, 18, 0, 0, 0, ny)
	c1 := run(time.Date(2024, 6, 13, 2, 0, 0, 0, ny), time.Date(2024, 6, 13, 5, 0, 0, 0, ny), 4700)
	c2 := run(time.Date(2024, 6, 14, 2, 0, 0, 0, ny), time.Date(2024, 6, 14, 5, 0, 0, 0, ny), 4710)
	sessions := []domain.Session{
		{StartTime: s2.UnixMilli(), RelativeNumber: 0},
		{StartTime: s1.UnixMilli(), EndTime: s2.UnixMilli(), RelativeNumber: -1},
	}

	in := inputFor(append(c1, c2...), sessions)
	in.Settings.Killzones = []KillzoneConfig{
		{Name: "london", Begin: util.MustClock("02:00"), End: util.MustClock("05:00"), Enabled: true},
	}
	in.Settings.KillzoneDaysBack = 1

	markers := Killzones{}.Compute(in)
	if len(markers) != 2 {
		t.Fatalf("killzones produced %d markers, want 2 (one per session)", len(markers))
	}
	for _, m := range markers {
		// Intraday gating: boxes carry an explicit timeframe list capped at 30m.
		if len(m.Timeframes) == 0 {
			t.Fatalf("killzone marker %s has no timeframe restriction", m.Slug)
		}
		for _, tf := range m.Timeframes {
			if tf.Duration() > 30*time.Minute {
				t.Errorf("killzone marker %s targets %s (> 30m)", m.Slug, tf)
			}
		}
	}
}

func TestOpeningGapsClassification(t *testing.T) {
	base := time.Date(2024, 6, 13, 16, 59, 0, 0, ny)
	pre := run(base.Add(-5*time.Minute), base.Add(time.Minute), 4700)
	pre[len(pre)-1].Close = 4702
	// One-hour maintenance break -> NDOG.
	afterBreak := run(base.Add(time.Hour+time.Minute), base.Add(time.Hour+10*time.Minute), 4712)
	afterBreak[0].Open = 4712
	// Weekend -> NWOG.
	afterWeekend := run(base.Add(50*time.Hour), base.Add(50*time.Hour+5*time.Minute), 4690)
	afterWeekend[0].Open = 4690

	candles := append(append(pre, afterBreak...), afterWeekend...)
	markers := OpeningGaps{}.Compute(inputFor(candles, nil))

	var ndogBoxes, nwogBoxes, mids, ehpda int
	for _, m := range markers {
		switch {
		case len(m.Slug) > 5 && m.Slug[:5] == "ndog_" && m.Geometry.Kind() == domain.AnnotationBox:
			ndogBoxes++
		case len(m.Slug) > 5 && m.Slug[:5] == "nwog_" && m.Geometry.Kind() == domain.AnnotationBox:
			nwogBoxes++
		case m.Geometry.Kind() == domain.AnnotationHLine && len(m.Slug) > 4 && m.Slug[len(m.Slug)-4:] == "_mid":
			mids++
		case len(m.Slug) > 6 && m.Slug[:6] == "ehpda_":
			ehpda++
		}
	}
	if ndogBoxes != 1 {
		t.Errorf("ndog boxes = %d, want 1", ndogBoxes)
	}
	if nwogBoxes != 1 {
		t.Errorf("nwog boxes = %d, want 1", nwogBoxes)
	}
	if mids != 2 {
		t.Errorf("gap midlines = %d, want 2", mids)
	}
	if ehpda != 1 {
		t.Errorf("ehpda levels = %d, want 1 between two gaps", ehpda)
	}
}

func TestOpeningGapRetiresAtMidpoint(t *testing.T) {
	base := time.Date(2024, 6, 13, 16, 59, 0, 0, ny)
	pre := run(base.Add(-5*time.Minute), base.Add(time.Minute), 100)
	// One-hour break gaps down 100 -> 90; the gap midpoint is 95.
	after := run(base.Add(time.Hour+time.Minute), base.Add(time.Hour+10*time.Minute), 90)
	// A later rally trades back through 95, consuming the gap.
	after[5].High = 96
	// Weekend gap 90 -> 80 (midpoint 85) that price never revisits.
	afterWeekend := run(base.Add(50*time.Hour), base.Add(50*time.Hour+5*time.Minute), 80)

	candles := append(append(pre, after...), afterWeekend...)
	markers := OpeningGaps{}.Compute(inputFor(candles, nil))

	var nwogBoxes int
	for _, m := range markers {
		if len(m.Slug) > 5 && m.Slug[:5] == "ndog_" {
			t.Errorf("gap traded through its midpoint still drawn: %s", m.Slug)
		}
		if len(m.Slug) > 5 && m.Slug[:5] == "nwog_" && m.Geometry.Kind() == domain.AnnotationBox {
			nwogBoxes++
		}
	}
	if nwogBoxes != 1 {
		t.Errorf("nwog boxes = %d, want 1 (midpoint never traded)", nwogBoxes)
	}
}

func TestCalculatorsSkipSilentlyOnNoData(t *testing.T) {
	e := NewEngine(testLogger())
	markers := e.Compute(Input{
		Instrument: "ES",
		Candles:    func(domain.Timeframe) []domain.Candle { return nil },
		Settings:   DefaultSettings(),
		Venue:      ny,
	})
	if len(markers) != 0 {
		t.Errorf("engine produced %d markers from empty data", len(markers))
	}
}
