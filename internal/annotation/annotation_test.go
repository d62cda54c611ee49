package annotation

import (
	"io"
	"log/slog"
	"testing"

	"charthub/internal/domain"
)

// fakeSurface records the surface calls a registry makes.
type fakeSurface struct {
	created  []string
	updated  []string
	removed  []string
	editable map[string]bool
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{editable: make(map[string]bool)}
}

func (f *fakeSurface) Create(id ID, g domain.Geometry) error {
	f.created = append(f.created, id.String())
	f.editable[id.String()] = true
	return nil
}

func (f *fakeSurface) Update(id ID, g domain.Geometry) error {
	f.updated = append(f.updated, id.String())
	return nil
}

func (f *fakeSurface) Remove(id ID) error {
	f.removed = append(f.removed, id.String())
	return nil
}

func (f *fakeSurface) SetEditable(id ID, editable bool) error {
	f.editable[id.String()] = editable
	return nil
}

// fakeSender captures outbound mutations and can simulate a dropped link.
type fakeSender struct {
	sent    []Mutation
	offline bool
}

func (f *fakeSender) SendAnnotation(m Mutation) bool {
	if f.offline {
		return false
	}
	f.sent = append(f.sent, m)
	return true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clientID(tf domain.Timeframe, unique string) ID {
	return ID{
		Owner:      ClientOwner("c1"),
		Instrument: "ES",
		Timeframe:  tf,
		Type:       domain.AnnotationHLine,
		UniqueID:   unique,
	}
}

func hline(price float64) domain.HLine {
	return domain.HLine{Price: price, FromTime: 1718300000000}
}

func TestIDRoundTrip(t *testing.T) {
	id := clientID(domain.TimeframeAll, "u-42")
	got, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if got != id {
		t.Errorf("round trip = %+v, want %+v", got, id)
	}
	if !got.All() {
		t.Error("All() = false for the all timeframe")
	}
}

func TestParseIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"client-c1/ES/1m/hline",              // 4 components
		"client-c1/ES/1m/hline/u/extra",      // 6 components
		"client-c1/ES/7m/hline/u",            // unknown timeframe
		"client-c1//all/hline/u",             // empty instrument
	} {
		if _, err := ParseID(s); err == nil {
			t.Errorf("ParseID(%q) accepted malformed id", s)
		}
	}
}

func TestClassifyOwner(t *testing.T) {
	cases := map[string]OwnerClass{
		ClientOwner("c1"):       OwnerClient,
		StrategyOwner("fvg"):    OwnerStrategy,
		InternalOwner("levels"): OwnerInternal,
		"someone-else":          OwnerUnknown,
	}
	for owner, want := range cases {
		if got := ClassifyOwner(owner); got != want {
			t.Errorf("ClassifyOwner(%q) = %v, want %v", owner, got, want)
		}
	}
}

// An "all"-timeframe annotation must appear on every attached chart under
// the identical ID, and a delete must remove every replica.
func TestAllTimeframeReplication(t *testing.T) {
	s := NewSyncer("c1", &fakeSender{}, testLogger())
	surfaces := map[domain.Timeframe]*fakeSurface{}
	for _, tf := range []domain.Timeframe{domain.TF1m, domain.TF5m, domain.TF1h} {
		fs := newFakeSurface()
		surfaces[tf] = fs
		s.Attach(NewRegistry(tf, fs))
	}

	id := clientID(domain.TimeframeAll, "u-1")
	if err := s.ApplyLocal(OpCreate, id, hline(4700)); err != nil {
		t.Fatalf("ApplyLocal create: %v", err)
	}
	for tf, fs := range surfaces {
		if len(fs.created) != 1 || fs.created[0] != id.String() {
			t.Errorf("%s surface created %v, want one %q", tf, fs.created, id.String())
		}
	}

	if err := s.ApplyLocal(OpDelete, id, nil); err != nil {
		t.Fatalf("ApplyLocal delete: %v", err)
	}
	for tf, fs := range surfaces {
		if len(fs.removed) != 1 {
			t.Errorf("%s surface removed %d times, want exactly 1", tf, len(fs.removed))
		}
	}
}

func TestSingleTimeframeScoping(t *testing.T) {
	s := NewSyncer("c1", &fakeSender{}, testLogger())
	fs1m, fs5m := newFakeSurface(), newFakeSurface()
	s.Attach(NewRegistry(domain.TF1m, fs1m))
	s.Attach(NewRegistry(domain.TF5m, fs5m))

	id := clientID(domain.TF5m, "u-2")
	if err := s.ApplyLocal(OpCreate, id, hline(4700)); err != nil {
		t.Fatalf("ApplyLocal: %v", err)
	}
	if len(fs5m.created) != 1 {
		t.Errorf("5m surface created %d, want 1", len(fs5m.created))
	}
	if len(fs1m.created) != 0 {
		t.Errorf("1m surface created %d, want 0", len(fs1m.created))
	}
}

// Duplicate remote creates of the same ID must collapse into one
// annotation per chart.
func TestRemoteCreateIdempotent(t *testing.T) {
	s := NewSyncer("c1", &fakeSender{}, testLogger())
	fs := newFakeSurface()
	reg := NewRegistry(domain.TF1m, fs)
	s.Attach(reg)

	id := ID{
		Owner:      ClientOwner("c2"), // same account, another window
		Instrument: "ES",
		Timeframe:  domain.TF1m,
		Type:       domain.AnnotationHLine,
		UniqueID:   "u-3",
	}
	m1, err := NewMutation(OpCreate, id, hline(4700))
	if err != nil {
		t.Fatal(err)
	}
	m2, err := NewMutation(OpCreate, id, hline(4705))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.ApplyRemote(m1); err != nil {
		t.Fatalf("first ApplyRemote: %v", err)
	}
	if err := s.ApplyRemote(m2); err != nil {
		t.Fatalf("second ApplyRemote: %v", err)
	}

	if reg.Len() != 1 {
		t.Fatalf("registry holds %d annotations, want 1", reg.Len())
	}
	if len(fs.created) != 1 {
		t.Errorf("surface Create called %d times, want 1", len(fs.created))
	}
	a, _ := reg.Get(id)
	if h, ok := a.Geometry.(domain.HLine); !ok || h.Price != 4705 {
		t.Errorf("geometry = %+v, want hline at 4705 (second create wins as update)", a.Geometry)
	}
}

func TestRemoteDeleteMissingIsSkipped(t *testing.T) {
	s := NewSyncer("c1", &fakeSender{}, testLogger())
	fs := newFakeSurface()
	s.Attach(NewRegistry(domain.TF1m, fs))

	m, err := NewMutation(OpDelete, clientID(domain.TF1m, "ghost"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyRemote(m); err != nil {
		t.Fatalf("ApplyRemote of a missing delete should not fail: %v", err)
	}
	if len(fs.removed) != 0 {
		t.Errorf("surface Remove called %d times for a missing annotation", len(fs.removed))
	}
}

func TestOwnershipEnforcement(t *testing.T) {
	s := NewSyncer("c1", &fakeSender{}, testLogger())
	s.Attach(NewRegistry(domain.TF1m, newFakeSurface()))

	other := clientID(domain.TF1m, "u-4")
	other.Owner = ClientOwner("intruder")
	if err := s.ApplyLocal(OpCreate, other, hline(4700)); err == nil {
		t.Error("local mutation of another client's annotation was accepted")
	}

	strat := clientID(domain.TF1m, "u-5")
	strat.Owner = StrategyOwner("fvg")
	if err := s.ApplyLocal(OpUpdate, strat, hline(4700)); err == nil {
		t.Error("local mutation of a strategy annotation was accepted")
	}
}

func TestInternalMarkersNotSentToBackend(t *testing.T) {
	sender := &fakeSender{}
	s := NewSyncer("c1", sender, testLogger())
	s.Attach(NewRegistry(domain.TF1m, newFakeSurface()))

	id := clientID(domain.TF1m, "pdh")
	id.Owner = InternalOwner("levels")
	if err := s.ApplyLocal(OpCreate, id, hline(4758.50)); err != nil {
		t.Fatalf("ApplyLocal: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("internal marker was sent to backend: %+v", sender.sent)
	}

	user := clientID(domain.TF1m, "u-6")
	if err := s.ApplyLocal(OpCreate, user, hline(4700)); err != nil {
		t.Fatalf("ApplyLocal: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("user mutation not sent, got %d sends", len(sender.sent))
	}
	if sender.sent[0].Op != OpCreate || sender.sent[0].ID != user.String() {
		t.Errorf("sent mutation = %+v", sender.sent[0])
	}
}

func TestOfflineSendDroppedSilently(t *testing.T) {
	sender := &fakeSender{offline: true}
	s := NewSyncer("c1", sender, testLogger())
	reg := NewRegistry(domain.TF1m, newFakeSurface())
	s.Attach(reg)

	id := clientID(domain.TF1m, "u-7")
	if err := s.ApplyLocal(OpCreate, id, hline(4700)); err != nil {
		t.Fatalf("ApplyLocal while offline: %v", err)
	}
	// Local state still reflects the change.
	if reg.Len() != 1 {
		t.Errorf("registry holds %d annotations, want 1", reg.Len())
	}
}

func TestDrawingLock(t *testing.T) {
	s := NewSyncer("c1", &fakeSender{}, testLogger())
	fs := newFakeSurface()
	reg := NewRegistry(domain.TF1m, fs)
	s.Attach(reg)

	existing := clientID(domain.TF1m, "u-8")
	if err := s.ApplyLocal(OpCreate, existing, hline(4700)); err != nil {
		t.Fatal(err)
	}

	s.SetDrawingLock(true)
	if a, _ := reg.Get(existing); a.Editable {
		t.Error("existing user annotation still editable under drawing lock")
	}

	// New annotations created under the lock start frozen too.
	fresh := clientID(domain.TF1m, "u-9")
	if err := s.ApplyLocal(OpCreate, fresh, hline(4710)); err != nil {
		t.Fatal(err)
	}
	if a, _ := reg.Get(fresh); a.Editable {
		t.Error("annotation created under drawing lock is editable")
	}

	s.SetDrawingLock(false)
	if a, _ := reg.Get(existing); !a.Editable {
		t.Error("user annotation not re-enabled after unlock")
	}
}

func TestMutationGeometryRoundTrip(t *testing.T) {
	id := clientID(domain.TF1m, "u-10")
	id.Type = domain.AnnotationBox
	box := domain.Box{
		A: domain.Point{Timestamp: 1, Price: 4700},
		B: domain.Point{Timestamp: 2, Price: 4710},
	}
	m, err := NewMutation(OpCreate, id, box)
	if err != nil {
		t.Fatal(err)
	}
	g, err := m.DecodeGeometry()
	if err != nil {
		t.Fatal(err)
	}
	got, ok := g.(domain.Box)
	if !ok {
		t.Fatalf("decoded %T, want Box", g)
	}
	if got.A != box.A || got.B != box.B {
		t.Errorf("decoded box = %+v, want %+v", got, box)
	}
}

func TestDisposeRemovesEverythingOnce(t *testing.T) {
	fs := newFakeSurface()
	reg := NewRegistry(domain.TF1m, fs)
	for i := 0; i < 3; i++ {
		id := clientID(domain.TF1m, NewUniqueID())
		if err := reg.Create(id, hline(4700), true); err != nil {
			t.Fatal(err)
		}
	}
	reg.Dispose()
	if len(fs.removed) != 3 {
		t.Errorf("Remove called %d times, want 3", len(fs.removed))
	}
	if reg.Len() != 0 {
		t.Errorf("registry not empty after Dispose: %d", reg.Len())
	}
}
