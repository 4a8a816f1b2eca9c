package session

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/CK6170/Msectrax-go/calib"
	"github.com/CK6170/Msectrax-go/csvlog"
	"github.com/CK6170/Msectrax-go/device"
	"github.com/CK6170/Msectrax-go/internal/devicesim"
	"github.com/CK6170/Msectrax-go/models"
)

func newTestSession(t *testing.T) (*Session, *devicesim.Sim) {
	t.Helper()
	sim := devicesim.New()
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)
	hs, err := HeadStageConfig("headstage2")
	if err != nil {
		t.Fatal(err)
	}
	hs.URL = srv.URL + "/callback"
	s, err := Connect(hs, device.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, sim
}

func TestHeadStageConfig(t *testing.T) {
	h1, err := HeadStageConfig("headstage1")
	if err != nil {
		t.Fatal(err)
	}
	if h1.URL != "http://127.0.0.1:5050/callback" || h1.FileSuffix != "H1" || h1.State.DAC1Initial != -11093 {
		t.Errorf("headstage1 = %+v", h1)
	}
	if h1.State.Mode != models.ModeClosedLoopProportional || h1.State.DAC2AngleGain != -0.02 {
		t.Errorf("headstage1 state = %+v", h1.State)
	}
	h2, _ := HeadStageConfig("headstage2")
	if h2.FileSuffix != "H2" || h2.State.DAC2AngleFunc.Offset != -7760.781758781409 {
		t.Errorf("headstage2 = %+v", h2)
	}
	if _, err := HeadStageConfig("headstage3"); !errors.Is(err, ErrUnknownHeadStage) {
		t.Errorf("got %v, want ErrUnknownHeadStage", err)
	}
}

func TestLoadHeadStages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "headstages.yaml")
	doc := `headstages:
  headstage1:
    url: http://10.0.0.2:5050/callback
    state:
      dac1_angle_gain: -0.03
  bench:
    url: http://127.0.0.1:9000/callback
    file_suffix: B
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	hs, err := LoadHeadStages(path)
	if err != nil {
		t.Fatal(err)
	}
	h1 := hs["headstage1"]
	if h1.URL != "http://10.0.0.2:5050/callback" || h1.State.DAC1AngleGain != -0.03 {
		t.Errorf("override not applied: %+v", h1)
	}
	if h1.State.DAC1Initial != -11093 || h1.FileSuffix != "H1" {
		t.Errorf("unset fields lost: %+v", h1)
	}
	bench, err := hs.Lookup("bench")
	if err != nil {
		t.Fatal(err)
	}
	if bench.Name != "bench" || bench.State != models.DefaultSetDeviceState() {
		t.Errorf("bench = %+v", bench)
	}
	if got := hs.Names(); !reflect.DeepEqual(got, []string{"bench", "headstage1", "headstage2"}) {
		t.Errorf("names = %v", got)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("headstages:\n  x:\n    url: u\n    state:\n      cl_period: 0\n"), 0o644)
	if _, err := LoadHeadStages(bad); err == nil {
		t.Error("expected error for cl_period 0")
	}
}

func TestRates(t *testing.T) {
	cr, cl, lt := Rates(20000, 10, 2*time.Second)
	if cr != 10000 || cl != 1000 || lt != time.Millisecond {
		t.Errorf("Rates = %g, %g, %v", cr, cl, lt)
	}
	if cr, cl, lt := Rates(0, 1, time.Second); cr != 0 || cl != 0 || lt != 0 {
		t.Errorf("zero cycles gave %g, %g, %v", cr, cl, lt)
	}
}

func TestConfigureAndMonitor(t *testing.T) {
	s, sim := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.Configure(ctx); err != nil {
		t.Fatal(err)
	}
	if sim.Inner() != s.HeadStage.State {
		t.Fatalf("device not configured: %+v", sim.Inner())
	}
	var updates []StateUpdate
	err := s.Monitor(ctx, MonitorOptions{Interval: time.Millisecond, ActualCycles: true}, func(u StateUpdate) {
		updates = append(updates, u)
		if len(updates) == 3 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Monitor returned %v", err)
	}
	if len(updates) != 3 {
		t.Fatalf("%d updates", len(updates))
	}
	last := updates[2]
	if last.State.ClCycles != 3000 || last.CycleRate <= 0 || last.ClRate != last.CycleRate || last.LoopTime <= 0 {
		t.Errorf("last update = %+v", last)
	}
	if last.ActualCycles == nil || last.SessionID != s.ID {
		t.Errorf("update missing fields: %+v", last)
	}
}

func TestMonitorStopsOnDeviceError(t *testing.T) {
	s, sim := newTestSession(t)
	sim.FailWith(500)
	err := s.Monitor(context.Background(), MonitorOptions{}, nil)
	var se *device.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want *device.StatusError", err)
	}
}

func TestLogState(t *testing.T) {
	s, _ := newTestSession(t)
	dir := t.TempDir()
	path, err := s.OpenLog(dir, "log-", "logstate")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filepath.Base(path), "log-") || !strings.HasSuffix(path, "H2.csv") {
		t.Errorf("log path = %s", path)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := 0
	err = s.LogState(ctx, 0, func(models.Sample) {
		if n++; n == 5 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("LogState returned %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	samples, err := csvlog.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 5 {
		t.Fatalf("logged %d rows, want 5", len(samples))
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].Timestamp < samples[i-1].Timestamp {
			t.Errorf("timestamps not monotonic at row %d", i)
		}
	}
}

func TestLogStateNeedsLog(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.LogState(context.Background(), 0, nil); err == nil {
		t.Error("expected error without an open log")
	}
}

func TestEchoWraps(t *testing.T) {
	s, _ := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []EchoResult
	err := s.Echo(ctx, 0, func(r EchoResult) {
		if got = append(got, r); len(got) == 258 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Echo returned %v", err)
	}
	if got[255].Sent[7] != 255 || got[256].Sent[7] != 0 || got[257].Sent[7] != 1 {
		t.Errorf("count did not wrap: %v %v %v", got[255].Sent, got[256].Sent, got[257].Sent)
	}
	if got[0].Sent != [8]uint8{1, 2, 3, 4, 5, 6, 7, 0} {
		t.Errorf("first echo = %v", got[0].Sent)
	}
}

func TestSetGalvosAndRead(t *testing.T) {
	s, sim := newTestSession(t)
	_, adc, err := s.SetGalvosAndRead(context.Background(), models.Galvos{})
	if err != nil {
		t.Fatal(err)
	}
	a1, a2 := devicesim.DefaultOptics().Read(0, 0)
	if adc != [2]int16{a1, a2} {
		t.Errorf("adc = %v, want [%d %d]", adc, a1, a2)
	}
	if want := []string{"SetGalvos", "QueryAnalog"}; !reflect.DeepEqual(sim.Requests(), want) {
		t.Errorf("requests = %v", sim.Requests())
	}
}

func TestArange(t *testing.T) {
	tests := []struct {
		start, stop, step int
		want              []int
	}{
		{0, 10, 3, []int{0, 3, 6, 9}},
		{0, 9, 3, []int{0, 3, 6}},
		{-5, 5, 5, []int{-5, 0}},
		{10, 0, -4, []int{10, 6, 2}},
		{0, 10, 0, nil},
		{10, 0, 1, nil},
		{0, 0, 1, nil},
	}
	for _, tt := range tests {
		if got := Arange(tt.start, tt.stop, tt.step); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Arange(%d, %d, %d) = %v, want %v", tt.start, tt.stop, tt.step, got, tt.want)
		}
	}
}

func TestScanPasses(t *testing.T) {
	s, sim := newTestSession(t)
	path, err := s.OpenLog(t.TempDir(), "", "qpdscan")
	if err != nil {
		t.Fatal(err)
	}
	g := Grid{DAC1: Axis{-100, 100, 100}, DAC2: Axis{0, 300, 100}}
	var seen []models.Galvos
	err = s.Scan(context.Background(), g, 2, func(p ScanProgress) {
		seen = append(seen, models.Galvos{DAC1: int16(p.Sample.DAC1), DAC2: int16(p.Sample.DAC2)})
		if p.Total != 6 {
			t.Errorf("total = %d", p.Total)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 12 {
		t.Fatalf("%d rows, want 12", len(seen))
	}
	want := []models.Galvos{{DAC1: -100, DAC2: 0}, {DAC1: -100, DAC2: 100}, {DAC1: -100, DAC2: 200}, {DAC1: 0, DAC2: 0}, {DAC1: 0, DAC2: 100}, {DAC1: 0, DAC2: 200}}
	if !reflect.DeepEqual(seen[:6], want) || !reflect.DeepEqual(seen[6:], want) {
		t.Errorf("scan order = %v", seen)
	}
	if n := len(sim.Requests()); n != 24 {
		t.Errorf("%d requests, want 24", n)
	}
	s.Close()
	rows, err := csvlog.ReadFile(path)
	if err != nil || len(rows) != 12 {
		t.Errorf("log has %d rows (%v)", len(rows), err)
	}
}

func TestScanRejectsOutOfRange(t *testing.T) {
	s, sim := newTestSession(t)
	g := Grid{DAC1: Axis{32000, 34000, 1000}, DAC2: Axis{0, 1, 1}}
	if err := s.Scan(context.Background(), g, 1, nil); err == nil {
		t.Error("expected range error")
	}
	if len(sim.Requests()) != 0 {
		t.Error("requests sent for an invalid grid")
	}
	if err := s.Scan(context.Background(), Grid{}, 0, nil); err != nil {
		t.Errorf("empty grid: %v", err)
	}
}

func TestGridValidateChecksEndpoints(t *testing.T) {
	tests := []struct {
		name string
		g    Grid
		ok   bool
	}{
		{"full range", Grid{DAC1: Axis{-32768, 32768, 256}, DAC2: Axis{-5000, 5000, 500}}, true},
		{"huge step count", Grid{DAC1: Axis{0, 2000000000, 1}, DAC2: Axis{0, 1, 1}}, false},
		{"below range", Grid{DAC1: Axis{0, 1, 1}, DAC2: Axis{-40000, 0, 1000}}, false},
		{"descending", Grid{DAC1: Axis{5000, -5000, -500}, DAC2: Axis{0, 1, 1}}, true},
		{"descending past range", Grid{DAC1: Axis{0, -40000, -1000}, DAC2: Axis{0, 1, 1}}, false},
		{"empty axis ignored", Grid{DAC1: Axis{40000, 0, 1}, DAC2: Axis{0, 1, 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.g.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestAxisLast(t *testing.T) {
	a := Axis{-5000, 5000, 300}
	last, ok := a.Last()
	vals := a.Values()
	if !ok || a.Len() != len(vals) || last != vals[len(vals)-1] {
		t.Errorf("Len=%d Last=%d ok=%v, values end at %d", a.Len(), last, ok, vals[len(vals)-1])
	}
	if _, ok := (Axis{0, 10, 0}).Last(); ok {
		t.Error("zero step axis should be empty")
	}
	if n := (Grid{DAC1: Axis{0, 2000000000, 1}, DAC2: Axis{0, 3, 1}}).Points(); n != 6000000000 {
		t.Errorf("Points = %d", n)
	}
}

// mapScan runs the grid the alignment model expects against the simulator.
func mapScan(t *testing.T, s *Session) []models.Sample {
	t.Helper()
	var out []models.Sample
	g := Grid{DAC1: Axis{-2000, 1500, 250}, DAC2: Axis{-1000, 2500, 250}}
	if err := s.Scan(context.Background(), g, 1, func(p ScanProgress) { out = append(out, p.Sample) }); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestBuildAlignModel(t *testing.T) {
	s, _ := newTestSession(t)
	m, err := BuildAlignModel(mapScan(t, s), DefaultAlignOptions())
	if err != nil {
		t.Fatal(err)
	}
	// More counts mean fewer volts, so adc1 volts fall as dac2 rises.
	if m.DAC2.Slope >= 0 || m.DAC1.Slope <= 0 {
		t.Errorf("slopes = %g, %g", m.DAC2.Slope, m.DAC1.Slope)
	}
	if m.DAC2.R2 < 0.9 || m.DAC1.R2 < 0.9 {
		t.Errorf("R2 = %g, %g", m.DAC2.R2, m.DAC1.R2)
	}
	mid := calib.ToVolts(2048)
	if math.Abs(m.ADC1Zero-mid) > 1e-3 || math.Abs(m.ADC2Zero-mid) > 1e-3 {
		t.Errorf("zero levels = %g, %g", m.ADC1Zero, m.ADC2Zero)
	}
	if _, err := BuildAlignModel(nil, DefaultAlignOptions()); err == nil {
		t.Error("expected error for empty map")
	}
}

type scriptedOperator struct {
	decisions []Decision
	steps     []AlignStep
	proposals []Proposal
}

func (o *scriptedOperator) Decide(ctx context.Context, p Proposal) (Decision, error) {
	o.proposals = append(o.proposals, p)
	if len(o.decisions) == 0 {
		return Decision{}, ErrOperatorQuit
	}
	d := o.decisions[0]
	o.decisions = o.decisions[1:]
	return d, nil
}

func (o *scriptedOperator) Report(step AlignStep) { o.steps = append(o.steps, step) }

func TestRunAlignConverges(t *testing.T) {
	s, sim := newTestSession(t)
	m, err := BuildAlignModel(mapScan(t, s), DefaultAlignOptions())
	if err != nil {
		t.Fatal(err)
	}
	op := &scriptedOperator{}
	for i := 0; i < 10; i++ {
		op.decisions = append(op.decisions, Decision{Accept: true})
	}
	a := NewAligner(s, m, rand.New(rand.NewSource(1)))
	if err := RunAlign(context.Background(), a, op); err != nil {
		t.Fatal(err)
	}
	if len(op.steps) != 11 || op.steps[0].Proposal != nil || op.steps[0].Commanded != a.Origin {
		t.Fatalf("steps = %+v", op.steps)
	}
	reached := false
	for _, st := range op.steps {
		if abs16(st.Commanded.DAC1+250) <= 5 && abs16(st.Commanded.DAC2-750) <= 5 {
			reached = true
		}
	}
	if !reached {
		t.Errorf("never reached the target; last command %+v", sim.Galvos())
	}
}

func TestRunAlignOverride(t *testing.T) {
	s, sim := newTestSession(t)
	m := &AlignModel{DAC1: calib.Line{Slope: 1}, DAC2: calib.Line{Slope: 1}, Target: [2]float64{-250, 750}}
	op := &scriptedOperator{decisions: []Decision{{Accept: false, Galvos: models.Galvos{DAC1: 123, DAC2: -456}}}}
	if err := RunAlign(context.Background(), NewAligner(s, m, nil), op); err != nil {
		t.Fatal(err)
	}
	if g := sim.Galvos(); g != (models.Galvos{DAC1: 123, DAC2: -456}) {
		t.Errorf("galvos = %+v", g)
	}
	if len(op.steps) != 2 || !op.steps[1].Override {
		t.Errorf("steps = %+v", op.steps)
	}
}

func TestProposeRestartsWhenConverged(t *testing.T) {
	m := &AlignModel{DAC1: calib.Line{Intercept: -250}, DAC2: calib.Line{Intercept: 750}, Target: [2]float64{-250, 750}}
	a := NewAligner(nil, m, rand.New(rand.NewSource(7)))
	a.cur = [2]float64{-250, 750}
	p := a.Propose()
	if !p.Converged {
		t.Fatalf("proposal = %+v", p)
	}
	if p.DAC1 < -5000 || p.DAC1 > 5000 || p.DAC2 < -5000 || p.DAC2 > 5000 {
		t.Errorf("restart outside range: %+v", p)
	}
	if a.Phase() != PhaseAwaitingOperator {
		t.Errorf("phase = %q", a.Phase())
	}

	// only one axis converged: no restart
	m.DAC2.Intercept = 800
	p = a.Propose()
	if p.Converged || p.DAC2 != 700 || p.DAC1 != -250 {
		t.Errorf("proposal = %+v", p)
	}
}

func abs16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}

func TestAcceptKeepsUnroundedPosition(t *testing.T) {
	s, sim := newTestSession(t)
	// Constant lines: every proposal moves each axis by -0.375.
	m := &AlignModel{DAC1: calib.Line{Intercept: -250 + 0.375}, DAC2: calib.Line{Intercept: 750 + 0.375}, Target: [2]float64{-250, 750}}
	a := NewAligner(s, m, nil)
	ctx := context.Background()
	if _, err := a.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	p := a.Propose()
	if _, err := a.Accept(ctx, p); err != nil {
		t.Fatal(err)
	}
	if g := sim.Galvos(); g != (models.Galvos{DAC1: -5000, DAC2: -5000}) {
		t.Errorf("galvos = %+v", g)
	}
	if a.cur != [2]float64{-5000.375, -5000.375} {
		t.Errorf("cur = %v, want the unrounded proposal", a.cur)
	}
	for i := 0; i < 2; i++ {
		p = a.Propose()
		if _, err := a.Accept(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	// Three 0.375 steps cross a whole count; truncation alone would stall at -5000.
	if g := sim.Galvos(); g.DAC1 != -5001 || g.DAC2 != -5001 {
		t.Errorf("galvos after three steps = %+v", g)
	}
}
