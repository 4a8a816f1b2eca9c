package main

import (
	"errors"
	"math/rand"
	"net/http/httptest"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/CK6170/Msectrax-go/calib"
	"github.com/CK6170/Msectrax-go/device"
	"github.com/CK6170/Msectrax-go/internal/devicesim"
	"github.com/CK6170/Msectrax-go/models"
	"github.com/CK6170/Msectrax-go/session"
)

func newTestModel(t *testing.T) (model, *devicesim.Sim) {
	t.Helper()
	sim := devicesim.New()
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)
	hs, err := session.HeadStageConfig("headstage2")
	if err != nil {
		t.Fatal(err)
	}
	hs.URL = srv.URL + "/callback"
	sess, err := session.Connect(hs, device.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	am := &session.AlignModel{DAC1: calib.Line{Slope: 1}, DAC2: calib.Line{Slope: 1}, Target: [2]float64{-250, 750}}
	m := initialModel(session.NewAligner(sess, am, rand.New(rand.NewSource(1))), "align.csv")
	t.Cleanup(m.cancel)
	return m, sim
}

// step feeds msg to the model and runs the command it returns, if any.
func step(t *testing.T, m model, msg tea.Msg) (model, tea.Msg) {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(model)
	if cmd == nil {
		return m, nil
	}
	return m, cmd()
}

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func TestAlignModelAcceptFlow(t *testing.T) {
	m, sim := newTestModel(t)
	m, _ = step(t, m, m.beginCmd()())
	if m.busy || m.proposal == nil {
		t.Fatalf("after begin: busy=%v proposal=%v", m.busy, m.proposal)
	}
	if g := sim.Galvos(); g != (models.Galvos{DAC1: -5000, DAC2: -5000}) {
		t.Errorf("origin galvos = %+v", g)
	}
	want := m.proposal.Galvos

	m, msg := step(t, m, runes("y"))
	if !m.busy {
		t.Error("expected busy while commanding")
	}
	m, _ = step(t, m, msg)
	if g := sim.Galvos(); g != want {
		t.Errorf("galvos = %+v, want %+v", g, want)
	}
	if len(m.steps) != 2 || m.steps[1].Override {
		t.Errorf("steps = %+v", m.steps)
	}
	if !strings.Contains(m.View(), "Next: DAC1:") {
		t.Errorf("view missing proposal:\n%s", m.View())
	}
}

func TestAlignModelOverride(t *testing.T) {
	m, sim := newTestModel(t)
	m, _ = step(t, m, m.beginCmd()())

	next, _ := m.Update(runes("n"))
	m = next.(model)
	if m.scr != screenOverride {
		t.Fatalf("screen = %v", m.scr)
	}
	m.overrideInput.SetValue("123, -456")
	m, msg := step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = step(t, m, msg)
	if g := sim.Galvos(); g != (models.Galvos{DAC1: 123, DAC2: -456}) {
		t.Errorf("galvos = %+v", g)
	}
	if last := m.steps[len(m.steps)-1]; !last.Override || m.scr != screenPropose {
		t.Errorf("last step = %+v screen = %v", last, m.scr)
	}
}

func TestAlignModelRejectsBadOverride(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = step(t, m, m.beginCmd()())
	next, _ := m.Update(runes("n"))
	m = next.(model)
	m.overrideInput.SetValue("40000 0")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	if cmd != nil || m.lastErr == nil || m.scr != screenOverride {
		t.Errorf("cmd=%v err=%v screen=%v", cmd != nil, m.lastErr, m.scr)
	}
}

func TestAlignModelIgnoresStaleResults(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = step(t, m, m.beginCmd()())
	n := len(m.steps)
	m, _ = step(t, m, commandedMsg{runID: m.runID - 1})
	m, _ = step(t, m, errMsg{runID: m.runID + 5, err: errors.New("late")})
	if len(m.steps) != n || m.lastErr != nil {
		t.Errorf("stale messages changed the model: steps=%d err=%v", len(m.steps), m.lastErr)
	}
}

func TestAlignModelShowsDeviceError(t *testing.T) {
	m, sim := newTestModel(t)
	sim.FailWith(503)
	m, _ = step(t, m, m.beginCmd()())
	if m.lastErr == nil || m.busy {
		t.Fatalf("err=%v busy=%v", m.lastErr, m.busy)
	}
	if !strings.Contains(m.View(), "HTTP 503") {
		t.Errorf("view missing error:\n%s", m.View())
	}
}

func TestAlignModelRendersFromMessages(t *testing.T) {
	m, _ := newTestModel(t)
	if !strings.Contains(m.View(), string(session.PhaseCommanding)) {
		t.Errorf("initial view should show the commanding phase:\n%s", m.View())
	}
	msg := commandedMsg{runID: m.runID, volts: [2]float64{0.123456, -0.0625}}
	m, _ = step(t, m, msg)
	view := m.View()
	for _, want := range []string{"adc1 0.12346 V", "adc2 -0.06250 V", string(session.PhaseAwaitingOperator)} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestAlignModelCommandCarriesReading(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = step(t, m, m.beginCmd()())
	_, msg := step(t, m, runes("y"))
	cm, ok := msg.(commandedMsg)
	if !ok {
		t.Fatalf("got %T, want commandedMsg", msg)
	}
	v1, v2 := m.aligner.Volts()
	if cm.volts != [2]float64{v1, v2} || cm.volts == ([2]float64{}) {
		t.Errorf("message volts = %v, aligner %v %v", cm.volts, v1, v2)
	}
}
