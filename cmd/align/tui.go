package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/lipgloss"

	"github.com/CK6170/Msectrax-go/models"
	"github.com/CK6170/Msectrax-go/session"
	"github.com/CK6170/Msectrax-go/ui"
)

type screen int

const (
	screenPropose screen = iota
	screenOverride
)

const historyRows = 12

type model struct {
	scr screen

	aligner *session.Aligner
	title   string
	logPath string

	overrideInput textinput.Model

	proposal *session.Proposal
	busy     bool
	phase    session.AlignPhase
	volts    [2]float64
	steps    []session.AlignStep
	restarts int
	lastErr  error
	infoLine string

	ctx    context.Context
	cancel context.CancelFunc
	runID  int
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func initialModel(a *session.Aligner, logPath string) model {
	in := textinput.New()
	in.Placeholder = "dac1 dac2"
	in.CharLimit = 32
	in.Width = 24

	ctx, cancel := context.WithCancel(context.Background())
	hs := a.Session.HeadStage
	return model{
		scr:           screenPropose,
		aligner:       a,
		title:         fmt.Sprintf("Manual alignment: %s (%s)", hs.Name, hs.URL),
		logPath:       logPath,
		overrideInput: in,
		busy:          true,
		phase:         session.PhaseCommanding,
		ctx:           ctx,
		cancel:        cancel,
		runID:         1,
	}
}

type errMsg struct {
	runID int
	err   error
}

// commandedMsg carries what the Cmd goroutine read from the aligner, so
// View never touches aligner state while a command may be running.
type commandedMsg struct {
	runID int
	step  session.AlignStep
	volts [2]float64
}

func (m model) Init() tea.Cmd {
	return m.beginCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}
		switch m.scr {
		case screenPropose:
			return m.updateProposeKey(msg)
		case screenOverride:
			return m.updateOverrideKey(msg)
		}

	case errMsg:
		if msg.runID != m.runID {
			return m, nil
		}
		m.busy = false
		m.phase = ""
		m.lastErr = msg.err
		return m, nil

	case commandedMsg:
		if msg.runID != m.runID {
			return m, nil
		}
		m.busy = false
		m.lastErr = nil
		m.volts = msg.volts
		m.steps = append(m.steps, msg.step)
		if len(m.steps) > historyRows {
			m.steps = m.steps[len(m.steps)-historyRows:]
		}
		p := m.aligner.Propose()
		m.proposal = &p
		m.phase = m.aligner.Phase()
		if p.Converged {
			m.restarts++
			m.infoLine = "Centred; proposing a random restart"
		} else {
			m.infoLine = ""
		}
		return m, nil
	}
	return m, nil
}

func (m model) updateProposeKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "q", "esc":
		m.cancel()
		return m, tea.Quit
	}
	if m.busy || m.proposal == nil {
		return m, nil
	}
	switch k.String() {
	case "y", "enter":
		p := *m.proposal
		m.busy = true
		m.phase = session.PhaseCommanding
		m.runID++
		return m, m.commandCmd(m.runID, session.AlignStep{Proposal: &p, Commanded: p.Galvos})
	case "n":
		m.scr = screenOverride
		m.overrideInput.SetValue(fmt.Sprintf("%d %d", m.proposal.Galvos.DAC1, m.proposal.Galvos.DAC2))
		m.overrideInput.CursorEnd()
		m.overrideInput.Focus()
		return m, textinput.Blink
	}
	return m, nil
}

func (m model) updateOverrideKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch k.String() {
	case "esc":
		m.scr = screenPropose
		m.overrideInput.Blur()
		return m, nil
	case "enter":
		g, err := ui.ParseGalvos(m.overrideInput.Value())
		if err != nil {
			m.lastErr = err
			return m, nil
		}
		p := *m.proposal
		m.scr = screenPropose
		m.overrideInput.Blur()
		m.busy = true
		m.phase = session.PhaseCommanding
		m.runID++
		return m, m.commandCmd(m.runID, session.AlignStep{Proposal: &p, Commanded: g, Override: true})
	}
	var cmd tea.Cmd
	m.overrideInput, cmd = m.overrideInput.Update(k)
	return m, cmd
}

func (m model) beginCmd() tea.Cmd {
	a, ctx, runID := m.aligner, m.ctx, m.runID
	return func() tea.Msg {
		s, err := a.Begin(ctx)
		if err != nil {
			return errMsg{runID: runID, err: err}
		}
		v1, v2 := a.Volts()
		return commandedMsg{runID: runID, step: session.AlignStep{Commanded: a.Origin, Sample: s}, volts: [2]float64{v1, v2}}
	}
}

func (m model) commandCmd(runID int, step session.AlignStep) tea.Cmd {
	a, ctx := m.aligner, m.ctx
	return func() tea.Msg {
		var s models.Sample
		var err error
		if step.Override {
			s, err = a.Command(ctx, step.Commanded)
		} else {
			s, err = a.Accept(ctx, *step.Proposal)
		}
		if err != nil {
			return errMsg{runID: runID, err: err}
		}
		step.Sample = s
		v1, v2 := a.Volts()
		return commandedMsg{runID: runID, step: step, volts: [2]float64{v1, v2}}
	}
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title) + "\n")
	b.WriteString(helpStyle.Render("log: "+m.logPath) + "\n\n")

	b.WriteString("timestamp,dac1,dac2,adc1,adc2\n")
	for _, st := range m.steps {
		b.WriteString(formatStep(st) + "\n")
	}
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("QPD: adc1 %.5f V  adc2 %.5f V\n", m.volts[0], m.volts[1]))
	if m.phase != "" {
		b.WriteString(fmt.Sprintf("Status: %s\n", m.phase))
	}
	if p := m.proposal; p != nil && !m.busy {
		b.WriteString(fmt.Sprintf("Error: del1 %.2f  del2 %.2f\n", p.Del1, p.Del2))
		b.WriteString(okStyle.Render(fmt.Sprintf("Next: DAC1: %d DAC2: %d", p.Galvos.DAC1, p.Galvos.DAC2)) + "\n")
	}
	if m.restarts > 0 {
		b.WriteString(fmt.Sprintf("Restarts: %d\n", m.restarts))
	}
	if m.infoLine != "" {
		b.WriteString(m.infoLine + "\n")
	}
	if m.lastErr != nil {
		b.WriteString(errStyle.Render("Error: "+m.lastErr.Error()) + "\n")
	}
	b.WriteString("\n")

	switch m.scr {
	case screenOverride:
		b.WriteString("Set new galvo:\n")
		b.WriteString(m.overrideInput.View() + "\n\n")
		b.WriteString(helpStyle.Render("enter: command  esc: back  ctrl+c: quit"))
	default:
		b.WriteString(helpStyle.Render("y/enter: accept  n: enter a position  q/esc: quit"))
	}
	return b.String()
}

func formatStep(st session.AlignStep) string {
	s := st.Sample
	row := fmt.Sprintf("%d,%g,%g,%g,%g", s.Timestamp, s.DAC1, s.DAC2, s.ADC1, s.ADC2)
	if st.Override {
		row += helpStyle.Render("  (manual)")
	}
	return row
}
