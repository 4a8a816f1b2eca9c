package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/CK6170/Msectrax-go/calib"
	"github.com/CK6170/Msectrax-go/models"
)

var ErrOperatorQuit = errors.New("operator quit")

// AlignOptions selects which rows of a map scan feed the alignment model.
type AlignOptions struct {
	Window models.Region
	// The dac2 line is fitted on rows with DAC1 == FitDAC1, the dac1 line on
	// rows with DAC2 == FitDAC2.
	FitDAC1 float64
	FitDAC2 float64
	// QPD zero levels are the mean readings on these rows.
	ZeroDAC2 [2]float64
	ZeroDAC1 [2]float64
	// Target is the galvo position that centres the beam.
	Target [2]float64
}

func DefaultAlignOptions() AlignOptions {
	return AlignOptions{
		Window:   models.Region{DAC1: models.Bounds{Min: -2000, Max: 1500}, DAC2: models.Bounds{Min: -1000, Max: 2500}},
		FitDAC1:  0,
		FitDAC2:  1000,
		ZeroDAC2: [2]float64{500, 1000},
		ZeroDAC1: [2]float64{-500, 0},
		Target:   [2]float64{-250, 750},
	}
}

// AlignModel predicts galvo position from QPD volts, one axis per channel.
type AlignModel struct {
	DAC2     calib.Line // dac2 from adc1 volts
	DAC1     calib.Line // dac1 from adc2 volts
	ADC1Zero float64
	ADC2Zero float64
	Target   [2]float64
}

// BuildAlignModel fits the alignment lines from a raw-count map scan.
func BuildAlignModel(samples []models.Sample, opts AlignOptions) (*AlignModel, error) {
	var win []models.Sample
	for _, s := range samples {
		s.ADC1, s.ADC2 = calib.ToVolts(s.ADC1), calib.ToVolts(s.ADC2)
		if opts.Window.Contains(s) {
			win = append(win, s)
		}
	}
	if len(win) == 0 {
		return nil, fmt.Errorf("align: no samples inside %s", opts.Window)
	}

	var x, y []float64
	for _, s := range win {
		if s.DAC1 == opts.FitDAC1 {
			x, y = append(x, s.ADC1), append(y, s.DAC2)
		}
	}
	dac2, err := calib.LinearFit(x, y)
	if err != nil {
		return nil, fmt.Errorf("align dac2 on rows dac1=%g: %w", opts.FitDAC1, err)
	}
	x, y = nil, nil
	for _, s := range win {
		if s.DAC2 == opts.FitDAC2 {
			x, y = append(x, s.ADC2), append(y, s.DAC1)
		}
	}
	dac1, err := calib.LinearFit(x, y)
	if err != nil {
		return nil, fmt.Errorf("align dac1 on rows dac2=%g: %w", opts.FitDAC2, err)
	}

	m := &AlignModel{DAC1: dac1, DAC2: dac2, Target: opts.Target}
	if m.ADC1Zero, err = zeroLevel(win, opts.ZeroDAC2, func(s models.Sample) (float64, float64) { return s.DAC2, s.ADC1 }); err != nil {
		return nil, fmt.Errorf("align adc1 zero: %w", err)
	}
	if m.ADC2Zero, err = zeroLevel(win, opts.ZeroDAC1, func(s models.Sample) (float64, float64) { return s.DAC1, s.ADC2 }); err != nil {
		return nil, fmt.Errorf("align adc2 zero: %w", err)
	}
	return m, nil
}

// zeroLevel averages the means of the two selected rows.
func zeroLevel(samples []models.Sample, rows [2]float64, pick func(models.Sample) (dac, adc float64)) (float64, error) {
	var means [2]float64
	for i, row := range rows {
		var vals []float64
		for _, s := range samples {
			if dac, adc := pick(s); dac == row {
				vals = append(vals, adc)
			}
		}
		if len(vals) == 0 {
			return 0, fmt.Errorf("no samples on row %g", row)
		}
		means[i] = stat.Mean(vals, nil)
	}
	return 0.5 * (means[0] + means[1]), nil
}

type AlignPhase string

const (
	PhaseAwaitingOperator AlignPhase = "awaiting operator confirmation"
	PhaseCommanding       AlignPhase = "commanding device"
)

// Proposal is the next galvo command computed from the last reading.
type Proposal struct {
	DAC1, DAC2 float64
	Del1, Del2 float64
	Converged  bool
	Galvos     models.Galvos
}

// Aligner walks the beam toward the model's target one operator-confirmed
// step at a time.
type Aligner struct {
	Session   *Session
	Model     *AlignModel
	Origin    models.Galvos
	Tolerance float64
	// Converged steps restart from a uniform position in [-RestartSpan, RestartSpan].
	RestartSpan int

	rng   *rand.Rand
	cur   [2]float64
	volts [2]float64
	phase AlignPhase
}

func NewAligner(s *Session, m *AlignModel, rng *rand.Rand) *Aligner {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Aligner{
		Session:     s,
		Model:       m,
		Origin:      models.Galvos{DAC1: -5000, DAC2: -5000},
		Tolerance:   1e-4,
		RestartSpan: 5000,
		rng:         rng,
	}
}

func (a *Aligner) Phase() AlignPhase { return a.phase }

// Volts is the last QPD reading converted to volts.
func (a *Aligner) Volts() (adc1, adc2 float64) { return a.volts[0], a.volts[1] }

// Begin commands the origin and takes the first reading.
func (a *Aligner) Begin(ctx context.Context) (models.Sample, error) {
	return a.Command(ctx, a.Origin)
}

// Propose computes the next command. Each axis is converged on its own
// predicted error; when both are, the proposal is a random restart.
func (a *Aligner) Propose() Proposal {
	m := a.Model
	p := Proposal{
		Del2: m.DAC2.At(a.volts[0]) - m.Target[1],
		Del1: m.DAC1.At(a.volts[1]) - m.Target[0],
	}
	p.DAC1 = a.cur[0] - p.Del1
	p.DAC2 = a.cur[1] - p.Del2
	if math.Abs(p.Del1) < a.Tolerance && math.Abs(p.Del2) < a.Tolerance {
		p.Converged = true
		span := a.RestartSpan
		p.DAC1 = float64(a.rng.Intn(2*span+1) - span)
		p.DAC2 = float64(a.rng.Intn(2*span+1) - span)
	}
	p.Galvos = models.ClampGalvos(p.DAC1, p.DAC2)
	a.phase = PhaseAwaitingOperator
	return p
}

// Command sends g, reads the state back and logs it.
func (a *Aligner) Command(ctx context.Context, g models.Galvos) (models.Sample, error) {
	return a.command(ctx, g, [2]float64{float64(g.DAC1), float64(g.DAC2)})
}

// Accept commands an accepted proposal. The unrounded position is kept so
// the next correction starts from it rather than from the truncated DACs.
func (a *Aligner) Accept(ctx context.Context, p Proposal) (models.Sample, error) {
	return a.command(ctx, p.Galvos, [2]float64{p.DAC1, p.DAC2})
}

func (a *Aligner) command(ctx context.Context, g models.Galvos, cur [2]float64) (models.Sample, error) {
	a.phase = PhaseCommanding
	dev := a.Session.Device
	if _, err := dev.SetGalvos(ctx, g); err != nil {
		return models.Sample{}, ctxErr(ctx, err)
	}
	st, err := dev.QueryState(ctx)
	if err != nil {
		return models.Sample{}, ctxErr(ctx, err)
	}
	a.cur = cur
	a.volts = [2]float64{calib.ToVolts(float64(st.ADC1)), calib.ToVolts(float64(st.ADC2))}
	return a.Session.Record(st)
}

// Decision is the operator's answer to a proposal: accept it, or command
// Galvos instead.
type Decision struct {
	Accept bool
	Galvos models.Galvos
}

type AlignStep struct {
	Proposal  *Proposal // nil for the initial move
	Commanded models.Galvos
	Override  bool
	Sample    models.Sample
}

// Operator confirms each step. Decide blocks without timeout; returning
// ErrOperatorQuit ends the run cleanly.
type Operator interface {
	Decide(ctx context.Context, p Proposal) (Decision, error)
	Report(step AlignStep)
}

// RunAlign drives the aligner until ctx is done or the operator quits.
func RunAlign(ctx context.Context, a *Aligner, op Operator) error {
	sample, err := a.Begin(ctx)
	if err != nil {
		return err
	}
	op.Report(AlignStep{Commanded: a.Origin, Sample: sample})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := a.Propose()
		d, err := op.Decide(ctx, p)
		if errors.Is(err, ErrOperatorQuit) {
			return nil
		}
		if err != nil {
			return err
		}
		step := AlignStep{Proposal: &p, Commanded: p.Galvos}
		if d.Accept {
			step.Sample, err = a.Accept(ctx, p)
		} else {
			step.Commanded, step.Override = d.Galvos, true
			step.Sample, err = a.Command(ctx, d.Galvos)
		}
		if err != nil {
			return err
		}
		op.Report(step)
	}
}
