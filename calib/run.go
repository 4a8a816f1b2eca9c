package calib

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/CK6170/Msectrax-go/csvlog"
	"github.com/CK6170/Msectrax-go/models"
	"github.com/CK6170/Msectrax-go/plots"
)

type Options struct {
	DoCal  bool
	DoPlot bool
}

// Report is everything one calibration run produced.
type Report struct {
	Path     string
	Region   models.Region
	Samples  []models.Sample
	Filtered []models.Sample
	Model    *Model // nil unless DoCal
	Angle1   string
	Angle2   string
	Snippet  []byte
	Figures  []string
}

// Run loads a logged scan, fits it and writes the human-readable result to
// out. Plot files are written next to path.
func Run(path string, opts Options, out io.Writer) (*Report, error) {
	samples, err := csvlog.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rep, err := Analyze(path, samples, opts.DoCal)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "# Calib file: %s\n", path)
	fmt.Fprintf(out, "# Central region: %s\n", rep.Region)
	if rep.Model != nil {
		fmt.Fprintln(out, rep.Angle1)
		fmt.Fprintln(out, rep.Angle2)
		fmt.Fprintln(out)
		fmt.Fprint(out, string(rep.Snippet))
	}

	if opts.DoPlot {
		fig := plots.CalibrationFile(path)
		fmt.Fprintf(out, "saving %s\n", fig)
		if err := plots.Calibration(fig, path, rep.Samples, rep.Region); err != nil {
			return rep, err
		}
		rep.Figures = append(rep.Figures, fig)

		fig = plots.FitFile(path)
		var fit *plots.Fit
		var caption []string
		if rep.Model != nil {
			fit = &plots.Fit{DAC1: rep.Model.DAC1, DAC2: rep.Model.DAC2}
			caption = []string{path, rep.Angle1, rep.Angle2}
		}
		fmt.Fprintf(out, "saving %s\n", fig)
		if err := plots.FitCal(fig, caption, rep.Filtered, fit); err != nil {
			return rep, err
		}
		rep.Figures = append(rep.Figures, fig)
	}
	return rep, nil
}

// Analyze is Run without any I/O.
func Analyze(path string, samples []models.Sample, doCal bool) (*Report, error) {
	region, err := CentralRegion(samples)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rep := &Report{
		Path:     path,
		Region:   region,
		Samples:  samples,
		Filtered: Filter(samples, region),
	}
	if !doCal {
		return rep, nil
	}
	m, err := Fit(rep.Filtered)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rep.Model = m
	rep.Angle1 = FormatAngle("Angle1 (DAC1)", m.DAC1)
	rep.Angle2 = FormatAngle("Angle2 (DAC2)", m.DAC2)
	if rep.Snippet, err = Snippet(m); err != nil {
		return nil, err
	}
	return rep, nil
}

// FormatAngle prints gains with six significant digits.
func FormatAngle(label string, f models.AngleFunc) string {
	return fmt.Sprintf("# %s = %3.6g*ADC1 + %3.6g*ADC2 + %3.6g", label, f.ADC1Gain, f.ADC2Gain, f.Offset)
}

// SnippetState is the closed-loop configuration the fitted model belongs in.
// Everything except the angle functions is the stock headstage setup.
func SnippetState(m *Model) models.SetDeviceState {
	s := models.DefaultSetDeviceState()
	s.Mode = models.ModeClosedLoopProportional
	s.ClPeriod = 1
	s.DAC1Initial = -11093
	s.DAC2Initial = 8853
	s.DAC1AngleFunc = m.DAC1
	s.DAC2AngleFunc = m.DAC2
	s.DAC1AngleGain = -0.02
	s.DAC2AngleGain = -0.02
	s.DAC1Min, s.DAC1Max = math.MinInt16, math.MaxInt16
	s.DAC2Min, s.DAC2Max = math.MinInt16, math.MaxInt16
	return s
}

// Snippet renders a "state:" block ready to paste under a head stage in
// the head-stage YAML file.
func Snippet(m *Model) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# paste under a head stage in the head-stage config file\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(struct {
		State models.SetDeviceState `yaml:"state"`
	}{SnippetState(m)}); err != nil {
		return nil, fmt.Errorf("snippet: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("snippet: %w", err)
	}
	return buf.Bytes(), nil
}
