package session

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/CK6170/Msectrax-go/models"
)

var ErrUnknownHeadStage = errors.New("unknown head stage")

// HeadStage is one galvo/QPD rig: where its proxy listens, the suffix used in
// its log file names and the closed-loop configuration sent on start.
type HeadStage struct {
	Name       string                `yaml:"-"`
	URL        string                `yaml:"url"`
	FileSuffix string                `yaml:"file_suffix"`
	State      models.SetDeviceState `yaml:"state"`
}

// HeadStages is keyed by head stage name.
type HeadStages map[string]HeadStage

func (h HeadStages) Lookup(name string) (HeadStage, error) {
	hs, ok := h[name]
	if !ok {
		return HeadStage{}, fmt.Errorf("%w %q (known: %v)", ErrUnknownHeadStage, name, h.Names())
	}
	return hs, nil
}

func (h HeadStages) Names() []string {
	out := make([]string, 0, len(h))
	for n := range h {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func closedLoop(dac1Initial, dac2Initial int16, f1, f2 models.AngleFunc) models.SetDeviceState {
	return models.SetDeviceState{
		Mode:          models.ModeClosedLoopProportional,
		ClPeriod:      1,
		DAC1Initial:   dac1Initial,
		DAC2Initial:   dac2Initial,
		DAC1AngleFunc: f1,
		DAC2AngleFunc: f2,
		DAC1AngleGain: -0.02,
		DAC2AngleGain: -0.02,
		DAC1Min:       math.MinInt16,
		DAC1Max:       math.MaxInt16,
		DAC2Min:       math.MinInt16,
		DAC2Max:       math.MaxInt16,
	}
}

// Builtin returns the calibrated rigs.
func Builtin() HeadStages {
	return HeadStages{
		"headstage1": {
			Name:       "headstage1",
			URL:        "http://127.0.0.1:5050/callback",
			FileSuffix: "H1",
			State: closedLoop(-11093, 8853,
				models.AngleFunc{ADC1Gain: -0.010447744188452558, ADC2Gain: 0.6793280985084404, Offset: -13388.874373535962},
				models.AngleFunc{ADC1Gain: 0.8250760411287147, ADC2Gain: 0.10317298178375989, Offset: 6524.860850191762},
			),
		},
		"headstage2": {
			Name:       "headstage2",
			URL:        "http://127.0.0.1:8080/callback",
			FileSuffix: "H2",
			State: closedLoop(-4386, -57,
				models.AngleFunc{ADC1Gain: -0.0638002222554458, ADC2Gain: 0.5873149806393063, Offset: -4811.105807700699},
				models.AngleFunc{ADC1Gain: 0.9463829955512771, ADC2Gain: -0.09913784171019957, Offset: -7760.781758781409},
			),
		},
	}
}

// HeadStageConfig returns a built-in head stage.
func HeadStageConfig(name string) (HeadStage, error) {
	return Builtin().Lookup(name)
}

type headStageFile struct {
	HeadStages map[string]yaml.Node `yaml:"headstages"`
}

// LoadHeadStages reads a YAML file of the form
//
//	headstages:
//	  headstage1:
//	    url: http://127.0.0.1:5050/callback
//	    state:
//	      dac1_angle_gain: -0.03
//
// Entries override the built-in rig of the same name field by field; new
// names start from the device defaults. An empty path returns the built-ins.
func LoadHeadStages(path string) (HeadStages, error) {
	out := Builtin()
	if path == "" {
		return out, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f headStageFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for name, node := range f.HeadStages {
		hs, ok := out[name]
		if !ok {
			hs = HeadStage{State: models.DefaultSetDeviceState()}
		}
		if err := node.Decode(&hs); err != nil {
			return nil, fmt.Errorf("%s: head stage %s: %w", path, name, err)
		}
		hs.Name = name
		if hs.URL == "" {
			return nil, fmt.Errorf("%s: head stage %s: missing url", path, name)
		}
		if err := hs.State.Validate(); err != nil {
			return nil, fmt.Errorf("%s: head stage %s: %w", path, name, err)
		}
		out[name] = hs
	}
	return out, nil
}
