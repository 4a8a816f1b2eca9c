package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// DatatypesVersion is the wire schema revision the tools are built against.
// The firmware reports its own value through QueryDatatypesVersion.
const DatatypesVersion uint16 = 5

type DeviceMode string

const (
	ModeSawtoothTest           DeviceMode = "SawtoothTest"
	ModeSampleAdc              DeviceMode = "SampleAdc"
	ModeClosedLoopProportional DeviceMode = "ClosedLoop:Proportional"
)

func (m DeviceMode) MarshalJSON() ([]byte, error) {
	switch m {
	case ModeSawtoothTest, ModeSampleAdc:
		return json.Marshal(string(m))
	case ModeClosedLoopProportional:
		return json.Marshal(map[string]string{"ClosedLoop": "Proportional"})
	}
	return nil, fmt.Errorf("unknown device mode %q", string(m))
}

func (m *DeviceMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch DeviceMode(s) {
		case ModeSawtoothTest, ModeSampleAdc:
			*m = DeviceMode(s)
			return nil
		}
		return fmt.Errorf("unknown device mode %q", s)
	}
	var obj map[string]string
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("device mode: %w", err)
	}
	if obj["ClosedLoop"] == "Proportional" && len(obj) == 1 {
		*m = ModeClosedLoopProportional
		return nil
	}
	return fmt.Errorf("unknown device mode %s", string(b))
}

// AngleFunc is the affine map the controller uses to turn the two QPD
// readings into an angle error for one galvo axis.
type AngleFunc struct {
	ADC1Gain float64 `json:"adc1_gain" yaml:"adc1_gain"`
	ADC2Gain float64 `json:"adc2_gain" yaml:"adc2_gain"`
	Offset   float64 `json:"offset" yaml:"offset"`
}

func (f AngleFunc) Eval(adc1, adc2 float64) float64 {
	return f.ADC1Gain*adc1 + f.ADC2Gain*adc2 + f.Offset
}

// SetDeviceState is the SetState payload.
type SetDeviceState struct {
	Mode          DeviceMode `json:"mode" yaml:"mode"`
	ClPeriod      uint32     `json:"cl_period" yaml:"cl_period"`
	DAC1Initial   int16      `json:"dac1_initial" yaml:"dac1_initial"`
	DAC2Initial   int16      `json:"dac2_initial" yaml:"dac2_initial"`
	DAC1AngleFunc AngleFunc  `json:"dac1_angle_func" yaml:"dac1_angle_func"`
	DAC2AngleFunc AngleFunc  `json:"dac2_angle_func" yaml:"dac2_angle_func"`
	DAC1AngleGain float64    `json:"dac1_angle_gain" yaml:"dac1_angle_gain"`
	DAC2AngleGain float64    `json:"dac2_angle_gain" yaml:"dac2_angle_gain"`
	DAC1Min       int16      `json:"dac1_min" yaml:"dac1_min"`
	DAC1Max       int16      `json:"dac1_max" yaml:"dac1_max"`
	DAC2Min       int16      `json:"dac2_min" yaml:"dac2_min"`
	DAC2Max       int16      `json:"dac2_max" yaml:"dac2_max"`
}

// DefaultSetDeviceState mirrors the firmware's power-on defaults.
func DefaultSetDeviceState() SetDeviceState {
	return SetDeviceState{
		Mode:          ModeSampleAdc,
		ClPeriod:      1,
		DAC1AngleFunc: AngleFunc{ADC1Gain: 0.1, ADC2Gain: 0.1},
		DAC2AngleFunc: AngleFunc{ADC1Gain: 0.1, ADC2Gain: 0.1},
		DAC1AngleGain: 1e-3,
		DAC2AngleGain: 1e-3,
		DAC1Min:       math.MinInt16,
		DAC1Max:       math.MaxInt16,
		DAC2Min:       math.MinInt16,
		DAC2Max:       math.MaxInt16,
	}
}

// Validate rejects payloads the firmware would refuse to decode.
func (s SetDeviceState) Validate() error {
	if s.ClPeriod == 0 {
		return fmt.Errorf("cl_period must be >= 1")
	}
	if s.DAC1Min > s.DAC1Max {
		return fmt.Errorf("dac1_min %d > dac1_max %d", s.DAC1Min, s.DAC1Max)
	}
	if s.DAC2Min > s.DAC2Max {
		return fmt.Errorf("dac2_min %d > dac2_max %d", s.DAC2Min, s.DAC2Max)
	}
	if _, err := s.Mode.MarshalJSON(); err != nil {
		return err
	}
	return nil
}

// DeviceState is the EchoState payload.
type DeviceState struct {
	Inner    SetDeviceState `json:"inner"`
	ClCycles uint32         `json:"cl_cycles"`
	ADC1     int16          `json:"adc1"`
	ADC2     int16          `json:"adc2"`
	DAC1     int16          `json:"dac1"`
	DAC2     int16          `json:"dac2"`
	DAC1F32  float64        `json:"dac1_f32"`
	DAC2F32  float64        `json:"dac2_f32"`
}

var deviceStateFields = []string{"inner", "cl_cycles", "adc1", "adc2", "dac1", "dac2"}

// UnmarshalJSON refuses states with missing fields instead of zero-filling them.
func (s *DeviceState) UnmarshalJSON(b []byte) error {
	if err := requireFields(b, deviceStateFields...); err != nil {
		return fmt.Errorf("EchoState: %w", err)
	}
	type plain DeviceState
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("EchoState: %w", err)
	}
	*s = DeviceState(p)
	return nil
}

// Column returns a logged column by its CSV name.
func (s DeviceState) Column(name string) (int64, bool) {
	switch name {
	case "dac1":
		return int64(s.DAC1), true
	case "dac2":
		return int64(s.DAC2), true
	case "adc1":
		return int64(s.ADC1), true
	case "adc2":
		return int64(s.ADC2), true
	case "cl_cycles":
		return int64(s.ClCycles), true
	}
	return 0, false
}

func requireFields(b []byte, names ...string) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for _, n := range names {
		if _, ok := m[n]; !ok {
			return fmt.Errorf("%w: %q", ErrMissingField, n)
		}
	}
	return nil
}
