package models

import "fmt"

// Sample is one logged acquisition. Timestamp is monotonic nanoseconds
// since the session started and may be zero when the source had none.
type Sample struct {
	Timestamp int64
	DAC1      float64
	DAC2      float64
	ADC1      float64
	ADC2      float64
}

func SampleFromState(ts int64, s *DeviceState) Sample {
	return Sample{
		Timestamp: ts,
		DAC1:      float64(s.DAC1),
		DAC2:      float64(s.DAC2),
		ADC1:      float64(s.ADC1),
		ADC2:      float64(s.ADC2),
	}
}

// Bounds is an open interval on one actuator axis.
type Bounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func (b Bounds) Inside(v float64) bool { return v > b.Min && v < b.Max }

// Region is the central, usable part of a scan.
type Region struct {
	DAC1 Bounds `json:"dac1" yaml:"dac1"`
	DAC2 Bounds `json:"dac2" yaml:"dac2"`
}

func (r Region) Contains(s Sample) bool {
	return r.DAC1.Inside(s.DAC1) && r.DAC2.Inside(s.DAC2)
}

func (r Region) String() string {
	return fmt.Sprintf("dac1=(%g, %g) dac2=(%g, %g)", r.DAC1.Min, r.DAC1.Max, r.DAC2.Min, r.DAC2.Max)
}

// Galvos is a commanded galvo pair in DAC units.
type Galvos struct {
	DAC1 int16
	DAC2 int16
}

// ClampGalvos converts float commands to int16, truncating toward zero and
// saturating at the DAC range.
func ClampGalvos(dac1, dac2 float64) Galvos {
	return Galvos{DAC1: clamp16(dac1), DAC2: clamp16(dac2)}
}

func clamp16(v float64) int16 {
	switch {
	case v >= 32767:
		return 32767
	case v <= -32768:
		return -32768
	}
	return int16(v)
}
