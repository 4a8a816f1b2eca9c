// Package calib fits the QPD-to-angle calibration from a logged map scan
// and prints it in the form the head-stage configuration expects.
package calib

import (
	"errors"

	"gonum.org/v1/gonum/floats"

	"github.com/CK6170/Msectrax-go/models"
)

var ErrNoSamples = errors.New("no samples")

// CentralRegion locates the part of the scan where the spot is on the QPD.
// The dac2 bounds are the dac2 values at the first maximum and first minimum
// of adc1; the dac1 bounds come the same way from adc2.
func CentralRegion(samples []models.Sample) (models.Region, error) {
	if len(samples) == 0 {
		return models.Region{}, ErrNoSamples
	}
	adc1 := columnOf(samples, func(s models.Sample) float64 { return s.ADC1 })
	adc2 := columnOf(samples, func(s models.Sample) float64 { return s.ADC2 })

	var r models.Region
	r.DAC2 = ordered(samples[floats.MaxIdx(adc1)].DAC2, samples[floats.MinIdx(adc1)].DAC2)
	r.DAC1 = ordered(samples[floats.MaxIdx(adc2)].DAC1, samples[floats.MinIdx(adc2)].DAC1)
	return r, nil
}

// Filter keeps the samples strictly inside r on both axes, in order.
func Filter(samples []models.Sample, r models.Region) []models.Sample {
	out := make([]models.Sample, 0, len(samples))
	for _, s := range samples {
		if r.Contains(s) {
			out = append(out, s)
		}
	}
	return out
}

func ordered(a, b float64) models.Bounds {
	if a > b {
		a, b = b, a
	}
	return models.Bounds{Min: a, Max: b}
}

func columnOf(samples []models.Sample, get func(models.Sample) float64) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = get(s)
	}
	return out
}
