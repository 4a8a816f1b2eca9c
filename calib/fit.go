package calib

import (
	"fmt"

	"github.com/CK6170/Msectrax-go/matrix"
	"github.com/CK6170/Msectrax-go/models"
)

// Model is the result of one calibration fit.
type Model struct {
	DAC1 models.AngleFunc
	DAC2 models.AngleFunc
	RSS1 float64
	RSS2 float64
	Rank int
	N    int
}

// DesignMatrix is [adc1, adc2, 1] per sample.
func DesignMatrix(samples []models.Sample) *matrix.Matrix {
	a := matrix.NewMatrix(len(samples), 3)
	for i, s := range samples {
		a.Values[i][0] = s.ADC1
		a.Values[i][1] = s.ADC2
		a.Values[i][2] = 1
	}
	return a
}

// Fit solves dac = g1*adc1 + g2*adc2 + c independently for both axes.
func Fit(samples []models.Sample) (*Model, error) {
	if len(samples) < 3 {
		return nil, fmt.Errorf("fit: %d samples in central region, need at least 3", len(samples))
	}
	a := DesignMatrix(samples)
	dac1 := matrix.NewVectorFrom(columnOf(samples, func(s models.Sample) float64 { return s.DAC1 }))
	dac2 := matrix.NewVectorFrom(columnOf(samples, func(s models.Sample) float64 { return s.DAC2 }))

	s1, err := matrix.LeastSquares(a, dac1)
	if err != nil {
		return nil, fmt.Errorf("fit dac1: %w", err)
	}
	s2, err := matrix.LeastSquares(a, dac2)
	if err != nil {
		return nil, fmt.Errorf("fit dac2: %w", err)
	}
	return &Model{
		DAC1: angleFunc(s1.X),
		DAC2: angleFunc(s2.X),
		RSS1: s1.RSS,
		RSS2: s2.RSS,
		Rank: s1.Rank,
		N:    len(samples),
	}, nil
}

func angleFunc(x *matrix.Vector) models.AngleFunc {
	return models.AngleFunc{ADC1Gain: x.Values[0], ADC2Gain: x.Values[1], Offset: x.Values[2]}
}
