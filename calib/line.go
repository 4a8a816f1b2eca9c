package calib

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Line is y = Slope*x + Intercept.
type Line struct {
	Slope     float64
	Intercept float64
	R2        float64
	N         int
}

func (l Line) At(x float64) float64 { return l.Slope*x + l.Intercept }

// LinearFit is an ordinary single-predictor regression of y on x.
func LinearFit(x, y []float64) (Line, error) {
	if len(x) != len(y) {
		return Line{}, fmt.Errorf("linear fit: %d x values, %d y values", len(x), len(y))
	}
	if len(x) < 2 {
		return Line{}, fmt.Errorf("linear fit: %d points, need at least 2", len(x))
	}
	if stat.Variance(x, nil) == 0 {
		return Line{}, fmt.Errorf("linear fit: x is constant")
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	return Line{
		Slope:     beta,
		Intercept: alpha,
		R2:        stat.RSquared(x, y, nil, alpha, beta),
		N:         len(x),
	}, nil
}
