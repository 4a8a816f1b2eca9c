package session

import (
	"context"
	"fmt"
	"math"

	"github.com/CK6170/Msectrax-go/models"
)

// Arange is start, start+step, ... up to but excluding stop. A zero step or a
// stop that cannot be reached in the step's direction gives an empty range.
func Arange(start, stop, step int) []int {
	n := arangeLen(start, stop, step)
	if n == 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = start + i*step
	}
	return out
}

func arangeLen(start, stop, step int) int {
	if step == 0 {
		return 0
	}
	n := int(math.Ceil(float64(stop-start) / float64(step)))
	if n <= 0 {
		return 0
	}
	return n
}

// Axis is one scanned galvo axis.
type Axis struct {
	Min, Max, Step int
}

func (a Axis) Values() []int { return Arange(a.Min, a.Max, a.Step) }

func (a Axis) Len() int { return arangeLen(a.Min, a.Max, a.Step) }

// Last is the final value Values would produce; ok is false when empty.
func (a Axis) Last() (last int, ok bool) {
	n := a.Len()
	if n == 0 {
		return 0, false
	}
	return a.Min + (n-1)*a.Step, true
}

// Grid visits every DAC2 value for each DAC1 value.
type Grid struct {
	DAC1 Axis
	DAC2 Axis
}

func (g Grid) Points() int { return g.DAC1.Len() * g.DAC2.Len() }

// Validate rejects grids that would command a value the DACs cannot hold.
// Only the endpoints are checked; the values in between lie between them.
func (g Grid) Validate() error {
	for _, ax := range []struct {
		name string
		a    Axis
	}{{"dac1", g.DAC1}, {"dac2", g.DAC2}} {
		last, ok := ax.a.Last()
		if !ok {
			continue
		}
		for _, v := range []int{ax.a.Min, last} {
			if v < math.MinInt16 || v > math.MaxInt16 {
				return fmt.Errorf("%s scan value %d outside int16 range", ax.name, v)
			}
		}
	}
	return nil
}

type ScanProgress struct {
	Pass   int
	Index  int
	Total  int
	Sample models.Sample
}

// Scan sweeps the grid: SetGalvos, QueryState and one log row per point.
// passes == 0 repeats until ctx is done. An empty grid returns at once.
func (s *Session) Scan(ctx context.Context, g Grid, passes int, onRow func(ScanProgress)) error {
	if err := g.Validate(); err != nil {
		return err
	}
	d1, d2 := g.DAC1.Values(), g.DAC2.Values()
	total := len(d1) * len(d2)
	if total == 0 {
		return nil
	}
	for pass := 1; passes == 0 || pass <= passes; pass++ {
		idx := 0
		for _, v1 := range d1 {
			for _, v2 := range d2 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if _, err := s.Device.SetGalvos(ctx, models.Galvos{DAC1: int16(v1), DAC2: int16(v2)}); err != nil {
					return ctxErr(ctx, err)
				}
				st, err := s.Device.QueryState(ctx)
				if err != nil {
					return ctxErr(ctx, err)
				}
				sample, err := s.Record(st)
				if err != nil {
					return err
				}
				idx++
				if onRow != nil {
					onRow(ScanProgress{Pass: pass, Index: idx, Total: total, Sample: sample})
				}
			}
		}
	}
	return nil
}
