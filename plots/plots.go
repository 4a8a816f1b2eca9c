// Package plots renders the two calibration diagnostic figures as PNGs.
package plots

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/CK6170/Msectrax-go/models"
)

const (
	figWidth  = 6.4 * vg.Inch
	figHeight = 4.8 * vg.Inch
	figDPI    = 300
)

// Fit is the affine map drawn over the filtered data.
type Fit struct {
	DAC1 models.AngleFunc
	DAC2 models.AngleFunc
}

type field struct {
	name string
	get  func(models.Sample) float64
}

var (
	fDAC1 = field{"dac1", func(s models.Sample) float64 { return s.DAC1 }}
	fDAC2 = field{"dac2", func(s models.Sample) float64 { return s.DAC2 }}
	fADC1 = field{"adc1", func(s models.Sample) float64 { return s.ADC1 }}
	fADC2 = field{"adc2", func(s models.Sample) float64 { return s.ADC2 }}
)

// CalibrationFile and FitFile name the figures next to the input CSV.
func CalibrationFile(input string) string { return input + ".calibration.png" }
func FitFile(input string) string         { return input + ".fit-cal.png" }

// Calibration draws the full scan: rows adc1/adc2, left column against dac1
// grouped by dac2, right column against dac2 grouped by dac1. The region
// bounds of the x axis are drawn as vertical lines.
func Calibration(path, title string, samples []models.Sample, region models.Region) error {
	bounds := map[string]models.Bounds{"dac1": region.DAC1, "dac2": region.DAC2}
	var grid [][]*plot.Plot
	for _, adc := range []field{fADC1, fADC2} {
		var row []*plot.Plot
		for _, pair := range [][2]field{{fDAC1, fDAC2}, {fDAC2, fDAC1}} {
			x, group := pair[0], pair[1]
			p := newPlot(x.name, adc.name)
			lo, hi := math.Inf(1), math.Inf(-1)
			for i, g := range groupBy(samples, group) {
				xys := make(plotter.XYs, len(g.samples))
				for k, s := range g.samples {
					xys[k] = plotter.XY{X: x.get(s), Y: adc.get(s)}
					lo, hi = math.Min(lo, xys[k].Y), math.Max(hi, xys[k].Y)
				}
				l, err := plotter.NewLine(xys)
				if err != nil {
					return fmt.Errorf("plot %s vs %s: %w", adc.name, x.name, err)
				}
				l.Color = plotutil.Color(i)
				p.Add(l)
				p.Legend.Add(fmt.Sprintf("%s = %g", group.name, g.key), l)
			}
			if !math.IsInf(lo, 1) {
				b := bounds[x.name]
				for _, v := range []float64{b.Min, b.Max} {
					l, err := plotter.NewLine(plotter.XYs{{X: v, Y: lo}, {X: v, Y: hi}})
					if err != nil {
						return err
					}
					l.Color = color.Black
					l.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
					p.Add(l)
				}
			}
			row = append(row, p)
		}
		grid = append(grid, row)
	}
	grid[0][0].Title.Text = title
	return save(path, grid)
}

// FitCal scatters the filtered samples with adc on x and dac on y. When fit
// is non-nil the fitted values are drawn over each group.
func FitCal(path string, caption []string, samples []models.Sample, fit *Fit) error {
	var grid [][]*plot.Plot
	for _, adc := range []field{fADC1, fADC2} {
		var row []*plot.Plot
		for _, pair := range [][2]field{{fDAC1, fDAC2}, {fDAC2, fDAC1}} {
			y, group := pair[0], pair[1]
			p := newPlot(adc.name, fmt.Sprintf("Angle (%s units)", y.name))
			for i, g := range groupBy(samples, group) {
				pts := make(plotter.XYs, len(g.samples))
				for k, s := range g.samples {
					pts[k] = plotter.XY{X: adc.get(s), Y: y.get(s)}
				}
				sc, err := plotter.NewScatter(pts)
				if err != nil {
					return fmt.Errorf("plot %s vs %s: %w", y.name, adc.name, err)
				}
				sc.GlyphStyle.Shape = draw.CrossGlyph{}
				sc.GlyphStyle.Radius = vg.Length(1.5)
				sc.GlyphStyle.Color = plotutil.Color(i)
				p.Add(sc)
				p.Legend.Add(fmt.Sprintf("%s = %g", group.name, g.key), sc)
				if fit == nil {
					continue
				}
				f := fit.DAC1
				if y.name == "dac2" {
					f = fit.DAC2
				}
				fitted := make(plotter.XYs, len(g.samples))
				for k, s := range g.samples {
					fitted[k] = plotter.XY{X: adc.get(s), Y: f.Eval(s.ADC1, s.ADC2)}
				}
				l, err := plotter.NewLine(fitted)
				if err != nil {
					return err
				}
				l.Color = plotutil.Color(i)
				p.Add(l)
			}
			row = append(row, p)
		}
		grid = append(grid, row)
	}
	if len(caption) > 0 {
		grid[0][0].Title.Text = caption[0]
		if len(caption) > 2 {
			grid[0][1].Title.Text = caption[1] + "\n" + caption[2]
		} else if len(caption) > 1 {
			grid[0][1].Title.Text = caption[1]
		}
	}
	return save(path, grid)
}

func newPlot(x, y string) *plot.Plot {
	p := plot.New()
	p.X.Label.Text = x
	p.Y.Label.Text = y
	p.Title.TextStyle.Font.Size = vg.Points(6)
	p.X.Label.TextStyle.Font.Size = vg.Points(6)
	p.Y.Label.TextStyle.Font.Size = vg.Points(6)
	p.X.Tick.Label.Font.Size = vg.Points(5)
	p.Y.Tick.Label.Font.Size = vg.Points(5)
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = vg.Points(4)
	return p
}

func save(path string, grid [][]*plot.Plot) error {
	img := vgimg.NewWith(vgimg.UseWH(figWidth, figHeight), vgimg.UseDPI(figDPI))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: len(grid), Cols: len(grid[0]),
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Points(2), PadBottom: vg.Points(2),
		PadLeft: vg.Points(2), PadRight: vg.Points(2),
	}
	canvases := plot.Align(grid, tiles, dc)
	for j := range grid {
		for i := range grid[j] {
			grid[j][i].Draw(canvases[j][i])
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("plot create %s: %w", path, err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("plot write %s: %w", path, err)
	}
	return f.Close()
}

type group struct {
	key     float64
	samples []models.Sample
}

// groupBy splits samples by a column value, keys ascending, order kept.
func groupBy(samples []models.Sample, by field) []group {
	idx := map[float64]int{}
	var out []group
	for _, s := range samples {
		k := by.get(s)
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, group{key: k})
		}
		out[i].samples = append(out[i].samples, s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].key < out[b].key })
	return out
}
