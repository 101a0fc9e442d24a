// Package render draws 2D labeled grids together with their segment
// statistics.
package render

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/TuSKan/segstats"
)

var glyphColor = color.RGBA{R: 220, A: 255}

// labelGrid exposes a 2D grid as plot data in cell units. Row 0 is drawn
// at the top.
type labelGrid struct {
	g          *segstats.Grid
	rows, cols int
}

func (l labelGrid) Dims() (c, r int)   { return l.cols, l.rows }
func (l labelGrid) Z(c, r int) float64 { return float64(l.g.At(r, c)) }
func (l labelGrid) X(c int) float64    { return float64(c) + 0.5 }
func (l labelGrid) Y(r int) float64    { return float64(l.rows-r) - 0.5 }
func (l labelGrid) Min() float64       { return 0 }
func (l labelGrid) Max() float64       { return float64(l.g.Max()) }

// Plot draws g as a heat map of labels. When st is not nil every segment
// gets a centroid marker and its covariance axes, scaled so the longest
// axis is sqrt(count) cells long.
func Plot(g *segstats.Grid, st *segstats.Stats) (*plot.Plot, error) {
	if g.Rank() != 2 {
		return nil, fmt.Errorf("can only plot 2D grids, got rank %d", g.Rank())
	}
	shape := g.Shape()
	grid := labelGrid{g: g, rows: shape[0], cols: shape[1]}

	p := plot.New()
	p.X.Min, p.X.Max = 0, float64(grid.cols)
	p.Y.Min, p.Y.Max = 0, float64(grid.rows)
	p.Add(plotter.NewHeatMap(grid, palette.Heat(64, 1)))

	if st == nil || st.Len() == 0 {
		return p, nil
	}

	centers, axes, err := glyphs(st, grid.rows, grid.cols)
	if err != nil {
		return nil, err
	}
	for _, axis := range axes {
		line, err := plotter.NewLine(axis)
		if err != nil {
			return nil, fmt.Errorf("failed to create axis line: %w", err)
		}
		line.Color = glyphColor
		line.Width = vg.Points(1)
		p.Add(line)
	}
	scatter, err := plotter.NewScatter(centers)
	if err != nil {
		return nil, fmt.Errorf("failed to create centroid scatter: %w", err)
	}
	scatter.GlyphStyle = draw.GlyphStyle{Color: glyphColor, Radius: vg.Points(2), Shape: draw.CircleGlyph{}}
	p.Add(scatter)
	return p, nil
}

// PlotResult joins the leaves of a partition and draws the statistics of
// every chunk on the joined grid. Centers in res are already in the frame
// of the whole grid. Covariances stay in their chunk frame, which only
// differs by a uniform scale and so draws the same axes.
func PlotResult(leaves []*segstats.Grid, res *segstats.Result) (*plot.Plot, error) {
	if len(leaves) != res.Len() {
		return nil, fmt.Errorf("%d leaves for %d chunks", len(leaves), res.Len())
	}
	g, err := segstats.Join(leaves)
	if err != nil {
		return nil, err
	}
	all := &segstats.Stats{}
	for i := range res.Len() {
		st := res.Chunk(i)
		all.SegmentIDs = append(all.SegmentIDs, st.SegmentIDs...)
		all.Counts = append(all.Counts, st.Counts...)
		all.Centers = append(all.Centers, st.Centers...)
		all.Covariances = append(all.Covariances, st.Covariances...)
	}
	return Plot(g, all)
}

// Save writes p to path in the format given by its extension.
func Save(p *plot.Plot, path string) error {
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

// glyphs returns the centroid of every row and its covariance axes in cell
// units of a rows x cols grid.
func glyphs(st *segstats.Stats, rows, cols int) (plotter.XYs, []plotter.XYs, error) {
	toCells := func(x, y float64) plotter.XY {
		return plotter.XY{X: x * float64(cols), Y: float64(rows) - y*float64(rows)}
	}

	centers := make(plotter.XYs, 0, st.Len())
	var axes []plotter.XYs
	for i := range st.Len() {
		c := st.Centers[i]
		if len(c) != 2 {
			return nil, nil, fmt.Errorf("segment %d has a %d-dimensional center", st.SegmentIDs[i], len(c))
		}
		center := toCells(c[0], c[1])
		centers = append(centers, center)

		var eig mat.EigenSym
		if !eig.Factorize(st.Covariances[i], true) {
			return nil, nil, fmt.Errorf("eigendecomposition of segment %d failed", st.SegmentIDs[i])
		}
		values := eig.Values(nil)
		var vectors mat.Dense
		eig.VectorsTo(&vectors)

		// Standard deviation axes in cell units, y pointing up.
		dirs := make([]plotter.XY, len(values))
		longest := 0.0
		for k, v := range values {
			sd := math.Sqrt(math.Max(v, 0))
			d := plotter.XY{
				X: vectors.At(0, k) * sd * float64(cols),
				Y: -vectors.At(1, k) * sd * float64(rows),
			}
			dirs[k] = d
			longest = math.Max(longest, math.Hypot(d.X, d.Y))
		}
		if longest == 0 {
			continue
		}
		scale := math.Sqrt(float64(st.Counts[i])) / longest
		for _, d := range dirs {
			half := plotter.XY{X: d.X * scale / 2, Y: d.Y * scale / 2}
			axes = append(axes, plotter.XYs{
				{X: center.X - half.X, Y: center.Y - half.Y},
				{X: center.X + half.X, Y: center.Y + half.Y},
			})
		}
	}
	return centers, axes, nil
}
