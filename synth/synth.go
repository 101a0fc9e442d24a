// Package synth generates labeled grids for demos, benchmarks and tests.
package synth

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/TuSKan/segstats"
)

// Config describes a square grid of overlapping discs.
type Config struct {
	Size     int
	Segments int
	// Radius is normalized to the [0,1] extent of the grid.
	Radius float64
	Seed   uint64
}

// DefaultConfig returns a 1000x1000 grid with five discs of radius 0.2.
func DefaultConfig() Config {
	return Config{
		Size:     1000,
		Segments: 5,
		Radius:   0.2,
		Seed:     1,
	}
}

// Validate reports whether cfg describes a grid that can be generated.
func (cfg Config) Validate() error {
	if cfg.Size < 1 {
		return fmt.Errorf("size must be positive, got %d", cfg.Size)
	}
	if cfg.Segments < 0 {
		return fmt.Errorf("segments must not be negative, got %d", cfg.Segments)
	}
	if cfg.Radius <= 0 || cfg.Radius > 0.5 {
		return fmt.Errorf("radius must be in (0, 0.5], got %v", cfg.Radius)
	}
	return nil
}

// Segmentation draws cfg.Segments discs labeled 1..Segments onto a
// Size x Size grid. Disc centers are uniform in [Radius, 1-Radius] on both
// axes and later discs overwrite earlier ones. A cell belongs to a disc when
// its coordinate lies strictly inside the radius.
func Segmentation(cfg Config) (*segstats.Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	src := rand.NewPCG(cfg.Seed, cfg.Seed)
	centers := distuv.Uniform{Min: cfg.Radius, Max: 1 - cfg.Radius, Src: src}

	shape := []int{cfg.Size, cfg.Size}
	data := make([]segstats.Label, cfg.Size*cfg.Size)
	axis := segstats.AxisSamples(cfg.Size)
	r2 := cfg.Radius * cfg.Radius

	for label := 1; label <= cfg.Segments; label++ {
		cx, cy := centers.Rand(), centers.Rand()
		for row, y := range axis {
			dy := y - cy
			if dy*dy >= r2 {
				continue
			}
			for col, x := range axis {
				dx := x - cx
				if dx*dx+dy*dy < r2 {
					data[row*cfg.Size+col] = segstats.Label(label)
				}
			}
		}
	}
	return segstats.NewGrid(shape, data)
}
