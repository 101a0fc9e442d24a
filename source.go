package segstats

import (
	"fmt"
	"slices"
)

// Source is the input of Extract: either a Leaf holding one grid or a
// Partition holding the flattened chunks of a larger grid.
type Source interface {
	isSource()
}

// Leaf is a single labeled grid.
type Leaf struct {
	Grid *Grid
}

// Partition is a uniform side^rank chunking of a parent grid, flattened in
// row-major chunk order. Children may themselves be partitions.
type Partition struct {
	Sources []Source
}

func (Leaf) isSource()      {}
func (Partition) isSource() {}

// LeafOf wraps a grid.
func LeafOf(g *Grid) Leaf { return Leaf{Grid: g} }

// PartitionOf wraps an ordered list of chunk sources.
func PartitionOf(sources ...Source) Partition { return Partition{Sources: sources} }

// PartitionOfGrids wraps flattened chunk grids, as returned by Chunks.
func PartitionOfGrids(grids ...*Grid) Partition {
	sources := make([]Source, len(grids))
	for i, g := range grids {
		sources[i] = LeafOf(g)
	}
	return Partition{Sources: sources}
}

// sourceShape returns the shape of the grid src covers. Every chunk of a
// partition must cover the same shape, since centers are remapped as if the
// chunks tile their parent evenly.
func sourceShape(src Source) ([]int, error) {
	switch s := src.(type) {
	case Leaf:
		if s.Grid == nil {
			return nil, newShapeError("extract", nil, 0, "nil grid")
		}
		return s.Grid.Shape(), nil
	case Partition:
		n := len(s.Sources)
		if n == 0 {
			return nil, newShapeError("extract", nil, 0, "empty partition")
		}
		var chunk []int
		for i, child := range s.Sources {
			shape, err := sourceShape(child)
			if err != nil {
				return nil, err
			}
			switch {
			case chunk == nil:
				chunk = shape
			case len(shape) != len(chunk):
				return nil, newShapeError("extract", shape, n, fmt.Sprintf("chunk %d has rank %d, expected %d", i, len(shape), len(chunk)))
			case !slices.Equal(shape, chunk):
				return nil, newShapeError("extract", shape, n, fmt.Sprintf("chunk %d differs from chunk 0 shape %v", i, chunk))
			}
		}
		side, ok := intRoot(n, len(chunk))
		if !ok {
			return nil, newShapeError("extract", chunk, n, fmt.Sprintf("chunk count is not a perfect power of rank %d", len(chunk)))
		}
		shape := make([]int, len(chunk))
		for i, d := range chunk {
			shape[i] = d * side
		}
		return shape, nil
	default:
		return nil, fmt.Errorf("segstats: unsupported source type %T", src)
	}
}
