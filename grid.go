// Package segstats computes count, centroid and covariance of labeled
// segments in N-dimensional grids, either on a whole grid or on a uniform
// chunk partition whose centroids are mapped back into the parent frame.
package segstats

import (
	"fmt"
	"slices"
)

// Label identifies a segment. Zero is background.
type Label = uint32

// Grid is an immutable N-dimensional labeled array stored in C order.
type Grid struct {
	shape   []int
	strides []int
	data    []Label
}

// NewGrid validates shape against data and returns a grid holding a copy of data.
func NewGrid(shape []int, data []Label) (*Grid, error) {
	if len(shape) == 0 {
		return nil, newShapeError("grid", shape, 0, "rank must be at least 1")
	}
	total := 1
	for i, dim := range shape {
		if dim < 1 {
			return nil, newShapeError("grid", shape, 0, fmt.Sprintf("extent of axis %d must be positive", i))
		}
		total *= dim
	}
	if len(data) != total {
		return nil, newShapeError("grid", shape, 0, fmt.Sprintf("data has %d cells, shape needs %d", len(data), total))
	}
	return newGrid(slices.Clone(shape), slices.Clone(data)), nil
}

// newGrid takes ownership of shape and data.
func newGrid(shape []int, data []Label) *Grid {
	return &Grid{shape: shape, strides: Strides(shape), data: data}
}

// Strides computes the C-order strides for a given shape.
func Strides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}
	s := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= shape[i]
	}
	return s
}

// Shape returns a copy of the grid extents.
func (g *Grid) Shape() []int { return slices.Clone(g.shape) }

// Rank is the number of axes.
func (g *Grid) Rank() int { return len(g.shape) }

// Len is the number of cells.
func (g *Grid) Len() int { return len(g.data) }

// Data returns a copy of the cells in C order.
func (g *Grid) Data() []Label { return slices.Clone(g.data) }

// At returns the label at the given multi-index. It panics if the index
// does not match the grid rank or is out of bounds.
func (g *Grid) At(idx ...int) Label {
	if len(idx) != len(g.shape) {
		panic(fmt.Sprintf("segstats: index rank %d does not match grid rank %d", len(idx), len(g.shape)))
	}
	flat := 0
	for i, v := range idx {
		if v < 0 || v >= g.shape[i] {
			panic(fmt.Sprintf("segstats: index %d out of range for axis %d with extent %d", v, i, g.shape[i]))
		}
		flat += v * g.strides[i]
	}
	return g.data[flat]
}

// Max returns the largest label in the grid.
func (g *Grid) Max() Label {
	var m Label
	for _, v := range g.data {
		if v > m {
			m = v
		}
	}
	return m
}

// Slice returns the cells in [start, end) along axis as a new grid.
func (g *Grid) Slice(axis, start, end int) (*Grid, error) {
	if axis < 0 || axis >= len(g.shape) {
		return nil, newShapeError("slice", g.shape, 0, fmt.Sprintf("axis %d out of range", axis))
	}
	if start < 0 || end > g.shape[axis] || start >= end {
		return nil, newShapeError("slice", g.shape, 0, fmt.Sprintf("range [%d, %d) invalid for axis %d", start, end, axis))
	}

	shape := slices.Clone(g.shape)
	shape[axis] = end - start
	srcOffset := make([]int, len(shape))
	srcOffset[axis] = start

	out := newGrid(shape, make([]Label, product(shape)))
	copyND(out.data, out.strides, make([]int, len(shape)), g.data, g.strides, srcOffset, shape)
	return out, nil
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// copyND recursively copies an n-dimensional block from src to dst.
func copyND(
	dst []Label, dstStrides, dstOffset []int,
	src []Label, srcStrides, srcOffset []int,
	copyShape []int,
) {
	startSrcIdx := 0
	startDstIdx := 0
	for i := range copyShape {
		startSrcIdx += srcOffset[i] * srcStrides[i]
		startDstIdx += dstOffset[i] * dstStrides[i]
	}

	var iterate func(dim int, currentSrcIdx, currentDstIdx int)
	iterate = func(dim int, currentSrcIdx, currentDstIdx int) {
		// Bulk copy for the innermost contiguous dimension.
		if dim == len(copyShape)-1 {
			n := copyShape[dim]
			if srcStrides[dim] == 1 && dstStrides[dim] == 1 {
				copy(dst[currentDstIdx:currentDstIdx+n], src[currentSrcIdx:currentSrcIdx+n])
				return
			}
			for i := 0; i < n; i++ {
				dst[currentDstIdx+i*dstStrides[dim]] = src[currentSrcIdx+i*srcStrides[dim]]
			}
			return
		}

		for i := 0; i < copyShape[dim]; i++ {
			iterate(dim+1, currentSrcIdx+i*srcStrides[dim], currentDstIdx+i*dstStrides[dim])
		}
	}
	iterate(0, startSrcIdx, startDstIdx)
}
