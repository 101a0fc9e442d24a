package segstats

import (
	"fmt"
	"slices"
)

// ChunkTree is the nested result of Split. A node at depth d holds the
// pieces of axis d in spatial order; nodes at depth Rank are leaves.
type ChunkTree struct {
	leaf     *Grid
	children []*ChunkTree
}

// IsLeaf reports whether the node holds a grid rather than children.
func (t *ChunkTree) IsLeaf() bool { return t.leaf != nil }

// Leaf returns the grid of a leaf node, or nil.
func (t *ChunkTree) Leaf() *Grid { return t.leaf }

// Children returns the pieces of this node in order along its axis.
func (t *ChunkTree) Children() []*ChunkTree { return t.children }

// Depth is the number of levels below this node.
func (t *ChunkTree) Depth() int {
	if t.IsLeaf() {
		return 0
	}
	return 1 + t.children[0].Depth()
}

// Flatten returns the leaves in row-major chunk order (last axis fastest).
func (t *ChunkTree) Flatten() []*Grid {
	if t.IsLeaf() {
		return []*Grid{t.leaf}
	}
	var out []*Grid
	for _, c := range t.children {
		out = append(out, c.Flatten()...)
	}
	return out
}

// Partition wraps the flattened leaves as a Partition source.
func (t *ChunkTree) Partition() Partition {
	return PartitionOfGrids(t.Flatten()...)
}

// Split partitions g into chunks equal pieces along every axis, axis 0
// first. Every axis extent must be divisible by chunks.
func Split(g *Grid, chunks int) (*ChunkTree, error) {
	if g == nil {
		return nil, newShapeError("split", nil, chunks, "nil grid")
	}
	if chunks < 1 {
		return nil, newShapeError("split", g.shape, chunks, "chunk count must be at least 1")
	}
	for axis, dim := range g.shape {
		if dim%chunks != 0 {
			return nil, newShapeError("split", g.shape, chunks, fmt.Sprintf("axis %d with extent %d is not divisible", axis, dim))
		}
	}
	return splitAxis(g, chunks, 0)
}

func splitAxis(g *Grid, chunks, axis int) (*ChunkTree, error) {
	if axis == g.Rank() {
		return &ChunkTree{leaf: g}, nil
	}
	step := g.shape[axis] / chunks
	node := &ChunkTree{children: make([]*ChunkTree, 0, chunks)}
	for i := 0; i < chunks; i++ {
		piece, err := g.Slice(axis, i*step, (i+1)*step)
		if err != nil {
			return nil, fmt.Errorf("split axis %d piece %d: %w", axis, i, err)
		}
		child, err := splitAxis(piece, chunks, axis+1)
		if err != nil {
			return nil, err
		}
		node.children = append(node.children, child)
	}
	return node, nil
}

// Chunks splits g and flattens the result.
func Chunks(g *Grid, chunks int) ([]*Grid, error) {
	tree, err := Split(g, chunks)
	if err != nil {
		return nil, err
	}
	return tree.Flatten(), nil
}

// Join reassembles the flattened leaves of a uniform side^rank partition
// into a single grid. All leaves must share one shape.
func Join(leaves []*Grid) (*Grid, error) {
	if len(leaves) == 0 {
		return nil, newShapeError("join", nil, 0, "no chunks")
	}
	chunkShape := leaves[0].shape
	rank := len(chunkShape)
	side, ok := intRoot(len(leaves), rank)
	if !ok {
		return nil, newShapeError("join", chunkShape, len(leaves), fmt.Sprintf("chunk count is not a perfect power of rank %d", rank))
	}

	shape := make([]int, rank)
	for i, d := range chunkShape {
		shape[i] = d * side
	}
	out := newGrid(shape, make([]Label, product(shape)))

	for i, leaf := range leaves {
		if !slices.Equal(leaf.shape, chunkShape) {
			return nil, newShapeError("join", leaf.shape, len(leaves), fmt.Sprintf("chunk %d differs from chunk 0 shape %v", i, chunkShape))
		}
		pos := ChunkPosition(i, side, rank)
		dstOffset := make([]int, rank)
		for axis, p := range pos {
			dstOffset[axis] = p * chunkShape[axis]
		}
		copyND(out.data, out.strides, dstOffset, leaf.data, leaf.strides, make([]int, rank), chunkShape)
	}
	return out, nil
}
