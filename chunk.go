package segstats

import (
	"strconv"
	"strings"
)

// GridShape calculates the number of chunks in each dimension.
// For each dimension i, the number of chunks is ceil(shape[i] / chunks[i]).
func GridShape(shape, chunks []int) []int {
	if len(shape) == 0 || len(chunks) == 0 {
		return []int{}
	}
	grid := make([]int, len(shape))
	for i := range shape {
		grid[i] = (shape[i] + chunks[i] - 1) / chunks[i]
	}
	return grid
}

// ChunkKey generates the key for a chunk given its indices and a separator.
// Example: indices=[1, 4], separator="." -> "1.4"
// For empty indices it returns "0".
func ChunkKey(indices []int, separator string) string {
	if len(indices) == 0 {
		return "0"
	}

	if len(indices) == 1 {
		return strconv.Itoa(indices[0])
	}

	var sb strings.Builder
	for i, idx := range indices {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}

// ChunkPosition maps a flattened chunk index back to its position in a
// uniform side^rank chunk grid, in storage-axis order. The last axis varies
// fastest, so for rank 2 the result is (i / side, i % side).
func ChunkPosition(i, side, rank int) []int {
	pos := make([]int, rank)
	for axis := rank - 1; axis >= 0; axis-- {
		pos[axis] = i % side
		i /= side
	}
	return pos
}

// intRoot returns r such that r^k == n, if one exists.
func intRoot(n, k int) (int, bool) {
	if n < 1 || k < 1 {
		return 0, false
	}
	for r := 1; ; r++ {
		p := 1
		for j := 0; j < k && p <= n; j++ {
			p *= r
		}
		switch {
		case p == n:
			return r, true
		case p > n:
			return 0, false
		}
	}
}
