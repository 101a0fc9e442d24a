package segstats

// AxisSamples returns the normalized coordinates of the n cells along an
// axis. Cell i sits at its center (i + 0.5) / n.
func AxisSamples(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = axisSample(i, n)
	}
	return out
}

// CoordinateOrder converts a per-axis vector from storage order into
// coordinate order: the first stored axis becomes the last component.
// Cell coordinates and chunk offsets both use it. dst is reused when it has
// room.
func CoordinateOrder[T any](dst, storage []T) []T {
	n := len(storage)
	if cap(dst) < n {
		dst = make([]T, n)
	}
	dst = dst[:n]
	for k := 0; k < n; k++ {
		dst[k] = storage[n-1-k]
	}
	return dst
}

// CellCoordinate returns the normalized coordinate of the cell at index in a
// grid of the given shape.
func CellCoordinate(shape, index []int, dst []float64) []float64 {
	samples := make([]float64, len(shape))
	for axis, i := range index {
		samples[axis] = axisSample(i, shape[axis])
	}
	return CoordinateOrder(dst, samples)
}

// ChunkOffset returns the additive offset of a chunk at position (given in
// storage-axis order) before the division by side length.
func ChunkOffset(position []int) []float64 {
	offset := make([]float64, len(position))
	for i, p := range position {
		offset[i] = float64(p)
	}
	return CoordinateOrder(nil, offset)
}

func axisSample(i, n int) float64 {
	return (float64(i) + 0.5) / float64(n)
}
