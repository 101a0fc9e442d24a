package zarr

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/TuSKan/segstats"
)

// Reader reads a labeled grid from a Zarr V2 array.
type Reader struct {
	bucket   *blob.Bucket
	meta     *Metadata
	itemSize int
}

// NewReader opens the array at the given bucket URL. The caller must import
// the gocloud driver for the URL scheme (for example gocloud.dev/blob/fileblob).
func NewReader(ctx context.Context, path string) (*Reader, error) {
	bucket, err := blob.OpenBucket(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	r, err := newReader(ctx, bucket)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	return r, nil
}

func newReader(ctx context.Context, bucket *blob.Bucket) (*Reader, error) {
	reader, err := bucket.NewReader(ctx, ".zarray", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open .zarray: %w", err)
	}
	defer reader.Close()

	meta, err := LoadMetadata(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}
	if len(meta.Shape) == 0 {
		return nil, fmt.Errorf("0D arrays cannot hold a labeled grid")
	}
	if f, ok := meta.FillValue.(float64); ok && f != 0 {
		return nil, fmt.Errorf("unsupported fill_value %v, labeled grids use 0", f)
	}
	_, itemSize, err := ParseDType(meta.DType)
	if err != nil {
		return nil, fmt.Errorf("invalid dtype: %w", err)
	}

	return &Reader{
		bucket:   bucket,
		meta:     meta,
		itemSize: itemSize,
	}, nil
}

// ReadFull reads the entire array into a flat byte slice in C order.
func (r *Reader) ReadFull(ctx context.Context) ([]byte, error) {
	buffer := make([]byte, product(r.meta.Shape)*r.itemSize)

	grid := segstats.GridShape(r.meta.Shape, r.meta.Chunks)
	globalStrides := segstats.Strides(r.meta.Shape)
	chunkStrides := segstats.Strides(r.meta.Chunks)

	err := iterateSubGrid(make([]int, len(grid)), grid, func(coords []int) error {
		return r.processChunk(ctx, coords, buffer, globalStrides, chunkStrides)
	})
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// ReadGrid reads the entire array as a labeled grid.
func (r *Reader) ReadGrid(ctx context.Context) (*segstats.Grid, error) {
	raw, err := r.ReadFull(ctx)
	if err != nil {
		return nil, err
	}
	return r.toGrid(raw, r.meta.Shape)
}

// ReadGridRegion reads the region [start, start+shape) as a labeled grid.
func (r *Reader) ReadGridRegion(ctx context.Context, start, shape []int) (*segstats.Grid, error) {
	raw, err := r.ReadRegion(ctx, start, shape)
	if err != nil {
		return nil, err
	}
	return r.toGrid(raw, shape)
}

// ReadPartition reads every stored chunk as its own grid and returns them
// as a partition in row-major chunk order. The array must be split into the
// same number of whole chunks along every axis.
func (r *Reader) ReadPartition(ctx context.Context) (segstats.Partition, error) {
	grid := segstats.GridShape(r.meta.Shape, r.meta.Chunks)
	for i := range grid {
		if r.meta.Shape[i]%r.meta.Chunks[i] != 0 || grid[i] != grid[0] {
			return segstats.Partition{}, fmt.Errorf("chunk grid %v of shape %v is not a uniform partition: %w", grid, r.meta.Shape, segstats.ErrShape)
		}
	}

	var leaves []*segstats.Grid
	err := iterateSubGrid(make([]int, len(grid)), grid, func(coords []int) error {
		raw, err := r.ReadChunk(ctx, coords)
		if err != nil {
			return err
		}
		g, err := r.toGrid(raw, r.meta.Chunks)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", segstats.ChunkKey(coords, "."), err)
		}
		leaves = append(leaves, g)
		return nil
	})
	if err != nil {
		return segstats.Partition{}, err
	}
	return segstats.PartitionOfGrids(leaves...), nil
}

func (r *Reader) toGrid(raw []byte, shape []int) (*segstats.Grid, error) {
	labels, err := decodeLabels(raw, r.meta.DType)
	if err != nil {
		return nil, fmt.Errorf("failed to decode labels: %w", err)
	}
	return segstats.NewGrid(shape, labels)
}

// ReadChunk reads a single chunk given its coordinates. A missing chunk
// reads as zeros.
func (r *Reader) ReadChunk(ctx context.Context, coords []int) ([]byte, error) {
	key := segstats.ChunkKey(coords, ".")

	reader, err := r.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return make([]byte, product(r.meta.Chunks)*r.itemSize), nil
		}
		return nil, fmt.Errorf("failed to open chunk %s: %w", key, err)
	}
	defer reader.Close()

	chunkData, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk %s: %w", key, err)
	}

	chunkData, err = decompress(r.meta.Compressor, chunkData)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress chunk %s: %w", key, err)
	}
	return chunkData, nil
}

func (r *Reader) processChunk(ctx context.Context, chunkCoords []int, globalBuffer []byte, globalStrides, chunkStrides []int) error {
	chunkData, err := r.ReadChunk(ctx, chunkCoords)
	if err != nil {
		return err
	}

	// Bounds of this chunk within the global array; edge chunks are padded.
	chunkStartGlobal := make([]int, len(r.meta.Shape))
	chunkShape := make([]int, len(r.meta.Shape))
	for i, coord := range chunkCoords {
		chunkStartGlobal[i] = coord * r.meta.Chunks[i]
		endGlobal := min(chunkStartGlobal[i]+r.meta.Chunks[i], r.meta.Shape[i])
		chunkShape[i] = endGlobal - chunkStartGlobal[i]
	}

	if len(chunkData) < product(r.meta.Chunks)*r.itemSize {
		return fmt.Errorf("chunk %s holds %d bytes, expected %d", segstats.ChunkKey(chunkCoords, "."), len(chunkData), product(r.meta.Chunks)*r.itemSize)
	}
	copyND(globalBuffer, globalStrides, chunkStartGlobal, chunkData, chunkStrides, make([]int, len(chunkShape)), chunkShape, r.itemSize)
	return nil
}

// ReadRegion reads an N-dimensional region of the array.
func (r *Reader) ReadRegion(ctx context.Context, start, shape []int) ([]byte, error) {
	if len(start) != len(r.meta.Shape) || len(shape) != len(r.meta.Shape) {
		return nil, fmt.Errorf("start and shape must match array dimensionality")
	}

	for i := range r.meta.Shape {
		if start[i] < 0 || shape[i] <= 0 || start[i]+shape[i] > r.meta.Shape[i] {
			return nil, fmt.Errorf("region out of bounds at dimension %d", i)
		}
	}

	out := make([]byte, product(shape)*r.itemSize)

	minChunk := make([]int, len(start))
	maxChunk := make([]int, len(start))
	for i := range start {
		minChunk[i] = start[i] / r.meta.Chunks[i]
		maxChunk[i] = (start[i]+shape[i]-1)/r.meta.Chunks[i] + 1
	}

	dstStrides := segstats.Strides(shape)
	chunkStrides := segstats.Strides(r.meta.Chunks)

	err := iterateSubGrid(minChunk, maxChunk, func(chunkCoords []int) error {
		chunkData, err := r.ReadChunk(ctx, chunkCoords)
		if err != nil {
			return err
		}

		copyShape := make([]int, len(r.meta.Shape))
		srcOffset := make([]int, len(r.meta.Shape))
		dstOffset := make([]int, len(r.meta.Shape))

		for i := range r.meta.Shape {
			chunkStartGlobal := chunkCoords[i] * r.meta.Chunks[i]
			chunkEndGlobal := min(chunkStartGlobal+r.meta.Chunks[i], r.meta.Shape[i])

			intersectStart := max(chunkStartGlobal, start[i])
			intersectEnd := min(chunkEndGlobal, start[i]+shape[i])
			if intersectStart >= intersectEnd {
				return nil
			}

			copyShape[i] = intersectEnd - intersectStart
			srcOffset[i] = intersectStart - chunkStartGlobal
			dstOffset[i] = intersectStart - start[i]
		}

		copyND(out, dstStrides, dstOffset, chunkData, chunkStrides, srcOffset, copyShape, r.itemSize)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// iterateSubGrid iterates from start (inclusive) to end (exclusive) in each
// dimension, last dimension fastest.
func iterateSubGrid(start, end []int, fn func(indices []int) error) error {
	if len(start) == 0 {
		return fn([]int{})
	}
	for i := range start {
		if start[i] >= end[i] {
			return nil
		}
	}
	indices := make([]int, len(start))
	copy(indices, start)

	for {
		if err := fn(indices); err != nil {
			return err
		}

		i := len(start) - 1
		for ; i >= 0; i-- {
			indices[i]++
			if indices[i] < end[i] {
				break
			}
			indices[i] = start[i]
		}
		if i < 0 {
			break
		}
	}
	return nil
}

// copyND recursively copies n-dimensional data from src to dst.
func copyND(
	dst []byte, dstStrides, dstOffset []int,
	src []byte, srcStrides, srcOffset []int,
	copyShape []int, itemSize int,
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
				byteLen := n * itemSize
				srcStart := currentSrcIdx * itemSize
				dstStart := currentDstIdx * itemSize
				copy(dst[dstStart:dstStart+byteLen], src[srcStart:srcStart+byteLen])
				return
			}
			for i := 0; i < n; i++ {
				srcStart := (currentSrcIdx + i*srcStrides[dim]) * itemSize
				dstStart := (currentDstIdx + i*dstStrides[dim]) * itemSize
				copy(dst[dstStart:dstStart+itemSize], src[srcStart:srcStart+itemSize])
			}
			return
		}

		for i := 0; i < copyShape[dim]; i++ {
			iterate(dim+1, currentSrcIdx+i*srcStrides[dim], currentDstIdx+i*dstStrides[dim])
		}
	}
	iterate(0, startSrcIdx, startDstIdx)
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Metadata returns the parsed .zarray content.
func (r *Reader) Metadata() *Metadata {
	return r.meta
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.bucket.Close()
}
