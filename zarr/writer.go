package zarr

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/go-json-experiment/json"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/TuSKan/segstats"
)

// WriteOptions controls how WriteGrid lays out an array.
type WriteOptions struct {
	// Chunks is the chunk shape. Empty means a single chunk.
	Chunks []int
	// DType defaults to "<u4".
	DType string
	// Compressor is nil for raw chunks.
	Compressor *CompressorConfig
}

// WriteGrid stores g as a Zarr V2 array at the given bucket URL. Chunks
// holding only background are not written, and any existing object under
// their key is deleted.
func WriteGrid(ctx context.Context, path string, g *segstats.Grid, opts WriteOptions) (err error) {
	bucket, err := blob.OpenBucket(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open bucket: %w", err)
	}
	defer func() {
		if cerr := bucket.Close(); err == nil {
			err = cerr
		}
	}()
	return writeGrid(ctx, bucket, g, opts)
}

func writeGrid(ctx context.Context, bucket *blob.Bucket, g *segstats.Grid, opts WriteOptions) error {
	shape := g.Shape()
	meta := &Metadata{
		ZarrFormat: 2,
		Shape:      shape,
		Chunks:     slices.Clone(opts.Chunks),
		DType:      opts.DType,
		Compressor: opts.Compressor,
		FillValue:  0,
		Order:      "C",
	}
	if len(meta.Chunks) == 0 {
		meta.Chunks = shape
	}
	if meta.DType == "" {
		meta.DType = "<u4"
	}
	if len(meta.Chunks) != len(shape) {
		return fmt.Errorf("chunks %v do not match grid rank %d", meta.Chunks, len(shape))
	}
	for i, c := range meta.Chunks {
		if c < 1 {
			return fmt.Errorf("chunk extent %d of axis %d must be positive", c, i)
		}
	}
	_, itemSize, err := ParseDType(meta.DType)
	if err != nil {
		return fmt.Errorf("invalid dtype: %w", err)
	}

	raw, err := encodeLabels(g.Data(), meta.DType)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := json.MarshalWrite(&buf, meta, json.FormatNilSliceAsNull(true)); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := bucket.WriteAll(ctx, ".zarray", buf.Bytes(), nil); err != nil {
		return fmt.Errorf("failed to write .zarray: %w", err)
	}

	globalStrides := segstats.Strides(shape)
	chunkStrides := segstats.Strides(meta.Chunks)
	grid := segstats.GridShape(shape, meta.Chunks)

	return iterateSubGrid(make([]int, len(grid)), grid, func(coords []int) error {
		chunkStart := make([]int, len(shape))
		copyShape := make([]int, len(shape))
		for i, c := range coords {
			chunkStart[i] = c * meta.Chunks[i]
			copyShape[i] = min(chunkStart[i]+meta.Chunks[i], shape[i]) - chunkStart[i]
		}

		chunk := make([]byte, product(meta.Chunks)*itemSize)
		copyND(chunk, chunkStrides, make([]int, len(shape)), raw, globalStrides, chunkStart, copyShape, itemSize)
		key := segstats.ChunkKey(coords, ".")
		if isZero(chunk) {
			if err := bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
				return fmt.Errorf("failed to delete chunk %s: %w", key, err)
			}
			return nil
		}

		data, err := compress(meta.Compressor, chunk)
		if err != nil {
			return err
		}
		if err := bucket.WriteAll(ctx, key, data, nil); err != nil {
			return fmt.Errorf("failed to write chunk %s: %w", key, err)
		}
		return nil
	})
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
