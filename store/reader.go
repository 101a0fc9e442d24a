package store

import (
	"context"
	"fmt"

	"github.com/go-json-experiment/json"
	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/TuSKan/segstats"
)

// Reader loads a result written by Save.
type Reader struct {
	bucket  *blob.Bucket
	owned   bool
	meta    *Manifest
	decoder *zstd.Decoder
}

// Open opens the result saved at the given bucket URL.
func Open(ctx context.Context, url string) (*Reader, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}
	r, err := NewReader(ctx, bucket)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	r.owned = true
	return r, nil
}

// NewReader reads the manifest from an already open bucket. Closing the
// Reader does not close the bucket.
func NewReader(ctx context.Context, bucket *blob.Bucket) (*Reader, error) {
	rd, err := bucket.NewReader(ctx, manifestKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer rd.Close()

	var m Manifest
	if err := json.UnmarshalRead(rd, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Format != FormatVersion {
		return nil, fmt.Errorf("unsupported format %d", m.Format)
	}

	r := &Reader{bucket: bucket, meta: &m}
	switch m.Compressor {
	case "":
	case "zstd":
		r.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported compressor: %s", m.Compressor)
	}
	return r, nil
}

// Manifest returns the manifest of the saved result.
func (r *Reader) Manifest() *Manifest {
	return r.meta
}

// LoadChunk reads chunk i from its binary arrays.
func (r *Reader) LoadChunk(ctx context.Context, i int) (*segstats.Stats, error) {
	if err := r.checkChunk(i); err != nil {
		return nil, err
	}
	if !r.meta.Arrays {
		return nil, fmt.Errorf("result %s was saved without binary arrays", r.meta.RunID)
	}

	arrays := make(map[string][]byte)
	for _, name := range []string{keySegments, keyCounts, keyCenters, keyCovs, keyExcluded} {
		data, err := r.bucket.ReadAll(ctx, arrayKey(i, name))
		if gcerrors.Code(err) == gcerrors.NotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", arrayKey(i, name), err)
		}
		if r.decoder != nil {
			data, err = r.decoder.DecodeAll(data, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress %s: %w", arrayKey(i, name), err)
			}
		}
		arrays[name] = data
	}

	st, err := statsOf(arrays, r.meta.Rank)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", i, err)
	}
	return st, nil
}

// LoadChunkJSON reads chunk i from its JSON record.
func (r *Reader) LoadChunkJSON(ctx context.Context, i int) (*segstats.Stats, error) {
	if err := r.checkChunk(i); err != nil {
		return nil, err
	}
	if !r.meta.JSON {
		return nil, fmt.Errorf("result %s was saved without JSON records", r.meta.RunID)
	}

	rd, err := r.bucket.NewReader(ctx, jsonKey(i), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", jsonKey(i), err)
	}
	defer rd.Close()

	var rec Record
	if err := json.UnmarshalRead(rd, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", jsonKey(i), err)
	}
	st, err := rec.stats(r.meta.Rank)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", i, err)
	}
	return st, nil
}

// Load reads every chunk, preferring the binary arrays when present.
func (r *Reader) Load(ctx context.Context) (*segstats.Result, error) {
	load := r.LoadChunk
	if !r.meta.Arrays {
		load = r.LoadChunkJSON
	}
	chunks := make([]*segstats.Stats, r.meta.Chunks)
	for i := range chunks {
		st, err := load(ctx, i)
		if err != nil {
			return nil, err
		}
		chunks[i] = st
	}
	return segstats.NewResult(r.meta.Side, chunks...), nil
}

// Close releases the reader, closing the bucket if Open created it.
func (r *Reader) Close() error {
	if r.decoder != nil {
		r.decoder.Close()
	}
	if r.owned {
		return r.bucket.Close()
	}
	return nil
}

func (r *Reader) checkChunk(i int) error {
	if i < 0 || i >= r.meta.Chunks {
		return fmt.Errorf("chunk %d out of range [0, %d)", i, r.meta.Chunks)
	}
	return nil
}
