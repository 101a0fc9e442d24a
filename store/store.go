// Package store persists extraction results to a gocloud blob bucket.
//
// A saved result is laid out as
//
//	.zstats            manifest (JSON)
//	<i>.json           chunk i as a JSON record
//	<i>/segments ...   chunk i as little-endian binary arrays
//
// Binary arrays holding no values are not written and read back empty.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/TuSKan/segstats"
)

// FormatVersion is written to every manifest.
const FormatVersion = 1

const manifestKey = ".zstats"

// Manifest describes a saved result.
type Manifest struct {
	Format     int       `json:"format"`
	RunID      string    `json:"run_id"`
	Chunks     int       `json:"chunks"`
	Side       int       `json:"side"`
	Rank       int       `json:"rank"`
	Compressor string    `json:"compressor,omitempty"`
	JSON       bool      `json:"json"`
	Arrays     bool      `json:"arrays"`
	Created    time.Time `json:"created"`
}

type options struct {
	zstdLevel int
	json      bool
	arrays    bool
	logger    *slog.Logger
}

// Option configures Save.
type Option func(*options)

// WithZstd compresses the binary arrays at the given zstd level.
func WithZstd(level int) Option {
	return func(o *options) { o.zstdLevel = level }
}

// WithJSON toggles the per-chunk JSON records. Enabled by default.
func WithJSON(enabled bool) Option {
	return func(o *options) { o.json = enabled }
}

// WithArrays toggles the per-chunk binary arrays. Enabled by default.
func WithArrays(enabled bool) Option {
	return func(o *options) { o.arrays = enabled }
}

// WithLogger sets the logger used while saving.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Save writes res to the bucket at url, replacing any result saved there.
func Save(ctx context.Context, url string, res *segstats.Result, opts ...Option) (m *Manifest, err error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}
	defer func() {
		if cerr := bucket.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	return Write(ctx, bucket, res, opts...)
}

// Write is Save on an already open bucket.
func Write(ctx context.Context, bucket *blob.Bucket, res *segstats.Result, opts ...Option) (*Manifest, error) {
	o := options{
		json:   true,
		arrays: true,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.json && !o.arrays {
		return nil, errors.New("nothing to save: JSON records and binary arrays are both disabled")
	}

	if err := Clear(ctx, bucket); err != nil {
		return nil, err
	}

	m := &Manifest{
		Format:  FormatVersion,
		RunID:   uuid.NewString(),
		Chunks:  res.Len(),
		Side:    res.Side,
		Rank:    resultRank(res),
		JSON:    o.json,
		Arrays:  o.arrays,
		Created: time.Now().UTC(),
	}

	var encoder *zstd.Encoder
	if o.arrays && o.zstdLevel > 0 {
		var err error
		encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(o.zstdLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		defer encoder.Close()
		m.Compressor = "zstd"
	}

	for i := range res.Len() {
		st := res.Chunk(i)
		if o.json {
			var buf bytes.Buffer
			if err := json.MarshalWrite(&buf, recordOf(st)); err != nil {
				return nil, fmt.Errorf("failed to encode chunk %d: %w", i, err)
			}
			if err := bucket.WriteAll(ctx, jsonKey(i), buf.Bytes(), nil); err != nil {
				return nil, fmt.Errorf("failed to write %s: %w", jsonKey(i), err)
			}
		}
		if o.arrays {
			for name, data := range arraysOf(st) {
				if len(data) == 0 {
					continue
				}
				if encoder != nil {
					data = encoder.EncodeAll(data, nil)
				}
				if err := bucket.WriteAll(ctx, arrayKey(i, name), data, nil); err != nil {
					return nil, fmt.Errorf("failed to write %s: %w", arrayKey(i, name), err)
				}
			}
		}
		o.logger.Debug("saved chunk", "chunk", i, "segments", st.Len())
	}

	var buf bytes.Buffer
	if err := json.MarshalWrite(&buf, m); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := bucket.WriteAll(ctx, manifestKey, buf.Bytes(), nil); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	o.logger.Info("saved result", "run_id", m.RunID, "chunks", m.Chunks, "side", m.Side)
	return m, nil
}

// Clear deletes the manifest and every chunk record from the bucket. Other
// keys are left alone.
func Clear(ctx context.Context, bucket *blob.Bucket) error {
	var keys []string
	iter := bucket.List(nil)
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list bucket: %w", err)
		}
		if ownedKey(obj.Key) {
			keys = append(keys, obj.Key)
		}
	}
	for _, key := range keys {
		if err := bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

func ownedKey(key string) bool {
	if key == manifestKey {
		return true
	}
	head, _, nested := strings.Cut(key, "/")
	if !nested {
		var ok bool
		if head, ok = strings.CutSuffix(key, ".json"); !ok {
			return false
		}
	}
	_, err := strconv.Atoi(head)
	return err == nil
}

func jsonKey(i int) string {
	return strconv.Itoa(i) + ".json"
}

func arrayKey(i int, name string) string {
	return strconv.Itoa(i) + "/" + name
}

func resultRank(res *segstats.Result) int {
	for _, centers := range res.Centers {
		if len(centers) > 0 {
			return len(centers[0])
		}
	}
	return 0
}
