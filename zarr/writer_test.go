package zarr_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TuSKan/segstats"
	"github.com/TuSKan/segstats/zarr"
)

func TestWriteGrid_RoundTrip(t *testing.T) {
	data := make([]segstats.Label, 5*7)
	for i := range data {
		if i%3 != 0 {
			data[i] = segstats.Label(i % 11)
		}
	}
	g, err := segstats.NewGrid([]int{5, 7}, data)
	require.NoError(t, err)

	compressors := map[string]*zarr.CompressorConfig{
		"raw":  nil,
		"zstd": {ID: "zstd", Level: 3},
		"zlib": {ID: "zlib"},
		"gzip": {ID: "gzip", Level: 9},
	}
	for name, compressor := range compressors {
		for _, dtype := range []string{"|u1", "<u2", "<i4", "<u8"} {
			t.Run(name+dtype, func(t *testing.T) {
				tempDir := t.TempDir()
				ctx := context.Background()

				err := zarr.WriteGrid(ctx, bucketURL(tempDir), g, zarr.WriteOptions{
					Chunks:     []int{2, 3},
					DType:      dtype,
					Compressor: compressor,
				})
				require.NoError(t, err)

				reader, err := zarr.NewReader(ctx, bucketURL(tempDir))
				require.NoError(t, err)
				defer reader.Close()

				require.Equal(t, []int{2, 3}, reader.Metadata().Chunks)
				require.Equal(t, dtype, reader.Metadata().DType)

				back, err := reader.ReadGrid(ctx)
				require.NoError(t, err)
				require.Equal(t, g.Shape(), back.Shape())
				require.Equal(t, g.Data(), back.Data())
			})
		}
	}
}

func TestWriteGrid_SkipsBackgroundChunks(t *testing.T) {
	g, err := segstats.NewGrid([]int{2, 4}, []segstats.Label{
		0, 0, 4, 4,
		0, 0, 4, 0,
	})
	require.NoError(t, err)

	tempDir := t.TempDir()
	require.NoError(t, zarr.WriteGrid(context.Background(), bucketURL(tempDir), g, zarr.WriteOptions{Chunks: []int{2, 2}}))

	_, err = os.Stat(filepath.Join(tempDir, "0.0"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(tempDir, "0.1"))
	require.NoError(t, err)
}

func TestWriteGrid_OverwriteClearsBackgroundChunks(t *testing.T) {
	ctx := context.Background()
	url := bucketURL(t.TempDir())
	opts := zarr.WriteOptions{Chunks: []int{2, 2}}

	full := make([]segstats.Label, 16)
	for i := range full {
		full[i] = 7
	}
	g, err := segstats.NewGrid([]int{4, 4}, full)
	require.NoError(t, err)
	require.NoError(t, zarr.WriteGrid(ctx, url, g, opts))

	half := make([]segstats.Label, 16)
	copy(half[8:], full[8:])
	g, err = segstats.NewGrid([]int{4, 4}, half)
	require.NoError(t, err)
	require.NoError(t, zarr.WriteGrid(ctx, url, g, opts))

	reader, err := zarr.NewReader(ctx, url)
	require.NoError(t, err)
	defer reader.Close()
	back, err := reader.ReadGrid(ctx)
	require.NoError(t, err)
	require.Equal(t, half, back.Data())
}

func TestWriteGrid_Errors(t *testing.T) {
	g, err := segstats.NewGrid([]int{2}, []segstats.Label{300, 1})
	require.NoError(t, err)
	ctx := context.Background()

	err = zarr.WriteGrid(ctx, bucketURL(t.TempDir()), g, zarr.WriteOptions{DType: "|u1"})
	require.ErrorContains(t, err, "does not fit")

	err = zarr.WriteGrid(ctx, bucketURL(t.TempDir()), g, zarr.WriteOptions{Chunks: []int{1, 1}})
	require.Error(t, err)

	err = zarr.WriteGrid(ctx, bucketURL(t.TempDir()), g, zarr.WriteOptions{Compressor: &zarr.CompressorConfig{ID: "lz4"}})
	require.ErrorContains(t, err, "unsupported compressor")
}
