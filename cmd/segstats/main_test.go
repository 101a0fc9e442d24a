package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TuSKan/segstats/internal/config"
	"github.com/TuSKan/segstats/store"
	"github.com/TuSKan/segstats/synth"
	"github.com/TuSKan/segstats/zarr"
)

func testConfig() config.Config {
	return config.Config{
		Chunks:     2,
		Repeat:     1,
		Compressor: "zstd",
		ZstdLevel:  3,
		LogFormat:  "text",
		LogLevel:   "error",
	}
}

func bucketURL(dir string) string {
	return "file://" + filepath.ToSlash(dir)
}

func TestRun_Pipeline(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()
	gridDir := t.TempDir()
	hdf5Dir := filepath.Join(t.TempDir(), "records")
	plotPath := filepath.Join(t.TempDir(), "stats.png")

	err := run(ctx, testConfig(), []string{
		"-size", "40", "-segments", "3", "-radius", "0.2", "-seed", "5",
		"-chunks", "2", "-workers", "2", "-compare",
		"-output", bucketURL(out),
		"-hdf5", hdf5Dir,
		"-plot", plotPath,
		"-save-grid", bucketURL(gridDir),
	})
	require.NoError(t, err)

	r, err := store.Open(ctx, bucketURL(out))
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 4, r.Manifest().Chunks)
	require.Equal(t, 2, r.Manifest().Side)
	require.Equal(t, "zstd", r.Manifest().Compressor)
	res, err := r.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, res.Len())

	for i := range 4 {
		_, err := os.Stat(store.HDF5Path(hdf5Dir, i))
		require.NoError(t, err)
	}
	_, err = os.Stat(plotPath)
	require.NoError(t, err)

	want, err := synth.Segmentation(synth.Config{Size: 40, Segments: 3, Radius: 0.2, Seed: 5})
	require.NoError(t, err)
	zr, err := zarr.NewReader(ctx, bucketURL(gridDir))
	require.NoError(t, err)
	defer zr.Close()
	got, err := zr.ReadGrid(ctx)
	require.NoError(t, err)
	require.Equal(t, want.Data(), got.Data())
	require.Equal(t, []int{20, 20}, zr.Metadata().Chunks)
}

func TestRun_FromZarr(t *testing.T) {
	ctx := context.Background()
	gridDir := t.TempDir()
	out := t.TempDir()

	require.NoError(t, run(ctx, testConfig(), []string{"-size", "30", "-chunks", "1", "-save-grid", bucketURL(gridDir)}))
	require.NoError(t, run(ctx, testConfig(), []string{"-input", bucketURL(gridDir), "-chunks", "1", "-repeat", "2", "-output", bucketURL(out)}))

	r, err := store.Open(ctx, bucketURL(out))
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 1, r.Manifest().Chunks)
	st, err := r.LoadChunk(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 0, st.Len()%2)
}

func TestParseFlags(t *testing.T) {
	cfg := testConfig()
	cfg.Output = "mem://"

	f, err := parseFlags(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, 2, f.chunks)
	require.Equal(t, "mem://", f.output)
	require.Equal(t, synth.DefaultConfig(), f.gen)

	f, err = parseFlags(cfg, []string{"-chunks", "5", "-output", ""})
	require.NoError(t, err)
	require.Equal(t, 5, f.chunks)
	require.Empty(t, f.output)

	_, err = parseFlags(cfg, []string{"-chunks", "0"})
	require.Error(t, err)
	_, err = parseFlags(cfg, []string{"extra"})
	require.Error(t, err)
}

func TestRun_IndivisibleChunks(t *testing.T) {
	err := run(context.Background(), testConfig(), []string{"-size", "10", "-chunks", "3"})
	require.Error(t, err)
}
