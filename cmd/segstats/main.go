package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/TuSKan/segstats"
	"github.com/TuSKan/segstats/internal/config"
	"github.com/TuSKan/segstats/internal/measure"
	"github.com/TuSKan/segstats/render"
	"github.com/TuSKan/segstats/store"
	"github.com/TuSKan/segstats/synth"
	"github.com/TuSKan/segstats/zarr"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "segstats: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	input    string
	gen      synth.Config
	chunks   int
	repeat   int
	workers  int
	output   string
	hdf5Dir  string
	plot     string
	saveGrid string
	compare  bool
}

// parseFlags reads args on top of cfg; flags win over the environment.
func parseFlags(cfg config.Config, args []string) (flags, error) {
	f := flags{gen: synth.DefaultConfig()}
	fs := flag.NewFlagSet("segstats", flag.ContinueOnError)
	fs.StringVar(&f.input, "input", "", "Zarr array URL to read the grid from (default: generate one)")
	fs.IntVar(&f.gen.Size, "size", f.gen.Size, "Side of the generated grid")
	fs.IntVar(&f.gen.Segments, "segments", f.gen.Segments, "Number of generated discs")
	fs.Float64Var(&f.gen.Radius, "radius", f.gen.Radius, "Normalized radius of generated discs")
	fs.Uint64Var(&f.gen.Seed, "seed", f.gen.Seed, "Seed of the generator")
	fs.IntVar(&f.chunks, "chunks", cfg.Chunks, "Chunks per axis, 1 extracts the whole grid")
	fs.IntVar(&f.repeat, "repeat", cfg.Repeat, "Repeat every row of a whole-grid extraction")
	fs.IntVar(&f.workers, "workers", cfg.Workers, "Parallel chunk workers, 0 uses GOMAXPROCS")
	fs.StringVar(&f.output, "output", cfg.Output, "Bucket URL to save the result to")
	fs.StringVar(&f.hdf5Dir, "hdf5", cfg.HDF5Dir, "Directory to write HDF5 chunk records to")
	fs.StringVar(&f.plot, "plot", "", "Image file to draw the grid and its statistics to")
	fs.StringVar(&f.saveGrid, "save-grid", "", "Zarr array URL to write the grid to")
	fs.BoolVar(&f.compare, "compare", false, "Also time a whole-grid extraction as baseline")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	if fs.NArg() > 0 {
		return flags{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if f.chunks < 1 {
		return flags{}, fmt.Errorf("chunks must be positive, got %d", f.chunks)
	}
	return f, nil
}

func run(ctx context.Context, cfg config.Config, args []string) error {
	f, err := parseFlags(cfg, args)
	if err != nil {
		return err
	}
	log := cfg.Logger()

	g, err := loadGrid(ctx, f, log)
	if err != nil {
		return err
	}

	if f.saveGrid != "" {
		chunk := make([]int, g.Rank())
		for i, n := range g.Shape() {
			chunk[i] = max(n/f.chunks, 1)
		}
		if err := zarr.WriteGrid(ctx, f.saveGrid, g, zarr.WriteOptions{
			Chunks:     chunk,
			Compressor: &zarr.CompressorConfig{ID: "zstd", Level: cfg.ZstdLevel},
		}); err != nil {
			return fmt.Errorf("failed to save grid: %w", err)
		}
		log.Info("saved grid", "url", f.saveGrid, "chunks", chunk)
	}

	leaves := []*segstats.Grid{g}
	if f.chunks > 1 {
		leaves, err = segstats.Chunks(g, f.chunks)
		if err != nil {
			return err
		}
	}

	opts := []segstats.Option{
		segstats.WithRepeat(f.repeat),
		segstats.WithWorkers(f.workers),
		segstats.WithLogger(log),
		segstats.WithProgress(progressLogger(log)),
	}

	rec := measure.New(log)
	runArgs := fmt.Sprintf("%v,%d", g.Shape(), f.chunks)
	if f.compare && f.chunks > 1 {
		if _, err := rec.Measure("whole", runArgs, func() error {
			_, err := segstats.Extract(segstats.LeafOf(g), opts...)
			return err
		}); err != nil {
			return err
		}
	}

	var res *segstats.Result
	version := "whole"
	src := segstats.Source(segstats.LeafOf(g))
	if f.chunks > 1 {
		version = "chunked"
		src = segstats.PartitionOfGrids(leaves...)
	}
	if _, err := rec.Measure(version, runArgs, func() error {
		res, err = segstats.Extract(src, opts...)
		return err
	}); err != nil {
		return err
	}

	segments := 0
	for _, ids := range res.SegmentIDs {
		segments += len(ids)
	}
	log.Info("extracted", "chunks", res.Len(), "side", res.Side, "rows", segments)

	if f.output != "" {
		var storeOpts []store.Option
		if cfg.Compressor == "zstd" {
			storeOpts = append(storeOpts, store.WithZstd(cfg.ZstdLevel))
		}
		storeOpts = append(storeOpts, store.WithLogger(log))
		if _, err := store.Save(ctx, f.output, res, storeOpts...); err != nil {
			return fmt.Errorf("failed to save result: %w", err)
		}
	}
	if f.hdf5Dir != "" {
		if err := store.SaveHDF5(f.hdf5Dir, res); err != nil {
			return fmt.Errorf("failed to save HDF5 records: %w", err)
		}
		log.Info("saved HDF5 records", "dir", f.hdf5Dir, "chunks", res.Len())
	}
	if f.plot != "" {
		p, err := render.PlotResult(leaves, res)
		if err != nil {
			return err
		}
		if err := render.Save(p, f.plot); err != nil {
			return err
		}
		log.Info("saved plot", "path", f.plot)
	}
	return nil
}

func loadGrid(ctx context.Context, f flags, log *slog.Logger) (*segstats.Grid, error) {
	if f.input == "" {
		g, err := synth.Segmentation(f.gen)
		if err != nil {
			return nil, err
		}
		log.Info("generated grid", "size", f.gen.Size, "segments", f.gen.Segments, "seed", f.gen.Seed)
		return g, nil
	}

	r, err := zarr.NewReader(ctx, f.input)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	g, err := r.ReadGrid(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("read grid", "url", f.input, "shape", g.Shape())
	return g, nil
}

// progressLogger logs every tenth of the chunks.
func progressLogger(log *slog.Logger) func(done, total int) {
	return func(done, total int) {
		step := max(total/10, 1)
		if done%step == 0 || done == total {
			log.Debug("extraction progress", "done", done, "total", total)
		}
	}
}
