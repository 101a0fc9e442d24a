package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/robert-malhotra/go-hdf5/hdf5"

	"github.com/TuSKan/segstats"
)

const hdf5Ext = ".hdf5"

// SaveHDF5 writes every chunk of res to dir as <i>.hdf5. Empty datasets are
// not written. Previous chunk files in dir are removed first.
func SaveHDF5(dir string, res *segstats.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	stale, err := filepath.Glob(filepath.Join(dir, "*"+hdf5Ext))
	if err != nil {
		return err
	}
	for _, path := range stale {
		if _, err := strconv.Atoi(filepath.Base(path[:len(path)-len(hdf5Ext)])); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}

	rank := resultRank(res)
	for i := range res.Len() {
		if err := writeHDF5(HDF5Path(dir, i), columnsOf(res.Chunk(i)), rank); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
	}
	return nil
}

// HDF5Path is the file SaveHDF5 writes chunk i to.
func HDF5Path(dir string, i int) string {
	return filepath.Join(dir, strconv.Itoa(i)+hdf5Ext)
}

// HDF5 chunk files hold two flat datasets. hdf5Labels is segments, counts
// and excluded concatenated, with the number of segment rows in its "rows"
// attribute. hdf5Moments is centers followed by covariances, with the rank
// in its "rank" attribute. The root group must stay below the 117 bytes of
// link messages at which go-hdf5 fails to pad its header.
const (
	hdf5Labels  = "labels"
	hdf5Moments = "moments"
)

func writeHDF5(path string, c columns, rank int) (err error) {
	f, err := hdf5.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	root := f.Root()
	labels := slices.Concat(c.segments, c.counts, c.excluded)
	if len(labels) > 0 {
		if _, err := root.CreateDataset(hdf5Labels, labels, hdf5.WithAttribute("rows", int64(len(c.segments)))); err != nil {
			return fmt.Errorf("failed to write %s: %w", hdf5Labels, err)
		}
	}
	moments := slices.Concat(c.centers, c.covs)
	if len(moments) > 0 {
		if _, err := root.CreateDataset(hdf5Moments, moments, hdf5.WithAttribute("rank", int64(rank))); err != nil {
			return fmt.Errorf("failed to write %s: %w", hdf5Moments, err)
		}
	}
	return nil
}

// LoadHDF5 reads one chunk file written by SaveHDF5. Centers and covariances
// are reshaped to the given rank.
func LoadHDF5(path string, rank int) (*segstats.Stats, error) {
	f, err := hdf5.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var c columns
	ds, err := f.Root().OpenDataset(hdf5Labels)
	switch {
	case errors.Is(err, hdf5.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to open %s: %w", hdf5Labels, err)
	default:
		labels, err := ds.ReadInt64()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", hdf5Labels, err)
		}
		attr := ds.Attr("rows")
		if attr == nil {
			return nil, fmt.Errorf("%s: %s has no rows attribute", path, hdf5Labels)
		}
		rows, err := attr.ReadScalarInt64()
		if err != nil {
			return nil, fmt.Errorf("failed to read rows: %w", err)
		}
		if rows < 0 || 2*rows > int64(len(labels)) {
			return nil, fmt.Errorf("%s: %d rows do not fit %d labels", path, rows, len(labels))
		}
		c.segments = labels[:rows:rows]
		c.counts = labels[rows : 2*rows : 2*rows]
		c.excluded = labels[2*rows:]
	}

	ds, err = f.Root().OpenDataset(hdf5Moments)
	switch {
	case errors.Is(err, hdf5.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to open %s: %w", hdf5Moments, err)
	default:
		moments, err := ds.ReadFloat64()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", hdf5Moments, err)
		}
		split := min(len(c.segments)*rank, len(moments))
		c.centers = moments[:split:split]
		c.covs = moments[split:]
	}

	st, err := c.stats(rank)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return st, nil
}
