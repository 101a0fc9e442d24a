package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/TuSKan/segstats"
)

// Record is the JSON form of one chunk's statistics.
type Record struct {
	Segments []segstats.Label `json:"segments"`
	Counts   []int            `json:"counts"`
	Centers  [][]float64      `json:"centers"`
	Covs     [][][]float64    `json:"covs"`
	Excluded []segstats.Label `json:"excluded,omitempty"`
}

func recordOf(st *segstats.Stats) Record {
	rec := Record{
		Segments: st.SegmentIDs,
		Counts:   st.Counts,
		Centers:  st.Centers,
		Covs:     make([][][]float64, len(st.Covariances)),
		Excluded: st.Excluded,
	}
	for i, cov := range st.Covariances {
		n := cov.SymmetricDim()
		rows := make([][]float64, n)
		for r := range rows {
			rows[r] = make([]float64, n)
			for c := range rows[r] {
				rows[r][c] = cov.At(r, c)
			}
		}
		rec.Covs[i] = rows
	}
	return rec
}

func (rec Record) stats(rank int) (*segstats.Stats, error) {
	n := len(rec.Segments)
	if len(rec.Counts) != n || len(rec.Centers) != n || len(rec.Covs) != n {
		return nil, fmt.Errorf("record sequences differ in length: %d segments, %d counts, %d centers, %d covs",
			n, len(rec.Counts), len(rec.Centers), len(rec.Covs))
	}
	st := &segstats.Stats{
		SegmentIDs:  rec.Segments,
		Counts:      rec.Counts,
		Centers:     rec.Centers,
		Covariances: make([]*mat.SymDense, n),
		Excluded:    rec.Excluded,
	}
	for i, rows := range rec.Covs {
		if len(rec.Centers[i]) != rank || len(rows) != rank {
			return nil, fmt.Errorf("row %d does not have rank %d", i, rank)
		}
		flat := make([]float64, 0, rank*rank)
		for _, row := range rows {
			if len(row) != rank {
				return nil, fmt.Errorf("covariance %d is not %dx%d", i, rank, rank)
			}
			flat = append(flat, row...)
		}
		st.Covariances[i] = mat.NewSymDense(rank, flat)
	}
	return st, nil
}

// Binary array keys written under "<chunk>/".
const (
	keySegments = "segments"
	keyCounts   = "counts"
	keyCenters  = "centers"
	keyCovs     = "covs"
	keyExcluded = "excluded"
)

// columns is a chunk flattened into int64 and float64 sequences. Centers and
// covariances are stored row-major with rank and rank*rank values per row.
type columns struct {
	segments, counts, excluded []int64
	centers, covs              []float64
}

func columnsOf(st *segstats.Stats) columns {
	c := columns{
		segments: make([]int64, len(st.SegmentIDs)),
		counts:   make([]int64, len(st.Counts)),
		excluded: make([]int64, len(st.Excluded)),
	}
	for i, id := range st.SegmentIDs {
		c.segments[i] = int64(id)
	}
	for i, n := range st.Counts {
		c.counts[i] = int64(n)
	}
	for i, id := range st.Excluded {
		c.excluded[i] = int64(id)
	}
	for i, center := range st.Centers {
		c.centers = append(c.centers, center...)
		n := st.Covariances[i].SymmetricDim()
		for r := 0; r < n; r++ {
			for col := 0; col < n; col++ {
				c.covs = append(c.covs, st.Covariances[i].At(r, col))
			}
		}
	}
	return c
}

func (c columns) stats(rank int) (*segstats.Stats, error) {
	n := len(c.segments)
	if len(c.counts) != n || len(c.centers) != n*rank || len(c.covs) != n*rank*rank {
		return nil, fmt.Errorf("arrays do not describe %d rows of rank %d", n, rank)
	}

	st := &segstats.Stats{}
	for i := 0; i < n; i++ {
		st.SegmentIDs = append(st.SegmentIDs, segstats.Label(c.segments[i]))
		st.Counts = append(st.Counts, int(c.counts[i]))
		st.Centers = append(st.Centers, c.centers[i*rank:(i+1)*rank:(i+1)*rank])
		st.Covariances = append(st.Covariances, mat.NewSymDense(rank, c.covs[i*rank*rank:(i+1)*rank*rank:(i+1)*rank*rank]))
	}
	for _, id := range c.excluded {
		st.Excluded = append(st.Excluded, segstats.Label(id))
	}
	return st, nil
}

// arraysOf encodes a chunk as little-endian binary arrays keyed by name.
func arraysOf(st *segstats.Stats) map[string][]byte {
	c := columnsOf(st)
	return map[string][]byte{
		keySegments: putInt64s(c.segments),
		keyCounts:   putInt64s(c.counts),
		keyCenters:  putFloat64s(c.centers),
		keyCovs:     putFloat64s(c.covs),
		keyExcluded: putInt64s(c.excluded),
	}
}

// statsOf is the inverse of arraysOf. Missing arrays are empty.
func statsOf(arrays map[string][]byte, rank int) (*segstats.Stats, error) {
	var c columns
	var err error
	for name, dst := range map[string]*[]int64{
		keySegments: &c.segments,
		keyCounts:   &c.counts,
		keyExcluded: &c.excluded,
	} {
		if *dst, err = getInt64s(arrays[name]); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	for name, dst := range map[string]*[]float64{
		keyCenters: &c.centers,
		keyCovs:    &c.covs,
	} {
		if *dst, err = getFloat64s(arrays[name]); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return c.stats(rank)
}

func putInt64s(v []int64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(x))
	}
	return buf
}

func putFloat64s(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	return buf
}

func getInt64s(b []byte) ([]int64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of int64", len(b))
	}
	out := make([]int64, len(b)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return out, nil
}

func getFloat64s(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of float64", len(b))
	}
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return out, nil
}
