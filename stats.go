package segstats

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Stats holds the per-segment statistics of one grid as four aligned
// sequences. Centers and Covariances are in the grid's normalized [0,1]^N
// frame with axes in coordinate order (see CoordinateOrder).
type Stats struct {
	SegmentIDs  []Label
	Counts      []int
	Centers     [][]float64
	Covariances []*mat.SymDense

	// Excluded lists labels present in the grid with a single cell. They
	// have no covariance and are left out of the four sequences above.
	Excluded []Label
}

// Len is the number of rows.
func (s *Stats) Len() int { return len(s.SegmentIDs) }

// Result holds one Stats per chunk as four sequences of sequences, in the
// chunk order of the source. A single grid yields one chunk.
type Result struct {
	SegmentIDs  [][]Label
	Counts      [][]int
	Centers     [][][]float64
	Covariances [][]*mat.SymDense
	Excluded    [][]Label

	// Side is the number of chunks per axis of the top-level partition,
	// 1 for a single grid.
	Side int
}

// NewResult assembles a Result from per-chunk statistics.
func NewResult(side int, chunks ...*Stats) *Result {
	r := &Result{Side: side}
	for _, st := range chunks {
		r.append(st)
	}
	return r
}

// Len is the number of chunks.
func (r *Result) Len() int { return len(r.SegmentIDs) }

// Chunk returns the statistics of chunk i. The returned value shares
// storage with r.
func (r *Result) Chunk(i int) *Stats {
	return &Stats{
		SegmentIDs:  r.SegmentIDs[i],
		Counts:      r.Counts[i],
		Centers:     r.Centers[i],
		Covariances: r.Covariances[i],
		Excluded:    r.Excluded[i],
	}
}

func (r *Result) append(st *Stats) {
	r.SegmentIDs = append(r.SegmentIDs, st.SegmentIDs)
	r.Counts = append(r.Counts, st.Counts)
	r.Centers = append(r.Centers, st.Centers)
	r.Covariances = append(r.Covariances, st.Covariances)
	r.Excluded = append(r.Excluded, st.Excluded)
}

// Extract computes segment statistics for src. A Leaf yields a single chunk.
// A Partition yields one chunk per leaf, with centers remapped into the
// frame of the whole partition.
func Extract(src Source, opts ...Option) (*Result, error) {
	o := newOptions(opts)
	if o.repeat < 1 {
		return nil, ErrInvalidRepeat
	}

	switch s := src.(type) {
	case Leaf:
		if s.Grid == nil {
			return nil, newShapeError("extract", nil, 0, "nil grid")
		}
		st := extractGrid(s.Grid, o.repeat, o)
		return NewResult(1, st), nil
	case Partition:
		shape, err := sourceShape(s)
		if err != nil {
			return nil, err
		}
		chunks, side, err := extractPartition(s, len(shape), o, true)
		if err != nil {
			return nil, err
		}
		return NewResult(side, chunks...), nil
	default:
		return nil, fmt.Errorf("segstats: unsupported source type %T", src)
	}
}

// ExtractGrid computes the statistics of a single grid.
func ExtractGrid(g *Grid, opts ...Option) (*Stats, error) {
	o := newOptions(opts)
	if o.repeat < 1 {
		return nil, ErrInvalidRepeat
	}
	if g == nil {
		return nil, newShapeError("extract", nil, 0, "nil grid")
	}
	return extractGrid(g, o.repeat, o), nil
}

func extractPartition(p Partition, rank int, o *options, top bool) ([]*Stats, int, error) {
	n := len(p.Sources)
	side, ok := intRoot(n, rank)
	if !ok {
		return nil, 0, newShapeError("extract", nil, n, fmt.Sprintf("chunk count is not a perfect power of rank %d", rank))
	}

	results := make([][]*Stats, n)
	var (
		mu   sync.Mutex
		done int
	)

	var eg errgroup.Group
	eg.SetLimit(o.workers)
	for i, child := range p.Sources {
		eg.Go(func() error {
			var chunk []*Stats
			switch c := child.(type) {
			case Leaf:
				chunk = []*Stats{extractGrid(c.Grid, 1, o)}
			case Partition:
				nested, _, err := extractPartition(c, rank, o, false)
				if err != nil {
					return fmt.Errorf("chunk %d: %w", i, err)
				}
				chunk = nested
			default:
				return fmt.Errorf("segstats: unsupported source type %T", child)
			}

			offset := ChunkOffset(ChunkPosition(i, side, rank))
			for _, st := range chunk {
				remapCenters(st.Centers, offset, side)
			}
			results[i] = chunk

			if top && o.progress != nil {
				mu.Lock()
				done++
				o.progress(done, n)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, err
	}

	var flat []*Stats
	for _, chunk := range results {
		flat = append(flat, chunk...)
	}
	return flat, side, nil
}

// remapCenters maps chunk-local centers into the parent frame in place:
// c' = (c + offset) / side.
func remapCenters(centers [][]float64, offset []float64, side int) {
	s := float64(side)
	for _, c := range centers {
		for k := range c {
			c[k] = (c[k] + offset[k]) / s
		}
	}
}

func extractGrid(g *Grid, repeat int, o *options) *Stats {
	rank := g.Rank()
	ids, slot := labelSlots(g.data, g.Max())

	counts := make([]int, len(ids))
	for _, v := range g.data {
		counts[slot(v)]++
	}

	// coords[slot] collects member coordinates row by row.
	coords := make([][]float64, len(ids))
	for i, id := range ids {
		if id != 0 && counts[i] > 1 {
			coords[i] = make([]float64, 0, counts[i]*rank)
		}
	}

	axes := make([][]float64, rank)
	for axis, dim := range g.shape {
		axes[axis] = AxisSamples(dim)
	}
	index := make([]int, rank)
	samples := make([]float64, rank)
	coord := make([]float64, rank)
	for _, v := range g.data {
		if k := slot(v); coords[k] != nil {
			for axis, i := range index {
				samples[axis] = axes[axis][i]
			}
			coord = CoordinateOrder(coord, samples)
			coords[k] = append(coords[k], coord...)
		}
		for axis := rank - 1; axis >= 0; axis-- {
			index[axis]++
			if index[axis] < g.shape[axis] {
				break
			}
			index[axis] = 0
		}
	}

	st := &Stats{}
	for k, label := range ids {
		switch {
		case label == 0, counts[k] == 0:
			continue
		case counts[k] == 1:
			st.Excluded = append(st.Excluded, label)
			continue
		}

		x := mat.NewDense(counts[k], rank, coords[k])
		center := make([]float64, rank)
		col := make([]float64, counts[k])
		for j := 0; j < rank; j++ {
			center[j] = stat.Mean(mat.Col(col, j, x), nil)
		}
		cov := mat.NewSymDense(rank, nil)
		stat.CovarianceMatrix(cov, x, nil)

		st.SegmentIDs = append(st.SegmentIDs, label)
		st.Counts = append(st.Counts, counts[k])
		st.Centers = append(st.Centers, center)
		st.Covariances = append(st.Covariances, cov)
	}

	if len(st.Excluded) > 0 {
		o.logger.Debug("excluded single-cell segments", "shape", g.shape, "labels", st.Excluded)
	}
	if repeat > 1 {
		st = st.repeat(repeat)
	}
	return st
}

// labelSlots numbers the labels of data densely in ascending order. Label
// ranges small relative to the grid index directly; sparse ones use a map.
func labelSlots(data []Label, maxLabel Label) ([]Label, func(Label) int) {
	if uint64(maxLabel) <= uint64(2*len(data)+1024) {
		ids := make([]Label, int(maxLabel)+1)
		for i := range ids {
			ids[i] = Label(i)
		}
		return ids, func(v Label) int { return int(v) }
	}

	slots := make(map[Label]int)
	for _, v := range data {
		slots[v] = 0
	}
	ids := slices.Sorted(maps.Keys(slots))
	for i, id := range ids {
		slots[id] = i
	}
	return ids, func(v Label) int { return slots[v] }
}

// repeat returns a copy of s with every row repeated n times consecutively.
func (s *Stats) repeat(n int) *Stats {
	out := &Stats{
		SegmentIDs:  make([]Label, 0, s.Len()*n),
		Counts:      make([]int, 0, s.Len()*n),
		Centers:     make([][]float64, 0, s.Len()*n),
		Covariances: make([]*mat.SymDense, 0, s.Len()*n),
		Excluded:    s.Excluded,
	}
	for i := range s.SegmentIDs {
		for r := 0; r < n; r++ {
			out.SegmentIDs = append(out.SegmentIDs, s.SegmentIDs[i])
			out.Counts = append(out.Counts, s.Counts[i])
			out.Centers = append(out.Centers, slices.Clone(s.Centers[i]))
			cov := mat.NewSymDense(s.Covariances[i].SymmetricDim(), nil)
			cov.CopySym(s.Covariances[i])
			out.Covariances = append(out.Covariances, cov)
		}
	}
	return out
}
