package segstats_test

import (
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/TuSKan/segstats"
)

// squareGrid is the 4x4 example with label 1 in the top-left 2x2 block.
func squareGrid(t *testing.T) *segstats.Grid {
	return mustGrid(t, []int{4, 4}, []segstats.Label{
		1, 1, 0, 0,
		1, 1, 0, 0,
		0, 0, 0, 0,
		0, 0, 0, 0,
	})
}

func requireAligned(t *testing.T, st *segstats.Stats) {
	t.Helper()
	require.Len(t, st.Counts, st.Len())
	require.Len(t, st.Centers, st.Len())
	require.Len(t, st.Covariances, st.Len())
}

func TestExtractGrid_Square(t *testing.T) {
	st, err := segstats.ExtractGrid(squareGrid(t))
	require.NoError(t, err)
	requireAligned(t, st)

	require.Equal(t, []segstats.Label{1}, st.SegmentIDs)
	require.Equal(t, []int{4}, st.Counts)
	require.InDeltaSlice(t, []float64{0.25, 0.25}, st.Centers[0], 1e-12)

	// Two samples 1/8 and 3/8 per axis, sample covariance with n-1.
	cov := st.Covariances[0]
	require.Equal(t, 2, cov.SymmetricDim())
	require.InDelta(t, 1.0/48, cov.At(0, 0), 1e-12)
	require.InDelta(t, 1.0/48, cov.At(1, 1), 1e-12)
	require.InDelta(t, 0, cov.At(0, 1), 1e-12)
}

func TestExtract_SquareHierarchicalAgrees(t *testing.T) {
	g := squareGrid(t)
	whole, err := segstats.Extract(segstats.LeafOf(g))
	require.NoError(t, err)
	require.Equal(t, 1, whole.Len())
	require.Equal(t, 1, whole.Side)

	leaves, err := segstats.Chunks(g, 2)
	require.NoError(t, err)
	res, err := segstats.Extract(segstats.PartitionOfGrids(leaves...))
	require.NoError(t, err)
	require.Equal(t, 4, res.Len())
	require.Equal(t, 2, res.Side)

	require.Equal(t, []segstats.Label{1}, res.SegmentIDs[0])
	require.Equal(t, []int{4}, res.Counts[0])
	require.InDeltaSlice(t, whole.Centers[0][0], res.Centers[0][0], 1e-9)
	for i := 1; i < 4; i++ {
		require.Empty(t, res.SegmentIDs[i])
		require.Empty(t, res.Centers[i])
	}
}

func TestExtractGrid_ExcludesSingleCellSegments(t *testing.T) {
	g := mustGrid(t, []int{3, 3}, []segstats.Label{
		1, 0, 3,
		0, 3, 0,
		4, 0, 0,
	})
	st, err := segstats.ExtractGrid(g)
	require.NoError(t, err)
	requireAligned(t, st)

	require.Equal(t, []segstats.Label{3}, st.SegmentIDs)
	require.Equal(t, []int{2}, st.Counts)
	// Label 2 is absent, so only 1 and 4 are reported as excluded.
	require.Equal(t, []segstats.Label{1, 4}, st.Excluded)
	for _, c := range st.Counts {
		require.GreaterOrEqual(t, c, 2)
	}
}

func TestExtractGrid_LogsExcluded(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	g := mustGrid(t, []int{1, 3}, []segstats.Label{5, 0, 0})
	st, err := segstats.ExtractGrid(g, segstats.WithLogger(logger))
	require.NoError(t, err)
	require.Zero(t, st.Len())
	require.Contains(t, buf.String(), "excluded single-cell segments")
}

func TestExtractGrid_Background(t *testing.T) {
	st, err := segstats.ExtractGrid(mustGrid(t, []int{2, 2}, make([]segstats.Label, 4)))
	require.NoError(t, err)
	require.Zero(t, st.Len())
	requireAligned(t, st)
}

func TestExtractGrid_TwoCellsSingular(t *testing.T) {
	g := mustGrid(t, []int{1, 4}, []segstats.Label{0, 1, 1, 0})
	st, err := segstats.ExtractGrid(g)
	require.NoError(t, err)
	require.Equal(t, []int{2}, st.Counts)

	cov := st.Covariances[0]
	require.InDelta(t, 0.03125, cov.At(0, 0), 1e-12)
	require.InDelta(t, 0, cov.At(1, 1), 1e-12)
}

func TestExtractGrid_3D(t *testing.T) {
	data := make([]segstats.Label, 2*2*2)
	data[0], data[7] = 1, 1
	st, err := segstats.ExtractGrid(mustGrid(t, []int{2, 2, 2}, data))
	require.NoError(t, err)
	require.Equal(t, 3, st.Covariances[0].SymmetricDim())
	require.InDeltaSlice(t, []float64{0.5, 0.5, 0.5}, st.Centers[0], 1e-12)
	// Cells at opposite corners are perfectly correlated on every pair.
	require.InDelta(t, st.Covariances[0].At(0, 0), st.Covariances[0].At(0, 2), 1e-12)
}

func TestExtractGrid_Repeat(t *testing.T) {
	g := mustGrid(t, []int{3, 4}, []segstats.Label{
		1, 1, 0, 2,
		0, 0, 0, 2,
		3, 3, 3, 0,
	})
	once, err := segstats.ExtractGrid(g)
	require.NoError(t, err)
	thrice, err := segstats.ExtractGrid(g, segstats.WithRepeat(3))
	require.NoError(t, err)
	requireAligned(t, thrice)

	require.Equal(t, 3*once.Len(), thrice.Len())
	for i := 0; i < thrice.Len(); i++ {
		j := i / 3
		require.Equal(t, once.SegmentIDs[j], thrice.SegmentIDs[i])
		require.Equal(t, once.Counts[j], thrice.Counts[i])
		require.Equal(t, once.Centers[j], thrice.Centers[i])
		require.Equal(t, once.Covariances[j].At(0, 1), thrice.Covariances[i].At(0, 1))
	}

	// Rows are independent copies.
	thrice.Centers[0][0] = -1
	require.NotEqual(t, -1.0, thrice.Centers[1][0])

	res, err := segstats.Extract(segstats.LeafOf(g), segstats.WithRepeat(3))
	require.NoError(t, err)
	require.Len(t, res.SegmentIDs[0], 3*once.Len())
}

func TestExtract_RepeatIgnoredForPartitions(t *testing.T) {
	leaves, err := segstats.Chunks(squareGrid(t), 2)
	require.NoError(t, err)
	res, err := segstats.Extract(segstats.PartitionOfGrids(leaves...), segstats.WithRepeat(4))
	require.NoError(t, err)
	require.Equal(t, []int{4}, res.Counts[0])
}

func TestExtract_InvalidRepeat(t *testing.T) {
	_, err := segstats.ExtractGrid(squareGrid(t), segstats.WithRepeat(0))
	require.ErrorIs(t, err, segstats.ErrInvalidRepeat)
	_, err = segstats.Extract(segstats.LeafOf(squareGrid(t)), segstats.WithRepeat(-1))
	require.ErrorIs(t, err, segstats.ErrInvalidRepeat)
}

func TestExtract_PartitionShapeErrors(t *testing.T) {
	leaves, err := segstats.Chunks(squareGrid(t), 2)
	require.NoError(t, err)

	_, err = segstats.Extract(segstats.PartitionOfGrids(leaves[:3]...))
	require.ErrorIs(t, err, segstats.ErrShape)

	_, err = segstats.Extract(segstats.PartitionOf())
	require.ErrorIs(t, err, segstats.ErrShape)

	mixed := append(slices.Clone(leaves[:3]), iota(t, 2, 2, 2))
	_, err = segstats.Extract(segstats.PartitionOfGrids(mixed...))
	require.ErrorIs(t, err, segstats.ErrShape)

	_, err = segstats.Extract(segstats.LeafOf(nil))
	require.ErrorIs(t, err, segstats.ErrShape)

	big := iota(t, 6, 6)
	_, err = segstats.Extract(segstats.PartitionOfGrids(leaves[0], big, big, big))
	var shapeErr *segstats.ShapeError
	require.ErrorAs(t, err, &shapeErr)
	require.Equal(t, []int{6, 6}, shapeErr.Shape)
	require.Contains(t, shapeErr.Reason, "differs from chunk 0")

	uneven := segstats.PartitionOf(
		segstats.PartitionOfGrids(leaves...),
		segstats.LeafOf(leaves[1]),
		segstats.LeafOf(leaves[2]),
		segstats.LeafOf(leaves[3]),
	)
	_, err = segstats.Extract(uneven)
	require.ErrorIs(t, err, segstats.ErrShape)
}

// randomBlocks draws a size×size grid of axis-aligned rectangles with labels
// 1..n; later rectangles overwrite earlier ones.
func randomBlocks(t *testing.T, seed uint64, size, n int) *segstats.Grid {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed))
	data := make([]segstats.Label, size*size)
	for label := 1; label <= n; label++ {
		r0, c0 := rng.IntN(size), rng.IntN(size)
		h, w := 1+rng.IntN(size/3), 1+rng.IntN(size/3)
		for r := r0; r < min(size, r0+h); r++ {
			for c := c0; c < min(size, c0+w); c++ {
				data[r*size+c] = segstats.Label(label)
			}
		}
	}
	return mustGrid(t, []int{size, size}, data)
}

func TestExtract_WholeVersusPartition(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		g := randomBlocks(t, seed, 24, 12)
		whole, err := segstats.ExtractGrid(g)
		require.NoError(t, err)

		for _, chunks := range []int{2, 3, 4} {
			leaves, err := segstats.Chunks(g, chunks)
			require.NoError(t, err)
			res, err := segstats.Extract(segstats.PartitionOfGrids(leaves...))
			require.NoError(t, err)
			require.Equal(t, chunks*chunks, res.Len())

			// Total cell count per label is preserved across chunks, counting
			// the single-cell pieces that were excluded.
			total := map[segstats.Label]int{}
			seen := map[segstats.Label]int{}
			for i := 0; i < res.Len(); i++ {
				st := res.Chunk(i)
				requireAligned(t, st)
				for j, id := range st.SegmentIDs {
					total[id] += st.Counts[j]
					seen[id]++
					for _, c := range st.Centers[j] {
						require.GreaterOrEqual(t, c, 0.0)
						require.LessOrEqual(t, c, 1.0)
					}
				}
				for _, id := range st.Excluded {
					total[id]++
				}
			}

			for j, id := range whole.SegmentIDs {
				require.Equal(t, whole.Counts[j], total[id], "seed %d chunks %d label %d", seed, chunks, id)
				if seen[id] != 1 || total[id] != whole.Counts[j] {
					continue
				}
				// Entirely inside one chunk: same count and center.
				for i := 0; i < res.Len(); i++ {
					k := slices.Index(res.SegmentIDs[i], id)
					if k < 0 || res.Counts[i][k] != whole.Counts[j] {
						continue
					}
					require.InDeltaSlice(t, whole.Centers[j], res.Centers[i][k], 1e-9)
				}
			}
		}
	}
}

func TestExtract_WorkersDeterministic(t *testing.T) {
	g := randomBlocks(t, 42, 30, 20)
	leaves, err := segstats.Chunks(g, 3)
	require.NoError(t, err)
	src := segstats.PartitionOfGrids(leaves...)

	serial, err := segstats.Extract(src)
	require.NoError(t, err)
	for _, workers := range []int{0, 2, 9} {
		parallel, err := segstats.Extract(src, segstats.WithWorkers(workers))
		require.NoError(t, err)
		if diff := cmp.Diff(serial.SegmentIDs, parallel.SegmentIDs); diff != "" {
			t.Fatalf("segment ids differ with %d workers (-serial +parallel):\n%s", workers, diff)
		}
		if diff := cmp.Diff(serial.Centers, parallel.Centers); diff != "" {
			t.Fatalf("centers differ with %d workers (-serial +parallel):\n%s", workers, diff)
		}
	}
}

func TestExtract_Progress(t *testing.T) {
	leaves, err := segstats.Chunks(randomBlocks(t, 7, 12, 5), 3)
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		calls  []int
		totals []int
	)
	_, err = segstats.Extract(segstats.PartitionOfGrids(leaves...),
		segstats.WithWorkers(4),
		segstats.WithProgress(func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, done)
			totals = append(totals, total)
		}),
	)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, calls)
	for _, total := range totals {
		require.Equal(t, 9, total)
	}
}

func TestExtract_NestedPartition(t *testing.T) {
	data := make([]segstats.Label, 8*8)
	data[0], data[1], data[8], data[9] = 1, 1, 1, 1
	g := mustGrid(t, []int{8, 8}, data)

	whole, err := segstats.ExtractGrid(g)
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{0.125, 0.125}, whole.Centers[0], 1e-12)

	quarters, err := segstats.Chunks(g, 2)
	require.NoError(t, err)
	sixteenths, err := segstats.Chunks(quarters[0], 2)
	require.NoError(t, err)

	src := segstats.PartitionOf(
		segstats.PartitionOfGrids(sixteenths...),
		segstats.LeafOf(quarters[1]),
		segstats.LeafOf(quarters[2]),
		segstats.LeafOf(quarters[3]),
	)
	res, err := segstats.Extract(src)
	require.NoError(t, err)
	require.Equal(t, 7, res.Len())
	require.Equal(t, []segstats.Label{1}, res.SegmentIDs[0])
	require.InDeltaSlice(t, whole.Centers[0], res.Centers[0][0], 1e-9)
}

func TestChunkTree_Partition(t *testing.T) {
	tree, err := segstats.Split(squareGrid(t), 2)
	require.NoError(t, err)
	res, err := segstats.Extract(tree.Partition())
	require.NoError(t, err)
	require.Equal(t, 4, res.Len())
	require.Equal(t, []int{4}, res.Counts[0])
}

func TestExtractGrid_SparseLabels(t *testing.T) {
	const big = segstats.Label(4_000_000_000)
	g := mustGrid(t, []int{2, 3}, []segstats.Label{
		big, big, 0,
		7, 7, big,
	})
	st, err := segstats.ExtractGrid(g)
	require.NoError(t, err)
	require.Equal(t, []segstats.Label{7, big}, st.SegmentIDs)
	require.Equal(t, []int{2, 3}, st.Counts)
}
