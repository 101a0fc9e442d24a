package segstats_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TuSKan/segstats"
)

func mustGrid(t *testing.T, shape []int, data []segstats.Label) *segstats.Grid {
	t.Helper()
	g, err := segstats.NewGrid(shape, data)
	require.NoError(t, err)
	return g
}

// iota returns a grid whose cells hold 0, 1, 2, ... in C order.
func iota(t *testing.T, shape ...int) *segstats.Grid {
	t.Helper()
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]segstats.Label, n)
	for i := range data {
		data[i] = segstats.Label(i)
	}
	return mustGrid(t, shape, data)
}

func TestNewGrid_Validation(t *testing.T) {
	tests := []struct {
		name  string
		shape []int
		data  []segstats.Label
	}{
		{"scalar", []int{}, []segstats.Label{1}},
		{"zero extent", []int{2, 0}, nil},
		{"negative extent", []int{-1}, nil},
		{"short data", []int{2, 2}, []segstats.Label{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := segstats.NewGrid(tt.shape, tt.data)
			require.ErrorIs(t, err, segstats.ErrShape)
		})
	}
}

func TestNewGrid_CopiesInput(t *testing.T) {
	data := []segstats.Label{1, 2, 3, 4}
	g := mustGrid(t, []int{2, 2}, data)
	data[0] = 9
	require.Equal(t, segstats.Label(1), g.At(0, 0))

	out := g.Data()
	out[3] = 7
	require.Equal(t, segstats.Label(4), g.At(1, 1))
}

func TestGrid_At(t *testing.T) {
	g := iota(t, 2, 3, 4)
	require.Equal(t, 3, g.Rank())
	require.Equal(t, 24, g.Len())
	require.Equal(t, segstats.Label(0), g.At(0, 0, 0))
	require.Equal(t, segstats.Label(1*12+2*4+3), g.At(1, 2, 3))
	require.Equal(t, segstats.Label(23), g.Max())
	require.Panics(t, func() { g.At(2, 0, 0) })
	require.Panics(t, func() { g.At(0, 0) })
}

func TestStrides(t *testing.T) {
	require.Equal(t, []int{12, 4, 1}, segstats.Strides([]int{2, 3, 4}))
	require.Equal(t, []int{1}, segstats.Strides([]int{5}))
	require.Empty(t, segstats.Strides(nil))
}

func TestGrid_Slice(t *testing.T) {
	g := iota(t, 3, 4)

	rows, err := g.Slice(0, 1, 3)
	require.NoError(t, err)
	require.Equal(t, []int{2, 4}, rows.Shape())
	require.Equal(t, []segstats.Label{4, 5, 6, 7, 8, 9, 10, 11}, rows.Data())

	cols, err := g.Slice(1, 2, 4)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2}, cols.Shape())
	require.Equal(t, []segstats.Label{2, 3, 6, 7, 10, 11}, cols.Data())

	_, err = g.Slice(2, 0, 1)
	require.ErrorIs(t, err, segstats.ErrShape)
	_, err = g.Slice(1, 3, 3)
	require.ErrorIs(t, err, segstats.ErrShape)
	_, err = g.Slice(0, 0, 4)
	require.ErrorIs(t, err, segstats.ErrShape)
}
