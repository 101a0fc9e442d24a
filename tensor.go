package segstats

import (
	"fmt"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Tensor returns the grid as a uint32 tensor with the same dimensions.
func (g *Grid) Tensor() *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(slices.Clone(g.data), g.shape...)
}

// GridFromTensor builds a grid from an integer tensor of rank at least 1.
// Negative values are rejected since labels are non-negative.
func GridFromTensor(t *tensors.Tensor) (*Grid, error) {
	shape := t.Shape().Dimensions
	if len(shape) == 0 {
		return nil, newShapeError("tensor", shape, 0, "scalar tensors have no grid")
	}

	var (
		data []Label
		err  error
	)
	t.ConstFlatData(func(flat any) {
		switch v := flat.(type) {
		case []int8:
			data, err = signedLabels(v)
		case []int16:
			data, err = signedLabels(v)
		case []int32:
			data, err = signedLabels(v)
		case []int64:
			data, err = signedLabels(v)
		case []int:
			data, err = signedLabels(v)
		case []uint8:
			data, err = unsignedLabels(v)
		case []uint16:
			data, err = unsignedLabels(v)
		case []uint32:
			data = slices.Clone(v)
		case []uint64:
			data, err = unsignedLabels(v)
		case []uint:
			data, err = unsignedLabels(v)
		default:
			err = fmt.Errorf("unsupported tensor dtype %s", t.DType())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("segstats: converting tensor: %w", err)
	}
	return NewGrid(shape, data)
}

func signedLabels[T int8 | int16 | int32 | int64 | int](flat []T) ([]Label, error) {
	data := make([]Label, len(flat))
	for i, v := range flat {
		if v < 0 || int64(v) > int64(^Label(0)) {
			return nil, fmt.Errorf("label %d out of range", v)
		}
		data[i] = Label(v)
	}
	return data, nil
}

func unsignedLabels[T uint8 | uint16 | uint64 | uint](flat []T) ([]Label, error) {
	data := make([]Label, len(flat))
	for i, v := range flat {
		if uint64(v) > uint64(^Label(0)) {
			return nil, fmt.Errorf("label %d out of range", v)
		}
		data[i] = Label(v)
	}
	return data, nil
}
