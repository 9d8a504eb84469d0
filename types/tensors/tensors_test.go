package tensors

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/gograd/gograd/types/shapes"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 3))
	require.Equal(t, dtypes.Float32, tensor.DType())
	require.Equal(t, 2, tensor.Rank())
	require.Equal(t, 6, tensor.Size())
	ConstFlatData(tensor, func(flat []float32) {
		require.Equal(t, []float32{0, 0, 0, 0, 0, 0}, flat)
	})

	require.Panics(t, func() { FromShape(shapes.Invalid()) })
	var nilTensor *Tensor
	require.Panics(t, func() { nilTensor.Shape() })
}

func TestFromScalarAndDimensions(t *testing.T) {
	scalar := FromScalar(float64(1.5))
	require.True(t, scalar.IsScalar())
	require.Equal(t, 1.5, ToScalar[float64](scalar))

	filled := FromScalarAndDimensions(int32(7), 2, 2)
	require.Equal(t, []int32{7, 7, 7, 7}, CopyFlatData[int32](filled))
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	require.Equal(t, shapes.Make(dtypes.Float32, 3, 2), tensor.Shape())
	require.Equal(t, [][]float32{{1, 2}, {3, 4}, {5, 6}}, tensor.Value())

	require.Panics(t, func() { FromFlatDataAndDimensions([]float32{1, 2, 3}, 2, 2) })
}

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float64{{1, 2, 3}, {4, 5, 6}})
	require.Equal(t, shapes.Make(dtypes.Float64, 2, 3), tensor.Shape())
	require.Equal(t, []float64{1, 2, 3, 4, 5, 6}, CopyFlatData[float64](tensor))

	scalar := FromValue(int64(3))
	require.Equal(t, int64(3), ToScalar[int64](scalar))

	// Go int maps to the architecture-sized int dtype.
	ints := FromValue([]int{1, 2, 3})
	require.Equal(t, 3, ints.Size())

	// Irregular nested slices are rejected.
	require.Panics(t, func() { FromValue([][]float32{{1, 2}, {3}}) })

	// FromAnyValue on a Tensor is the identity.
	require.Same(t, tensor, FromAnyValue(tensor))
}

func TestValueRoundTrip(t *testing.T) {
	want := [][][]int32{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}}
	tensor := FromValue(want)
	require.Equal(t, want, tensor.Value())

	// Value returns a copy: mutating it must not change the tensor.
	got := tensor.Value().([][][]int32)
	got[0][0][0] = 100
	require.Equal(t, int32(1), CopyFlatData[int32](tensor)[0])
}

func TestFlatDataAccess(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 4)
	MutableFlatData(tensor, func(flat []float32) {
		flat[2] = 30
	})
	require.Equal(t, []float32{1, 2, 30, 4}, CopyFlatData[float32](tensor))

	// Generic access with the wrong dtype panics.
	require.Panics(t, func() { ConstFlatData(tensor, func(flat []float64) {}) })
	require.Panics(t, func() { MutableFlatData(tensor, func(flat []int32) {}) })
	require.Panics(t, func() { ToScalar[float32](tensor) })
}

func TestClone(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2)
	clone := tensor.Clone()
	MutableFlatData(clone, func(flat []float64) { flat[0] = 100 })
	require.Equal(t, float64(1), CopyFlatData[float64](tensor)[0])
	require.Equal(t, float64(100), CopyFlatData[float64](clone)[0])
}

func TestEqualAndInDelta(t *testing.T) {
	a := FromValue([]float32{1, 2, 3})
	b := FromValue([]float32{1, 2, 3})
	c := FromValue([]float32{1, 2, 3.5})
	d := FromValue([][]float32{{1, 2, 3}})
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.False(t, a.Equal(d))

	require.True(t, a.InDelta(c, 0.51))
	require.False(t, a.InDelta(c, 0.49))
	require.False(t, a.InDelta(d, 10))
}

func TestInDeltaFloat16(t *testing.T) {
	a := FromFlatDataAndDimensions([]float16.Float16{
		float16.Fromfloat32(1.0), float16.Fromfloat32(2.0)}, 2)
	b := FromFlatDataAndDimensions([]float16.Float16{
		float16.Fromfloat32(1.001), float16.Fromfloat32(2.0)}, 2)
	assert.True(t, a.InDelta(b, 0.01))
	assert.False(t, a.InDelta(b, 1e-9))
}

func TestLayoutStrides(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 4, 3, 2))
	require.Equal(t, []int{6, 2, 1}, tensor.LayoutStrides())
	scalar := FromScalar(float32(0))
	require.Empty(t, scalar.LayoutStrides())
}

func TestGobRoundTrip(t *testing.T) {
	tensor := FromValue([][]float64{{1, 2}, {3, 4}})
	var buf bytes.Buffer
	require.NoError(t, tensor.GobSerialize(gob.NewEncoder(&buf)))
	got, err := GobDeserialize(gob.NewDecoder(&buf))
	require.NoError(t, err)
	require.True(t, tensor.Equal(got))
}

func TestSaveLoad(t *testing.T) {
	tensor := FromValue([]int64{10, 20, 30})
	filePath := filepath.Join(t.TempDir(), "tensor.bin")
	require.NoError(t, tensor.Save(filePath))

	got, err := Load(filePath)
	require.NoError(t, err)
	require.True(t, tensor.Equal(got))

	_, err = Load(filepath.Join(t.TempDir(), "missing.bin"))
	require.True(t, os.IsNotExist(err))
}
