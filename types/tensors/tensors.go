/*
 *	Copyright 2025 The gograd Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package tensors implements Tensor, a multi-dimensional array of a fixed DType,
// the value fed to and fetched from the execution of a computation graph.
//
// Data is stored flat in row-major order, in a slice of the Go type matching the
// DType (see github.com/gomlx/gopjrt/dtypes). Main ways to create a Tensor:
//
//   - FromShape(shape): a zero-initialized tensor of the given shape.
//   - FromScalar[T](value) / FromScalarAndDimensions[T](value, dims...)
//   - FromFlatDataAndDimensions[T](data, dims...)
//   - FromValue[S](value): from a scalar or (nested) slice, shape inferred.
//
// Direct access to the flat data is provided by ConstFlatData / MutableFlatData,
// either as methods taking `func(flat any)` or as package-level generic functions
// taking `func(flat []T)`.
package tensors

import (
	"fmt"
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"

	"github.com/gograd/gograd/types/shapes"
	"github.com/gograd/gograd/types/xslices"
)

// Tensor is a multi-dimensional array of one of the supported DTypes, stored flat
// in row-major order.
//
// The zero value of Tensor is invalid; use one of the From* constructors. A Tensor
// is not safe for concurrent mutation.
type Tensor struct {
	shape shapes.Shape

	// flat is a slice of shape.DType.GoType() with shape.Size() elements.
	flat any
}

// FromShape returns a zero-initialized Tensor of the given shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	size := shape.Size()
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size)
	return &Tensor{shape: shape, flat: flatV.Interface()}
}

// FromScalar creates a scalar Tensor with the given value. The DType is inferred
// from the Go type.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromScalarAndDimensions(value)
}

// FromScalarAndDimensions creates a Tensor with the given dimensions, every
// element set to value. The DType is inferred from the Go type.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	t := FromShape(shapes.Make(dtype, dimensions...))
	MutableFlatData(t, func(flat []T) {
		xslices.FillSlice(flat, value)
	})
	return t
}

// FromFlatDataAndDimensions creates a Tensor with the given dimensions, filled
// with the flattened values in data. The data is copied. The DType is inferred
// from the data type.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	MutableFlatData(t, func(flat []T) {
		copy(flat, data)
	})
	return t
}

// AssertValid panics if the tensor is nil or in an invalid (zero) state.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("Tensor is nil")
	}
	if t.flat == nil || !t.shape.Ok() {
		exceptions.Panicf("Tensor is invalid: use one of the tensors.From* constructors")
	}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape {
	t.AssertValid()
	return t.shape
}

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType {
	t.AssertValid()
	return t.shape.DType
}

// Rank of the tensor: 0 for a scalar.
func (t *Tensor) Rank() int {
	t.AssertValid()
	return t.shape.Rank()
}

// Size is the number of elements: the product of the dimensions.
func (t *Tensor) Size() int {
	t.AssertValid()
	return t.shape.Size()
}

// IsScalar returns whether the tensor holds a single value.
func (t *Tensor) IsScalar() bool {
	t.AssertValid()
	return t.shape.IsScalar()
}

// Memory returns the number of bytes used to store the tensor data.
func (t *Tensor) Memory() uintptr {
	t.AssertValid()
	return t.shape.Memory()
}

// ConstFlatData calls accessFn with the flat data slice. The slice is owned by
// the Tensor and must not be changed -- see MutableFlatData for that.
//
// Even scalar tensors have a flat representation of one element.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.AssertValid()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flat data slice, whose contents may be
// changed until accessFn returns. The slice itself is owned by the Tensor.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.AssertValid()
	accessFn(t.flat)
}

// ConstFlatData is the generics version of Tensor.ConstFlatData: it calls
// accessFn with the flat data as a []T. It panics if T does not match the
// tensor's DType.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	t.AssertValid()
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("ConstFlatData[%T] is incompatible with Tensor's dtype %s", v, t.shape.DType)
	}
	t.ConstFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// MutableFlatData is the generics version of Tensor.MutableFlatData: it calls
// accessFn with the flat data as a []T, whose contents may be changed. It panics
// if T does not match the tensor's DType.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	t.AssertValid()
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("MutableFlatData[%T] is incompatible with Tensor's dtype %s", v, t.shape.DType)
	}
	t.MutableFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// ToScalar returns the value of a scalar Tensor. It panics if the tensor is not
// a scalar or if T does not match its DType.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	t.AssertValid()
	if !t.shape.IsScalar() {
		exceptions.Panicf("ToScalar called on non-scalar tensor shaped %s", t.shape)
	}
	var value T
	ConstFlatData(t, func(flat []T) {
		value = flat[0]
	})
	return value
}

// CopyFlatData returns a copy of the flat data of the tensor. It panics if T
// does not match the tensor's DType.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	var flatCopy []T
	ConstFlatData(t, func(flat []T) {
		flatCopy = xslices.Copy(flat)
	})
	return flatCopy
}

// LayoutStrides returns the strides for each axis, handy when addressing
// individual positions in the flat data.
func (t *Tensor) LayoutStrides() (strides []int) {
	rank := t.shape.Rank()
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	currentStride := 1
	for dim := rank - 1; dim >= 0; dim-- {
		strides[dim] = currentStride
		currentStride *= t.shape.Dimensions[dim]
	}
	return
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	t.AssertValid()
	c := FromShape(t.shape)
	reflect.Copy(reflect.ValueOf(c.flat), reflect.ValueOf(t.flat))
	return c
}

// Equal checks whether t and otherTensor have the same shape and identical values.
// It panics if either is invalid.
//
// Slow implementation, fine for small tensors.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	equal := true
	t.ConstFlatData(func(flat0 any) {
		otherTensor.ConstFlatData(func(flat1 any) {
			v0 := reflect.ValueOf(flat0)
			v1 := reflect.ValueOf(flat1)
			for ii := 0; ii < v0.Len(); ii++ {
				if !v0.Index(ii).Equal(v1.Index(ii)) {
					equal = false
					return
				}
			}
		})
	})
	return equal
}

// InDelta checks whether Abs(t - otherTensor) < delta for every element. Shapes
// must match. Float16 values are compared after conversion to float32.
//
// Slow implementation, fine for small tensors in tests.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	t.AssertValid()
	otherTensor.AssertValid()
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	inDelta := true
	t.ConstFlatData(func(flat0 any) {
		otherTensor.ConstFlatData(func(flat1 any) {
			if t.shape.DType == dtypes.Float16 {
				inDelta = xslices.SlicesInDelta(
					xslices.Map(flat0.([]float16.Float16), float16.Float16.Float32),
					xslices.Map(flat1.([]float16.Float16), float16.Float16.Float32),
					delta)
				return
			}
			inDelta = xslices.SlicesInDelta(flat0, flat1, delta)
		})
	})
	return inDelta
}

// MaxSizeForString is the largest tensor size fully printed by String.
var MaxSizeForString = 500

// String prints the shape and, for small tensors, the values.
func (t *Tensor) String() string {
	if t == nil || t.flat == nil {
		return "tensors.Tensor(nil)"
	}
	if t.shape.Size() > MaxSizeForString {
		return fmt.Sprintf("%s: (... %d values ...)", t.shape, t.shape.Size())
	}
	return fmt.Sprintf("%s: %v", t.shape, t.Value())
}
