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

package graph

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gograd/gograd/types/shapes"
)

func TestVariableBuild(t *testing.T) {
	g := New()
	s := NewScope(g)
	init, err := Const(s, []float32{1, 2, 3})
	require.NoError(t, err)

	v, err := NewVariable().WithName("weights").WithInitialValue(init).Build(s)
	require.NoError(t, err)
	assert.Equal(t, "weights", v.Name())
	assert.True(t, v.Shape().Equal(shapes.Make(dtypes.Float32, 3)))
	assert.Equal(t, dtypes.Float32, v.DType())
	assert.Equal(t, "VariableV2", v.Output().Op().Type())
	require.NotNil(t, v.Initializer())
	assert.Equal(t, "Assign", v.Initializer().Type())
	assert.Equal(t, "weights/Assign", v.Initializer().Name())
	assert.Equal(t, `Variable("weights", (Float32)[3])`, v.String())

	// Default base name, uniquified on reuse.
	v1, err := NewVariable().WithInitialValue(init).Build(s)
	require.NoError(t, err)
	v2, err := NewVariable().WithInitialValue(init).Build(s)
	require.NoError(t, err)
	assert.Equal(t, "Variable", v1.Name())
	assert.Equal(t, "Variable_1", v2.Name())
	assert.Equal(t, "Variable_1/Assign", v2.Initializer().Name())
}

func TestVariableBuildWithoutInitialValue(t *testing.T) {
	g := New()
	s := NewScope(g)

	v, err := NewVariable().
		WithName("state").
		WithShape(shapes.Make(dtypes.Float64, 2, 2)).
		Build(s)
	require.NoError(t, err)
	assert.Nil(t, v.Initializer())
	assert.True(t, v.Shape().Equal(shapes.Make(dtypes.Float64, 2, 2)))

	// Dims through WithShape, dtype through WithDType.
	v, err = NewVariable().
		WithShape(shapes.Shape{Dimensions: []int{4}}).
		WithDType(dtypes.Int32).
		Build(s)
	require.NoError(t, err)
	assert.True(t, v.Shape().Equal(shapes.Make(dtypes.Int32, 4)))

	_, err = NewVariable().WithName("incomplete").Build(s)
	require.ErrorContains(t, err, "initial value, or a shape and dtype")
}

func TestVariableBuildErrors(t *testing.T) {
	g := New()
	s := NewScope(g)
	init, err := Const(s, []float32{1, 2, 3})
	require.NoError(t, err)

	_, err = NewVariable().
		WithInitialValue(init).
		WithDType(dtypes.Float64).
		Build(s)
	require.ErrorContains(t, err, "disagrees with initial value")

	_, err = NewVariable().
		WithInitialValue(init).
		WithShape(shapes.Make(dtypes.Float32, 4)).
		Build(s)
	require.ErrorContains(t, err, "disagrees with initial value")

	_, err = NewVariable().
		WithShape(shapes.Make(dtypes.Float32, 2)).
		WithDType(dtypes.Float64).
		Build(s)
	require.ErrorContains(t, err, "disagrees with shape")

	_, err = NewVariable().WithInitialValue(Output{}).Build(s)
	require.ErrorContains(t, err, "invalid Output")
}

func TestVariableAsOpInput(t *testing.T) {
	g := New()
	s := NewScope(g)
	init, err := Const(s, float32(3))
	require.NoError(t, err)
	v, err := NewVariable().WithName("x").WithInitialValue(init).Build(s)
	require.NoError(t, err)

	// The variable reference is a regular value input for math ops.
	doubled, err := Mul(s, v.Output(), v.Output())
	require.NoError(t, err)
	assert.True(t, doubled.Shape().IsScalar())

	// And the required ref input for in-place updates.
	alpha, err := ConstScalar(s, float32(0.1))
	require.NoError(t, err)
	updated, err := ApplyGradientDescent(s, v.Output(), alpha, doubled)
	require.NoError(t, err)
	assert.True(t, updated.Shape().Equal(v.Shape()))

	// Only variable references can be updated in place.
	_, err = ApplyGradientDescent(s, doubled, alpha, doubled)
	require.ErrorContains(t, err, "variable reference")

	_, err = Assign(s, doubled, init)
	require.ErrorContains(t, err, "variable reference")
}
