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
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gograd/gograd/types/shapes"
)

// Variable is a graph-resident storage slot with a fixed shape and dtype. It is
// backed by a VariableV2 operation whose output is the variable reference, plus
// (usually) an initializer operation that assigns the initial value when run.
//
// Create variables with NewVariable. The variable's name identifies its storage
// in a session, and is how checkpoints address it.
type Variable struct {
	output      Output
	initializer *Operation
	name        string
	shape       shapes.Shape
}

// Output returns the variable reference. Reading it in a session yields the
// current value; state-mutating ops (Assign, ApplyGradientDescent, ...) take it
// as their ref input.
func (v *Variable) Output() Output { return v.output }

// Initializer returns the operation that assigns the initial value, or nil if
// the variable was built without one (it must then be assigned or restored
// before first read).
func (v *Variable) Initializer() *Operation { return v.initializer }

// Name of the variable, unique within its graph.
func (v *Variable) Name() string { return v.name }

// Shape of the variable.
func (v *Variable) Shape() shapes.Shape { return v.shape }

// DType of the variable.
func (v *Variable) DType() dtypes.DType { return v.shape.DType }

// String implements fmt.Stringer.
func (v *Variable) String() string {
	return fmt.Sprintf("Variable(%q, %s)", v.name, v.shape)
}

// VariableBuilder builds a Variable. Configure it with the With* methods and
// call Build.
//
// Either an initial value or an explicit shape and dtype must be given. When
// both are given they must agree.
type VariableBuilder struct {
	name         string
	initialValue Output
	hasInitial   bool
	shape        shapes.Shape
	hasShape     bool
	dtype        dtypes.DType
}

// NewVariable starts building a Variable.
func NewVariable() *VariableBuilder {
	return &VariableBuilder{}
}

// WithName sets the base name of the variable. It defaults to "Variable", and
// is uniquified under the scope given to Build.
func (b *VariableBuilder) WithName(name string) *VariableBuilder {
	b.name = name
	return b
}

// WithInitialValue sets the value assigned by the variable's initializer. The
// variable takes its shape and dtype from it.
func (b *VariableBuilder) WithInitialValue(value Output) *VariableBuilder {
	b.initialValue = value
	b.hasInitial = true
	return b
}

// WithShape declares the variable's shape, for variables built without an
// initial value. The shape's DType may be left unset if WithDType is used.
func (b *VariableBuilder) WithShape(shape shapes.Shape) *VariableBuilder {
	b.shape = shape
	b.hasShape = true
	return b
}

// WithDType declares the variable's dtype, for variables built without an
// initial value.
func (b *VariableBuilder) WithDType(dtype dtypes.DType) *VariableBuilder {
	b.dtype = dtype
	return b
}

// Build creates the VariableV2 operation (and the initializer, if an initial
// value was given) in the given scope and returns the Variable.
func (b *VariableBuilder) Build(s *Scope) (*Variable, error) {
	name := b.name
	if name == "" {
		name = "Variable"
	}
	shape := b.shape
	if b.dtype != dtypes.InvalidDType {
		if shape.DType != dtypes.InvalidDType && shape.DType != b.dtype {
			return nil, errors.Errorf("variable %q: dtype %s disagrees with shape %s", name, b.dtype, shape)
		}
		shape.DType = b.dtype
	}
	if b.hasInitial {
		if !b.initialValue.Valid() {
			return nil, errors.Errorf("variable %q: initial value is an invalid Output", name)
		}
		ivShape := b.initialValue.Shape()
		if shape.DType != dtypes.InvalidDType && shape.DType != ivShape.DType {
			return nil, errors.Errorf("variable %q: declared dtype %s disagrees with initial value %s",
				name, shape.DType, b.initialValue)
		}
		if b.hasShape && !shape.EqualDimensions(ivShape) {
			return nil, errors.Errorf("variable %q: declared shape %s disagrees with initial value %s",
				name, shape, b.initialValue)
		}
		shape = ivShape.Clone()
	}
	if !shape.Ok() {
		return nil, errors.Errorf("variable %q: an initial value, or a shape and dtype, is required", name)
	}

	v2, err := s.newOp("VariableV2", name).
		SetAttr("dtype", shape.DType).
		SetAttr("shape", shape).
		Finish()
	if err != nil {
		return nil, err
	}
	v := &Variable{
		output: v2.Output(0),
		name:   v2.Name(),
		shape:  shape,
	}
	if !b.hasInitial {
		return v, nil
	}

	// The initializer is named after the final (uniquified) variable name, so
	// "x" pairs with "x/Assign".
	initSpec := s.graph.NewOperation("Assign", s.graph.reserveName(v.name+"/Assign"))
	for _, dep := range s.controlDeps {
		initSpec.AddControlInput(dep)
	}
	init, err := initSpec.
		AddInput(v.output).
		AddInput(b.initialValue).
		Finish()
	if err != nil {
		return nil, err
	}
	v.initializer = init
	return v, nil
}
