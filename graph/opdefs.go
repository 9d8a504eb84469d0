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
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gograd/gograd/types/shapes"
	"github.com/gograd/gograd/types/tensors"
)

// opDef is the static contract of one operation type: arity, which inputs are
// variable references (they carry state, not values), and how output shapes
// derive from inputs and attributes.
type opDef struct {
	numInputs   int
	refInputs   []int
	inferShapes func(op *Operation) ([]shapes.Shape, error)
}

// RefInputs returns the indices of the inputs of opType that are variable
// references rather than values. It returns nil for value-only op types and
// for unknown types.
func RefInputs(opType string) []int {
	def, found := opDefs[opType]
	if !found {
		return nil
	}
	return def.refInputs
}

// IsOpType reports whether opType is a registered operation type.
func IsOpType(opType string) bool {
	_, found := opDefs[opType]
	return found
}

func attrValue[T any](op *Operation, name string) (T, error) {
	var zero T
	v, found := op.attrs[name]
	if !found {
		return zero, errors.Errorf("missing attribute %q", name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.Errorf("attribute %q is a %T, wanted %T", name, v, zero)
	}
	return t, nil
}

func boolAttrOr(op *Operation, name string, defaultValue bool) (bool, error) {
	v, found := op.attrs[name]
	if !found {
		return defaultValue, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.Errorf("attribute %q is a %T, wanted bool", name, v)
	}
	return b, nil
}

func wantFloat(o Output) error {
	if !o.DType().IsFloat() {
		return errors.Errorf("input %s must have a float dtype, got %s", o, o.DType())
	}
	return nil
}

func wantScalar(o Output) error {
	if !o.Shape().IsScalar() {
		return errors.Errorf("input %s must be a scalar, got shape %s", o, o.Shape())
	}
	return nil
}

func wantSameDType(op *Operation) error {
	dtype := op.inputs[0].DType()
	for _, in := range op.inputs[1:] {
		if in.DType() != dtype {
			return errors.Errorf("inputs must share a dtype: %s vs %s", op.inputs[0], in)
		}
	}
	return nil
}

// wantVariableRef checks that input #index is the output of a VariableV2 op,
// the only source of assignable state.
func wantVariableRef(op *Operation, index int) error {
	in := op.inputs[index]
	if in.op.opType != "VariableV2" {
		return errors.Errorf("input #%d must be a variable reference (output of a VariableV2 op), got %s",
			index, in)
	}
	return nil
}

// broadcastShape resolves the shape of an element-wise binary op: operands must
// have identical dimensions, or one of them must be a scalar.
func broadcastShape(a, b shapes.Shape) (shapes.Shape, error) {
	if a.EqualDimensions(b) {
		return a.Clone(), nil
	}
	if a.IsScalar() {
		return b.Clone(), nil
	}
	if b.IsScalar() {
		return a.Clone(), nil
	}
	return shapes.Invalid(), errors.Errorf(
		"shapes %s and %s are incompatible: dimensions must match, or one operand must be a scalar", a, b)
}

func inferSameAsInput(op *Operation) ([]shapes.Shape, error) {
	return []shapes.Shape{op.inputs[0].Shape().Clone()}, nil
}

func inferFloatUnary(op *Operation) ([]shapes.Shape, error) {
	if err := wantFloat(op.inputs[0]); err != nil {
		return nil, err
	}
	return inferSameAsInput(op)
}

func inferBinary(op *Operation) ([]shapes.Shape, error) {
	if err := wantSameDType(op); err != nil {
		return nil, err
	}
	shape, err := broadcastShape(op.inputs[0].Shape(), op.inputs[1].Shape())
	if err != nil {
		return nil, err
	}
	return []shapes.Shape{shape}, nil
}

func inferFloatBinary(op *Operation) ([]shapes.Shape, error) {
	if err := wantFloat(op.inputs[0]); err != nil {
		return nil, err
	}
	return inferBinary(op)
}

func inferReduceAll(op *Operation) ([]shapes.Shape, error) {
	return []shapes.Shape{shapes.Make(op.inputs[0].DType())}, nil
}

func inferShapedSource(op *Operation) ([]shapes.Shape, error) {
	dtype, err := attrValue[dtypes.DType](op, "dtype")
	if err != nil {
		return nil, err
	}
	shape, err := attrValue[shapes.Shape](op, "shape")
	if err != nil {
		return nil, err
	}
	if !shape.Ok() {
		return nil, errors.Errorf("attribute \"shape\" is invalid")
	}
	if shape.DType != dtype {
		return nil, errors.Errorf("attributes disagree: dtype is %s but shape is %s", dtype, shape)
	}
	return []shapes.Shape{shape.Clone()}, nil
}

var opDefs = map[string]opDef{
	// Sources.
	"Const": {numInputs: 0, inferShapes: func(op *Operation) ([]shapes.Shape, error) {
		value, err := attrValue[*tensors.Tensor](op, "value")
		if err != nil {
			return nil, err
		}
		if value == nil || !value.Shape().Ok() {
			return nil, errors.Errorf("attribute \"value\" holds no valid tensor")
		}
		return []shapes.Shape{value.Shape().Clone()}, nil
	}},
	"Placeholder": {numInputs: 0, inferShapes: inferShapedSource},
	"VariableV2":  {numInputs: 0, inferShapes: inferShapedSource},

	// State.
	"Assign": {numInputs: 2, refInputs: []int{0}, inferShapes: func(op *Operation) ([]shapes.Shape, error) {
		if err := wantVariableRef(op, 0); err != nil {
			return nil, err
		}
		ref, value := op.inputs[0].Shape(), op.inputs[1].Shape()
		if !ref.Equal(value) {
			return nil, errors.Errorf("cannot assign value of shape %s to variable of shape %s", value, ref)
		}
		return []shapes.Shape{value.Clone()}, nil
	}},
	"NoOp": {numInputs: 0, inferShapes: func(op *Operation) ([]shapes.Shape, error) {
		return nil, nil
	}},

	// Shape-preserving value ops.
	"ZerosLike": {numInputs: 1, inferShapes: inferSameAsInput},
	"OnesLike":  {numInputs: 1, inferShapes: inferSameAsInput},
	"Cast": {numInputs: 1, inferShapes: func(op *Operation) ([]shapes.Shape, error) {
		dst, err := attrValue[dtypes.DType](op, "DstT")
		if err != nil {
			return nil, err
		}
		shape := op.inputs[0].Shape().Clone()
		shape.DType = dst
		return []shapes.Shape{shape}, nil
	}},

	// Element-wise unary math.
	"Neg":    {numInputs: 1, inferShapes: inferSameAsInput},
	"Abs":    {numInputs: 1, inferShapes: inferSameAsInput},
	"Sign":   {numInputs: 1, inferShapes: inferSameAsInput},
	"Square": {numInputs: 1, inferShapes: inferSameAsInput},
	"Exp":    {numInputs: 1, inferShapes: inferFloatUnary},
	"Log":    {numInputs: 1, inferShapes: inferFloatUnary},
	"Sqrt":   {numInputs: 1, inferShapes: inferFloatUnary},
	"Tanh":   {numInputs: 1, inferShapes: inferFloatUnary},

	// Element-wise binary math.
	"Add":     {numInputs: 2, inferShapes: inferBinary},
	"Sub":     {numInputs: 2, inferShapes: inferBinary},
	"Mul":     {numInputs: 2, inferShapes: inferBinary},
	"Div":     {numInputs: 2, inferShapes: inferBinary},
	"Maximum": {numInputs: 2, inferShapes: inferBinary},
	"Minimum": {numInputs: 2, inferShapes: inferBinary},
	"Pow":     {numInputs: 2, inferShapes: inferFloatBinary},

	// Contractions and reductions.
	"MatMul": {numInputs: 2, inferShapes: func(op *Operation) ([]shapes.Shape, error) {
		if err := wantSameDType(op); err != nil {
			return nil, err
		}
		a, b := op.inputs[0].Shape(), op.inputs[1].Shape()
		if a.Rank() != 2 || b.Rank() != 2 {
			return nil, errors.Errorf("operands must be rank-2, got %s and %s", a, b)
		}
		transposeA, err := boolAttrOr(op, "transpose_a", false)
		if err != nil {
			return nil, err
		}
		transposeB, err := boolAttrOr(op, "transpose_b", false)
		if err != nil {
			return nil, err
		}
		m, k := a.Dimensions[0], a.Dimensions[1]
		if transposeA {
			m, k = k, m
		}
		kOther, n := b.Dimensions[0], b.Dimensions[1]
		if transposeB {
			kOther, n = n, kOther
		}
		if k != kOther {
			return nil, errors.Errorf("inner dimensions do not match: %s x %s (transpose_a=%v, transpose_b=%v)",
				a, b, transposeA, transposeB)
		}
		return []shapes.Shape{shapes.Make(a.DType, m, n)}, nil
	}},
	"ReduceAllSum": {numInputs: 1, inferShapes: inferReduceAll},
	"ReduceAllMean": {numInputs: 1, inferShapes: func(op *Operation) ([]shapes.Shape, error) {
		if err := wantFloat(op.inputs[0]); err != nil {
			return nil, err
		}
		return inferReduceAll(op)
	}},

	// Training updates. They mutate their variable references in place and
	// return the updated primary variable value.
	"ApplyGradientDescent": {numInputs: 3, refInputs: []int{0}, inferShapes: func(op *Operation) ([]shapes.Shape, error) {
		if err := wantVariableRef(op, 0); err != nil {
			return nil, err
		}
		if err := wantSameDType(op); err != nil {
			return nil, err
		}
		if err := wantFloat(op.inputs[0]); err != nil {
			return nil, err
		}
		if err := wantScalar(op.inputs[1]); err != nil {
			return nil, err
		}
		target, delta := op.inputs[0].Shape(), op.inputs[2].Shape()
		if !target.Equal(delta) {
			return nil, errors.Errorf("delta shape %s does not match variable shape %s", delta, target)
		}
		return []shapes.Shape{target.Clone()}, nil
	}},
	"ApplyAdadelta": {numInputs: 7, refInputs: []int{0, 1, 2}, inferShapes: func(op *Operation) ([]shapes.Shape, error) {
		for _, ref := range []int{0, 1, 2} {
			if err := wantVariableRef(op, ref); err != nil {
				return nil, err
			}
		}
		if err := wantSameDType(op); err != nil {
			return nil, err
		}
		if err := wantFloat(op.inputs[0]); err != nil {
			return nil, err
		}
		for _, scalar := range []int{3, 4, 5} {
			if err := wantScalar(op.inputs[scalar]); err != nil {
				return nil, err
			}
		}
		target := op.inputs[0].Shape()
		for _, shaped := range []int{1, 2, 6} {
			if other := op.inputs[shaped].Shape(); !target.Equal(other) {
				return nil, errors.Errorf("input #%d shape %s does not match variable shape %s",
					shaped, other, target)
			}
		}
		return []shapes.Shape{target.Clone()}, nil
	}},
}
