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

	"github.com/gomlx/exceptions"

	"github.com/gograd/gograd/types/shapes"
	"github.com/gograd/gograd/types/tensors"
)

func unaryOp(s *Scope, opType string, x Output) (Output, error) {
	op, err := s.newOp(opType, "").AddInput(x).Finish()
	if err != nil {
		return Output{}, err
	}
	return op.Output(0), nil
}

func binaryOp(s *Scope, opType string, x, y Output) (Output, error) {
	op, err := s.newOp(opType, "").AddInput(x).AddInput(y).Finish()
	if err != nil {
		return Output{}, err
	}
	return op.Output(0), nil
}

// Const creates a constant from the given value: a *tensors.Tensor, a Go scalar
// or a (multi-dimensional, regular) slice.
func Const(s *Scope, value any) (Output, error) {
	var t *tensors.Tensor
	if err := exceptions.TryCatch[error](func() { t = tensors.FromAnyValue(value) }); err != nil {
		return Output{}, err
	}
	op, err := s.newOp("Const", "").SetAttr("value", t).Finish()
	if err != nil {
		return Output{}, err
	}
	return op.Output(0), nil
}

// ConstScalar creates a scalar constant of the dtype matching T.
func ConstScalar[T dtypes.Supported](s *Scope, value T) (Output, error) {
	return Const(s, tensors.FromScalar(value))
}

// ConstCastScalar creates a scalar constant of the given dtype, converting
// value to it. Handy for hyperparameters whose dtype follows the variable they
// apply to.
func ConstCastScalar(s *Scope, value float64, dtype dtypes.DType) (Output, error) {
	if dtype == dtypes.InvalidDType {
		return Output{}, errors.Errorf("ConstCastScalar: invalid dtype")
	}
	var converted any
	if err := exceptions.TryCatch[error](func() { converted = shapes.CastAsDType(value, dtype) }); err != nil {
		return Output{}, err
	}
	return Const(s, converted)
}

// Placeholder creates an input to be fed at run time with a value of the given
// shape. Running a graph that reads an unfed placeholder fails.
func Placeholder(s *Scope, shape shapes.Shape) (Output, error) {
	if !shape.Ok() {
		return Output{}, errors.Errorf("Placeholder: invalid shape %s", shape)
	}
	op, err := s.newOp("Placeholder", "").
		SetAttr("dtype", shape.DType).
		SetAttr("shape", shape).
		Finish()
	if err != nil {
		return Output{}, err
	}
	return op.Output(0), nil
}

// Assign writes value into the variable behind ref and yields the assigned
// value. ref must be the output of a VariableV2 operation.
func Assign(s *Scope, ref, value Output) (Output, error) {
	return binaryOp(s, "Assign", ref, value)
}

// NoOp creates an operation that computes nothing. Combined with
// Scope.WithControlDependencies it joins several operations into a single
// handle that runs them all.
func NoOp(s *Scope) (*Operation, error) {
	return s.newOp("NoOp", "").Finish()
}

// ZerosLike returns a value of the same shape and dtype as x, with every
// element zero.
func ZerosLike(s *Scope, x Output) (Output, error) {
	return unaryOp(s, "ZerosLike", x)
}

// OnesLike returns a value of the same shape and dtype as x, with every
// element one.
func OnesLike(s *Scope, x Output) (Output, error) {
	return unaryOp(s, "OnesLike", x)
}

// Cast converts x element-wise to the given dtype.
func Cast(s *Scope, x Output, dtype dtypes.DType) (Output, error) {
	op, err := s.newOp("Cast", "").AddInput(x).SetAttr("DstT", dtype).Finish()
	if err != nil {
		return Output{}, err
	}
	return op.Output(0), nil
}
