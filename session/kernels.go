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

package session

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gograd/gograd/graph"
	"github.com/gograd/gograd/types/tensors"
)

// PODFloatConstraints are the plain-old-data float types the arithmetic
// kernels support. Float16 is storage-only: convert with Cast before
// computing.
type PODFloatConstraints interface {
	float32 | float64
}

// PODNumericConstraints adds the supported integer types.
type PODNumericConstraints interface {
	int32 | int64 | float32 | float64
}

// kernelFn executes one operation: inputs come in op-input order, with nil at
// ref-input positions. It returns one tensor per output of the operation.
// Kernels never mutate their input tensors; state-mutating ops write to the
// session's variable storage instead.
type kernelFn func(run *runContext, op *graph.Operation, inputs []*tensors.Tensor) ([]*tensors.Tensor, error)

// kernels maps operation types to their executor. Op types absent here fail at
// run time, not at graph-construction time.
var kernels = map[string]kernelFn{
	"Const":       execConst,
	"Placeholder": execPlaceholder,
	"VariableV2":  execVariable,
	"Assign":      execAssign,
	"NoOp":        execNoOp,

	"ZerosLike": execZerosLike,
	"OnesLike":  execOnesLike,
	"Cast":      execCast,

	"Neg":    execUnary,
	"Abs":    execUnary,
	"Sign":   execUnary,
	"Exp":    execUnary,
	"Log":    execUnary,
	"Sqrt":   execUnary,
	"Square": execUnary,
	"Tanh":   execUnary,

	"Add":     execBinary,
	"Sub":     execBinary,
	"Mul":     execBinary,
	"Div":     execBinary,
	"Pow":     execBinary,
	"Maximum": execBinary,
	"Minimum": execBinary,

	"MatMul":        execMatMul,
	"ReduceAllSum":  execReduceAll,
	"ReduceAllMean": execReduceAll,

	"ApplyGradientDescent": execApplyGradientDescent,
	"ApplyAdadelta":        execApplyAdadelta,
}

func execConst(_ *runContext, op *graph.Operation, _ []*tensors.Tensor) ([]*tensors.Tensor, error) {
	value, found := op.Attr("value")
	if !found {
		return nil, errors.Errorf("constant has no value attribute")
	}
	t, ok := value.(*tensors.Tensor)
	if !ok {
		return nil, errors.Errorf("constant value attribute is a %T", value)
	}
	// The attribute tensor is shared by every run; hand out a copy.
	return []*tensors.Tensor{t.Clone()}, nil
}

func execPlaceholder(_ *runContext, op *graph.Operation, _ []*tensors.Tensor) ([]*tensors.Tensor, error) {
	return nil, errors.Errorf("placeholder %q was not fed", op.Name())
}

func execVariable(run *runContext, op *graph.Operation, _ []*tensors.Tensor) ([]*tensors.Tensor, error) {
	stored := run.sess.vars[op.Name()]
	if stored == nil {
		return nil, errors.Errorf("variable %q was not initialized: run its initializer or restore a value",
			op.Name())
	}
	// Snapshot, so later in-place updates don't alter what was read.
	return []*tensors.Tensor{stored.Clone()}, nil
}

func execAssign(run *runContext, op *graph.Operation, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	name := op.Inputs()[0].Op().Name()
	value := inputs[1]
	run.sess.vars[name] = value.Clone()
	return []*tensors.Tensor{value}, nil
}

func execNoOp(_ *runContext, _ *graph.Operation, _ []*tensors.Tensor) ([]*tensors.Tensor, error) {
	return nil, nil
}

// mutableVariable returns the live storage of the variable behind the ref
// input at position index.
func mutableVariable(run *runContext, op *graph.Operation, index int) (*tensors.Tensor, error) {
	name := op.Inputs()[index].Op().Name()
	stored := run.sess.vars[name]
	if stored == nil {
		return nil, errors.Errorf("variable %q was not initialized: run its initializer or restore a value", name)
	}
	return stored, nil
}

func execApplyGradientDescent(run *runContext, op *graph.Operation, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	target, err := mutableVariable(run, op, 0)
	if err != nil {
		return nil, err
	}
	alpha, delta := inputs[1], inputs[2]
	switch target.DType() {
	case dtypes.Float32:
		execApplyGradientDescentGeneric[float32](target, alpha, delta)
	case dtypes.Float64:
		execApplyGradientDescentGeneric[float64](target, alpha, delta)
	default:
		return nil, errors.Errorf("unsupported data type %s for %s", target.DType(), op.Type())
	}
	return []*tensors.Tensor{target.Clone()}, nil
}

func execApplyGradientDescentGeneric[T PODFloatConstraints](target, alpha, delta *tensors.Tensor) {
	rate := tensors.ToScalar[T](alpha)
	tensors.MutableFlatData(target, func(targetFlat []T) {
		tensors.ConstFlatData(delta, func(deltaFlat []T) {
			for i := range targetFlat {
				targetFlat[i] -= rate * deltaFlat[i]
			}
		})
	})
}

func execApplyAdadelta(run *runContext, op *graph.Operation, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	target, err := mutableVariable(run, op, 0)
	if err != nil {
		return nil, err
	}
	accum, err := mutableVariable(run, op, 1)
	if err != nil {
		return nil, err
	}
	accumUpdate, err := mutableVariable(run, op, 2)
	if err != nil {
		return nil, err
	}
	lr, rho, epsilon, grad := inputs[3], inputs[4], inputs[5], inputs[6]
	switch target.DType() {
	case dtypes.Float32:
		execApplyAdadeltaGeneric[float32](target, accum, accumUpdate, lr, rho, epsilon, grad)
	case dtypes.Float64:
		execApplyAdadeltaGeneric[float64](target, accum, accumUpdate, lr, rho, epsilon, grad)
	default:
		return nil, errors.Errorf("unsupported data type %s for %s", target.DType(), op.Type())
	}
	return []*tensors.Tensor{target.Clone()}, nil
}

func execApplyAdadeltaGeneric[T PODFloatConstraints](target, accum, accumUpdate, lr, rho, epsilon, grad *tensors.Tensor) {
	rate := tensors.ToScalar[T](lr)
	decay := tensors.ToScalar[T](rho)
	eps := tensors.ToScalar[T](epsilon)
	tensors.MutableFlatData(target, func(targetFlat []T) {
		tensors.MutableFlatData(accum, func(accumFlat []T) {
			tensors.MutableFlatData(accumUpdate, func(accumUpdateFlat []T) {
				tensors.ConstFlatData(grad, func(gradFlat []T) {
					for i := range targetFlat {
						g := gradFlat[i]
						accumFlat[i] = decay*accumFlat[i] + (1-decay)*g*g
						update := T(math.Sqrt(float64(accumUpdateFlat[i]+eps))/
							math.Sqrt(float64(accumFlat[i]+eps))) * g
						accumUpdateFlat[i] = decay*accumUpdateFlat[i] + (1-decay)*update*update
						targetFlat[i] -= rate * update
					}
				})
			})
		})
	})
}
