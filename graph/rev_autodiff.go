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
	"github.com/pkg/errors"

	"github.com/gograd/gograd/types/shapes"
)

// vjp (vector-jacobian product) builds the contribution of op to the adjoint of
// each of its inputs, given the adjoint of its output. An invalid Output entry
// means "no contribution" (an everywhere-zero gradient); the caller then simply
// skips that input.
//
// All registered op types produce exactly one output, so the adjoint is a
// single value.
type vjp func(s *Scope, op *Operation, adjoint Output) ([]Output, error)

// vjpRegistration maps op types to their gradient rule. Op types absent from
// the map (Assign, the Apply* updates, Maximum, Minimum) make Gradients fail
// when they sit on the differentiation path.
var vjpRegistration = map[string]vjp{
	"Add":           addVJP,
	"Sub":           subVJP,
	"Mul":           mulVJP,
	"Div":           divVJP,
	"Pow":           powVJP,
	"Neg":           negVJP,
	"Abs":           absVJP,
	"Sign":          noGradientVJP,
	"Exp":           expVJP,
	"Log":           logVJP,
	"Sqrt":          sqrtVJP,
	"Square":        squareVJP,
	"Tanh":          tanhVJP,
	"Cast":          castVJP,
	"MatMul":        matMulVJP,
	"ReduceAllSum":  reduceAllSumVJP,
	"ReduceAllMean": reduceAllMeanVJP,
	"ZerosLike":     noGradientVJP,
	"OnesLike":      noGradientVJP,
}

// Gradients builds the gradient subgraph for the partial derivatives of the sum
// of ys with respect to each of xs, and returns them in xs order.
//
// An entry of the result is nil when the corresponding x does not influence any
// y; no gradient node is built for it. The nil is a value for the caller to
// interpret (optimizers skip the variable), not an error.
//
// New operations are placed under a "gradients" sub-scope of s ("gradients_1",
// ... on later calls). Gradients fails if an operation on a path from an x to a
// y has no registered gradient.
func Gradients(s *Scope, ys, xs []Output) ([]*Output, error) {
	g := s.Graph()
	if len(ys) == 0 {
		return nil, errors.Errorf("Gradients: at least one y is required")
	}
	for _, y := range ys {
		if !y.Valid() {
			return nil, errors.Errorf("Gradients: invalid Output among ys")
		}
		if y.Op().Graph() != g {
			return nil, errors.Errorf("Gradients: y %s belongs to a different graph", y)
		}
	}
	for _, x := range xs {
		if !x.Valid() {
			return nil, errors.Errorf("Gradients: invalid Output among xs")
		}
		if x.Op().Graph() != g {
			return nil, errors.Errorf("Gradients: x %s belongs to a different graph", x)
		}
	}

	// Adjoints only flow through operations that both reach a y and are fed by
	// an x, following data edges (control inputs carry no value).
	ancestors := make(map[*Operation]bool)
	var visitUp func(op *Operation)
	visitUp = func(op *Operation) {
		if ancestors[op] {
			return
		}
		ancestors[op] = true
		for _, in := range op.inputs {
			visitUp(in.op)
		}
	}
	for _, y := range ys {
		visitUp(y.op)
	}

	consumers := make(map[*Operation][]*Operation)
	for _, op := range g.operations {
		for _, in := range op.inputs {
			consumers[in.op] = append(consumers[in.op], op)
		}
	}
	descendants := make(map[*Operation]bool)
	var visitDown func(op *Operation)
	visitDown = func(op *Operation) {
		if descendants[op] {
			return
		}
		descendants[op] = true
		for _, consumer := range consumers[op] {
			visitDown(consumer)
		}
	}
	for _, x := range xs {
		visitDown(x.op)
	}
	onPath := func(op *Operation) bool { return ancestors[op] && descendants[op] }

	gradScope := s.SubScope("gradients")
	adjoints := make(map[*Operation]Output)
	accumulate := func(target Output, contribution Output) error {
		previous, found := adjoints[target.op]
		if !found {
			adjoints[target.op] = contribution
			return nil
		}
		sum, err := Add(gradScope, previous, contribution)
		if err != nil {
			return err
		}
		adjoints[target.op] = sum
		return nil
	}

	for _, y := range ys {
		if !onPath(y.op) {
			continue
		}
		seed, err := OnesLike(gradScope, y)
		if err != nil {
			return nil, err
		}
		if err := accumulate(y, seed); err != nil {
			return nil, err
		}
	}

	// Sweep the pre-existing operations from newest to oldest. Consumers always
	// have larger ids than their inputs, so an operation's adjoint is complete
	// by the time the sweep reaches it. Operations appended during the sweep
	// (the gradient nodes themselves) are beyond the snapshot and not visited.
	snapshot := g.operations
	for i := len(snapshot) - 1; i >= 0; i-- {
		op := snapshot[i]
		if len(op.inputs) == 0 || !onPath(op) {
			continue
		}
		adjoint, found := adjoints[op]
		if !found {
			continue
		}
		rule, registered := vjpRegistration[op.opType]
		if !registered {
			return nil, errors.Errorf("Gradients: no gradient defined for operation %s", op)
		}
		opScope := gradScope.SubScope(op.name + "_grad")
		contributions, err := rule(opScope, op, adjoint)
		if err != nil {
			return nil, errors.WithMessagef(err, "building gradient of %s", op)
		}
		if len(contributions) != len(op.inputs) {
			return nil, errors.Errorf("gradient rule for %s returned %d contribution(s) for %d input(s)",
				op, len(contributions), len(op.inputs))
		}
		for ii, contribution := range contributions {
			if !contribution.Valid() {
				continue
			}
			in := op.inputs[ii]
			if !onPath(in.op) {
				continue
			}
			if err := accumulate(in, contribution); err != nil {
				return nil, err
			}
		}
	}

	grads := make([]*Output, len(xs))
	for i, x := range xs {
		if adjoint, found := adjoints[x.op]; found {
			grads[i] = &adjoint
		}
	}
	return grads, nil
}

// Gradient is the single-y convenience form of Gradients.
func Gradient(s *Scope, y Output, xs ...Output) ([]*Output, error) {
	return Gradients(s, []Output{y}, xs)
}

// reduceForBroadcast folds a gradient back to the shape of the operand it
// belongs to: the identity when shapes already agree, a full sum when the
// operand was a broadcast scalar.
func reduceForBroadcast(s *Scope, grad Output, operand shapes.Shape) (Output, error) {
	if grad.Shape().EqualDimensions(operand) {
		return grad, nil
	}
	if operand.IsScalar() {
		return ReduceAllSum(s, grad)
	}
	return Output{}, errors.Errorf("cannot reduce gradient of shape %s to operand shape %s",
		grad.Shape(), operand)
}

func noGradientVJP(_ *Scope, op *Operation, _ Output) ([]Output, error) {
	return make([]Output, len(op.inputs)), nil
}

func addVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	a, b := op.inputs[0], op.inputs[1]
	da, err := reduceForBroadcast(s, adjoint, a.Shape())
	if err != nil {
		return nil, err
	}
	db, err := reduceForBroadcast(s, adjoint, b.Shape())
	if err != nil {
		return nil, err
	}
	return []Output{da, db}, nil
}

func subVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	a, b := op.inputs[0], op.inputs[1]
	da, err := reduceForBroadcast(s, adjoint, a.Shape())
	if err != nil {
		return nil, err
	}
	db, err := Neg(s, adjoint)
	if err != nil {
		return nil, err
	}
	db, err = reduceForBroadcast(s, db, b.Shape())
	if err != nil {
		return nil, err
	}
	return []Output{da, db}, nil
}

func mulVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	a, b := op.inputs[0], op.inputs[1]
	da, err := Mul(s, adjoint, b)
	if err != nil {
		return nil, err
	}
	da, err = reduceForBroadcast(s, da, a.Shape())
	if err != nil {
		return nil, err
	}
	db, err := Mul(s, adjoint, a)
	if err != nil {
		return nil, err
	}
	db, err = reduceForBroadcast(s, db, b.Shape())
	if err != nil {
		return nil, err
	}
	return []Output{da, db}, nil
}

func divVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	a, b := op.inputs[0], op.inputs[1]
	da, err := Div(s, adjoint, b)
	if err != nil {
		return nil, err
	}
	da, err = reduceForBroadcast(s, da, a.Shape())
	if err != nil {
		return nil, err
	}
	// d(a/b)/db = -a/b².
	num, err := Mul(s, adjoint, a)
	if err != nil {
		return nil, err
	}
	den, err := Square(s, b)
	if err != nil {
		return nil, err
	}
	db, err := Div(s, num, den)
	if err != nil {
		return nil, err
	}
	db, err = Neg(s, db)
	if err != nil {
		return nil, err
	}
	db, err = reduceForBroadcast(s, db, b.Shape())
	if err != nil {
		return nil, err
	}
	return []Output{da, db}, nil
}

func powVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	a, b := op.inputs[0], op.inputs[1]
	y := op.Output(0)
	// d(a^b)/da = b·a^(b-1).
	one, err := ConstCastScalar(s, 1, b.DType())
	if err != nil {
		return nil, err
	}
	bMinus1, err := Sub(s, b, one)
	if err != nil {
		return nil, err
	}
	powered, err := Pow(s, a, bMinus1)
	if err != nil {
		return nil, err
	}
	da, err := Mul(s, b, powered)
	if err != nil {
		return nil, err
	}
	da, err = Mul(s, adjoint, da)
	if err != nil {
		return nil, err
	}
	da, err = reduceForBroadcast(s, da, a.Shape())
	if err != nil {
		return nil, err
	}
	// d(a^b)/db = a^b·ln(a).
	logA, err := Log(s, a)
	if err != nil {
		return nil, err
	}
	db, err := Mul(s, y, logA)
	if err != nil {
		return nil, err
	}
	db, err = Mul(s, adjoint, db)
	if err != nil {
		return nil, err
	}
	db, err = reduceForBroadcast(s, db, b.Shape())
	if err != nil {
		return nil, err
	}
	return []Output{da, db}, nil
}

func negVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	da, err := Neg(s, adjoint)
	if err != nil {
		return nil, err
	}
	return []Output{da}, nil
}

func absVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	sign, err := Sign(s, op.inputs[0])
	if err != nil {
		return nil, err
	}
	da, err := Mul(s, adjoint, sign)
	if err != nil {
		return nil, err
	}
	return []Output{da}, nil
}

func expVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	da, err := Mul(s, adjoint, op.Output(0))
	if err != nil {
		return nil, err
	}
	return []Output{da}, nil
}

func logVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	da, err := Div(s, adjoint, op.inputs[0])
	if err != nil {
		return nil, err
	}
	return []Output{da}, nil
}

func sqrtVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	// d(√a)/da = 1/(2√a) = 0.5/y.
	half, err := ConstCastScalar(s, 0.5, adjoint.DType())
	if err != nil {
		return nil, err
	}
	da, err := Mul(s, adjoint, half)
	if err != nil {
		return nil, err
	}
	da, err = Div(s, da, op.Output(0))
	if err != nil {
		return nil, err
	}
	return []Output{da}, nil
}

func squareVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	two, err := ConstCastScalar(s, 2, adjoint.DType())
	if err != nil {
		return nil, err
	}
	da, err := Mul(s, two, op.inputs[0])
	if err != nil {
		return nil, err
	}
	da, err = Mul(s, adjoint, da)
	if err != nil {
		return nil, err
	}
	return []Output{da}, nil
}

func tanhVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	// d(tanh a)/da = 1 - tanh²a.
	one, err := ConstCastScalar(s, 1, adjoint.DType())
	if err != nil {
		return nil, err
	}
	squared, err := Square(s, op.Output(0))
	if err != nil {
		return nil, err
	}
	da, err := Sub(s, one, squared)
	if err != nil {
		return nil, err
	}
	da, err = Mul(s, adjoint, da)
	if err != nil {
		return nil, err
	}
	return []Output{da}, nil
}

func castVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	src := op.inputs[0].DType()
	if !src.IsFloat() || !adjoint.DType().IsFloat() {
		// Casts from or to non-float dtypes are not differentiable.
		return make([]Output, len(op.inputs)), nil
	}
	da, err := Cast(s, adjoint, src)
	if err != nil {
		return nil, err
	}
	return []Output{da}, nil
}

func matMulVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	a, b := op.inputs[0], op.inputs[1]
	transposeA, err := boolAttrOr(op, "transpose_a", false)
	if err != nil {
		return nil, err
	}
	transposeB, err := boolAttrOr(op, "transpose_b", false)
	if err != nil {
		return nil, err
	}
	var da, db Output
	switch {
	case !transposeA && !transposeB:
		// y = a·b: da = g·bᵀ, db = aᵀ·g.
		da, err = MatMul(s, adjoint, b, MatMulTransposeB(true))
		if err != nil {
			return nil, err
		}
		db, err = MatMul(s, a, adjoint, MatMulTransposeA(true))
	case !transposeA && transposeB:
		// y = a·bᵀ: da = g·b, db = gᵀ·a.
		da, err = MatMul(s, adjoint, b)
		if err != nil {
			return nil, err
		}
		db, err = MatMul(s, adjoint, a, MatMulTransposeA(true))
	case transposeA && !transposeB:
		// y = aᵀ·b: da = b·gᵀ, db = a·g.
		da, err = MatMul(s, b, adjoint, MatMulTransposeB(true))
		if err != nil {
			return nil, err
		}
		db, err = MatMul(s, a, adjoint)
	default:
		// y = aᵀ·bᵀ: da = bᵀ·gᵀ, db = gᵀ·aᵀ.
		da, err = MatMul(s, b, adjoint, MatMulTransposeA(true), MatMulTransposeB(true))
		if err != nil {
			return nil, err
		}
		db, err = MatMul(s, adjoint, a, MatMulTransposeA(true), MatMulTransposeB(true))
	}
	if err != nil {
		return nil, err
	}
	return []Output{da, db}, nil
}

func reduceAllSumVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	ones, err := OnesLike(s, op.inputs[0])
	if err != nil {
		return nil, err
	}
	da, err := Mul(s, ones, adjoint)
	if err != nil {
		return nil, err
	}
	return []Output{da}, nil
}

func reduceAllMeanVJP(s *Scope, op *Operation, adjoint Output) ([]Output, error) {
	x := op.inputs[0]
	ones, err := OnesLike(s, x)
	if err != nil {
		return nil, err
	}
	da, err := Mul(s, ones, adjoint)
	if err != nil {
		return nil, err
	}
	size, err := ConstCastScalar(s, float64(x.Shape().Size()), x.DType())
	if err != nil {
		return nil, err
	}
	da, err = Div(s, da, size)
	if err != nil {
		return nil, err
	}
	return []Output{da}, nil
}
