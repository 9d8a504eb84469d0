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

package session_test

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"

	"github.com/gograd/gograd/graph"
	"github.com/gograd/gograd/graph/graphtest"
	"github.com/gograd/gograd/types/shapes"
)

var (
	// Aliases:

	MakeShape = shapes.Make
	F16       = dtypes.Float16
	F32       = dtypes.Float32
	F64       = dtypes.Float64

	Epsilon = 1e-4
)

func TestUnaryOps(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Neg", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float32{1.5, -2, 0}))
		return []graph.Output{must.M1(graph.Neg(s, x))}
	}, []any{[]float32{-1.5, 2, 0}}, Epsilon)

	graphtest.RunTestGraphFn(t, "Abs", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float32{-1.5, 2, 0}))
		return []graph.Output{must.M1(graph.Abs(s, x))}
	}, []any{[]float32{1.5, 2, 0}}, Epsilon)

	graphtest.RunTestGraphFn(t, "Sign", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float64{-3, 0, 5}))
		return []graph.Output{must.M1(graph.Sign(s, x))}
	}, []any{[]float64{-1, 0, 1}}, Epsilon)

	graphtest.RunTestGraphFn(t, "Exp and Log", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float64{0, 1}))
		y := must.M1(graph.Const(s, []float64{1, math.E * math.E}))
		return []graph.Output{
			must.M1(graph.Exp(s, x)),
			must.M1(graph.Log(s, y)),
		}
	}, []any{[]float64{1, math.E}, []float64{0, 2}}, Epsilon)

	graphtest.RunTestGraphFn(t, "Sqrt and Square", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float32{4, 9}))
		y := must.M1(graph.Const(s, []float32{3, -2}))
		return []graph.Output{
			must.M1(graph.Sqrt(s, x)),
			must.M1(graph.Square(s, y)),
		}
	}, []any{[]float32{2, 3}, []float32{9, 4}}, Epsilon)

	graphtest.RunTestGraphFn(t, "Tanh", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float64{0, 20, -20}))
		return []graph.Output{must.M1(graph.Tanh(s, x))}
	}, []any{[]float64{0, 1, -1}}, Epsilon)

	graphtest.RunTestGraphFn(t, "Integer unary", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []int32{1, -2, 0}))
		y := must.M1(graph.Const(s, []int64{-7, 3}))
		return []graph.Output{
			must.M1(graph.Neg(s, x)),
			must.M1(graph.Abs(s, x)),
			must.M1(graph.Sign(s, x)),
			must.M1(graph.Square(s, y)),
		}
	}, []any{[]int32{-1, 2, 0}, []int32{1, 2, 0}, []int32{1, -1, 0}, []int64{49, 9}}, 1)
}

func TestBinaryOps(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Add, Sub, Mul, Div", func(s *graph.Scope) []graph.Output {
		a := must.M1(graph.Const(s, []float32{1, 2, 3}))
		b := must.M1(graph.Const(s, []float32{10, 20, 30}))
		return []graph.Output{
			must.M1(graph.Add(s, a, b)),
			must.M1(graph.Sub(s, b, a)),
			must.M1(graph.Mul(s, a, b)),
			must.M1(graph.Div(s, b, a)),
		}
	}, []any{
		[]float32{11, 22, 33},
		[]float32{9, 18, 27},
		[]float32{10, 40, 90},
		[]float32{10, 10, 10},
	}, Epsilon)

	graphtest.RunTestGraphFn(t, "Scalar broadcast", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float32{1, 2, 3}))
		ten := must.M1(graph.ConstScalar[float32](s, 10))
		return []graph.Output{
			must.M1(graph.Add(s, x, ten)),
			must.M1(graph.Sub(s, ten, x)),
		}
	}, []any{[]float32{11, 12, 13}, []float32{9, 8, 7}}, Epsilon)

	graphtest.RunTestGraphFn(t, "Pow", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float64{2, 3}))
		three := must.M1(graph.ConstScalar[float64](s, 3))
		return []graph.Output{must.M1(graph.Pow(s, x, three))}
	}, []any{[]float64{8, 27}}, Epsilon)

	graphtest.RunTestGraphFn(t, "Maximum and Minimum", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float32{1, -2, 5}))
		zero := must.M1(graph.ConstScalar[float32](s, 0))
		return []graph.Output{
			must.M1(graph.Maximum(s, x, zero)),
			must.M1(graph.Minimum(s, x, zero)),
		}
	}, []any{[]float32{1, 0, 5}, []float32{0, -2, 0}}, Epsilon)

	graphtest.RunTestGraphFn(t, "Integer binary", func(s *graph.Scope) []graph.Output {
		a := must.M1(graph.Const(s, []int32{1, 2}))
		b := must.M1(graph.Const(s, []int32{3, 4}))
		c := must.M1(graph.Const(s, []int64{9}))
		d := must.M1(graph.Const(s, []int64{5}))
		return []graph.Output{
			must.M1(graph.Add(s, a, b)),
			must.M1(graph.Mul(s, a, b)),
			must.M1(graph.Maximum(s, c, d)),
			must.M1(graph.Div(s, c, d)),
		}
	}, []any{[]int32{4, 6}, []int32{3, 8}, []int64{9}, []int64{1}}, 1)
}

func TestMatMul(t *testing.T) {
	graphtest.RunTestGraphFn(t, "MatMul rectangular", func(s *graph.Scope) []graph.Output {
		a := must.M1(graph.Const(s, [][]float32{{1, 2, 3}, {4, 5, 6}}))
		b := must.M1(graph.Const(s, [][]float32{{1, 2}, {3, 4}, {5, 6}}))
		return []graph.Output{must.M1(graph.MatMul(s, a, b))}
	}, []any{[][]float32{{22, 28}, {49, 64}}}, Epsilon)

	graphtest.RunTestGraphFn(t, "MatMul transposes", func(s *graph.Scope) []graph.Output {
		a := must.M1(graph.Const(s, [][]float64{{1, 2}, {3, 4}}))
		b := must.M1(graph.Const(s, [][]float64{{5, 6}, {7, 8}}))
		return []graph.Output{
			must.M1(graph.MatMul(s, a, b)),
			must.M1(graph.MatMul(s, a, b, graph.MatMulTransposeA(true))),
			must.M1(graph.MatMul(s, a, b, graph.MatMulTransposeB(true))),
			must.M1(graph.MatMul(s, a, b, graph.MatMulTransposeA(true), graph.MatMulTransposeB(true))),
		}
	}, []any{
		[][]float64{{19, 22}, {43, 50}},
		[][]float64{{26, 30}, {38, 44}},
		[][]float64{{17, 23}, {39, 53}},
		[][]float64{{23, 31}, {34, 46}},
	}, Epsilon)
}

func TestReduceOps(t *testing.T) {
	graphtest.RunTestGraphFn(t, "ReduceAllSum and ReduceAllMean", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, [][]float32{{1, 2}, {3, 4}}))
		return []graph.Output{
			must.M1(graph.ReduceAllSum(s, x)),
			must.M1(graph.ReduceAllMean(s, x)),
		}
	}, []any{float32(10), float32(2.5)}, Epsilon)

	graphtest.RunTestGraphFn(t, "ReduceAllSum integer", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []int64{1, 2, 3}))
		return []graph.Output{must.M1(graph.ReduceAllSum(s, x))}
	}, []any{int64(6)}, 1)

	graphtest.RunTestGraphFn(t, "ReduceAllSum scalar", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.ConstScalar[float64](s, 7))
		return []graph.Output{must.M1(graph.ReduceAllSum(s, x))}
	}, []any{7.0}, Epsilon)
}

func TestShapeSourceOps(t *testing.T) {
	graphtest.RunTestGraphFn(t, "ZerosLike and OnesLike", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, [][]float32{{1, 2, 3}, {4, 5, 6}}))
		y := must.M1(graph.Const(s, []int32{7, 8}))
		return []graph.Output{
			must.M1(graph.ZerosLike(s, x)),
			must.M1(graph.OnesLike(s, x)),
			must.M1(graph.OnesLike(s, y)),
		}
	}, []any{
		MakeShape(F32, 2, 3),
		[][]float32{{1, 1, 1}, {1, 1, 1}},
		[]int32{1, 1},
	}, Epsilon)
}

func TestCast(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Cast between numeric types", func(s *graph.Scope) []graph.Output {
		ints := must.M1(graph.Const(s, []int32{1, 2, -3}))
		floats := must.M1(graph.Const(s, []float64{1.7, -2.3}))
		return []graph.Output{
			must.M1(graph.Cast(s, ints, F64)),
			must.M1(graph.Cast(s, floats, F32)),
			must.M1(graph.Cast(s, floats, F64)),
		}
	}, []any{
		[]float64{1, 2, -3},
		[]float32{1.7, -2.3},
		[]float64{1.7, -2.3},
	}, Epsilon)

	// Conversion to integer truncates towards zero.
	graphtest.RunTestGraphFn(t, "Cast to integer", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float64{1.7, -2.3, 0.5}))
		return []graph.Output{must.M1(graph.Cast(s, x, dtypes.Int32))}
	}, []any{[]int32{1, -2, 0}}, 1)

	graphtest.RunTestGraphFn(t, "Cast float16 round-trip", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float32{1.5, -2, 0.25}))
		halves := must.M1(graph.Cast(s, x, F16))
		ones := must.M1(graph.OnesLike(s, halves))
		return []graph.Output{
			must.M1(graph.Cast(s, halves, F32)),
			must.M1(graph.Cast(s, ones, F32)),
		}
	}, []any{[]float32{1.5, -2, 0.25}, []float32{1, 1, 1}}, Epsilon)
}

func TestGradientsOfUnaryOps(t *testing.T) {
	sumOf := func(s *graph.Scope, x graph.Output) graph.Output {
		return must.M1(graph.ReduceAllSum(s, x))
	}
	gradOf := func(s *graph.Scope, y, x graph.Output) graph.Output {
		grads := must.M1(graph.Gradients(s, []graph.Output{y}, []graph.Output{x}))
		return *grads[0]
	}

	graphtest.RunTestGraphFn(t, "d(x^2)/dx = 2x", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float32{1, 2, 3}))
		y := sumOf(s, must.M1(graph.Square(s, x)))
		return []graph.Output{gradOf(s, y, x)}
	}, []any{[]float32{2, 4, 6}}, Epsilon)

	graphtest.RunTestGraphFn(t, "d(sqrt x)/dx", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float64{1, 4, 16}))
		y := sumOf(s, must.M1(graph.Sqrt(s, x)))
		return []graph.Output{gradOf(s, y, x)}
	}, []any{[]float64{0.5, 0.25, 0.125}}, Epsilon)

	graphtest.RunTestGraphFn(t, "d(exp x)/dx = exp x", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float64{0, math.Ln2}))
		y := sumOf(s, must.M1(graph.Exp(s, x)))
		return []graph.Output{gradOf(s, y, x)}
	}, []any{[]float64{1, 2}}, Epsilon)

	graphtest.RunTestGraphFn(t, "d(log x)/dx = 1/x", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float64{1, 2, 4}))
		y := sumOf(s, must.M1(graph.Log(s, x)))
		return []graph.Output{gradOf(s, y, x)}
	}, []any{[]float64{1, 0.5, 0.25}}, Epsilon)

	graphtest.RunTestGraphFn(t, "d(tanh x)/dx = 1-tanh^2", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float64{0, 10}))
		y := sumOf(s, must.M1(graph.Tanh(s, x)))
		return []graph.Output{gradOf(s, y, x)}
	}, []any{[]float64{1, 0}}, Epsilon)

	graphtest.RunTestGraphFn(t, "d(abs x)/dx and d(-x)/dx", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float32{3, -2}))
		yAbs := sumOf(s, must.M1(graph.Abs(s, x)))
		yNeg := sumOf(s, must.M1(graph.Neg(s, x)))
		return []graph.Output{gradOf(s, yAbs, x), gradOf(s, yNeg, x)}
	}, []any{[]float32{1, -1}, []float32{-1, -1}}, Epsilon)

	graphtest.RunTestGraphFn(t, "d(mean x^2)/dx = 2x/n", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float64{1, 2, 3}))
		y := must.M1(graph.ReduceAllMean(s, must.M1(graph.Square(s, x))))
		return []graph.Output{gradOf(s, y, x)}
	}, []any{[]float64{2.0 / 3, 4.0 / 3, 2}}, Epsilon)
}

func TestGradientsOfBinaryOps(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Mul with scalar broadcast", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float32{1, 2, 3}))
		c := must.M1(graph.ConstScalar[float32](s, 2))
		y := must.M1(graph.ReduceAllSum(s, must.M1(graph.Mul(s, x, c))))
		grads := must.M1(graph.Gradients(s, []graph.Output{y}, []graph.Output{x, c}))
		return []graph.Output{*grads[0], *grads[1]}
	}, []any{[]float32{2, 2, 2}, float32(6)}, Epsilon)

	graphtest.RunTestGraphFn(t, "Div", func(s *graph.Scope) []graph.Output {
		a := must.M1(graph.Const(s, []float64{1, 4}))
		b := must.M1(graph.Const(s, []float64{2, 8}))
		y := must.M1(graph.ReduceAllSum(s, must.M1(graph.Div(s, a, b))))
		grads := must.M1(graph.Gradients(s, []graph.Output{y}, []graph.Output{a, b}))
		return []graph.Output{*grads[0], *grads[1]}
	}, []any{[]float64{0.5, 0.125}, []float64{-0.25, -0.0625}}, Epsilon)

	graphtest.RunTestGraphFn(t, "Sub", func(s *graph.Scope) []graph.Output {
		a := must.M1(graph.Const(s, []float64{1, 2}))
		b := must.M1(graph.Const(s, []float64{3, 4}))
		y := must.M1(graph.ReduceAllSum(s, must.M1(graph.Sub(s, a, b))))
		grads := must.M1(graph.Gradients(s, []graph.Output{y}, []graph.Output{a, b}))
		return []graph.Output{*grads[0], *grads[1]}
	}, []any{[]float64{1, 1}, []float64{-1, -1}}, Epsilon)

	graphtest.RunTestGraphFn(t, "Pow", func(s *graph.Scope) []graph.Output {
		a := must.M1(graph.ConstScalar[float64](s, 2))
		b := must.M1(graph.ConstScalar[float64](s, 3))
		y := must.M1(graph.Pow(s, a, b))
		grads := must.M1(graph.Gradients(s, []graph.Output{y}, []graph.Output{a, b}))
		return []graph.Output{*grads[0], *grads[1]}
	}, []any{12.0, 8 * math.Ln2}, Epsilon)
}

func TestGradientsOfMatMul(t *testing.T) {
	graphtest.RunTestGraphFn(t, "MatMul", func(s *graph.Scope) []graph.Output {
		a := must.M1(graph.Const(s, [][]float64{{1, 2, 3}, {4, 5, 6}}))
		b := must.M1(graph.Const(s, [][]float64{{1, 2}, {3, 4}, {5, 6}}))
		y := must.M1(graph.ReduceAllSum(s, must.M1(graph.MatMul(s, a, b))))
		grads := must.M1(graph.Gradients(s, []graph.Output{y}, []graph.Output{a, b}))
		return []graph.Output{*grads[0], *grads[1]}
	}, []any{
		[][]float64{{3, 7, 11}, {3, 7, 11}},
		[][]float64{{5, 5}, {7, 7}, {9, 9}},
	}, Epsilon)

	graphtest.RunTestGraphFn(t, "MatMul transpose_a", func(s *graph.Scope) []graph.Output {
		a := must.M1(graph.Const(s, [][]float64{{1, 4}, {2, 5}, {3, 6}}))
		b := must.M1(graph.Const(s, [][]float64{{1, 2}, {3, 4}, {5, 6}}))
		y := must.M1(graph.ReduceAllSum(s, must.M1(graph.MatMul(s, a, b, graph.MatMulTransposeA(true)))))
		grads := must.M1(graph.Gradients(s, []graph.Output{y}, []graph.Output{a, b}))
		return []graph.Output{*grads[0], *grads[1]}
	}, []any{
		[][]float64{{3, 3}, {7, 7}, {11, 11}},
		[][]float64{{5, 5}, {7, 7}, {9, 9}},
	}, Epsilon)

	graphtest.RunTestGraphFn(t, "MatMul transpose_b", func(s *graph.Scope) []graph.Output {
		a := must.M1(graph.Const(s, [][]float64{{1, 2, 3}, {4, 5, 6}}))
		b := must.M1(graph.Const(s, [][]float64{{1, 3, 5}, {2, 4, 6}}))
		y := must.M1(graph.ReduceAllSum(s, must.M1(graph.MatMul(s, a, b, graph.MatMulTransposeB(true)))))
		grads := must.M1(graph.Gradients(s, []graph.Output{y}, []graph.Output{a, b}))
		return []graph.Output{*grads[0], *grads[1]}
	}, []any{
		[][]float64{{3, 7, 11}, {3, 7, 11}},
		[][]float64{{5, 7, 9}, {5, 7, 9}},
	}, Epsilon)
}

func TestGradientsThroughCast(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Cast keeps gradients flowing", func(s *graph.Scope) []graph.Output {
		x := must.M1(graph.Const(s, []float64{1, 2}))
		y := must.M1(graph.ReduceAllSum(s,
			must.M1(graph.Square(s, must.M1(graph.Cast(s, x, F32))))))
		grads := must.M1(graph.Gradients(s, []graph.Output{y}, []graph.Output{x}))
		return []graph.Output{*grads[0]}
	}, []any{[]float64{2, 4}}, Epsilon)
}
