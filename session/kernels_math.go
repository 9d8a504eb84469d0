package session

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/gograd/gograd/graph"
	"github.com/gograd/gograd/types/shapes"
	"github.com/gograd/gograd/types/tensors"
	"github.com/gograd/gograd/types/xslices"
)

func execZerosLike(_ *runContext, op *graph.Operation, _ []*tensors.Tensor) ([]*tensors.Tensor, error) {
	// Fresh tensors are zero-valued already.
	return []*tensors.Tensor{tensors.FromShape(op.Output(0).Shape())}, nil
}

func execOnesLike(_ *runContext, op *graph.Operation, _ []*tensors.Tensor) ([]*tensors.Tensor, error) {
	out := tensors.FromShape(op.Output(0).Shape())
	switch out.DType() {
	case dtypes.Float32:
		fillValue[float32](out, 1)
	case dtypes.Float64:
		fillValue[float64](out, 1)
	case dtypes.Int32:
		fillValue[int32](out, 1)
	case dtypes.Int64:
		fillValue[int64](out, 1)
	case dtypes.Float16:
		fillValue(out, float16.Fromfloat32(1))
	default:
		return nil, errors.Errorf("unsupported data type %s for %s", out.DType(), op.Type())
	}
	return []*tensors.Tensor{out}, nil
}

func fillValue[T dtypes.Supported](t *tensors.Tensor, value T) {
	tensors.MutableFlatData(t, func(flat []T) {
		xslices.FillSlice(flat, value)
	})
}

func execCast(_ *runContext, op *graph.Operation, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	x := inputs[0]
	out := tensors.FromShape(op.Output(0).Shape())
	var err error
	switch x.DType() {
	case dtypes.Float32:
		err = castFromGeneric[float32](x, out)
	case dtypes.Float64:
		err = castFromGeneric[float64](x, out)
	case dtypes.Int32:
		err = castFromGeneric[int32](x, out)
	case dtypes.Int64:
		err = castFromGeneric[int64](x, out)
	case dtypes.Float16:
		// Widen to float32 first; the rest is the generic path.
		widened := tensors.FromShape(shapes.Make(dtypes.Float32, x.Shape().Dimensions...))
		tensors.MutableFlatData(widened, func(w []float32) {
			tensors.ConstFlatData(x, func(halves []float16.Float16) {
				for i, h := range halves {
					w[i] = h.Float32()
				}
			})
		})
		err = castFromGeneric[float32](widened, out)
	default:
		err = errors.Errorf("unsupported data type %s for %s", x.DType(), op.Type())
	}
	if err != nil {
		return nil, err
	}
	return []*tensors.Tensor{out}, nil
}

func castFromGeneric[S PODNumericConstraints](x *tensors.Tensor, out *tensors.Tensor) error {
	var err error
	tensors.ConstFlatData(x, func(src []S) {
		switch out.DType() {
		case dtypes.Float32:
			castLoop(src, out, func(v S) float32 { return float32(v) })
		case dtypes.Float64:
			castLoop(src, out, func(v S) float64 { return float64(v) })
		case dtypes.Int32:
			castLoop(src, out, func(v S) int32 { return int32(v) })
		case dtypes.Int64:
			castLoop(src, out, func(v S) int64 { return int64(v) })
		case dtypes.Float16:
			castLoop(src, out, func(v S) float16.Float16 { return float16.Fromfloat32(float32(v)) })
		default:
			err = errors.Errorf("unsupported destination data type %s for Cast", out.DType())
		}
	})
	return err
}

func castLoop[S PODNumericConstraints, D dtypes.Supported](src []S, out *tensors.Tensor, convert func(S) D) {
	tensors.MutableFlatData(out, func(dst []D) {
		for i, v := range src {
			dst[i] = convert(v)
		}
	})
}

func execUnary(_ *runContext, op *graph.Operation, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	x := inputs[0]
	out := tensors.FromShape(op.Output(0).Shape())
	var err error
	switch x.DType() {
	case dtypes.Float32:
		err = execUnaryFloat[float32](op.Type(), x, out)
	case dtypes.Float64:
		err = execUnaryFloat[float64](op.Type(), x, out)
	case dtypes.Int32:
		err = execUnaryInt[int32](op.Type(), x, out)
	case dtypes.Int64:
		err = execUnaryInt[int64](op.Type(), x, out)
	default:
		err = errors.Errorf("unsupported data type %s for %s", x.DType(), op.Type())
	}
	if err != nil {
		return nil, err
	}
	return []*tensors.Tensor{out}, nil
}

func execUnaryFloat[T PODFloatConstraints](opType string, x, out *tensors.Tensor) error {
	var fn func(T) T
	switch opType {
	case "Neg":
		fn = func(v T) T { return -v }
	case "Abs":
		fn = func(v T) T { return T(math.Abs(float64(v))) }
	case "Sign":
		fn = func(v T) T {
			if v > 0 {
				return 1
			}
			if v < 0 {
				return -1
			}
			return v
		}
	case "Exp":
		fn = func(v T) T { return T(math.Exp(float64(v))) }
	case "Log":
		fn = func(v T) T { return T(math.Log(float64(v))) }
	case "Sqrt":
		fn = func(v T) T { return T(math.Sqrt(float64(v))) }
	case "Square":
		fn = func(v T) T { return v * v }
	case "Tanh":
		fn = func(v T) T { return T(math.Tanh(float64(v))) }
	default:
		return errors.Errorf("no float kernel for %s", opType)
	}
	unaryLoop(x, out, fn)
	return nil
}

func execUnaryInt[T int32 | int64](opType string, x, out *tensors.Tensor) error {
	var fn func(T) T
	switch opType {
	case "Neg":
		fn = func(v T) T { return -v }
	case "Abs":
		fn = func(v T) T {
			if v < 0 {
				return -v
			}
			return v
		}
	case "Sign":
		fn = func(v T) T {
			if v > 0 {
				return 1
			}
			if v < 0 {
				return -1
			}
			return 0
		}
	case "Square":
		fn = func(v T) T { return v * v }
	default:
		return errors.Errorf("no integer kernel for %s", opType)
	}
	unaryLoop(x, out, fn)
	return nil
}

func unaryLoop[T dtypes.Supported](x, out *tensors.Tensor, fn func(T) T) {
	tensors.ConstFlatData(x, func(src []T) {
		tensors.MutableFlatData(out, func(dst []T) {
			for i, v := range src {
				dst[i] = fn(v)
			}
		})
	})
}

func execBinary(_ *runContext, op *graph.Operation, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	x, y := inputs[0], inputs[1]
	out := tensors.FromShape(op.Output(0).Shape())
	var err error
	switch out.DType() {
	case dtypes.Float32:
		err = execBinaryFloat[float32](op.Type(), x, y, out)
	case dtypes.Float64:
		err = execBinaryFloat[float64](op.Type(), x, y, out)
	case dtypes.Int32:
		err = execBinaryInt[int32](op.Type(), x, y, out)
	case dtypes.Int64:
		err = execBinaryInt[int64](op.Type(), x, y, out)
	default:
		err = errors.Errorf("unsupported data type %s for %s", out.DType(), op.Type())
	}
	if err != nil {
		return nil, err
	}
	return []*tensors.Tensor{out}, nil
}

func execBinaryFloat[T PODFloatConstraints](opType string, x, y, out *tensors.Tensor) error {
	var fn func(a, b T) T
	switch opType {
	case "Add":
		fn = func(a, b T) T { return a + b }
	case "Sub":
		fn = func(a, b T) T { return a - b }
	case "Mul":
		fn = func(a, b T) T { return a * b }
	case "Div":
		fn = func(a, b T) T { return a / b }
	case "Pow":
		fn = func(a, b T) T { return T(math.Pow(float64(a), float64(b))) }
	case "Maximum":
		fn = func(a, b T) T { return max(a, b) }
	case "Minimum":
		fn = func(a, b T) T { return min(a, b) }
	default:
		return errors.Errorf("no float kernel for %s", opType)
	}
	binaryLoop(x, y, out, fn)
	return nil
}

func execBinaryInt[T int32 | int64](opType string, x, y, out *tensors.Tensor) error {
	var fn func(a, b T) T
	switch opType {
	case "Add":
		fn = func(a, b T) T { return a + b }
	case "Sub":
		fn = func(a, b T) T { return a - b }
	case "Mul":
		fn = func(a, b T) T { return a * b }
	case "Div":
		fn = func(a, b T) T { return a / b }
	case "Maximum":
		fn = func(a, b T) T { return max(a, b) }
	case "Minimum":
		fn = func(a, b T) T { return min(a, b) }
	default:
		return errors.Errorf("no integer kernel for %s", opType)
	}
	binaryLoop(x, y, out, fn)
	return nil
}

// binaryLoop handles the scalar-broadcast cases: operands either match the
// output size or hold a single element.
func binaryLoop[T dtypes.Supported](x, y, out *tensors.Tensor, fn func(a, b T) T) {
	tensors.ConstFlatData(x, func(xs []T) {
		tensors.ConstFlatData(y, func(ys []T) {
			tensors.MutableFlatData(out, func(os []T) {
				switch {
				case len(xs) == len(ys):
					for i := range os {
						os[i] = fn(xs[i], ys[i])
					}
				case len(xs) == 1:
					for i := range os {
						os[i] = fn(xs[0], ys[i])
					}
				default:
					for i := range os {
						os[i] = fn(xs[i], ys[0])
					}
				}
			})
		})
	})
}

func execMatMul(_ *runContext, op *graph.Operation, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	a, b := inputs[0], inputs[1]
	transposeA := boolAttr(op, "transpose_a")
	transposeB := boolAttr(op, "transpose_b")
	out := tensors.FromShape(op.Output(0).Shape())
	switch out.DType() {
	case dtypes.Float32:
		execMatMulGeneric[float32](a, b, transposeA, transposeB, out)
	case dtypes.Float64:
		execMatMulGeneric[float64](a, b, transposeA, transposeB, out)
	default:
		return nil, errors.Errorf("unsupported data type %s for %s", out.DType(), op.Type())
	}
	return []*tensors.Tensor{out}, nil
}

func boolAttr(op *graph.Operation, name string) bool {
	if value, found := op.Attr(name); found {
		return value.(bool)
	}
	return false
}

func execMatMulGeneric[T PODFloatConstraints](a, b *tensors.Tensor, transposeA, transposeB bool, out *tensors.Tensor) {
	aDims := a.Shape().Dimensions
	bDims := b.Shape().Dimensions
	m, k := aDims[0], aDims[1]
	if transposeA {
		m, k = k, m
	}
	n := bDims[1]
	if transposeB {
		n = bDims[0]
	}
	tensors.ConstFlatData(a, func(aFlat []T) {
		tensors.ConstFlatData(b, func(bFlat []T) {
			tensors.MutableFlatData(out, func(outFlat []T) {
				for i := 0; i < m; i++ {
					for j := 0; j < n; j++ {
						var sum T
						for l := 0; l < k; l++ {
							var av, bv T
							if transposeA {
								av = aFlat[l*aDims[1]+i]
							} else {
								av = aFlat[i*aDims[1]+l]
							}
							if transposeB {
								bv = bFlat[j*bDims[1]+l]
							} else {
								bv = bFlat[l*bDims[1]+j]
							}
							sum += av * bv
						}
						outFlat[i*n+j] = sum
					}
				}
			})
		})
	})
}

func execReduceAll(_ *runContext, op *graph.Operation, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	x := inputs[0]
	mean := op.Type() == "ReduceAllMean"
	out := tensors.FromShape(op.Output(0).Shape())
	switch x.DType() {
	case dtypes.Float32:
		execReduceAllGeneric[float32](x, out, mean)
	case dtypes.Float64:
		execReduceAllGeneric[float64](x, out, mean)
	case dtypes.Int32:
		execReduceAllGeneric[int32](x, out, mean)
	case dtypes.Int64:
		execReduceAllGeneric[int64](x, out, mean)
	default:
		return nil, errors.Errorf("unsupported data type %s for %s", x.DType(), op.Type())
	}
	return []*tensors.Tensor{out}, nil
}

func execReduceAllGeneric[T PODNumericConstraints](x, out *tensors.Tensor, mean bool) {
	tensors.ConstFlatData(x, func(src []T) {
		var total T
		for _, v := range src {
			total += v
		}
		if mean && len(src) > 0 {
			total /= T(len(src))
		}
		tensors.MutableFlatData(out, func(dst []T) {
			dst[0] = total
		})
	})
}
