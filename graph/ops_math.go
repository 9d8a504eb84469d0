package graph

// Element-wise math, contractions and reductions. All of them follow the same
// rules: operands of binary ops must share a dtype, and their shapes must match
// or one operand must be a scalar, which is broadcast against the other.

// Neg returns -x.
func Neg(s *Scope, x Output) (Output, error) { return unaryOp(s, "Neg", x) }

// Abs returns |x|.
func Abs(s *Scope, x Output) (Output, error) { return unaryOp(s, "Abs", x) }

// Sign returns -1, 0 or 1 per element, with the dtype of x.
func Sign(s *Scope, x Output) (Output, error) { return unaryOp(s, "Sign", x) }

// Exp returns e^x. Float dtypes only.
func Exp(s *Scope, x Output) (Output, error) { return unaryOp(s, "Exp", x) }

// Log returns the natural logarithm of x. Float dtypes only.
func Log(s *Scope, x Output) (Output, error) { return unaryOp(s, "Log", x) }

// Sqrt returns the square root of x. Float dtypes only.
func Sqrt(s *Scope, x Output) (Output, error) { return unaryOp(s, "Sqrt", x) }

// Square returns x².
func Square(s *Scope, x Output) (Output, error) { return unaryOp(s, "Square", x) }

// Tanh returns the hyperbolic tangent of x. Float dtypes only.
func Tanh(s *Scope, x Output) (Output, error) { return unaryOp(s, "Tanh", x) }

// Add returns x + y.
func Add(s *Scope, x, y Output) (Output, error) { return binaryOp(s, "Add", x, y) }

// Sub returns x - y.
func Sub(s *Scope, x, y Output) (Output, error) { return binaryOp(s, "Sub", x, y) }

// Mul returns x * y.
func Mul(s *Scope, x, y Output) (Output, error) { return binaryOp(s, "Mul", x, y) }

// Div returns x / y. Integer dtypes truncate.
func Div(s *Scope, x, y Output) (Output, error) { return binaryOp(s, "Div", x, y) }

// Pow returns x^y. Float dtypes only.
func Pow(s *Scope, x, y Output) (Output, error) { return binaryOp(s, "Pow", x, y) }

// Maximum returns the element-wise maximum of x and y.
func Maximum(s *Scope, x, y Output) (Output, error) { return binaryOp(s, "Maximum", x, y) }

// Minimum returns the element-wise minimum of x and y.
func Minimum(s *Scope, x, y Output) (Output, error) { return binaryOp(s, "Minimum", x, y) }

// MatMulAttr is an optional attribute of MatMul.
type MatMulAttr func(*OpSpec)

// MatMulTransposeA makes MatMul multiply aᵀ instead of a.
func MatMulTransposeA(value bool) MatMulAttr {
	return func(spec *OpSpec) { spec.SetAttr("transpose_a", value) }
}

// MatMulTransposeB makes MatMul multiply bᵀ instead of b.
func MatMulTransposeB(value bool) MatMulAttr {
	return func(spec *OpSpec) { spec.SetAttr("transpose_b", value) }
}

// MatMul multiplies two rank-2 values: the inner dimensions, after the optional
// transpositions, must match.
func MatMul(s *Scope, a, b Output, optional ...MatMulAttr) (Output, error) {
	spec := s.newOp("MatMul", "").AddInput(a).AddInput(b)
	for _, attr := range optional {
		attr(spec)
	}
	op, err := spec.Finish()
	if err != nil {
		return Output{}, err
	}
	return op.Output(0), nil
}

// ReduceAllSum sums all elements of x into a scalar of the same dtype.
func ReduceAllSum(s *Scope, x Output) (Output, error) {
	return unaryOp(s, "ReduceAllSum", x)
}

// ReduceAllMean averages all elements of x into a scalar of the same dtype.
// Float dtypes only.
func ReduceAllMean(s *Scope, x Output) (Output, error) {
	return unaryOp(s, "ReduceAllMean", x)
}
