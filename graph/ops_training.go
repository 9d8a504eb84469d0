package graph

// In-place variable updates used by optimizers. Their ref inputs must be
// variable references (outputs of VariableV2 ops); when run in a session they
// mutate the variable storage directly and yield the primary variable's
// updated value.

// ApplyGradientDescent updates a variable by
//
//	ref ← ref − alpha·delta
//
// alpha is a scalar, delta has the variable's shape, and everything shares the
// variable's (float) dtype.
func ApplyGradientDescent(s *Scope, ref, alpha, delta Output) (Output, error) {
	op, err := s.newOp("ApplyGradientDescent", "").
		AddInput(ref).
		AddInput(alpha).
		AddInput(delta).
		Finish()
	if err != nil {
		return Output{}, err
	}
	return op.Output(0), nil
}

// ApplyAdadelta updates a variable and its two accumulators by
//
//	accum        ← rho·accum + (1−rho)·grad²
//	update       ← √(accumUpdate+epsilon) / √(accum+epsilon) · grad
//	accumUpdate  ← rho·accumUpdate + (1−rho)·update²
//	ref          ← ref − lr·update
//
// ref, accum and accumUpdate are variable references of the same shape and
// (float) dtype as grad; lr, rho and epsilon are scalars of that dtype.
func ApplyAdadelta(s *Scope, ref, accum, accumUpdate, lr, rho, epsilon, grad Output) (Output, error) {
	op, err := s.newOp("ApplyAdadelta", "").
		AddInput(ref).
		AddInput(accum).
		AddInput(accumUpdate).
		AddInput(lr).
		AddInput(rho).
		AddInput(epsilon).
		AddInput(grad).
		Finish()
	if err != nil {
		return Output{}, err
	}
	return op.Output(0), nil
}
