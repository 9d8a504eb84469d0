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

package train

import "github.com/gograd/gograd/graph"

const (
	// AdadeltaDefaultLearningRate is used by Adadelta if no learning rate is set.
	AdadeltaDefaultLearningRate = 0.001

	// AdadeltaDefaultRho is the decay rate used by Adadelta if none is set.
	AdadeltaDefaultRho = 0.95

	// AdadeltaDefaultEpsilon is the denominator stability constant used by
	// Adadelta if none is set.
	AdadeltaDefaultEpsilon = 1e-8
)

// Adadelta implements the Adadelta algorithm by
// [Zeiler, 2012](https://arxiv.org/abs/1212.5701): a per-dimension learning
// rate method that normalizes each gradient by a decaying average of past
// squared gradients and scales it by a decaying average of past squared
// updates. Per variable and step, with decay rate rho:
//
//	accum ← rho·accum + (1−rho)·gradient²
//	update ← sqrt(accum_update + epsilon) / sqrt(accum + epsilon) · gradient
//	variable ← variable − learning_rate·update
//	accum_update ← rho·accum_update + (1−rho)·update²
//
// The two accumulators are variables Adadelta creates on first use, one pair
// per updated variable, zero-initialized with the target's shape and dtype.
type Adadelta struct {
	learningRate, rho, epsilon *graph.Output
}

// NewAdadelta creates an Adadelta optimizer with default hyperparameters.
func NewAdadelta() *Adadelta {
	return &Adadelta{}
}

// SetLearningRate replaces the default learning rate
// (AdadeltaDefaultLearningRate) with a scalar output.
func (a *Adadelta) SetLearningRate(learningRate graph.Output) *Adadelta {
	a.learningRate = &learningRate
	return a
}

// SetRho replaces the default decay rate (AdadeltaDefaultRho) with a scalar
// output.
func (a *Adadelta) SetRho(rho graph.Output) *Adadelta {
	a.rho = &rho
	return a
}

// SetEpsilon replaces the default stability constant (AdadeltaDefaultEpsilon)
// with a scalar output.
func (a *Adadelta) SetEpsilon(epsilon graph.Output) *Adadelta {
	a.epsilon = &epsilon
	return a
}

// ApplyGradients emits one Adadelta update per pair with a present gradient
// and joins them behind a single step operation. For every updated variable
// it creates the accum and accum_update accumulators in sub-scopes named
// after the variable and returns them, in processing order, so the caller can
// run their initializers.
//
// Hyperparameters left unset are materialized once per call as constants of
// the first updated variable's dtype and shared by every update of the call;
// mixed-dtype variable lists therefore require setting them explicitly as
// outputs of a matching dtype.
func (a *Adadelta) ApplyGradients(s *graph.Scope, opts ApplyGradientsOptions) ([]*graph.Variable, *graph.Operation, error) {
	var learningRate, rho, epsilon graph.Output
	resolved := false

	var accumulators []*graph.Variable
	updates := make([]*graph.Operation, 0, len(opts.gradsAndVars))
	for _, pair := range opts.gradsAndVars {
		if pair.Gradient == nil {
			continue
		}
		v := pair.Variable
		if !resolved {
			var err error
			if learningRate, err = hyperparameter(s, a.learningRate, AdadeltaDefaultLearningRate, v); err != nil {
				return nil, nil, err
			}
			if rho, err = hyperparameter(s, a.rho, AdadeltaDefaultRho, v); err != nil {
				return nil, nil, err
			}
			if epsilon, err = hyperparameter(s, a.epsilon, AdadeltaDefaultEpsilon, v); err != nil {
				return nil, nil, err
			}
			resolved = true
		}

		vScope := s.SubScope(v.Name())
		accum, err := createZeroSlot(vScope.SubScope("accum"), v)
		if err != nil {
			return nil, nil, err
		}
		accumUpdate, err := createZeroSlot(vScope.SubScope("accum_update"), v)
		if err != nil {
			return nil, nil, err
		}
		updated, err := graph.ApplyAdadelta(vScope, v.Output(), accum.Output(), accumUpdate.Output(),
			learningRate, rho, epsilon, *pair.Gradient)
		if err != nil {
			return nil, nil, err
		}
		accumulators = append(accumulators, accum, accumUpdate)
		updates = append(updates, updated.Op())
	}
	step, err := joinUpdates(s, updates)
	if err != nil {
		return nil, nil, err
	}
	return accumulators, step, nil
}

// hyperparameter returns the explicitly set output, or a constant of the
// default value with the target variable's dtype.
func hyperparameter(s *graph.Scope, set *graph.Output, def float64, v *graph.Variable) (graph.Output, error) {
	if set != nil {
		return *set, nil
	}
	return graph.ConstCastScalar(s, def, v.DType())
}

// createZeroSlot builds an accumulator variable shaped and typed like
// primary, initialized to zeros. The zeros node takes a control dependency on
// primary's initializer: the slot's zero-fill is only ready once the primary
// variable is initialized. That is an ordering constraint, not a data one --
// the zeros never read the primary's value.
func createZeroSlot(s *graph.Scope, primary *graph.Variable) (*graph.Variable, error) {
	zeroScope := s
	if init := primary.Initializer(); init != nil {
		zeroScope = s.WithControlDependencies(init)
	}
	zeros, err := graph.ZerosLike(zeroScope, primary.Output())
	if err != nil {
		return nil, err
	}
	return graph.NewVariable().WithInitialValue(zeros).Build(s)
}
