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

// GradientDescent implements plain stochastic gradient descent: each step
// moves every variable against its gradient, scaled by a fixed learning rate.
// It keeps no accumulator state.
type GradientDescent struct {
	learningRate graph.Output
}

// NewGradientDescent creates a GradientDescent optimizer. learningRate must
// be a scalar output with the same dtype as the variables it will update.
func NewGradientDescent(learningRate graph.Output) *GradientDescent {
	return &GradientDescent{learningRate: learningRate}
}

// ApplyGradients emits one update per pair with a present gradient, with
// semantics variable ← variable − learningRate·gradient, and joins them
// behind a single step operation. The returned variable list is always empty.
func (gd *GradientDescent) ApplyGradients(s *graph.Scope, opts ApplyGradientsOptions) ([]*graph.Variable, *graph.Operation, error) {
	updates := make([]*graph.Operation, 0, len(opts.gradsAndVars))
	for _, pair := range opts.gradsAndVars {
		if pair.Gradient == nil {
			continue
		}
		updated, err := graph.ApplyGradientDescent(s, pair.Variable.Output(), gd.learningRate, *pair.Gradient)
		if err != nil {
			return nil, nil, err
		}
		updates = append(updates, updated.Op())
	}
	step, err := joinUpdates(s, updates)
	if err != nil {
		return nil, nil, err
	}
	return nil, step, nil
}
