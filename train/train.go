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

// Package train implements graph-building optimizers: given a scalar loss
// output they add the operations that perform one optimization step on a set
// of variables, including gradient computation, any per-variable accumulator
// state the algorithm needs, and a single step operation that gates all the
// per-variable updates behind control dependencies.
//
// All optimizers implement train.Optimizer; most callers only need Minimize:
//
//	opt := train.NewGradientDescent(lr)
//	_, step, err := train.Minimize(scope, opt, loss,
//		train.MinimizeOptions{}.WithVariables(weights, bias))
//
// The returned step operation is then run repeatedly as a session target.
// Optimizers only assemble graph operations; nothing is executed here.
package train

import (
	"github.com/pkg/errors"

	"github.com/gograd/gograd/graph"
)

// GradAndVar pairs a variable with the gradient of the loss with respect to
// it. Gradient is nil when the loss does not depend on the variable; that is
// a valid state, not an error, and such pairs are skipped by ApplyGradients.
type GradAndVar struct {
	Gradient *graph.Output
	Variable *graph.Variable
}

// ComputeGradientsOptions configures ComputeGradients.
type ComputeGradientsOptions struct {
	variables []*graph.Variable
}

// WithVariables sets the variables to differentiate the loss against.
func (o ComputeGradientsOptions) WithVariables(variables ...*graph.Variable) ComputeGradientsOptions {
	o.variables = variables
	return o
}

// MinimizeOptions configures Minimize.
type MinimizeOptions struct {
	variables []*graph.Variable
}

// WithVariables sets the variables the optimizer updates.
func (o MinimizeOptions) WithVariables(variables ...*graph.Variable) MinimizeOptions {
	o.variables = variables
	return o
}

// ApplyGradientsOptions configures Optimizer.ApplyGradients.
type ApplyGradientsOptions struct {
	gradsAndVars []GradAndVar
}

// WithGradsAndVars sets the gradient/variable pairs to apply.
func (o ApplyGradientsOptions) WithGradsAndVars(gradsAndVars ...GradAndVar) ApplyGradientsOptions {
	o.gradsAndVars = gradsAndVars
	return o
}

// Optimizer is implemented by optimization algorithms.
//
// ApplyGradients adds one update operation per pair with a present gradient,
// mutating the variable (and any accumulator state) in place, and returns the
// accumulator variables it created -- callers must run their initializers --
// plus a single operation that carries every update as a control input, so
// depending on it means "all updates happened". Pairs with a nil gradient are
// skipped; if no pair has a gradient the returned operation simply has no
// control inputs. ApplyGradients only builds operations, it never executes
// them.
//
// Gradient computation and Minimize are provided as package functions built
// on top of this single method; an algorithm that needs to customize how
// gradients are produced implements GradientComputer as well.
type Optimizer interface {
	ApplyGradients(s *graph.Scope, opts ApplyGradientsOptions) ([]*graph.Variable, *graph.Operation, error)
}

// GradientComputer is optionally implemented by optimizers that replace the
// default gradient computation of ComputeGradients.
type GradientComputer interface {
	ComputeGradients(s *graph.Scope, loss graph.Output, opts ComputeGradientsOptions) ([]GradAndVar, error)
}

// ComputeGradients returns one GradAndVar per requested variable, in the same
// order, differentiating loss with respect to each. A variable the loss does
// not depend on gets a nil gradient. If opt implements GradientComputer that
// implementation is used instead of the default.
//
// Each call adds gradient operations to the graph; compute once and reuse the
// pairs rather than calling repeatedly for the same loss and variables.
func ComputeGradients(s *graph.Scope, opt Optimizer, loss graph.Output, opts ComputeGradientsOptions) ([]GradAndVar, error) {
	if !loss.Valid() {
		return nil, errors.Errorf("loss is an invalid Output")
	}
	if !loss.Shape().IsScalar() {
		return nil, errors.Errorf("optimizer requires a scalar loss to optimize, got loss shape %s", loss.Shape())
	}
	if computer, ok := opt.(GradientComputer); ok {
		return computer.ComputeGradients(s, loss, opts)
	}
	xs := make([]graph.Output, 0, len(opts.variables))
	for _, v := range opts.variables {
		xs = append(xs, v.Output())
	}
	grads, err := graph.Gradient(s, loss, xs...)
	if err != nil {
		return nil, err
	}
	pairs := make([]GradAndVar, len(opts.variables))
	for i, v := range opts.variables {
		pairs[i] = GradAndVar{Gradient: grads[i], Variable: v}
	}
	return pairs, nil
}

// Minimize composes ComputeGradients and opt.ApplyGradients: it adds the
// operations for one optimization step of loss with respect to the given
// variables and returns the accumulator variables the optimizer created along
// with the step operation to run.
func Minimize(s *graph.Scope, opt Optimizer, loss graph.Output, opts MinimizeOptions) ([]*graph.Variable, *graph.Operation, error) {
	pairs, err := ComputeGradients(s, opt, loss,
		ComputeGradientsOptions{}.WithVariables(opts.variables...))
	if err != nil {
		return nil, nil, err
	}
	return opt.ApplyGradients(s, ApplyGradientsOptions{}.WithGradsAndVars(pairs...))
}

// joinUpdates builds the synchronization operation gating all updates of one
// ApplyGradients call. Valid with an empty update list.
func joinUpdates(s *graph.Scope, updates []*graph.Operation) (*graph.Operation, error) {
	return graph.NoOp(s.WithControlDependencies(updates...))
}
