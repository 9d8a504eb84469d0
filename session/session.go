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

// Package session executes graphs built with the graph package, on the host CPU.
//
// A Session owns the storage of the graph's variables: a variable holds no
// value until its initializer runs (or SetVariable seeds it, e.g. when
// restoring a checkpoint), and keeps its value across Run calls.
//
// Run is demand-driven: it evaluates only the operations the requested fetches
// and targets depend on, each at most once per call. Ref inputs (variable
// references feeding Assign and the Apply* updates) are not evaluated as
// values; they only name the storage the operation mutates. Control inputs are
// executed before the operation itself.
//
// Sessions are safe for concurrent use; each Run holds the session lock for
// its whole duration, so concurrent Runs serialize.
package session

import (
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/gograd/gograd/graph"
	"github.com/gograd/gograd/types/tensors"
	"github.com/gograd/gograd/types/xslices"
)

// Session executes operations of one graph and holds its variable storage.
// Create with New; Close releases the storage.
type Session struct {
	mu    sync.Mutex
	graph *graph.Graph
	vars  map[string]*tensors.Tensor
}

// New creates a Session for the given graph, with all variables uninitialized.
func New(g *graph.Graph) *Session {
	return &Session{
		graph: g,
		vars:  make(map[string]*tensors.Tensor),
	}
}

// Graph this session executes.
func (sess *Session) Graph() *graph.Graph { return sess.graph }

// Run executes one step: fetches are evaluated and their values returned in
// order, then targets are executed for their side effects. feeds may be nil;
// a fed output is taken at face value instead of being computed, and every fed
// value must match the output's shape and dtype.
//
// Fetches see the variable values from before any of this call's targets
// mutate them; within one call every operation executes at most once.
func (sess *Session) Run(feeds map[graph.Output]*tensors.Tensor, fetches []graph.Output, targets []*graph.Operation) ([]*tensors.Tensor, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.vars == nil {
		return nil, errors.New("session is closed")
	}

	for o, value := range feeds {
		if !o.Valid() || o.Op().Graph() != sess.graph {
			return nil, errors.Errorf("feed for %s does not belong to the session's graph", o)
		}
		if value == nil {
			return nil, errors.Errorf("feed for %s is nil", o)
		}
		if !value.Shape().Equal(o.Shape()) {
			return nil, errors.Errorf("feed for %s has shape %s, want %s", o, value.Shape(), o.Shape())
		}
	}
	for _, fetch := range fetches {
		if !fetch.Valid() || fetch.Op().Graph() != sess.graph {
			return nil, errors.Errorf("fetch %s does not belong to the session's graph", fetch)
		}
	}
	for _, target := range targets {
		if target == nil || target.Graph() != sess.graph {
			return nil, errors.Errorf("target does not belong to the session's graph")
		}
	}

	run := &runContext{
		sess:   sess,
		feeds:  feeds,
		values: make(map[*graph.Operation][]*tensors.Tensor),
		done:   make(map[*graph.Operation]bool),
	}
	results := make([]*tensors.Tensor, len(fetches))
	for i, fetch := range fetches {
		value, err := run.outputValue(fetch)
		if err != nil {
			return nil, err
		}
		results[i] = value
	}
	for _, target := range targets {
		if err := run.execute(target); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// EnumerateVariables returns the names of the initialized variables, sorted.
func (sess *Session) EnumerateVariables() []string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return xslices.SortedKeys(sess.vars)
}

// VariableValue returns a copy of the current value of the named variable. It
// fails if the variable holds no value yet.
func (sess *Session) VariableValue(name string) (*tensors.Tensor, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	value := sess.vars[name]
	if value == nil {
		return nil, errors.Errorf("variable %q was not initialized", name)
	}
	return value.Clone(), nil
}

// SetVariable writes value into the named variable's storage, bypassing any
// initializer. The graph must have a variable with that name, and the value
// must match its shape and dtype. This is how checkpoints restore state.
func (sess *Session) SetVariable(name string, value *tensors.Tensor) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.vars == nil {
		return errors.New("session is closed")
	}
	if value == nil {
		return errors.Errorf("SetVariable(%q): nil value", name)
	}
	op := sess.graph.OperationByName(name)
	if op == nil || op.Type() != "VariableV2" {
		return errors.Errorf("graph has no variable named %q", name)
	}
	if !value.Shape().Equal(op.Output(0).Shape()) {
		return errors.Errorf("variable %q has shape %s, cannot hold value of shape %s",
			name, op.Output(0).Shape(), value.Shape())
	}
	sess.vars[name] = value.Clone()
	return nil
}

// Close releases the variable storage. The session cannot be used afterwards.
func (sess *Session) Close() error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.vars = nil
	return nil
}

// runContext memoizes one Run call: each operation executes at most once, and
// its outputs are reused by every consumer within the call.
type runContext struct {
	sess   *Session
	feeds  map[graph.Output]*tensors.Tensor
	values map[*graph.Operation][]*tensors.Tensor
	done   map[*graph.Operation]bool
}

func (run *runContext) execute(op *graph.Operation) error {
	if run.done[op] {
		return nil
	}
	for _, dep := range op.ControlInputs() {
		if err := run.execute(dep); err != nil {
			return err
		}
	}
	refs := graph.RefInputs(op.Type())
	inputs := make([]*tensors.Tensor, op.NumInputs())
	for i, in := range op.Inputs() {
		if slices.Contains(refs, i) {
			// Ref inputs name the mutated storage; their value is never read.
			continue
		}
		value, err := run.outputValue(in)
		if err != nil {
			return err
		}
		inputs[i] = value
	}
	kernel, found := kernels[op.Type()]
	if !found {
		return errors.Errorf("no kernel for operation type %q (%s)", op.Type(), op)
	}
	outputs, err := kernel(run, op, inputs)
	if err != nil {
		return errors.WithMessagef(err, "executing %s", op)
	}
	run.values[op] = outputs
	run.done[op] = true
	return nil
}

func (run *runContext) outputValue(o graph.Output) (*tensors.Tensor, error) {
	if fed, found := run.feeds[o]; found {
		return fed, nil
	}
	if err := run.execute(o.Op()); err != nil {
		return nil, err
	}
	outputs := run.values[o.Op()]
	if o.Index() >= len(outputs) {
		return nil, errors.Errorf("operation %s produced no output #%d", o.Op(), o.Index())
	}
	return outputs[o.Index()], nil
}
