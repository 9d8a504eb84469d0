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

// Package graph implements a deferred computation graph: operations are assembled
// into a Graph and executed later (see the session package).
//
// A Graph holds immutable Operations, each producing zero or more Outputs. Operations
// are created through the OpSpec builder returned by Graph.NewOperation, usually via
// the typed constructors in this package (Const, Add, MatMul, ...), which take a Scope.
// The Scope provides collision-free operation names (Scope.UniqueName, Scope.SubScope)
// and implicit control dependencies (Scope.WithControlDependencies).
//
// Mutable state lives in Variables: graph-resident storage slots with a declared
// shape and dtype and an initializer operation, created with NewVariable.
//
// Gradients synthesizes the reverse-mode gradient subgraph of a scalar output with
// respect to a set of outputs.
//
// Error handling: graph construction is fallible (unknown operation type, shape or
// dtype mismatch, duplicate name, cross-graph wiring) and every fallible step returns
// an error. A failed construction leaves the graph valid: previously added operations
// remain usable, the partially built one is discarded.
//
// Graphs are not safe for concurrent mutation; build from a single goroutine or
// synchronize externally.
package graph

import (
	"fmt"

	"github.com/pkg/errors"
)

// Graph is a collection of operations assembled for later execution. Create one
// with New, build operations into it through Scopes, then hand it to a session.
//
// Operation names are unique within a Graph; use Scope.UniqueName (or pick
// distinct names) when creating operations directly.
type Graph struct {
	operations []*Operation
	byName     map[string]*Operation

	// names holds every name ever reserved (by a Scope or a finished Operation),
	// including sub-scope prefixes, so uniquified names never collide.
	names map[string]bool
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		byName: make(map[string]*Operation),
		names:  make(map[string]bool),
	}
}

// NumOperations returns the number of operations added so far.
func (g *Graph) NumOperations() int { return len(g.operations) }

// Operations returns the graph's operations in creation order. The returned
// slice is owned by the Graph and must not be modified.
func (g *Graph) Operations() []*Operation { return g.operations }

// OperationByName returns the operation with the given name, or nil if there is none.
func (g *Graph) OperationByName(name string) *Operation { return g.byName[name] }

// reserveName claims the first free name derived from candidate: candidate
// itself, or candidate_1, candidate_2, ... It is used by Scope for op names and
// sub-scope prefixes.
func (g *Graph) reserveName(candidate string) string {
	name := candidate
	for ii := 1; g.names[name]; ii++ {
		name = fmt.Sprintf("%s_%d", candidate, ii)
	}
	g.names[name] = true
	return name
}

// register adds a finished operation to the graph. It fails if the name is
// already bound to another operation.
func (g *Graph) register(op *Operation) error {
	if _, found := g.byName[op.name]; found {
		return errors.Errorf("graph already has an operation named %q", op.name)
	}
	op.id = len(g.operations)
	g.operations = append(g.operations, op)
	g.byName[op.name] = op
	g.names[op.name] = true
	return nil
}

// String returns a short description of the graph.
func (g *Graph) String() string {
	return fmt.Sprintf("graph.Graph{%d operations}", len(g.operations))
}
