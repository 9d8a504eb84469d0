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
	"slices"
)

// Scope names operations hierarchically within a Graph and carries implicit
// control dependencies. The typed op constructors (Const, Add, ...) take a
// Scope, name the ops they build under the scope's path and attach the scope's
// control dependencies.
//
// Scopes are cheap values sharing the underlying Graph: SubScope and
// WithControlDependencies derive new scopes without touching the parent. Like
// the Graph they build into, scopes are not safe for concurrent use.
type Scope struct {
	graph       *Graph
	namePrefix  string
	controlDeps []*Operation
}

// NewScope returns the root scope of the given graph. Operations built through
// it are named after their op type: "Const", "Const_1", ...
func NewScope(g *Graph) *Scope {
	return &Scope{graph: g}
}

// Graph this scope builds into.
func (s *Scope) Graph() *Graph { return s.graph }

// SubScope returns a child scope whose operations are named under
// "<parent path>/<name>/". The child path is uniquified, so two SubScope("x")
// calls yield "x" and "x_1" and never collide, even across unrelated scopes of
// the same graph.
func (s *Scope) SubScope(name string) *Scope {
	prefix := s.graph.reserveName(s.namePrefix + name)
	return &Scope{
		graph:       s.graph,
		namePrefix:  prefix + "/",
		controlDeps: s.controlDeps,
	}
}

// UniqueName reserves and returns an operation name: defaultName under the
// scope's path, suffixed with _1, _2, ... if taken.
func (s *Scope) UniqueName(defaultName string) string {
	return s.graph.reserveName(s.namePrefix + defaultName)
}

// WithControlDependencies returns a scope that attaches the given operations as
// control inputs to every operation built through it, in addition to any the
// receiver already carries.
func (s *Scope) WithControlDependencies(ops ...*Operation) *Scope {
	deps := slices.Clone(s.controlDeps)
	for _, op := range ops {
		if !slices.Contains(deps, op) {
			deps = append(deps, op)
		}
	}
	return &Scope{
		graph:       s.graph,
		namePrefix:  s.namePrefix,
		controlDeps: deps,
	}
}

// ControlDependencies returns the operations this scope attaches to the ops it
// builds.
func (s *Scope) ControlDependencies() []*Operation {
	return slices.Clone(s.controlDeps)
}

// newOp starts an OpSpec for opType, named name (or opType itself if empty)
// under the scope's path, with the scope's control dependencies attached.
func (s *Scope) newOp(opType, name string) *OpSpec {
	if name == "" {
		name = opType
	}
	spec := s.graph.NewOperation(opType, s.UniqueName(name))
	for _, dep := range s.controlDeps {
		spec.AddControlInput(dep)
	}
	return spec
}
