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

// Package graphtest holds test utilities for packages that depend on the graph package.
package graphtest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gograd/gograd/graph"
	"github.com/gograd/gograd/session"
	"github.com/gograd/gograd/types/shapes"
	"github.com/gograd/gograd/types/tensors"
	"github.com/gograd/gograd/types/xslices"
)

// TestGraphFn builds the subgraph under test into the given scope and returns
// the outputs to check. Build errors are usually raised with must.M1, which
// RunTestGraphFn reports as a build failure.
type TestGraphFn func(s *graph.Scope) []graph.Output

// RunTestGraphFn tests a graph building function graphFn by building it into a
// fresh graph, executing it in a new session and comparing its output(s) to the
// values in want, reporting back any errors in t.
//
// delta is the margin of error acceptable on the difference between output and
// want values.
//
// Entries of want may be *tensors.Tensor, Go values convertible by
// tensors.FromAnyValue, or a shapes.Shape standing for an all-zeros tensor of
// that shape.
func RunTestGraphFn(t *testing.T, testName string, graphFn TestGraphFn, want []any, delta float64) {
	t.Run(testName, func(t *testing.T) {
		wantTensors := xslices.Map(want, func(value any) *tensors.Tensor {
			if s, ok := value.(shapes.Shape); ok {
				return tensors.FromShape(s)
			}
			return tensors.FromAnyValue(value)
		})

		g := graph.New()
		root := graph.NewScope(g)
		var outputs []graph.Output
		require.NotPanicsf(t, func() { outputs = graphFn(root) }, "%s: failed to build graph", testName)
		require.Equalf(t, len(want), len(outputs), "%s: number of wanted results different from number of outputs",
			testName)

		sess := session.New(g)
		defer func() { _ = sess.Close() }()
		results, err := sess.Run(nil, outputs, nil)
		require.NoErrorf(t, err, "%s: failed to execute graph", testName)

		fmt.Printf("\n%s:\n", testName)
		for ii, result := range results {
			fmt.Printf("\tOutput %d: %s\n", ii, result)
		}
		for ii, result := range results {
			require.Truef(t, wantTensors[ii].InDelta(result, delta),
				"%s: output #%d=%s doesn't match wanted value %v", testName, ii, result, want[ii])
		}
	})
}

// InitVariables runs the initializers of the given variables, failing t on any
// error. Variables without an initializer are rejected.
func InitVariables(t *testing.T, sess *session.Session, vars ...*graph.Variable) {
	targets := make([]*graph.Operation, 0, len(vars))
	for _, v := range vars {
		require.NotNilf(t, v.Initializer(), "variable %q has no initializer", v.Name())
		targets = append(targets, v.Initializer())
	}
	_, err := sess.Run(nil, nil, targets)
	require.NoError(t, err, "failed to initialize variables")
}
