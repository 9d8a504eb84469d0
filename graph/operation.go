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
	"fmt"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gograd/gograd/types/shapes"
)

// Operation is a finished, immutable node of a Graph. It is created through the
// OpSpec builder (see Graph.NewOperation) and identified by its unique name.
type Operation struct {
	graph  *Graph
	opType string
	name   string

	// id is the insertion index in the graph; inputs always have smaller ids,
	// so ascending id order is a topological order.
	id int

	inputs        []Output
	controlInputs []*Operation
	attrs         map[string]any

	outputShapes []shapes.Shape
}

// Graph the operation belongs to.
func (op *Operation) Graph() *Graph { return op.graph }

// Type of the operation, e.g. "Const", "MatMul", "NoOp".
func (op *Operation) Type() string { return op.opType }

// Name of the operation, unique within its graph.
func (op *Operation) Name() string { return op.name }

// ID is the creation index of the operation within its graph.
func (op *Operation) ID() int { return op.id }

// NumInputs returns the number of data inputs.
func (op *Operation) NumInputs() int { return len(op.inputs) }

// Inputs returns the data inputs of the operation.
func (op *Operation) Inputs() []Output { return slices.Clone(op.inputs) }

// ControlInputs returns the operations that must execute before this one,
// without passing data.
func (op *Operation) ControlInputs() []*Operation { return slices.Clone(op.controlInputs) }

// NumOutputs returns the number of outputs produced by the operation.
func (op *Operation) NumOutputs() int { return len(op.outputShapes) }

// Output returns a handle to the i-th output of the operation. It panics if i
// is out of range, as that is always a programming error.
func (op *Operation) Output(i int) Output {
	if i < 0 || i >= len(op.outputShapes) {
		panic(errors.Errorf("operation %q (%s) has %d output(s), requested output #%d",
			op.name, op.opType, len(op.outputShapes), i))
	}
	return Output{op: op, index: i}
}

// Attr returns the attribute set at build time with the given name.
func (op *Operation) Attr(name string) (value any, found bool) {
	value, found = op.attrs[name]
	return
}

// String implements fmt.Stringer.
func (op *Operation) String() string {
	return fmt.Sprintf("%s(%q)", op.opType, op.name)
}

// Output is a handle to one result of an Operation: the (operation, index) pair.
// It is a small value, cheap to copy, and remains valid for the lifetime of the
// graph. The zero value is invalid.
type Output struct {
	op    *Operation
	index int
}

// Op returns the operation that produces this output.
func (o Output) Op() *Operation { return o.op }

// Index of this output among the operation's outputs.
func (o Output) Index() int { return o.index }

// Valid reports whether the Output refers to an operation.
func (o Output) Valid() bool { return o.op != nil }

// Shape of the value this output produces.
func (o Output) Shape() shapes.Shape {
	if o.op == nil {
		return shapes.Invalid()
	}
	return o.op.outputShapes[o.index]
}

// DType of the value this output produces.
func (o Output) DType() dtypes.DType { return o.Shape().DType }

// String implements fmt.Stringer.
func (o Output) String() string {
	if o.op == nil {
		return "Output<invalid>"
	}
	return fmt.Sprintf("%s:%d%s", o.op.name, o.index, o.Shape())
}

// OpSpec accumulates the specification of one operation: type, name, inputs,
// control-inputs and attributes. Finish validates it, infers the output shapes
// and adds the operation to the graph.
//
// Wiring errors (nil or cross-graph inputs) are recorded and reported by Finish,
// so calls can be chained.
type OpSpec struct {
	graph  *Graph
	opType string
	name   string

	inputs        []Output
	controlInputs []*Operation
	attrs         map[string]any

	err error
}

// NewOperation starts the specification of a new operation of the given type,
// with the given (unique) name. Most code should use the typed constructors
// (Const, Add, ...) or go through a Scope instead.
func (g *Graph) NewOperation(opType, name string) *OpSpec {
	return &OpSpec{graph: g, opType: opType, name: name}
}

func (b *OpSpec) setErrorf(format string, args ...any) {
	if b.err == nil {
		b.err = errors.Errorf(format, args...)
	}
}

// AddInput appends a data input.
func (b *OpSpec) AddInput(o Output) *OpSpec {
	if o.op == nil {
		b.setErrorf("op %q (%s): AddInput with invalid Output", b.name, b.opType)
		return b
	}
	if o.op.graph != b.graph {
		b.setErrorf("op %q (%s): input %s belongs to a different graph", b.name, b.opType, o)
		return b
	}
	b.inputs = append(b.inputs, o)
	return b
}

// AddInputList appends several data inputs, in order.
func (b *OpSpec) AddInputList(list []Output) *OpSpec {
	for _, o := range list {
		b.AddInput(o)
	}
	return b
}

// AddControlInput adds an operation that must execute before this one. Duplicates
// are dropped.
func (b *OpSpec) AddControlInput(op *Operation) *OpSpec {
	if op == nil {
		b.setErrorf("op %q (%s): AddControlInput with nil operation", b.name, b.opType)
		return b
	}
	if op.graph != b.graph {
		b.setErrorf("op %q (%s): control input %s belongs to a different graph", b.name, b.opType, op)
		return b
	}
	if slices.Contains(b.controlInputs, op) {
		return b
	}
	b.controlInputs = append(b.controlInputs, op)
	return b
}

// SetAttr sets an attribute of the operation. The attributes each operation type
// accepts are fixed, see the op type registry in opdefs.go.
func (b *OpSpec) SetAttr(name string, value any) *OpSpec {
	if b.attrs == nil {
		b.attrs = make(map[string]any)
	}
	b.attrs[name] = value
	return b
}

// Finish validates the specification and adds the operation to the graph,
// returning its handle. On error the graph is unchanged.
func (b *OpSpec) Finish() (*Operation, error) {
	if b.err != nil {
		return nil, b.err
	}
	def, found := opDefs[b.opType]
	if !found {
		return nil, errors.Errorf("op %q: unknown operation type %q", b.name, b.opType)
	}
	if def.numInputs >= 0 && len(b.inputs) != def.numInputs {
		return nil, errors.Errorf("op %q (%s): requires %d input(s), got %d",
			b.name, b.opType, def.numInputs, len(b.inputs))
	}
	op := &Operation{
		graph:         b.graph,
		opType:        b.opType,
		name:          b.name,
		inputs:        slices.Clone(b.inputs),
		controlInputs: slices.Clone(b.controlInputs),
		attrs:         b.attrs,
	}
	outputShapes, err := def.inferShapes(op)
	if err != nil {
		return nil, errors.WithMessagef(err, "op %q (%s)", b.name, b.opType)
	}
	op.outputShapes = outputShapes
	if err := b.graph.register(op); err != nil {
		return nil, err
	}
	return op, nil
}
