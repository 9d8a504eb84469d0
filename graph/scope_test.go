package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeUniqueName(t *testing.T) {
	g := New()
	s := NewScope(g)

	assert.Equal(t, "x", s.UniqueName("x"))
	assert.Equal(t, "x_1", s.UniqueName("x"))
	assert.Equal(t, "x_2", s.UniqueName("x"))
	assert.Equal(t, "y", s.UniqueName("y"))
}

func TestSubScopeNaming(t *testing.T) {
	g := New()
	s := NewScope(g)

	layer := s.SubScope("layer")
	a, err := Const(layer, float32(1))
	require.NoError(t, err)
	assert.Equal(t, "layer/Const", a.Op().Name())

	nested := layer.SubScope("bias")
	b, err := Const(nested, float32(2))
	require.NoError(t, err)
	assert.Equal(t, "layer/bias/Const", b.Op().Name())

	// A sibling sub-scope with the same name gets uniquified, so names from the
	// two never collide.
	layer2 := s.SubScope("layer")
	c, err := Const(layer2, float32(3))
	require.NoError(t, err)
	assert.Equal(t, "layer_1/Const", c.Op().Name())

	// Uniquification also considers plain op names already taken at the root.
	_, err = g.NewOperation("NoOp", "block").Finish()
	require.NoError(t, err)
	block := s.SubScope("block")
	d, err := Const(block, float32(4))
	require.NoError(t, err)
	assert.Equal(t, "block_1/Const", d.Op().Name())
}

func TestScopeControlDependencies(t *testing.T) {
	g := New()
	s := NewScope(g)
	a, err := Const(s, float32(1))
	require.NoError(t, err)
	b, err := Const(s, float32(2))
	require.NoError(t, err)

	deps := s.WithControlDependencies(a.Op(), b.Op())
	sum, err := Add(deps, a, b)
	require.NoError(t, err)
	require.Len(t, sum.Op().ControlInputs(), 2)

	// The original scope is untouched.
	require.Empty(t, s.ControlDependencies())
	plain, err := Const(s, float32(3))
	require.NoError(t, err)
	require.Empty(t, plain.Op().ControlInputs())

	// Deriving again accumulates, without duplicates.
	more := deps.WithControlDependencies(b.Op(), plain.Op())
	require.Len(t, more.ControlDependencies(), 3)

	// Sub-scopes inherit the parent's control dependencies.
	sub := deps.SubScope("inner")
	c, err := Const(sub, float32(4))
	require.NoError(t, err)
	require.Len(t, c.Op().ControlInputs(), 2)
	assert.Equal(t, "inner/Const", c.Op().Name())
}
