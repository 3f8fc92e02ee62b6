package bdd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vars(t *testing.T, e *Engine, n int) []Ref {
	t.Helper()
	out := make([]Ref, n)
	for i := range out {
		out[i] = NewVariableRef(e.AllocVar())
	}
	return out
}

func TestITETerminalCases(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 2)
	a, b := vs[0], vs[1]

	r, err := e.ITE(RefOne, a, b)
	require.NoError(t, err)
	assert.Equal(t, a, r)

	r, err = e.ITE(RefZero, a, b)
	require.NoError(t, err)
	assert.Equal(t, b, r)

	r, err = e.ITE(a, b, b)
	require.NoError(t, err)
	assert.Equal(t, b, r)

	r, err = e.ITE(a, RefOne, RefZero)
	require.NoError(t, err)
	assert.Equal(t, a, r)

	r, err = e.ITE(a, RefZero, RefOne)
	require.NoError(t, err)
	assert.Equal(t, a.Negate(), r)
}

func TestITEAbsorption(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 2)
	a, b := vs[0], vs[1]

	// ite(a, a, b) == ite(a, 1, b) == or(a, b)
	r1, err := e.ITE(a, a, b)
	require.NoError(t, err)
	r2, err := e.Or(a, b)
	require.NoError(t, err)
	assert.Equal(t, r2, r1)

	// ite(a, b, a) == ite(a, b, 0) == and(a, b)
	r3, err := e.ITE(a, b, a)
	require.NoError(t, err)
	r4, err := e.And(a, b)
	require.NoError(t, err)
	assert.Equal(t, r4, r3)

	// ite(a, b, ¬a) == ite(a, b, 1)
	r5, err := e.ITE(a, b, a.Negate())
	require.NoError(t, err)
	r6, err := e.ITE(a, b, RefOne)
	require.NoError(t, err)
	assert.Equal(t, r6, r5)
}

func TestAndOrCommutative(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 2)
	a, b := vs[0], vs[1]

	ab, err := e.And(a, b)
	require.NoError(t, err)
	ba, err := e.And(b, a)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)

	orab, err := e.Or(a, b)
	require.NoError(t, err)
	orba, err := e.Or(b, a)
	require.NoError(t, err)
	assert.Equal(t, orab, orba)
}

func TestXorAssociative(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 3)
	a, b, c := vs[0], vs[1], vs[2]

	ab, err := e.Xor(a, b)
	require.NoError(t, err)
	abc1, err := e.Xor(ab, c)
	require.NoError(t, err)

	bc, err := e.Xor(b, c)
	require.NoError(t, err)
	abc2, err := e.Xor(a, bc)
	require.NoError(t, err)

	assert.Equal(t, abc1, abc2)
}

func TestAndOrComplementLaws(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 1)
	a := vs[0]

	and, err := e.And(a, a.Negate())
	require.NoError(t, err)
	assert.Equal(t, RefZero, and)

	or, err := e.Or(a, a.Negate())
	require.NoError(t, err)
	assert.Equal(t, RefOne, or)
}

func TestITEEqualsOrOfAnds(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 3)
	i, thn, els := vs[0], vs[1], vs[2]

	ite, err := e.ITE(i, thn, els)
	require.NoError(t, err)

	andIT, err := e.And(i, thn)
	require.NoError(t, err)
	andNIE, err := e.And(i.Negate(), els)
	require.NoError(t, err)
	orred, err := e.Or(andIT, andNIE)
	require.NoError(t, err)

	assert.Equal(t, orred, ite)
}

func TestITECachesRepeatedCalls(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 3)

	r1, err := e.ITE(vs[0], vs[1], vs[2])
	require.NoError(t, err)
	before := len(e.iteCache)

	r2, err := e.ITE(vs[0], vs[1], vs[2])
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, before, len(e.iteCache))
}
