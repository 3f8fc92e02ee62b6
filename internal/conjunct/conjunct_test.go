package conjunct

import (
	"testing"

	"github.com/rebryant/cloudbdd-go/internal/bdd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *bdd.Engine {
	t.Helper()
	e, err := bdd.NewEngine(32)
	require.NoError(t, err)
	return e
}

func vars(t *testing.T, e *bdd.Engine, n int) []bdd.Ref {
	t.Helper()
	out := make([]bdd.Ref, n)
	for i := range out {
		out[i] = bdd.NewVariableRef(e.AllocVar())
	}
	return out
}

func TestConjoinEmptySetReturnsIdentity(t *testing.T) {
	e := newTestEngine(t)
	c := New(e, DefaultConfig())

	r, err := c.Conjoin(nil)
	require.NoError(t, err)
	assert.Equal(t, bdd.RefOne, r.Ref)
}

func TestConjoinSingleRefReturnsItUnchanged(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 1)
	c := New(e, DefaultConfig())

	r, err := c.Conjoin(vs)
	require.NoError(t, err)
	assert.Equal(t, vs[0], r.Ref)
}

func TestConjoinThreeVariablesMatchesIteratedAnd(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 3)
	c := New(e, DefaultConfig())

	got, err := c.Conjoin(vs)
	require.NoError(t, err)

	ab, err := e.And(vs[0], vs[1])
	require.NoError(t, err)
	want, err := e.And(ab, vs[2])
	require.NoError(t, err)

	assert.Equal(t, want, got.Ref)
	assert.Equal(t, len(e.Mark([]bdd.Ref{want})), got.FinalSize)
}

func TestConjoinFourVariablesMatchesPairwiseAnd(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 4)
	c := New(e, DefaultConfig())

	ab, err := e.And(vs[0], vs[1])
	require.NoError(t, err)
	cd, err := e.And(vs[2], vs[3])
	require.NoError(t, err)
	want, err := e.And(ab, cd)
	require.NoError(t, err)

	got, err := c.Conjoin([]bdd.Ref{vs[0], vs[1], vs[2], vs[3]})
	require.NoError(t, err)
	assert.Equal(t, want, got.Ref)
}

func TestConjoinRecordsOneHistogramEntryPerMerge(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 3)
	c := New(e, DefaultConfig())

	got, err := c.Conjoin(vs)
	require.NoError(t, err)

	total := 0
	for _, n := range got.TryHistogram {
		total += n
	}
	assert.Equal(t, len(vs)-1, total, "one merge per reduceOnce call, independent of how many tries it took")
}

func TestBoundedAndAbortsWhenResultExceedsLimit(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 2)
	c := New(e, DefaultConfig())

	entries := []*entry{{ref: vs[0]}, {ref: vs[1]}}
	_, aborted, err := c.boundedAnd(entries, candidate{i: 0, j: 1, sim: 1}, 1)
	require.NoError(t, err)
	assert.True(t, aborted, "and of two independent variables has 2 nodes, exceeding a limit of 1")
}

func TestSimilarityIsZeroForDisjointSupport(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 2)
	c := New(e, DefaultConfig())

	a := &entry{ref: vs[0]}
	b := &entry{ref: vs[1]}
	sim := c.similarity(a, b, 0, 1)
	assert.Equal(t, 0.0, sim)
}

func TestSimilarityIsPositiveForSharedSupport(t *testing.T) {
	e := newTestEngine(t)
	vs := vars(t, e, 2)
	c := New(e, DefaultConfig())

	ab, err := e.And(vs[0], vs[1])
	require.NoError(t, err)

	a := &entry{ref: vs[0]}
	shared := &entry{ref: ab}
	sim := c.similarity(a, shared, 0, 1)
	assert.Greater(t, sim, 0.0)
}
