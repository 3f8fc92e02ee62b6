package bdd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefNegateIsInvolution(t *testing.T) {
	r := NewVariableRef(7)
	assert.Equal(t, r, r.Negate().Negate())
	assert.True(t, r.Negate().Neg())
	assert.False(t, r.Neg())
}

func TestRefZeroOneAreNegations(t *testing.T) {
	assert.Equal(t, RefOne, RefZero.Negate())
	assert.True(t, IsConstant(RefOne))
	assert.True(t, IsConstant(RefZero))
}

func TestRefVariableSentinelSortsLast(t *testing.T) {
	v := NewVariableRef(100)
	assert.Less(t, v.Var(), RefOne.Var())
}

func TestLayoutRejectsOutOfRangeWidth(t *testing.T) {
	_, err := newLayout(2)
	assert.ErrorIs(t, err, ErrInvalidHashBits)
	_, err = newLayout(45)
	assert.ErrorIs(t, err, ErrInvalidHashBits)
}

func TestLayoutPackUnpackRoundTrip(t *testing.T) {
	l, err := newLayout(32)
	require.NoError(t, err)
	ref := newFunctionRef(l, 4, 0xDEAD, 0xBEEF&((1<<l.uniqBits())-1))
	assert.Equal(t, uint64(0xDEAD), l.hashSig(ref))
}

func TestRefVarFieldSurvivesNegation(t *testing.T) {
	v := NewVariableRef(42)
	assert.Equal(t, v.Var(), v.Negate().Var())
	assert.Equal(t, RefTypeVariable, v.Type())
	assert.Equal(t, RefTypeVariable, v.Negate().Type())
}

// TestRefHashSigMatchesCanonizeLookupRouting proves RETRIEVE_LOOKUP's
// routing key (RefHashSig) recovers exactly the value CANONIZE_LOOKUP
// hashed the triple to when the node was created, across every hash-bits
// width the cluster can be configured with: the two operators must agree
// on a node's owning worker (owner(h) = h % W) or a RETRIEVE issued from
// a different worker than the one that canonized the node will miss.
func TestRefHashSigMatchesCanonizeLookupRouting(t *testing.T) {
	for _, hashBits := range []uint{3, 8, 16, 32} {
		e, err := NewEngine(hashBits)
		require.NoError(t, err)

		v0 := e.AllocVar()
		v1 := e.AllocVar()
		hi := NewVariableRef(v1)
		lo := RefZero

		wantSig := HashTriple(hashBits, v0, hi, lo)
		ref, err := e.CanonizeTriple(v0, hi, lo)
		require.NoError(t, err)

		assert.Equal(t, wantSig, RefHashSig(hashBits, ref),
			"hashBits=%d: RETRIEVE_LOOKUP must route on the embedded hash signature CANONIZE_LOOKUP stored the node under", hashBits)

		// Negation must not perturb the routing key: RETRIEVE_LOOKUP
		// always operates on r.Abs() before extracting the hash signature.
		assert.Equal(t, wantSig, RefHashSig(hashBits, ref.Negate()))
	}
}

// TestRefHashSigDisagreesWithHashRefs demonstrates why HashRefs cannot
// stand in for RefHashSig: it is a fresh hash over the ref's bits,
// uncorrelated with the hash signature embedded by CanonizeTriple, so
// using it to route RETRIEVE_LOOKUP would (on a W>1 cluster) frequently
// reach a worker other than the one that owns the node.
func TestRefHashSigDisagreesWithHashRefs(t *testing.T) {
	const hashBits = 8
	e, err := NewEngine(hashBits)
	require.NoError(t, err)

	v0 := e.AllocVar()
	v1 := e.AllocVar()
	ref, err := e.CanonizeTriple(v0, NewVariableRef(v1), RefZero)
	require.NoError(t, err)

	sig := RefHashSig(hashBits, ref)
	refsHash := HashRefs(ref)
	assert.NotEqual(t, sig, refsHash,
		"RefHashSig and HashRefs coincidentally agreeing would make this test unable to detect a regression back to routing RETRIEVE_LOOKUP via HashRefs")
}
