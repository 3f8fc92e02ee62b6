package bdd

// NormalizeITE applies the terminal-case, negation-normalization,
// absorption, and canonical-ordering rules of spec section 4.3, all of
// which compare only ref values and need neither an Engine nor a network
// hop — exactly what lets this run once, client- or worker-side, before
// ever routing an ITE_LOOKUP to the hash(i,t,e)-owning worker (spec
// section 4.4). If terminal is true, result is the final answer; otherwise
// ni/nt/ne is the triple ready for an ITE cache lookup and outNeg is the
// negation to apply to whatever that lookup (or the recursion it
// triggers) returns.
func NormalizeITE(i, t, el Ref) (ni, nt, nel Ref, outNeg bool, result Ref, terminal bool) {
	switch {
	case i == RefOne:
		return 0, 0, 0, false, t, true
	case i == RefZero:
		return 0, 0, 0, false, el, true
	case t == el:
		return 0, 0, 0, false, t, true
	case t == RefOne && el == RefZero:
		return 0, 0, 0, false, i, true
	case t == RefZero && el == RefOne:
		return 0, 0, 0, false, i.Negate(), true
	}

	outNeg = false
	if i.Neg() {
		t, el = el, t
		i = i.Negate()
	}
	if t.Neg() {
		t = t.Negate()
		el = el.Negate()
		outNeg = true
	}

	// Absorption (i is non-negated at this point).
	if i == t {
		t = RefOne
	}
	if i == el {
		el = RefZero
	}
	if i == el.Negate() {
		el = RefOne
	}

	// Canonical ordering: AND form (e=0) orders its commutative
	// arguments; XOR form (t=¬e) likewise, recomputing e to preserve
	// t=¬e after the swap.
	if el == RefZero && i > t {
		i, t = t, i
	} else if t == el.Negate() && i > t {
		oldI := i
		i, t = t, oldI
		el = oldI.Negate()
	}

	return i, t, el, outNeg, 0, false
}

// ITE computes if-then-else(i, t, e): NormalizeITE's terminal/negation/
// ordering rules, then a cache lookup, and on a miss a split on the
// lowest-indexed variable among {v(i),v(t),v(e)}, recursion on the hi-
// and lo-cofactors, and canonize (spec section 4.3).
func (e *Engine) ITE(i, t, el Ref) (Ref, error) {
	ni, nt, nel, outNeg, result, terminal := NormalizeITE(i, t, el)
	if terminal {
		return result, nil
	}
	i, t, el = ni, nt, nel

	key := iteKey{i, t, el}
	if ref, ok := e.iteCache[key]; ok {
		if outNeg {
			ref = ref.Negate()
		}
		return ref, nil
	}

	v := MinTopVar(i, t, el)
	ihi, ilo := e.cofactorPair(i, v)
	thi, tlo := e.cofactorPair(t, v)
	ehi, elo := e.cofactorPair(el, v)

	hi, err := e.ITE(ihi, thi, ehi)
	if err != nil {
		return 0, err
	}
	lo, err := e.ITE(ilo, tlo, elo)
	if err != nil {
		return 0, err
	}
	ref, err := e.Canonize(v, hi, lo)
	if err != nil {
		return 0, err
	}
	e.iteCache[key] = ref

	if outNeg {
		ref = ref.Negate()
	}
	return ref, nil
}

// cofactorPair returns (hi, lo) of r with respect to variable v: r's
// actual children if r branches on v, else r unchanged in both branches
// (r does not depend on v).
func (e *Engine) cofactorPair(r Ref, v uint16) (hi, lo Ref) {
	if e.TopVar(r) != v {
		return r, r
	}
	_, hi, lo = e.Deref(r)
	return hi, lo
}

func minVar(a, b, c uint16) uint16 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// And, Or, and Xor are defined directly in terms of ITE, per spec
// section 4.3.
func (e *Engine) And(a, b Ref) (Ref, error) { return e.ITE(a, b, RefZero) }
func (e *Engine) Or(a, b Ref) (Ref, error)  { return e.ITE(a, RefOne, b) }
func (e *Engine) Xor(a, b Ref) (Ref, error) { return e.ITE(a, b.Negate(), b) }
