package bdd

import "math"

// traversal is the single depth-first traversal shared by mark, support,
// density, cofactor, and equant (spec section 4.3): a per-invocation memo
// keyed by ref, a leaf value for constants, and a combine function that
// receives the visited ref, its top variable, its children, and their
// already-computed values.
type traversal struct {
	engine  *Engine
	memo    map[Ref]uint64
	leaf    func(r Ref) uint64
	combine func(r Ref, v uint16, hi, lo Ref, hival, loval uint64) uint64
}

func newTraversal(e *Engine, leaf func(Ref) uint64, combine func(Ref, uint16, Ref, Ref, uint64, uint64) uint64) *traversal {
	return &traversal{engine: e, memo: make(map[Ref]uint64), leaf: leaf, combine: combine}
}

func (t *traversal) run(r Ref) uint64 {
	if val, ok := t.memo[r]; ok {
		return val
	}
	if IsConstant(r) || !t.engine.Owns(r) {
		val := t.leaf(r)
		t.memo[r] = val
		return val
	}
	v, hi, lo := t.engine.Deref(r)
	hival := t.run(hi)
	loval := t.run(lo)
	val := t.combine(r, v, hi, lo, hival, loval)
	t.memo[r] = val
	return val
}

// Mark returns the set of absolute refs reachable from roots (spec
// section 4.3's "reach = mark(roots)"), used directly by GC.
func (e *Engine) Mark(roots []Ref) map[Ref]bool {
	aux := make(map[Ref]bool)
	t := newTraversal(e,
		func(Ref) uint64 { return 1 },
		func(r Ref, v uint16, hi, lo Ref, hival, loval uint64) uint64 {
			aux[r.Abs()] = true
			return 1
		},
	)
	for _, root := range roots {
		t.run(root)
		if !IsConstant(root) {
			aux[root.Abs()] = true
		}
	}
	return aux
}

// Support returns the set of variables appearing on some path from r to
// a constant.
func (e *Engine) Support(r Ref) map[uint16]bool {
	aux := make(map[uint16]bool)
	t := newTraversal(e,
		func(Ref) uint64 { return 1 },
		func(r Ref, v uint16, hi, lo Ref, hival, loval uint64) uint64 {
			aux[v] = true
			return 1
		},
	)
	t.run(r)
	return aux
}

// Density returns the fraction of satisfying assignments of r over the
// full assignment space of its support (a value in [0,1]), computed
// bottom-up as (hival+loval)/2 at every internal node.
func (e *Engine) Density(r Ref) float64 {
	t := newTraversal(e,
		func(c Ref) uint64 {
			if c == RefOne {
				return math.Float64bits(1.0)
			}
			return math.Float64bits(0.0)
		},
		func(r Ref, v uint16, hi, lo Ref, hival, loval uint64) uint64 {
			hv, lv := math.Float64frombits(hival), math.Float64frombits(loval)
			return math.Float64bits((hv + lv) / 2)
		},
	)
	return math.Float64frombits(t.run(r))
}

// Literals is a set of signed literals over variable indices, used by
// Cofactor/Restrict: Pos[v] means the literal v is fixed true, Neg[v]
// means ¬v is fixed true. A variable should appear in at most one of the
// two sets.
type Literals struct {
	Pos map[uint16]bool
	Neg map[uint16]bool
}

// NewLiterals returns an empty literal set.
func NewLiterals() Literals {
	return Literals{Pos: make(map[uint16]bool), Neg: make(map[uint16]bool)}
}

// Restrict (a.k.a. cofactor) fixes every variable named in lits to its
// literal's polarity and simplifies r accordingly.
func (e *Engine) Restrict(r Ref, lits Literals) (Ref, error) {
	var canonErr error
	t := newTraversal(e,
		func(c Ref) uint64 { return uint64(c) },
		func(r Ref, v uint16, hi, lo Ref, hival, loval uint64) uint64 {
			if lits.Pos[v] {
				return hival
			}
			if lits.Neg[v] {
				return loval
			}
			ref, err := e.Canonize(v, Ref(hival), Ref(loval))
			if err != nil && canonErr == nil {
				canonErr = err
			}
			return uint64(ref)
		},
	)
	result := Ref(t.run(r))
	return result, canonErr
}

// Equant existentially quantifies r over every variable named in vars.
func (e *Engine) Equant(r Ref, vars map[uint16]bool) (Ref, error) {
	var opErr error
	t := newTraversal(e,
		func(c Ref) uint64 { return uint64(c) },
		func(r Ref, v uint16, hi, lo Ref, hival, loval uint64) uint64 {
			if vars[v] {
				ref, err := e.Or(Ref(hival), Ref(loval))
				if err != nil && opErr == nil {
					opErr = err
				}
				return uint64(ref)
			}
			ref, err := e.Canonize(v, Ref(hival), Ref(loval))
			if err != nil && opErr == nil {
				opErr = err
			}
			return uint64(ref)
		},
	)
	result := Ref(t.run(r))
	return result, opErr
}

// Forall universally quantifies r over every variable named in vars,
// obtained by negating input and output around Equant (spec section
// 4.3).
func (e *Engine) Forall(r Ref, vars map[uint16]bool) (Ref, error) {
	ref, err := e.Equant(r.Negate(), vars)
	if err != nil {
		return 0, err
	}
	return ref.Negate(), nil
}
