package client

import (
	"math"

	"github.com/rebryant/cloudbdd-go/internal/bdd"
)

// traversal mirrors internal/bdd's traversal (the same memoized depth-
// first walk with a leaf value and a combine function), adapted for a
// client whose Deref is a network call and can therefore fail partway
// through: run stops and propagates the first error it sees instead of
// panicking or returning a zero value silently.
type traversal struct {
	c       *Client
	memo    map[bdd.Ref]uint64
	leaf    func(r bdd.Ref) uint64
	combine func(r bdd.Ref, v uint16, hi, lo bdd.Ref, hival, loval uint64) (uint64, error)
}

func newTraversal(c *Client, leaf func(bdd.Ref) uint64, combine func(bdd.Ref, uint16, bdd.Ref, bdd.Ref, uint64, uint64) (uint64, error)) *traversal {
	return &traversal{c: c, memo: make(map[bdd.Ref]uint64), leaf: leaf, combine: combine}
}

func (t *traversal) run(r bdd.Ref) (uint64, error) {
	if val, ok := t.memo[r]; ok {
		return val, nil
	}
	if bdd.IsConstant(r) {
		val := t.leaf(r)
		t.memo[r] = val
		return val, nil
	}
	v, hi, lo, err := t.c.Deref(r)
	if err != nil {
		return 0, err
	}
	hival, err := t.run(hi)
	if err != nil {
		return 0, err
	}
	loval, err := t.run(lo)
	if err != nil {
		return 0, err
	}
	val, err := t.combine(r, v, hi, lo, hival, loval)
	if err != nil {
		return 0, err
	}
	t.memo[r] = val
	return val, nil
}

// Mark returns the set of absolute refs reachable from roots, fetching
// whatever nodes aren't already cached. It satisfies internal/conjunct's
// Engine.Mark; network errors collapse the unreachable tail of the walk
// rather than surfacing through that interface's error-free signature,
// consistent with the conjunction engine treating Mark as a size oracle
// it can't itself fail on.
func (c *Client) Mark(roots []bdd.Ref) map[bdd.Ref]bool {
	aux := make(map[bdd.Ref]bool)
	t := newTraversal(c,
		func(bdd.Ref) uint64 { return 1 },
		func(r bdd.Ref, v uint16, hi, lo bdd.Ref, hival, loval uint64) (uint64, error) {
			aux[r.Abs()] = true
			return 1, nil
		},
	)
	for _, root := range roots {
		if _, err := t.run(root); err != nil {
			continue
		}
		if !bdd.IsConstant(root) {
			aux[root.Abs()] = true
		}
	}
	return aux
}

// Support returns the set of variables appearing on some path from r to
// a constant. It satisfies internal/conjunct's Engine.Support.
func (c *Client) Support(r bdd.Ref) map[uint16]bool {
	aux := make(map[uint16]bool)
	t := newTraversal(c,
		func(bdd.Ref) uint64 { return 1 },
		func(r bdd.Ref, v uint16, hi, lo bdd.Ref, hival, loval uint64) (uint64, error) {
			aux[v] = true
			return 1, nil
		},
	)
	_, _ = t.run(r)
	return aux
}

// SupportErr is Support's error-returning counterpart, for callers that
// need to distinguish "empty support" from "lost the connection
// mid-walk" (Support itself exists only to satisfy conjunct.Engine).
func (c *Client) SupportErr(r bdd.Ref) (map[uint16]bool, error) {
	aux := make(map[uint16]bool)
	var walkErr error
	t := newTraversal(c,
		func(bdd.Ref) uint64 { return 1 },
		func(r bdd.Ref, v uint16, hi, lo bdd.Ref, hival, loval uint64) (uint64, error) {
			aux[v] = true
			return 1, nil
		},
	)
	_, walkErr = t.run(r)
	return aux, walkErr
}

// Density returns the fraction of satisfying assignments of r over the
// full assignment space of its support.
func (c *Client) Density(r bdd.Ref) (float64, error) {
	t := newTraversal(c,
		func(ref bdd.Ref) uint64 {
			if ref == bdd.RefOne {
				return math.Float64bits(1.0)
			}
			return math.Float64bits(0.0)
		},
		func(r bdd.Ref, v uint16, hi, lo bdd.Ref, hival, loval uint64) (uint64, error) {
			hv, lv := math.Float64frombits(hival), math.Float64frombits(loval)
			return math.Float64bits((hv + lv) / 2), nil
		},
	)
	val, err := t.run(r)
	return math.Float64frombits(val), err
}

// Restrict fixes every variable named in lits to its literal's polarity
// and simplifies r accordingly, canonizing through the cluster for every
// node whose variable isn't restricted.
func (c *Client) Restrict(r bdd.Ref, lits bdd.Literals) (bdd.Ref, error) {
	t := newTraversal(c,
		func(ref bdd.Ref) uint64 { return uint64(ref) },
		func(r bdd.Ref, v uint16, hi, lo bdd.Ref, hival, loval uint64) (uint64, error) {
			if lits.Pos[v] {
				return hival, nil
			}
			if lits.Neg[v] {
				return loval, nil
			}
			ref, err := c.Canonize(v, bdd.Ref(hival), bdd.Ref(loval))
			return uint64(ref), err
		},
	)
	val, err := t.run(r)
	return bdd.Ref(val), err
}

// Equant existentially quantifies r over every variable named in vars.
func (c *Client) Equant(r bdd.Ref, vars map[uint16]bool) (bdd.Ref, error) {
	t := newTraversal(c,
		func(ref bdd.Ref) uint64 { return uint64(ref) },
		func(r bdd.Ref, v uint16, hi, lo bdd.Ref, hival, loval uint64) (uint64, error) {
			if vars[v] {
				ref, err := c.Or(bdd.Ref(hival), bdd.Ref(loval))
				return uint64(ref), err
			}
			ref, err := c.Canonize(v, bdd.Ref(hival), bdd.Ref(loval))
			return uint64(ref), err
		},
	)
	val, err := t.run(r)
	return bdd.Ref(val), err
}

// Forall universally quantifies r over every variable named in vars,
// obtained by negating input and output around Equant.
func (c *Client) Forall(r bdd.Ref, vars map[uint16]bool) (bdd.Ref, error) {
	ref, err := c.Equant(r.Negate(), vars)
	if err != nil {
		return 0, err
	}
	return ref.Negate(), nil
}

// SatCount returns the number of satisfying assignments of r over
// numVars variables, scaling Density by 2^numVars.
func (c *Client) SatCount(r bdd.Ref, numVars int) (float64, error) {
	d, err := c.Density(r)
	if err != nil {
		return 0, err
	}
	return d * math.Pow(2, float64(numVars)), nil
}

// Size returns the number of distinct nodes reachable from r.
func (c *Client) Size(r bdd.Ref) int {
	return len(c.Mark([]bdd.Ref{r}))
}
