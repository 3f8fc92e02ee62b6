package bdd

// Triple is a unique-table node's children: (v, hi, lo), with hi always
// stored non-negated per the normal form of spec section 3.
type Triple struct {
	V      uint16
	Hi, Lo Ref
}

type bucketEntry struct {
	Triple Triple
	Ref    Ref
}

// Engine is the worker-local BDD reference engine: the arena-backed
// unique table (grounded on dalzilio-rudd's buddy/bddNode arena-and-
// bucket design, adapted here to carry negation edges, which rudd does
// not have), the ITE cache, and a variable allocator. See the package
// doc comment for the single-owner-goroutine concurrency contract.
type Engine struct {
	layout layout

	// buckets maps a hash signature to its bucket, itself a map from
	// uniquifier to entry. nextUniq is a per-bucket monotonic counter:
	// uniquifiers are never reused, even across GC, so a live ref's
	// identity never collides with one allocated after it was freed.
	buckets  map[uint64]map[uint64]*bucketEntry
	nextUniq map[uint64]uint64
	triples  map[Ref]Triple

	nextVar uint16

	iteCache map[iteKey]Ref

	collisions uint64
	inserted   uint64
}

// NewEngine builds an Engine configured with the given hash-signature
// width (spec section 3's tunable-down-to-3 knob; see SPEC_FULL.md's
// Open Questions for the default-32 decision).
func NewEngine(hashBits uint) (*Engine, error) {
	l, err := newLayout(hashBits)
	if err != nil {
		return nil, err
	}
	return &Engine{
		layout:   l,
		buckets:  make(map[uint64]map[uint64]*bucketEntry),
		nextUniq: make(map[uint64]uint64),
		triples:  make(map[Ref]Triple),
		iteCache: make(map[iteKey]Ref),
	}, nil
}

// HashBits reports the engine's configured hash-signature width.
func (e *Engine) HashBits() uint { return e.layout.hashBits }

// AllocVar allocates the next variable index. Only worker 0 calls this
// directly (spec section 4.4, opcode VAR); other workers request a
// variable through the VAR operator routed to worker 0.
func (e *Engine) AllocVar() uint16 {
	v := e.nextVar
	e.nextVar++
	return v
}

// NormalizeCanonize applies the cheap, unique-table-independent half of
// canonize (spec section 4.3): collapsing hi=lo, recognizing the bare
// variable patterns, and pushing a negated hi's negation onto both
// children. It needs no Engine and no network hop, which is exactly what
// lets CANONIZE run on "any worker" before forwarding the remainder to
// the hash(v,hi,lo)-owning worker's CANONIZE_LOOKUP (spec section 4.4).
// If terminal is true, result is the final answer and nhi/nlo/outNeg are
// unused; otherwise nv/nhi/nlo is the triple ready for a unique-table
// lookup and outNeg is the negation to apply to whatever that lookup
// returns.
func NormalizeCanonize(v uint16, hi, lo Ref) (nv uint16, nhi, nlo Ref, outNeg bool, result Ref, terminal bool) {
	if hi == lo {
		return 0, 0, 0, false, hi, true
	}
	if hi == RefOne && lo == RefZero {
		return 0, 0, 0, false, NewVariableRef(v), true
	}
	if hi == RefZero && lo == RefOne {
		return 0, 0, 0, false, NewVariableRef(v).Negate(), true
	}
	if hi.Neg() {
		return v, hi.Negate(), lo.Negate(), true, 0, false
	}
	return v, hi, lo, false, 0, false
}

// Canonize returns a ref for node (v, hi, lo), applying the normal-form
// rules of spec section 3/4.3 in full: NormalizeCanonize's cheap rules
// followed by the unique-table insert-or-find CanonizeTriple performs.
func (e *Engine) Canonize(v uint16, hi, lo Ref) (Ref, error) {
	nv, nhi, nlo, neg, result, terminal := NormalizeCanonize(v, hi, lo)
	if terminal {
		return result, nil
	}
	ref, err := e.CanonizeTriple(nv, nhi, nlo)
	if err != nil {
		return 0, err
	}
	if neg {
		ref = ref.Negate()
	}
	return ref, nil
}

// CanonizeTriple performs the unique-table insert-or-find step of
// canonize on an already-normalized triple (hi non-negated, hi != lo):
// exactly the work spec section 4.4's CANONIZE_LOOKUP performs on the
// worker that owns hash(v, hi, lo) mod W. Negation is the caller's
// responsibility (NormalizeCanonize's outNeg), since it must be applied
// after this lookup returns, not before.
func (e *Engine) CanonizeTriple(v uint16, hi, lo Ref) (Ref, error) {
	sig := tripleHash(e.layout, v, hi, lo)
	bucket := e.buckets[sig]
	for _, ent := range bucket {
		if ent.Triple.V == v && ent.Triple.Hi == hi && ent.Triple.Lo == lo {
			return ent.Ref, nil
		}
	}

	if len(bucket) > 0 {
		e.collisions++
	}
	uniq := e.nextUniq[sig]
	if uniq >= uint64(1)<<e.layout.uniqBits() {
		return 0, ErrUniquifierOverflow
	}
	e.nextUniq[sig] = uniq + 1

	ref := newFunctionRef(e.layout, v, sig, uniq)
	if bucket == nil {
		bucket = make(map[uint64]*bucketEntry)
		e.buckets[sig] = bucket
	}
	entry := &bucketEntry{Triple: Triple{V: v, Hi: hi, Lo: lo}, Ref: ref}
	bucket[uniq] = entry
	e.triples[ref] = entry.Triple
	e.inserted++
	return ref, nil
}

// HashTriple computes hash(v, hi, lo) at the given hash-signature width:
// the same value stored as the low bits of a freshly canonized ref, and
// per spec section 3's routing invariant ("worker = hash mod W") the
// basis for CANONIZE_LOOKUP's routing decision. It needs no Engine
// instance, only the cluster-wide configured hash-signature width, so any
// agent (including a client with no local shard) can compute it.
func HashTriple(hashBits uint, v uint16, hi, lo Ref) uint64 {
	return tripleHash(layout{hashBits: hashBits}, v, hi, lo)
}

// Owns reports whether r's unique-table entry lives in this engine's
// triples map. Constants and variables are universal (every engine
// agrees on their encoding) and always report true; a Function-type ref
// is owned only if this worker's CanonizeTriple produced it. A
// traversal that reaches a ref belonging to another worker's shard
// (which can happen with a stale or foreign root) must not call Deref
// on it: the triples map-miss would silently return a zero Triple
// instead of an error. See traversal.run's ownership check.
func (e *Engine) Owns(r Ref) bool {
	abs := r.Abs()
	if abs.Type() != RefTypeFunction {
		return true
	}
	_, ok := e.triples[abs]
	return ok
}

// Deref returns (v, hi, lo) such that r is logically canonize(v, hi, lo):
// for a negated ref this lifts the negation onto both children (spec
// section 9, "Negation edges... all algorithms operate on absolute refs
// and lift negation as they recurse").
func (e *Engine) Deref(r Ref) (v uint16, hi, lo Ref) {
	abs := r.Abs()
	switch abs.Type() {
	case RefTypeConstant:
		return varSentinel, r, r
	case RefTypeVariable:
		v, hi, lo = abs.Var(), RefOne, RefZero
	default:
		t := e.triples[abs]
		v, hi, lo = t.V, t.Hi, t.Lo
	}
	if r.Neg() {
		hi, lo = hi.Negate(), lo.Negate()
	}
	return
}

// TopVar returns the variable a node branches on (varSentinel for a
// constant), used to order ITE's recursive variable split.
func (e *Engine) TopVar(r Ref) uint16 { return r.Var() }

// MinTopVar returns the lowest-indexed variable among i, t, e's top
// variables, the split variable ITE recurses on (spec section 4.3: "split
// on the lowest-indexed variable among {v(i),v(t),v(e)}"). It reads only
// the refs themselves, not unique-table state, so it needs no Engine.
func MinTopVar(i, t, e Ref) uint16 { return minVar(i.Var(), t.Var(), e.Var()) }

// ITELookup reads the ITE cache for an already-normalized (i, t, e)
// triple, the exact check spec section 4.4's ITE_LOOKUP performs on the
// hash(i,t,e)-owning worker before recursing.
func (e *Engine) ITELookup(i, t, el Ref) (Ref, bool) {
	ref, ok := e.iteCache[iteKey{i, t, el}]
	return ref, ok
}

// ITEStoreResult records (i,t,e) -> ref in the ITE cache, the store half
// of spec section 4.4's ITE_STORE.
func (e *Engine) ITEStoreResult(i, t, el, ref Ref) {
	e.iteCache[iteKey{i, t, el}] = ref
}

// HashRefs computes a routing hash over an arbitrary ref tuple, used to
// pick the owning worker for ITE_LOOKUP's (i,t,e) triple (spec section
// 4.4), distinct from HashTriple's hash-signature-width-masked value
// because the ITE cache is addressed independently of the unique table.
// RETRIEVE_LOOKUP does *not* use this: it must route by the target ref's
// own embedded hash-signature field (RefHashSig), since that's the value
// the node was originally canonized and stored under.
func HashRefs(refs ...Ref) uint64 { return hashRefs(refs) }

// Stats reports the worker's unique-table size and collision count,
// surfaced on the STAT payload per SPEC_FULL.md's supplemented-features
// section (grounded on original_source/table.c's per-bucket counters).
type Stats struct {
	NodeCount  uint64
	Collisions uint64
	Inserted   uint64
}

func (e *Engine) Stats() Stats {
	return Stats{NodeCount: uint64(len(e.triples)), Collisions: e.collisions, Inserted: e.inserted}
}

// GC computes reach = Mark(roots), rebuilds the unique table keeping only
// entries whose ref is reachable, and unconditionally clears the ITE
// cache, per spec section 4.3.
func (e *Engine) GC(roots []Ref) {
	reach := e.Mark(roots)
	for sig, bucket := range e.buckets {
		for uniq, ent := range bucket {
			if !reach[ent.Ref] {
				delete(bucket, uniq)
				delete(e.triples, ent.Ref)
			}
		}
		if len(bucket) == 0 {
			delete(e.buckets, sig)
		}
	}
	e.iteCache = make(map[iteKey]Ref)
}
