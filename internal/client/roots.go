package client

import "github.com/rebryant/cloudbdd-go/internal/bdd"

// maxRefCount is the saturation ceiling of spec section 3: "A reference
// count saturates at 2^20."
const maxRefCount = 1 << 20

// RootTable is the per-client named-root table of spec section 3:
// string name -> ref, a reverse variable-name table, and a reference-
// count map. zero and one are inserted as permanent entries.
type RootTable struct {
	byName map[string]bdd.Ref
	varNames map[uint16]string
	refCount map[bdd.Ref]uint32
}

// NewRootTable returns a table with zero and one already bound.
func NewRootTable() *RootTable {
	t := &RootTable{
		byName:   make(map[string]bdd.Ref),
		varNames: make(map[uint16]string),
		refCount: make(map[bdd.Ref]uint32),
	}
	t.byName["zero"] = bdd.RefZero
	t.byName["one"] = bdd.RefOne
	t.refCount[bdd.RefZero] = maxRefCount
	t.refCount[bdd.RefOne] = maxRefCount
	return t
}

// Bind names ref, incrementing its reference count (saturating).
func (t *RootTable) Bind(name string, ref bdd.Ref) {
	t.byName[name] = ref
	t.incRef(ref)
}

// BindVar additionally records ref as the named variable's reverse
// lookup entry, for console-style "print variable name" diagnostics.
func (t *RootTable) BindVar(name string, ref bdd.Ref) {
	t.Bind(name, ref)
	t.varNames[ref.Var()] = name
}

// Lookup returns the ref bound to name.
func (t *RootTable) Lookup(name string) (bdd.Ref, bool) {
	ref, ok := t.byName[name]
	return ref, ok
}

// VarName returns the name bound to variable index v, if any.
func (t *RootTable) VarName(v uint16) (string, bool) {
	name, ok := t.varNames[v]
	return name, ok
}

// Unbind removes name from the table, decrementing the ref's count. It
// does not reclaim "zero"/"one", which are permanent per spec section 3.
func (t *RootTable) Unbind(name string) {
	ref, ok := t.byName[name]
	if !ok || name == "zero" || name == "one" {
		return
	}
	delete(t.byName, name)
	t.decRef(ref)
}

// Roots returns every ref currently named, the set a garbage-collection
// cycle or conjunction-engine mark pass must treat as live.
func (t *RootTable) Roots() []bdd.Ref {
	refs := make([]bdd.Ref, 0, len(t.byName))
	for _, r := range t.byName {
		refs = append(refs, r)
	}
	return refs
}

func (t *RootTable) incRef(ref bdd.Ref) {
	if t.refCount[ref] < maxRefCount {
		t.refCount[ref]++
	}
}

func (t *RootTable) decRef(ref bdd.Ref) {
	if t.refCount[ref] > 0 {
		t.refCount[ref]--
	}
	if t.refCount[ref] == 0 {
		delete(t.refCount, ref)
	}
}

// RefCount reports ref's current reference count.
func (t *RootTable) RefCount(ref bdd.Ref) uint32 { return t.refCount[ref] }
