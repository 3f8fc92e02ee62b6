// Package conjunct implements the client-local conjunction engine (spec
// section 4.7): given an unordered multiset of BDD refs, compute their
// AND using support-similarity pairing and size-bounded abort-and-retry,
// the way internal/worker's ITE cascade computes a single AND but
// applied here across many terms with a client-side heuristic on top.
package conjunct

import (
	"math"
	"sort"

	"github.com/rebryant/cloudbdd-go/internal/bdd"
)

// Config holds the conjunction engine's tuning knobs, defaulted per spec
// section 4.7 and overridable from internal/config (the same
// file-over-defaults loading used for every other tuning knob in this repo).
type Config struct {
	AbortLimit              int
	PassLimit               int
	ExpansionFactor         float64
	SoftAndThreshold        float64
	MaxLargeArgumentPenalty float64
}

// DefaultConfig returns spec section 4.7's literal defaults.
func DefaultConfig() Config {
	return Config{
		AbortLimit:              7,
		PassLimit:               3,
		ExpansionFactor:         1.42,
		SoftAndThreshold:        0.80,
		MaxLargeArgumentPenalty: 0.40,
	}
}

// Result reports the conjoined ref plus the diagnostics spec section 4.7
// asks for: "report the total abort count and final size".
type Result struct {
	Ref       bdd.Ref
	Aborts    int
	FinalSize int
	// TryHistogram counts, per candidate index within a pass (0-based),
	// how many merges succeeded on that candidate — SPEC_FULL.md's
	// supplemented try-index-distribution reporting field, useful for
	// tuning AbortLimit/PassLimit without re-running with instrumentation
	// bolted on.
	TryHistogram []int
}

// entry is one linked-set member (spec section 4.7: "a linked set of
// entries {ref, size?, support_count?, support_indices?}"). size and
// support are lazy, populated from the engine on first demand and
// cached for the life of this conjunction.
type entry struct {
	ref          bdd.Ref
	size         int
	sizeKnown    bool
	support      map[uint16]bool
	supportKnown bool
}

// Engine is the node-graph surface the conjunction heuristic needs: AND
// two refs, mark a ref's reachable node set (for size), and compute a
// ref's support. internal/bdd.Engine satisfies this directly for a
// single worker-local cluster test; internal/client satisfies it by
// routing AND through ITE_LOOKUP and Mark/Support through
// RETRIEVE_LOOKUP-backed traversals against the live cluster, since spec
// section 4.7's conjunction engine is client-local but the refs it
// conjoins live in worker-sharded unique tables.
type Engine interface {
	And(a, b bdd.Ref) (bdd.Ref, error)
	Mark(roots []bdd.Ref) map[bdd.Ref]bool
	Support(r bdd.Ref) map[uint16]bool
}

// Conjoiner runs the conjunction algorithm against an engine's node
// graph. It holds no state across calls to Conjoin; a fresh Conjoiner
// (or Conjoin call) starts clean.
type Conjoiner struct {
	engine Engine
	cfg    Config
}

// New returns a Conjoiner bound to engine, using cfg for its tuning
// knobs.
func New(engine Engine, cfg Config) *Conjoiner {
	return &Conjoiner{engine: engine, cfg: cfg}
}

func (c *Conjoiner) sizeOf(e *entry) int {
	if !e.sizeKnown {
		e.size = len(c.engine.Mark([]bdd.Ref{e.ref}))
		e.sizeKnown = true
	}
	return e.size
}

func (c *Conjoiner) supportOf(e *entry) map[uint16]bool {
	if !e.supportKnown {
		e.support = c.engine.Support(e.ref)
		e.supportKnown = true
	}
	return e.support
}

// jaccard returns |a∩b| / |a∪b|, or 0 for two empty sets.
func jaccard(a, b map[uint16]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for v := range a {
		if b[v] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

type candidate struct {
	i, j int
	sim  float64
}

// Conjoin computes the AND of every ref in refs, returning a single ref
// and the diagnostics of how it got there. An empty refs conjoins to
// bdd.RefOne (the identity of AND); a single ref is returned unchanged.
func (c *Conjoiner) Conjoin(refs []bdd.Ref) (Result, error) {
	if len(refs) == 0 {
		return Result{Ref: bdd.RefOne}, nil
	}

	entries := make([]*entry, len(refs))
	for i, r := range refs {
		entries[i] = &entry{ref: r}
	}

	result := Result{}
	for len(entries) > 1 {
		merged, aborts, tryIndex, err := c.reduceOnce(entries)
		if err != nil {
			return Result{}, err
		}
		result.Aborts += aborts
		for len(result.TryHistogram) <= tryIndex {
			result.TryHistogram = append(result.TryHistogram, 0)
		}
		result.TryHistogram[tryIndex]++
		entries = merged
	}

	result.Ref = entries[0].ref
	result.FinalSize = c.sizeOf(entries[0])
	return result, nil
}

// reduceOnce performs spec section 4.7's per-iteration algorithm: rank
// candidate pairs by size-weighted support similarity, try each under a
// growing size bound across passes, merge the winner, and run soft-AND
// simplification against the rest of the set.
func (c *Conjoiner) reduceOnce(entries []*entry) ([]*entry, int, int, error) {
	maxSize, minSize := 0, math.MaxInt
	for _, e := range entries {
		s := c.sizeOf(e)
		if s > maxSize {
			maxSize = s
		}
		if s < minSize {
			minSize = s
		}
	}
	if maxSize < 1 {
		maxSize = 1
	}
	if minSize < 1 {
		minSize = 1
	}
	logMax, logMin := math.Log10(float64(maxSize)), math.Log10(float64(minSize))

	candidates := c.rankCandidates(entries, logMin, logMax)

	sizeLimit := float64(maxSize)
	ccount := len(candidates)
	try := 0
	aborts := 0
	for {
		for idx, cand := range candidates {
			try++
			unbounded := try == ccount*c.cfg.PassLimit+1
			limit := sizeLimit
			if unbounded {
				limit = math.MaxFloat64
			}
			merged, aborted, err := c.boundedAnd(entries, cand, limit)
			if err != nil {
				return nil, 0, 0, err
			}
			if aborted {
				aborts++
				continue
			}
			merged = c.softAndPass(merged)
			return merged, aborts, idx, nil
		}
		sizeLimit *= c.cfg.ExpansionFactor
	}
}

// rankCandidates computes the top-AbortLimit pairs by size-weighted
// support similarity (spec section 4.7 step 2-3), bounded to the first
// AbortLimit pairs seen in iteration order (not the first AbortLimit
// after sorting — the spec caps the candidate pool itself, not just the
// reported list).
func (c *Conjoiner) rankCandidates(entries []*entry, logMin, logMax float64) []candidate {
	var seen []candidate
	for i := 0; i < len(entries) && len(seen) < c.cfg.AbortLimit; i++ {
		for j := i + 1; j < len(entries) && len(seen) < c.cfg.AbortLimit; j++ {
			sim := c.similarity(entries[i], entries[j], logMin, logMax)
			seen = append(seen, candidate{i: i, j: j, sim: sim})
		}
	}
	sort.SliceStable(seen, func(a, b int) bool { return seen[a].sim > seen[b].sim })
	return seen
}

// similarity implements "sim = jaccard(support(a),support(b)) · w",
// where w penalizes pairs involving a large argument, scaling linearly
// in log size from 0 at the smallest argument up to
// MaxLargeArgumentPenalty at the largest.
func (c *Conjoiner) similarity(a, b *entry, logMin, logMax float64) float64 {
	sim := jaccard(c.supportOf(a), c.supportOf(b))

	largest := math.Log10(float64(maxInt(c.sizeOf(a), c.sizeOf(b))))
	penalty := 0.0
	if logMax > logMin {
		penalty = c.cfg.MaxLargeArgumentPenalty * (largest - logMin) / (logMax - logMin)
	}
	w := 1 - penalty
	return sim * w
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// boundedAnd tries cand's AND under limit nodes. aborted is true (with a
// nil, unmodified error) when the result exceeds limit; in that case the
// caller should try the next candidate or grow the bound.
func (c *Conjoiner) boundedAnd(entries []*entry, cand candidate, limit float64) ([]*entry, bool, error) {
	a, b := entries[cand.i], entries[cand.j]
	merged, err := c.engine.And(a.ref, b.ref)
	if err != nil {
		return nil, false, err
	}
	size := len(c.engine.Mark([]bdd.Ref{merged}))
	if float64(size) > limit {
		return nil, true, nil
	}

	next := make([]*entry, 0, len(entries)-1)
	for k, e := range entries {
		if k != cand.i && k != cand.j {
			next = append(next, e)
		}
	}
	next = append(next, &entry{ref: merged, size: size, sizeKnown: true})
	return next, false, nil
}

// softAndPass implements spec section 4.7 step 5's "soft-AND
// simplification in both directions across the set": for each other
// element in turn whose support coverage of the new element reaches
// SoftAndThreshold, try an AND that aborts on excessive growth. The first
// success replaces that element with the AND, absorbing the new element,
// and ends the pass. The new element is always the last of entries.
func (c *Conjoiner) softAndPass(entries []*entry) []*entry {
	newElem := entries[len(entries)-1]
	rest := entries[:len(entries)-1]

	for i, other := range rest {
		if c.supportCoverage(other, newElem) < c.cfg.SoftAndThreshold &&
			c.supportCoverage(newElem, other) < c.cfg.SoftAndThreshold {
			continue
		}
		bound := float64(maxInt(c.sizeOf(other), c.sizeOf(newElem)))
		simplified, err := c.engine.And(other.ref, newElem.ref)
		if err != nil {
			continue
		}
		size := len(c.engine.Mark([]bdd.Ref{simplified}))
		if float64(size) > bound {
			continue
		}
		rest[i] = &entry{ref: simplified, size: size, sizeKnown: true}
		return rest
	}
	return entries
}

// supportCoverage returns |support(of) ∩ support(coveredBy)| /
// |support(of)|, the fraction of of's variables also appearing in
// coveredBy — "support coverage of the new element" from the other
// element's point of view.
func (c *Conjoiner) supportCoverage(of, coveredBy *entry) float64 {
	ofSupport := c.supportOf(of)
	if len(ofSupport) == 0 {
		return 0
	}
	coveredSupport := c.supportOf(coveredBy)
	inter := 0
	for v := range ofSupport {
		if coveredSupport[v] {
			inter++
		}
	}
	return float64(inter) / float64(len(ofSupport))
}
