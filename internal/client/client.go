// Package client implements the client-side dataflow agent of spec
// section 2: "issues high-level requests by injecting the root operator
// of a dataflow graph and waiting for its operand reply; drives
// conjunction heuristics; tracks named roots and root reference counts."
// A Client embeds internal/agent.Agent (role client, no local BDD
// engine) and builds its own ITE/CANONIZE/RETRIEVE_LOOKUP operators the
// way internal/worker builds them — the same operator/operand dataflow,
// just addressed into the cluster instead of handled locally.
package client

import (
	"github.com/rebryant/cloudbdd-go/internal/agent"
	"github.com/rebryant/cloudbdd-go/internal/bdd"
	"github.com/rebryant/cloudbdd-go/internal/conjunct"
	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/rebryant/cloudbdd-go/internal/wire"
)

// triple mirrors internal/bdd.Triple: a node's (v, hi, lo) children, kept
// in the client's remote-node cache once fetched so repeated
// dereferences of the same ref (support/density/restrict all revisit
// shared subgraphs) don't re-issue RETRIEVE_LOOKUP.
type triple struct {
	V      uint16
	Hi, Lo bdd.Ref
}

// Client is the client-role dataflow agent: FireAndWait-based calls into
// the cluster's distributed BDD operators, a cache of node triples this
// client has already fetched or learned as a reply, and the named-root/
// reference-count table of spec section 3.
type Client struct {
	*agent.Agent
	W        uint16
	HashBits uint

	cache map[bdd.Ref]triple

	Roots *RootTable

	// ConjoinCfg tunes Conjoin's support-similarity heuristic (spec
	// section 4.7); New seeds it with conjunct.DefaultConfig, a cmd/
	// binary overrides it from internal/config.Tuning after loading its
	// optional YAML overlay.
	ConjoinCfg conjunct.Config

	// ChainMode selects how ConjoinNamed combines more than two refs,
	// the -C CHAIN flag of spec.md's CLI surface: "none"/"constant" fold
	// left-to-right with a plain And, "all" (the default) runs the full
	// support-similarity heuristic of Conjoin.
	ChainMode string
}

// New builds a Client bound to agent a (role client, already admitted
// and wired to its routers by agent.Bootstrap), for a cluster of
// workerCount workers sharing the given hash-signature width.
func New(a *agent.Agent, workerCount uint16, hashBits uint) *Client {
	if a.Role != agent.RoleClient {
		panic("client: New called on a non-client agent")
	}
	c := &Client{
		Agent:      a,
		W:          workerCount,
		HashBits:   hashBits,
		cache:      make(map[bdd.Ref]triple),
		Roots:      NewRootTable(),
		ConjoinCfg: conjunct.DefaultConfig(),
		ChainMode:  "all",
	}
	a.OnDoFlush = func(*wire.ControlMsg) {
		clear(c.cache)
	}
	// Every client is sent GC_START during WAIT_CLIENT, not just the one
	// that requested the cycle (spec section 4.6): reply with this
	// client's currently-bound roots so the controller can accumulate
	// the cluster-wide live set before forwarding it to workers.
	a.OnGCStart = func(ctrl *wire.ControlMsg) {
		roots := c.Roots.Roots()
		words := make([]uint64, len(roots))
		for i, r := range roots {
			words[i] = uint64(r)
		}
		if err := a.Controller.SendChunk(wire.NewGCFinish(ctrl.Header.Mid, words...).ToChunk()); err != nil {
			logger.Error("client: failed to ack GC_START", logger.Err(err))
		}
	}
	return c
}

// Collect implements the client-initiated garbage-collection request of
// spec section 4.6: a client may kick off WAIT_WORKER_START directly
// with GC_START from READY, without going through GC_REQUEST's
// generation handshake (see handleGCStart's client case), then blocks
// until the controller's own GC_FINISH broadcast confirms the
// cluster-wide sweep has completed. AwaitControl (not FireAndWait) is
// used here since this isn't an operator/operand round trip: it lets
// every other hook (including this client's own OnGCStart reply to the
// same broadcast) keep firing normally while the wait is outstanding.
func (c *Client) Collect() error {
	if err := c.Controller.SendChunk(wire.NewGCStart(0).ToChunk()); err != nil {
		return err
	}
	_, err := c.AwaitControl(wire.CodeGCFinish)
	return err
}

func (c *Client) owner(h uint64) uint16 { return uint16(h % uint64(c.W)) }

// call builds an operator for opcode addressed at agentDest, with its
// own reply destined back at itself (the pattern spec section 4.2's
// fire_and_wait relies on: an operand whose destination names the same
// operator ID the caller is waiting on), fills args in order starting
// after the reserved destination slots, and blocks for the reply.
func (c *Client) call(agentDest uint16, opcode wire.Opcode, args ...uint64) (*wire.OperandMsg, error) {
	id := c.AllocOperatorID()
	op := wire.NewOperatorMsgDest(agentDest, opcode, id, wire.Destination{Agent: c.ID, OperatorID: id})
	for i, v := range args {
		if err := op.SetArg(i, v); err != nil {
			return nil, err
		}
	}
	return c.FireAndWait(op)
}

// NewVar implements the high-level "create variable" request: VAR is
// always addressed to worker 0 (spec section 4.4).
func (c *Client) NewVar() (bdd.Ref, error) {
	reply, err := c.call(0, wire.OpVar)
	if err != nil {
		return 0, err
	}
	return bdd.Ref(reply.Words[0]), nil
}

// Canonize implements canonize(v, hi, lo): NormalizeCanonize's terminal
// rules run locally (no network hop needed for them, spec section 4.4's
// CANONIZE handler does the same); otherwise a CANONIZE_LOOKUP is routed
// directly to the hash(v,hi,lo)-owning worker, skipping the intermediate
// "any worker" CANONIZE hop since the client can compute the owner
// itself just as cheaply as a worker's handleCanonize does.
func (c *Client) Canonize(v uint16, hi, lo bdd.Ref) (bdd.Ref, error) {
	nv, nhi, nlo, outNeg, result, terminal := bdd.NormalizeCanonize(v, hi, lo)
	if terminal {
		return result, nil
	}
	h := bdd.HashTriple(c.HashBits, nv, nhi, nlo)
	reply, err := c.call(c.owner(h), wire.OpCanonizeLookup, h, uint64(nv), uint64(nhi), uint64(nlo), boolWord(outNeg))
	if err != nil {
		return 0, err
	}
	return bdd.Ref(reply.Words[0]), nil
}

// ITE implements if-then-else(i,t,e): NormalizeITE's terminal/negation/
// ordering rules run locally, then an ITE_LOOKUP is routed to the
// hash(i,t,e)-owning worker exactly as internal/worker's own recursion
// does (spec section 4.3/4.4).
func (c *Client) ITE(i, t, e bdd.Ref) (bdd.Ref, error) {
	ni, nt, ne, outNeg, result, terminal := bdd.NormalizeITE(i, t, e)
	if terminal {
		return result, nil
	}
	h := bdd.HashRefs(ni, nt, ne)
	reply, err := c.call(c.owner(h), wire.OpITELookup, uint64(ni), uint64(nt), uint64(ne), boolWord(outNeg))
	if err != nil {
		return 0, err
	}
	return bdd.Ref(reply.Words[0]), nil
}

// And, Or, and Xor are defined directly in terms of ITE, per spec
// section 4.3, and satisfy internal/conjunct.Engine's And method.
func (c *Client) And(a, b bdd.Ref) (bdd.Ref, error) { return c.ITE(a, b, bdd.RefZero) }
func (c *Client) Or(a, b bdd.Ref) (bdd.Ref, error)  { return c.ITE(a, bdd.RefOne, b) }
func (c *Client) Xor(a, b bdd.Ref) (bdd.Ref, error) { return c.ITE(a, b.Negate(), b) }

// Deref returns (v, hi, lo) such that r is logically canonize(v, hi,
// lo), fetching (tref, eref) via RETRIEVE_LOOKUP from the worker owning
// r on a cache miss (spec section 4.4's RETRIEVE_LOOKUP) and lifting the
// negation bit onto the children when r itself is negated, exactly as
// internal/bdd.Engine.Deref does locally.
func (c *Client) Deref(r bdd.Ref) (v uint16, hi, lo bdd.Ref, err error) {
	abs := r.Abs()
	switch abs.Type() {
	case bdd.RefTypeConstant:
		return 0, r, r, nil
	case bdd.RefTypeVariable:
		v = abs.Var()
		hi, lo = bdd.RefOne, bdd.RefZero
	default:
		tr, ok := c.cache[abs]
		if !ok {
			tr, err = c.fetchTriple(abs)
			if err != nil {
				return 0, 0, 0, err
			}
		}
		v, hi, lo = tr.V, tr.Hi, tr.Lo
	}
	if r.Neg() {
		hi, lo = hi.Negate(), lo.Negate()
	}
	return v, hi, lo, nil
}

// fetchTriple issues RETRIEVE_LOOKUP for abs (already non-negated) and
// caches the result, since node triples never change once created.
func (c *Client) fetchTriple(abs bdd.Ref) (triple, error) {
	owner := c.owner(bdd.RefHashSig(c.HashBits, abs))
	reply, err := c.call(owner, wire.OpRetrieveLookup, uint64(abs))
	if err != nil {
		return triple{}, err
	}
	tr := triple{V: abs.Var(), Hi: bdd.Ref(reply.Words[0]), Lo: bdd.Ref(reply.Words[1])}
	c.cache[abs] = tr
	return tr, nil
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
