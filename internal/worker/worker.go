// Package worker wires the seven distributed BDD operators of spec
// section 4.4 (VAR, CANONIZE, CANONIZE_LOOKUP, RETRIEVE_LOOKUP,
// ITE_LOOKUP, ITE_RECURSE, ITE_STORE) onto an internal/agent.Agent's
// handler table. Each handler is a pure function of the operator chunk
// plus the agent's BDD engine and deferred-ITE table, invoked only from
// the agent's single event-loop goroutine — see internal/agent's package
// doc comment for the concurrency contract this relies on.
package worker

import (
	"github.com/rebryant/cloudbdd-go/internal/agent"
	"github.com/rebryant/cloudbdd-go/internal/bdd"
	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/rebryant/cloudbdd-go/internal/metrics"
	"github.com/rebryant/cloudbdd-go/internal/wire"
)

// iteTriple is the deferred-ITE table's key: a normalized (i, t, e)
// triple with an ITE computation already in flight (spec section 3,
// "Deferred-ITE table").
type iteTriple struct {
	I, T, E bdd.Ref
}

// consumer is one pending reply owed once an in-flight ITE resolves:
// "a list of pending (destination, negate) consumers that asked for the
// same ITE before it completed" (spec section 3).
type consumer struct {
	Dest   wire.Destination
	Negate bool
}

// Worker binds a BDD engine to an agent's handler table and owns the
// deferred-ITE table (worker-local per spec section 3; every other piece
// of BDD state lives in the embedded Engine).
type Worker struct {
	*agent.Agent
	Engine   *bdd.Engine
	W        uint16
	HashBits uint
	Registry *metrics.Registry

	deferredITE map[iteTriple][]consumer
}

// New builds a Worker, registering its seven opcode handlers on a's
// handler table. workerCount is W (spec section 2, "fixed count W known
// at controller start"); hashBits must match every other agent's
// configured hash-signature width (SPEC_FULL.md's Open Questions). New
// builds its own metrics Registry (exposed via w.Registry for a binary's
// own "-metrics-addr" HTTP listener) and registers a live-counter
// collector backed by w.Snapshot.
func New(a *agent.Agent, engine *bdd.Engine, workerCount uint16, hashBits uint) *Worker {
	reg := metrics.NewRegistry()
	w := &Worker{
		Agent:       a,
		Engine:      engine,
		W:           workerCount,
		HashBits:    hashBits,
		Registry:    reg,
		deferredITE: make(map[iteTriple][]consumer),
	}
	metrics.RegisterWorkerCollector(reg, func() metrics.WorkerSnapshot {
		s := w.Snapshot()
		return metrics.WorkerSnapshot{
			NodeCount:         s.NodeCount,
			Collisions:        s.Collisions,
			Inserted:          s.Inserted,
			DeferredITECount:  s.DeferredITECount,
			LocalOperators:    s.LocalOperators,
			LocalOperands:     s.LocalOperands,
			RoutedOperators:   s.RoutedOperators,
			RoutedOperands:    s.RoutedOperands,
			Dropped:           s.Dropped,
			OperatorCollision: s.OperatorCollision,
		}
	})

	a.Handlers[wire.OpVar] = w.wrap(w.handleVar)
	a.Handlers[wire.OpCanonize] = w.wrap(w.handleCanonize)
	a.Handlers[wire.OpCanonizeLookup] = w.wrap(w.handleCanonizeLookup)
	a.Handlers[wire.OpRetrieveLookup] = w.wrap(w.handleRetrieveLookup)
	a.Handlers[wire.OpITELookup] = w.wrap(w.handleITELookup)
	a.Handlers[wire.OpITERecurse] = w.wrap(w.handleITERecurse)
	a.Handlers[wire.OpITEStore] = w.wrap(w.handleITEStore)

	a.OnDoFlush = func(*wire.ControlMsg) {
		if err := a.Controller.SendChunk(w.Stat().ToChunk()); err != nil {
			logger.Error("worker: failed to send STAT reply", logger.Err(err))
		}
	}

	// A worker has nothing to prepare before its local shard is swept;
	// it just acks the broadcast so the controller can count down
	// WAIT_WORKER_START (spec section 4.6).
	a.OnGCStart = func(ctrl *wire.ControlMsg) {
		if err := a.Controller.SendChunk(wire.NewGCStart(ctrl.Header.Mid).ToChunk()); err != nil {
			logger.Error("worker: failed to ack GC_START", logger.Err(err))
		}
	}

	// The controller's GC_FINISH broadcast to workers (only, never to
	// clients directly) carries the cluster-wide live root set
	// accumulated from every client's own GC_FINISH during WAIT_CLIENT
	// (see wire.NewGCFinish's doc comment); this is the trigger for the
	// worker's actual local Engine.GC sweep.
	a.OnGCFinish = func(ctrl *wire.ControlMsg) {
		roots := make([]bdd.Ref, len(ctrl.Words))
		for i, word := range ctrl.Words {
			roots[i] = bdd.Ref(word)
		}
		w.Engine.GC(roots)
		if err := a.Controller.SendChunk(wire.NewGCFinish(ctrl.Header.Mid).ToChunk()); err != nil {
			logger.Error("worker: failed to ack GC_FINISH", logger.Err(err))
		}
	}

	return w
}

func (w *Worker) wrap(h func(*wire.OperatorMsg) error) agent.Handler {
	return func(_ *agent.Agent, op *wire.OperatorMsg) error { return h(op) }
}

// owner returns the worker ID that owns h mod W, the routing invariant of
// spec section 3: "worker = hash mod W".
func (w *Worker) owner(h uint64) uint16 { return uint16(h % uint64(w.W)) }

// reply sends an operand carrying words to dest.
func (w *Worker) reply(dest wire.Destination, words ...uint64) error {
	return w.SendOp(wire.NewOperandMsg(dest, words...).ToChunk())
}

// DeferredITECount reports the number of distinct (i,t,e) triples with a
// computation in flight, surfaced on STAT (SPEC_FULL.md's supplemented
// reporting).
func (w *Worker) DeferredITECount() int { return len(w.deferredITE) }

// Snapshot is a worker's point-in-time counters, shared by the STAT wire
// reply and the Prometheus exporter so the two never drift apart.
type Snapshot struct {
	NodeCount         uint64
	Collisions        uint64
	Inserted          uint64
	DeferredITECount  uint64
	LocalOperators    uint64
	LocalOperands     uint64
	RoutedOperators   uint64
	RoutedOperands    uint64
	Dropped           uint64
	OperatorCollision uint64
}

// Snapshot reads this worker's current counters.
func (w *Worker) Snapshot() Snapshot {
	es := w.Engine.Stats()
	as := w.Agent.Stats
	return Snapshot{
		NodeCount:         es.NodeCount,
		Collisions:        es.Collisions,
		Inserted:          es.Inserted,
		DeferredITECount:  uint64(w.DeferredITECount()),
		LocalOperators:    as.LocalOperators,
		LocalOperands:     as.LocalOperands,
		RoutedOperators:   as.RoutedOperators,
		RoutedOperands:    as.RoutedOperands,
		Dropped:           as.Dropped,
		OperatorCollision: as.OperatorCollision,
	}
}

// Words returns the snapshot in the field order the controller's
// statFieldCount aggregation expects.
func (s Snapshot) Words() []uint64 {
	return []uint64{
		s.NodeCount,
		s.Collisions,
		s.Inserted,
		s.DeferredITECount,
		s.LocalOperators,
		s.LocalOperands,
		s.RoutedOperators,
		s.RoutedOperands,
		s.Dropped,
		s.OperatorCollision,
	}
}

// Stat builds this worker's reply to a DO_FLUSH.
func (w *Worker) Stat() *wire.ControlMsg {
	return wire.NewStat(w.Snapshot().Words())
}

// handleVar implements VAR(dest): worker 0 allocates the next variable
// and replies to dest. The caller is responsible for addressing the VAR
// operator to worker 0; this handler does not re-check that.
func (w *Worker) handleVar(op *wire.OperatorMsg) error {
	v := w.Engine.AllocVar()
	return w.reply(op.Dest(), uint64(bdd.NewVariableRef(v)))
}

// handleCanonize implements CANONIZE(dest, v, hi, lo): applies
// NormalizeCanonize's unique-table-independent rules locally; if they
// don't resolve the node, forwards a CANONIZE_LOOKUP to the
// hash(v,hi,lo)-owning worker.
func (w *Worker) handleCanonize(op *wire.OperatorMsg) error {
	v := uint16(op.Arg(0))
	hi := bdd.Ref(op.Arg(1))
	lo := bdd.Ref(op.Arg(2))

	nv, nhi, nlo, outNeg, result, terminal := bdd.NormalizeCanonize(v, hi, lo)
	if terminal {
		return w.reply(op.Dest(), uint64(result))
	}

	h := bdd.HashTriple(w.HashBits, nv, nhi, nlo)
	lookup := wire.NewOperatorMsgDest(w.owner(h), wire.OpCanonizeLookup, w.AllocOperatorID(), op.Dest())
	if err := setArgs(lookup, h, uint64(nv), uint64(nhi), uint64(nlo), boolWord(outNeg)); err != nil {
		return err
	}
	return w.SendOp(lookup.ToChunk())
}

// handleCanonizeLookup implements CANONIZE_LOOKUP(dest, h, v, hi, lo,
// negate): performed by the worker owning h, the unique-table
// insert-or-find step itself, replying with the (possibly negated) ref.
func (w *Worker) handleCanonizeLookup(op *wire.OperatorMsg) error {
	v := uint16(op.Arg(1))
	hi := bdd.Ref(op.Arg(2))
	lo := bdd.Ref(op.Arg(3))
	negate := op.Arg(4) != 0

	ref, err := w.Engine.CanonizeTriple(v, hi, lo)
	if err != nil {
		logger.Error("canonize_lookup failed", "error", err, "var", v)
		return err
	}
	if negate {
		ref = ref.Negate()
	}
	return w.reply(op.Dest(), uint64(ref))
}

// handleRetrieveLookup implements RETRIEVE_LOOKUP(dest, r): performed by
// the worker owning r, replying with the two-word operand (tref, eref).
func (w *Worker) handleRetrieveLookup(op *wire.OperatorMsg) error {
	r := bdd.Ref(op.Arg(0))
	_, hi, lo := w.Engine.Deref(r)
	return w.reply(op.Dest(), uint64(hi), uint64(lo))
}

// handleITELookup implements ITE_LOOKUP(dest, i, t, e, negate): performed
// by the worker owning hash(i,t,e). A cache hit replies immediately. A
// miss on an already-in-flight triple just registers dest as another
// consumer. A first miss registers the consumer, builds the ITE_STORE
// operator that will eventually cache the result and notify every
// consumer (self-addressed: it must run here, on the same worker that
// owns this deferred-ITE entry), and an ITE_RECURSE that drives the
// cofactor recursion and feeds its CANONIZE result into ITE_STORE's ref
// slot — wherever in the cluster that CANONIZE actually executes.
func (w *Worker) handleITELookup(op *wire.OperatorMsg) error {
	i := bdd.Ref(op.Arg(0))
	t := bdd.Ref(op.Arg(1))
	e := bdd.Ref(op.Arg(2))
	negate := op.Arg(3) != 0
	dest := op.Dest()

	key := iteTriple{i, t, e}

	if ref, ok := w.Engine.ITELookup(i, t, e); ok {
		if negate {
			ref = ref.Negate()
		}
		return w.reply(dest, uint64(ref))
	}

	if waiters, pending := w.deferredITE[key]; pending {
		w.deferredITE[key] = append(waiters, consumer{Dest: dest, Negate: negate})
		return nil
	}
	w.deferredITE[key] = []consumer{{Dest: dest, Negate: negate}}

	v := bdd.MinTopVar(i, t, e)

	storeID := w.AllocOperatorID()
	// ITE_STORE always addresses itself: its real recipients are this
	// worker's own deferred-ITE list, not a single forwarded dest (spec
	// section 9's many-waiters-on-one-result pattern).
	store := wire.NewOperatorMsgDest(w.ID, wire.OpITEStore, storeID, wire.Destination{Agent: w.ID})
	if err := setArgs(store, uint64(i), uint64(t), uint64(e)); err != nil {
		return err
	}
	// Arg(4) (negate) is filled with a placeholder 0 here: per-consumer
	// negation is read back out of the deferred-ITE list by
	// handleITEStore, since distinct consumers of the same in-flight ITE
	// may have asked with different negate flags.
	if err := store.SetArg(4, 0); err != nil {
		return err
	}

	rec := wire.NewOperatorMsgDest(w.ID, wire.OpITERecurse, w.AllocOperatorID(),
		wire.Destination{Agent: w.ID, OperatorID: storeID, Offset: wire.ArgOffset(3)})
	if err := rec.SetArg(0, uint64(v)); err != nil {
		return err
	}
	if err := rec.SetArg(7, 0); err != nil {
		return err
	}
	if err := w.fillCofactorOrFetch(rec, i, v, 1); err != nil {
		return err
	}
	if err := w.fillCofactorOrFetch(rec, t, v, 3); err != nil {
		return err
	}
	if err := w.fillCofactorOrFetch(rec, e, v, 5); err != nil {
		return err
	}

	if err := w.SendOp(store.ToChunk()); err != nil {
		return err
	}
	return w.SendOp(rec.ToChunk())
}

// fillCofactorOrFetch fills rec's (hi,lo) argument slots starting at
// hiSlot with the cofactor of x about v: directly, with no network hop,
// when x doesn't depend on v or is a bare variable/constant; otherwise by
// spawning a RETRIEVE_LOOKUP addressed at the owning worker of x.
func (w *Worker) fillCofactorOrFetch(rec *wire.OperatorMsg, x bdd.Ref, v uint16, hiSlot int) error {
	if x.Var() != v {
		if err := rec.SetArg(hiSlot, uint64(x)); err != nil {
			return err
		}
		return rec.SetArg(hiSlot+1, uint64(x))
	}
	if bdd.IsVariable(x.Abs()) {
		hi, lo := bdd.RefOne, bdd.RefZero
		if x.Neg() {
			hi, lo = bdd.RefZero, bdd.RefOne
		}
		if err := rec.SetArg(hiSlot, uint64(hi)); err != nil {
			return err
		}
		return rec.SetArg(hiSlot+1, uint64(lo))
	}

	owner := w.owner(bdd.RefHashSig(w.HashBits, x.Abs()))
	retrieve := wire.NewOperatorMsgDest(owner, wire.OpRetrieveLookup, w.AllocOperatorID(),
		wire.Destination{Agent: w.ID, OperatorID: rec.OperatorID, Offset: wire.ArgOffset(hiSlot)})
	if err := retrieve.SetArg(0, uint64(x)); err != nil {
		return err
	}
	return w.SendOp(retrieve.ToChunk())
}

// handleITERecurse implements ITE_RECURSE(dest, v, ihi, ilo, thi, tlo,
// ehi, elo): launches the two recursive ITE_LOOKUPs on the cofactor
// triples, feeds their results into a CANONIZE on v, and addresses that
// CANONIZE's result at dest (the ref slot of the ITE_STORE operator that
// spawned this recursion).
func (w *Worker) handleITERecurse(op *wire.OperatorMsg) error {
	v := uint16(op.Arg(0))
	ihi, ilo := bdd.Ref(op.Arg(1)), bdd.Ref(op.Arg(2))
	thi, tlo := bdd.Ref(op.Arg(3)), bdd.Ref(op.Arg(4))
	ehi, elo := bdd.Ref(op.Arg(5)), bdd.Ref(op.Arg(6))

	canonID := w.AllocOperatorID()
	canon := wire.NewOperatorMsgDest(w.ID, wire.OpCanonize, canonID, op.Dest())
	if err := canon.SetArg(0, uint64(v)); err != nil {
		return err
	}

	if err := w.launchITE(ihi, thi, ehi, wire.Destination{Agent: w.ID, OperatorID: canonID, Offset: wire.ArgOffset(1)}); err != nil {
		return err
	}
	if err := w.launchITE(ilo, tlo, elo, wire.Destination{Agent: w.ID, OperatorID: canonID, Offset: wire.ArgOffset(2)}); err != nil {
		return err
	}

	return w.SendOp(canon.ToChunk())
}

// launchITE normalizes (i,t,e) and either replies to dest immediately
// (terminal case, no network hop) or routes an ITE_LOOKUP to the
// hash(i,t,e)-owning worker.
func (w *Worker) launchITE(i, t, e bdd.Ref, dest wire.Destination) error {
	ni, nt, ne, outNeg, result, terminal := bdd.NormalizeITE(i, t, e)
	if terminal {
		return w.reply(dest, uint64(result))
	}

	h := bdd.HashRefs(ni, nt, ne)
	lookup := wire.NewOperatorMsgDest(w.owner(h), wire.OpITELookup, w.AllocOperatorID(), dest)
	if err := setArgs(lookup, uint64(ni), uint64(nt), uint64(ne), boolWord(outNeg)); err != nil {
		return err
	}
	return w.SendOp(lookup.ToChunk())
}

// handleITEStore implements ITE_STORE(i, t, e, ref): stores (i,t,e)->ref
// in the ITE cache, then replies — with each consumer's own negate flag
// applied — to every consumer in this worker's deferred-ITE list for the
// triple (spec section 3, "Deferred-ITE table").
func (w *Worker) handleITEStore(op *wire.OperatorMsg) error {
	i := bdd.Ref(op.Arg(0))
	t := bdd.Ref(op.Arg(1))
	e := bdd.Ref(op.Arg(2))
	ref := bdd.Ref(op.Arg(3))

	w.Engine.ITEStoreResult(i, t, e, ref)

	key := iteTriple{i, t, e}
	waiters := w.deferredITE[key]
	delete(w.deferredITE, key)

	for _, c := range waiters {
		r := ref
		if c.Negate {
			r = r.Negate()
		}
		if err := w.reply(c.Dest, uint64(r)); err != nil {
			logger.Warn("ite_store reply failed", "error", err, "dest_agent", c.Dest.Agent)
		}
	}
	return nil
}

func setArgs(op *wire.OperatorMsg, vals ...uint64) error {
	for i, v := range vals {
		if err := op.SetArg(i, v); err != nil {
			return err
		}
	}
	return nil
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
