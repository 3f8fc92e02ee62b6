// Package controller implements the single-instance registry and
// lifecycle manager of spec section 4.6: agent admission, router-map
// distribution, the flush/STAT aggregation protocol, the global
// client-operation broadcast/ack protocol, and the three-phase
// distributed garbage-collection state machine. Like internal/router, it
// reuses internal/agent.Connection for the reader/writer-goroutines-feed-
// a-channel discipline and owns every other field from a single
// dispatch goroutine (spec section 5).
package controller

import (
	"context"
	"net"

	"time"

	"github.com/rebryant/cloudbdd-go/internal/agent"
	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/rebryant/cloudbdd-go/internal/metrics"
	"github.com/rebryant/cloudbdd-go/internal/wire"
)

// role distinguishes a registered connection's kind, needed because
// several message codes (notably CLIOP_ACK) mean different things
// depending on whether the sender is a worker or a client.
type role int

const (
	roleRouter role = iota
	roleWorker
	roleClient
)

type connInfo struct {
	conn  *agent.Connection
	role  role
	agent uint16
}

// GCState is the controller's garbage-collection phase, per spec
// section 4.6.
type GCState int

const (
	GCReady GCState = iota
	GCWaitWorkerStart
	GCWaitClient
	GCWaitWorkerFinish
)

func (s GCState) String() string {
	switch s {
	case GCReady:
		return "READY"
	case GCWaitWorkerStart:
		return "WAIT_WORKER_START"
	case GCWaitClient:
		return "WAIT_CLIENT"
	case GCWaitWorkerFinish:
		return "WAIT_WORKER_FINISH"
	default:
		return "UNKNOWN"
	}
}

// statFieldCount is the number of per-worker counters aggregated by the
// flush/STAT protocol: bdd.Stats{NodeCount,Collisions,Inserted},
// worker.Worker's DeferredITECount, and agent.Stats's six counters
// (SPEC_FULL.md's supplemented collision/node-count reporting).
const statFieldCount = 10

type flushState struct {
	requestor *connInfo
	received  int
	startedAt time.Time
	mins      [statFieldCount]uint64
	maxs      [statFieldCount]uint64
	sums      [statFieldCount]uint64
}

type cliopRecord struct {
	clientAgent uint16
	ackCount    int
}

// Config holds the admission parameters fixed at controller start (spec
// section 2: "Worker (fixed count W known at controller start)").
type Config struct {
	RouterCount uint16
	WorkerCount uint16
	ClientLimit uint16

	// HashBits is the cluster's configured hash-signature width. Every
	// REGISTER_WORKER/REGISTER_CLIENT must announce the same value or
	// admission is refused (spec section 5): a mismatch means the
	// registering process's CanonizeTriple would assign a ref to a
	// different worker than the rest of the cluster agrees on.
	HashBits uint
}

// Controller is the registry/lifecycle process.
type Controller struct {
	listener net.Listener
	cfg      Config

	inbound chan agent.InboundMessage

	nextAgent uint16

	byConn  map[*agent.Connection]*connInfo
	byAgent map[uint16]*connInfo
	pending map[*agent.Connection]struct{}

	routerAddrs    []wire.RouterAddr
	ackedWorkers   map[uint16]bool
	readyWorkers   map[uint16]bool
	pendingClients []*connInfo

	gcState         GCState
	gcGeneration    uint32
	gcCounter       int
	gcNeedClient    map[uint16]bool
	gcRoots         []uint64
	deferredClients []*connInfo

	flush *flushState
	cliop map[uint64]*cliopRecord

	Registry *metrics.Registry
	Metrics  *metrics.ControllerMetrics
}

// New wraps an already-bound listener, building its own metrics
// Registry (exposed via c.Registry for a binary's own "-metrics-addr"
// HTTP listener, per SPEC_FULL.md's DOMAIN STACK table).
func New(listener net.Listener, cfg Config) *Controller {
	reg := metrics.NewRegistry()
	return &Controller{
		listener:     listener,
		cfg:          cfg,
		inbound:      make(chan agent.InboundMessage, 256),
		byConn:       make(map[*agent.Connection]*connInfo),
		byAgent:      make(map[uint16]*connInfo),
		pending:      make(map[*agent.Connection]struct{}),
		ackedWorkers: make(map[uint16]bool),
		readyWorkers: make(map[uint16]bool),
		gcNeedClient: make(map[uint16]bool),
		cliop:        make(map[uint64]*cliopRecord),
		Registry:     reg,
		Metrics:      metrics.NewControllerMetrics(reg),
	}
}

// Run accepts connections and dispatches control messages until ctx is
// cancelled.
func (c *Controller) Run(ctx context.Context) error {
	acceptErrs := make(chan error, 1)
	go c.acceptLoop(ctx, acceptErrs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-acceptErrs:
			return err
		case im := <-c.inbound:
			c.handleInbound(im)
		}
	}
}

func (c *Controller) acceptLoop(ctx context.Context, errs chan<- error) {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				errs <- err
				return
			}
		}
		connection := agent.NewConnection(conn, -1, c.inbound)
		c.pending[connection] = struct{}{}
	}
}

func (c *Controller) handleInbound(im agent.InboundMessage) {
	if im.Err != nil {
		c.handleDisconnect(im.Conn)
		return
	}
	ctrl, err := wire.ControlMsgFromChunk(im.Chunk)
	if err != nil {
		logger.Warn("controller: malformed control chunk", "error", err)
		return
	}

	info, known := c.byConn[im.Conn]
	if !known {
		c.handleRegistration(im.Conn, ctrl)
		return
	}
	c.dispatch(info, ctrl)
}

// handleRegistration implements the agent admission sequence of spec
// section 4.6: a pending connection's first message must be one of the
// three REGISTER_* codes.
func (c *Controller) handleRegistration(conn *agent.Connection, ctrl *wire.ControlMsg) {
	switch ctrl.Header.Code {
	case wire.CodeRegisterRouter:
		c.admitRouter(conn, ctrl)
	case wire.CodeRegisterWorker:
		c.admitWorker(conn, ctrl)
	case wire.CodeRegisterClient:
		c.admitClient(conn, ctrl)
	default:
		logger.Warn("controller: first message from new connection was not a registration", "code", ctrl.Header.Code)
	}
}

func (c *Controller) nextAgentID() uint16 {
	id := c.nextAgent
	c.nextAgent++
	return id
}

// admitRouter registers conn as a router without consuming an agent ID
// from c.nextAgent: the original's controller tracks routers only in its
// router-address set and never calls add_agent for them
// (original_source/controller.c:588-596), so workers occupy agent IDs
// 0..WorkerCount-1 exactly as choose_hashed_worker(hash)=hash%W and the
// VAR-addressed-to-agent-0 convention require. Routers are still kept in
// byConn (for disconnect cleanup and KILL's broadcast-to-every-fd), just
// never in byAgent, so the worker/client ID space stays untouched.
func (c *Controller) admitRouter(conn *agent.Connection, ctrl *wire.ControlMsg) {
	delete(c.pending, conn)
	info := &connInfo{conn: conn, role: roleRouter}
	c.byConn[conn] = info

	port := uint16(0)
	if len(ctrl.Words) > 0 {
		port = uint16(ctrl.Words[0])
	}
	c.routerAddrs = append(c.routerAddrs, wire.RouterAddr{IP: ctrl.Header.Mid, Port: port})

	if uint16(len(c.routerAddrs)) == c.cfg.RouterCount {
		// The full router map is now known: ack every worker that
		// registered before this point, per spec section 4.6 ("only
		// then are pending and future workers sent the ACK_AGENT
		// message").
		for agentID, wi := range c.byAgent {
			if wi.role == roleWorker && !c.ackedWorkers[agentID] {
				c.sendAckAgent(wi)
			}
		}
	}
}

// checkHashBits refuses registration (NACK, closed connection, logged as
// a protocol violation) when the registering process's announced
// hash-signature width doesn't match this cluster's configured one (spec
// section 5's resolved Open Question).
func (c *Controller) checkHashBits(conn *agent.Connection, ctrl *wire.ControlMsg) bool {
	if len(ctrl.Words) == 0 {
		return true
	}
	if uint(ctrl.Words[0]) == c.cfg.HashBits {
		return true
	}
	logger.Warn("controller: protocol violation: hash-signature width mismatch",
		"code", ctrl.Header.Code, "want", c.cfg.HashBits, "got", ctrl.Words[0])
	c.send(conn, wire.NewNack())
	conn.Close()
	return false
}

func (c *Controller) admitWorker(conn *agent.Connection, ctrl *wire.ControlMsg) {
	if !c.checkHashBits(conn, ctrl) {
		delete(c.pending, conn)
		return
	}
	delete(c.pending, conn)
	id := c.nextAgentID()
	info := &connInfo{conn: conn, role: roleWorker, agent: id}
	c.byConn[conn] = info
	c.byAgent[id] = info

	if uint16(len(c.routerAddrs)) == c.cfg.RouterCount {
		c.sendAckAgent(info)
	}
}

// admitClient implements the client-limit NACK, the
// wait-for-all-workers-READY admission gate, and spec section 4.6's
// "any REGISTER_CLIENT arriving outside READY is parked in a
// deferred-client set" GC rule (see spec section 8 scenario 6, where a
// client's registration-and-first-operation during WAIT_CLIENT only
// acks once the GC cycle returns to READY).
func (c *Controller) admitClient(conn *agent.Connection, ctrl *wire.ControlMsg) {
	if !c.checkHashBits(conn, ctrl) {
		delete(c.pending, conn)
		return
	}
	delete(c.pending, conn)

	if c.nextAgent >= c.cfg.WorkerCount+c.cfg.ClientLimit {
		c.send(conn, wire.NewNack())
		conn.Close()
		return
	}

	id := c.nextAgentID()
	info := &connInfo{conn: conn, role: roleClient, agent: id}
	c.byConn[conn] = info

	if c.gcState != GCReady {
		// A parked client stays out of byAgent until finishGC admits it,
		// so the cycle in progress neither waits on it nor broadcasts to it.
		c.deferredClients = append(c.deferredClients, info)
		return
	}
	c.byAgent[id] = info
	if len(c.readyWorkers) < int(c.cfg.WorkerCount) {
		c.pendingClients = append(c.pendingClients, info)
		return
	}
	c.sendAckAgent(info)
}

// sendAckAgent builds and sends ACK_AGENT, splitting the router map
// across a continuation chunk when it would not fit in one (spec
// section 4.6: "split across multiple chunks when the map exceeds the
// per-chunk cap"). The wire-level continuation convention — a first
// chunk carrying a router count prefix, any number of follow-on chunks
// of the same code carrying only further router words — is this
// package's own resolution of a detail the spec leaves at the
// byte level (see DESIGN.md).
const maxRouterWordsPerChunk = 60

func (c *Controller) sendAckAgent(info *connInfo) {
	words := make([]uint64, len(c.routerAddrs))
	for i, ra := range c.routerAddrs {
		words[i] = uint64(ra.IP)<<16 | uint64(ra.Port)
	}

	first := append([]uint64{uint64(len(words))}, words...)
	if len(first) <= maxRouterWordsPerChunk {
		c.send(info.conn, wire.NewAckAgent(info.agent, c.cfg.WorkerCount, first))
	} else {
		c.send(info.conn, wire.NewAckAgent(info.agent, c.cfg.WorkerCount, first[:maxRouterWordsPerChunk]))
		rest := first[maxRouterWordsPerChunk:]
		for len(rest) > 0 {
			n := len(rest)
			if n > maxRouterWordsPerChunk {
				n = maxRouterWordsPerChunk
			}
			cont := &wire.ControlMsg{Header: wire.Header{Agent: info.agent, Code: wire.CodeAckAgent}, Words: rest[:n]}
			c.send(info.conn, cont)
			rest = rest[n:]
		}
	}

	if info.role == roleWorker {
		c.ackedWorkers[info.agent] = true
	}
	if info.role == roleClient {
		c.Metrics.SetClientsActive(c.countClients())
	}
}

func (c *Controller) dispatch(info *connInfo, ctrl *wire.ControlMsg) {
	switch ctrl.Header.Code {
	case wire.CodeReadyWorker:
		c.handleReadyWorker(info)
	case wire.CodeDoFlush:
		c.handleDoFlush(info)
	case wire.CodeStat:
		c.handleStat(info, ctrl)
	case wire.CodeKill:
		c.handleKill()
	case wire.CodeGCRequest:
		c.handleGCRequest(ctrl)
	case wire.CodeGCStart:
		c.handleGCStart(info)
	case wire.CodeGCFinish:
		c.handleGCFinish(info, ctrl)
	case wire.CodeCliopData:
		c.handleCliopData(info, ctrl)
	case wire.CodeCliopAck:
		c.handleCliopAck(info, ctrl)
	case wire.CodeRegisterClient:
		// A REGISTER_CLIENT arriving from an already-known connection
		// cannot happen in practice; registration only ever fires once,
		// from handleRegistration. Guarded here only against a
		// misbehaving peer.
		logger.Warn("controller: duplicate registration ignored", "agent", info.agent)
	default:
		logger.Warn("controller: unexpected message from registered agent", "code", ctrl.Header.Code, "agent", info.agent)
	}
}

func (c *Controller) handleReadyWorker(info *connInfo) {
	c.readyWorkers[info.agent] = true
	c.Metrics.SetWorkersReady(len(c.readyWorkers))
	if len(c.readyWorkers) < int(c.cfg.WorkerCount) {
		return
	}
	for _, pc := range c.pendingClients {
		c.sendAckAgent(pc)
	}
	c.pendingClients = nil
}

func (c *Controller) handleDisconnect(conn *agent.Connection) {
	delete(c.pending, conn)
	info, ok := c.byConn[conn]
	if !ok {
		return
	}
	delete(c.byConn, conn)
	if info.role != roleRouter {
		// Routers never occupy a byAgent slot (see admitRouter).
		delete(c.byAgent, info.agent)
	}

	if info.role == roleClient {
		if c.gcState == GCWaitClient && c.gcNeedClient[info.agent] {
			// spec section 7: "EOF from a client during GC is treated
			// as GC_FINISH from that client".
			c.recordClientGCFinish(info.agent)
		}
	}
	if info.role == roleWorker {
		delete(c.readyWorkers, info.agent)
		delete(c.ackedWorkers, info.agent)
		c.Metrics.SetWorkersReady(len(c.readyWorkers))
	}
	if info.role == roleClient {
		c.Metrics.SetClientsActive(c.countClients())
	}
}

func (c *Controller) countClients() int {
	n := 0
	for _, info := range c.byAgent {
		if info.role == roleClient {
			n++
		}
	}
	return n
}

// broadcast sends ctrl to every connection of the given role.
func (c *Controller) broadcast(r role, ctrl *wire.ControlMsg) {
	for _, info := range c.byAgent {
		if info.role == r {
			c.send(info.conn, ctrl)
		}
	}
}

func (c *Controller) send(conn *agent.Connection, ctrl *wire.ControlMsg) {
	if err := conn.SendChunk(ctrl.ToChunk()); err != nil {
		logger.Debug("controller: send failed", "error", err)
	}
}

// handleKill broadcasts KILL to every registered connection, including
// routers — which is why it walks byConn (keyed by every registered
// connection) rather than byAgent (which, per admitRouter, never holds a
// router's entry).
func (c *Controller) handleKill() {
	c.abortGC()
	kill := wire.NewKill()
	for _, info := range c.byConn {
		c.send(info.conn, kill)
		info.conn.Close()
	}
}
