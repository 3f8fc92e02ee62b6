package agent

import (
	"context"
	"math/rand"

	"github.com/rebryant/cloudbdd-go/internal/bdd"
	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/rebryant/cloudbdd-go/internal/wire"
)

// Role distinguishes the two process kinds that embed an Agent. Router
// and controller have their own event loops (internal/router,
// internal/controller) and do not use this package.
type Role int

const (
	RoleWorker Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleWorker {
		return "worker"
	}
	return "client"
}

// Handler fires a fully-filled operator, per spec section 4.2: "pure
// functions of the operator chunk with side effects limited to (a)
// updating worker-local state, and (b) calling send_op."
type Handler func(a *Agent, op *wire.OperatorMsg) error

// Stats counts the self-routing and drop events spec section 4.2
// requires agents to track.
type Stats struct {
	LocalOperators    uint64
	LocalOperands     uint64
	RoutedOperators   uint64
	RoutedOperands    uint64
	Dropped           uint64
	OperatorCollision uint64
}

// Agent is the shared dataflow substrate for worker and client
// processes: the operator table, deferred-operand table, router
// connections, and operator-ID allocator. Every field below is owned
// exclusively by the goroutine running Run (or, equivalently, the
// goroutine running FireAndWait) — see the package doc comment.
type Agent struct {
	Role Role
	ID   uint16

	Engine    *bdd.Engine
	Operators *OperatorTable
	Deferred  *DeferredOperandTable
	Handlers  map[wire.Opcode]Handler

	Routers        []*Connection
	Controller     *Connection
	LocalRouterIdx int // index into Routers of the local-interface shortcut, or -1
	SelfRoute      bool

	// Optional control-message hooks, wired by the worker/client layer
	// that embeds this Agent; nil hooks are simply not invoked.
	OnAckAgent    func(*wire.ControlMsg)
	OnStat        func(*wire.ControlMsg)
	OnDoFlush     func(*wire.ControlMsg)
	OnKill        func(*wire.ControlMsg)
	OnNack        func(*wire.ControlMsg)
	OnGCRequest   func(*wire.ControlMsg)
	OnGCStart     func(*wire.ControlMsg)
	OnGCFinish    func(*wire.ControlMsg)
	OnCliopData   func(*wire.ControlMsg)
	OnCliopAck    func(*wire.ControlMsg)
	OnRegister    func(*wire.ControlMsg)
	OnReadyWorker func(*wire.ControlMsg)

	inbound chan InboundMessage
	seq     uint64

	Stats Stats
}

// New builds an Agent with the given role, assigned ID, and BDD engine
// (nil for a client, which has no local shard). inboundBuf sizes the
// fan-in channel every connection's reader goroutine feeds.
func New(role Role, id uint16, engine *bdd.Engine, inboundBuf int) *Agent {
	return &Agent{
		Role:           role,
		ID:             id,
		Engine:         engine,
		Operators:      NewOperatorTable(),
		Deferred:       NewDeferredOperandTable(),
		Handlers:       make(map[wire.Opcode]Handler),
		LocalRouterIdx: -1,
		SelfRoute:      true,
		inbound:        make(chan InboundMessage, inboundBuf),
	}
}

// Inbound exposes the fan-in channel so a caller can build a Connection
// with NewConnection(conn, idx, a.Inbound()).
func (a *Agent) Inbound() chan<- InboundMessage { return a.inbound }

// AllocOperatorID issues a fresh operator ID as (agent<<48)|seq, per
// spec section 4.2. Only the event-loop goroutine ever calls this.
func (a *Agent) AllocOperatorID() uint64 {
	id := wire.PackOperatorID(a.ID, a.seq)
	a.seq++
	return id
}

// pickRouter implements the local-router-shortcut-else-random policy of
// spec section 4.2.
func (a *Agent) pickRouter() *Connection {
	if a.LocalRouterIdx >= 0 && a.LocalRouterIdx < len(a.Routers) {
		return a.Routers[a.LocalRouterIdx]
	}
	if len(a.Routers) == 0 {
		return nil
	}
	return a.Routers[rand.Intn(len(a.Routers))]
}

// chunkDestination extracts the destination agent from an operator or
// operand chunk's header word, without fully decoding the message.
func chunkDestination(c *wire.Chunk) uint16 {
	return wire.UnpackHeader(c.Words[0]).Agent
}

// SendOp implements send_op (spec section 4.2): a message addressed to
// the local agent is cloned and delivered in-process when self-routing
// is enabled (no network hop, counted as a local operation/operand);
// otherwise it is written to a chosen router connection.
func (a *Agent) SendOp(chunk *wire.Chunk) error {
	if len(chunk.Words) == 0 {
		return wire.ErrShortChunk
	}
	dest := chunkDestination(chunk)
	if dest == a.ID && a.SelfRoute {
		return a.deliverLocal(chunk.Clone())
	}
	conn := a.pickRouter()
	if conn == nil {
		return ErrNoRouterAvailable
	}
	if wire.Code(chunk.Words[0]&0xFF) == wire.CodeOperand {
		a.Stats.RoutedOperands++
	} else {
		a.Stats.RoutedOperators++
	}
	return conn.SendChunk(chunk)
}

// deliverLocal dispatches a self-addressed chunk directly, synchronously,
// in the caller's goroutine (always the event-loop goroutine) rather
// than round-tripping through a router.
func (a *Agent) deliverLocal(chunk *wire.Chunk) error {
	code := wire.Code(chunk.Words[0] & 0xFF)
	switch code {
	case wire.CodeOperation:
		op, err := wire.OperatorMsgFromChunk(chunk)
		if err != nil {
			return err
		}
		a.Stats.LocalOperators++
		return a.ReceiveOperation(op)
	case wire.CodeOperand:
		operand, err := wire.OperandMsgFromChunk(chunk)
		if err != nil {
			return err
		}
		a.Stats.LocalOperands++
		return a.ReceiveOperand(operand)
	default:
		return wire.ErrUnknownCode
	}
}

// ReceiveOperation implements spec section 4.2's receive_operation: an ID
// collision is an error; deferred operands for the ID are merged first;
// a now-full operator fires immediately and is discarded rather than
// stored.
func (a *Agent) ReceiveOperation(op *wire.OperatorMsg) error {
	if _, exists := a.Operators.Get(op.OperatorID); exists {
		a.Stats.OperatorCollision++
		logger.Warn("operator ID collision", "operator_id", op.OperatorID)
		return ErrOperatorIDCollision
	}

	for _, d := range a.Deferred.Take(op.OperatorID) {
		for i, w := range d.Words {
			if err := op.SetSlot(int(d.Offset)+i, w); err != nil {
				logger.Warn("double-fill merging deferred operand", "operator_id", op.OperatorID, "offset", d.Offset)
				a.Stats.Dropped++
			}
		}
	}

	if op.Full() {
		return a.fire(op)
	}
	a.Operators.Put(op)
	return nil
}

// ReceiveOperand implements spec section 4.2's receive_operand: if the
// target operator is registered, the payload is inserted at the carried
// offset and the operator fires and is evicted once full; otherwise the
// operand is appended to that operator ID's deferred list.
func (a *Agent) ReceiveOperand(operand *wire.OperandMsg) error {
	dest := operand.Destination()
	op, ok := a.Operators.Get(dest.OperatorID)
	if !ok {
		a.Deferred.Append(dest.OperatorID, DeferredOperand{Offset: dest.Offset, Words: operand.Words})
		return nil
	}

	for i, w := range operand.Words {
		if err := op.SetSlot(int(dest.Offset)+i, w); err != nil {
			logger.Warn("double-fill of operand slot", "operator_id", dest.OperatorID, "offset", dest.Offset)
			a.Stats.Dropped++
			return err
		}
	}

	if op.Full() {
		a.Operators.Delete(dest.OperatorID)
		return a.fire(op)
	}
	return nil
}

// fire looks up the handler for op's opcode and invokes it.
func (a *Agent) fire(op *wire.OperatorMsg) error {
	h, ok := a.Handlers[op.Opcode()]
	if !ok {
		logger.Warn("unknown opcode", "opcode", op.Opcode(), "operator_id", op.OperatorID)
		a.Stats.Dropped++
		return ErrUnknownOpcode
	}
	return h(a, op)
}

// Run is the agent's main event loop (used by workers, and by clients
// whenever they are not inside FireAndWait): it drains the shared
// inbound channel and dispatches every decoded chunk, until ctx is
// cancelled or the channel is closed.
func (a *Agent) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case im, ok := <-a.inbound:
			if !ok {
				return nil
			}
			a.handleInbound(im)
		}
	}
}

func (a *Agent) handleInbound(im InboundMessage) {
	if im.Err != nil {
		a.handleConnLoss(im)
		return
	}
	a.dispatch(im.Chunk)
}

// handleConnLoss applies spec section 7's connection-loss taxonomy: EOF
// from the controller is fatal on every agent; EOF from a router is
// logged and the socket is dropped, the agent continuing with degraded
// routing.
func (a *Agent) handleConnLoss(im InboundMessage) {
	if im.Conn == a.Controller {
		logger.Error("controller connection lost, exiting", "error", im.Err)
		panic(errControllerLost{im.Err})
	}
	logger.Warn("router connection lost", "peer", im.Conn.RemoteAddr, "error", im.Err)
	a.dropRouter(im.Conn)
}

func (a *Agent) dropRouter(c *Connection) {
	for i, r := range a.Routers {
		if r == c {
			a.Routers = append(a.Routers[:i], a.Routers[i+1:]...)
			if a.LocalRouterIdx == i {
				a.LocalRouterIdx = -1
			} else if a.LocalRouterIdx > i {
				a.LocalRouterIdx--
			}
			return
		}
	}
}

// errControllerLost is recovered by the process entrypoint to turn a
// fatal controller disconnect into a clean non-zero exit instead of an
// unrecovered panic stack trace.
type errControllerLost struct{ Err error }

func (e errControllerLost) Error() string { return "controller connection lost: " + e.Err.Error() }

// dispatch decodes chunk's header and routes it to the operator/operand
// pipeline or to the appropriate control-message hook.
func (a *Agent) dispatch(chunk *wire.Chunk) {
	if len(chunk.Words) == 0 {
		return
	}
	h := wire.UnpackHeader(chunk.Words[0])
	switch h.Code {
	case wire.CodeOperation:
		op, err := wire.OperatorMsgFromChunk(chunk)
		if err != nil {
			logger.Warn("malformed operator chunk", "error", err)
			return
		}
		if err := a.ReceiveOperation(op); err != nil {
			logger.Debug("receive_operation error", "error", err)
		}
	case wire.CodeOperand:
		operand, err := wire.OperandMsgFromChunk(chunk)
		if err != nil {
			logger.Warn("malformed operand chunk", "error", err)
			return
		}
		if err := a.ReceiveOperand(operand); err != nil {
			logger.Debug("receive_operand error", "error", err)
		}
	default:
		ctrl, err := wire.ControlMsgFromChunk(chunk)
		if err != nil {
			logger.Warn("malformed control chunk", "error", err)
			return
		}
		a.dispatchControl(h.Code, ctrl)
	}
}

func (a *Agent) dispatchControl(code wire.Code, ctrl *wire.ControlMsg) {
	switch code {
	case wire.CodeAckAgent:
		invoke(a.OnAckAgent, ctrl)
	case wire.CodeStat:
		invoke(a.OnStat, ctrl)
	case wire.CodeDoFlush:
		invoke(a.OnDoFlush, ctrl)
	case wire.CodeKill:
		invoke(a.OnKill, ctrl)
	case wire.CodeNack:
		invoke(a.OnNack, ctrl)
	case wire.CodeGCRequest:
		invoke(a.OnGCRequest, ctrl)
	case wire.CodeGCStart:
		invoke(a.OnGCStart, ctrl)
	case wire.CodeGCFinish:
		invoke(a.OnGCFinish, ctrl)
	case wire.CodeCliopData:
		invoke(a.OnCliopData, ctrl)
	case wire.CodeCliopAck:
		invoke(a.OnCliopAck, ctrl)
	case wire.CodeReadyWorker:
		invoke(a.OnReadyWorker, ctrl)
	case wire.CodeRegisterRouter, wire.CodeRegisterWorker, wire.CodeRegisterClient, wire.CodeRegisterAgent:
		invoke(a.OnRegister, ctrl)
	default:
		logger.Warn("unknown message code", "code", code)
	}
}

func invoke(hook func(*wire.ControlMsg), ctrl *wire.ControlMsg) {
	if hook != nil {
		hook(ctrl)
	}
}
