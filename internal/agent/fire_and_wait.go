package agent

import (
	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/rebryant/cloudbdd-go/internal/wire"
)

// FireAndWait implements spec section 4.2's client-only fire_and_wait:
// send op, then run a restricted event loop that accepts only controller
// and router traffic until an operand addressed to op's operator ID
// arrives. DO_FLUSH preempts the wait with ErrFlushInterrupted; KILL
// preempts it with ErrKilled; a GC_START arriving mid-wait is deferred
// (GC_DEFER) and replayed through the normal dispatch path once the wait
// completes, per spec section 5's cancellation rules.
func (a *Agent) FireAndWait(op *wire.OperatorMsg) (*wire.OperandMsg, error) {
	if a.Role != RoleClient {
		panic("agent: FireAndWait called on a non-client agent")
	}

	if err := a.SendOp(op.ToChunk()); err != nil {
		return nil, err
	}

	var deferredGC []InboundMessage
	defer func() {
		for _, im := range deferredGC {
			a.handleInbound(im)
		}
	}()

	for {
		im, ok := <-a.inbound
		if !ok {
			return nil, ErrConnectionClosed
		}
		if im.Err != nil {
			a.handleConnLoss(im)
			continue
		}
		if len(im.Chunk.Words) == 0 {
			continue
		}
		h := wire.UnpackHeader(im.Chunk.Words[0])

		switch h.Code {
		case wire.CodeOperand:
			operand, err := wire.OperandMsgFromChunk(im.Chunk)
			if err != nil {
				logger.Warn("malformed operand chunk during fire_and_wait", "error", err)
				continue
			}
			if operand.Destination().OperatorID == op.OperatorID {
				return operand, nil
			}
			// An operand for some other in-flight operator: still
			// route it through the normal join buffer so concurrent
			// operations make progress while this one waits.
			if err := a.ReceiveOperand(operand); err != nil {
				logger.Debug("receive_operand error during fire_and_wait", "error", err)
			}

		case wire.CodeOperation:
			opMsg, err := wire.OperatorMsgFromChunk(im.Chunk)
			if err != nil {
				logger.Warn("malformed operator chunk during fire_and_wait", "error", err)
				continue
			}
			if err := a.ReceiveOperation(opMsg); err != nil {
				logger.Debug("receive_operation error during fire_and_wait", "error", err)
			}

		case wire.CodeDoFlush:
			return nil, ErrFlushInterrupted

		case wire.CodeKill:
			return nil, ErrKilled

		case wire.CodeGCStart:
			// GC_DEFER: hold until the pending operation completes.
			deferredGC = append(deferredGC, im)

		default:
			ctrl, err := wire.ControlMsgFromChunk(im.Chunk)
			if err != nil {
				logger.Warn("malformed control chunk during fire_and_wait", "error", err)
				continue
			}
			a.dispatchControl(h.Code, ctrl)
		}
	}
}

// AwaitControl runs a restricted event loop, like FireAndWait, but waits
// for one of the given control-message codes instead of an operand.
// DO_FLUSH and KILL end the wait with ErrFlushInterrupted and ErrKilled
// (their hooks are not invoked). Every other chunk (operators, operands,
// and control messages of a different code) is dispatched through the
// normal path as Run would, so a client's other hooks (OnAckAgent,
// OnGCStart, and so on) still fire while the wait is in progress. Used by Client.Collect to wait out
// a GC cycle it kicked off with GC_START (spec section 4.6): the
// controller echoes the cycle's own GC_START/GC_FINISH back to every
// client, so this just needs to let that one control message through
// while everything else keeps flowing normally.
func (a *Agent) AwaitControl(want ...wire.Code) (*wire.ControlMsg, error) {
	for {
		im, ok := <-a.inbound
		if !ok {
			return nil, ErrConnectionClosed
		}
		if im.Err != nil {
			a.handleConnLoss(im)
			continue
		}
		if len(im.Chunk.Words) == 0 {
			continue
		}
		h := wire.UnpackHeader(im.Chunk.Words[0])

		switch h.Code {
		case wire.CodeOperand, wire.CodeOperation:
			a.dispatch(im.Chunk)

		case wire.CodeDoFlush:
			return nil, ErrFlushInterrupted

		case wire.CodeKill:
			return nil, ErrKilled

		default:
			ctrl, err := wire.ControlMsgFromChunk(im.Chunk)
			if err != nil {
				logger.Warn("malformed control chunk during await_control", "error", err)
				continue
			}
			if containsCode(want, h.Code) {
				return ctrl, nil
			}
			a.dispatchControl(h.Code, ctrl)
		}
	}
}

func containsCode(codes []wire.Code, c wire.Code) bool {
	for _, want := range codes {
		if want == c {
			return true
		}
	}
	return false
}
