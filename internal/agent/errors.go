// Package agent implements the dataflow agent substrate shared by worker
// and client processes (spec section 4.2): the operator table, the
// deferred-operand table, send_op/fire_and_wait, and the single
// event-loop-goroutine concurrency model of spec section 5.
//
// Exactly one goroutine — the Agent's Run loop — ever touches the
// operator table, the deferred-operand table, or (through opcode
// handlers) the BDD engine. Every connection has its own reader and
// writer goroutine, but those only decode/encode chunks onto channels;
// they hold no dataflow state and make no decisions.
package agent

import "errors"

var (
	// ErrOperatorIDCollision is the semantic error of spec section 4.2:
	// an operator arrived whose ID already names a live entry.
	ErrOperatorIDCollision = errors.New("agent: operator ID collision")

	// ErrUnknownDestinationAgent means send_op could not resolve any
	// router for an outbound message.
	ErrUnknownDestinationAgent = errors.New("agent: unknown destination agent")

	// ErrNoRouterAvailable means the agent has no router connections to
	// send through (and the message is not a self-route).
	ErrNoRouterAvailable = errors.New("agent: no router connection available")

	// ErrConnectionClosed is returned by Connection.SendChunk after the
	// connection has been torn down.
	ErrConnectionClosed = errors.New("agent: connection closed")

	// ErrFlushInterrupted is fire_and_wait's non-success return when a
	// DO_FLUSH preempts the wait (spec section 5, "Cancellation and
	// timeouts").
	ErrFlushInterrupted = errors.New("agent: fire_and_wait interrupted by flush")

	// ErrKilled is fire_and_wait's return when a KILL is received.
	ErrKilled = errors.New("agent: killed while waiting")

	// ErrUnknownOpcode means a fired operator named an opcode with no
	// registered handler.
	ErrUnknownOpcode = errors.New("agent: unknown opcode")
)
