package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across all four agent roles
// (controller, router, worker, client). Use these keys consistently so log
// aggregation and querying work uniformly across the fleet.
const (
	// ========================================================================
	// Agent identity
	// ========================================================================
	KeyRole     = "role"      // "controller", "router", "worker", "client"
	KeyAgentID  = "agent_id"  // 16-bit agent identifier
	KeyRunID    = "run_id"    // process-lifetime run identifier
	KeyPeerAddr = "peer_addr" // remote address of a connection

	// ========================================================================
	// Dataflow / operator
	// ========================================================================
	KeyOpcode     = "opcode"      // opcode name (CANONIZE, ITE_LOOKUP, ...)
	KeyOperatorID = "operator_id" // (agent<<48)|seq operator identifier
	KeyDestAgent  = "dest_agent"  // destination agent of a message
	KeyDestOffset = "dest_offset" // slot offset within a destination operator
	KeyValidMask  = "valid_mask"  // operator/operand fill mask
	KeyMsgCode    = "msg_code"    // wire message code
	KeyLocal      = "local"       // true if a message was delivered via self-route
	KeyRouterAddr = "router_addr" // router address a message was routed through

	// ========================================================================
	// BDD engine
	// ========================================================================
	KeyRef        = "ref"        // packed 64-bit BDD ref
	KeyVar        = "var"        // variable index
	KeyHash       = "hash"       // hash signature
	KeyUniquifier = "uniquifier" // uniquifier within a bucket
	KeyNodeCount  = "node_count" // unique-table size
	KeyCacheHit   = "cache_hit"  // ITE cache hit/miss

	// ========================================================================
	// Controller lifecycle / GC
	// ========================================================================
	KeyGCGen    = "gc_gen"    // GC generation
	KeyGCState  = "gc_state"  // GC phase-machine state
	KeyClientFD = "client_id" // client connection identifier
	KeyWorkers  = "workers"   // configured worker count W

	// ========================================================================
	// Conjunction engine
	// ========================================================================
	KeyAbortCount = "abort_count" // total abort-and-retry count
	KeySizeLimit  = "size_limit"  // current size_limit for a try
	KeyTryIndex   = "try_index"   // which candidate try succeeded

	// ========================================================================
	// Generic
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyCount      = "count"
)

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Ref returns a slog.Attr for a packed BDD ref, formatted as hex.
func Ref(r uint64) slog.Attr {
	return slog.String(KeyRef, fmt.Sprintf("0x%016x", r))
}

// OperatorID returns a slog.Attr for an operator identifier, formatted as hex.
func OperatorID(id uint64) slog.Attr {
	return slog.String(KeyOperatorID, fmt.Sprintf("0x%012x", id))
}

// Opcode returns a slog.Attr for an opcode name.
func Opcode(name string) slog.Attr {
	return slog.String(KeyOpcode, name)
}

// AgentID returns a slog.Attr for an agent identifier.
func AgentID(id uint16) slog.Attr {
	return slog.Uint64(KeyAgentID, uint64(id))
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
