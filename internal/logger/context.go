package logger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a single dataflow
// agent (controller, router, worker, or client).
type LogContext struct {
	AgentID    uint16    // 16-bit agent identifier assigned at registration
	Role       string    // "controller", "router", "worker", "client"
	RunID      string    // process-lifetime run identifier, for correlating one process's log lines across reconnects
	PeerAddr   string    // remote address of the connection being served
	OperatorID uint64    // operator ID currently being handled, if any
	Opcode     string    // opcode name currently being handled, if any
	GCGen      uint32    // current GC generation, when relevant
	StartTime  time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for an agent of the given role,
// stamped with a fresh run ID so every log line a single process run
// emits can be correlated even across its own reconnects.
func NewLogContext(role string, agentID uint16) *LogContext {
	return &LogContext{
		Role:      role,
		AgentID:   agentID,
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithPeer returns a copy with the peer address set
func (lc *LogContext) WithPeer(addr string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.PeerAddr = addr
	}
	return clone
}

// WithOperator returns a copy with the operator ID and opcode set
func (lc *LogContext) WithOperator(id uint64, opcode string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.OperatorID = id
		clone.Opcode = opcode
	}
	return clone
}

// WithGCGen returns a copy with the GC generation set
func (lc *LogContext) WithGCGen(gen uint32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.GCGen = gen
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
