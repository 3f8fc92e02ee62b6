package agent

import "github.com/rebryant/cloudbdd-go/internal/wire"

// OperatorTable holds operators registered but not yet full (spec
// section 3, "Operator table"): every entry has at least one missing
// argument slot; the instant the mask saturates, the caller removes the
// entry and fires it.
type OperatorTable struct {
	entries map[uint64]*wire.OperatorMsg
}

// NewOperatorTable returns an empty operator table.
func NewOperatorTable() *OperatorTable {
	return &OperatorTable{entries: make(map[uint64]*wire.OperatorMsg)}
}

// Get looks up the operator registered under id.
func (t *OperatorTable) Get(id uint64) (*wire.OperatorMsg, bool) {
	op, ok := t.entries[id]
	return op, ok
}

// Put registers op under its own operator ID.
func (t *OperatorTable) Put(op *wire.OperatorMsg) {
	t.entries[op.OperatorID] = op
}

// Delete removes the entry for id.
func (t *OperatorTable) Delete(id uint64) {
	delete(t.entries, id)
}

// Len reports the number of pending operators, used by tests and by
// STAT reporting.
func (t *OperatorTable) Len() int {
	return len(t.entries)
}

// DeferredOperand is one operand payload waiting for its target operator
// to be registered (spec section 3, "Deferred-operand table").
type DeferredOperand struct {
	Offset uint8
	Words  []uint64
}

// DeferredOperandTable maps operator_id to the list of operands that
// arrived before that operator did. List order is irrelevant per spec;
// all entries are merged once the operator arrives.
type DeferredOperandTable struct {
	entries map[uint64][]DeferredOperand
}

// NewDeferredOperandTable returns an empty deferred-operand table.
func NewDeferredOperandTable() *DeferredOperandTable {
	return &DeferredOperandTable{entries: make(map[uint64][]DeferredOperand)}
}

// Append adds d to the deferred list for operator id.
func (t *DeferredOperandTable) Append(id uint64, d DeferredOperand) {
	t.entries[id] = append(t.entries[id], d)
}

// Take returns and clears the deferred list for operator id. A nil/empty
// result means no operand was waiting.
func (t *DeferredOperandTable) Take(id uint64) []DeferredOperand {
	list := t.entries[id]
	if list != nil {
		delete(t.entries, id)
	}
	return list
}

// Len reports the number of operator IDs with at least one deferred
// operand, used by STAT reporting.
func (t *DeferredOperandTable) Len() int {
	return len(t.entries)
}
