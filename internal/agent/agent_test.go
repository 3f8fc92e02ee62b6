package agent

import (
	"testing"

	"github.com/rebryant/cloudbdd-go/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgent() *Agent {
	a := New(RoleWorker, 3, nil, 16)
	a.LocalRouterIdx = -1
	return a
}

func TestReceiveOperationFiresWhenAlreadyFull(t *testing.T) {
	a := newTestAgent()
	fired := false
	a.Handlers[wire.OpCanonize] = func(a *Agent, op *wire.OperatorMsg) error {
		fired = true
		return nil
	}

	op := wire.NewOperatorMsg(a.ID, wire.OpCanonize, wire.PackOperatorID(a.ID, 1))
	require.NoError(t, op.SetSlot(0, 1))
	require.NoError(t, op.SetSlot(1, 2))
	require.NoError(t, op.SetSlot(2, 3))
	require.NoError(t, op.SetSlot(3, 4))
	require.NoError(t, op.SetSlot(4, 5))

	require.NoError(t, a.ReceiveOperation(op))
	assert.True(t, fired)
	assert.Equal(t, 0, a.Operators.Len())
}

func TestReceiveOperationStoresWhenPartial(t *testing.T) {
	a := newTestAgent()
	op := wire.NewOperatorMsg(a.ID, wire.OpCanonize, wire.PackOperatorID(a.ID, 1))
	require.NoError(t, op.SetSlot(0, 1))

	require.NoError(t, a.ReceiveOperation(op))
	assert.Equal(t, 1, a.Operators.Len())

	_, ok := a.Operators.Get(op.OperatorID)
	assert.True(t, ok)
}

func TestReceiveOperationCollisionIsAnError(t *testing.T) {
	a := newTestAgent()
	op := wire.NewOperatorMsg(a.ID, wire.OpCanonize, wire.PackOperatorID(a.ID, 1))
	require.NoError(t, op.SetSlot(0, 1))
	require.NoError(t, a.ReceiveOperation(op))

	dup := wire.NewOperatorMsg(a.ID, wire.OpCanonize, op.OperatorID)
	err := a.ReceiveOperation(dup)
	assert.ErrorIs(t, err, ErrOperatorIDCollision)
	assert.Equal(t, uint64(1), a.Stats.OperatorCollision)
}

func TestReceiveOperandDefersWhenOperatorMissing(t *testing.T) {
	a := newTestAgent()
	id := wire.PackOperatorID(a.ID, 7)
	dest := wire.Destination{Agent: a.ID, OperatorID: id, Offset: 1}
	operand := wire.NewOperandMsg(dest, 42)

	require.NoError(t, a.ReceiveOperand(operand))
	assert.Equal(t, 1, a.Deferred.Len())

	op := wire.NewOperatorMsg(a.ID, wire.OpCanonize, id)
	require.NoError(t, op.SetSlot(0, 1))
	require.NoError(t, op.SetSlot(2, 3))
	require.NoError(t, op.SetSlot(3, 4))
	require.NoError(t, op.SetSlot(4, 5))

	fired := false
	a.Handlers[wire.OpCanonize] = func(a *Agent, op *wire.OperatorMsg) error {
		fired = true
		assert.Equal(t, uint64(42), op.Args[1])
		return nil
	}

	require.NoError(t, a.ReceiveOperation(op))
	assert.True(t, fired)
	assert.Equal(t, 0, a.Deferred.Len())
}

func TestReceiveOperandFillsAndFiresWhenOperatorPresent(t *testing.T) {
	a := newTestAgent()
	id := wire.PackOperatorID(a.ID, 9)
	op := wire.NewOperatorMsg(a.ID, wire.OpCanonize, id)
	require.NoError(t, op.SetSlot(0, 1))
	require.NoError(t, op.SetSlot(1, 2))
	require.NoError(t, op.SetSlot(3, 4))
	require.NoError(t, op.SetSlot(4, 5))
	require.NoError(t, a.ReceiveOperation(op))

	fired := false
	a.Handlers[wire.OpCanonize] = func(a *Agent, op *wire.OperatorMsg) error {
		fired = true
		return nil
	}

	dest := wire.Destination{Agent: a.ID, OperatorID: id, Offset: 2}
	operand := wire.NewOperandMsg(dest, 99)
	require.NoError(t, a.ReceiveOperand(operand))
	assert.True(t, fired)
	assert.Equal(t, 0, a.Operators.Len())
}

func TestReceiveOperandDoubleFillIsDropped(t *testing.T) {
	a := newTestAgent()
	id := wire.PackOperatorID(a.ID, 11)
	op := wire.NewOperatorMsg(a.ID, wire.OpCanonize, id)
	require.NoError(t, op.SetSlot(0, 1))
	require.NoError(t, a.ReceiveOperation(op))

	dest := wire.Destination{Agent: a.ID, OperatorID: id, Offset: 0}
	operand := wire.NewOperandMsg(dest, 123)
	err := a.ReceiveOperand(operand)
	assert.ErrorIs(t, err, wire.ErrDoubleFill)
	assert.Equal(t, uint64(1), a.Stats.Dropped)
}

func TestSendOpSelfRouteDeliversLocallyWithoutRouter(t *testing.T) {
	a := newTestAgent()
	a.SelfRoute = true
	assert.Empty(t, a.Routers)

	id := wire.PackOperatorID(a.ID, 1)
	op := wire.NewOperatorMsg(a.ID, wire.OpCanonize, id)
	require.NoError(t, op.SetSlot(0, 1))

	require.NoError(t, a.SendOp(op.ToChunk()))
	assert.Equal(t, uint64(1), a.Stats.LocalOperators)
	_, ok := a.Operators.Get(id)
	assert.True(t, ok)
}

func TestSendOpWithoutRouterOrSelfRouteFails(t *testing.T) {
	a := newTestAgent()
	a.SelfRoute = false

	id := wire.PackOperatorID(a.ID, 1)
	op := wire.NewOperatorMsg(a.ID, wire.OpCanonize, id)
	err := a.SendOp(op.ToChunk())
	assert.ErrorIs(t, err, ErrNoRouterAvailable)
}

func TestAllocOperatorIDIsMonotonicAndAgentTagged(t *testing.T) {
	a := newTestAgent()
	id1 := a.AllocOperatorID()
	id2 := a.AllocOperatorID()
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, a.ID, wire.OperatorIDAgent(id1))
	assert.Equal(t, a.ID, wire.OperatorIDAgent(id2))
}
