package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderPackUnpackRoundTrip(t *testing.T) {
	h := Header{Agent: 0xBEEF, Mid: 0xCAFEF00D, Sub: 0x3C, Code: CodeOperation}
	got := UnpackHeader(h.Pack())
	assert.Equal(t, h, got)
}

func TestOperatorMsgRoundTrip(t *testing.T) {
	id := PackOperatorID(3, 42)
	m := NewOperatorMsg(3, OpCanonize, id)
	// CANONIZE carries the two dest slots plus v, hi, lo: five slots.
	require.NoError(t, m.SetSlot(0, 10))
	require.NoError(t, m.SetSlot(1, 20))
	require.NoError(t, m.SetSlot(2, 30))
	require.NoError(t, m.SetSlot(3, 40))
	assert.False(t, m.Full())
	require.NoError(t, m.SetSlot(4, 50))
	assert.True(t, m.Full())

	c := m.ToChunk()
	got, err := OperatorMsgFromChunk(c)
	require.NoError(t, err)
	assert.Equal(t, m.OperatorID, got.OperatorID)
	assert.Equal(t, m.Mask, got.Mask)
	assert.Equal(t, m.Args, got.Args)
	assert.Equal(t, OpCanonize, got.Opcode())
}

func TestOperatorMsgDoubleFill(t *testing.T) {
	m := NewOperatorMsg(1, OpRetrieveLookup, PackOperatorID(1, 1))
	require.NoError(t, m.SetSlot(0, 5))
	assert.ErrorIs(t, m.SetSlot(0, 6), ErrDoubleFill)
}

func TestOperandMsgDestinationRoundTrip(t *testing.T) {
	dest := Destination{Agent: 7, OperatorID: PackOperatorID(7, 99), Offset: 2}
	m := NewOperandMsg(dest, 111, 222)

	c := m.ToChunk()
	got, err := OperandMsgFromChunk(c)
	require.NoError(t, err)
	assert.Equal(t, dest, got.Destination())
	assert.Equal(t, []uint64{111, 222}, got.Words)
}

func TestOperatorIDAgentExtraction(t *testing.T) {
	id := PackOperatorID(1234, 0xABCDEF)
	assert.Equal(t, uint16(1234), OperatorIDAgent(id))
}

func TestControlMsgRoundTrip(t *testing.T) {
	msg := NewAckAgent(5, 3, []uint64{1, 2, 3})
	c := msg.ToChunk()
	got, err := ControlMsgFromChunk(c)
	require.NoError(t, err)
	assert.Equal(t, CodeAckAgent, got.Header.Code)
	assert.Equal(t, uint16(5), got.Header.Agent)
	assert.Equal(t, uint32(3), got.Header.Mid)
	assert.Equal(t, []uint64{1, 2, 3}, got.Words)
}

func TestOperatorMsgFromChunkWrongCode(t *testing.T) {
	c := NewKill().ToChunk()
	_, err := OperatorMsgFromChunk(c)
	assert.ErrorIs(t, err, ErrWrongCode)
}
