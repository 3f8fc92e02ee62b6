package wire

import "errors"

// Sentinel errors for the chunk codec and message layer, matching the
// teacher's discipline of logged-and-dropped handling at the call site
// rather than propagating across the wire boundary (see internal/logger
// and SPEC_FULL.md section 1.2).
var (
	// ErrShortChunk is returned when a chunk's declared length is too
	// small to hold its own header words.
	ErrShortChunk = errors.New("wire: chunk shorter than header")

	// ErrChunkTooLarge is returned when a chunk's declared payload would
	// exceed the 64-word slot limit a valid_mask can address.
	ErrChunkTooLarge = errors.New("wire: chunk exceeds 64-word limit")

	// ErrUnknownOpcode is returned when a worker opcode byte does not
	// match any of the seven distributed BDD operators.
	ErrUnknownOpcode = errors.New("wire: unknown opcode")

	// ErrUnknownCode is returned when a message code byte does not match
	// any enumerated message code.
	ErrUnknownCode = errors.New("wire: unknown message code")

	// ErrWrongCode is returned when a chunk is decoded as a specific
	// message type but its header code does not match.
	ErrWrongCode = errors.New("wire: unexpected message code")

	// ErrDoubleFill is returned when an operand targets an argument slot
	// that is already marked valid in the operator's mask.
	ErrDoubleFill = errors.New("wire: operand double-fills an operator slot")
)
