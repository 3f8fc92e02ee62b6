// Package bdd implements the worker-local Reduced Ordered BDD reference
// engine: a packed 64-bit Ref handle, a hash-bucketed unique table with
// negation-edge normal form, an ITE engine with memoization, and the
// generic unary-traversal framework shared by mark/support/density/
// cofactor/equant (spec sections 3, 4.3, 9).
//
// An *Engine* is not safe for concurrent use. Per spec section 5, all BDD
// state is worker-local and mutated only by that worker's single
// event-loop goroutine (internal/agent); no lock discipline is required
// or applied here.
package bdd

import "errors"

var (
	// ErrUniquifierOverflow is returned when a hash bucket's uniquifier
	// counter would exceed the field width the configured hash-signature
	// size leaves available. Per spec section 7 this is fatal on the
	// owning worker: the unique-table normal form can no longer be
	// maintained.
	ErrUniquifierOverflow = errors.New("bdd: uniquifier field exhausted")

	// ErrInvalidHashBits is returned by NewEngine when the configured
	// hash-signature width is outside the supported range.
	ErrInvalidHashBits = errors.New("bdd: hash-signature width must be between 3 and 44 bits")
)
