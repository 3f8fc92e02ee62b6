// Package wire implements the chunk codec and message layout that is the
// sole unit of exchange between controller, router, worker, and client
// agents: a small word array plus a valid_mask bit-vector, serialized with
// a length prefix and read/written with explicit short-read/short-write
// retry, matching the connection discipline of a buffered TCP transport.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
)

// MaxWords is the largest payload a chunk may carry: a valid_mask is a
// single 64-bit bit-vector, one bit per word slot.
const MaxWords = 64

// Chunk is a contiguous word array plus a bit-vector indicating which
// slots currently carry defined data. It is the only wire unit, and also
// serves as the in-memory key for the unique table, ITE cache, and
// operator table (see spec section 3, "Chunk").
type Chunk struct {
	Words []uint64
	Mask  uint64
}

// NewChunk allocates a chunk of the given slot count with nothing valid.
func NewChunk(n int) *Chunk {
	return &Chunk{Words: make([]uint64, n)}
}

// Set marks word i valid and stores val, reporting false (ErrDoubleFill at
// the call site) if the slot was already valid.
func (c *Chunk) Set(i int, val uint64) bool {
	bit := uint64(1) << uint(i)
	if c.Mask&bit != 0 {
		return false
	}
	c.Words[i] = val
	c.Mask |= bit
	return true
}

// IsSet reports whether word i is currently valid.
func (c *Chunk) IsSet(i int) bool {
	return c.Mask&(uint64(1)<<uint(i)) != 0
}

// Full reports whether every one of the chunk's len(Words) slots is valid.
func (c *Chunk) Full() bool {
	if len(c.Words) == 0 {
		return true
	}
	want := fullMask(len(c.Words))
	return c.Mask&want == want
}

func fullMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n)) - 1
}

// Hash mixes only the mask-selected words, per spec section 3 ("Hashing a
// chunk hashes only the words selected by its mask").
func (c *Chunk) Hash() uint64 {
	h := xxhash.New()
	var b [8]byte
	for i, w := range c.Words {
		if c.Mask&(uint64(1)<<uint(i)) == 0 {
			continue
		}
		binary.LittleEndian.PutUint64(b[:], w)
		h.Write(b[:])
	}
	return h.Sum64()
}

// Equal compares only mask-selected words and requires the shorter
// chunk's length to be a prefix match: trailing slots beyond the shorter
// length must be unset on the longer side, per spec section 4.1.
func (c *Chunk) Equal(o *Chunk) bool {
	if c == nil || o == nil {
		return c == o
	}
	minLen := len(c.Words)
	if len(o.Words) < minLen {
		minLen = len(o.Words)
	}
	for i := minLen; i < len(c.Words); i++ {
		if c.IsSet(i) {
			return false
		}
	}
	for i := minLen; i < len(o.Words); i++ {
		if o.IsSet(i) {
			return false
		}
	}
	for i := 0; i < minLen; i++ {
		cs, os := c.IsSet(i), o.IsSet(i)
		if cs != os {
			return false
		}
		if cs && c.Words[i] != o.Words[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy, used when self-routing a message back to the
// local agent without a network hop (spec section 4.2).
func (c *Chunk) Clone() *Chunk {
	words := make([]uint64, len(c.Words))
	copy(words, c.Words)
	return &Chunk{Words: words, Mask: c.Mask}
}

// readFull reads exactly len(buf) bytes, distinguishing a clean EOF at the
// very first byte (connection closed, spec's "zero returns signal EOF")
// from a partial read followed by EOF or another error (connection
// failure, spec's "negative returns fail the connection").
func readFull(r io.Reader, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			if err == io.EOF {
				if total == 0 {
					return io.EOF
				}
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// writeFull writes every byte of buf, retrying on partial writes.
func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}

// ReadChunk decodes one chunk from r. The wire layout is a single length
// word (counting itself) followed by length-1 further words, the first of
// which is the valid_mask and the remainder the payload words (spec
// section 4.1). Endianness is pinned to little-endian for this
// implementation (see SPEC_FULL.md section 3.1).
func ReadChunk(r io.Reader) (*Chunk, error) {
	var hdr [8]byte
	if err := readFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint64(hdr[:])
	if length < 2 {
		return nil, ErrShortChunk
	}
	remaining := length - 1
	if remaining-1 > MaxWords {
		return nil, ErrChunkTooLarge
	}
	buf := make([]byte, remaining*8)
	if err := readFull(r, buf); err != nil {
		return nil, err
	}
	mask := binary.LittleEndian.Uint64(buf[:8])
	n := int(remaining - 1)
	words := make([]uint64, n)
	for i := 0; i < n; i++ {
		words[i] = binary.LittleEndian.Uint64(buf[8+i*8:])
	}
	return &Chunk{Words: words, Mask: mask}, nil
}

// WriteChunk encodes and writes c, retrying on partial writes.
func WriteChunk(w io.Writer, c *Chunk) error {
	if len(c.Words) > MaxWords {
		return ErrChunkTooLarge
	}
	length := uint64(2 + len(c.Words))
	buf := make([]byte, 8*(2+len(c.Words)))
	binary.LittleEndian.PutUint64(buf[0:8], length)
	binary.LittleEndian.PutUint64(buf[8:16], c.Mask)
	for i, word := range c.Words {
		binary.LittleEndian.PutUint64(buf[16+i*8:], word)
	}
	return writeFull(w, buf)
}
