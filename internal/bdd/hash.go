package bdd

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// tripleHash computes hash(v, hi, lo), masked to the configured
// hash-signature width, exactly the function whose result is both the
// unique-table bucket selector and the low bits of a newly allocated ref
// (spec section 4.3).
func tripleHash(l layout, v uint16, hi, lo Ref) uint64 {
	var buf [2 + 8 + 8]byte
	binary.LittleEndian.PutUint16(buf[0:2], v)
	binary.LittleEndian.PutUint64(buf[2:10], uint64(hi))
	binary.LittleEndian.PutUint64(buf[10:18], uint64(lo))
	full := xxhash.Sum64(buf[:])
	return full & ((1 << l.hashBits) - 1)
}

// hashRefs mixes an arbitrary tuple of refs via xxhash, used for
// ITE_LOOKUP routing decisions (spec section 4.4), which are independent
// of the unique-table hash-signature width. RETRIEVE_LOOKUP routes by
// RefHashSig instead.
func hashRefs(refs []Ref) uint64 {
	h := xxhash.New()
	var b [8]byte
	for _, r := range refs {
		binary.LittleEndian.PutUint64(b[:], uint64(r))
		h.Write(b[:])
	}
	return h.Sum64()
}

// iteKey is the ITE cache key: a normalized (iref, tref, eref) triple,
// hashed via xxhash for use as a Go map key is unnecessary since the
// triple itself (three uint64s) is comparable; xxhash is reserved for the
// wire chunk and unique-table hashing spec section 3 calls for.
type iteKey struct {
	I, T, E Ref
}
