package bdd

// Ref is the 64-bit packed BDD handle of spec section 3. Fields, packed
// MSB to LSB: negation (1 bit), type (3 bits), variable index (16 bits),
// hash signature (configurable width, default 32), uniquifier (the
// remaining low bits). Negation is a bit flip; the absolute value masks
// the bit. The layout is fixed regardless of hash-signature width so that
// hash-derived routing (worker = hash mod W) is stable across processes
// configured with the same width.
type Ref uint64

// RefType is the 3-bit node-type field of a Ref.
type RefType uint8

const (
	RefTypeNull RefType = iota
	RefTypeConstant
	RefTypeVariable
	RefTypeFunction
	RefTypeRecurse
	RefTypeInvalid
)

func (t RefType) String() string {
	switch t {
	case RefTypeNull:
		return "NULL"
	case RefTypeConstant:
		return "CONSTANT"
	case RefTypeVariable:
		return "VARIABLE"
	case RefTypeFunction:
		return "FUNCTION"
	case RefTypeRecurse:
		return "RECURSE"
	default:
		return "INVALID"
	}
}

const (
	negShift  = 63
	typeShift = 60
	typeMask  = 0x7
	varShift  = 44
	varMask   = 0xFFFF

	// varSentinel marks a constant's variable-index field: all-ones,
	// which also sorts numerically after every real variable index, so
	// ordering comparisons (vlevel(v) < vlevel(hi)) need no special case
	// for constants.
	varSentinel uint16 = 0xFFFF
)

// Neg reports whether the ref's negation bit is set.
func (r Ref) Neg() bool { return r&(1<<negShift) != 0 }

// Negate flips the negation bit.
func (r Ref) Negate() Ref { return r ^ (1 << negShift) }

// Abs clears the negation bit.
func (r Ref) Abs() Ref { return r &^ (1 << negShift) }

// Type returns the node-type field.
func (r Ref) Type() RefType { return RefType((r >> typeShift) & typeMask) }

// Var returns the 16-bit variable-index field: a real variable/function
// node's top variable, or varSentinel for a constant.
func (r Ref) Var() uint16 { return uint16((r >> varShift) & varMask) }

// pack builds a Ref from its fields.
func pack(neg bool, typ RefType, v uint16, low uint64) Ref {
	var n uint64
	if neg {
		n = 1
	}
	return Ref(n<<negShift | uint64(typ)<<typeShift | uint64(v)<<varShift | (low & ((1 << varShift) - 1)))
}

// low returns the low varShift (44) bits holding hash signature and
// uniquifier packed together, interpretation depending on hashBits.
func (r Ref) low() uint64 { return uint64(r) & ((1 << varShift) - 1) }

// layout splits the low 44 bits between hash signature and uniquifier
// for a configured hash-signature width.
type layout struct {
	hashBits uint
}

func newLayout(hashBits uint) (layout, error) {
	if hashBits < 3 || hashBits > 44 {
		return layout{}, ErrInvalidHashBits
	}
	return layout{hashBits: hashBits}, nil
}

func (l layout) uniqBits() uint { return 44 - l.hashBits }

func (l layout) packLow(hashSig, uniq uint64) uint64 {
	return (hashSig&((1<<l.hashBits)-1))<<l.uniqBits() | (uniq & ((1 << l.uniqBits()) - 1))
}

func (l layout) hashSig(r Ref) uint64 {
	return r.low() >> l.uniqBits()
}

// RefHashSig extracts the hash-signature field embedded in a Function
// ref's low bits at the given hash-signature width: the exact value
// CANONIZE_LOOKUP hashed the node's triple to when it inserted the entry
// into its unique-table bucket. RETRIEVE_LOOKUP must route on this value,
// not a fresh hash of the ref itself, so that it reaches the same worker
// that owns the node (spec section 4.4; original_source/bdd.c's
// build_retrieve_lookup routes by REF_GET_HASH(ref)).
func RefHashSig(hashBits uint, r Ref) uint64 {
	return layout{hashBits: hashBits}.hashSig(r)
}

func (l layout) uniq(r Ref) uint64 {
	return r.low() & ((1 << l.uniqBits()) - 1)
}

// newFunctionRef builds a Ref for a unique-table entry.
func newFunctionRef(l layout, v uint16, hashSig, uniq uint64) Ref {
	return pack(false, RefTypeFunction, v, l.packLow(hashSig, uniq))
}

// NewVariableRef builds the canonical Ref for variable index v. There is
// exactly one node per variable; no unique-table lookup is needed.
func NewVariableRef(v uint16) Ref {
	return pack(false, RefTypeVariable, v, 0)
}

// RefZero and RefOne are the two BDD constants, inserted as permanent
// unique-table-independent entries (spec section 3, "Named-root table").
// RefOne is the canonical representative; RefZero is its negation.
var (
	RefOne  = pack(false, RefTypeConstant, varSentinel, 0)
	RefZero = RefOne.Negate()
)

// IsConstant reports whether r denotes one of the two BDD constants.
func IsConstant(r Ref) bool { return r.Type() == RefTypeConstant }

// IsVariable reports whether r is a bare variable node.
func IsVariable(r Ref) bool { return r.Type() == RefTypeVariable }
