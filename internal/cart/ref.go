package cart

import "fmt"

// Tagged reference layout: the top two bits select the node array, the low 30 bits hold a
// 1-based index into it. Index 0 is the null edge.
const (
	refTypeMask  uint32 = 0xC0000000
	refIndexMask uint32 = 0x3FFFFFFF

	tagLeaf     uint32 = 0x00000000
	tagDecision uint32 = 0x40000000
	tagGraph    uint32 = 0x80000000
	tagLegacy   uint32 = 0xC0000000
)

// RefKind names the node array a Ref points into.
type RefKind uint8

// Reference kinds.
const (
	KindLeaf RefKind = iota
	KindDecision
	KindGraph
)

func (k RefKind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindDecision:
		return "decision"
	case KindGraph:
		return "graph"
	default:
		return fmt.Sprintf("RefKind(%d)", uint8(k))
	}
}

// Ref is a tagged reference to a node of a Graph.
type Ref uint32

// NullRef is the empty edge.
const NullRef Ref = 0

// LeafRef returns a reference to the leaf at zero-based position index.
func LeafRef(index int) Ref {
	return Ref(tagLeaf | uint32(index+1)&refIndexMask)
}

// DecisionRef returns a reference to the decision node at zero-based position index.
func DecisionRef(index int) Ref {
	return Ref(tagDecision | uint32(index+1)&refIndexMask)
}

// GraphRef returns a reference to the graph node at zero-based position index.
func GraphRef(index int) Ref {
	return Ref(tagGraph | uint32(index+1)&refIndexMask)
}

// IsNull reports whether the reference is an empty edge.
func (r Ref) IsNull() bool {
	return uint32(r)&refIndexMask == 0
}

// Kind reports which node array the reference points into.
func (r Ref) Kind() RefKind {
	switch uint32(r) & refTypeMask {
	case tagDecision:
		return KindDecision
	case tagGraph:
		return KindGraph
	default:
		return KindLeaf
	}
}

// Index returns the zero-based position of the referenced node, or -1 for a null edge.
func (r Ref) Index() int {
	return int(uint32(r)&refIndexMask) - 1
}

// Encode returns the tagged wire form.
func (r Ref) Encode() int32 {
	if r.IsNull() {
		return 0
	}

	return int32(uint32(r))
}

func (r Ref) String() string {
	if r.IsNull() {
		return "null"
	}

	return fmt.Sprintf("%s#%d", r.Kind(), r.Index())
}

// DecodeRef decodes a child reference as stored on disk. Both the tagged encoding and the
// legacy signed encoding (negative -i for decision node i, positive i for leaf i) are
// accepted; legacy negatives always carry the otherwise unused tag 11.
func DecodeRef(value int32) Ref {
	raw := uint32(value)

	switch {
	case value == 0:
		return NullRef
	case raw&refTypeMask == tagLegacy:
		return DecisionRef(int(-value) - 1)
	case raw&refIndexMask == 0:
		return NullRef
	default:
		return Ref(raw)
	}
}

// legacyEncode returns the signed encoding used by tree files.
func legacyEncode(r Ref) (int32, error) {
	switch {
	case r.IsNull():
		return 0, nil
	case r.Kind() == KindDecision:
		return int32(-(r.Index() + 1)), nil
	case r.Kind() == KindLeaf:
		return int32(r.Index() + 1), nil
	default:
		return 0, fmt.Errorf("%w: graph node reference %s", ErrNotATree, r)
	}
}
