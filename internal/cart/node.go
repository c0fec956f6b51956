package cart

import (
	"fmt"

	"github.com/book-expert/voice-model-service/internal/features"
)

// DecisionType identifies the test a decision node applies. Values are the on-disk ordinals.
type DecisionType int32

// Decision node types.
const (
	BinaryByte DecisionType = iota
	BinaryShort
	BinaryFloat
	MultiByte
	MultiShort
)

func (t DecisionType) String() string {
	switch t {
	case BinaryByte:
		return "BinaryByteDecisionNode"
	case BinaryShort:
		return "BinaryShortDecisionNode"
	case BinaryFloat:
		return "BinaryFloatDecisionNode"
	case MultiByte:
		return "ByteDecisionNode"
	case MultiShort:
		return "ShortDecisionNode"
	default:
		return fmt.Sprintf("DecisionType(%d)", int32(t))
	}
}

// IsBinary reports whether nodes of this type always have exactly two children.
func (t DecisionType) IsBinary() bool {
	return t == BinaryByte || t == BinaryShort || t == BinaryFloat
}

func (t DecisionType) valid() bool {
	return t >= BinaryByte && t <= MultiShort
}

// DecisionNode tests one feature of a vector and selects a child edge.
type DecisionNode struct {
	Type DecisionType
	// Feature is the global feature index tested by the node.
	Feature int
	// Criterion is the value compared against by BinaryByte and BinaryShort nodes.
	Criterion int
	// Threshold is the strict upper bound tested by BinaryFloat nodes.
	Threshold float32
	Children  []Ref
}

// LeafType identifies the payload of a leaf. Values are the on-disk ordinals.
type LeafType int32

// Leaf types.
const (
	IntArray LeafType = iota
	Float
	IntAndFloatArray
	StringAndFloat
	FeatureVectorLeaf
	Pdf
)

func (t LeafType) String() string {
	switch t {
	case IntArray:
		return "IntArrayLeafNode"
	case Float:
		return "FloatLeafNode"
	case IntAndFloatArray:
		return "IntAndFloatArrayLeafNode"
	case StringAndFloat:
		return "StringAndFloatLeafNode"
	case FeatureVectorLeaf:
		return "FeatureVectorLeafNode"
	case Pdf:
		return "PdfLeafNode"
	default:
		return fmt.Sprintf("LeafType(%d)", int32(t))
	}
}

// ParseLeafType maps a leaf type name, either its short form ("IntArray") or the full
// node name ("IntArrayLeafNode"), to its LeafType.
func ParseLeafType(name string) (LeafType, error) {
	for leafType := IntArray; leafType <= Pdf; leafType++ {
		full := leafType.String()
		if name == full || name+"LeafNode" == full {
			return leafType, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownLeafType, name)
}

// PdfData holds a Gaussian model: mean and diagonal variance vectors, plus the voiced
// weight used by log-f0 trees.
type PdfData struct {
	Mean         []float64
	Variance     []float64
	VoicedWeight float64
}

// Leaf is a terminal node. Which payload fields are meaningful depends on Type:
// Indices for the int-array family, Probabilities alongside Indices for IntAndFloatArray and
// StringAndFloat, Mean and StdDev for Float, Vectors for FeatureVectorLeaf, Pdf for Pdf.
type Leaf struct {
	Type          LeafType
	Indices       []int32
	Probabilities []float32
	Mean          float32
	StdDev        float32
	Vectors       []features.Vector
	Pdf           *PdfData
}

// NumData returns the number of data items the leaf contributes to its ancestors.
func (l *Leaf) NumData() int {
	switch l.Type {
	case IntArray, IntAndFloatArray, StringAndFloat:
		return len(l.Indices)
	case Float, Pdf:
		return 1
	case FeatureVectorLeaf:
		return len(l.Vectors)
	default:
		return 0
	}
}

// IsEmpty reports whether the leaf carries no data. Float and Pdf leaves are never empty.
func (l *Leaf) IsEmpty() bool {
	switch l.Type {
	case Float, Pdf:
		return false
	default:
		return l.NumData() == 0
	}
}

// MostProbableInt returns the index whose probability is highest. Ties keep the first
// index; a leaf without positive probabilities yields 0.
func (l *Leaf) MostProbableInt() int {
	best := 0

	var maxProbability float32

	for i, index := range l.Indices {
		if i < len(l.Probabilities) && l.Probabilities[i] > maxProbability {
			maxProbability = l.Probabilities[i]
			best = int(index)
		}
	}

	return best
}

// MostProbableString translates MostProbableInt through the vocabulary of a discrete
// feature.
func (l *Leaf) MostProbableString(def *features.Definition, featureIndex int) (string, error) {
	value, err := def.ValueString(featureIndex, l.MostProbableInt())
	if err != nil {
		return "", fmt.Errorf("failed to translate most probable value: %w", err)
	}

	return value, nil
}

func (l *Leaf) String() string {
	switch l.Type {
	case IntArray:
		return fmt.Sprintf("int[%d]", len(l.Indices))
	case IntAndFloatArray:
		return fmt.Sprintf("int and floats[%d]", len(l.Indices))
	case StringAndFloat:
		return fmt.Sprintf("string and floats[%d]", len(l.Indices))
	case Float:
		return fmt.Sprintf("mean=%g, stddev=%g", l.Mean, l.StdDev)
	case FeatureVectorLeaf:
		return fmt.Sprintf("fv[%d]", len(l.Vectors))
	case Pdf:
		if l.Pdf == nil {
			return "pdf[0]"
		}

		return fmt.Sprintf("pdf[%d]", len(l.Pdf.Mean))
	default:
		return l.Type.String()
	}
}

// GraphNode joins two edges: a decision edge tried first and a leaf edge used when the
// decision path ends in a null edge.
type GraphNode struct {
	Leaf     Ref
	Decision Ref
}
