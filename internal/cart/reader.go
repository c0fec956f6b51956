package cart

import (
	"fmt"
	"io"

	"github.com/book-expert/voice-model-service/internal/binio"
	"github.com/book-expert/voice-model-service/internal/features"
)

const (
	errReadHeader     = "failed to read header: %w"
	errReadProperties = "failed to read properties: %w"
	errReadFeatures   = "failed to read feature definition: %w"
	errReadDecisions  = "failed to read decision nodes: %w"
	errReadLeaves     = "failed to read leaves: %w"
	errReadGraphNodes = "failed to read graph nodes: %w"
)

func loadError(err error) error {
	return fmt.Errorf("%w: %w", ErrCannotLoad, err)
}

// Load reads a graph of either file type from r.
func Load(reader io.Reader) (*Graph, error) {
	cursor, err := binio.NewCursorFromReader(reader)
	if err != nil {
		return nil, loadError(err)
	}

	return readAny(cursor)
}

// Read parses a graph of either file type from data.
func Read(data []byte) (*Graph, error) {
	return readAny(binio.NewCursor(data))
}

func readAny(cursor *binio.Cursor) (*Graph, error) {
	fileType, err := readHeader(cursor)
	if err != nil {
		return nil, loadError(fmt.Errorf(errReadHeader, err))
	}

	return readBody(cursor, fileType)
}

// ReadCART parses a tree file. A directed graph file is rejected.
func ReadCART(data []byte) (*Graph, error) {
	cursor := binio.NewCursor(data)

	fileType, err := readHeader(cursor)
	if err != nil {
		return nil, loadError(fmt.Errorf(errReadHeader, err))
	}

	if fileType != FileTypeCARTs {
		return nil, loadError(fmt.Errorf("%w: expected %s, found %s", ErrUnknownFileType, FileTypeCARTs, fileType))
	}

	return readBody(cursor, fileType)
}

// ReadDirectedGraph parses a directed graph file. A tree file is accepted too: the
// cursor rewinds to the start of the file and the data is read as a tree.
func ReadDirectedGraph(data []byte) (*Graph, error) {
	cursor := binio.NewCursor(data)
	cursor.Mark()

	fileType, err := readHeader(cursor)
	if err != nil {
		return nil, loadError(fmt.Errorf(errReadHeader, err))
	}

	if fileType == FileTypeCARTs {
		resetErr := cursor.Reset()
		if resetErr != nil {
			return nil, loadError(resetErr)
		}

		return readAny(cursor)
	}

	return readBody(cursor, fileType)
}

func readBody(cursor *binio.Cursor, fileType FileType) (*Graph, error) {
	props, err := readProperties(cursor)
	if err != nil {
		return nil, loadError(fmt.Errorf(errReadProperties, err))
	}

	def, err := features.ReadBinary(cursor)
	if err != nil {
		return nil, loadError(fmt.Errorf(errReadFeatures, err))
	}

	builder := NewBuilder(def)
	builder.SetProperties(props)

	err = readDecisionNodes(cursor, builder)
	if err != nil {
		return nil, loadError(fmt.Errorf(errReadDecisions, err))
	}

	err = readLeaves(cursor, builder)
	if err != nil {
		return nil, loadError(fmt.Errorf(errReadLeaves, err))
	}

	if fileType == FileTypeDirectedGraph {
		err = readGraphNodes(cursor, builder)
		if err != nil {
			return nil, loadError(fmt.Errorf(errReadGraphNodes, err))
		}
	}

	graph, err := builder.Build()
	if err != nil {
		return nil, loadError(err)
	}

	return graph, nil
}

func readCount(cursor *binio.Cursor, what string) (int, error) {
	count, err := cursor.ReadInt32()
	if err != nil {
		return 0, err
	}

	if count < 0 {
		return 0, fmt.Errorf("%w: negative %s count %d", ErrInconsistentCart, what, count)
	}

	return int(count), nil
}

func readDecisionNodes(cursor *binio.Cursor, builder *Builder) error {
	count, err := readCount(cursor, "decision node")
	if err != nil {
		return err
	}

	for index := range count {
		node, nodeErr := readDecisionNode(cursor, builder.def, index)
		if nodeErr != nil {
			return nodeErr
		}

		builder.AddDecision(node)
	}

	return nil
}

func readDecisionNode(cursor *binio.Cursor, def *features.Definition, index int) (DecisionNode, error) {
	var node DecisionNode

	featureIndex, err := cursor.ReadInt32()
	if err != nil {
		return node, err
	}

	nodeType, err := cursor.ReadInt32()
	if err != nil {
		return node, err
	}

	node.Feature = int(featureIndex)
	node.Type = DecisionType(nodeType)
	numChildren := 2

	switch node.Type {
	case BinaryByte:
		criterion, readErr := cursor.ReadInt32()
		if readErr != nil {
			return node, readErr
		}

		node.Criterion = int(uint8(criterion))
	case BinaryShort:
		criterion, readErr := cursor.ReadInt32()
		if readErr != nil {
			return node, readErr
		}

		node.Criterion = int(int16(criterion))
	case BinaryFloat:
		threshold, readErr := cursor.ReadFloat32()
		if readErr != nil {
			return node, readErr
		}

		node.Threshold = threshold
	case MultiByte, MultiShort:
		declared, readErr := cursor.ReadInt32()
		if readErr != nil {
			return node, readErr
		}

		numChildren, err = checkCardinality(def, node.Feature, int(declared), index)
		if err != nil {
			return node, err
		}
	default:
		return node, fmt.Errorf("%w: %d at decision node %d", ErrUnknownNodeType, nodeType, index)
	}

	node.Children = make([]Ref, numChildren)
	for i := range node.Children {
		encoded, readErr := cursor.ReadInt32()
		if readErr != nil {
			return node, readErr
		}

		node.Children[i] = DecodeRef(encoded)
	}

	return node, nil
}

func checkCardinality(def *features.Definition, feature, declared, index int) (int, error) {
	cardinality, err := def.Cardinality(feature)
	if err != nil {
		return 0, fmt.Errorf("%w: decision node %d: %w", ErrInconsistentCart, index, err)
	}

	if cardinality != declared {
		name, _ := def.Name(feature)

		return 0, fmt.Errorf("%w: feature %s should have %d values, but decision node %d has only %d child nodes",
			ErrInconsistentCart, name, cardinality, index, declared)
	}

	return declared, nil
}

func readLeaves(cursor *binio.Cursor, builder *Builder) error {
	count, err := readCount(cursor, "leaf")
	if err != nil {
		return err
	}

	for index := range count {
		leaf, leafErr := readLeaf(cursor, index)
		if leafErr != nil {
			return leafErr
		}

		builder.AddLeaf(leaf)
	}

	return nil
}

func readLeaf(cursor *binio.Cursor, index int) (Leaf, error) {
	var leaf Leaf

	leafType, err := cursor.ReadInt32()
	if err != nil {
		return leaf, err
	}

	leaf.Type = LeafType(leafType)

	switch leaf.Type {
	case IntArray:
		leaf.Indices, err = readInts(cursor)
	case Float:
		leaf.StdDev, err = cursor.ReadFloat32()
		if err == nil {
			leaf.Mean, err = cursor.ReadFloat32()
		}
	case IntAndFloatArray, StringAndFloat:
		leaf.Indices, leaf.Probabilities, err = readPairs(cursor)
	case FeatureVectorLeaf, Pdf:
		return leaf, fmt.Errorf("%w: reading %s leaves is not supported (leaf %d)", ErrUnknownLeafType, leaf.Type, index)
	default:
		return leaf, fmt.Errorf("%w: %d at leaf %d", ErrUnknownLeafType, leafType, index)
	}

	return leaf, err
}

func readInts(cursor *binio.Cursor) ([]int32, error) {
	count, err := readCount(cursor, "index")
	if err != nil {
		return nil, err
	}

	if count*4 > cursor.Remaining() {
		return nil, fmt.Errorf("%w: %d indices announced", binio.ErrUnexpectedEOF, count)
	}

	values := make([]int32, count)
	for i := range values {
		values[i], err = cursor.ReadInt32()
		if err != nil {
			return nil, err
		}
	}

	return values, nil
}

func readPairs(cursor *binio.Cursor) ([]int32, []float32, error) {
	count, err := readCount(cursor, "pair")
	if err != nil {
		return nil, nil, err
	}

	if count*8 > cursor.Remaining() {
		return nil, nil, fmt.Errorf("%w: %d pairs announced", binio.ErrUnexpectedEOF, count)
	}

	ints := make([]int32, count)
	floats := make([]float32, count)

	for i := range count {
		ints[i], err = cursor.ReadInt32()
		if err != nil {
			return nil, nil, err
		}

		floats[i], err = cursor.ReadFloat32()
		if err != nil {
			return nil, nil, err
		}
	}

	return ints, floats, nil
}

func readGraphNodes(cursor *binio.Cursor, builder *Builder) error {
	count, err := readCount(cursor, "graph node")
	if err != nil {
		return err
	}

	for range count {
		leafRef, readErr := cursor.ReadInt32()
		if readErr != nil {
			return readErr
		}

		decisionRef, readErr := cursor.ReadInt32()
		if readErr != nil {
			return readErr
		}

		builder.AddGraphNode(GraphNode{Leaf: DecodeRef(leafRef), Decision: DecodeRef(decisionRef)})
	}

	return nil
}
