package cart

import (
	"fmt"

	"github.com/book-expert/voice-model-service/internal/binio"
)

// WriteCART serializes the graph as a tree file. Nodes are renumbered depth-first from the
// root: decision nodes receive ids -1, -2, ... in pre-order and non-empty leaves 1, 2, ...
// in visiting order, while empty leaves become null edges. Shared subtrees are written
// once per parent. Graph nodes cannot be expressed in a tree file.
func WriteCART(graph *Graph) ([]byte, error) {
	plan := treePlan{graph: graph, decisions: nil, leaves: nil}

	_, err := plan.visit(graph.root)
	if err != nil {
		return nil, err
	}

	writer := binio.NewWriter()
	writeHeader(writer, FileTypeCARTs)

	err = writePreamble(writer, graph)
	if err != nil {
		return nil, err
	}

	writer.WriteInt32(int32(len(plan.decisions)))

	for _, node := range plan.decisions {
		err = writeDecision(writer, node, legacyEncode)
		if err != nil {
			return nil, err
		}
	}

	writer.WriteInt32(int32(len(plan.leaves)))

	for _, leaf := range plan.leaves {
		err = writeLeaf(writer, leaf)
		if err != nil {
			return nil, err
		}
	}

	return writer.Bytes(), nil
}

// WriteDirectedGraph serializes the node arrays as they are, with tagged references.
func WriteDirectedGraph(graph *Graph) ([]byte, error) {
	writer := binio.NewWriter()
	writeHeader(writer, FileTypeDirectedGraph)

	err := writePreamble(writer, graph)
	if err != nil {
		return nil, err
	}

	writer.WriteInt32(int32(len(graph.decisions)))

	for index := range graph.decisions {
		err = writeDecision(writer, &graph.decisions[index], taggedEncode)
		if err != nil {
			return nil, err
		}
	}

	writer.WriteInt32(int32(len(graph.leaves)))

	for index := range graph.leaves {
		err = writeLeaf(writer, &graph.leaves[index])
		if err != nil {
			return nil, err
		}
	}

	writer.WriteInt32(int32(len(graph.graphNodes)))

	for _, node := range graph.graphNodes {
		writer.WriteInt32(node.Leaf.Encode())
		writer.WriteInt32(node.Decision.Encode())
	}

	return writer.Bytes(), nil
}

func taggedEncode(ref Ref) (int32, error) {
	return ref.Encode(), nil
}

func writePreamble(writer *binio.Writer, graph *Graph) error {
	err := writeProperties(writer, graph.props)
	if err != nil {
		return fmt.Errorf("failed to write properties: %w", err)
	}

	err = graph.def.WriteBinary(writer)
	if err != nil {
		return fmt.Errorf("failed to write feature definition: %w", err)
	}

	return nil
}

func writeDecision(writer *binio.Writer, node *DecisionNode, encode func(Ref) (int32, error)) error {
	writer.WriteInt32(int32(node.Feature))
	writer.WriteInt32(int32(node.Type))

	switch node.Type {
	case BinaryByte, BinaryShort:
		writer.WriteInt32(int32(node.Criterion))
	case BinaryFloat:
		writer.WriteFloat32(node.Threshold)
	case MultiByte, MultiShort:
		writer.WriteInt32(int32(len(node.Children)))
	default:
		return fmt.Errorf("%w: %d", ErrUnknownNodeType, node.Type)
	}

	for _, child := range node.Children {
		encoded, err := encode(child)
		if err != nil {
			return err
		}

		writer.WriteInt32(encoded)
	}

	return nil
}

func writeLeaf(writer *binio.Writer, leaf *Leaf) error {
	switch leaf.Type {
	case IntArray:
		writer.WriteInt32(int32(leaf.Type))
		writer.WriteInt32(int32(len(leaf.Indices)))

		for _, index := range leaf.Indices {
			writer.WriteInt32(index)
		}
	case Float:
		writer.WriteInt32(int32(leaf.Type))
		writer.WriteFloat32(leaf.StdDev)
		writer.WriteFloat32(leaf.Mean)
	case IntAndFloatArray, StringAndFloat:
		if len(leaf.Probabilities) != len(leaf.Indices) {
			return fmt.Errorf("%w: %d indices but %d probabilities", ErrInconsistentCart, len(leaf.Indices), len(leaf.Probabilities))
		}

		writer.WriteInt32(int32(leaf.Type))
		writer.WriteInt32(int32(len(leaf.Indices)))

		for i, index := range leaf.Indices {
			writer.WriteInt32(index)
			writer.WriteFloat32(leaf.Probabilities[i])
		}
	default:
		return fmt.Errorf("%w: writing %s leaves is not supported", ErrUnknownLeafType, leaf.Type)
	}

	return nil
}

// treePlan lays out a tree in the order tree files store it.
type treePlan struct {
	graph     *Graph
	decisions []*DecisionNode
	leaves    []*Leaf
}

// visit copies the subtree below ref in storage order and returns the ref of the copy.
func (p *treePlan) visit(ref Ref) (Ref, error) {
	if ref.IsNull() {
		return NullRef, nil
	}

	switch ref.Kind() {
	case KindLeaf:
		leaf := &p.graph.leaves[ref.Index()]
		if leaf.IsEmpty() {
			return NullRef, nil
		}

		p.leaves = append(p.leaves, leaf)

		return LeafRef(len(p.leaves) - 1), nil
	case KindDecision:
		source := &p.graph.decisions[ref.Index()]
		copied := &DecisionNode{
			Type:      source.Type,
			Feature:   source.Feature,
			Criterion: source.Criterion,
			Threshold: source.Threshold,
			Children:  make([]Ref, len(source.Children)),
		}

		p.decisions = append(p.decisions, copied)
		self := DecisionRef(len(p.decisions) - 1)

		for i, child := range source.Children {
			renumbered, err := p.visit(child)
			if err != nil {
				return NullRef, err
			}

			copied.Children[i] = renumbered
		}

		return self, nil
	default:
		return NullRef, fmt.Errorf("%w: graph node %d reachable from the root", ErrNotATree, ref.Index())
	}
}
