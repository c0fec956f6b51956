package cart

import (
	"fmt"

	"github.com/book-expert/voice-model-service/internal/features"
)

// Builder accumulates the node arrays of a graph. Nodes refer to each other by Ref, so
// they may be added in any order and linked before Build validates the whole.
type Builder struct {
	def        *features.Definition
	props      Properties
	decisions  []DecisionNode
	leaves     []Leaf
	graphNodes []GraphNode
}

// NewBuilder returns an empty builder for graphs over def.
func NewBuilder(def *features.Definition) *Builder {
	return &Builder{
		def:        def,
		props:      nil,
		decisions:  nil,
		leaves:     nil,
		graphNodes: nil,
	}
}

// SetProperties attaches metadata to the graph.
func (b *Builder) SetProperties(props Properties) {
	b.props = props
}

// AddDecision appends a decision node. Children may be left null and linked later with
// SetChild; the slice length fixes the node's arity.
func (b *Builder) AddDecision(node DecisionNode) Ref {
	children := make([]Ref, len(node.Children))
	copy(children, node.Children)
	node.Children = children

	b.decisions = append(b.decisions, node)

	return DecisionRef(len(b.decisions) - 1)
}

// AddLeaf appends a leaf.
func (b *Builder) AddLeaf(leaf Leaf) Ref {
	b.leaves = append(b.leaves, leaf)

	return LeafRef(len(b.leaves) - 1)
}

// AddGraphNode appends a graph node.
func (b *Builder) AddGraphNode(node GraphNode) Ref {
	b.graphNodes = append(b.graphNodes, node)

	return GraphRef(len(b.graphNodes) - 1)
}

// SetChild links child as the position-th child of the decision node parent.
func (b *Builder) SetChild(parent Ref, position int, child Ref) error {
	if parent.Kind() != KindDecision || parent.Index() < 0 || parent.Index() >= len(b.decisions) {
		return fmt.Errorf("%w: parent %s", ErrReferenceOutOfRange, parent)
	}

	node := &b.decisions[parent.Index()]
	if position < 0 || position >= len(node.Children) {
		return fmt.Errorf("%w: decision node %d has %d children, cannot set child %d",
			ErrInconsistentCart, parent.Index(), len(node.Children), position)
	}

	node.Children[position] = child

	return nil
}

// Build validates the node arrays and returns the immutable graph. The root is the first
// graph node, else the first decision node, else the first leaf; a graph without nodes has
// a null root.
func (b *Builder) Build() (*Graph, error) {
	graph := &Graph{
		def:            b.def,
		props:          b.props,
		decisions:      b.decisions,
		leaves:         b.leaves,
		graphNodes:     b.graphNodes,
		decisionCounts: make([]int, len(b.decisions)),
		graphCounts:    make([]int, len(b.graphNodes)),
		root:           NullRef,
	}

	b.decisions, b.leaves, b.graphNodes = nil, nil, nil

	err := graph.validate()
	if err != nil {
		return nil, err
	}

	switch {
	case len(graph.graphNodes) > 0:
		graph.root = GraphRef(0)
	case len(graph.decisions) > 0:
		graph.root = DecisionRef(0)
	case len(graph.leaves) > 0:
		graph.root = LeafRef(0)
	}

	err = graph.countData()
	if err != nil {
		return nil, err
	}

	return graph, nil
}

func (g *Graph) validate() error {
	if g.def == nil {
		return fmt.Errorf("%w: missing feature definition", ErrInconsistentCart)
	}

	for index := range g.decisions {
		err := g.validateDecision(index)
		if err != nil {
			return err
		}
	}

	for index, leaf := range g.leaves {
		if leaf.Type < IntArray || leaf.Type > Pdf {
			return fmt.Errorf("%w: leaf %d has type %d", ErrUnknownLeafType, index, leaf.Type)
		}

		if (leaf.Type == IntAndFloatArray || leaf.Type == StringAndFloat) && len(leaf.Indices) != len(leaf.Probabilities) {
			return fmt.Errorf("%w: leaf %d has %d indices but %d probabilities",
				ErrInconsistentCart, index, len(leaf.Indices), len(leaf.Probabilities))
		}
	}

	for index, node := range g.graphNodes {
		err := g.checkRef(node.Leaf)
		if err != nil {
			return fmt.Errorf("graph node %d leaf edge: %w", index, err)
		}

		err = g.checkRef(node.Decision)
		if err != nil {
			return fmt.Errorf("graph node %d decision edge: %w", index, err)
		}

		if !node.Decision.IsNull() && node.Decision.Kind() != KindDecision {
			return fmt.Errorf("%w: graph node %d decision edge points to a %s", ErrInconsistentCart, index, node.Decision.Kind())
		}
	}

	return nil
}

func (g *Graph) validateDecision(index int) error {
	node := &g.decisions[index]

	if !node.Type.valid() {
		return fmt.Errorf("%w: %d at decision node %d", ErrUnknownNodeType, node.Type, index)
	}

	if node.Feature < 0 || node.Feature >= g.def.NumFeatures() {
		return fmt.Errorf("%w: decision node %d tests unknown feature %d", ErrInconsistentCart, index, node.Feature)
	}

	expected, err := g.expectedChildren(node)
	if err != nil {
		return fmt.Errorf("%w: decision node %d: %w", ErrInconsistentCart, index, err)
	}

	if len(node.Children) != expected {
		name, _ := g.def.Name(node.Feature)

		return fmt.Errorf("%w: feature %s should have %d values, but decision node %d has %d child nodes",
			ErrInconsistentCart, name, expected, index, len(node.Children))
	}

	for position, child := range node.Children {
		refErr := g.checkRef(child)
		if refErr != nil {
			return fmt.Errorf("decision node %d child %d: %w", index, position, refErr)
		}
	}

	return nil
}

func (g *Graph) expectedChildren(node *DecisionNode) (int, error) {
	if node.Type.IsBinary() {
		return 2, nil
	}

	return g.def.Cardinality(node.Feature)
}

func (g *Graph) checkRef(ref Ref) error {
	if ref.IsNull() {
		return nil
	}

	var size int

	switch ref.Kind() {
	case KindLeaf:
		size = len(g.leaves)
	case KindDecision:
		size = len(g.decisions)
	case KindGraph:
		size = len(g.graphNodes)
	}

	if ref.Index() >= size {
		return fmt.Errorf("%w: %s, only %d %s nodes", ErrReferenceOutOfRange, ref, size, ref.Kind())
	}

	return nil
}

const (
	unvisited = iota
	visiting
	done
)

// countData computes the data count of every decision and graph node once, bottom-up.
// Shared nodes are counted once per array slot and a cycle is rejected.
func (g *Graph) countData() error {
	decisionState := make([]int, len(g.decisions))
	graphState := make([]int, len(g.graphNodes))

	var visit func(ref Ref) (int, error)

	visit = func(ref Ref) (int, error) {
		if ref.IsNull() {
			return 0, nil
		}

		switch ref.Kind() {
		case KindLeaf:
			return g.leaves[ref.Index()].NumData(), nil
		case KindDecision:
			index := ref.Index()

			switch decisionState[index] {
			case done:
				return g.decisionCounts[index], nil
			case visiting:
				return 0, fmt.Errorf("%w: cycle through decision node %d", ErrInconsistentCart, index)
			}

			decisionState[index] = visiting
			total := 0

			for _, child := range g.decisions[index].Children {
				count, err := visit(child)
				if err != nil {
					return 0, err
				}

				total += count
			}

			decisionState[index] = done
			g.decisionCounts[index] = total

			return total, nil
		default:
			index := ref.Index()

			switch graphState[index] {
			case done:
				return g.graphCounts[index], nil
			case visiting:
				return 0, fmt.Errorf("%w: cycle through graph node %d", ErrInconsistentCart, index)
			}

			graphState[index] = visiting
			node := g.graphNodes[index]
			edge := node.Decision

			if edge.IsNull() {
				edge = node.Leaf
			}

			count, err := visit(edge)
			if err != nil {
				return 0, err
			}

			if !node.Decision.IsNull() && !node.Leaf.IsNull() {
				_, err = visit(node.Leaf)
				if err != nil {
					return 0, err
				}
			}

			graphState[index] = done
			g.graphCounts[index] = count

			return count, nil
		}
	}

	for index := range g.decisions {
		_, err := visit(DecisionRef(index))
		if err != nil {
			return err
		}
	}

	for index := range g.graphNodes {
		_, err := visit(GraphRef(index))
		if err != nil {
			return err
		}
	}

	return nil
}
