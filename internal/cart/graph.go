// Package cart loads, evaluates and writes classification and regression trees and the
// directed decision graphs that generalize them. Nodes live in three flat arrays addressed
// by tagged references, and a loaded Graph is immutable and safe for concurrent use.
package cart

import (
	"fmt"
	"strconv"

	"github.com/book-expert/voice-model-service/internal/features"
)

// Graph is a loaded decision graph.
type Graph struct {
	def            *features.Definition
	props          Properties
	decisions      []DecisionNode
	leaves         []Leaf
	graphNodes     []GraphNode
	decisionCounts []int
	graphCounts    []int
	root           Ref
}

// Root returns the entry node, or NullRef for an empty graph.
func (g *Graph) Root() Ref {
	return g.root
}

// Features returns the feature definition the graph was built against.
func (g *Graph) Features() *features.Definition {
	return g.def
}

// Properties returns the graph metadata; nil when the file carried none.
func (g *Graph) Properties() Properties {
	return g.props
}

// NumDecisionNodes returns the size of the decision node array.
func (g *Graph) NumDecisionNodes() int {
	return len(g.decisions)
}

// NumLeaves returns the size of the leaf array.
func (g *Graph) NumLeaves() int {
	return len(g.leaves)
}

// NumGraphNodes returns the size of the graph node array.
func (g *Graph) NumGraphNodes() int {
	return len(g.graphNodes)
}

// Leaf returns the leaf referenced by ref.
func (g *Graph) Leaf(ref Ref) (*Leaf, error) {
	if ref.IsNull() || ref.Kind() != KindLeaf || ref.Index() >= len(g.leaves) {
		return nil, fmt.Errorf("%w: %s is not a leaf of this graph", ErrReferenceOutOfRange, ref)
	}

	return &g.leaves[ref.Index()], nil
}

// Decision returns the decision node referenced by ref.
func (g *Graph) Decision(ref Ref) (*DecisionNode, error) {
	if ref.IsNull() || ref.Kind() != KindDecision || ref.Index() >= len(g.decisions) {
		return nil, fmt.Errorf("%w: %s is not a decision node of this graph", ErrReferenceOutOfRange, ref)
	}

	return &g.decisions[ref.Index()], nil
}

// GraphNode returns the graph node referenced by ref.
func (g *Graph) GraphNode(ref Ref) (*GraphNode, error) {
	if ref.IsNull() || ref.Kind() != KindGraph || ref.Index() >= len(g.graphNodes) {
		return nil, fmt.Errorf("%w: %s is not a graph node of this graph", ErrReferenceOutOfRange, ref)
	}

	return &g.graphNodes[ref.Index()], nil
}

// NumData returns the number of data items at or below ref. Null edges hold none.
func (g *Graph) NumData(ref Ref) int {
	if ref.IsNull() {
		return 0
	}

	switch ref.Kind() {
	case KindLeaf:
		return g.leaves[ref.Index()].NumData()
	case KindDecision:
		return g.decisionCounts[ref.Index()]
	default:
		return g.graphCounts[ref.Index()]
	}
}

// Next applies one decision node to a vector and returns the selected child edge.
func (g *Graph) Next(node *DecisionNode, vector features.Vector) (Ref, error) {
	child, err := g.childIndex(node, vector)
	if err != nil {
		return NullRef, err
	}

	return node.Children[child], nil
}

func (g *Graph) childIndex(node *DecisionNode, vector features.Vector) (int, error) {
	switch node.Type {
	case BinaryByte, BinaryShort:
		value, err := vector.Discrete(node.Feature)
		if err != nil {
			return 0, fmt.Errorf("failed to read feature %d: %w", node.Feature, err)
		}

		if value == node.Criterion {
			return 0, nil
		}

		return 1, nil
	case BinaryFloat:
		value, err := vector.Float(node.Feature)
		if err != nil {
			return 0, fmt.Errorf("failed to read feature %d: %w", node.Feature, err)
		}

		if value < node.Threshold {
			return 0, nil
		}

		return 1, nil
	case MultiByte, MultiShort:
		value, err := vector.Discrete(node.Feature)
		if err != nil {
			return 0, fmt.Errorf("failed to read feature %d: %w", node.Feature, err)
		}

		if value < 0 || value >= len(node.Children) {
			return 0, fmt.Errorf("%w: value %d for feature %d, node has %d children",
				ErrFeatureValueOutOfRange, value, node.Feature, len(node.Children))
		}

		return value, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownNodeType, node.Type)
	}
}

// Evaluate walks the graph from the root and returns the leaf reached, or NullRef when a
// null edge is reached.
func (g *Graph) Evaluate(vector features.Vector) (Ref, error) {
	return g.interpret(g.root, vector)
}

// EvaluateLeaf is Evaluate followed by Leaf; a null result yields a nil leaf.
func (g *Graph) EvaluateLeaf(vector features.Vector) (*Leaf, error) {
	ref, err := g.Evaluate(vector)
	if err != nil || ref.IsNull() {
		return nil, err
	}

	return g.Leaf(ref)
}

// interpret descends from ref. A graph node tries its decision edge first and falls back
// to its leaf edge when that yields null.
func (g *Graph) interpret(ref Ref, vector features.Vector) (Ref, error) {
	for {
		if ref.IsNull() {
			return NullRef, nil
		}

		switch ref.Kind() {
		case KindLeaf:
			return ref, nil
		case KindDecision:
			next, err := g.Next(&g.decisions[ref.Index()], vector)
			if err != nil {
				return NullRef, err
			}

			ref = next
		default:
			node := g.graphNodes[ref.Index()]

			result, err := g.interpret(node.Decision, vector)
			if err != nil || !result.IsNull() {
				return result, err
			}

			ref = node.Leaf
		}
	}
}

// InterpretToNode descends while the current node holds more than minData items and is
// not a leaf. When it reaches a null edge, or a node with fewer than minData items, it
// backs up to the last decision node visited.
func (g *Graph) InterpretToNode(vector features.Vector, minData int) (Ref, error) {
	return g.interpretToNode(g.root, vector, minData)
}

func (g *Graph) interpretToNode(start Ref, vector features.Vector, minData int) (Ref, error) {
	current := start
	previous := NullRef

	for !current.IsNull() && current.Kind() != KindLeaf && g.NumData(current) > minData {
		if current.Kind() == KindGraph {
			node := g.graphNodes[current.Index()]

			result, err := g.interpretToNode(node.Decision, vector, minData)
			if err != nil {
				return NullRef, err
			}

			if result.IsNull() {
				result, err = g.interpretToNode(node.Leaf, vector, minData)
			}

			return result, err
		}

		next, err := g.Next(&g.decisions[current.Index()], vector)
		if err != nil {
			return NullRef, err
		}

		previous = current
		current = next
	}

	if current.IsNull() || (g.NumData(current) < minData && !previous.IsNull()) {
		current = previous
	}

	return current, nil
}

// AllIndices concatenates the indices of every int-array family leaf at or below ref, in
// child order. Graph nodes contribute their decision edge, then their leaf edge.
func (g *Graph) AllIndices(ref Ref) []int32 {
	var out []int32

	var collect func(node Ref)

	collect = func(node Ref) {
		if node.IsNull() {
			return
		}

		switch node.Kind() {
		case KindLeaf:
			leaf := &g.leaves[node.Index()]
			switch leaf.Type {
			case IntArray, IntAndFloatArray, StringAndFloat:
				out = append(out, leaf.Indices...)
			}
		case KindDecision:
			for _, child := range g.decisions[node.Index()].Children {
				collect(child)
			}
		default:
			collect(g.graphNodes[node.Index()].Decision)
			collect(g.graphNodes[node.Index()].Leaf)
		}
	}

	collect(ref)

	return out
}

// Path evaluates vector like Evaluate and also returns the tests taken on the way, such
// as "phone==a", "stress!=1" or "duration>=0.12".
func (g *Graph) Path(vector features.Vector) ([]string, Ref, error) {
	var steps []string

	var walk func(ref Ref) (Ref, error)

	walk = func(ref Ref) (Ref, error) {
		for !ref.IsNull() {
			switch ref.Kind() {
			case KindLeaf:
				return ref, nil
			case KindDecision:
				node := &g.decisions[ref.Index()]

				child, err := g.childIndex(node, vector)
				if err != nil {
					return NullRef, err
				}

				steps = append(steps, g.describeBranch(node, child))
				ref = node.Children[child]
			default:
				node := g.graphNodes[ref.Index()]

				result, err := walk(node.Decision)
				if err != nil || !result.IsNull() {
					return result, err
				}

				ref = node.Leaf
			}
		}

		return NullRef, nil
	}

	leaf, err := walk(g.root)
	if err != nil {
		return nil, NullRef, err
	}

	return steps, leaf, nil
}

func (g *Graph) describeBranch(node *DecisionNode, child int) string {
	name, _ := g.def.Name(node.Feature)

	switch node.Type {
	case BinaryByte, BinaryShort:
		operator := "=="
		if child != 0 {
			operator = "!="
		}

		return name + operator + g.valueString(node.Feature, node.Criterion)
	case BinaryFloat:
		operator := "<"
		if child != 0 {
			operator = ">="
		}

		return name + operator + strconv.FormatFloat(float64(node.Threshold), 'g', -1, 32)
	default:
		return name + "==" + g.valueString(node.Feature, child)
	}
}

func (g *Graph) valueString(feature, code int) string {
	value, err := g.def.ValueString(feature, code)
	if err != nil {
		return strconv.Itoa(code)
	}

	return value
}
