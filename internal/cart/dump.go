package cart

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const dumpSeparator = "----------------"

// Dump writes a readable listing of a tree: the node counts, one line per decision node
// with its test and child ids, then one line per non-empty leaf. Ids follow the numbering
// of WriteCART, so decision nodes are negative and leaves are written as "id<n>".
func (g *Graph) Dump(w io.Writer) error {
	plan := treePlan{graph: g, decisions: nil, leaves: nil}

	_, err := plan.visit(g.root)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(w)

	fmt.Fprintf(out, "Num decision nodes= %d  Num leaf nodes= %d\n", len(plan.decisions), len(plan.leaves))

	for index, node := range plan.decisions {
		var line strings.Builder

		line.WriteString(strconv.Itoa(-(index + 1)))
		line.WriteByte(' ')
		line.WriteString(g.nodeDefinition(node))

		for _, child := range node.Children {
			line.WriteByte(' ')
			line.WriteString(dumpRef(child))
		}

		fmt.Fprintln(out, line.String())
	}

	fmt.Fprintf(out, "\n%s\n\n", dumpSeparator)

	for index, leaf := range plan.leaves {
		fmt.Fprintf(out, "id%d %s\n", index+1, dumpLeaf(leaf))
	}

	return out.Flush()
}

func dumpRef(ref Ref) string {
	switch {
	case ref.IsNull():
		return "id0"
	case ref.Kind() == KindDecision:
		return strconv.Itoa(-(ref.Index() + 1))
	default:
		return "id" + strconv.Itoa(ref.Index()+1)
	}
}

// nodeDefinition renders the test of a decision node the way the textual tree format
// spells it.
func (g *Graph) nodeDefinition(node *DecisionNode) string {
	name, _ := g.def.Name(node.Feature)

	switch node.Type {
	case BinaryByte, BinaryShort:
		return name + " is " + g.valueString(node.Feature, node.Criterion)
	case BinaryFloat:
		return name + " < " + formatFloat(node.Threshold)
	case MultiByte:
		return name + " isByteOf " + strconv.Itoa(len(node.Children))
	default:
		return name + " isShortOf " + strconv.Itoa(len(node.Children))
	}
}

func dumpLeaf(leaf *Leaf) string {
	var line strings.Builder

	line.WriteString(leaf.Type.String())

	switch leaf.Type {
	case IntArray:
		fmt.Fprintf(&line, " %d", len(leaf.Indices))

		for _, index := range leaf.Indices {
			fmt.Fprintf(&line, " %d", index)
		}
	case Float:
		fmt.Fprintf(&line, " 1 %s %s", formatFloat(leaf.StdDev), formatFloat(leaf.Mean))
	case IntAndFloatArray, StringAndFloat:
		fmt.Fprintf(&line, " %d", len(leaf.Indices))

		for i, index := range leaf.Indices {
			fmt.Fprintf(&line, " %d %s", index, formatFloat(leaf.Probabilities[i]))
		}
	case FeatureVectorLeaf:
		fmt.Fprintf(&line, " %d", len(leaf.Vectors))

		for _, vector := range leaf.Vectors {
			fmt.Fprintf(&line, " %d", vector.UnitIndex)
		}
	case Pdf:
		if leaf.Pdf != nil {
			fmt.Fprintf(&line, " %d", len(leaf.Pdf.Mean))
		}
	}

	return line.String()
}

func formatFloat(value float32) string {
	return strconv.FormatFloat(float64(value), 'g', -1, 32)
}
