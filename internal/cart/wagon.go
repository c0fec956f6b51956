package cart

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/book-expert/voice-model-service/internal/features"
)

// Sentinel probabilities used by textual int-and-float leaves. The last pair of a leaf
// maps "inf" to a smaller value than the other pairs.
const (
	wagonInfLastPair  = 10000
	wagonInfOtherPair = 1000000
	wagonNaN          = -1
)

// wagonParser holds the state of one textual tree: the chain of open decision nodes from
// the root to the node receiving the next child, and the count of open brackets.
type wagonParser struct {
	def          *features.Definition
	leafType     LeafType
	builder      *Builder
	open         []Ref
	filled       map[Ref]int
	openBrackets int
	hasRoot      bool
	lineNo       int
}

// ReadWagon parses a tree in the textual format written by the wagon tree builder: one node
// per line, "((feature op value)" for decisions and leaf lines whose trailing brackets close
// the enclosing decision nodes. Lines starting with ";;" and empty lines are skipped.
func ReadWagon(reader io.Reader, def *features.Definition, leafType LeafType) (*Graph, error) {
	switch leafType {
	case IntArray, Float, IntAndFloatArray, StringAndFloat, FeatureVectorLeaf:
	default:
		return nil, loadError(fmt.Errorf("%w: %s leaves cannot be read from text", ErrUnknownLeafType, leafType))
	}

	parser := &wagonParser{
		def:          def,
		leafType:     leafType,
		builder:      NewBuilder(def),
		open:         nil,
		filled:       make(map[Ref]int),
		openBrackets: 0,
		hasRoot:      false,
		lineNo:       0,
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		parser.lineNo++

		line := scanner.Text()
		if strings.HasPrefix(line, ";;") || strings.TrimSpace(line) == "" {
			continue
		}

		err := parser.parseLine(strings.TrimSpace(line))
		if err != nil {
			return nil, loadError(err)
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return nil, loadError(fmt.Errorf("failed to read tree text: %w", scanErr))
	}

	if parser.openBrackets != 0 {
		return nil, loadError(fmt.Errorf("%w: %d unclosed", ErrBracketMismatch, parser.openBrackets))
	}

	graph, err := parser.builder.Build()
	if err != nil {
		return nil, loadError(err)
	}

	return graph, nil
}

func (p *wagonParser) errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", sentinel, p.lineNo, fmt.Sprintf(format, args...))
}

func (p *wagonParser) parseLine(line string) error {
	if !strings.HasPrefix(line, "((") || len(line) < 3 {
		return p.errorf(ErrMalformedLine, "invalid input line %q", line)
	}

	if isWagonNode(line) {
		return p.addDecision(line)
	}

	return p.addLeaf(line)
}

// isWagonNode distinguishes decision lines from leaves: a decision starts with a feature
// name, while a float leaf may start with "nan ".
func isWagonNode(line string) bool {
	first := []rune(line[2:])[0]
	if !unicode.IsLetter(first) {
		return false
	}

	return !strings.HasPrefix(line[2:], "nan ")
}

func (p *wagonParser) addDecision(line string) error {
	tokens := strings.Fields(line)
	if len(tokens) < 3 {
		return p.errorf(ErrMalformedLine, "decision line needs feature, operator and value: %q", line)
	}

	p.openBrackets++

	featureName := tokens[0][2:]
	operator := tokens[1]
	value := unquoteWagonValue(strings.TrimSuffix(tokens[2], ")"))

	featureIndex, err := p.def.Index(featureName)
	if err != nil {
		return p.errorf(ErrInconsistentCart, "cannot create decision node: %v", err)
	}

	node, err := p.decisionFor(featureIndex, operator, value)
	if err != nil {
		return err
	}

	ref := p.builder.AddDecision(node)

	attachErr := p.attach(ref)
	if attachErr != nil {
		return attachErr
	}

	p.open = append(p.open, ref)

	return nil
}

func unquoteWagonValue(value string) string {
	if len(value) > 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		value = value[1 : len(value)-1]
	}

	return strings.ReplaceAll(value, `\"`, `"`)
}

func (p *wagonParser) decisionFor(featureIndex int, operator, value string) (DecisionNode, error) {
	node := DecisionNode{
		Type:      BinaryByte,
		Feature:   featureIndex,
		Criterion: 0,
		Threshold: 0,
		Children:  make([]Ref, 2),
	}

	switch operator {
	case "is":
		if p.def.IsByte(featureIndex) {
			code, err := p.def.ByteValue(featureIndex, value)
			if err != nil {
				return node, p.errorf(ErrInconsistentCart, "cannot create decision node: %v", err)
			}

			node.Criterion = int(code)

			return node, nil
		}

		code, err := p.def.ShortValue(featureIndex, value)
		if err != nil {
			return node, p.errorf(ErrInconsistentCart, "cannot create decision node: %v", err)
		}

		node.Type = BinaryShort
		node.Criterion = int(code)

		return node, nil
	case "<":
		threshold, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return node, p.errorf(ErrMalformedLine, "bad threshold %q", value)
		}

		node.Type = BinaryFloat
		node.Threshold = float32(threshold)

		return node, nil
	case "isByteOf", "isShortOf":
		count, err := strconv.Atoi(value)
		if err != nil || count < 0 {
			return node, p.errorf(ErrMalformedLine, "bad child count %q", value)
		}

		node.Type = MultiByte
		if operator == "isShortOf" {
			node.Type = MultiShort
		}

		node.Children = make([]Ref, count)

		return node, nil
	default:
		return node, p.errorf(ErrUnknownNodeType, "%q", operator)
	}
}

// attach makes ref the next child of the innermost open decision node, or the root when
// no node is open.
func (p *wagonParser) attach(ref Ref) error {
	if len(p.open) == 0 {
		if p.hasRoot {
			return p.errorf(ErrBracketMismatch, "second root node")
		}

		p.hasRoot = true

		return nil
	}

	parent := p.open[len(p.open)-1]
	position := p.filled[parent]

	err := p.builder.SetChild(parent, position, ref)
	if err != nil {
		return p.errorf(ErrInconsistentCart, "%v", err)
	}

	p.filled[parent] = position + 1

	return nil
}

func (p *wagonParser) addLeaf(line string) error {
	tokens := strings.Fields(line)

	leaf, err := p.parseLeaf(tokens)
	if err != nil {
		return err
	}

	ref := p.builder.AddLeaf(leaf)

	attachErr := p.attach(ref)
	if attachErr != nil {
		return attachErr
	}

	return p.closeBrackets(line, tokens[len(tokens)-1])
}

// closeBrackets consumes the brackets after the leaf's own "))": each extra ')' closes
// the innermost open decision node.
func (p *wagonParser) closeBrackets(line, lastToken string) error {
	start := strings.IndexByte(lastToken, ')') + 2
	if start < 2 {
		return p.errorf(ErrMalformedLine, "leaf without closing bracket %q", line)
	}

	for index := start; index < len(lastToken); index++ {
		if lastToken[index] != ')' {
			return p.errorf(ErrMalformedLine, "expected closing bracket in %q, found %q", line, lastToken[index])
		}

		p.openBrackets--

		if len(p.open) <= 1 {
			if index+1 != len(lastToken) {
				return p.errorf(ErrBracketMismatch, "too many closing brackets in %q", line)
			}

			continue
		}

		p.open = p.open[:len(p.open)-1]
	}

	return nil
}

func (p *wagonParser) parseLeaf(tokens []string) (Leaf, error) {
	switch p.leafType {
	case IntArray:
		indices, err := p.parseLeafIndices(tokens)

		return Leaf{Type: IntArray, Indices: indices}, err
	case IntAndFloatArray, StringAndFloat:
		indices, probabilities, err := p.parseLeafPairs(tokens)

		return Leaf{Type: p.leafType, Indices: indices, Probabilities: probabilities}, err
	case Float:
		return p.parseFloatLeaf(tokens)
	default:
		if len(tokens) != 2 {
			return Leaf{}, p.errorf(ErrMalformedLine, "feature vector leaf is not empty")
		}

		return Leaf{Type: FeatureVectorLeaf}, nil
	}
}

// leafPairToken strips the leading brackets of the first token of a pair: four on the
// first pair of the leaf, one on the others.
func leafPairToken(token string, pair int) string {
	skip := 1
	if pair == 0 {
		skip = 4
	}

	if len(token) < skip {
		return ""
	}

	return token[skip:]
}

func (p *wagonParser) parseLeafIndices(tokens []string) ([]int32, error) {
	if len(tokens) == 2 {
		return []int32{}, nil
	}

	count := (len(tokens) - 1) / 2
	indices := make([]int32, count)

	for pair := range count {
		text := leafPairToken(tokens[2*pair], pair)

		value, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, p.errorf(ErrMalformedLine, "bad index %q", text)
		}

		indices[pair] = int32(value)
	}

	return indices, nil
}

func (p *wagonParser) parseLeafPairs(tokens []string) ([]int32, []float32, error) {
	if len(tokens) == 2 {
		return []int32{}, []float32{}, nil
	}

	count := (len(tokens) - 1) / 2
	indices := make([]int32, count)
	probabilities := make([]float32, count)

	for pair := range count {
		text := leafPairToken(tokens[2*pair], pair)

		value, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, nil, p.errorf(ErrMalformedLine, "bad index %q", text)
		}

		indices[pair] = int32(value)

		probability, err := p.parseProbability(tokens[2*pair+1], 2*pair == len(tokens)-3)
		if err != nil {
			return nil, nil, err
		}

		probabilities[pair] = probability
	}

	return indices, probabilities, nil
}

func (p *wagonParser) parseProbability(token string, lastPair bool) (float32, error) {
	trim, inf := 1, float32(wagonInfOtherPair)
	if lastPair {
		trim, inf = 2, float32(wagonInfLastPair)
	}

	if len(token) < trim {
		return 0, p.errorf(ErrMalformedLine, "bad probability %q", token)
	}

	text := token[:len(token)-trim]

	switch text {
	case "inf":
		return inf, nil
	case "nan":
		return wagonNaN, nil
	}

	value, err := strconv.ParseFloat(text, 32)
	if err != nil {
		return 0, p.errorf(ErrMalformedLine, "bad probability %q", text)
	}

	return float32(value), nil
}

// parseFloatLeaf reads "((stddev mean))".
func (p *wagonParser) parseFloatLeaf(tokens []string) (Leaf, error) {
	if len(tokens) != 2 {
		return Leaf{}, p.errorf(ErrMalformedLine, "expected two tokens in float leaf, got %d", len(tokens))
	}

	meanText, _, _ := strings.Cut(tokens[1], ")")

	return Leaf{Type: Float, StdDev: wagonFloat(tokens[0][2:]), Mean: wagonFloat(meanText)}, nil
}

// wagonFloat parses a float leaf value; "nan" and anything unparsable read as 0.
func wagonFloat(text string) float32 {
	value, err := strconv.ParseFloat(text, 32)
	if err != nil || math.IsNaN(value) {
		return 0
	}

	return float32(value)
}
