package cart_test

import (
	"strings"
	"testing"

	"github.com/book-expert/voice-model-service/internal/cart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wagonProbabilityTree = `;; trained on the sample corpus
((phone is a)
 ((((1 0.5) (2 0.25)) 0))
 ((duration < 0.5)
  ((word isShortOf 3)
   ((((5 0.2) (6 0.7)) 0))
   ((() 0))
   ((((7 1)) 0)))

  ((((8 inf) (9 nan)) 0))))
`

func TestReadWagon_ProbabilityTree(t *testing.T) {
	t.Parallel()

	graph, err := cart.ReadWagon(strings.NewReader(wagonProbabilityTree), newDefinition(t), cart.IntAndFloatArray)
	require.NoError(t, err)

	assert.Equal(t, 3, graph.NumDecisionNodes())
	assert.Equal(t, 5, graph.NumLeaves())

	testCases := []struct {
		name          string
		phone         uint8
		word          int16
		duration      float32
		indices       []int32
		probabilities []float32
	}{
		{name: "root yes", phone: phoneA, word: wordNone, duration: 0, indices: []int32{1, 2}, probabilities: []float32{0.5, 0.25}},
		{name: "short word none", phone: phoneE, word: wordNone, duration: 0.1, indices: []int32{5, 6}, probabilities: []float32{0.2, 0.7}},
		{name: "empty leaf", phone: phoneE, word: wordHello, duration: 0.1, indices: []int32{}, probabilities: []float32{}},
		{name: "short word world", phone: phoneE, word: wordWorld, duration: 0.1, indices: []int32{7}, probabilities: []float32{1}},
		{name: "long with sentinels", phone: phoneE, word: wordNone, duration: 0.9, indices: []int32{8, 9}, probabilities: []float32{1000000, -1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			leaf, err := graph.EvaluateLeaf(vector(tc.phone, 0, tc.word, tc.duration))
			require.NoError(t, err)
			require.NotNil(t, leaf)
			assert.Equal(t, cart.IntAndFloatArray, leaf.Type)
			assert.Equal(t, tc.indices, leaf.Indices)
			assert.Equal(t, tc.probabilities, leaf.Probabilities)
		})
	}
}

func TestReadWagon_InfinityInLastPair(t *testing.T) {
	t.Parallel()

	text := "((stressed is 1)\n((((1 0.5) (2 inf)) 0))\n((((3 1)) 0)))\n"

	graph, err := cart.ReadWagon(strings.NewReader(text), newDefinition(t), cart.StringAndFloat)
	require.NoError(t, err)

	leaf, err := graph.EvaluateLeaf(vector(phoneA, 1, wordNone, 0))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 10000}, leaf.Probabilities)
	assert.Equal(t, 2, leaf.MostProbableInt())
}

func TestReadWagon_FloatLeaves(t *testing.T) {
	t.Parallel()

	text := "((duration < 0.5)\n((0.5 2.5))\n((nan 1.25)))\n"

	graph, err := cart.ReadWagon(strings.NewReader(text), newDefinition(t), cart.Float)
	require.NoError(t, err)

	leaf, err := graph.EvaluateLeaf(vector(phoneA, 0, wordNone, 0.2))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, leaf.StdDev, 1e-6)
	assert.InDelta(t, 2.5, leaf.Mean, 1e-6)

	leaf, err = graph.EvaluateLeaf(vector(phoneA, 0, wordNone, 0.7))
	require.NoError(t, err)
	assert.InDelta(t, 0, leaf.StdDev, 1e-6)
	assert.InDelta(t, 1.25, leaf.Mean, 1e-6)
}

func TestReadWagon_IntArrayLeaves(t *testing.T) {
	t.Parallel()

	text := "((word is \"hello\")\n((((12 0) (13 0)) 0))\n((((14 0)) 0)))\n"

	graph, err := cart.ReadWagon(strings.NewReader(text), newDefinition(t), cart.IntArray)
	require.NoError(t, err)

	node, err := graph.Decision(graph.Root())
	require.NoError(t, err)
	assert.Equal(t, cart.BinaryShort, node.Type)
	assert.Equal(t, int(wordHello), node.Criterion)

	assert.Equal(t, []int32{12, 13, 14}, graph.AllIndices(graph.Root()))
}

func TestReadWagon_SingleLeaf(t *testing.T) {
	t.Parallel()

	graph, err := cart.ReadWagon(strings.NewReader("((((4 0)) 0))\n"), newDefinition(t), cart.IntArray)
	require.NoError(t, err)
	assert.Equal(t, cart.LeafRef(0), graph.Root())
	assert.Equal(t, []int32{4}, graph.AllIndices(graph.Root()))
}

func TestReadWagon_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		text     string
		leafType cart.LeafType
		expected error
	}{
		{
			name:     "line without brackets",
			text:     "phone is a\n",
			leafType: cart.IntArray,
			expected: cart.ErrMalformedLine,
		},
		{
			name:     "unknown operator",
			text:     "((phone matches a)\n",
			leafType: cart.IntArray,
			expected: cart.ErrUnknownNodeType,
		},
		{
			name:     "unclosed node",
			text:     "((phone is a)\n((((1 0)) 0))\n((((2 0)) 0))\n",
			leafType: cart.IntArray,
			expected: cart.ErrBracketMismatch,
		},
		{
			name:     "too many closing brackets",
			text:     "((phone is a)\n((((1 0)) 0))\n((((2 0)) 0))))))\n",
			leafType: cart.IntArray,
			expected: cart.ErrBracketMismatch,
		},
		{
			name:     "unknown feature",
			text:     "((tone is a)\n((((1 0)) 0))\n((((2 0)) 0)))\n",
			leafType: cart.IntArray,
			expected: cart.ErrInconsistentCart,
		},
		{
			name:     "unknown value",
			text:     "((phone is x)\n((((1 0)) 0))\n((((2 0)) 0)))\n",
			leafType: cart.IntArray,
			expected: cart.ErrInconsistentCart,
		},
		{
			name:     "multi-way arity differs from cardinality",
			text:     "((phone isByteOf 3)\n((((1 0)) 0))\n((((2 0)) 0))\n((((3 0)) 0)))\n",
			leafType: cart.IntArray,
			expected: cart.ErrInconsistentCart,
		},
		{
			name:     "too many children",
			text:     "((phone is a)\n((((1 0)) 0))\n((((2 0)) 0))\n((((3 0)) 0)))\n",
			leafType: cart.IntArray,
			expected: cart.ErrInconsistentCart,
		},
		{
			name:     "non-empty feature vector leaf",
			text:     "((((1 0)) 0))\n",
			leafType: cart.FeatureVectorLeaf,
			expected: cart.ErrMalformedLine,
		},
		{
			name:     "pdf leaves",
			text:     "((((1 0)) 0))\n",
			leafType: cart.Pdf,
			expected: cart.ErrUnknownLeafType,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := cart.ReadWagon(strings.NewReader(tc.text), newDefinition(t), tc.leafType)
			require.ErrorIs(t, err, tc.expected)
			require.ErrorIs(t, err, cart.ErrCannotLoad)
		})
	}
}
