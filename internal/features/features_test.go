// Package features_test tests feature definitions and vectors.
package features_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/book-expert/voice-model-service/internal/binio"
	"github.com/book-expert/voice-model-service/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weightedDefinition = `# generated by the feature maker
# second comment

ByteValuedFeatureProcessors
2 | phone 0 a e i
1 | stressed 0 1
ShortValuedFeatureProcessors
1 | word 0 hello world
ContinuousFeatureProcessors
4 linear | duration float
`

func newTestDefinition(t *testing.T) *features.Definition {
	t.Helper()

	def, err := features.New(
		[]features.Discrete{
			{Name: "phone", Weight: 0.25, Values: []string{"0", "a", "e", "i"}},
			{Name: "stressed", Weight: 0.125, Values: []string{"0", "1"}},
		},
		[]features.Discrete{
			{Name: "word", Weight: 0.125, Values: []string{"0", "hello", "world"}},
		},
		[]features.Continuous{
			{Name: "duration", Weight: 0.5, WeightFunction: "linear"},
		},
	)
	require.NoError(t, err)

	return def
}

func TestDefinition_IndicesAreGlobal(t *testing.T) {
	t.Parallel()

	def := newTestDefinition(t)

	assert.Equal(t, 4, def.NumFeatures())
	assert.Equal(t, 2, def.NumByteFeatures())
	assert.Equal(t, 1, def.NumShortFeatures())
	assert.Equal(t, 1, def.NumContinuousFeatures())

	index, err := def.Index("word")
	require.NoError(t, err)
	assert.Equal(t, 2, index)
	assert.True(t, def.IsShort(index))
	assert.False(t, def.IsByte(index))

	kind, err := def.Kind(3)
	require.NoError(t, err)
	assert.Equal(t, features.KindContinuous, kind)
	assert.Equal(t, "linear", def.WeightFunction(3))

	_, err = def.Index("nosuch")
	require.ErrorIs(t, err, features.ErrUnknownFeature)

	_, err = def.Name(7)
	require.ErrorIs(t, err, features.ErrFeatureIndexOutOfRange)
}

func TestDefinition_ValueTranslation(t *testing.T) {
	t.Parallel()

	def := newTestDefinition(t)

	cardinality, err := def.Cardinality(0)
	require.NoError(t, err)
	assert.Equal(t, 4, cardinality)

	code, err := def.ByteValue(0, "e")
	require.NoError(t, err)
	assert.Equal(t, uint8(2), code)

	short, err := def.ShortValue(2, "world")
	require.NoError(t, err)
	assert.Equal(t, int16(2), short)

	value, err := def.ValueString(2, 1)
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	_, err = def.ByteValue(0, "zz")
	require.ErrorIs(t, err, features.ErrIllegalValue)

	_, err = def.Cardinality(3)
	require.ErrorIs(t, err, features.ErrNotDiscrete)
}

func TestDefinition_BinaryRoundTrip(t *testing.T) {
	t.Parallel()

	def := newTestDefinition(t)

	writer := binio.NewWriter()
	require.NoError(t, def.WriteBinary(writer))

	decoded, err := features.ReadBinary(binio.NewCursor(writer.Bytes()))
	require.NoError(t, err)

	assert.True(t, def.Equal(decoded))
	assert.InDelta(t, 0.5, decoded.Weight(3), 1e-6)
	assert.Equal(t, "linear", decoded.WeightFunction(3))
}

func TestReadBinary_ByteCountIsUnsigned(t *testing.T) {
	t.Parallel()

	values := make([]string, 200)
	for i := range values {
		values[i] = fmt.Sprintf("v%d", i)
	}

	def, err := features.New([]features.Discrete{{Name: "big", Weight: 1, Values: values}}, nil, nil)
	require.NoError(t, err)

	writer := binio.NewWriter()
	require.NoError(t, def.WriteBinary(writer))

	decoded, err := features.ReadBinary(binio.NewCursor(writer.Bytes()))
	require.NoError(t, err)

	cardinality, err := decoded.Cardinality(0)
	require.NoError(t, err)
	assert.Equal(t, 200, cardinality)
}

func TestReadBinary_Truncated(t *testing.T) {
	t.Parallel()

	writer := binio.NewWriter()
	require.NoError(t, newTestDefinition(t).WriteBinary(writer))

	truncated := writer.Bytes()[:writer.Len()-3]

	_, err := features.ReadBinary(binio.NewCursor(truncated))
	require.ErrorIs(t, err, binio.ErrUnexpectedEOF)
}

func TestParseText_WithWeights(t *testing.T) {
	t.Parallel()

	def, err := features.ParseText(strings.NewReader(weightedDefinition), true)
	require.NoError(t, err)

	assert.Equal(t, []string{"phone", "stressed", "word", "duration"}, def.Names())
	assert.InDelta(t, 0.25, def.Weight(0), 1e-6)
	assert.InDelta(t, 0.125, def.Weight(1), 1e-6)
	assert.InDelta(t, 0.5, def.Weight(3), 1e-6)
	assert.Equal(t, "linear", def.WeightFunction(3))
	assert.True(t, def.Equal(newTestDefinition(t)))
}

func TestParseText_WithoutWeights(t *testing.T) {
	t.Parallel()

	input := "ByteValuedFeatureProcessors\nphone 0 a\nShortValuedFeatureProcessors\nContinuousFeatureProcessors\nf0\n"

	def, err := features.ParseText(strings.NewReader(input), false)
	require.NoError(t, err)

	assert.Equal(t, 1, def.NumByteFeatures())
	assert.Equal(t, 0, def.NumShortFeatures())
	assert.Equal(t, []string{"phone", "f0"}, def.Names())
}

func TestParseText_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing header":    "phone 0 a\n",
		"missing separator": "ByteValuedFeatureProcessors\nphone 0 a\nShortValuedFeatureProcessors\nContinuousFeatureProcessors\n",
		"negative weight":   "ByteValuedFeatureProcessors\n-1 | phone 0 a\nShortValuedFeatureProcessors\nContinuousFeatureProcessors\n",
		"truncated":         "ByteValuedFeatureProcessors\n1 | phone 0 a\n",
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := features.ParseText(strings.NewReader(input), true)
			require.ErrorIs(t, err, features.ErrMalformedDefinition)
		})
	}
}

func TestParseText_Similarity(t *testing.T) {
	t.Parallel()

	input := "ByteValuedFeatureProcessors\nphone 0 a e\nShortValuedFeatureProcessors\nContinuousFeatureProcessors\n" +
		"FeatureSimilarity\nphone 0 a e\n0\na 0.1\ne 0.2 0.9\n"

	def, err := features.ParseText(strings.NewReader(input), false)
	require.NoError(t, err)

	similarity, ok := def.Similarity(0, 1, 2)
	require.True(t, ok)
	assert.InDelta(t, 0.9, similarity, 1e-6)

	mirrored, ok := def.Similarity(0, 2, 1)
	require.True(t, ok)
	assert.InDelta(t, 0.9, mirrored, 1e-6)
}

func TestDefinition_TextRoundTrip(t *testing.T) {
	t.Parallel()

	def := newTestDefinition(t)

	var buffer bytes.Buffer
	require.NoError(t, def.WriteText(&buffer, true))

	decoded, err := features.ParseText(&buffer, true)
	require.NoError(t, err)

	assert.True(t, def.Equal(decoded))
	assert.InDelta(t, def.Weight(0), decoded.Weight(0), 1e-6)
}

func TestVectorFromValues(t *testing.T) {
	t.Parallel()

	def := newTestDefinition(t)

	vector, err := def.VectorFromValues(7, map[string]string{"phone": "i", "word": "hello", "duration": "0.08"})
	require.NoError(t, err)

	assert.Equal(t, 7, vector.UnitIndex)
	assert.Equal(t, []uint8{3, 0}, vector.Bytes)
	assert.Equal(t, []int16{1}, vector.Shorts)

	code, err := vector.Discrete(2)
	require.NoError(t, err)
	assert.Equal(t, 1, code)

	duration, err := vector.Float(3)
	require.NoError(t, err)
	assert.InDelta(t, 0.08, duration, 1e-6)

	pseudo, err := vector.Float(0)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, pseudo, 1e-9)

	_, err = vector.Discrete(3)
	require.ErrorIs(t, err, features.ErrNotDiscrete)

	_, err = def.VectorFromValues(0, map[string]string{"phone": "q"})
	require.ErrorIs(t, err, features.ErrIllegalValue)

	_, err = def.VectorFromValues(0, map[string]string{"tone": "H"})
	require.ErrorIs(t, err, features.ErrUnknownFeature)
}

func TestParseVectorAndFeatureString(t *testing.T) {
	t.Parallel()

	def := newTestDefinition(t)

	vector, err := def.ParseVector(0, "2 1 2 0.5")
	require.NoError(t, err)

	rendered, err := def.FeatureString(vector)
	require.NoError(t, err)
	assert.Equal(t, "e 1 world 0.5", rendered)

	_, err = def.ParseVector(0, "2 1")
	require.ErrorIs(t, err, features.ErrIllegalValue)
}
