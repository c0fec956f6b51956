// Package features provides the feature definition shared by every node of a decision graph:
// the names, kinds and value vocabularies of byte-valued, short-valued and continuous
// features, plus the feature vectors evaluated against it.
package features

import (
	"errors"
	"fmt"
)

// NullValue is the symbolic value used when a discrete feature has no value.
const NullValue = "0"

const (
	maxByteValues  = 255
	maxShortValues = 1<<15 - 1
)

var (
	// ErrUnknownFeature indicates a feature name that is not part of the definition.
	ErrUnknownFeature = errors.New("features: unknown feature")
	// ErrFeatureIndexOutOfRange indicates a feature index outside the definition.
	ErrFeatureIndexOutOfRange = errors.New("features: feature index out of range")
	// ErrNotDiscrete indicates a value lookup on a continuous feature.
	ErrNotDiscrete = errors.New("features: feature is not byte-valued or short-valued")
	// ErrIllegalValue indicates a value outside a discrete feature's vocabulary.
	ErrIllegalValue = errors.New("features: illegal feature value")
	// ErrMalformedDefinition indicates a feature definition that cannot be parsed.
	ErrMalformedDefinition = errors.New("features: malformed feature definition")
)

// Kind classifies a feature by the storage of its values.
type Kind int

// Feature kinds, in the order their indices are assigned.
const (
	KindByte Kind = iota
	KindShort
	KindContinuous
)

func (k Kind) String() string {
	switch k {
	case KindByte:
		return "byte"
	case KindShort:
		return "short"
	case KindContinuous:
		return "continuous"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Discrete describes a byte-valued or short-valued feature. The position of a value in
// Values is its numeric code.
type Discrete struct {
	Name   string
	Weight float32
	Values []string
}

// Continuous describes a float-valued feature.
type Continuous struct {
	Name           string
	Weight         float32
	WeightFunction string
}

type discreteFeature struct {
	values []string
	codes  map[string]int
}

// Definition is an immutable feature schema. Feature indices are global: byte-valued
// features first, then short-valued, then continuous.
type Definition struct {
	names           []string
	weights         []float32
	weightFunctions []string
	discrete        []discreteFeature
	byName          map[string]int
	numByte         int
	numShort        int
	similarity      map[int][][]float32
}

// New builds a definition from its three feature lists.
func New(byteFeatures, shortFeatures []Discrete, continuous []Continuous) (*Definition, error) {
	total := len(byteFeatures) + len(shortFeatures) + len(continuous)
	def := &Definition{
		names:           make([]string, 0, total),
		weights:         make([]float32, 0, total),
		weightFunctions: make([]string, 0, len(continuous)),
		discrete:        make([]discreteFeature, 0, len(byteFeatures)+len(shortFeatures)),
		byName:          make(map[string]int, total),
		numByte:         len(byteFeatures),
		numShort:        len(shortFeatures),
		similarity:      nil,
	}

	for _, feature := range byteFeatures {
		if len(feature.Values) > maxByteValues {
			return nil, fmt.Errorf("%w: byte feature %q has %d values", ErrMalformedDefinition, feature.Name, len(feature.Values))
		}

		addErr := def.addDiscrete(feature)
		if addErr != nil {
			return nil, addErr
		}
	}

	for _, feature := range shortFeatures {
		if len(feature.Values) > maxShortValues {
			return nil, fmt.Errorf("%w: short feature %q has %d values", ErrMalformedDefinition, feature.Name, len(feature.Values))
		}

		addErr := def.addDiscrete(feature)
		if addErr != nil {
			return nil, addErr
		}
	}

	for _, feature := range continuous {
		addErr := def.addName(feature.Name, feature.Weight)
		if addErr != nil {
			return nil, addErr
		}

		def.weightFunctions = append(def.weightFunctions, feature.WeightFunction)
	}

	return def, nil
}

func (d *Definition) addName(name string, weight float32) error {
	if name == "" {
		return fmt.Errorf("%w: empty feature name", ErrMalformedDefinition)
	}

	if _, exists := d.byName[name]; exists {
		return fmt.Errorf("%w: duplicate feature %q", ErrMalformedDefinition, name)
	}

	d.byName[name] = len(d.names)
	d.names = append(d.names, name)
	d.weights = append(d.weights, weight)

	return nil
}

func (d *Definition) addDiscrete(feature Discrete) error {
	addErr := d.addName(feature.Name, feature.Weight)
	if addErr != nil {
		return addErr
	}

	values := make([]string, len(feature.Values))
	copy(values, feature.Values)

	codes := make(map[string]int, len(values))
	for code, value := range values {
		if _, seen := codes[value]; !seen {
			codes[value] = code
		}
	}

	d.discrete = append(d.discrete, discreteFeature{values: values, codes: codes})

	return nil
}

// NumFeatures returns the total number of features.
func (d *Definition) NumFeatures() int {
	return len(d.names)
}

// NumByteFeatures returns the number of byte-valued features.
func (d *Definition) NumByteFeatures() int {
	return d.numByte
}

// NumShortFeatures returns the number of short-valued features.
func (d *Definition) NumShortFeatures() int {
	return d.numShort
}

// NumContinuousFeatures returns the number of continuous features.
func (d *Definition) NumContinuousFeatures() int {
	return len(d.names) - d.numByte - d.numShort
}

// Kind reports the kind of the feature at index.
func (d *Definition) Kind(index int) (Kind, error) {
	switch {
	case index < 0 || index >= len(d.names):
		return 0, fmt.Errorf("%w: %d", ErrFeatureIndexOutOfRange, index)
	case index < d.numByte:
		return KindByte, nil
	case index < d.numByte+d.numShort:
		return KindShort, nil
	default:
		return KindContinuous, nil
	}
}

// IsByte reports whether index names a byte-valued feature.
func (d *Definition) IsByte(index int) bool {
	return index >= 0 && index < d.numByte
}

// IsShort reports whether index names a short-valued feature.
func (d *Definition) IsShort(index int) bool {
	return index >= d.numByte && index < d.numByte+d.numShort
}

// IsContinuous reports whether index names a continuous feature.
func (d *Definition) IsContinuous(index int) bool {
	return index >= d.numByte+d.numShort && index < len(d.names)
}

// Name returns the feature name at index.
func (d *Definition) Name(index int) (string, error) {
	if index < 0 || index >= len(d.names) {
		return "", fmt.Errorf("%w: %d", ErrFeatureIndexOutOfRange, index)
	}

	return d.names[index], nil
}

// Names returns all feature names in index order.
func (d *Definition) Names() []string {
	names := make([]string, len(d.names))
	copy(names, d.names)

	return names
}

// Index returns the global index of the named feature.
func (d *Definition) Index(name string) (int, error) {
	index, ok := d.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
	}

	return index, nil
}

// Has reports whether the named feature exists.
func (d *Definition) Has(name string) bool {
	_, ok := d.byName[name]

	return ok
}

// Weight returns the normalized weight of the feature at index.
func (d *Definition) Weight(index int) float32 {
	if index < 0 || index >= len(d.weights) {
		return 0
	}

	return d.weights[index]
}

// WeightFunction returns the weighting function name of a continuous feature.
func (d *Definition) WeightFunction(index int) string {
	if !d.IsContinuous(index) {
		return ""
	}

	return d.weightFunctions[index-d.numByte-d.numShort]
}

func (d *Definition) discreteAt(index int) (*discreteFeature, error) {
	if index < 0 || index >= len(d.names) {
		return nil, fmt.Errorf("%w: %d", ErrFeatureIndexOutOfRange, index)
	}

	if index >= d.numByte+d.numShort {
		return nil, fmt.Errorf("%w: %s", ErrNotDiscrete, d.names[index])
	}

	return &d.discrete[index], nil
}

// Cardinality returns the number of values of a byte-valued or short-valued feature.
func (d *Definition) Cardinality(index int) (int, error) {
	feature, err := d.discreteAt(index)
	if err != nil {
		return 0, err
	}

	return len(feature.values), nil
}

// Values returns the value vocabulary of a discrete feature, in code order.
func (d *Definition) Values(index int) ([]string, error) {
	feature, err := d.discreteAt(index)
	if err != nil {
		return nil, err
	}

	values := make([]string, len(feature.values))
	copy(values, feature.values)

	return values, nil
}

// ValueString translates a discrete value code into its symbolic value.
func (d *Definition) ValueString(index, code int) (string, error) {
	feature, err := d.discreteAt(index)
	if err != nil {
		return "", err
	}

	if code < 0 || code >= len(feature.values) {
		return "", fmt.Errorf("%w: code %d for feature %s", ErrIllegalValue, code, d.names[index])
	}

	return feature.values[code], nil
}

// Code translates a symbolic value of a discrete feature into its numeric code.
func (d *Definition) Code(index int, value string) (int, error) {
	feature, err := d.discreteAt(index)
	if err != nil {
		return 0, err
	}

	code, ok := feature.codes[value]
	if !ok {
		return 0, fmt.Errorf("%w: %q for feature %s", ErrIllegalValue, value, d.names[index])
	}

	return code, nil
}

// ByteValue translates a symbolic value of a byte-valued feature.
func (d *Definition) ByteValue(index int, value string) (uint8, error) {
	if !d.IsByte(index) {
		return 0, fmt.Errorf("%w: %d is not a byte-valued feature", ErrFeatureIndexOutOfRange, index)
	}

	code, err := d.Code(index, value)
	if err != nil {
		return 0, err
	}

	return uint8(code), nil
}

// ShortValue translates a symbolic value of a short-valued feature.
func (d *Definition) ShortValue(index int, value string) (int16, error) {
	if !d.IsShort(index) {
		return 0, fmt.Errorf("%w: %d is not a short-valued feature", ErrFeatureIndexOutOfRange, index)
	}

	code, err := d.Code(index, value)
	if err != nil {
		return 0, err
	}

	return int16(code), nil
}

// Similarity returns the similarity of two values of a byte-valued feature, when the
// definition carries a similarity matrix for it.
func (d *Definition) Similarity(index, a, b int) (float32, bool) {
	matrix, ok := d.similarity[index]
	if !ok || a < 0 || b < 0 || a >= len(matrix) || b >= len(matrix) {
		return 0, false
	}

	return matrix[a][b], true
}

// Equal reports whether two definitions have the same features and vocabularies.
// Weights are not compared.
func (d *Definition) Equal(other *Definition) bool {
	if other == nil || d.numByte != other.numByte || d.numShort != other.numShort || len(d.names) != len(other.names) {
		return false
	}

	for i, name := range d.names {
		if other.names[i] != name {
			return false
		}
	}

	for i, feature := range d.discrete {
		if len(feature.values) != len(other.discrete[i].values) {
			return false
		}

		for code, value := range feature.values {
			if other.discrete[i].values[code] != value {
				return false
			}
		}
	}

	return true
}
