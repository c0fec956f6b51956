package features

import (
	"fmt"
	"strconv"
	"strings"
)

// Vector holds one unit's feature values, partitioned by kind and addressed by global
// feature index.
type Vector struct {
	Bytes     []uint8
	Shorts    []int16
	Floats    []float32
	UnitIndex int
}

// Len returns the number of features in the vector.
func (v Vector) Len() int {
	return len(v.Bytes) + len(v.Shorts) + len(v.Floats)
}

// Discrete returns the numeric code of a byte-valued or short-valued feature.
func (v Vector) Discrete(index int) (int, error) {
	switch {
	case index < 0:
		return 0, fmt.Errorf("%w: %d", ErrFeatureIndexOutOfRange, index)
	case index < len(v.Bytes):
		return int(v.Bytes[index]), nil
	case index < len(v.Bytes)+len(v.Shorts):
		return int(v.Shorts[index-len(v.Bytes)]), nil
	case index < v.Len():
		return 0, fmt.Errorf("%w: %d", ErrNotDiscrete, index)
	default:
		return 0, fmt.Errorf("%w: %d", ErrFeatureIndexOutOfRange, index)
	}
}

// Float returns the value of any feature as a float. Discrete codes are returned as
// their numeric value.
func (v Vector) Float(index int) (float32, error) {
	continuousStart := len(v.Bytes) + len(v.Shorts)
	if index >= continuousStart && index < v.Len() {
		return v.Floats[index-continuousStart], nil
	}

	code, err := v.Discrete(index)
	if err != nil {
		return 0, err
	}

	return float32(code), nil
}

// NullVector returns a vector with every discrete feature set to NullValue, or to code 0
// when NullValue is not in its vocabulary, and every continuous feature set to 0.
func (d *Definition) NullVector(unitIndex int) Vector {
	vector := Vector{
		Bytes:     make([]uint8, d.numByte),
		Shorts:    make([]int16, d.numShort),
		Floats:    make([]float32, d.NumContinuousFeatures()),
		UnitIndex: unitIndex,
	}

	for index := range d.numByte {
		vector.Bytes[index] = uint8(d.nullCode(index))
	}

	for i := range d.numShort {
		vector.Shorts[i] = int16(d.nullCode(d.numByte + i))
	}

	return vector
}

func (d *Definition) nullCode(index int) int {
	code, ok := d.discrete[index].codes[NullValue]
	if !ok {
		return 0
	}

	return code
}

// VectorFromValues builds a vector from symbolic values keyed by feature name. Features
// absent from values keep their null value. Continuous values are parsed as floats.
func (d *Definition) VectorFromValues(unitIndex int, values map[string]string) (Vector, error) {
	vector := d.NullVector(unitIndex)

	for name, value := range values {
		index, err := d.Index(name)
		if err != nil {
			return Vector{}, err
		}

		switch {
		case d.IsByte(index):
			code, codeErr := d.ByteValue(index, value)
			if codeErr != nil {
				return Vector{}, codeErr
			}

			vector.Bytes[index] = code
		case d.IsShort(index):
			code, codeErr := d.ShortValue(index, value)
			if codeErr != nil {
				return Vector{}, codeErr
			}

			vector.Shorts[index-d.numByte] = code
		default:
			number, parseErr := strconv.ParseFloat(value, 32)
			if parseErr != nil {
				return Vector{}, fmt.Errorf("%w: %q for continuous feature %s", ErrIllegalValue, value, name)
			}

			vector.Floats[index-d.numByte-d.numShort] = float32(number)
		}
	}

	return vector, nil
}

// ParseVector builds a vector from a whitespace-separated line of numeric codes, one per
// feature in index order.
func (d *Definition) ParseVector(unitIndex int, line string) (Vector, error) {
	fields := strings.Fields(line)
	if len(fields) != len(d.names) {
		return Vector{}, fmt.Errorf("%w: expected %d features, got %d", ErrIllegalValue, len(d.names), len(fields))
	}

	vector := Vector{
		Bytes:     make([]uint8, d.numByte),
		Shorts:    make([]int16, d.numShort),
		Floats:    make([]float32, d.NumContinuousFeatures()),
		UnitIndex: unitIndex,
	}

	for index, field := range fields {
		switch {
		case d.IsByte(index):
			code, err := strconv.ParseUint(field, 10, 8)
			if err != nil {
				return Vector{}, fmt.Errorf("%w: byte code %q", ErrIllegalValue, field)
			}

			vector.Bytes[index] = uint8(code)
		case d.IsShort(index):
			code, err := strconv.ParseInt(field, 10, 16)
			if err != nil {
				return Vector{}, fmt.Errorf("%w: short code %q", ErrIllegalValue, field)
			}

			vector.Shorts[index-d.numByte] = int16(code)
		default:
			number, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return Vector{}, fmt.Errorf("%w: float %q", ErrIllegalValue, field)
			}

			vector.Floats[index-d.numByte-d.numShort] = float32(number)
		}
	}

	return vector, nil
}

// FeatureString renders a vector as space-separated symbolic values.
func (d *Definition) FeatureString(vector Vector) (string, error) {
	if len(vector.Bytes) != d.numByte || len(vector.Shorts) != d.numShort || len(vector.Floats) != d.NumContinuousFeatures() {
		return "", fmt.Errorf("%w: vector shape does not match definition", ErrIllegalValue)
	}

	parts := make([]string, 0, len(d.names))

	for index := range d.numByte + d.numShort {
		code, _ := vector.Discrete(index)

		value, err := d.ValueString(index, code)
		if err != nil {
			return "", err
		}

		parts = append(parts, value)
	}

	for _, number := range vector.Floats {
		parts = append(parts, strconv.FormatFloat(float64(number), 'g', -1, 32))
	}

	return strings.Join(parts, " "), nil
}
