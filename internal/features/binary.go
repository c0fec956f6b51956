package features

import (
	"fmt"

	"github.com/book-expert/voice-model-service/internal/binio"
)

const (
	errReadByteSection       = "failed to read byte-valued features: %w"
	errReadShortSection      = "failed to read short-valued features: %w"
	errReadContinuousSection = "failed to read continuous features: %w"
)

// ReadBinary decodes a definition from its binary layout: three sections, each an int32
// count followed by the features of that kind. Weights are stored already normalized.
func ReadBinary(cursor *binio.Cursor) (*Definition, error) {
	byteFeatures, err := readDiscreteSection(cursor, true)
	if err != nil {
		return nil, fmt.Errorf(errReadByteSection, err)
	}

	shortFeatures, err := readDiscreteSection(cursor, false)
	if err != nil {
		return nil, fmt.Errorf(errReadShortSection, err)
	}

	continuous, err := readContinuousSection(cursor)
	if err != nil {
		return nil, fmt.Errorf(errReadContinuousSection, err)
	}

	return New(byteFeatures, shortFeatures, continuous)
}

func readCount(cursor *binio.Cursor) (int, error) {
	count, err := cursor.ReadInt32()
	if err != nil {
		return 0, err
	}

	if count < 0 {
		return 0, fmt.Errorf("%w: negative feature count %d", ErrMalformedDefinition, count)
	}

	return int(count), nil
}

func readDiscreteSection(cursor *binio.Cursor, byteValued bool) ([]Discrete, error) {
	count, err := readCount(cursor)
	if err != nil {
		return nil, err
	}

	section := make([]Discrete, 0, count)

	for range count {
		weight, weightErr := cursor.ReadFloat32()
		if weightErr != nil {
			return nil, weightErr
		}

		name, nameErr := cursor.ReadUTF()
		if nameErr != nil {
			return nil, nameErr
		}

		numValues, countErr := readValueCount(cursor, byteValued)
		if countErr != nil {
			return nil, countErr
		}

		values := make([]string, numValues)
		for i := range values {
			value, valueErr := cursor.ReadUTF()
			if valueErr != nil {
				return nil, valueErr
			}

			values[i] = value
		}

		section = append(section, Discrete{Name: name, Weight: weight, Values: values})
	}

	return section, nil
}

// readValueCount reads the vocabulary size, an unsigned byte for byte-valued features and
// an int16 for short-valued ones.
func readValueCount(cursor *binio.Cursor, byteValued bool) (int, error) {
	if byteValued {
		count, err := cursor.ReadUint8()

		return int(count), err
	}

	count, err := cursor.ReadInt16()
	if err != nil {
		return 0, err
	}

	if count < 0 {
		return 0, fmt.Errorf("%w: negative value count %d", ErrMalformedDefinition, count)
	}

	return int(count), nil
}

func readContinuousSection(cursor *binio.Cursor) ([]Continuous, error) {
	count, err := readCount(cursor)
	if err != nil {
		return nil, err
	}

	section := make([]Continuous, 0, count)

	for range count {
		weight, weightErr := cursor.ReadFloat32()
		if weightErr != nil {
			return nil, weightErr
		}

		weightFunction, functionErr := cursor.ReadUTF()
		if functionErr != nil {
			return nil, functionErr
		}

		name, nameErr := cursor.ReadUTF()
		if nameErr != nil {
			return nil, nameErr
		}

		section = append(section, Continuous{Name: name, Weight: weight, WeightFunction: weightFunction})
	}

	return section, nil
}

// WriteBinary encodes the definition in the layout read by ReadBinary.
func (d *Definition) WriteBinary(writer *binio.Writer) error {
	writer.WriteInt32(int32(d.numByte))

	for index := range d.numByte {
		err := d.writeDiscrete(writer, index, true)
		if err != nil {
			return err
		}
	}

	writer.WriteInt32(int32(d.numShort))

	for index := d.numByte; index < d.numByte+d.numShort; index++ {
		err := d.writeDiscrete(writer, index, false)
		if err != nil {
			return err
		}
	}

	writer.WriteInt32(int32(d.NumContinuousFeatures()))

	for index := d.numByte + d.numShort; index < len(d.names); index++ {
		writer.WriteFloat32(d.weights[index])

		err := writer.WriteUTF(d.WeightFunction(index))
		if err != nil {
			return err
		}

		err = writer.WriteUTF(d.names[index])
		if err != nil {
			return err
		}
	}

	return nil
}

func (d *Definition) writeDiscrete(writer *binio.Writer, index int, byteValued bool) error {
	writer.WriteFloat32(d.weights[index])

	err := writer.WriteUTF(d.names[index])
	if err != nil {
		return err
	}

	values := d.discrete[index].values
	if byteValued {
		writer.WriteUint8(uint8(len(values)))
	} else {
		writer.WriteInt16(int16(len(values)))
	}

	for _, value := range values {
		err = writer.WriteUTF(value)
		if err != nil {
			return err
		}
	}

	return nil
}
