package binio

import (
	"errors"
	"fmt"
	"unicode/utf16"
)

// maxUTFLength is the largest byte length representable by the 16-bit prefix.
const maxUTFLength = 0xFFFF

var (
	// ErrMalformedUTF indicates bytes that are not valid modified UTF-8.
	ErrMalformedUTF = errors.New("binio: malformed modified UTF-8")
	// ErrStringTooLong indicates a string whose encoding exceeds 65535 bytes.
	ErrStringTooLong = errors.New("binio: encoded string exceeds 65535 bytes")
)

// decodeModifiedUTF8 turns Java modified UTF-8 into a Go string. Supplementary characters
// arrive as surrogate pairs of 3-byte sequences and NUL arrives as 0xC0 0x80.
func decodeModifiedUTF8(data []byte) (string, error) {
	units := make([]uint16, 0, len(data))

	for i := 0; i < len(data); {
		first := data[i]

		switch {
		case first&0x80 == 0:
			units = append(units, uint16(first))
			i++
		case first&0xE0 == 0xC0:
			if i+1 >= len(data) || data[i+1]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w: bad 2-byte sequence", ErrMalformedUTF)
			}

			units = append(units, uint16(first&0x1F)<<6|uint16(data[i+1]&0x3F))
			i += 2
		case first&0xF0 == 0xE0:
			if i+2 >= len(data) || data[i+1]&0xC0 != 0x80 || data[i+2]&0xC0 != 0x80 {
				return "", fmt.Errorf("%w: bad 3-byte sequence", ErrMalformedUTF)
			}

			units = append(units, uint16(first&0x0F)<<12|uint16(data[i+1]&0x3F)<<6|uint16(data[i+2]&0x3F))
			i += 3
		default:
			return "", fmt.Errorf("%w: unexpected lead byte 0x%02X", ErrMalformedUTF, first)
		}
	}

	return string(utf16.Decode(units)), nil
}

// encodeModifiedUTF8 is the inverse of decodeModifiedUTF8.
func encodeModifiedUTF8(text string) ([]byte, error) {
	units := utf16.Encode([]rune(text))
	out := make([]byte, 0, len(units))

	for _, unit := range units {
		switch {
		case unit >= 0x0001 && unit <= 0x007F:
			out = append(out, byte(unit))
		case unit <= 0x07FF:
			out = append(out, byte(0xC0|(unit>>6)&0x1F), byte(0x80|unit&0x3F))
		default:
			out = append(out, byte(0xE0|(unit>>12)&0x0F), byte(0x80|(unit>>6)&0x3F), byte(0x80|unit&0x3F))
		}
	}

	if len(out) > maxUTFLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(out))
	}

	return out, nil
}
