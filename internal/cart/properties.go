package cart

import (
	"bufio"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/book-expert/voice-model-service/internal/binio"
	"golang.org/x/text/encoding/charmap"
)

// Properties holds the optional key/value metadata stored ahead of the feature definition.
type Properties map[string]string

// Get returns the value for key, or fallback when it is absent.
func (p Properties) Get(key, fallback string) string {
	value, ok := p[key]
	if !ok {
		return fallback
	}

	return value
}

// readProperties reads the int16-prefixed property block. A zero length means no
// properties and yields nil.
func readProperties(cursor *binio.Cursor) (Properties, error) {
	length, err := cursor.ReadInt16()
	if err != nil {
		return nil, err
	}

	if length < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrMalformedProperties, length)
	}

	if length == 0 {
		return nil, nil
	}

	block, err := cursor.ReadBytes(int(length))
	if err != nil {
		return nil, err
	}

	return parseProperties(block)
}

func writeProperties(writer *binio.Writer, props Properties) error {
	if len(props) == 0 {
		writer.WriteInt16(0)

		return nil
	}

	block, err := formatProperties(props)
	if err != nil {
		return err
	}

	if len(block) > math.MaxInt16 {
		return fmt.Errorf("%w: %d bytes exceed the block limit", ErrMalformedProperties, len(block))
	}

	writer.WriteInt16(int16(len(block)))
	writer.WriteBytes(block)

	return nil
}

// parseProperties decodes Java .properties text. The block is ISO-8859-1 with \uXXXX
// escapes for everything else.
func parseProperties(block []byte) (Properties, error) {
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedProperties, err)
	}

	props := make(Properties)
	scanner := bufio.NewScanner(strings.NewReader(string(decoded)))

	var logical strings.Builder

	for scanner.Scan() {
		line := strings.TrimLeft(scanner.Text(), " \t\f")

		if logical.Len() == 0 && (line == "" || line[0] == '#' || line[0] == '!') {
			continue
		}

		if continuesOnNextLine(line) {
			logical.WriteString(line[:len(line)-1])

			continue
		}

		logical.WriteString(line)

		parseErr := addProperty(props, logical.String())
		if parseErr != nil {
			return nil, parseErr
		}

		logical.Reset()
	}

	if logical.Len() > 0 {
		parseErr := addProperty(props, logical.String())
		if parseErr != nil {
			return nil, parseErr
		}
	}

	return props, nil
}

// continuesOnNextLine reports whether the line ends in an odd number of backslashes.
func continuesOnNextLine(line string) bool {
	count := 0
	for i := len(line) - 1; i >= 0 && line[i] == '\\'; i-- {
		count++
	}

	return count%2 == 1
}

func addProperty(props Properties, line string) error {
	keyEnd := len(line)

	for i := 0; i < len(line); i++ {
		if line[i] == '\\' {
			i++

			continue
		}

		if line[i] == '=' || line[i] == ':' || line[i] == ' ' || line[i] == '\t' || line[i] == '\f' {
			keyEnd = i

			break
		}
	}

	rest := strings.TrimLeft(line[keyEnd:], " \t\f")
	if rest != "" && (rest[0] == '=' || rest[0] == ':') {
		rest = strings.TrimLeft(rest[1:], " \t\f")
	}

	key, err := unescapeProperty(line[:keyEnd])
	if err != nil {
		return err
	}

	value, err := unescapeProperty(rest)
	if err != nil {
		return err
	}

	props[key] = value

	return nil
}

func unescapeProperty(text string) (string, error) {
	if !strings.Contains(text, `\`) {
		return text, nil
	}

	runes := []rune(text)
	units := make([]uint16, 0, len(runes))

	for i := 0; i < len(runes); i++ {
		if runes[i] != '\\' || i+1 == len(runes) {
			units = append(units, utf16.Encode(runes[i:i+1])...)

			continue
		}

		i++

		switch runes[i] {
		case 't':
			units = append(units, '\t')
		case 'n':
			units = append(units, '\n')
		case 'r':
			units = append(units, '\r')
		case 'f':
			units = append(units, '\f')
		case 'u':
			if i+4 >= len(runes) {
				return "", fmt.Errorf("%w: truncated \\u escape", ErrMalformedProperties)
			}

			code, err := strconv.ParseUint(string(runes[i+1:i+5]), 16, 16)
			if err != nil {
				return "", fmt.Errorf("%w: bad \\u escape", ErrMalformedProperties)
			}

			units = append(units, uint16(code))
			i += 4
		default:
			units = append(units, utf16.Encode(runes[i:i+1])...)
		}
	}

	return string(utf16.Decode(units)), nil
}

// formatProperties renders the properties sorted by key, escaping everything outside
// printable ASCII.
func formatProperties(props Properties) ([]byte, error) {
	var text strings.Builder

	for _, key := range slices.Sorted(maps.Keys(props)) {
		text.WriteString(escapeProperty(key, true))
		text.WriteByte('=')
		text.WriteString(escapeProperty(props[key], false))
		text.WriteByte('\n')
	}

	encoded, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(text.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedProperties, err)
	}

	return encoded, nil
}

func escapeProperty(text string, isKey bool) string {
	var out strings.Builder

	for i, r := range text {
		switch {
		case r == '\\' || r == '=' || r == ':' || r == '#' || r == '!':
			out.WriteByte('\\')
			out.WriteRune(r)
		case r == ' ' && (isKey || i == 0):
			out.WriteString(`\ `)
		case r == '\t':
			out.WriteString(`\t`)
		case r == '\n':
			out.WriteString(`\n`)
		case r == '\r':
			out.WriteString(`\r`)
		case r == '\f':
			out.WriteString(`\f`)
		case r < 0x20 || r > 0x7E:
			for _, unit := range utf16.Encode([]rune{r}) {
				fmt.Fprintf(&out, `\u%04X`, unit)
			}
		default:
			out.WriteRune(r)
		}
	}

	return out.String()
}
