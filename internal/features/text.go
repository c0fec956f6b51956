package features

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Section headers of the text format.
const (
	ByteSectionHeader       = "ByteValuedFeatureProcessors"
	ShortSectionHeader      = "ShortValuedFeatureProcessors"
	ContinuousSectionHeader = "ContinuousFeatureProcessors"
	SimilaritySectionHeader = "FeatureSimilarity"
)

const (
	weightSeparator      = "|"
	continuousTypeSuffix = "float"
)

type lineSource struct {
	scanner *bufio.Scanner
	lineNo  int
}

func (s *lineSource) next() (string, bool) {
	if !s.scanner.Scan() {
		return "", false
	}

	s.lineNo++

	return s.scanner.Text(), true
}

func (s *lineSource) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformedDefinition, s.lineNo, fmt.Sprintf(format, args...))
}

// ParseText reads the text form of a feature definition. When readWeights is set every
// feature line carries a "weight |" prefix (continuous features: "weight function |") and
// the weights are normalized to sum to one.
func ParseText(reader io.Reader, readWeights bool) (*Definition, error) {
	source := &lineSource{scanner: bufio.NewScanner(reader), lineNo: 0}

	header, ok := source.next()
	for ok && isSkippablePreamble(header) {
		header, ok = source.next()
	}

	if !ok {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedDefinition)
	}

	if strings.TrimSpace(header) != ByteSectionHeader {
		return nil, source.errorf("expected %q, read %q", ByteSectionHeader, header)
	}

	byteLines, err := collectSection(source, ShortSectionHeader)
	if err != nil {
		return nil, err
	}

	shortLines, err := collectSection(source, ContinuousSectionHeader)
	if err != nil {
		return nil, err
	}

	continuousLines, hasSimilarity := collectContinuous(source)

	byteFeatures, err := parseDiscreteLines(source, byteLines, readWeights)
	if err != nil {
		return nil, err
	}

	shortFeatures, err := parseDiscreteLines(source, shortLines, readWeights)
	if err != nil {
		return nil, err
	}

	continuous, err := parseContinuousLines(source, continuousLines, readWeights)
	if err != nil {
		return nil, err
	}

	if readWeights {
		normalizeWeights(byteFeatures, shortFeatures, continuous)
	}

	def, err := New(byteFeatures, shortFeatures, continuous)
	if err != nil {
		return nil, err
	}

	if hasSimilarity {
		err = def.readSimilarity(source)
		if err != nil {
			return nil, err
		}
	}

	scanErr := source.scanner.Err()
	if scanErr != nil {
		return nil, fmt.Errorf("failed to read feature definition: %w", scanErr)
	}

	return def, nil
}

func isSkippablePreamble(line string) bool {
	trimmed := strings.TrimSpace(line)

	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

func collectSection(source *lineSource, terminator string) ([]string, error) {
	var lines []string

	for {
		line, ok := source.next()
		if !ok {
			return nil, source.errorf("unexpected end of input before %q", terminator)
		}

		line = strings.TrimSpace(line)
		if line == terminator {
			return lines, nil
		}

		if line != "" {
			lines = append(lines, line)
		}
	}
}

// collectContinuous reads up to end of input, an empty line or the similarity header.
func collectContinuous(source *lineSource) ([]string, bool) {
	var lines []string

	for {
		line, ok := source.next()
		if !ok {
			return lines, false
		}

		line = strings.TrimSpace(line)

		switch line {
		case SimilaritySectionHeader:
			return lines, true
		case "":
			return lines, false
		}

		lines = append(lines, line)
	}
}

func splitWeight(source *lineSource, line string) (string, string, error) {
	weightDef, featureDef, found := strings.Cut(line, weightSeparator)
	if !found {
		return "", "", source.errorf("weight separator %q not found in %q", weightSeparator, line)
	}

	return strings.TrimSpace(weightDef), strings.TrimSpace(featureDef), nil
}

func parseWeight(source *lineSource, text, line string) (float32, error) {
	weight, err := strconv.ParseFloat(text, 32)
	if err != nil {
		return 0, source.errorf("bad weight %q in %q", text, line)
	}

	if weight < 0 {
		return 0, source.errorf("negative weight found in %q", line)
	}

	return float32(weight), nil
}

func parseDiscreteLines(source *lineSource, lines []string, readWeights bool) ([]Discrete, error) {
	section := make([]Discrete, 0, len(lines))

	for _, line := range lines {
		featureDef := line

		var weight float32

		if readWeights {
			weightDef, def, err := splitWeight(source, line)
			if err != nil {
				return nil, err
			}

			weight, err = parseWeight(source, weightDef, line)
			if err != nil {
				return nil, err
			}

			featureDef = def
		}

		fields := strings.Fields(featureDef)
		if len(fields) < 2 {
			return nil, source.errorf("feature without values: %q", line)
		}

		section = append(section, Discrete{Name: fields[0], Weight: weight, Values: fields[1:]})
	}

	return section, nil
}

func parseContinuousLines(source *lineSource, lines []string, readWeights bool) ([]Continuous, error) {
	section := make([]Continuous, 0, len(lines))

	for _, line := range lines {
		featureDef := line
		weightFunction := ""

		var weight float32

		if readWeights {
			weightDef, def, err := splitWeight(source, line)
			if err != nil {
				return nil, err
			}

			weightAndFunction := strings.Fields(weightDef)
			if len(weightAndFunction) < 2 {
				return nil, source.errorf("badly formed weight plus weighting function %q", weightDef)
			}

			weight, err = parseWeight(source, weightAndFunction[0], line)
			if err != nil {
				return nil, err
			}

			weightFunction = strings.Join(weightAndFunction[1:], " ")
			featureDef = def
		}

		name := featureDef
		if strings.HasSuffix(featureDef, continuousTypeSuffix) {
			if fields := strings.Fields(featureDef); len(fields) > 1 {
				name = fields[0]
			}
		}

		section = append(section, Continuous{Name: name, Weight: weight, WeightFunction: weightFunction})
	}

	return section, nil
}

func normalizeWeights(byteFeatures, shortFeatures []Discrete, continuous []Continuous) {
	var sum float32

	for _, feature := range byteFeatures {
		sum += feature.Weight
	}

	for _, feature := range shortFeatures {
		sum += feature.Weight
	}

	for _, feature := range continuous {
		sum += feature.Weight
	}

	if sum == 0 {
		return
	}

	for i := range byteFeatures {
		byteFeatures[i].Weight /= sum
	}

	for i := range shortFeatures {
		shortFeatures[i].Weight /= sum
	}

	for i := range continuous {
		continuous[i].Weight /= sum
	}
}

// readSimilarity parses lower-triangular similarity matrices of byte-valued features. Each
// block starts with "feature v1 ... vn" followed by n rows "vi s1 ... s(i-1)".
func (d *Definition) readSimilarity(source *lineSource) error {
	d.similarity = make(map[int][][]float32)

	for {
		line, ok := source.next()
		if !ok || line == "" {
			return nil
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			return nil
		}

		index, err := d.Index(fields[0])
		if err != nil {
			return source.errorf("similarity matrix for unknown feature %q", fields[0])
		}

		if !d.IsByte(index) {
			return source.errorf("similarity matrices are supported for byte-valued features only, not %q", fields[0])
		}

		values := fields[1:]
		matrix := make([][]float32, len(values))

		for i := range matrix {
			matrix[i] = make([]float32, len(values))
		}

		for i, value := range values {
			row, rowOK := source.next()
			if !rowOK {
				return source.errorf("unexpected end of similarity matrix for %q", fields[0])
			}

			cells := strings.Fields(row)
			if len(cells) != i+1 || cells[0] != value {
				return source.errorf("unexpected similarity row %q", row)
			}

			for j := 1; j <= i; j++ {
				similarity, parseErr := strconv.ParseFloat(cells[j], 32)
				if parseErr != nil {
					return source.errorf("bad similarity %q", cells[j])
				}

				matrix[i][j-1] = float32(similarity)
				matrix[j-1][i] = float32(similarity)
			}
		}

		d.similarity[index] = matrix
	}
}

// WriteText writes the definition in the format read by ParseText.
func (d *Definition) WriteText(out io.Writer, withWeights bool) error {
	buffered := bufio.NewWriter(out)

	fmt.Fprintln(buffered, ByteSectionHeader)

	for index := range d.numByte {
		d.writeDiscreteLine(buffered, index, withWeights)
	}

	fmt.Fprintln(buffered, ShortSectionHeader)

	for index := d.numByte; index < d.numByte+d.numShort; index++ {
		d.writeDiscreteLine(buffered, index, withWeights)
	}

	fmt.Fprintln(buffered, ContinuousSectionHeader)

	for index := d.numByte + d.numShort; index < len(d.names); index++ {
		if withWeights {
			fmt.Fprintf(buffered, "%s %s | ", formatWeight(d.weights[index]), d.WeightFunction(index))
		}

		fmt.Fprintln(buffered, d.names[index])
	}

	flushErr := buffered.Flush()
	if flushErr != nil {
		return fmt.Errorf("failed to write feature definition: %w", flushErr)
	}

	return nil
}

func (d *Definition) writeDiscreteLine(out *bufio.Writer, index int, withWeights bool) {
	if withWeights {
		fmt.Fprintf(out, "%s | ", formatWeight(d.weights[index]))
	}

	fmt.Fprintf(out, "%s %s\n", d.names[index], strings.Join(d.discrete[index].values, " "))
}

func formatWeight(weight float32) string {
	return strconv.FormatFloat(float64(weight), 'g', -1, 32)
}
