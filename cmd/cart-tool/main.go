// Command cart-tool inspects and converts decision graph files and renders harmonic model
// signal documents offline.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-model-service/internal/audio"
	"github.com/book-expert/voice-model-service/internal/cart"
	"github.com/book-expert/voice-model-service/internal/features"
	"github.com/book-expert/voice-model-service/internal/hnm"
)

// Subcommands.
const (
	cmdDump       = "dump"
	cmdEvaluate   = "evaluate"
	cmdConvert    = "convert"
	cmdFeatures   = "features"
	cmdSynthesize = "synthesize"
)

// Flag names and descriptions.
const (
	flagIn        = "in"
	flagOut       = "out"
	flagFeatures  = "features"
	flagLeafType  = "leaf-type"
	flagGraph     = "graph"
	flagMinData   = "min-data"
	flagWeights   = "weights"
	flagLogDir    = "log-dir"
	flagBitDepth  = "bit-depth"
	flagNormalize = "normalize"

	flagInDesc        = "Input file"
	flagOutDesc       = "Output file"
	flagFeaturesDesc  = "Text feature definition for the Wagon tree"
	flagLeafTypeDesc  = "Leaf type of the Wagon tree (IntArray, IntAndFloatArray, StringAndFloat, Float, FeatureVector)"
	flagGraphDesc     = "Write a directed graph file instead of a CART file"
	flagMinDataDesc   = "Stop at the deepest node holding at least this many items (-1 evaluates to a leaf)"
	flagWeightsDesc   = "Include feature weights"
	flagLogDirDesc    = "Directory for the log file"
	flagBitDepthDesc  = "Output bit depth"
	flagNormalizeDesc = "Peak-normalize the output"
)

// Error and log messages.
const (
	errUsage            = "usage: cart-tool <dump|evaluate|convert|features|synthesize> [flags]"
	errMissingFlag      = "missing required flag -%s"
	errBadAssignment    = "feature assignment %q must look like name=value"
	errFailedToOpen     = "failed to open %s: %w"
	errFailedToLoad     = "failed to load %s: %w"
	logDumped           = "Dumped %s"
	logEvaluated        = "Evaluated %s"
	logPrintedFeatures  = "Printed features of %s"
	logConverted        = "Converted %s to %s (%d decision nodes, %d leaves)"
	logSynthesized      = "Synthesized %s to %s (%d samples at %d Hz)"
	logFileName         = "cart-tool.log"
	filePermission      = 0o644
	noBacktrackMinData  = -1
	defaultOutputSuffix = ".mry"
)

var (
	// ErrUsage indicates a missing or unknown subcommand.
	ErrUsage = errors.New(errUsage)
	// ErrMissingFlag indicates that a required flag was not given.
	ErrMissingFlag = errors.New("missing required flag")
	// ErrBadAssignment indicates a malformed name=value argument.
	ErrBadAssignment = errors.New("malformed feature assignment")
)

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches a subcommand. Results are written to stdout.
func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}

	command, rest := args[0], args[1:]

	flags := flag.NewFlagSet(command, flag.ContinueOnError)
	logDir := flags.String(flagLogDir, os.TempDir(), flagLogDirDesc)

	var handler func(log *logger.Logger) error

	switch command {
	case cmdDump:
		in := flags.String(flagIn, "", flagInDesc)
		handler = func(log *logger.Logger) error { return dump(log, stdout, *in) }
	case cmdEvaluate:
		in := flags.String(flagIn, "", flagInDesc)
		minData := flags.Int(flagMinData, noBacktrackMinData, flagMinDataDesc)
		handler = func(log *logger.Logger) error { return evaluate(log, stdout, *in, *minData, flags.Args()) }
	case cmdConvert:
		options := convertOptions{}
		flags.StringVar(&options.in, flagIn, "", flagInDesc)
		flags.StringVar(&options.out, flagOut, "", flagOutDesc)
		flags.StringVar(&options.features, flagFeatures, "", flagFeaturesDesc)
		flags.StringVar(&options.leafType, flagLeafType, cart.IntArray.String(), flagLeafTypeDesc)
		flags.BoolVar(&options.graph, flagGraph, false, flagGraphDesc)
		flags.BoolVar(&options.weights, flagWeights, false, flagWeightsDesc)
		handler = func(log *logger.Logger) error { return convert(log, options) }
	case cmdFeatures:
		in := flags.String(flagIn, "", flagInDesc)
		weights := flags.Bool(flagWeights, false, flagWeightsDesc)
		handler = func(log *logger.Logger) error { return printFeatures(log, stdout, *in, *weights) }
	case cmdSynthesize:
		options := synthesizeOptions{}
		flags.StringVar(&options.in, flagIn, "", flagInDesc)
		flags.StringVar(&options.out, flagOut, "", flagOutDesc)
		flags.IntVar(&options.bitDepth, flagBitDepth, audio.DefaultBitDepth, flagBitDepthDesc)
		flags.BoolVar(&options.normalize, flagNormalize, false, flagNormalizeDesc)
		handler = func(log *logger.Logger) error { return synthesize(log, options) }
	default:
		return fmt.Errorf("%w: unknown subcommand %q", ErrUsage, command)
	}

	err := flags.Parse(rest)
	if err != nil {
		return err
	}

	log, err := logger.New(*logDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	err = handler(log)
	if err != nil {
		log.Error("%s failed: %v", command, err)
	}

	return err
}

func requireFlag(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: "+errMissingFlag, ErrMissingFlag, name)
	}

	return nil
}

func loadGraph(path string) (*cart.Graph, error) {
	err := requireFlag(flagIn, path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf(errFailedToOpen, path, err)
	}
	defer file.Close()

	graph, err := cart.Load(file)
	if err != nil {
		return nil, fmt.Errorf(errFailedToLoad, path, err)
	}

	return graph, nil
}

func dump(log *logger.Logger, stdout io.Writer, path string) error {
	graph, err := loadGraph(path)
	if err != nil {
		return err
	}

	err = graph.Dump(stdout)
	if err != nil {
		return err
	}

	log.Info(logDumped, path)

	return nil
}

// evaluate walks the graph with the features given as name=value arguments.
func evaluate(log *logger.Logger, stdout io.Writer, path string, minData int, assignments []string) error {
	graph, err := loadGraph(path)
	if err != nil {
		return err
	}

	values := make(map[string]string, len(assignments))

	for _, assignment := range assignments {
		name, value, ok := strings.Cut(assignment, "=")
		if !ok || name == "" {
			return fmt.Errorf("%w: "+errBadAssignment, ErrBadAssignment, assignment)
		}

		values[name] = value
	}

	vector, err := graph.Features().VectorFromValues(0, values)
	if err != nil {
		return err
	}

	if minData > noBacktrackMinData {
		ref, interpretErr := graph.InterpretToNode(vector, minData)
		if interpretErr != nil {
			return interpretErr
		}

		fmt.Fprintf(stdout, "%s: %d items, indices %v\n", ref, graph.NumData(ref), graph.AllIndices(ref))
		log.Info(logEvaluated, path)

		return nil
	}

	steps, ref, err := graph.Path(vector)
	if err != nil {
		return err
	}

	for _, step := range steps {
		fmt.Fprintln(stdout, step)
	}

	if ref.IsNull() {
		fmt.Fprintln(stdout, "-> no prediction")
	} else {
		leaf, leafErr := graph.Leaf(ref)
		if leafErr != nil {
			return leafErr
		}

		fmt.Fprintf(stdout, "-> %s %s\n", leaf.Type, describeLeaf(leaf))
	}

	log.Info(logEvaluated, path)

	return nil
}

func describeLeaf(leaf *cart.Leaf) string {
	switch leaf.Type {
	case cart.Float:
		return fmt.Sprintf("mean=%g stddev=%g", leaf.Mean, leaf.StdDev)
	case cart.IntAndFloatArray, cart.StringAndFloat:
		return fmt.Sprintf("indices=%v probabilities=%v", leaf.Indices, leaf.Probabilities)
	case cart.IntArray:
		return fmt.Sprintf("indices=%v", leaf.Indices)
	default:
		return leaf.String()
	}
}

type convertOptions struct {
	in       string
	out      string
	features string
	leafType string
	graph    bool
	weights  bool
}

// convert reads a Wagon text tree against a text feature definition and writes it in
// binary form.
func convert(log *logger.Logger, options convertOptions) error {
	for name, value := range map[string]string{flagIn: options.in, flagFeatures: options.features} {
		err := requireFlag(name, value)
		if err != nil {
			return err
		}
	}

	if options.out == "" {
		options.out = strings.TrimSuffix(options.in, ".txt") + defaultOutputSuffix
	}

	leafType, err := cart.ParseLeafType(options.leafType)
	if err != nil {
		return err
	}

	def, err := readFeatureDefinition(options.features, options.weights)
	if err != nil {
		return err
	}

	treeFile, err := os.Open(options.in)
	if err != nil {
		return fmt.Errorf(errFailedToOpen, options.in, err)
	}
	defer treeFile.Close()

	graph, err := cart.ReadWagon(treeFile, def, leafType)
	if err != nil {
		return fmt.Errorf(errFailedToLoad, options.in, err)
	}

	write := cart.WriteCART
	if options.graph {
		write = cart.WriteDirectedGraph
	}

	data, err := write(graph)
	if err != nil {
		return err
	}

	err = os.WriteFile(options.out, data, filePermission)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", options.out, err)
	}

	log.Info(logConverted, options.in, options.out, graph.NumDecisionNodes(), graph.NumLeaves())

	return nil
}

func readFeatureDefinition(path string, withWeights bool) (*features.Definition, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf(errFailedToOpen, path, err)
	}
	defer file.Close()

	def, err := features.ParseText(file, withWeights)
	if err != nil {
		return nil, fmt.Errorf(errFailedToLoad, path, err)
	}

	return def, nil
}

func printFeatures(log *logger.Logger, stdout io.Writer, path string, withWeights bool) error {
	graph, err := loadGraph(path)
	if err != nil {
		return err
	}

	err = graph.Features().WriteText(stdout, withWeights)
	if err != nil {
		return err
	}

	log.Info(logPrintedFeatures, path)

	return nil
}

type synthesizeOptions struct {
	in        string
	out       string
	bitDepth  int
	normalize bool
}

// synthesize renders the harmonic part of a signal document to a WAV file.
func synthesize(log *logger.Logger, options synthesizeOptions) error {
	for name, value := range map[string]string{flagIn: options.in, flagOut: options.out} {
		err := requireFlag(name, value)
		if err != nil {
			return err
		}
	}

	document, err := os.ReadFile(options.in)
	if err != nil {
		return fmt.Errorf(errFailedToOpen, options.in, err)
	}

	signal, err := hnm.DecodeSignal(document)
	if err != nil {
		return fmt.Errorf(errFailedToLoad, options.in, err)
	}

	samples, err := hnm.SynthesizeHarmonicPart(signal, hnm.Prosody{})
	if err != nil {
		return err
	}

	quality := audio.NewDefaultQuality(signal.SamplingRateHz)
	quality.BitDepth = options.bitDepth
	quality.Normalize = options.normalize

	wav, err := audio.EncodeWAV(samples, quality)
	if err != nil {
		return err
	}

	err = os.WriteFile(options.out, wav, filePermission)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", options.out, err)
	}

	log.Info(logSynthesized, options.in, options.out, len(samples), signal.SamplingRateHz)

	return nil
}
